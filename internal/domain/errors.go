package domain

import "errors"

var (
	ErrMatchNotFound  = errors.New("match not found")
	ErrPlayerNotFound = errors.New("player not found")
	ErrActorStopped   = errors.New("match actor stopped")
	ErrTooManyClients = errors.New("too many clients for match")
)
