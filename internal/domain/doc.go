// Package domain defines the core domain types and interfaces.
//
// This package contains concept-oriented files (match.go, event.go, store.go, fanout.go, errors.go)
// with shared types and cross-cutting interfaces. Beyond copy and lookup helpers on the model
// types there is no implementation code, just contracts.
package domain
