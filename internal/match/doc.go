// Package match hosts the live state of each match.
//
// Every match id is owned by one Actor: a goroutine that processes commands
// strictly in arrival order, persists each accepted mutation to the
// MatchStore and then fans the new snapshot out to the viewers in its
// broadcast.Registry. The Manager creates actors lazily, reaps idle ones and
// optionally relays broadcasts between instances through a domain.Fanout.
package match
