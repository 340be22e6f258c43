// Package broadcast holds the connection registry used by a match actor.
//
// A Registry is owned by exactly one actor goroutine and carries no locks.
// Each registered connection gets its own writer goroutine with a bounded
// send buffer, so one slow viewer never stalls fan-out to the others: a full
// buffer evicts that viewer and a failed write reports it back to the owner.
package broadcast
