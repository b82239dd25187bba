// Package orchestrator is the entry point of a strategy invocation.
//
// Execute takes the strategy lock, creates the session, lets the executor drive it and
// writes the terminal phase together with the result and metrics. The lock is released on
// every path, including panics in domain collaborators.
package orchestrator
