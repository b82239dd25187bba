// Package executor drives a session through its working phases.
//
// An Executor enters each phase with a conditional store write and then delegates the
// domain work of that phase to a collaborator (Planner, WorkAllocator, Pipeline,
// Validator). The outputs of a phase are recorded with the write that enters the next
// one. The Executor never writes a terminal phase: finalization belongs to the caller,
// which receives a Report even when the run fails.
package executor
