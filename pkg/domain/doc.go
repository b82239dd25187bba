/*
Package domain contains the core domain models of the Stratum coordinator.

It defines the session state machine, the artifacts a session produces and the error
taxonomy shared by every adapter. This package is kept pure and free of I/O or
persistence concerns, following Hexagonal Architecture principles.

# Key Entities

  - Session: One concrete, stateful execution attempt of a strategy.
  - Phase: A named step of the session state machine (see CanTransition).
  - WorkAllocation: The worker assigned to a session during LAB_ALLOCATION.
  - ExecutionResult: The immutable terminal artifact of a session.
  - ExecutionMetrics: Counters recorded once a session completes.
  - Event: A best-effort notification about a session lifecycle change.
*/
package domain
