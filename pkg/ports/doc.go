/*
Package ports defines the driven ports (interfaces) of the Stratum coordinator.

These interfaces decouple the coordination core from external implementations, allowing
the orchestrator to work with various shared stores, lock services and domain pipelines.

# Key Interfaces

  - Locker: Non-blocking, owner-tagged, TTL-bound mutual exclusion across nodes.
  - SessionStore: Durable session state with atomic create/update/finalize primitives.
  - Planner, WorkAllocator, Pipeline, Validator: Domain work delegated by the executor.
  - Auditor: Audit trail around every strategy invocation.
  - EventPublisher: Best-effort lifecycle notifications.
*/
package ports
