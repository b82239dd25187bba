/*
Package stratum coordinates strategy sessions across a cluster of nodes.

A strategy is a unit of domain work (for example an AI invocation) identified by a strategy ID.
Every execution of a strategy runs as a session that moves through a fixed state machine:

	INITIALIZED -> PLANNING -> LAB_ALLOCATION -> EXECUTING -> VALIDATING -> COMPLETED

with FAILED and CANCELLED reachable from every working phase. At most one session per strategy
runs at a time across the whole cluster, guarded by a TTL-bound lock.

# Concept

Stratum owns the coordination: locking, session state, phase bookkeeping, results, metrics,
ownership migration and cleanup of abandoned sessions. The host owns the work, supplied through
the ports of package ports (WorkAllocator, Pipeline and optionally Planner and Validator).
Shared state lives behind a SessionStore and a Locker, with Redis and in-memory implementations
under pkg/adapters.

# Key Features

  - Cluster-wide mutual exclusion per strategy, with owner-checked release.
  - Atomic, monotonic phase transitions enforced by the store.
  - Exactly-once finalization: result, metrics and terminal phase are written together.
  - Node draining and reclamation of sessions that stopped making progress.
  - Lifecycle events for local subscribers, Prometheus metrics and Redis pub/sub.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/stratum"
		"github.com/aretw0/stratum/pkg/adapters/memory"
		"github.com/aretw0/stratum/pkg/domain"
		"github.com/aretw0/stratum/pkg/ports"
	)

	func main() {
		allocator := ports.AllocatorFunc(func(ctx context.Context, sessionID, strategyID string, input map[string]any) (*domain.WorkAllocation, error) {
			return &domain.WorkAllocation{SessionID: sessionID, WorkerType: "cpu"}, nil
		})
		pipeline := ports.PipelineFunc(func(ctx context.Context, req ports.ExecutionRequest) (any, error) {
			return "summary of " + req.Context["doc"].(string), nil
		})

		c := stratum.New(memory.NewLocker(nil), memory.NewStore(), allocator, pipeline,
			stratum.WithNodeID("node-a"),
		)
		defer c.Close()

		result, err := c.Execute(context.Background(), "summarize", map[string]any{"doc": "report.pdf"})
		if err != nil {
			log.Fatal(err)
		}
		log.Println(result.Payload)
	}
*/
package stratum
