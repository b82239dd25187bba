/*
Package observability exposes coordinator activity as Prometheus metrics.

Metrics is an event publisher: plug it into the orchestrator, migrator and cleaner next to
the other publishers and serve Handler on /metrics.
*/
package observability
