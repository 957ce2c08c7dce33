// Package metrics aggregates proxy outcomes.
//
// Outcomes are handed to the Collector with a non-blocking send on a
// buffered channel and processed by a single goroutine, so the request path
// never waits on aggregation. A full buffer drops the outcome and counts the
// drop. The collector keeps two views:
//   - an in-process per-rule summary (request and error counts, status code
//     and error kind distribution, P50/P95/P99 latency) served as JSON
//   - Prometheus counters and a latency histogram on a private registry
//
// Example usage:
//
//	reg := metrics.NewRegistry()
//	collector := metrics.NewCollector(1000, reg, logger)
//	go collector.Run(ctx)
//
//	collector.Record(outcome.Outcome{RuleID: "users", Status: 200, Duration: d})
//
//	snapshot := collector.Snapshot()
package metrics
