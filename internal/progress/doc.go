// Package progress tracks crawl jobs while they run. A Tracker holds the live
// counters a client polls (total, processed, provisional and confirmed
// successes, skips, failures); a Registry keys trackers by seed so progress
// can be streamed and jobs cancelled. Every terminal per-URL outcome and job
// transition is also emitted as an Event onto a non-blocking Hub that batches
// events on a background goroutine and fans them out to pluggable sinks such
// as structured logs or Prometheus collectors.
package progress
