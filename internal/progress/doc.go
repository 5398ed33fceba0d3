// Package progress carries the crawl event stream: one event per fetch
// attempt, retry, skip, save and failure plus run start/finish markers. The
// Hub batches events on a background goroutine and fans them out to sinks
// (structured logs, Prometheus, the Postgres run ledger).
package progress
