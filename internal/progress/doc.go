// Package progress carries crawl run telemetry from the controllers to the
// configured sinks. Controllers emit events without blocking; the Hub batches
// them on a background goroutine and hands each batch to every sink.
package progress
