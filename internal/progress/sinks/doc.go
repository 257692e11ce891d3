// Package sinks implements concrete progress consumers: Prometheus collectors,
// run history persistence, structured logging, and topic publishing. Each sink
// satisfies progress.Sink and tolerates repeated Consume/Close cycles.
package sinks
