// Package sinks implements concrete progress consumers: structured logging,
// Prometheus metrics, run history persisted through a store.RunRepository,
// and Pub/Sub run notifications. Each sink satisfies progress.Sink and is
// safe for repeated Consume/Close cycles.
package sinks
