// Package progress provides the extraction event contract, the non-blocking
// hub that batches events on a background goroutine, and the stream
// subscription used by interactive consumers. Sinks such as Prometheus, the
// run-history store, or Pub/Sub are registered on the hub; the orchestrator
// only ever sees an Emitter and behaves the same with no consumers attached.
package progress
