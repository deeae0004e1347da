// Package audit fans out and counts proxy audit events.
//
// Events are written to the store inside the transaction of the call that
// raised them, which assigns their sequence numbers. Once that transaction
// commits, the proxy publishes them to a Dispatcher, which delivers them in
// order to every Sink from a single goroutine.
//
// Sinks: LogSink writes one slog record per event; Metrics counts events and
// calls in a Prometheus registry.
package audit
