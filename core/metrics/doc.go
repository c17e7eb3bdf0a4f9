// Package metrics defines the reporting contract of the microgrid core. A Sink
// always records solve outcomes; optional recorder interfaces (rejections,
// actuations, state transitions, cycle failures, health) are discovered by
// type assertion so a sink only implements what its backend stores. Sinks are
// built from configuration through the factory registry and combined with
// NewMultiSink when several are configured.
package metrics
