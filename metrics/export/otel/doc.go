// Package otel provides OpenTelemetry metric exporter bindings for goIdentity
// counters and histograms.
//
// [NewOTelExporter] registers one Int64ObservableCounter per counter family,
// observing each label value (reason, delivery, outcome, event) as its own
// attribute set, and an Int64ObservableGauge per histogram bucket. A single callback reads
// [goIdentity.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the OTel MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
