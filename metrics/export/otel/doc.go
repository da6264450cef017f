// Package otel publishes membership engine metrics through an OpenTelemetry
// meter.
//
// [New] creates an Int64ObservableCounter per engine counter, a bucket gauge
// with an "le" attribute for the ValidateUser latency histogram and, with
// [WithLiveGauges], gauges for users online and stored sessions. The caller
// owns the MeterProvider.
package otel
