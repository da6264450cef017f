// Package prometheus serves membership engine metrics in the Prometheus text
// exposition format.
//
//	exp := prometheus.New(engine,
//		prometheus.WithLabels(map[string]string{"application": "shop"}),
//		prometheus.WithLiveGauges(engine))
//	mux.Handle("/metrics", exp)
//
// Counters are named gomembership_*_total and the ValidateUser latency
// histogram is gomembership_validate_latency_seconds. Nothing is registered
// globally.
package prometheus
