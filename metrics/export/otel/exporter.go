package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	goMembership "github.com/MrEthical07/goMembership"
	"github.com/MrEthical07/goMembership/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source supplies the counters an Exporter observes. *goMembership.Engine
// satisfies it.
type Source interface {
	MetricsSnapshot() goMembership.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter publishes engine metrics as OTel observable instruments. Values
// are read once per collection.
type Exporter struct {
	source Source
	live   internaldefs.LiveSource
	attrs  metric.MeasurementOption

	counters     map[goMembership.MetricID]metric.Int64ObservableCounter
	buckets      map[goMembership.MetricID]metric.Int64ObservableGauge
	gauges       []metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
	registration metric.Registration
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithAttributes attaches attributes, such as the application name, to
// every observation.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(e *Exporter) { e.attrs = metric.WithAttributes(attrs...) }
}

// WithLiveGauges also observes users online and stored sessions, querying
// the backends on each collection.
func WithLiveGauges(live internaldefs.LiveSource) Option {
	return func(e *Exporter) { e.live = live }
}

// New creates the instruments on meter and registers one callback that
// reads source. Close unregisters it.
func New(meter metric.Meter, source Source, opts ...Option) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{
		source:   source,
		attrs:    metric.WithAttributes(),
		counters: make(map[goMembership.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs)),
		buckets:  make(map[goMembership.MetricID]metric.Int64ObservableGauge, len(internaldefs.HistogramDefs)),
	}
	for _, opt := range opts {
		opt(e)
	}

	var observables []metric.Observable
	for _, def := range internaldefs.CounterDefs {
		c, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.Name, err)
		}
		e.counters[def.ID] = c
		observables = append(observables, c)
	}

	for _, def := range internaldefs.HistogramDefs {
		name := def.Name + "_bucket"
		g, err := meter.Int64ObservableGauge(name, metric.WithDescription(def.Help+" Cumulative count per le bound."))
		if err != nil {
			return nil, fmt.Errorf("create gauge %s: %w", name, err)
		}
		e.buckets[def.ID] = g
		observables = append(observables, g)
	}

	dropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName, metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", internaldefs.AuditDroppedName, err)
	}
	e.auditDropped = dropped
	observables = append(observables, dropped)

	if e.live != nil {
		for _, def := range internaldefs.GaugeDefs {
			g, err := meter.Int64ObservableGauge(def.Name, metric.WithDescription(def.Help))
			if err != nil {
				return nil, fmt.Errorf("create gauge %s: %w", def.Name, err)
			}
			e.gauges = append(e.gauges, g)
			observables = append(observables, g)
		}
	}

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(ctx context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for id, c := range e.counters {
		o.ObserveInt64(c, int64(snapshot.Counters[id]), e.attrs)
	}

	for id, g := range e.buckets {
		buckets := internaldefs.Cumulative(snapshot.Histograms[id])
		for i, le := range internaldefs.HistogramBounds {
			o.ObserveInt64(g, int64(buckets[i]), e.attrs, metric.WithAttributes(attribute.String("le", le)))
		}
	}

	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()), e.attrs)

	for i, def := range internaldefs.GaugeDefs {
		if i >= len(e.gauges) {
			break
		}
		if n, err := def.Read(e.live, ctx); err == nil {
			o.ObserveInt64(e.gauges[i], int64(n), e.attrs)
		}
	}
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
