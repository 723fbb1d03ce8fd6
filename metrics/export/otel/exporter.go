package otel

import (
	"context"
	"errors"
	"fmt"

	goAuthSync "github.com/MrEthical07/goAuthSync"
	"github.com/MrEthical07/goAuthSync/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() goAuthSync.MetricsSnapshot
	AuditDropped() uint64
}

// bucketSeries is one "le" series of a histogram gauge.
type bucketSeries struct {
	opts []metric.ObserveOption
}

// OTelExporter publishes client metrics as observable instruments on a
// caller-supplied meter. Every series carries the exporter's base attributes;
// histogram buckets additionally carry "le".
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	base         metric.MeasurementOption
}

// Option customizes an exporter.
type Option func(*exporterOptions)

type exporterOptions struct {
	attrs []attribute.KeyValue
}

// WithAttributes adds attributes to every observed series.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(o *exporterOptions) {
		o.attrs = append(o.attrs, attrs...)
	}
}

// NewOTelExporter observes client. Its storage key and instance id are added as
// attributes so several clients can share one meter.
func NewOTelExporter(meter metric.Meter, client *goAuthSync.Client, opts ...Option) (*OTelExporter, error) {
	if client == nil {
		return nil, ErrNilSource
	}
	opts = append([]Option{WithAttributes(
		attribute.String("storage_key", client.StorageKey()),
		attribute.Int64("client_instance", int64(client.Instance())),
	)}, opts...)
	return NewOTelExporterFromSource(meter, client, opts...)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource, opts ...Option) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	var o exporterOptions
	for _, opt := range opts {
		opt(&o)
	}
	e := &OTelExporter{
		source: source,
		base:   metric.WithAttributeSet(attribute.NewSet(o.attrs...)),
	}

	counters := make(map[goAuthSync.MetricID]metric.Int64ObservableCounter, len(internaldefs.CounterDefs))
	observables := make([]metric.Observable, 0, len(internaldefs.CounterDefs)+len(internaldefs.HistogramDefs)*2+1)
	for _, def := range internaldefs.CounterDefs {
		ins, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("otel: counter %s: %w", def.Name, err)
		}
		counters[def.ID] = ins
		observables = append(observables, ins)
	}

	type histogram struct {
		id      goAuthSync.MetricID
		buckets metric.Int64ObservableGauge
		count   metric.Int64ObservableCounter
		series  []bucketSeries
	}
	histograms := make([]histogram, 0, len(internaldefs.HistogramDefs))
	for _, def := range internaldefs.HistogramDefs {
		buckets, err := meter.Int64ObservableGauge(def.Name+"_bucket",
			metric.WithDescription(def.Help+" Cumulative count per upper bound."),
			metric.WithUnit("{sample}"))
		if err != nil {
			return nil, fmt.Errorf("otel: histogram %s: %w", def.Name, err)
		}
		count, err := meter.Int64ObservableCounter(def.Name+"_count", metric.WithDescription(def.Help+" Sample count."))
		if err != nil {
			return nil, fmt.Errorf("otel: histogram %s: %w", def.Name, err)
		}

		h := histogram{id: def.ID, buckets: buckets, count: count}
		for _, le := range internaldefs.HistogramBounds {
			attrs := append(append([]attribute.KeyValue{}, o.attrs...), attribute.String("le", le))
			h.series = append(h.series, bucketSeries{
				opts: []metric.ObserveOption{metric.WithAttributeSet(attribute.NewSet(attrs...))},
			})
		}
		histograms = append(histograms, h)
		observables = append(observables, buckets, count)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"goauth_audit_dropped_total",
		metric.WithDescription("Audit events dropped under dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("otel: audit dropped counter: %w", err)
	}
	observables = append(observables, auditDropped)

	reg, err := meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		snap := e.source.MetricsSnapshot()
		for id, ins := range counters {
			obs.ObserveInt64(ins, int64(snap.Counters[id]), e.base)
		}
		for _, h := range histograms {
			cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snap.Histograms[h.id]))
			for i, s := range h.series {
				obs.ObserveInt64(h.buckets, int64(cumulative[i]), s.opts...)
			}
			obs.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]), e.base)
		}
		obs.ObserveInt64(auditDropped, int64(e.source.AuditDropped()), e.base)
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("otel: register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
