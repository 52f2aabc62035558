// Package observe provides application-wide observability primitives for
// japamala: OpenTelemetry metrics, tracing, trace-aware logging, and HTTP
// middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so that metrics can be
// scraped via the /metrics endpoint. A package-level default [Metrics]
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all japamala metrics.
const meterName = "github.com/MrWong99/japamala"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// Reminders counts fired reminder cues. Attribute "reason" is
	// "silence" or "mismatch".
	Reminders metric.Int64Counter

	// Fragments counts recognised fragments. Attribute "kind" is "final",
	// "interim" or "discarded".
	Fragments metric.Int64Counter

	// Matches counts match decisions. Attribute "result" is "match",
	// "mismatch" (flagged) or "ignored" (not worth flagging).
	Matches metric.Int64Counter

	// RecognizerRestarts counts reconnect attempts. Attribute "outcome" is
	// "ok", "error" or "gave_up".
	RecognizerRestarts metric.Int64Counter

	// ActiveSessions tracks the number of running listening sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ChantDuration records the chant time accumulated before each reminder.
	ChantDuration metric.Float64Histogram

	// MismatchCloseness records the Jaro-Winkler similarity of flagged
	// mismatches to the mantra.
	MismatchCloseness metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes "method" and "path".
	HTTPRequestDuration metric.Float64Histogram
}

// chantBuckets are histogram boundaries in seconds for chant streaks.
var chantBuckets = []float64{1, 3, 5, 10, 30, 60, 120, 300, 600, 1800}

// closenessBuckets split the [0, 1] similarity range.
var closenessBuckets = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	if met.Reminders, err = m.Int64Counter("japamala.reminders",
		metric.WithDescription("Reminder cues fired by reason."),
	); err != nil {
		return nil, err
	}
	if met.Fragments, err = m.Int64Counter("japamala.fragments",
		metric.WithDescription("Recognised speech fragments by kind."),
	); err != nil {
		return nil, err
	}
	if met.Matches, err = m.Int64Counter("japamala.matches",
		metric.WithDescription("Mantra match decisions by result."),
	); err != nil {
		return nil, err
	}
	if met.RecognizerRestarts, err = m.Int64Counter("japamala.recognizer.restarts",
		metric.WithDescription("Recogniser reconnect attempts by outcome."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("japamala.active_sessions",
		metric.WithDescription("Number of running listening sessions."),
	); err != nil {
		return nil, err
	}

	// Histograms.
	if met.ChantDuration, err = m.Float64Histogram("japamala.chant.duration",
		metric.WithDescription("Chant time accumulated before a reminder fired."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(chantBuckets...),
	); err != nil {
		return nil, err
	}
	if met.MismatchCloseness, err = m.Float64Histogram("japamala.mismatch.closeness",
		metric.WithDescription("Similarity of flagged mismatches to the mantra."),
		metric.WithExplicitBucketBoundaries(closenessBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("japamala.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordReminder increments the reminder counter and records the chant
// streak that the reminder ended.
func (m *Metrics) RecordReminder(ctx context.Context, reason string, chantSeconds int) {
	m.Reminders.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	m.ChantDuration.Record(ctx, float64(chantSeconds))
}

// RecordFragment increments the fragment counter for kind.
func (m *Metrics) RecordFragment(ctx context.Context, kind string) {
	m.Fragments.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordMatch increments the match-decision counter for result.
func (m *Metrics) RecordMatch(ctx context.Context, result string) {
	m.Matches.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordRestart increments the recogniser restart counter for outcome.
func (m *Metrics) RecordRestart(ctx context.Context, outcome string) {
	m.RecognizerRestarts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
