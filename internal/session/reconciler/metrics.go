package reconciler

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "tutorhub/backend/internal/session/reconciler"

type metrics struct {
	transitions metric.Int64Counter
	discarded   metric.Int64Counter
	issues      metric.Int64Counter
	lookup      metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(instrumentationName)
	transitions, err := meter.Int64Counter("session.reconciler.transitions",
		metric.WithDescription("Resolutions applied to the reconciled identity, by outcome."))
	if err != nil {
		return nil, err
	}
	discarded, err := meter.Int64Counter("session.reconciler.stale_discarded",
		metric.WithDescription("Asynchronous results dropped because a newer transition superseded them."))
	if err != nil {
		return nil, err
	}
	issues, err := meter.Int64Counter("session.reconciler.issues",
		metric.WithDescription("Provider errors, store errors and integrity warnings recorded."))
	if err != nil {
		return nil, err
	}
	lookup, err := meter.Float64Histogram("session.reconciler.profile_lookup.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Profile store lookup latency."))
	if err != nil {
		return nil, err
	}
	return &metrics{transitions: transitions, discarded: discarded, issues: issues, lookup: lookup}, nil
}

func (m *metrics) transition(outcome string) {
	m.transitions.Add(context.Background(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *metrics) discard(result string) {
	m.discarded.Add(context.Background(), 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *metrics) issue(kind string) {
	m.issues.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *metrics) lookupDuration(ms float64, outcome string) {
	m.lookup.Record(context.Background(), ms, metric.WithAttributes(attribute.String("outcome", outcome)))
}
