package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"tutorhub/backend/internal/telemetry"
	"tutorhub/backend/internal/telemetry/domain"
)

const instrumentationName = "tutorhub.session"

// LogEmitter is the subset of otellog.Logger used by the emitter.
type LogEmitter interface {
	Emit(ctx context.Context, record otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: provider.Logger(instrumentationName)}
}

// NewEventEmitterWithLogger wraps an arbitrary log emitter. A nil logger yields a no-op emitter.
func NewEventEmitterWithLogger(logger LogEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, *domain.Event) error { return nil }

type otelEmitter struct {
	logger LogEmitter
}

// Emit converts the event to an OTel log record. Detail becomes the body; other fields become attributes.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	if !event.CreatedAt.IsZero() {
		rec.SetTimestamp(event.CreatedAt)
	} else {
		rec.SetTimestamp(time.Now().UTC())
	}
	rec.SetSeverity(severityFor(event.Type))
	if event.Detail != "" {
		rec.SetBody(otellog.StringValue(event.Detail))
	}
	rec.AddAttributes(
		otellog.String("event_type", string(event.Type)),
		otellog.Int64("generation", int64(event.Generation)),
	)
	if event.ID != "" {
		rec.AddAttributes(otellog.String("event_id", event.ID))
	}
	if event.Source != "" {
		rec.AddAttributes(otellog.String("source", event.Source))
	}
	if event.Subject != "" {
		rec.AddAttributes(otellog.String("subject", event.Subject))
	}
	if event.Email != "" {
		rec.AddAttributes(otellog.String("email", event.Email))
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severityFor(t domain.EventType) otellog.Severity {
	switch t {
	case domain.EventProviderError, domain.EventStoreError:
		return otellog.SeverityError
	case domain.EventIntegrityWarning:
		return otellog.SeverityWarn
	case domain.EventStaleResultDiscarded:
		return otellog.SeverityDebug
	default:
		return otellog.SeverityInfo
	}
}
