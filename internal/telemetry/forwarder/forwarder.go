// Package forwarder moves session events from the Kafka topic to Loki.
package forwarder

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultPushTimeout = 10 * time.Second
	readRetryDelay     = time.Second
)

// MessageReader is the consumer side of kafka.Reader.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Pusher sends one JSON-encoded event to Loki.
type Pusher interface {
	PushEventJSON(ctx context.Context, raw []byte) error
}

// Options configures a Forwarder. Zero values select defaults.
type Options struct {
	Logger  *zap.Logger
	Metrics *Metrics
	// Rate caps pushes per second; 0 means unlimited.
	Rate        float64
	Burst       int
	PushTimeout time.Duration
}

// Forwarder reads events until its context is cancelled. A failed push is logged and skipped.
type Forwarder struct {
	reader      MessageReader
	pusher      Pusher
	limiter     *rate.Limiter
	metrics     *Metrics
	logger      *zap.Logger
	pushTimeout time.Duration
}

// New returns a Forwarder reading from reader and pushing to pusher.
func New(reader MessageReader, pusher Pusher, opts Options) *Forwarder {
	f := &Forwarder{
		reader:      reader,
		pusher:      pusher,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		pushTimeout: opts.PushTimeout,
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if f.pushTimeout <= 0 {
		f.pushTimeout = defaultPushTimeout
	}
	if opts.Rate > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(opts.Rate), burst)
	}
	return f
}

// Run forwards messages until ctx is done. It returns nil on cancellation.
func (f *Forwarder) Run(ctx context.Context) error {
	for {
		msg, err := f.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			f.metrics.readError()
			f.logger.Warn("kafka read failed", zap.Error(err))
			if !sleep(ctx, readRetryDelay) {
				return nil
			}
			continue
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil
			}
		}
		f.push(ctx, msg)
	}
}

func (f *Forwarder) push(ctx context.Context, msg kafka.Message) {
	pushCtx, cancel := context.WithTimeout(ctx, f.pushTimeout)
	defer cancel()
	start := time.Now()
	err := f.pusher.PushEventJSON(pushCtx, msg.Value)
	f.metrics.pushed(time.Since(start), err)
	if err != nil {
		f.logger.Warn("loki push failed",
			zap.Int64("offset", msg.Offset),
			zap.String("key", string(msg.Key)),
			zap.Error(err),
		)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
