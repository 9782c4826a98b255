package forwarder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// scriptedReader returns its messages in order, then blocks until ctx is done.
type scriptedReader struct {
	mu    sync.Mutex
	items []readItem
}

type readItem struct {
	msg kafka.Message
	err error
}

func (r *scriptedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.items) > 0 {
		it := r.items[0]
		r.items = r.items[1:]
		r.mu.Unlock()
		return it.msg, it.err
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

type recordingPusher struct {
	mu     sync.Mutex
	pushed []string
	failOn string
}

func (p *recordingPusher) PushEventJSON(ctx context.Context, raw []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if string(raw) == p.failOn {
		return errors.New("loki returned 500")
	}
	p.pushed = append(p.pushed, string(raw))
	return nil
}

func (p *recordingPusher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushed)
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func runUntil(t *testing.T, f *Forwarder, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- f.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for !done() {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("timed out waiting for forwarder")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-result:
		if err != nil {
			t.Fatalf("Run = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestForwarder_PushesEveryMessage(t *testing.T) {
	reg := prometheus.NewRegistry()
	reader := &scriptedReader{items: []readItem{
		{msg: kafka.Message{Key: []byte("u1"), Value: []byte(`{"eventType":"session_resolved"}`)}},
		{msg: kafka.Message{Key: []byte("u1"), Value: []byte(`{"eventType":"session_cleared"}`)}},
	}}
	pusher := &recordingPusher{}
	f := New(reader, pusher, Options{Metrics: NewMetrics(reg)})

	runUntil(t, f, func() bool { return pusher.count() == 2 })

	if pusher.pushed[0] != `{"eventType":"session_resolved"}` {
		t.Errorf("first push = %s", pusher.pushed[0])
	}
	if got := counterValue(t, reg, "tutorhub_worker_events_forwarded_total"); got != 2 {
		t.Errorf("forwarded = %v, want 2", got)
	}
}

func TestForwarder_FailedPushIsSkipped(t *testing.T) {
	reg := prometheus.NewRegistry()
	core, logs := observer.New(zap.WarnLevel)
	reader := &scriptedReader{items: []readItem{
		{msg: kafka.Message{Offset: 7, Value: []byte("bad")}},
		{msg: kafka.Message{Offset: 8, Value: []byte("good")}},
	}}
	pusher := &recordingPusher{failOn: "bad"}
	f := New(reader, pusher, Options{Metrics: NewMetrics(reg), Logger: zap.New(core)})

	runUntil(t, f, func() bool { return pusher.count() == 1 })

	if got := counterValue(t, reg, "tutorhub_worker_push_failures_total"); got != 1 {
		t.Errorf("push failures = %v, want 1", got)
	}
	entries := logs.FilterMessage("loki push failed").All()
	if len(entries) != 1 || entries[0].ContextMap()["offset"] != int64(7) {
		t.Errorf("push failure logs = %+v", entries)
	}
}

func TestForwarder_ReadErrorRetries(t *testing.T) {
	reg := prometheus.NewRegistry()
	reader := &scriptedReader{items: []readItem{
		{err: errors.New("broker not available")},
		{msg: kafka.Message{Value: []byte("after retry")}},
	}}
	pusher := &recordingPusher{}
	f := New(reader, pusher, Options{Metrics: NewMetrics(reg)})

	runUntil(t, f, func() bool { return pusher.count() == 1 })

	if got := counterValue(t, reg, "tutorhub_worker_read_errors_total"); got != 1 {
		t.Errorf("read errors = %v, want 1", got)
	}
}

func TestForwarder_NilMetricsAndRateLimit(t *testing.T) {
	items := make([]readItem, 3)
	for i := range items {
		items[i] = readItem{msg: kafka.Message{Value: []byte("e")}}
	}
	pusher := &recordingPusher{}
	f := New(&scriptedReader{items: items}, pusher, Options{Rate: 1000, Burst: 1})
	if f.limiter == nil {
		t.Fatal("expected a limiter when Rate > 0")
	}

	runUntil(t, f, func() bool { return pusher.count() == 3 })
}

func TestNew_Defaults(t *testing.T) {
	f := New(&scriptedReader{}, &recordingPusher{}, Options{})
	if f.limiter != nil {
		t.Error("limiter should be nil when Rate is 0")
	}
	if f.pushTimeout != defaultPushTimeout {
		t.Errorf("pushTimeout = %v, want %v", f.pushTimeout, defaultPushTimeout)
	}
}
