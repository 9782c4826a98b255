package producer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"

	"tutorhub/backend/internal/telemetry/domain"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed int
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed++
	return nil
}

func TestNewKafkaProducer_Unconfigured(t *testing.T) {
	if p := NewKafkaProducer(nil, "topic", nil); p != nil {
		t.Error("expected nil producer without brokers")
	}
	if p := NewKafkaProducer([]string{"localhost:9092"}, "", nil); p != nil {
		t.Error("expected nil producer without topic")
	}
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &domain.Event{}); err != nil {
		t.Errorf("nil producer Emit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil producer Close: %v", err)
	}
}

func TestEmit_WritesJSONKeyedBySubject(t *testing.T) {
	w := &fakeWriter{}
	p := newWithWriter(w, nil)
	event := &domain.Event{ID: "e1", Type: domain.EventSessionResolved, Subject: "sub-1", Generation: 3}
	if err := p.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d, want 1", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "sub-1" {
		t.Errorf("key = %q, want sub-1", msg.Key)
	}
	var got domain.Event
	if err := json.Unmarshal(msg.Value, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != domain.EventSessionResolved || got.Generation != 3 {
		t.Errorf("decoded event = %+v", got)
	}
}

func TestEmit_NoSubjectNoKey(t *testing.T) {
	w := &fakeWriter{}
	p := newWithWriter(w, nil)
	if err := p.Emit(context.Background(), &domain.Event{Type: domain.EventSessionCleared}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if w.msgs[0].Key != nil {
		t.Errorf("key = %q, want nil", w.msgs[0].Key)
	}
}

func TestEmit_WriteError(t *testing.T) {
	wantErr := errors.New("broker down")
	p := newWithWriter(&fakeWriter{err: wantErr}, nil)
	if err := p.Emit(context.Background(), &domain.Event{Type: domain.EventStoreError}); !errors.Is(err, wantErr) {
		t.Errorf("Emit error = %v, want %v", err, wantErr)
	}
}

func TestClose_ClosesWriter(t *testing.T) {
	w := &fakeWriter{}
	p := newWithWriter(w, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if w.closed != 1 {
		t.Errorf("closed = %d, want 1", w.closed)
	}
}
