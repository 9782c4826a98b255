package loki

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func captureServer(t *testing.T, status int, got *PushRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/loki/api/v1/push" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %s", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestPushEventJSON_LabelsAndTimestamp(t *testing.T) {
	var got PushRequest
	srv := captureServer(t, http.StatusNoContent, &got)
	c := NewClient(srv.URL+"/", nil)

	raw := []byte(`{"eventType":"session_resolved","source":"reconciler","subject":"sub-1","createdAt":"2026-03-01T12:00:00Z"}`)
	if err := c.PushEventJSON(context.Background(), raw); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams) != 1 {
		t.Fatalf("streams = %d, want 1", len(got.Streams))
	}
	s := got.Streams[0]
	if s.Stream["job"] != jobLabel || s.Stream["event_type"] != "session_resolved" || s.Stream["source"] != "reconciler" {
		t.Errorf("labels = %v", s.Stream)
	}
	if _, ok := s.Stream["subject"]; ok {
		t.Error("subject must not be a label")
	}
	wantTS := strconv.FormatInt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixNano(), 10)
	if s.Values[0][0] != wantTS {
		t.Errorf("timestamp = %s, want %s", s.Values[0][0], wantTS)
	}
	if s.Values[0][1] != string(raw) {
		t.Errorf("line = %s", s.Values[0][1])
	}
}

func TestPushEventJSON_InvalidJSONStillPushed(t *testing.T) {
	var got PushRequest
	srv := captureServer(t, http.StatusNoContent, &got)
	if err := NewClient(srv.URL, nil).PushEventJSON(context.Background(), []byte("not json")); err != nil {
		t.Fatalf("PushEventJSON: %v", err)
	}
	if len(got.Streams[0].Stream) != 1 {
		t.Errorf("labels = %v, want job only", got.Streams[0].Stream)
	}
}

func TestPushEvent_SanitizesLabels(t *testing.T) {
	var got PushRequest
	srv := captureServer(t, http.StatusNoContent, &got)
	err := NewClient(srv.URL, nil).PushEvent(context.Background(), time.Now(), "line",
		map[string]string{"source": "web app/1", "empty": "  "})
	if err != nil {
		t.Fatalf("PushEvent: %v", err)
	}
	labels := got.Streams[0].Stream
	if labels["source"] != "web_app_1" {
		t.Errorf("source = %q", labels["source"])
	}
	if _, ok := labels["empty"]; ok {
		t.Error("blank label should be dropped")
	}
}

func TestPushEvent_Non2xx(t *testing.T) {
	var got PushRequest
	srv := captureServer(t, http.StatusBadRequest, &got)
	if err := NewClient(srv.URL, nil).PushEvent(context.Background(), time.Now(), "x", nil); err == nil {
		t.Error("expected error for 400")
	}
}

func TestPushEvent_NoBaseURL(t *testing.T) {
	if err := NewClient("", nil).PushEvent(context.Background(), time.Now(), "x", nil); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("err = %v, want ErrNoBaseURL", err)
	}
}
