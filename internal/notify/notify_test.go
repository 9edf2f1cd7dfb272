package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fastTiming() timingConfig {
	return timingConfig{
		timeout:           2 * time.Second,
		rateInterval:      time.Millisecond,
		rateBurst:         10,
		backoffInitial:    time.Millisecond,
		backoffMax:        5 * time.Millisecond,
		backoffMaxElapsed: 200 * time.Millisecond,
	}
}

func sampleEvent() StackEvent {
	return StackEvent{
		Stack:       "shop",
		Command:     "up",
		OK:          false,
		CompletedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Services: []ServiceOutcome{
			{Name: "db", State: "failed", Error: "image missing", Attempted: true},
			{Name: "api", State: "failed", Error: "dependency db failed", Attempted: false},
		},
	}
}

func TestWebhookPostsEventJSON(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := NewWebhook(zerolog.Nop(), srv.URL)
	n.poster.timing = fastTiming()

	if err := n.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if gotContentType != "application/json" {
		t.Fatalf("content type = %q, want application/json", gotContentType)
	}

	var decoded StackEvent
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.Stack != "shop" || decoded.Command != "up" || decoded.OK {
		t.Fatalf("unexpected event: %+v", decoded)
	}
	if len(decoded.Services) != 2 || decoded.Services[1].Attempted {
		t.Fatalf("unexpected services: %+v", decoded.Services)
	}
}

func TestPosterRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newEventPoster(zerolog.Nop(), "webhook", srv.URL, fastTiming())
	if err := p.post(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestPosterHonorsRetryAfter(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newEventPoster(zerolog.Nop(), "webhook", srv.URL, fastTiming())
	if err := p.post(context.Background(), []byte(`{}`)); err != nil {
		t.Fatalf("post: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("calls = %d, want 2", got)
	}
}

func TestPosterGivesUpOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad payload"))
	}))
	defer srv.Close()

	p := newEventPoster(zerolog.Nop(), "webhook", srv.URL, fastTiming())
	err := p.post(context.Background(), []byte(`{}`))
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "bad payload") {
		t.Fatalf("error should carry response body, got: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1 (client errors must not retry)", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	if wait, ok := parseRetryAfter("5"); !ok || wait != 5*time.Second {
		t.Fatalf("parseRetryAfter(5) = %v, %v", wait, ok)
	}
	if _, ok := parseRetryAfter(""); ok {
		t.Fatal("empty header should not parse")
	}
	if _, ok := parseRetryAfter("garbage"); ok {
		t.Fatal("garbage header should not parse")
	}
	future := time.Now().Add(3 * time.Second).UTC().Format(http.TimeFormat)
	if wait, ok := parseRetryAfter(future); !ok || wait <= 0 {
		t.Fatalf("parseRetryAfter(http date) = %v, %v", wait, ok)
	}
}

type recordingNotifier struct {
	events []StackEvent
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, event StackEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func TestMultiDeliversToAllDespiteErrors(t *testing.T) {
	first := &recordingNotifier{err: errors.New("boom")}
	second := &recordingNotifier{}
	m := NewMulti(first, nil, second)

	err := m.Notify(context.Background(), sampleEvent())
	if err == nil || err.Error() != "boom" {
		t.Fatalf("want first error surfaced, got %v", err)
	}
	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("both notifiers should receive the event: %d, %d",
			len(first.events), len(second.events))
	}
}

func TestSlackMessageBlocks(t *testing.T) {
	msg := buildMessage(sampleEvent())
	if msg.Blocks == nil {
		t.Fatal("message has no blocks")
	}
	// header + context + one section per service
	if got := len(msg.Blocks.BlockSet); got != 4 {
		t.Fatalf("block count = %d, want 4", got)
	}
}
