package gradio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSubmitReturnsEventID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/gradio_api/call/generate_seed" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var envelope struct {
			Data []any `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		if envelope.Data == nil {
			t.Error("expected data array, got null")
		}
		fmt.Fprint(w, `{"event_id":"evt-42"}`)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, newLogger())
	eventID, err := c.Submit(context.Background(), "generate_seed", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if eventID != "evt-42" {
		t.Fatalf("expected evt-42, got %q", eventID)
	}
}

func TestSubmitServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream model crashed")
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, newLogger())
	_, err := c.Submit(context.Background(), "generate_audio", []any{"hi"})
	var srvErr *ServerError
	if !errors.As(err, &srvErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if srvErr.Status != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", srvErr.Status)
	}
	if srvErr.Message != "upstream model crashed" {
		t.Fatalf("unexpected message %q", srvErr.Message)
	}
}

func TestSubmitMalformedEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"event_id":`)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, newLogger())
	_, err := c.Submit(context.Background(), "generate_seed", nil)
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
}

func TestResultPollsUntilReady(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gradio_api/call/generate_seed/evt-1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if polls.Add(1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, `{"data":1234}`)
	}))
	defer srv.Close()

	c := New(srv.URL, 5*time.Second, newLogger())
	var seed float64
	if err := c.Result(context.Background(), "generate_seed", "evt-1", &seed); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seed != 1234 {
		t.Fatalf("expected seed 1234, got %v", seed)
	}
	if polls.Load() != 3 {
		t.Fatalf("expected 3 polls, got %d", polls.Load())
	}
}

func TestResultTimesOutWhenNeverReady(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, 300*time.Millisecond, newLogger())
	var out float64
	err := c.Result(context.Background(), "generate_seed", "evt-1", &out)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestResultPropagatesCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := New(srv.URL, 10*time.Second, newLogger())
	var out float64
	err := c.Result(ctx, "generate_seed", "evt-1", &out)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestResultServerErrorIsFinal(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, "unknown event")
	}))
	defer srv.Close()

	c := New(srv.URL, 2*time.Second, newLogger())
	var out string
	err := c.Result(context.Background(), "refine_text", "evt-9", &out)
	var srvErr *ServerError
	if !errors.As(err, &srvErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if polls.Load() != 1 {
		t.Fatalf("expected a single poll, got %d", polls.Load())
	}
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"timeout", ErrTimeout, true},
		{"network", &NetworkError{Err: errors.New("refused")}, true},
		{"server 500", &ServerError{Status: 500, Message: "boom"}, true},
		{"server 503", &ServerError{Status: 503, Message: "busy"}, true},
		{"server 404", &ServerError{Status: 404, Message: "nope"}, false},
		{"server 422", &ServerError{Status: 422, Message: "bad args"}, false},
		{"parse", &ParseError{Msg: "bad json"}, false},
		{"wrapped timeout", fmt.Errorf("step failed: %w", ErrTimeout), true},
	}
	for _, tc := range cases {
		if got := Retryable(tc.err); got != tc.want {
			t.Errorf("%s: Retryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}
