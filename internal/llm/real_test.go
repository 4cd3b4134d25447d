package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/mcp"
)

func TestRealClientSucceedsOnFirstAttempt(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionResponse{Text: "hello"})
	}))
	defer srv.Close()

	c := NewReal(RealConfig{Endpoint: srv.URL, Provider: "test", HTTPTimeout: time.Second}, mcp.NewInFlightLimiter(4, 64))
	out, err := c.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "hello" {
		t.Errorf("expected %q, got %q", "hello", out)
	}
}

func TestRealClientRetriesThenFailsWithUpstreamUnavailable(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("service unavailable"))
	}))
	defer srv.Close()

	c := NewReal(RealConfig{Endpoint: srv.URL, Provider: "test", HTTPTimeout: time.Second}, mcp.NewInFlightLimiter(4, 64))
	// maxAttempts failures mean two backoff waits (about 500ms, then about
	// 1s, each with jitter); the 5s context only bounds the test.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.Complete(ctx, "prompt")
	if !errs.IsKind(err, errs.UpstreamUnavailable) {
		t.Fatalf("expected UpstreamUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != maxAttempts {
		t.Errorf("expected %d attempts, got %d", maxAttempts, got)
	}
}

func TestRealClientRecoversOnSecondAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(completionResponse{Text: "recovered"})
	}))
	defer srv.Close()

	c := NewReal(RealConfig{Endpoint: srv.URL, Provider: "test", HTTPTimeout: time.Second}, mcp.NewInFlightLimiter(4, 64))
	out, err := c.Complete(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if out != "recovered" {
		t.Errorf("expected %q, got %q", "recovered", out)
	}
}
