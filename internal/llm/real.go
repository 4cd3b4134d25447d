package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/CLIAIMONITOR/internal/errs"
	"github.com/CLIAIMONITOR/internal/logging"
	"github.com/CLIAIMONITOR/internal/mcp"
)

const (
	maxAttempts        = 3
	initialBackoff     = 500 * time.Millisecond
	backoffJitterRatio = 0.20
)

// RealConfig configures a RealClient.
type RealConfig struct {
	Endpoint       string
	APIKey         string
	Model          string
	Provider       string        // limiter key, e.g. "openai", "anthropic"
	RequestsPerSec float64       // 0 disables outbound pacing
	HTTPTimeout    time.Duration // per-attempt timeout; 0 uses a 60s default
}

// RealClient calls an external completions endpoint over HTTP, retrying
// transport failures with exponential backoff and enforcing a configurable
// max in-flight concurrency via the shared mcp.InFlightLimiter (spec §4.4,
// §5).
type RealClient struct {
	cfg     RealConfig
	http    *http.Client
	limiter *mcp.InFlightLimiter
	pacer   *rate.Limiter
	log     *logging.Logger
}

// NewReal returns a RealClient bounded by limiter (shared across every
// real-provider client in the process, so the cap is global per spec §5).
func NewReal(cfg RealConfig, limiter *mcp.InFlightLimiter) *RealClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	var pacer *rate.Limiter
	if cfg.RequestsPerSec > 0 {
		pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), 1)
	}
	return &RealClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
		pacer:   pacer,
		log:     logging.New("llm.real"),
	}
}

type completionRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type completionResponse struct {
	Text string `json:"text"`
}

// Complete posts prompt to the configured endpoint, retrying on transport
// failure up to maxAttempts times with exponential backoff and jitter. It
// returns an UpstreamUnavailable error preserving the provider's own error
// text if every attempt fails.
func (c *RealClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Acquire(ctx, c.cfg.Provider); err != nil {
		return "", err
	}
	defer c.limiter.Release(c.cfg.Provider)

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt); err != nil {
				return "", err
			}
		}
		if c.pacer != nil {
			if err := c.pacer.Wait(ctx); err != nil {
				return "", err
			}
		}

		text, err := c.attempt(ctx, prompt)
		if err == nil {
			return text, nil
		}
		lastErr = err
		c.log.Warn("completion attempt %d/%d failed: %v", attempt+1, maxAttempts, err)
	}
	return "", errs.UpstreamUnavailableError(lastErr)
}

func (c *RealClient) attempt(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(completionRequest{Model: c.cfg.Model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("transport: %w", err)
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("provider returned %d: %s", resp.StatusCode, string(buf))
	}

	var out completionResponse
	if err := json.Unmarshal(buf, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return out.Text, nil
}

// wait sleeps for the exponential backoff duration of the given attempt
// index (1-based retry count), with +-20% jitter, or returns early if ctx
// is cancelled first.
func (c *RealClient) wait(ctx context.Context, attempt int) error {
	base := initialBackoff * time.Duration(1<<uint(attempt-1))
	jitter := float64(base) * backoffJitterRatio * (2*rand.Float64() - 1)
	d := base + time.Duration(jitter)
	if d < 0 {
		d = 0
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
