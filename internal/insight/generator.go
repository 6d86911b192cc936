package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/clinsight/platform/internal/shared/config"
	"github.com/clinsight/platform/internal/shared/errors"
)

// GenerationRequest is the payload handed to the text-generation collaborator
type GenerationRequest struct {
	Query   string `json:"query"`
	Scope   string `json:"scope"`
	Context any    `json:"context,omitempty"` // snapshot, score, trend
}

// Generator produces free text for a generation request. The gateway decides
// when to call it and caches what comes back; the generator itself is
// stateless.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface
type GeneratorFunc func(ctx context.Context, req GenerationRequest) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	return f(ctx, req)
}

// HTTPGenerator calls the external text-generation service. Every call is
// rate limited and bounded by a timeout so a slow collaborator cannot stall
// anything scheduled around it.
type HTTPGenerator struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewHTTPGenerator creates a generator client for the configured service
func NewHTTPGenerator(cfg config.InsightConfig) *HTTPGenerator {
	perSecond := rate.Limit(float64(cfg.RequestsPerMin) / 60.0)
	return &HTTPGenerator{
		url:     cfg.URL,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(perSecond, cfg.RequestsPerMin),
		timeout: cfg.Timeout,
	}
}

// Generate posts the request and returns the generated text
func (g *HTTPGenerator) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", errors.Wrap(err, "failed to encode generation request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build generation request")
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("generation service returned %d: %s", resp.StatusCode, payload)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode generation response: %w", err)
	}
	return result.Text, nil
}
