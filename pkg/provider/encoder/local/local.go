// Package local implements [encoder.Encoder] against a locally hosted
// embedding server reached over HTTP, following an Ollama-style
// request/response shape: {"model": ..., "input": [...]} -> {"embeddings": [[...]]}.
package local

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/thisismudith/litscout/internal/resilience"
	"github.com/thisismudith/litscout/pkg/provider/encoder"
)

// DefaultBaseURL is the default base URL for a locally running encoder
// server.
const DefaultBaseURL = "http://localhost:8088"

// DefaultModelLabel is LitScout's default embedding model, matching
// spec.md's EMBED_MODEL default.
const DefaultModelLabel = "bge-base-en-v1.5"

var _ encoder.Encoder = (*Encoder)(nil)

// Encoder implements encoder.Encoder against an HTTP endpoint exposing a
// single POST /embed route: {"model": ..., "input": [...]} -> {"embeddings": [[...]]}.
//
// Safe for concurrent use.
type Encoder struct {
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker

	dimensions int
	detectOnce sync.Once
	detectErr  error
}

type config struct {
	timeout    time.Duration
	dimensions int
}

// Option configures an Encoder.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout. A zero or negative value
// means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithDimensions pre-sets the embedding dimension, skipping the probe
// request that Dimensions() would otherwise issue on first call.
func WithDimensions(dims int) Option {
	return func(c *config) { c.dimensions = dims }
}

// New constructs an Encoder against baseURL for model. An empty baseURL
// defaults to [DefaultBaseURL]; an empty model defaults to
// [DefaultModelLabel].
func New(baseURL, model string, opts ...Option) *Encoder {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if model == "" {
		model = DefaultModelLabel
	}
	baseURL = strings.TrimRight(baseURL, "/")

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	return &Encoder{
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name: "local-encoder:" + model,
		}),
		dimensions: cfg.dimensions,
	}
}

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Encode implements [encoder.Encoder].
func (e *Encoder) Encode(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.callEmbed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("local encoder: encode: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("local encoder: encode: empty response")
	}
	return vecs[0], nil
}

// EncodeBatch implements [encoder.Encoder].
func (e *Encoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vecs, err := e.callEmbed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("local encoder: encode batch: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("local encoder: encode batch: expected %d vectors, got %d", len(texts), len(vecs))
	}
	return vecs, nil
}

// Dimensions implements [encoder.Encoder], auto-detecting via a probe
// request on first call if not supplied at construction.
func (e *Encoder) Dimensions() int {
	if e.dimensions != 0 {
		return e.dimensions
	}
	e.detectOnce.Do(func() {
		vecs, err := e.callEmbed(context.Background(), []string{"probe"})
		if err != nil {
			e.detectErr = err
			return
		}
		if len(vecs) > 0 {
			e.dimensions = len(vecs[0])
		}
	})
	return e.dimensions
}

// ModelLabel implements [encoder.Encoder].
func (e *Encoder) ModelLabel() string {
	return e.model
}

// callEmbed issues the POST /embed request through e.breaker: a run of
// consecutive failures (the server down mid-batch) trips the breaker so the
// rest of an embedding batch fails fast against [resilience.ErrCircuitOpen]
// instead of waiting out the HTTP timeout on every remaining item.
func (e *Encoder) callEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.breaker.Execute(func() error {
		body, err := json.Marshal(embedRequest{Model: e.model, Input: texts})
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		var result embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		if len(result.Embeddings) == 0 {
			return fmt.Errorf("empty embeddings in response")
		}
		out = result.Embeddings
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
