// Package openalex is an HTTP client for the OpenAlex scholarly catalog
// (https://api.openalex.org), the default upstream provider for LitScout's
// ingestion pipeline.
//
// [Client.IterWorks] yields normalized works for a concept via cursor
// pagination; [Client.SearchConcepts] and [Client.FetchSource] round out the
// surface ingestion needs. All requests retry on 429 (honoring Retry-After)
// and 5xx with exponential backoff; any other non-2xx status is returned to
// the caller immediately.
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/thisismudith/litscout/internal/resilience"
)

// DefaultBaseURL is OpenAlex's production API root.
const DefaultBaseURL = "https://api.openalex.org"

const userAgent = "LitScout/1.0 (+https://github.com/thisismudith/litscout)"

const (
	maxRetries      = 5
	retryBackoffMul = 1.5
	retryBaseDelay  = time.Second
	requestTimeout  = 30 * time.Second
)

// Client talks to an OpenAlex-compatible API.
//
// Safe for concurrent use — it holds no mutable state beyond the
// underlying *http.Client.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New constructs a Client against baseURL. An empty baseURL defaults to
// [DefaultBaseURL].
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// get issues a retrying GET against path with the given query parameters and
// decodes the JSON response body into out.
//
// Retries on 429 (honoring Retry-After, falling back to the computed backoff
// when absent or unparseable) and 5xx. Any other non-2xx status fails
// immediately without retrying.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	return resilience.Retry(ctx, maxRetries, retryBaseDelay, retryBackoffMul, func(ctx context.Context, attempt int) resilience.RetryOutcome {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return resilience.RetryOutcome{Done: true, Err: fmt.Errorf("openalex: build request: %w", err)}
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return resilience.RetryOutcome{Err: fmt.Errorf("openalex: request %s: %w", reqURL, err)}
		}
		defer resp.Body.Close()

		body, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return resilience.RetryOutcome{Err: fmt.Errorf("openalex: read response body: %w", readErr)}
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return resilience.RetryOutcome{
				RetryAfter: retryAfterDelay(resp.Header.Get("Retry-After")),
				Err:        fmt.Errorf("openalex: 429 too many requests from %s", reqURL),
			}
		case resp.StatusCode >= 500 && resp.StatusCode < 600:
			return resilience.RetryOutcome{
				Err: fmt.Errorf("openalex: server error %d from %s", resp.StatusCode, reqURL),
			}
		case resp.StatusCode >= 400:
			return resilience.RetryOutcome{
				Done: true,
				Err:  fmt.Errorf("openalex: request %s failed with status %d: %s", reqURL, resp.StatusCode, string(body)),
			}
		}

		if err := json.Unmarshal(body, out); err != nil {
			return resilience.RetryOutcome{Done: true, Err: fmt.Errorf("openalex: decode response from %s: %w", reqURL, err)}
		}
		return resilience.RetryOutcome{Done: true}
	})
}

// retryAfterDelay parses an HTTP Retry-After header value (seconds only, as
// OpenAlex emits). An empty or unparseable value returns 0, signaling the
// caller should fall back to its own computed backoff.
func retryAfterDelay(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(header, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
