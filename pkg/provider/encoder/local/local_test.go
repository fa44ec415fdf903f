package local

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thisismudith/litscout/internal/resilience"
)

func fakeEmbedServer(t *testing.T, dims int, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		var req embedRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		vecs := make([][]float32, len(req.Input))
		for i := range vecs {
			vecs[i] = make([]float32, dims)
			for j := range vecs[i] {
				vecs[i][j] = float32(i + j)
			}
		}
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: vecs})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEncode_ReturnsSingleVector(t *testing.T) {
	srv := fakeEmbedServer(t, 4, nil)
	enc := New(srv.URL, "test-model")

	vec, err := enc.Encode(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(vec) != 4 {
		t.Errorf("len(vec) = %d, want 4", len(vec))
	}
}

func TestEncodeBatch_ReturnsOneVectorPerText(t *testing.T) {
	srv := fakeEmbedServer(t, 3, nil)
	enc := New(srv.URL, "test-model")

	vecs, err := enc.EncodeBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EncodeBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("len(vecs) = %d, want 3", len(vecs))
	}
}

func TestEncodeBatch_EmptyInputIsNoop(t *testing.T) {
	enc := New("http://unused.invalid", "test-model")
	vecs, err := enc.EncodeBatch(context.Background(), nil)
	if err != nil || vecs != nil {
		t.Errorf("EncodeBatch(nil) = %v, %v, want nil, nil", vecs, err)
	}
}

func TestDimensions_ProbesOnceAndCaches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_ = json.NewEncoder(w).Encode(embedResponse{Embeddings: [][]float32{{1, 2, 3, 4, 5}}})
	}))
	defer srv.Close()
	enc := New(srv.URL, "test-model")

	if d := enc.Dimensions(); d != 5 {
		t.Fatalf("Dimensions() = %d, want 5", d)
	}
	if d := enc.Dimensions(); d != 5 {
		t.Fatalf("second Dimensions() = %d, want 5", d)
	}
	if calls.Load() != 1 {
		t.Errorf("probe request issued %d times, want 1", calls.Load())
	}
}

func TestDimensions_PreSetSkipsProbe(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()
	enc := New(srv.URL, "test-model", WithDimensions(768))

	if d := enc.Dimensions(); d != 768 {
		t.Fatalf("Dimensions() = %d, want 768", d)
	}
	if calls.Load() != 0 {
		t.Errorf("probe request issued %d times, want 0 (dimensions pre-set)", calls.Load())
	}
}

func TestModelLabel_ReturnsConfiguredModel(t *testing.T) {
	enc := New("http://unused.invalid", "my-model")
	if got := enc.ModelLabel(); got != "my-model" {
		t.Errorf("ModelLabel() = %q, want %q", got, "my-model")
	}
}

func TestNew_DefaultsBaseURLAndModel(t *testing.T) {
	enc := New("", "")
	if enc.baseURL != DefaultBaseURL {
		t.Errorf("baseURL = %q, want %q", enc.baseURL, DefaultBaseURL)
	}
	if enc.model != DefaultModelLabel {
		t.Errorf("model = %q, want %q", enc.model, DefaultModelLabel)
	}
}

func TestCallEmbed_TripsCircuitBreakerAfterConsecutiveFailures(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := fakeEmbedServer(t, 4, &fail)
	enc := New(srv.URL, "test-model")
	enc.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 2,
	})

	for i := 0; i < 2; i++ {
		if _, err := enc.Encode(context.Background(), "x"); err == nil {
			t.Fatalf("call %d: want error while server is failing", i)
		}
	}

	if _, err := enc.Encode(context.Background(), "x"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Encode after breaker trip: err = %v, want ErrCircuitOpen", err)
	}

	// Recovering the server doesn't help until the reset timeout elapses.
	fail.Store(false)
	if _, err := enc.Encode(context.Background(), "x"); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("Encode immediately after recovery: err = %v, want still ErrCircuitOpen", err)
	}
}

func TestCallEmbed_RecoversAfterResetTimeout(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	srv := fakeEmbedServer(t, 4, &fail)
	enc := New(srv.URL, "test-model")
	enc.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  1,
		ResetTimeout: 1 * time.Millisecond,
		HalfOpenMax:  1,
	})

	if _, err := enc.Encode(context.Background(), "x"); err == nil {
		t.Fatal("want error while server is failing")
	}

	time.Sleep(5 * time.Millisecond)
	fail.Store(false)

	if _, err := enc.Encode(context.Background(), "x"); err != nil {
		t.Fatalf("Encode after recovery + reset timeout: %v, want success", err)
	}
}
