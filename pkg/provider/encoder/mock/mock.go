// Package mock provides a test double for [encoder.Encoder].
package mock

import (
	"context"
	"sync"

	"github.com/thisismudith/litscout/pkg/provider/encoder"
)

// EncodeCall records a single invocation of Encode.
type EncodeCall struct {
	Text string
}

// EncodeBatchCall records a single invocation of EncodeBatch.
type EncodeBatchCall struct {
	Texts []string
}

// Encoder is a configurable test double for [encoder.Encoder].
type Encoder struct {
	mu sync.Mutex

	EncodeResult []float32
	EncodeErr    error

	EncodeBatchResult [][]float32
	EncodeBatchErr    error

	DimensionsValue int
	ModelLabelValue string

	EncodeCalls      []EncodeCall
	EncodeBatchCalls []EncodeBatchCall
}

var _ encoder.Encoder = (*Encoder)(nil)

// Encode records the call and returns EncodeResult, EncodeErr.
func (e *Encoder) Encode(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EncodeCalls = append(e.EncodeCalls, EncodeCall{Text: text})
	return e.EncodeResult, e.EncodeErr
}

// EncodeBatch records the call and returns EncodeBatchResult, EncodeBatchErr.
// If EncodeBatchResult is nil and there is no error, it returns one
// EncodeResult copy per input text.
func (e *Encoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	e.EncodeBatchCalls = append(e.EncodeBatchCalls, EncodeBatchCall{Texts: cp})
	if e.EncodeBatchErr != nil {
		return nil, e.EncodeBatchErr
	}
	if e.EncodeBatchResult != nil {
		return e.EncodeBatchResult, nil
	}
	result := make([][]float32, len(texts))
	for i := range result {
		result[i] = e.EncodeResult
	}
	return result, nil
}

// Dimensions returns DimensionsValue.
func (e *Encoder) Dimensions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.DimensionsValue
}

// ModelLabel returns ModelLabelValue.
func (e *Encoder) ModelLabel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ModelLabelValue
}

// Reset clears all recorded calls.
func (e *Encoder) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.EncodeCalls = nil
	e.EncodeBatchCalls = nil
}
