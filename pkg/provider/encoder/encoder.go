// Package encoder defines the text-embedding abstraction LitScout's
// embedding pipeline and search engine encode against.
//
// An Encoder wraps a service that maps text to dense float32 vectors —
// typically a locally hosted sentence-transformer model (the default is
// BAAI/bge-base-en-v1.5) fronted by a small HTTP server. Implementations
// must be safe for concurrent use.
package encoder

import "context"

// Encoder is the abstraction over any text-embedding backend used to embed
// paper and concept text for ANN search.
//
// All vectors returned by a single Encoder instance share the same
// dimensionality (Dimensions()). Vectors from different Encoder instances
// must not be compared unless the caller has verified they share a model
// and vector space — this is why every stored embedding also carries its
// producing model's label.
type Encoder interface {
	// Encode computes the embedding vector for a single text string.
	Encode(ctx context.Context, text string) ([]float32, error)

	// EncodeBatch computes embedding vectors for a slice of texts in one
	// call. The returned slice has the same length as texts, ordered
	// identically. On error the entire result is nil — no partial batches.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed vector length produced by this encoder.
	Dimensions() int

	// ModelLabel returns the identifier recorded alongside every embedding
	// this encoder produces (e.g. "bge-base-en-v1.5"), used as the storage
	// conflict key's second component.
	ModelLabel() string
}
