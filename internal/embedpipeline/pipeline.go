// Package embedpipeline materializes dense vectors for papers and concepts:
// selecting entities with no embedding row yet for a given model label,
// batching them through a text encoder, and upserting the results.
package embedpipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/thisismudith/litscout/internal/observe"
	"github.com/thisismudith/litscout/pkg/provider/encoder"
	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/types"
)

// DefaultBatchSize is how many entities are sent to the encoder in a single
// call when the caller doesn't specify one.
const DefaultBatchSize = 64

const retryAttempts = 3

// retryBase is the linear-backoff unit (wait = retryBase × attempt) between
// encode-batch retries. A var, not a const, so tests can shrink it instead
// of actually sleeping several seconds per failed-batch case.
var retryBase = 2 * time.Second

// Options configures [EmbedMissing].
type Options struct {
	Metrics *observe.Metrics
	Logger  *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return slog.Default()
}

// Result summarizes one EmbedMissing run.
type Result struct {
	EmbeddedCount int
	FailedBatches int
}

// EmbedMissing selects up to limit entities of kind with no embedding row
// under enc's model label, encodes them in batches of batchSize, and writes
// the results. A batch that fails every retry is logged and skipped — it
// never stops the run.
func EmbedMissing(ctx context.Context, st store.Store, enc encoder.Encoder, kind types.EmbeddingKind, batchSize, limit int, opts Options) (Result, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	logger := opts.logger()

	entities, err := st.FilterUnembedded(ctx, kind, enc.ModelLabel(), limit)
	if err != nil {
		return Result{}, fmt.Errorf("embedpipeline: select unembedded %s entities: %w", kind, err)
	}
	if opts.Metrics != nil {
		opts.Metrics.PendingEmbeddings.Add(ctx, int64(len(entities)))
		defer opts.Metrics.PendingEmbeddings.Add(ctx, -int64(len(entities)))
	}

	var res Result
	for start := 0; start < len(entities); start += batchSize {
		end := start + batchSize
		if end > len(entities) {
			end = len(entities)
		}
		batch := entities[start:end]

		n, err := embedBatch(ctx, st, enc, kind, batch, opts)
		if err != nil {
			res.FailedBatches++
			logger.Error("embedpipeline: batch failed permanently, skipping", "kind", kind, "batch_start", start, "batch_size", len(batch), "err", err)
			continue
		}
		res.EmbeddedCount += n
	}

	return res, nil
}

// embedBatch builds text for each entity in batch, skips any with no
// buildable text, encodes the rest with retry, normalizes the resulting
// vectors to unit L2 norm, and writes them in one commit.
func embedBatch(ctx context.Context, st store.Store, enc encoder.Encoder, kind types.EmbeddingKind, batch []store.UnembeddedEntity, opts Options) (int, error) {
	texts := make([]string, 0, len(batch))
	ids := make([]string, 0, len(batch))
	for _, e := range batch {
		var text string
		if kind == types.KindConcept {
			text = BuildConceptText(e.Title, e.Abstract)
		} else {
			text = BuildPaperText(e.Title, e.Abstract, e.Conclusion)
		}
		if text == "" {
			continue
		}
		texts = append(texts, text)
		ids = append(ids, e.ID)
	}
	if len(texts) == 0 {
		return 0, nil
	}

	start := time.Now()
	vectors, err := encodeBatchWithRetry(ctx, enc, texts)
	if opts.Metrics != nil {
		opts.Metrics.EmbeddingBatchDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return 0, err
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("encoder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	rows := make([]types.Embedding, len(vectors))
	for i, v := range vectors {
		rows[i] = types.Embedding{
			EntityID:   ids[i],
			ModelLabel: enc.ModelLabel(),
			Vector:     normalizeL2(v),
			CreatedAt:  store.Now(),
		}
	}

	if err := st.InsertEmbeddings(ctx, kind, enc.ModelLabel(), rows); err != nil {
		return 0, fmt.Errorf("insert embeddings: %w", err)
	}
	if opts.Metrics != nil {
		opts.Metrics.RecordEmbeddingsComputed(ctx, string(kind), int64(len(rows)))
	}
	return len(rows), nil
}

// encodeBatchWithRetry calls enc.EncodeBatch, retrying up to retryAttempts
// times on error with linear backoff (retryBase × attempt).
//
// internal/resilience.Retry isn't used here: its schedule multiplies the
// delay by a constant factor each attempt (exponential), while this batch's
// retry policy is linear — the delay itself scales with the attempt number.
func encodeBatchWithRetry(ctx context.Context, enc encoder.Encoder, texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		vecs, err := enc.EncodeBatch(ctx, texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if attempt == retryAttempts {
			break
		}
		wait := retryBase * time.Duration(attempt)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil, fmt.Errorf("encode batch: %w", lastErr)
}

// normalizeL2 rescales v to unit L2 norm. Encoders are expected to already
// produce normalized vectors; this is a defensive pass so a non-normalizing
// encoder implementation can't silently violate the storage invariant that
// every embedding has unit norm.
func normalizeL2(v []float32) []float32 {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// BuildPaperText joins a paper's title, abstract, and conclusion (prefixed
// "Conclusion: ") with blank lines, skipping any empty part. Returns "" if
// every part is empty.
func BuildPaperText(title, abstract, conclusion string) string {
	var parts []string
	if t := strings.TrimSpace(title); t != "" {
		parts = append(parts, t)
	}
	if a := strings.TrimSpace(abstract); a != "" {
		parts = append(parts, a)
	}
	if c := strings.TrimSpace(conclusion); c != "" {
		parts = append(parts, "Conclusion: "+c)
	}
	return strings.Join(parts, "\n\n")
}

// BuildConceptText joins a concept's name and description with a blank
// line, skipping any empty part.
func BuildConceptText(name, description string) string {
	var parts []string
	if n := strings.TrimSpace(name); n != "" {
		parts = append(parts, n)
	}
	if d := strings.TrimSpace(description); d != "" {
		parts = append(parts, d)
	}
	return strings.Join(parts, "\n\n")
}
