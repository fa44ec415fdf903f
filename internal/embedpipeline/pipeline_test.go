package embedpipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	encodermock "github.com/thisismudith/litscout/pkg/provider/encoder/mock"
	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/store/mock"
	"github.com/thisismudith/litscout/pkg/types"
)

func TestBuildPaperText_JoinsNonEmptyParts(t *testing.T) {
	got := BuildPaperText("Title", "Abstract text", "Concludes well")
	want := "Title\n\nAbstract text\n\nConclusion: Concludes well"
	if got != want {
		t.Errorf("BuildPaperText = %q, want %q", got, want)
	}
}

func TestBuildPaperText_SkipsEmptyParts(t *testing.T) {
	got := BuildPaperText("Title", "", "")
	if got != "Title" {
		t.Errorf("BuildPaperText = %q, want %q", got, "Title")
	}
}

func TestBuildPaperText_EmptyWhenAllPartsEmpty(t *testing.T) {
	if got := BuildPaperText("", "  ", ""); got != "" {
		t.Errorf("BuildPaperText = %q, want empty", got)
	}
}

func TestBuildConceptText_JoinsNameAndDescription(t *testing.T) {
	got := BuildConceptText("Machine learning", "Study of algorithms that improve with data")
	want := "Machine learning\n\nStudy of algorithms that improve with data"
	if got != want {
		t.Errorf("BuildConceptText = %q, want %q", got, want)
	}
}

func TestEmbedMissing_EmbedsAndWritesInOneBatch(t *testing.T) {
	st := &mock.Store{
		FilterUnembeddedResult: []store.UnembeddedEntity{
			{ID: "p1", Title: "Paper One", Abstract: "Abstract one"},
			{ID: "p2", Title: "Paper Two", Abstract: "Abstract two"},
		},
	}
	enc := &encodermock.Encoder{
		ModelLabelValue: "test-model",
		EncodeBatchResult: [][]float32{
			{3, 4}, // norm 5
			{1, 0},
		},
	}

	res, err := EmbedMissing(context.Background(), st, enc, types.KindPaper, 64, 0, Options{})
	if err != nil {
		t.Fatalf("EmbedMissing: %v", err)
	}
	if res.EmbeddedCount != 2 || res.FailedBatches != 0 {
		t.Fatalf("result = %+v, want 2 embedded, 0 failed batches", res)
	}
	if got := st.CallCount("InsertEmbeddings"); got != 1 {
		t.Errorf("InsertEmbeddings called %d times, want 1 (single batch)", got)
	}
}

func TestEmbedMissing_NormalizesVectorsToUnitNorm(t *testing.T) {
	st := &mock.Store{
		FilterUnembeddedResult: []store.UnembeddedEntity{
			{ID: "p1", Title: "Paper One"},
		},
	}
	enc := &encodermock.Encoder{
		ModelLabelValue:   "test-model",
		EncodeBatchResult: [][]float32{{3, 4}},
	}

	if _, err := EmbedMissing(context.Background(), st, enc, types.KindPaper, 64, 0, Options{}); err != nil {
		t.Fatalf("EmbedMissing: %v", err)
	}

	calls := st.Calls()
	var rows []types.Embedding
	for _, c := range calls {
		if c.Method == "InsertEmbeddings" {
			rows = c.Args[2].([]types.Embedding)
		}
	}
	if len(rows) != 1 {
		t.Fatalf("got %d embedding rows, want 1", len(rows))
	}
	var sumSq float64
	for _, x := range rows[0].Vector {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("vector norm = %v, want ~1", norm)
	}
}

func TestEmbedMissing_SkipsEntitiesWithNoBuildableText(t *testing.T) {
	st := &mock.Store{
		FilterUnembeddedResult: []store.UnembeddedEntity{
			{ID: "p1", Title: "", Abstract: ""},
			{ID: "p2", Title: "Has Title"},
		},
	}
	enc := &encodermock.Encoder{
		ModelLabelValue:   "test-model",
		EncodeBatchResult: [][]float32{{1, 0}},
	}

	res, err := EmbedMissing(context.Background(), st, enc, types.KindPaper, 64, 0, Options{})
	if err != nil {
		t.Fatalf("EmbedMissing: %v", err)
	}
	if res.EmbeddedCount != 1 {
		t.Errorf("embedded count = %d, want 1 (empty-text entity skipped)", res.EmbeddedCount)
	}
	if len(enc.EncodeBatchCalls) != 1 || len(enc.EncodeBatchCalls[0].Texts) != 1 {
		t.Errorf("encoder called with %v, want exactly one text", enc.EncodeBatchCalls)
	}
}

func TestEmbedMissing_BatchesBySize(t *testing.T) {
	st := &mock.Store{
		FilterUnembeddedResult: []store.UnembeddedEntity{
			{ID: "p1", Title: "One"},
			{ID: "p2", Title: "Two"},
			{ID: "p3", Title: "Three"},
		},
	}
	enc := &encodermock.Encoder{
		ModelLabelValue:   "test-model",
		EncodeBatchResult: nil, // one EncodeResult copy per input text
		EncodeResult:      []float32{1, 0},
	}

	res, err := EmbedMissing(context.Background(), st, enc, types.KindPaper, 2, 0, Options{})
	if err != nil {
		t.Fatalf("EmbedMissing: %v", err)
	}
	if res.EmbeddedCount != 3 {
		t.Errorf("embedded count = %d, want 3", res.EmbeddedCount)
	}
	if got := st.CallCount("InsertEmbeddings"); got != 2 {
		t.Errorf("InsertEmbeddings called %d times, want 2 (batch sizes 2, 1)", got)
	}
}

func TestEmbedMissing_PermanentBatchFailureIsSkippedNotFatal(t *testing.T) {
	original := retryBase
	retryBase = time.Millisecond
	t.Cleanup(func() { retryBase = original })

	st := &mock.Store{
		FilterUnembeddedResult: []store.UnembeddedEntity{
			{ID: "p1", Title: "One"},
		},
	}
	enc := &encodermock.Encoder{
		ModelLabelValue: "test-model",
		EncodeBatchErr:  errors.New("encoder unavailable"),
	}

	res, err := EmbedMissing(context.Background(), st, enc, types.KindPaper, 64, 0, Options{})
	if err != nil {
		t.Fatalf("EmbedMissing returned an error, want nil (batch failures are non-fatal): %v", err)
	}
	if res.FailedBatches != 1 || res.EmbeddedCount != 0 {
		t.Errorf("result = %+v, want 1 failed batch, 0 embedded", res)
	}
	if len(enc.EncodeBatchCalls) != retryAttempts {
		t.Errorf("encoder called %d times, want %d (retries exhausted)", len(enc.EncodeBatchCalls), retryAttempts)
	}
}
