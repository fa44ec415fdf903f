package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/thisismudith/litscout/pkg/types"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LITSCOUT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LITSCOUT_TEST_POSTGRES_DSN not set, skipping postgres integration test")
	}
	ctx := context.Background()
	st, err := NewStore(ctx, dsn, 8)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(st.Close)
	return st
}

func TestIngestionTxUpsertPaper(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	tx, err := st.BeginIngestion(ctx)
	if err != nil {
		t.Fatalf("BeginIngestion: %v", err)
	}
	defer tx.Rollback(ctx)

	venueID, err := tx.UpsertVenue(ctx, types.Venue{ID: "v1", Name: "Journal of Testing"})
	if err != nil {
		t.Fatalf("UpsertVenue: %v", err)
	}
	instanceID, err := tx.UpsertVenueInstance(ctx, venueID, 2024)
	if err != nil {
		t.Fatalf("UpsertVenueInstance: %v", err)
	}

	paper := types.Paper{
		ID:          "p1",
		DOI:         "10.1/test",
		Title:       "A Paper About Testing",
		Abstract:    "We test things.",
		Year:        2024,
		Concepts:    map[string]types.ConceptScore{"c1": {Name: "testing", Level: 1, Score: 0.9}},
		ExternalIDs: types.ExternalIDs{"openalex": "W1"},
	}
	id, err := tx.UpsertPaper(ctx, paper, venueID, instanceID)
	if err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}
	if id != "p1" {
		t.Errorf("UpsertPaper id = %q, want p1", id)
	}

	if err := tx.MarkConceptIngested(ctx, "c1", 1); err != nil {
		t.Fatalf("MarkConceptIngested: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := st.GetPapers(ctx, []string{"p1"})
	if err != nil {
		t.Fatalf("GetPapers: %v", err)
	}
	if got["p1"].Title != paper.Title {
		t.Errorf("GetPapers title = %q, want %q", got["p1"].Title, paper.Title)
	}
}

func TestFilterUnembeddedAndInsertEmbeddings(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	tx, err := st.BeginIngestion(ctx)
	if err != nil {
		t.Fatalf("BeginIngestion: %v", err)
	}
	if _, err := tx.UpsertPaper(ctx, types.Paper{ID: "p-embed", Title: "Embed Me"}, "", ""); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	unembedded, err := st.FilterUnembedded(ctx, types.KindPaper, "test-model", 0)
	if err != nil {
		t.Fatalf("FilterUnembedded: %v", err)
	}
	found := false
	for _, e := range unembedded {
		if e.ID == "p-embed" {
			found = true
		}
	}
	if !found {
		t.Fatalf("FilterUnembedded did not return p-embed")
	}

	vec := make([]float32, 8)
	for i := range vec {
		vec[i] = float32(i) / 8
	}
	err = st.InsertEmbeddings(ctx, types.KindPaper, "test-model", []types.Embedding{{EntityID: "p-embed", Vector: vec}})
	if err != nil {
		t.Fatalf("InsertEmbeddings: %v", err)
	}

	afterInsert, err := st.FilterUnembedded(ctx, types.KindPaper, "test-model", 0)
	if err != nil {
		t.Fatalf("FilterUnembedded (after insert): %v", err)
	}
	for _, e := range afterInsert {
		if e.ID == "p-embed" {
			t.Errorf("p-embed still unembedded after InsertEmbeddings")
		}
	}

	hits, err := st.AnnSearch(ctx, types.KindPaper, vec, "test-model", 5, 0, 0, nil)
	if err != nil {
		t.Fatalf("AnnSearch: %v", err)
	}
	if len(hits) == 0 {
		t.Fatal("AnnSearch returned no hits")
	}
}

func TestPapersByConcepts(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	tx, err := st.BeginIngestion(ctx)
	if err != nil {
		t.Fatalf("BeginIngestion: %v", err)
	}
	if err := tx.UpsertConcept(ctx, types.Concept{ID: "c-match", Name: "matching"}); err != nil {
		t.Fatalf("UpsertConcept: %v", err)
	}
	paper := types.Paper{
		ID:       "p-concept",
		Title:    "Concept Paper",
		Concepts: map[string]types.ConceptScore{"c-match": {Name: "matching", Score: 0.5}},
	}
	if _, err := tx.UpsertPaper(ctx, paper, "", ""); err != nil {
		t.Fatalf("UpsertPaper: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	matches, err := st.PapersByConcepts(ctx, []string{"c-match"}, 10)
	if err != nil {
		t.Fatalf("PapersByConcepts: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("PapersByConcepts returned no matches")
	}
}
