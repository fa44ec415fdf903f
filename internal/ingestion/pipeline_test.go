package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thisismudith/litscout/pkg/provider/openalex"
	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/store/mock"
	"github.com/thisismudith/litscout/pkg/types"
)

// fakeWork builds one OpenAlex-shaped work payload for a fake server
// response. conceptID may be empty to omit concepts entirely.
func fakeWork(id, conceptID, sourceID string) map[string]any {
	w := map[string]any{
		"id":               "https://openalex.org/" + id,
		"title":            "Paper " + id,
		"publication_year": 2021,
		"authorships": []map[string]any{
			{"author": map[string]any{"id": "https://openalex.org/A1", "display_name": "Jane Doe"}},
		},
	}
	if conceptID != "" {
		w["concepts"] = []map[string]any{
			{"id": "https://openalex.org/" + conceptID, "display_name": "Concept " + conceptID, "level": 1, "score": 0.8},
		}
	}
	if sourceID != "" {
		w["primary_location"] = map[string]any{
			"source": map[string]any{"id": "https://openalex.org/" + sourceID, "host_organization": "https://openalex.org/P1"},
		}
	}
	return w
}

// fakeOpenAlexServer routes the handful of endpoints the ingestion package
// calls. worksByConceptID maps a bare concept id (e.g. "C1") to the works
// page served for a concepts.id filter on that id; anything unlisted 404s.
func fakeOpenAlexServer(t *testing.T, worksByConceptID map[string][]map[string]any, worksByIDs []map[string]any, sources map[string]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/sources/"):
			id := strings.TrimPrefix(r.URL.Path, "/sources/")
			src, ok := sources[id]
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			writeJSON(w, src)

		case r.URL.Path == "/works" && strings.HasPrefix(r.URL.Query().Get("filter"), "openalex:"):
			writeJSON(w, map[string]any{"results": worksByIDs})

		case r.URL.Path == "/works":
			filter := r.URL.Query().Get("filter")
			conceptID := strings.TrimPrefix(filter, "concepts.id:")
			results, ok := worksByConceptID[conceptID]
			if !ok {
				http.Error(w, "unknown concept", http.StatusNotFound)
				return
			}
			writeJSON(w, map[string]any{
				"results": results,
				"meta":    map[string]any{"next_cursor": ""},
			})

		case r.URL.Path == "/concepts":
			http.Error(w, "not configured for this test", http.StatusNotFound)

		default:
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func TestIngestConcepts_WritesWorksAndCursor(t *testing.T) {
	srv := fakeOpenAlexServer(t, map[string][]map[string]any{
		"C1": {fakeWork("W1", "C1", "")},
	}, nil, nil)
	client := openalex.New(srv.URL)
	st := &mock.Store{}

	res, err := IngestConcepts(context.Background(), st, client, []string{"C1"}, 1, Options{})
	if err != nil {
		t.Fatalf("IngestConcepts: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 0 {
		t.Fatalf("result = %+v, want 1 success, 0 failures", res)
	}
	// One work transaction, one cursor transaction.
	if got := st.CallCount("BeginIngestion"); got != 2 {
		t.Errorf("BeginIngestion called %d times, want 2", got)
	}
}

func TestIngestConcepts_SkipsAlreadyIngested(t *testing.T) {
	srv := fakeOpenAlexServer(t, map[string][]map[string]any{
		"C2": {fakeWork("W2", "C2", "")},
	}, nil, nil)
	client := openalex.New(srv.URL)
	st := &mock.Store{
		IsConceptIngestedResult: map[string]bool{"C1": true, "C2": false},
	}

	res, err := IngestConcepts(context.Background(), st, client, []string{"C1", "C2"}, 1, Options{SkipExisting: true})
	if err != nil {
		t.Fatalf("IngestConcepts: %v", err)
	}
	if res.SuccessCount != 1 {
		t.Errorf("success count = %d, want 1 (C1 should have been skipped)", res.SuccessCount)
	}
}

func TestIngestConcepts_IsolatesFailures(t *testing.T) {
	srv := fakeOpenAlexServer(t, map[string][]map[string]any{
		"C1": {fakeWork("W1", "C1", "")},
		// "Cbad" deliberately absent -> server 404s it, a non-retryable failure.
	}, nil, nil)
	client := openalex.New(srv.URL)
	st := &mock.Store{}

	res, err := IngestConcepts(context.Background(), st, client, []string{"C1", "Cbad"}, 1, Options{})
	if err != nil {
		t.Fatalf("IngestConcepts: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 1 {
		t.Fatalf("result = %+v, want 1 success and 1 failure", res)
	}
	if len(res.Failed) != 1 || res.Failed[0].ID != "Cbad" {
		t.Errorf("Failed = %+v, want one entry for Cbad", res.Failed)
	}
}

func TestWorkerCount_CapsAtEightRegardlessOfRequest(t *testing.T) {
	opts := Options{MaxWorkers: 1000}
	if got := opts.workerCount(50); got != maxConcurrentWorkers {
		t.Errorf("workerCount(50) = %d, want %d", got, maxConcurrentWorkers)
	}
}

func TestWorkerCount_NeverExceedsItemCount(t *testing.T) {
	opts := Options{MaxWorkers: 8}
	if got := opts.workerCount(3); got != 3 {
		t.Errorf("workerCount(3) = %d, want 3", got)
	}
}

func TestWorkerCount_DefaultsToNumCPU(t *testing.T) {
	opts := Options{}
	if got := opts.workerCount(1000); got < 1 || got > maxConcurrentWorkers {
		t.Errorf("workerCount default = %d, want within [1, %d]", got, maxConcurrentWorkers)
	}
}

func TestResolveConceptsForFields_DedupesAcrossFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Both fields resolve to the same top concept.
		writeJSON(w, map[string]any{
			"results": []map[string]any{
				{"id": "https://openalex.org/C1", "display_name": "AI", "level": 1, "works_count": 500},
			},
		})
	}))
	defer srv.Close()
	client := openalex.New(srv.URL)

	ids, err := ResolveConceptsForFields(context.Background(), client, []string{"machine learning", "artificial intelligence"}, 1)
	if err != nil {
		t.Fatalf("ResolveConceptsForFields: %v", err)
	}
	if len(ids) != 1 || ids[0] != "C1" {
		t.Errorf("ids = %v, want [C1] (deduplicated)", ids)
	}
}

func TestIngestSourcesFromPapers_FetchesOnlyMissing(t *testing.T) {
	srv := fakeOpenAlexServer(t, nil, nil, map[string]map[string]any{
		"S1": {"id": "https://openalex.org/S1", "display_name": "Journal of Tests"},
	})
	client := openalex.New(srv.URL)
	st := &mock.Store{
		DistinctPaperSourceIDsResult: []string{"S1", "S2"},
		MissingSourceIDsResult:       []string{"S1"},
	}

	res, err := IngestSourcesFromPapers(context.Background(), st, client, 50, 4, Options{})
	if err != nil {
		t.Fatalf("IngestSourcesFromPapers: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 0 {
		t.Fatalf("result = %+v, want 1 success", res)
	}
	if got := st.CallCount("UpsertSource"); got != 1 {
		t.Errorf("UpsertSource called %d times, want 1", got)
	}
}

func TestIngestSourcesFromPapers_NoMissingIsANoop(t *testing.T) {
	st := &mock.Store{
		DistinctPaperSourceIDsResult: []string{"S1"},
		MissingSourceIDsResult:       nil,
	}
	client := openalex.New("http://unused.invalid")

	res, err := IngestSourcesFromPapers(context.Background(), st, client, 50, 4, Options{})
	if err != nil {
		t.Fatalf("IngestSourcesFromPapers: %v", err)
	}
	if res.SuccessCount != 0 || res.FailureCount != 0 {
		t.Errorf("result = %+v, want no-op", res)
	}
}

func TestBackfillPaperSources_LinksPaperAndCreatesSourceStub(t *testing.T) {
	srv := fakeOpenAlexServer(t, nil, []map[string]any{
		fakeWork("W1", "", "S1"),
	}, map[string]map[string]any{
		"S1": {"id": "https://openalex.org/S1", "display_name": "Journal of Tests"},
	})
	client := openalex.New(srv.URL)
	st := &mock.Store{
		PapersMissingSourceIDResult: []store.PaperProviderRef{{PaperID: "p1", ProviderID: "W1"}},
		GetSourceResult:             nil, // source not yet known locally
	}

	res, err := BackfillPaperSources(context.Background(), st, client, 50, 4, Options{})
	if err != nil {
		t.Fatalf("BackfillPaperSources: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 0 {
		t.Fatalf("result = %+v, want 1 success", res)
	}
	if got := st.CallCount("UpsertSource"); got != 1 {
		t.Errorf("UpsertSource called %d times, want 1 (source stub should be created before linking)", got)
	}
	if got := st.CallCount("SetPaperSourceAndPublisher"); got != 1 {
		t.Errorf("SetPaperSourceAndPublisher called %d times, want 1", got)
	}
}

func TestIngestWork_WritesVenueConceptsAuthorsAndPaper(t *testing.T) {
	tx := &mock.IngestionTx{}
	st := &mock.Store{BeginIngestionResult: tx}
	work := types.NormalizedPaper{
		Paper: types.Paper{
			ID:    "W1",
			Title: "A Paper",
			Concepts: map[string]types.ConceptScore{
				"C1": {Name: "AI", Level: 1, Score: 0.9},
			},
		},
		Venue:         &types.Venue{ID: "V1", Name: "Some Venue"},
		VenueInstance: &types.VenueInstance{Year: 2020},
		Authors: []types.Author{
			{ID: "A1", FullName: "Jane Doe"},
		},
		AuthorOrder:          []int{1},
		IsCorrespondingFlags: []bool{true},
	}

	if err := ingestWork(context.Background(), st, work); err != nil {
		t.Fatalf("ingestWork: %v", err)
	}

	for _, method := range []string{"UpsertVenue", "UpsertVenueInstance", "UpsertConcept", "UpsertPaper", "UpsertAuthor", "InsertPaperAuthor", "Commit"} {
		if got := tx.CallCount(method); got != 1 {
			t.Errorf("%s called %d times, want 1", method, got)
		}
	}
}

func TestIngestWork_SkipsVenueWhenAbsent(t *testing.T) {
	tx := &mock.IngestionTx{}
	st := &mock.Store{BeginIngestionResult: tx}
	work := types.NormalizedPaper{Paper: types.Paper{ID: "W1", Title: "No Venue"}}

	if err := ingestWork(context.Background(), st, work); err != nil {
		t.Fatalf("ingestWork: %v", err)
	}
	if got := tx.CallCount("UpsertVenue"); got != 0 {
		t.Errorf("UpsertVenue called %d times, want 0", got)
	}
	if got := tx.CallCount("UpsertPaper"); got != 1 {
		t.Errorf("UpsertPaper called %d times, want 1", got)
	}
}

func TestChunkStrings_SplitsIntoBoundedGroups(t *testing.T) {
	ids := []string{"a", "b", "c", "d", "e"}
	chunks := chunkStrings(ids, 2)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if fmt.Sprint(chunks) != "[[a b] [c d] [e]]" {
		t.Errorf("chunks = %v, want [[a b] [c d] [e]]", chunks)
	}
}
