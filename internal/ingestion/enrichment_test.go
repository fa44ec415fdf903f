package ingestion

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/thisismudith/litscout/pkg/provider/openalex"
	"github.com/thisismudith/litscout/pkg/store/mock"
	"github.com/thisismudith/litscout/pkg/types"
)

// fakeEnrichmentServer routes the detail endpoints enrichment calls. Missing
// ids 404, matching the "not found upstream" failure path.
func fakeEnrichmentServer(t *testing.T, concepts map[string]map[string]any, authors map[string]map[string]any, works map[string]map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/concepts/"):
			id := strings.TrimPrefix(r.URL.Path, "/concepts/")
			body, ok := concepts[id]
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			writeJSON(w, body)

		case strings.HasPrefix(r.URL.Path, "/authors/"):
			id := strings.TrimPrefix(r.URL.Path, "/authors/")
			body, ok := authors[id]
			if !ok {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			writeJSON(w, body)

		case r.URL.Path == "/works":
			filter := r.URL.Query().Get("filter")
			id := strings.TrimPrefix(filter, "openalex:")
			body, ok := works[id]
			if !ok {
				writeJSON(w, map[string]any{"results": []map[string]any{}})
				return
			}
			writeJSON(w, map[string]any{"results": []map[string]any{body}})

		default:
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestEnrichConcepts_UpdatesEveryListedConcept(t *testing.T) {
	srv := fakeEnrichmentServer(t, map[string]map[string]any{
		"C1": {"id": "https://openalex.org/C1", "display_name": "AI", "description": "desc", "works_count": 10},
	}, nil, nil)
	client := openalex.New(srv.URL)
	st := &mock.Store{ListConceptIDsResult: []string{"C1"}}

	res, err := EnrichConcepts(context.Background(), st, client, Options{})
	if err != nil {
		t.Fatalf("EnrichConcepts: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 0 {
		t.Fatalf("result = %+v, want 1 success", res)
	}
	if got := st.CallCount("UpdateConceptEnrichment"); got != 1 {
		t.Errorf("UpdateConceptEnrichment called %d times, want 1", got)
	}
}

func TestEnrichConcepts_IsolatesMissingConcept(t *testing.T) {
	srv := fakeEnrichmentServer(t, map[string]map[string]any{
		"C1": {"id": "https://openalex.org/C1", "display_name": "AI"},
		// "Cbad" deliberately absent -> 404.
	}, nil, nil)
	client := openalex.New(srv.URL)
	st := &mock.Store{ListConceptIDsResult: []string{"C1", "Cbad"}}

	res, err := EnrichConcepts(context.Background(), st, client, Options{})
	if err != nil {
		t.Fatalf("EnrichConcepts: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 1 {
		t.Fatalf("result = %+v, want 1 success and 1 failure", res)
	}
	if len(res.Failed) != 1 || res.Failed[0].ID != "Cbad" {
		t.Errorf("Failed = %+v, want one entry for Cbad", res.Failed)
	}
}

func TestEnrichAuthors_UpdatesByProviderID(t *testing.T) {
	srv := fakeEnrichmentServer(t, nil, map[string]map[string]any{
		"A1": {"id": "https://openalex.org/A1", "display_name": "Jane Doe", "works_count": 42},
	}, nil)
	client := openalex.New(srv.URL)
	st := &mock.Store{
		ListAuthorsResult: []types.Author{
			{ID: "a1", ExternalIDs: types.ExternalIDs{"openalex": "A1"}},
		},
	}

	res, err := EnrichAuthors(context.Background(), st, client, Options{})
	if err != nil {
		t.Fatalf("EnrichAuthors: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 0 {
		t.Fatalf("result = %+v, want 1 success", res)
	}
	if got := st.CallCount("UpdateAuthorEnrichment"); got != 1 {
		t.Errorf("UpdateAuthorEnrichment called %d times, want 1", got)
	}
}

func TestEnrichAuthors_FailsWhenExternalIDMissing(t *testing.T) {
	client := openalex.New("http://unused.invalid")
	st := &mock.Store{
		ListAuthorsResult: []types.Author{{ID: "a1"}},
	}

	res, err := EnrichAuthors(context.Background(), st, client, Options{})
	if err != nil {
		t.Fatalf("EnrichAuthors: %v", err)
	}
	if res.SuccessCount != 0 || res.FailureCount != 1 {
		t.Fatalf("result = %+v, want 1 failure (no openalex id)", res)
	}
}

func TestEnrichPapers_FiltersByConceptIDs(t *testing.T) {
	srv := fakeEnrichmentServer(t, nil, nil, map[string]map[string]any{
		"W1": {
			"id":               "https://openalex.org/W1",
			"title":            "Refreshed",
			"publication_year": 2022,
		},
	})
	client := openalex.New(srv.URL)
	st := &mock.Store{
		ListPapersForEnrichmentResult: []types.Paper{
			{ID: "p1", ExternalIDs: types.ExternalIDs{"openalex": "W1"}},
		},
	}

	res, err := EnrichPapers(context.Background(), st, client, []string{"C1"}, Options{})
	if err != nil {
		t.Fatalf("EnrichPapers: %v", err)
	}
	if res.SuccessCount != 1 || res.FailureCount != 0 {
		t.Fatalf("result = %+v, want 1 success", res)
	}
	if got := st.CallCount("UpdatePaperEnrichment"); got != 1 {
		t.Errorf("UpdatePaperEnrichment called %d times, want 1", got)
	}
	if got := st.CallCount("ListPapersForEnrichment"); got != 1 {
		t.Fatalf("ListPapersForEnrichment called %d times, want 1", got)
	}
}

func TestEnrichPapers_FailsWhenUpstreamWorkGone(t *testing.T) {
	srv := fakeEnrichmentServer(t, nil, nil, nil)
	client := openalex.New(srv.URL)
	st := &mock.Store{
		ListPapersForEnrichmentResult: []types.Paper{
			{ID: "p1", ExternalIDs: types.ExternalIDs{"openalex": "Wgone"}},
		},
	}

	res, err := EnrichPapers(context.Background(), st, client, nil, Options{})
	if err != nil {
		t.Fatalf("EnrichPapers: %v", err)
	}
	if res.SuccessCount != 0 || res.FailureCount != 1 {
		t.Fatalf("result = %+v, want 1 failure (work not found upstream)", res)
	}
}
