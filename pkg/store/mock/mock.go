// Package mock provides in-memory test doubles for [store.Store] and
// [store.IngestionTx].
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	st := &mock.Store{}
//	st.GetPapersResult = map[string]types.Paper{"p1": {ID: "p1", Title: "hi"}}
//
//	// inject st into the system under test …
//
//	if got := st.CallCount("GetPapers"); got != 1 {
//	    t.Errorf("expected 1 GetPapers call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"

	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/types"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	Method string
	Args   []any
}

// Store is a configurable test double for [store.Store]. All exported *Err
// fields default to nil (success); all exported *Result fields default to
// nil (empty slice/map returned).
type Store struct {
	mu    sync.Mutex
	calls []Call

	MigrateErr error

	BeginIngestionResult store.IngestionTx
	BeginIngestionErr    error

	UpsertSourceResult string
	UpsertSourceErr    error

	GetSourceResult *types.Source
	GetSourceErr    error

	GetSourcesResult map[string]types.Source
	GetSourcesErr    error

	DistinctPaperSourceIDsResult []string
	DistinctPaperSourceIDsErr    error

	MissingSourceIDsResult []string
	MissingSourceIDsErr    error

	PapersMissingSourceIDResult []store.PaperProviderRef
	PapersMissingSourceIDErr    error

	SetPaperSourceAndPublisherErr error

	FilterUnembeddedResult []store.UnembeddedEntity
	FilterUnembeddedErr    error

	InsertEmbeddingsErr error

	AnnSearchResult []store.AnnHit
	AnnSearchErr    error
	// AnnSearchFunc, when set, overrides AnnSearchResult/AnnSearchErr so a
	// test can return different hits for different kinds/restrictTo sets
	// (the search engine issues more than one AnnSearch call per query).
	AnnSearchFunc func(kind types.EmbeddingKind, queryVector []float32, modelLabel string, k, offset, probes int, restrictTo []string) ([]store.AnnHit, error)

	IndexStatsResult store.IndexStats
	IndexStatsErr    error

	EnsureANNIndexErr error

	PapersByConceptsResult []store.ConceptPaperMatch
	PapersByConceptsErr    error

	PapersConceptsBlobResult map[string]map[string]types.ConceptScore
	PapersConceptsBlobErr    error

	GetPapersResult map[string]types.Paper
	GetPapersErr    error

	GetConceptsResult map[string]types.Concept
	GetConceptsErr    error

	GetAuthorsResult map[string]types.Author
	GetAuthorsErr    error

	PaperAuthorsByPaperIDsResult []types.PaperAuthor
	PaperAuthorsByPaperIDsErr    error

	ListConceptIDsResult []string
	ListConceptIDsErr    error

	ListAuthorsResult []types.Author
	ListAuthorsErr    error

	ListPapersForEnrichmentResult []types.Paper
	ListPapersForEnrichmentErr    error

	UpdateConceptEnrichmentErr error
	UpdateAuthorEnrichmentErr error
	UpdatePaperEnrichmentErr  error

	IsConceptIngestedResult map[string]bool
	IsConceptIngestedErr    error
}

var _ store.Store = (*Store)(nil)

func (s *Store) record(method string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: method, Args: args})
}

// Calls returns every recorded call, in order.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times method was called.
func (s *Store) CallCount(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears every recorded call.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Store) Migrate(ctx context.Context) error {
	s.record("Migrate")
	return s.MigrateErr
}

func (s *Store) BeginIngestion(ctx context.Context) (store.IngestionTx, error) {
	s.record("BeginIngestion")
	if s.BeginIngestionResult != nil {
		return s.BeginIngestionResult, s.BeginIngestionErr
	}
	return &IngestionTx{}, s.BeginIngestionErr
}

func (s *Store) UpsertSource(ctx context.Context, source types.Source) (string, error) {
	s.record("UpsertSource", source)
	return s.UpsertSourceResult, s.UpsertSourceErr
}

func (s *Store) GetSource(ctx context.Context, id string) (*types.Source, error) {
	s.record("GetSource", id)
	return s.GetSourceResult, s.GetSourceErr
}

func (s *Store) GetSources(ctx context.Context, ids []string) (map[string]types.Source, error) {
	s.record("GetSources", ids)
	if s.GetSourcesResult != nil {
		return s.GetSourcesResult, s.GetSourcesErr
	}
	return map[string]types.Source{}, s.GetSourcesErr
}

func (s *Store) DistinctPaperSourceIDs(ctx context.Context) ([]string, error) {
	s.record("DistinctPaperSourceIDs")
	return s.DistinctPaperSourceIDsResult, s.DistinctPaperSourceIDsErr
}

func (s *Store) MissingSourceIDs(ctx context.Context, candidateIDs []string) ([]string, error) {
	s.record("MissingSourceIDs", candidateIDs)
	return s.MissingSourceIDsResult, s.MissingSourceIDsErr
}

func (s *Store) PapersMissingSourceID(ctx context.Context) ([]store.PaperProviderRef, error) {
	s.record("PapersMissingSourceID")
	return s.PapersMissingSourceIDResult, s.PapersMissingSourceIDErr
}

func (s *Store) SetPaperSourceAndPublisher(ctx context.Context, paperID, sourceID, publisherID string) error {
	s.record("SetPaperSourceAndPublisher", paperID, sourceID, publisherID)
	return s.SetPaperSourceAndPublisherErr
}

func (s *Store) FilterUnembedded(ctx context.Context, kind types.EmbeddingKind, modelLabel string, limit int) ([]store.UnembeddedEntity, error) {
	s.record("FilterUnembedded", kind, modelLabel, limit)
	return s.FilterUnembeddedResult, s.FilterUnembeddedErr
}

func (s *Store) InsertEmbeddings(ctx context.Context, kind types.EmbeddingKind, modelLabel string, rows []types.Embedding) error {
	s.record("InsertEmbeddings", kind, modelLabel, rows)
	return s.InsertEmbeddingsErr
}

func (s *Store) AnnSearch(ctx context.Context, kind types.EmbeddingKind, queryVector []float32, modelLabel string, k, offset, probes int, restrictTo []string) ([]store.AnnHit, error) {
	s.record("AnnSearch", kind, modelLabel, k, offset, probes, restrictTo)
	if s.AnnSearchFunc != nil {
		return s.AnnSearchFunc(kind, queryVector, modelLabel, k, offset, probes, restrictTo)
	}
	return s.AnnSearchResult, s.AnnSearchErr
}

func (s *Store) IndexStats(ctx context.Context, kind types.EmbeddingKind) (store.IndexStats, error) {
	s.record("IndexStats", kind)
	return s.IndexStatsResult, s.IndexStatsErr
}

func (s *Store) EnsureANNIndex(ctx context.Context, kind types.EmbeddingKind, lists int) error {
	s.record("EnsureANNIndex", kind, lists)
	return s.EnsureANNIndexErr
}

func (s *Store) PapersByConcepts(ctx context.Context, conceptIDs []string, perConceptLimit int) ([]store.ConceptPaperMatch, error) {
	s.record("PapersByConcepts", conceptIDs, perConceptLimit)
	return s.PapersByConceptsResult, s.PapersByConceptsErr
}

func (s *Store) PapersConceptsBlob(ctx context.Context, paperIDs []string) (map[string]map[string]types.ConceptScore, error) {
	s.record("PapersConceptsBlob", paperIDs)
	return s.PapersConceptsBlobResult, s.PapersConceptsBlobErr
}

func (s *Store) GetPapers(ctx context.Context, ids []string) (map[string]types.Paper, error) {
	s.record("GetPapers", ids)
	if s.GetPapersResult != nil {
		return s.GetPapersResult, s.GetPapersErr
	}
	return map[string]types.Paper{}, s.GetPapersErr
}

func (s *Store) GetConcepts(ctx context.Context, ids []string) (map[string]types.Concept, error) {
	s.record("GetConcepts", ids)
	if s.GetConceptsResult != nil {
		return s.GetConceptsResult, s.GetConceptsErr
	}
	return map[string]types.Concept{}, s.GetConceptsErr
}

func (s *Store) GetAuthors(ctx context.Context, ids []string) (map[string]types.Author, error) {
	s.record("GetAuthors", ids)
	if s.GetAuthorsResult != nil {
		return s.GetAuthorsResult, s.GetAuthorsErr
	}
	return map[string]types.Author{}, s.GetAuthorsErr
}

func (s *Store) PaperAuthorsByPaperIDs(ctx context.Context, paperIDs []string) ([]types.PaperAuthor, error) {
	s.record("PaperAuthorsByPaperIDs", paperIDs)
	return s.PaperAuthorsByPaperIDsResult, s.PaperAuthorsByPaperIDsErr
}

func (s *Store) ListConceptIDs(ctx context.Context) ([]string, error) {
	s.record("ListConceptIDs")
	return s.ListConceptIDsResult, s.ListConceptIDsErr
}

func (s *Store) ListAuthors(ctx context.Context) ([]types.Author, error) {
	s.record("ListAuthors")
	return s.ListAuthorsResult, s.ListAuthorsErr
}

func (s *Store) ListPapersForEnrichment(ctx context.Context, conceptIDs []string) ([]types.Paper, error) {
	s.record("ListPapersForEnrichment", conceptIDs)
	return s.ListPapersForEnrichmentResult, s.ListPapersForEnrichmentErr
}

func (s *Store) UpdateConceptEnrichment(ctx context.Context, concept types.Concept) error {
	s.record("UpdateConceptEnrichment", concept)
	return s.UpdateConceptEnrichmentErr
}

func (s *Store) UpdateAuthorEnrichment(ctx context.Context, author types.Author) error {
	s.record("UpdateAuthorEnrichment", author)
	return s.UpdateAuthorEnrichmentErr
}

func (s *Store) UpdatePaperEnrichment(ctx context.Context, paper types.Paper) error {
	s.record("UpdatePaperEnrichment", paper)
	return s.UpdatePaperEnrichmentErr
}

func (s *Store) IsConceptIngested(ctx context.Context, candidateIDs []string) (map[string]bool, error) {
	s.record("IsConceptIngested", candidateIDs)
	if s.IsConceptIngestedResult != nil {
		return s.IsConceptIngestedResult, s.IsConceptIngestedErr
	}
	result := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		result[id] = false
	}
	return result, s.IsConceptIngestedErr
}

func (s *Store) Close() {
	s.record("Close")
}

// IngestionTx is a configurable test double for [store.IngestionTx].
type IngestionTx struct {
	mu    sync.Mutex
	calls []Call

	UpsertVenueResult string
	UpsertVenueErr    error

	UpsertVenueInstanceResult string
	UpsertVenueInstanceErr    error

	UpsertConceptErr error

	UpsertAuthorResult string
	UpsertAuthorErr    error

	UpsertPaperResult string
	UpsertPaperErr    error

	InsertPaperAuthorErr error

	MarkConceptIngestedErr error

	CommitErr   error
	RollbackErr error
}

var _ store.IngestionTx = (*IngestionTx)(nil)

func (t *IngestionTx) record(method string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, Call{Method: method, Args: args})
}

// CallCount returns how many times method was called.
func (t *IngestionTx) CallCount(method string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, c := range t.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (t *IngestionTx) UpsertVenue(ctx context.Context, venue types.Venue) (string, error) {
	t.record("UpsertVenue", venue)
	return t.UpsertVenueResult, t.UpsertVenueErr
}

func (t *IngestionTx) UpsertVenueInstance(ctx context.Context, venueID string, year int) (string, error) {
	t.record("UpsertVenueInstance", venueID, year)
	return t.UpsertVenueInstanceResult, t.UpsertVenueInstanceErr
}

func (t *IngestionTx) UpsertConcept(ctx context.Context, concept types.Concept) error {
	t.record("UpsertConcept", concept)
	return t.UpsertConceptErr
}

func (t *IngestionTx) UpsertAuthor(ctx context.Context, author types.Author) (string, error) {
	t.record("UpsertAuthor", author)
	return t.UpsertAuthorResult, t.UpsertAuthorErr
}

func (t *IngestionTx) UpsertPaper(ctx context.Context, paper types.Paper, venueID, venueInstanceID string) (string, error) {
	t.record("UpsertPaper", paper, venueID, venueInstanceID)
	return t.UpsertPaperResult, t.UpsertPaperErr
}

func (t *IngestionTx) InsertPaperAuthor(ctx context.Context, link types.PaperAuthor) error {
	t.record("InsertPaperAuthor", link)
	return t.InsertPaperAuthorErr
}

func (t *IngestionTx) MarkConceptIngested(ctx context.Context, conceptID string, pagesIngested int) error {
	t.record("MarkConceptIngested", conceptID, pagesIngested)
	return t.MarkConceptIngestedErr
}

func (t *IngestionTx) Commit(ctx context.Context) error {
	t.record("Commit")
	return t.CommitErr
}

func (t *IngestionTx) Rollback(ctx context.Context) error {
	t.record("Rollback")
	return t.RollbackErr
}
