// Package store defines the durable-catalog abstraction backing LitScout:
// papers, authors, concepts, sources, per-model embeddings, and the
// ingestion cursor.
//
// [Store] is the single entry point. Mutating a paper's full record (paper +
// authors + concept rows + association rows) happens inside an
// [IngestionTx] so that a crash leaves either the whole work ingested or
// none of it. The ingestion cursor is also written through an [IngestionTx],
// which the ingestion pipeline opens separately from the works' ones. Everything else — embedding selection/writes, ANN reads,
// enrichment updates — is a plain method on [Store].
//
// All implementations must be safe for concurrent use.
package store

import (
	"context"
	"time"

	"github.com/thisismudith/litscout/pkg/types"
)

// IngestionTx groups writes into one transaction. The ingestion pipeline
// uses one per normalized work (the paper row, its authors, its concept
// association, the paper-author rows) and a separate one for a concept's
// ingestion cursor update.
//
// Callers must call exactly one of Commit or Rollback. Commit finalizes the
// transaction; Rollback discards every write made through this handle.
type IngestionTx interface {
	// UpsertVenue inserts or updates a venue, matched first by external id,
	// else by name. Returns the resolved venue id.
	UpsertVenue(ctx context.Context, venue types.Venue) (string, error)

	// UpsertVenueInstance inserts or updates a (venue, year) occurrence.
	// Returns the resolved venue-instance id.
	UpsertVenueInstance(ctx context.Context, venueID string, year int) (string, error)

	// UpsertConcept inserts or updates a concept stub (id, name, level),
	// matched by id. Enrichment fields are left untouched if the concept
	// already exists.
	UpsertConcept(ctx context.Context, concept types.Concept) error

	// UpsertAuthor inserts or updates an author, matched first by ORCID
	// when present, else by external id. Returns the resolved author id.
	UpsertAuthor(ctx context.Context, author types.Author) (string, error)

	// UpsertPaper inserts or updates a paper, matched first by DOI, else by
	// external_ids["openalex"]. On a match, external_ids is merged (union
	// of namespaces, never overwritten) and venue/venue-instance linkage is
	// updated only when currently null. source_id and publisher_id are not
	// written here. Returns the resolved paper id.
	UpsertPaper(ctx context.Context, paper types.Paper, venueID, venueInstanceID string) (string, error)

	// InsertPaperAuthor upserts one paper/author association, matched by
	// (paper_id, author_id).
	InsertPaperAuthor(ctx context.Context, link types.PaperAuthor) error

	// MarkConceptIngested upserts the ingestion cursor row for conceptID,
	// recording how many pages have now been consumed.
	MarkConceptIngested(ctx context.Context, conceptID string, pagesIngested int) error

	// Commit finalizes every write made through this handle.
	Commit(ctx context.Context) error

	// Rollback discards every write made through this handle. Calling
	// Rollback after a successful Commit is a no-op.
	Rollback(ctx context.Context) error
}

// AnnHit is one row of an approximate-nearest-neighbor read: an entity id
// paired with its vector-space distance from the query embedding.
type AnnHit struct {
	EntityID string
	Distance float64
}

// ConceptPaperMatch is one row of [Store.PapersByConcepts]: a paper that
// carries one of the queried concepts, together with that concept's
// provider-assigned score within the paper.
type ConceptPaperMatch struct {
	PaperID             string
	ConceptID           string
	ConceptScoreInPaper float64
}

// IndexStats reports the live state of one embeddings table's ANN index,
// consumed by the autotuner to decide whether to (re)build it.
type IndexStats struct {
	// RowCount is the number of rows with a non-null vector column.
	RowCount int64
	// CurrentLists is the index's current `lists` build parameter, or 0 if
	// no index exists yet.
	CurrentLists int
}

// Store is the durable catalog. Implementations (see ./postgres, ./mock)
// must be safe for concurrent use.
type Store interface {
	// Migrate creates or ensures every required table, extension, and
	// constraint exists. Idempotent; safe to call on every process start.
	Migrate(ctx context.Context) error

	// BeginIngestion opens a new [IngestionTx] for writing one normalized
	// work (and its denormalized venue/authors) as a single transaction.
	BeginIngestion(ctx context.Context) (IngestionTx, error)

	// UpsertSource inserts or updates a source, matched by id. Returns the
	// resolved source id.
	UpsertSource(ctx context.Context, source types.Source) (string, error)

	// GetSource retrieves a source by id. Returns (nil, nil) if absent.
	GetSource(ctx context.Context, id string) (*types.Source, error)

	// GetSources retrieves full source rows for ids, keyed by id. Missing
	// ids are simply absent from the result map. Used by venue/source
	// search to hydrate aggregated source_id groups.
	GetSources(ctx context.Context, ids []string) (map[string]types.Source, error)

	// DistinctPaperSourceIDs returns every non-null, distinct source_id
	// referenced by a paper row.
	DistinctPaperSourceIDs(ctx context.Context) ([]string, error)

	// MissingSourceIDs filters candidateIDs down to those with no matching
	// row in the sources table.
	MissingSourceIDs(ctx context.Context, candidateIDs []string) ([]string, error)

	// PapersMissingSourceID returns (paperID, openAlexID) pairs for papers
	// whose source_id is null but whose external_ids carries an openalex
	// id — the backfill candidate set.
	PapersMissingSourceID(ctx context.Context) ([]PaperProviderRef, error)

	// SetPaperSourceAndPublisher updates source_id/publisher_id for an
	// existing paper row, used by source/publisher backfill.
	SetPaperSourceAndPublisher(ctx context.Context, paperID, sourceID, publisherID string) error

	// FilterUnembedded returns, in ascending id order, up to limit entities
	// of kind that have no embedding row for modelLabel. limit<=0 means no
	// cap.
	FilterUnembedded(ctx context.Context, kind types.EmbeddingKind, modelLabel string, limit int) ([]UnembeddedEntity, error)

	// InsertEmbeddings upserts rows keyed by (entity_id, model_label),
	// updating the vector and timestamp on conflict. All rows are written
	// in a single batch commit.
	InsertEmbeddings(ctx context.Context, kind types.EmbeddingKind, modelLabel string, rows []types.Embedding) error

	// AnnSearch issues a session-local probes override followed by a
	// nearest-neighbor SELECT against kind's embeddings table, filtered to
	// modelLabel and (when restrictTo is non-nil) to that id set. Results
	// are ordered ascending by distance.
	AnnSearch(ctx context.Context, kind types.EmbeddingKind, queryVector []float32, modelLabel string, k, offset, probes int, restrictTo []string) ([]AnnHit, error)

	// IndexStats reports the current row count and ANN index parameters
	// for kind's embeddings table.
	IndexStats(ctx context.Context, kind types.EmbeddingKind) (IndexStats, error)

	// EnsureANNIndex drops any existing IVFFLAT index on kind's embeddings
	// table and creates it again with the given lists parameter, whether or
	// not lists has changed.
	EnsureANNIndex(ctx context.Context, kind types.EmbeddingKind, lists int) error

	// PapersByConcepts returns, for each of conceptIDs, up to perConceptLimit
	// papers whose concepts map contains that id (JSON containment),
	// ordered by concept_score_in_paper descending within each concept.
	PapersByConcepts(ctx context.Context, conceptIDs []string, perConceptLimit int) ([]ConceptPaperMatch, error)

	// PapersConceptsBlob returns the concepts map for each of paperIDs,
	// used by hybrid search to rescore papers missing from the
	// concept-mediated leg.
	PapersConceptsBlob(ctx context.Context, paperIDs []string) (map[string]map[string]types.ConceptScore, error)

	// GetPapers retrieves full paper rows for ids, keyed by id. Missing ids
	// are simply absent from the result map.
	GetPapers(ctx context.Context, ids []string) (map[string]types.Paper, error)

	// GetConcepts retrieves full concept rows for ids, keyed by id.
	GetConcepts(ctx context.Context, ids []string) (map[string]types.Concept, error)

	// GetAuthors retrieves full author rows for ids, keyed by id.
	GetAuthors(ctx context.Context, ids []string) (map[string]types.Author, error)

	// PaperAuthorsByPaperIDs returns every paper_authors row for the given
	// papers, used by author-search aggregation.
	PaperAuthorsByPaperIDs(ctx context.Context, paperIDs []string) ([]types.PaperAuthor, error)

	// ListConceptIDs returns every concept id, ascending, for full-corpus
	// concept enrichment.
	ListConceptIDs(ctx context.Context) ([]string, error)

	// ListAuthors returns every author row, for full-corpus author
	// enrichment.
	ListAuthors(ctx context.Context) ([]types.Author, error)

	// ListPapersForEnrichment returns every paper row, optionally filtered
	// to those whose concepts map contains at least one of conceptIDs
	// (JSON "any key exists"). A nil/empty conceptIDs returns every paper.
	ListPapersForEnrichment(ctx context.Context, conceptIDs []string) ([]types.Paper, error)

	// UpdateConceptEnrichment overwrites a concept's enrichment fields.
	UpdateConceptEnrichment(ctx context.Context, concept types.Concept) error

	// UpdateAuthorEnrichment overwrites an author's enrichment fields.
	UpdateAuthorEnrichment(ctx context.Context, author types.Author) error

	// UpdatePaperEnrichment overwrites a paper's title/abstract/concepts
	// from a fresh fetch.
	UpdatePaperEnrichment(ctx context.Context, paper types.Paper) error

	// IsConceptIngested reports which of candidateIDs already have an
	// ingestion-cursor row, for skip_existing filtering.
	IsConceptIngested(ctx context.Context, candidateIDs []string) (map[string]bool, error)

	// Close releases all resources held by the store.
	Close()
}

// UnembeddedEntity is one row selected by [Store.FilterUnembedded]: enough
// of the entity's fields to build its embedding text.
type UnembeddedEntity struct {
	ID         string
	Title      string // paper title, or concept name
	Abstract   string // paper abstract, or concept description
	Conclusion string // paper only; empty for concepts
}

// PaperProviderRef pairs a paper id with its provider-assigned id, used by
// source/publisher backfill to batch-fetch works by id.
type PaperProviderRef struct {
	PaperID    string
	ProviderID string
}

// Now returns the current time. Implementations use it instead of calling
// time.Now() directly so tests can substitute a fixed clock if needed.
var Now = time.Now
