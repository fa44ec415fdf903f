// Package types defines the shared domain records used across LitScout's
// store, provider, ingestion, embedding, and search packages.
//
// Every record here is a narrow, already-normalized value: raw provider JSON
// never crosses into this package. Normalization from an external schema
// (e.g., OpenAlex) happens once, in the provider package, and produces these
// types directly.
package types

import "time"

// ExternalIDs maps a namespace (e.g., "openalex", "doi", "orcid") to the
// identifier LitScout has recorded for an entity in that namespace. A given
// entity usually carries more than one external id as it is enriched from
// additional sources over time.
type ExternalIDs map[string]string

// ConceptScore is the per-paper weight assigned to one concept, keyed by
// concept id in [Paper.Concepts].
type ConceptScore struct {
	Name  string
	Level int
	Score float64
}

// Venue is a publication venue: a journal, conference series, or similar
// recurring publication outlet.
type Venue struct {
	ID          string
	Name        string
	ShortName   string
	VenueType   string // "journal" or "conference"
	HomepageURL string
	Location    string
	RankLabel   string
	ExternalIDs ExternalIDs
}

// VenueInstance is one year's occurrence of a [Venue] (e.g., "NeurIPS 2023").
type VenueInstance struct {
	ID      string
	VenueID string
	Year    int
}

// Source is the container a paper was published through — typically a
// journal or repository, distinct from [Venue] in that it additionally
// carries publisher affiliation used for source/publisher backfill.
type Source struct {
	ID          string
	Name        string
	PublisherID string
	ExternalIDs ExternalIDs
}

// Author is a scholarly author record. WorksCount, CitedByCount,
// Affiliations, LastKnownInstitutions, Topics, and TopicShares are populated
// by author enrichment, not by ingestion — a freshly ingested author has
// only FullName, ORCID (if known), and ExternalIDs set.
type Author struct {
	ID                    string
	FullName              string
	ORCID                 string
	WorksCount            int
	CitedByCount          int
	Affiliations          []map[string]any
	LastKnownInstitutions []map[string]any
	Topics                []map[string]any
	TopicShares           []map[string]any
	ExternalIDs           ExternalIDs
}

// PaperAuthor associates an [Author] with a [Paper] at a specific position
// in the author list, recording whether they are a corresponding author.
type PaperAuthor struct {
	PaperID         string
	AuthorID        string
	AuthorOrder     int
	IsCorresponding bool
}

// Paper is a single scholarly work.
//
// Conclusion, RelatedWorks, and PublicationDate are populated when the
// source provider exposes them; they may be zero-valued otherwise.
type Paper struct {
	ID   string
	DOI  string
	Year int

	Title           string
	Abstract        string
	Conclusion      string
	PublicationDate string
	Field           string
	Language        string

	VenueID         string
	VenueInstanceID string
	SourceID        string
	PublisherID     string

	Concepts map[string]ConceptScore

	ReferencedWorks []string
	RelatedWorks    []string

	ExternalIDs ExternalIDs
}

// Concept is a field-of-study tag from the scholarly provider's concept
// taxonomy (e.g., "machine learning", level 2).
//
// Description, WorksCount, CitedByCount, and RelatedConcepts are populated
// by concept enrichment; a freshly ingested concept has only ID, Name, and
// Level set.
type Concept struct {
	ID              string
	Name            string
	Level           int
	Description     string
	WorksCount      int
	CitedByCount    int
	RelatedConcepts []map[string]any
}

// EmbeddingKind distinguishes which entity family an embedding row belongs
// to, selecting which table/index an operation targets.
type EmbeddingKind string

const (
	// KindPaper targets paper embeddings / the paper ANN index.
	KindPaper EmbeddingKind = "paper"
	// KindConcept targets concept embeddings / the concept ANN index.
	KindConcept EmbeddingKind = "concept"
)

// Embedding is a single stored vector for one entity under one model label.
// The pair (EntityID, ModelLabel) is the storage key — multiple model
// generations of an embedding can coexist for the same entity.
type Embedding struct {
	EntityID   string
	ModelLabel string
	Vector     []float32
	CreatedAt  time.Time
}

// IngestedConcept is the ingestion cursor row tracking how much of a
// concept's work list has already been pulled into the catalog.
type IngestedConcept struct {
	ConceptID      string
	PagesIngested  int
	LastIngestedAt time.Time
}

// NormalizedPaper is the fully normalized output of the provider client's
// normalization step: everything [Paper] needs plus the denormalized venue
// and author records it references, ready for upsert.
type NormalizedPaper struct {
	Paper

	Venue         *Venue
	VenueInstance *VenueInstance

	Authors              []Author
	AuthorOrder          []int
	IsCorrespondingFlags []bool
}

// SearchResult is one row of a search-engine response: the matched paper
// plus its similarity score under the mode that produced it.
type SearchResult struct {
	Paper Paper
	Score float64
}

// ConceptSearchResult is one row of a concept-search response.
type ConceptSearchResult struct {
	Concept Concept
	Score   float64
}

// SourceSearchResult is one row of a source-aggregated search response (the
// "Venue/source search" mode, which ranks the journals/repositories a
// matching paper was published through rather than the papers themselves).
// ContributingPaperIDs lists every paper that contributed to Score, for
// auditability.
type SourceSearchResult struct {
	Source               Source
	Score                float64
	ContributingPaperIDs []string
}

// AuthorSearchResult is one row of an author-search response.
type AuthorSearchResult struct {
	Author Author
	Score  float64
}
