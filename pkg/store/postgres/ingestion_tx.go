package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/types"
)

// ingestionTx implements [store.IngestionTx] over a single [pgx.Tx].
type ingestionTx struct {
	tx pgx.Tx
}

var _ store.IngestionTx = (*ingestionTx)(nil)

// BeginIngestion opens a new transaction-scoped ingestion handle.
func (s *Store) BeginIngestion(ctx context.Context) (store.IngestionTx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: begin ingestion tx: %w", err)
	}
	return &ingestionTx{tx: tx}, nil
}

func (t *ingestionTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit ingestion tx: %w", err)
	}
	return nil
}

func (t *ingestionTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("postgres store: rollback ingestion tx: %w", err)
	}
	return nil
}

// UpsertVenue matches first by any external id present, else by name. A
// match merges external_ids (union of namespaces); a miss inserts a new row.
func (t *ingestionTx) UpsertVenue(ctx context.Context, venue types.Venue) (string, error) {
	extBytes, err := json.Marshal(venue.ExternalIDs)
	if err != nil {
		return "", fmt.Errorf("postgres store: marshal venue external_ids: %w", err)
	}

	var id string
	err = t.tx.QueryRow(ctx, `
		SELECT id FROM venues
		WHERE (external_ids @> $1::jsonb AND $1::jsonb <> '{}'::jsonb) OR name = $2
		LIMIT 1`, extBytes, venue.Name).Scan(&id)
	switch {
	case err == nil:
		_, err = t.tx.Exec(ctx, `
			UPDATE venues SET external_ids = external_ids || $2::jsonb WHERE id = $1`,
			id, extBytes)
		if err != nil {
			return "", fmt.Errorf("postgres store: merge venue external_ids: %w", err)
		}
		return id, nil
	case err == pgx.ErrNoRows:
		id = venue.ID
		_, err = t.tx.Exec(ctx, `
			INSERT INTO venues (id, name, short_name, venue_type, homepage_url, location, rank_label, external_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET external_ids = venues.external_ids || EXCLUDED.external_ids`,
			id, venue.Name, venue.ShortName, venue.VenueType, venue.HomepageURL, venue.Location, venue.RankLabel, extBytes)
		if err != nil {
			return "", fmt.Errorf("postgres store: insert venue: %w", err)
		}
		return id, nil
	default:
		return "", fmt.Errorf("postgres store: lookup venue: %w", err)
	}
}

// UpsertVenueInstance matches on the (venue_id, year) uniqueness constraint.
func (t *ingestionTx) UpsertVenueInstance(ctx context.Context, venueID string, year int) (string, error) {
	if venueID == "" {
		return "", nil
	}
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO venue_instances (id, venue_id, year)
		VALUES ($1, $2, $3)
		ON CONFLICT (venue_id, year) DO UPDATE SET venue_id = EXCLUDED.venue_id
		RETURNING id`,
		fmt.Sprintf("%s:%d", venueID, year), venueID, year).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("postgres store: upsert venue instance: %w", err)
	}
	return id, nil
}

// UpsertConcept inserts a concept stub if absent; an existing row's
// enrichment fields (description, counts, related_concepts) are left
// untouched — those are owned by concept enrichment, not ingestion.
func (t *ingestionTx) UpsertConcept(ctx context.Context, concept types.Concept) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO concepts (id, name, level)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, level = EXCLUDED.level`,
		concept.ID, concept.Name, concept.Level)
	if err != nil {
		return fmt.Errorf("postgres store: upsert concept %s: %w", concept.ID, err)
	}
	return nil
}

// UpsertAuthor matches first by ORCID when present, else by external id.
func (t *ingestionTx) UpsertAuthor(ctx context.Context, author types.Author) (string, error) {
	extBytes, err := json.Marshal(author.ExternalIDs)
	if err != nil {
		return "", fmt.Errorf("postgres store: marshal author external_ids: %w", err)
	}

	var id string
	if author.ORCID != "" {
		err = t.tx.QueryRow(ctx, `SELECT id FROM authors WHERE orcid = $1`, author.ORCID).Scan(&id)
	} else {
		err = pgx.ErrNoRows
	}
	if err == pgx.ErrNoRows && len(author.ExternalIDs) > 0 {
		err = t.tx.QueryRow(ctx, `
			SELECT id FROM authors WHERE external_ids @> $1::jsonb LIMIT 1`, extBytes).Scan(&id)
	}

	switch {
	case err == nil:
		_, err = t.tx.Exec(ctx, `
			UPDATE authors SET full_name = $2, orcid = COALESCE(NULLIF($3, ''), orcid),
				external_ids = external_ids || $4::jsonb
			WHERE id = $1`,
			id, author.FullName, author.ORCID, extBytes)
		if err != nil {
			return "", fmt.Errorf("postgres store: update author: %w", err)
		}
		return id, nil
	case err == pgx.ErrNoRows:
		id = author.ID
		var orcid *string
		if author.ORCID != "" {
			orcid = &author.ORCID
		}
		_, err = t.tx.Exec(ctx, `
			INSERT INTO authors (id, full_name, orcid, external_ids)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET external_ids = authors.external_ids || EXCLUDED.external_ids`,
			id, author.FullName, orcid, extBytes)
		if err != nil {
			return "", fmt.Errorf("postgres store: insert author: %w", err)
		}
		return id, nil
	default:
		return "", fmt.Errorf("postgres store: lookup author: %w", err)
	}
}

// UpsertPaper matches first by DOI, else by external_ids["openalex"]. On a
// match, external_ids is merged and venue/venue-instance linkage is only
// filled in when currently null — ingestion never overwrites an established
// link. source_id and publisher_id are not written here.
func (t *ingestionTx) UpsertPaper(ctx context.Context, paper types.Paper, venueID, venueInstanceID string) (string, error) {
	extBytes, err := json.Marshal(paper.ExternalIDs)
	if err != nil {
		return "", fmt.Errorf("postgres store: marshal paper external_ids: %w", err)
	}
	conceptsBytes, err := json.Marshal(paper.Concepts)
	if err != nil {
		return "", fmt.Errorf("postgres store: marshal paper concepts: %w", err)
	}
	refBytes, err := json.Marshal(paper.ReferencedWorks)
	if err != nil {
		return "", fmt.Errorf("postgres store: marshal referenced_works: %w", err)
	}
	relBytes, err := json.Marshal(paper.RelatedWorks)
	if err != nil {
		return "", fmt.Errorf("postgres store: marshal related_works: %w", err)
	}

	var id string
	if paper.DOI != "" {
		err = t.tx.QueryRow(ctx, `SELECT id FROM papers WHERE doi = $1`, paper.DOI).Scan(&id)
	} else {
		err = pgx.ErrNoRows
	}
	if err == pgx.ErrNoRows {
		if openalexID, ok := paper.ExternalIDs["openalex"]; ok {
			err = t.tx.QueryRow(ctx, `
				SELECT id FROM papers WHERE external_ids @> $1::jsonb LIMIT 1`,
				mustJSON(map[string]string{"openalex": openalexID})).Scan(&id)
		}
	}

	var doi *string
	if paper.DOI != "" {
		doi = &paper.DOI
	}

	switch {
	case err == nil:
		_, err = t.tx.Exec(ctx, `
			UPDATE papers SET
				title = $2, abstract = $3, conclusion = $4, year = $5,
				publication_date = $6, doi = COALESCE($7, doi), field = $8, language = $9,
				venue_id = COALESCE(papers.venue_id, $10),
				venue_instance_id = COALESCE(papers.venue_instance_id, $11),
				concepts = papers.concepts || $12::jsonb,
				referenced_works = $13::jsonb, related_works = $14::jsonb,
				external_ids = papers.external_ids || $15::jsonb
			WHERE id = $1`,
			id, paper.Title, paper.Abstract, paper.Conclusion, nullableInt(paper.Year),
			paper.PublicationDate, doi, paper.Field, paper.Language,
			nullableString(venueID), nullableString(venueInstanceID),
			conceptsBytes, refBytes, relBytes, extBytes)
		if err != nil {
			return "", fmt.Errorf("postgres store: update paper: %w", err)
		}
		return id, nil
	case err == pgx.ErrNoRows:
		id = paper.ID
		// source_id/publisher_id are intentionally left unset here: the
		// sources table is populated later by source enrichment, and a
		// not-yet-existing source_id would violate the FK constraint.
		// SetPaperSourceAndPublisher links the two once the source row
		// exists (source enrichment, or BackfillPaperSources for papers
		// whose original payload had no host_venue at all).
		_, err = t.tx.Exec(ctx, `
			INSERT INTO papers (id, title, abstract, conclusion, year, publication_date, doi,
				field, language, venue_id, venue_instance_id, concepts, referenced_works,
				related_works, external_ids)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO UPDATE SET external_ids = papers.external_ids || EXCLUDED.external_ids`,
			id, nonEmpty(paper.Title, "(untitled)"), paper.Abstract, paper.Conclusion,
			nullableInt(paper.Year), paper.PublicationDate, doi, paper.Field, paper.Language,
			nullableString(venueID), nullableString(venueInstanceID), conceptsBytes, refBytes,
			relBytes, extBytes)
		if err != nil {
			return "", fmt.Errorf("postgres store: insert paper: %w", err)
		}
		return id, nil
	default:
		return "", fmt.Errorf("postgres store: lookup paper: %w", err)
	}
}

// InsertPaperAuthor upserts one association, matched by (paper_id, author_id).
func (t *ingestionTx) InsertPaperAuthor(ctx context.Context, link types.PaperAuthor) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO paper_authors (paper_id, author_id, author_order, is_corresponding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (paper_id, author_id) DO UPDATE SET
			author_order = EXCLUDED.author_order, is_corresponding = EXCLUDED.is_corresponding`,
		link.PaperID, link.AuthorID, link.AuthorOrder, link.IsCorresponding)
	if err != nil {
		return fmt.Errorf("postgres store: insert paper_author: %w", err)
	}
	return nil
}

// MarkConceptIngested upserts the ingestion cursor row for conceptID.
func (t *ingestionTx) MarkConceptIngested(ctx context.Context, conceptID string, pagesIngested int) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO openalex_ingested_concepts (concept_id, pages_ingested, last_ingested_at)
		VALUES ($1, $2, now())
		ON CONFLICT (concept_id) DO UPDATE SET
			pages_ingested = EXCLUDED.pages_ingested, last_ingested_at = now()`,
		conceptID, pagesIngested)
	if err != nil {
		return fmt.Errorf("postgres store: mark concept ingested: %w", err)
	}
	return nil
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("postgres store: marshal literal: %v", err))
	}
	return b
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
