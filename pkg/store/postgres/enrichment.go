package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thisismudith/litscout/pkg/types"
)

func scanPaper(row pgx.CollectableRow) (types.Paper, error) {
	var p types.Paper
	var conceptsBlob, refBlob, relBlob, extBlob []byte
	var year, venueID, venueInstanceID, sourceID *string
	var yearInt *int
	err := row.Scan(&p.ID, &p.Title, &p.Abstract, &p.Conclusion, &yearInt, &p.PublicationDate,
		&p.DOI, &p.Field, &p.Language, &venueID, &venueInstanceID, &sourceID, &p.PublisherID,
		&conceptsBlob, &refBlob, &relBlob, &extBlob)
	if err != nil {
		return p, err
	}
	_ = year
	if yearInt != nil {
		p.Year = *yearInt
	}
	if venueID != nil {
		p.VenueID = *venueID
	}
	if venueInstanceID != nil {
		p.VenueInstanceID = *venueInstanceID
	}
	if sourceID != nil {
		p.SourceID = *sourceID
	}
	if err := json.Unmarshal(conceptsBlob, &p.Concepts); err != nil {
		return p, fmt.Errorf("unmarshal concepts: %w", err)
	}
	if err := json.Unmarshal(refBlob, &p.ReferencedWorks); err != nil {
		return p, fmt.Errorf("unmarshal referenced_works: %w", err)
	}
	if err := json.Unmarshal(relBlob, &p.RelatedWorks); err != nil {
		return p, fmt.Errorf("unmarshal related_works: %w", err)
	}
	if err := json.Unmarshal(extBlob, &p.ExternalIDs); err != nil {
		return p, fmt.Errorf("unmarshal external_ids: %w", err)
	}
	return p, nil
}

const paperColumns = `id, title, abstract, conclusion, year, publication_date, doi, field, language,
	venue_id, venue_instance_id, source_id, publisher_id, concepts, referenced_works, related_works, external_ids`

// GetPapers retrieves full paper rows for ids, keyed by id.
func (s *Store) GetPapers(ctx context.Context, ids []string) (map[string]types.Paper, error) {
	if len(ids) == 0 {
		return map[string]types.Paper{}, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM papers WHERE id = ANY($1::text[])`, paperColumns), ids)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get papers: %w", err)
	}
	defer rows.Close()

	papers, err := pgx.CollectRows(rows, scanPaper)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan papers: %w", err)
	}
	result := make(map[string]types.Paper, len(papers))
	for _, p := range papers {
		result[p.ID] = p
	}
	return result, nil
}

func scanConcept(row pgx.CollectableRow) (types.Concept, error) {
	var c types.Concept
	var relatedBlob []byte
	err := row.Scan(&c.ID, &c.Name, &c.Level, &c.Description, &c.WorksCount, &c.CitedByCount, &relatedBlob)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(relatedBlob, &c.RelatedConcepts); err != nil {
		return c, fmt.Errorf("unmarshal related_concepts: %w", err)
	}
	return c, nil
}

const conceptColumns = `id, name, level, description, works_count, cited_by_count, related_concepts`

// GetConcepts retrieves full concept rows for ids, keyed by id.
func (s *Store) GetConcepts(ctx context.Context, ids []string) (map[string]types.Concept, error) {
	if len(ids) == 0 {
		return map[string]types.Concept{}, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM concepts WHERE id = ANY($1::text[])`, conceptColumns), ids)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get concepts: %w", err)
	}
	defer rows.Close()

	concepts, err := pgx.CollectRows(rows, scanConcept)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan concepts: %w", err)
	}
	result := make(map[string]types.Concept, len(concepts))
	for _, c := range concepts {
		result[c.ID] = c
	}
	return result, nil
}

// ListConceptIDs returns every concept id, ascending.
func (s *Store) ListConceptIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM concepts ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list concept ids: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// UpdateConceptEnrichment overwrites a concept's enrichment fields.
func (s *Store) UpdateConceptEnrichment(ctx context.Context, concept types.Concept) error {
	relatedBytes, err := json.Marshal(concept.RelatedConcepts)
	if err != nil {
		return fmt.Errorf("postgres store: marshal related_concepts: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE concepts SET description = $2, works_count = $3, cited_by_count = $4, related_concepts = $5
		WHERE id = $1`, concept.ID, concept.Description, concept.WorksCount, concept.CitedByCount, relatedBytes)
	if err != nil {
		return fmt.Errorf("postgres store: update concept enrichment %s: %w", concept.ID, err)
	}
	return nil
}

func scanAuthor(row pgx.CollectableRow) (types.Author, error) {
	var a types.Author
	var orcid *string
	var affBlob, instBlob, topicsBlob, sharesBlob, extBlob []byte
	err := row.Scan(&a.ID, &a.FullName, &orcid, &a.WorksCount, &a.CitedByCount,
		&affBlob, &instBlob, &topicsBlob, &sharesBlob, &extBlob)
	if err != nil {
		return a, err
	}
	if orcid != nil {
		a.ORCID = *orcid
	}
	for dst, blob := range map[*[]map[string]any][]byte{
		&a.Affiliations:          affBlob,
		&a.LastKnownInstitutions: instBlob,
		&a.Topics:                topicsBlob,
		&a.TopicShares:           sharesBlob,
	} {
		if err := json.Unmarshal(blob, dst); err != nil {
			return a, fmt.Errorf("unmarshal author field: %w", err)
		}
	}
	if err := json.Unmarshal(extBlob, &a.ExternalIDs); err != nil {
		return a, fmt.Errorf("unmarshal author external_ids: %w", err)
	}
	return a, nil
}

const authorColumns = `id, full_name, orcid, works_counted, cited_by_count,
	affiliations, last_known_institutions, topics, topic_shares, external_ids`

// GetAuthors retrieves full author rows for ids, keyed by id.
func (s *Store) GetAuthors(ctx context.Context, ids []string) (map[string]types.Author, error) {
	if len(ids) == 0 {
		return map[string]types.Author{}, nil
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM authors WHERE id = ANY($1::text[])`, authorColumns), ids)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get authors: %w", err)
	}
	defer rows.Close()

	authors, err := pgx.CollectRows(rows, scanAuthor)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan authors: %w", err)
	}
	result := make(map[string]types.Author, len(authors))
	for _, a := range authors {
		result[a.ID] = a
	}
	return result, nil
}

// ListAuthors returns every author row.
func (s *Store) ListAuthors(ctx context.Context) ([]types.Author, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM authors ORDER BY id ASC`, authorColumns))
	if err != nil {
		return nil, fmt.Errorf("postgres store: list authors: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, scanAuthor)
}

// UpdateAuthorEnrichment overwrites an author's enrichment fields.
func (s *Store) UpdateAuthorEnrichment(ctx context.Context, author types.Author) error {
	affBytes, _ := json.Marshal(author.Affiliations)
	instBytes, _ := json.Marshal(author.LastKnownInstitutions)
	topicsBytes, _ := json.Marshal(author.Topics)
	sharesBytes, _ := json.Marshal(author.TopicShares)
	_, err := s.pool.Exec(ctx, `
		UPDATE authors SET works_counted = $2, cited_by_count = $3, affiliations = $4,
			last_known_institutions = $5, topics = $6, topic_shares = $7
		WHERE id = $1`,
		author.ID, author.WorksCount, author.CitedByCount, affBytes, instBytes, topicsBytes, sharesBytes)
	if err != nil {
		return fmt.Errorf("postgres store: update author enrichment %s: %w", author.ID, err)
	}
	return nil
}

// PaperAuthorsByPaperIDs returns every paper_authors row for the given papers.
func (s *Store) PaperAuthorsByPaperIDs(ctx context.Context, paperIDs []string) ([]types.PaperAuthor, error) {
	if len(paperIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT paper_id, author_id, author_order, is_corresponding
		FROM paper_authors WHERE paper_id = ANY($1::text[])`, paperIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres store: paper authors by paper ids: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.PaperAuthor, error) {
		var pa types.PaperAuthor
		err := row.Scan(&pa.PaperID, &pa.AuthorID, &pa.AuthorOrder, &pa.IsCorresponding)
		return pa, err
	})
}

// ListPapersForEnrichment returns every paper row, optionally filtered to
// those whose concepts map contains at least one of conceptIDs (JSONB "any
// key exists" via `?|`). A nil/empty conceptIDs returns every paper.
func (s *Store) ListPapersForEnrichment(ctx context.Context, conceptIDs []string) ([]types.Paper, error) {
	query := fmt.Sprintf(`SELECT %s FROM papers`, paperColumns)
	var args []any
	if len(conceptIDs) > 0 {
		query += ` WHERE concepts ?| $1::text[]`
		args = append(args, conceptIDs)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list papers for enrichment: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, scanPaper)
}

// UpdatePaperEnrichment overwrites a paper's title/abstract/concepts from a
// fresh fetch.
func (s *Store) UpdatePaperEnrichment(ctx context.Context, paper types.Paper) error {
	conceptsBytes, err := json.Marshal(paper.Concepts)
	if err != nil {
		return fmt.Errorf("postgres store: marshal concepts: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE papers SET title = $2, abstract = $3, concepts = $4 WHERE id = $1`,
		paper.ID, paper.Title, paper.Abstract, conceptsBytes)
	if err != nil {
		return fmt.Errorf("postgres store: update paper enrichment %s: %w", paper.ID, err)
	}
	return nil
}

// IsConceptIngested reports which of candidateIDs already have an
// ingestion-cursor row.
func (s *Store) IsConceptIngested(ctx context.Context, candidateIDs []string) (map[string]bool, error) {
	result := make(map[string]bool, len(candidateIDs))
	for _, id := range candidateIDs {
		result[id] = false
	}
	if len(candidateIDs) == 0 {
		return result, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT concept_id FROM openalex_ingested_concepts WHERE concept_id = ANY($1::text[])`, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres store: is concept ingested: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres store: scan ingested concept id: %w", err)
		}
		result[id] = true
	}
	return result, rows.Err()
}
