package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/types"
)

// PapersByConcepts returns, for each of conceptIDs, up to perConceptLimit
// papers whose concepts map contains that id (JSONB containment), ordered
// by the concept's per-paper score descending within each concept.
func (s *Store) PapersByConcepts(ctx context.Context, conceptIDs []string, perConceptLimit int) ([]store.ConceptPaperMatch, error) {
	if len(conceptIDs) == 0 {
		return nil, nil
	}
	if perConceptLimit <= 0 {
		perConceptLimit = 50
	}

	var matches []store.ConceptPaperMatch
	for _, conceptID := range conceptIDs {
		filter, err := json.Marshal(map[string]any{conceptID: map[string]any{}})
		if err != nil {
			return nil, fmt.Errorf("postgres store: marshal concept filter: %w", err)
		}
		rows, err := s.pool.Query(ctx, `
			SELECT id, (concepts->$2->>'Score')::float8
			FROM papers
			WHERE concepts @> $1::jsonb
			ORDER BY (concepts->$2->>'Score')::float8 DESC NULLS LAST
			LIMIT $3`, filter, conceptID, perConceptLimit)
		if err != nil {
			return nil, fmt.Errorf("postgres store: papers by concept %s: %w", conceptID, err)
		}
		rowMatches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.ConceptPaperMatch, error) {
			var m store.ConceptPaperMatch
			m.ConceptID = conceptID
			err := row.Scan(&m.PaperID, &m.ConceptScoreInPaper)
			return m, err
		})
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("postgres store: scan papers by concept %s: %w", conceptID, err)
		}
		matches = append(matches, rowMatches...)
	}
	return matches, nil
}

// PapersConceptsBlob returns the concepts map for each of paperIDs.
func (s *Store) PapersConceptsBlob(ctx context.Context, paperIDs []string) (map[string]map[string]types.ConceptScore, error) {
	if len(paperIDs) == 0 {
		return map[string]map[string]types.ConceptScore{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, concepts FROM papers WHERE id = ANY($1::text[])`, paperIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres store: papers concepts blob: %w", err)
	}
	defer rows.Close()

	result := make(map[string]map[string]types.ConceptScore, len(paperIDs))
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("postgres store: scan concepts blob: %w", err)
		}
		var concepts map[string]types.ConceptScore
		if err := json.Unmarshal(blob, &concepts); err != nil {
			return nil, fmt.Errorf("postgres store: unmarshal concepts blob for %s: %w", id, err)
		}
		result[id] = concepts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres store: iterate concepts blob: %w", err)
	}
	return result, nil
}
