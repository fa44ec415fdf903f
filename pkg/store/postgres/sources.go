package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/types"
)

// UpsertSource inserts or updates a source row, matched by id.
func (s *Store) UpsertSource(ctx context.Context, source types.Source) (string, error) {
	extBytes, err := json.Marshal(source.ExternalIDs)
	if err != nil {
		return "", fmt.Errorf("postgres store: marshal source external_ids: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO sources (id, name, publisher_id, external_ids)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, publisher_id = EXCLUDED.publisher_id,
			external_ids = sources.external_ids || EXCLUDED.external_ids`,
		source.ID, source.Name, source.PublisherID, extBytes)
	if err != nil {
		return "", fmt.Errorf("postgres store: upsert source %s: %w", source.ID, err)
	}
	return source.ID, nil
}

// GetSource retrieves a source by id. Returns (nil, nil) if absent.
func (s *Store) GetSource(ctx context.Context, id string) (*types.Source, error) {
	var src types.Source
	var extBytes []byte
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, publisher_id, external_ids FROM sources WHERE id = $1`, id).
		Scan(&src.ID, &src.Name, &src.PublisherID, &extBytes)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: get source %s: %w", id, err)
	}
	if err := json.Unmarshal(extBytes, &src.ExternalIDs); err != nil {
		return nil, fmt.Errorf("postgres store: unmarshal source external_ids: %w", err)
	}
	return &src, nil
}

// GetSources retrieves full source rows for ids, keyed by id.
func (s *Store) GetSources(ctx context.Context, ids []string) (map[string]types.Source, error) {
	if len(ids) == 0 {
		return map[string]types.Source{}, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, publisher_id, external_ids FROM sources WHERE id = ANY($1::text[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres store: get sources: %w", err)
	}
	defer rows.Close()

	sources, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Source, error) {
		var src types.Source
		var extBytes []byte
		if err := row.Scan(&src.ID, &src.Name, &src.PublisherID, &extBytes); err != nil {
			return src, err
		}
		if err := json.Unmarshal(extBytes, &src.ExternalIDs); err != nil {
			return src, fmt.Errorf("unmarshal source external_ids: %w", err)
		}
		return src, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan sources: %w", err)
	}
	result := make(map[string]types.Source, len(sources))
	for _, src := range sources {
		result[src.ID] = src
	}
	return result, nil
}

// DistinctPaperSourceIDs returns every non-null, distinct source_id
// referenced by a paper row.
func (s *Store) DistinctPaperSourceIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT source_id FROM papers WHERE source_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: distinct paper source ids: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// MissingSourceIDs filters candidateIDs down to those with no matching row
// in the sources table.
func (s *Store) MissingSourceIDs(ctx context.Context, candidateIDs []string) ([]string, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c FROM unnest($1::text[]) AS c
		WHERE NOT EXISTS (SELECT 1 FROM sources WHERE id = c)`, candidateIDs)
	if err != nil {
		return nil, fmt.Errorf("postgres store: missing source ids: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// PapersMissingSourceID returns (paperID, openAlexID) pairs for papers whose
// source_id is null but whose external_ids carries an openalex id.
func (s *Store) PapersMissingSourceID(ctx context.Context) ([]store.PaperProviderRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, external_ids->>'openalex'
		FROM papers
		WHERE source_id IS NULL AND external_ids ? 'openalex'`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: papers missing source id: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.PaperProviderRef, error) {
		var ref store.PaperProviderRef
		err := row.Scan(&ref.PaperID, &ref.ProviderID)
		return ref, err
	})
}

// SetPaperSourceAndPublisher updates source_id/publisher_id for an existing
// paper row.
func (s *Store) SetPaperSourceAndPublisher(ctx context.Context, paperID, sourceID, publisherID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE papers SET source_id = $2, publisher_id = $3 WHERE id = $1`,
		paperID, nullableString(sourceID), publisherID)
	if err != nil {
		return fmt.Errorf("postgres store: set paper source/publisher for %s: %w", paperID, err)
	}
	return nil
}
