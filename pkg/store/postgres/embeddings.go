package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/thisismudith/litscout/pkg/store"
	"github.com/thisismudith/litscout/pkg/types"
)

func embeddingsTable(kind types.EmbeddingKind) (table, idCol, textTable, textIDCol string, err error) {
	switch kind {
	case types.KindPaper:
		return "paper_embeddings", "paper_id", "papers", "id", nil
	case types.KindConcept:
		return "concept_embeddings", "concept_id", "concepts", "id", nil
	default:
		return "", "", "", "", fmt.Errorf("postgres store: unknown embedding kind %q", kind)
	}
}

// FilterUnembedded performs a left-anti-join: entities of kind with no
// embedding row for modelLabel, ordered ascending by id.
func (s *Store) FilterUnembedded(ctx context.Context, kind types.EmbeddingKind, modelLabel string, limit int) ([]store.UnembeddedEntity, error) {
	table, idCol, _, _, err := embeddingsTable(kind)
	if err != nil {
		return nil, err
	}

	var query string
	switch kind {
	case types.KindPaper:
		query = fmt.Sprintf(`
			SELECT p.id, p.title, p.abstract, p.conclusion
			FROM papers p
			LEFT JOIN %s e ON e.%s = p.id AND e.model_name = $1
			WHERE e.%s IS NULL
			ORDER BY p.id ASC`, table, idCol, idCol)
	case types.KindConcept:
		query = fmt.Sprintf(`
			SELECT c.id, c.name, c.description, ''
			FROM concepts c
			LEFT JOIN %s e ON e.%s = c.id AND e.model_name = $1
			WHERE e.%s IS NULL
			ORDER BY c.id ASC`, table, idCol, idCol)
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.pool.Query(ctx, query, modelLabel)
	if err != nil {
		return nil, fmt.Errorf("postgres store: filter unembedded %s: %w", kind, err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.UnembeddedEntity, error) {
		var e store.UnembeddedEntity
		err := row.Scan(&e.ID, &e.Title, &e.Abstract, &e.Conclusion)
		return e, err
	})
}

// InsertEmbeddings upserts rows keyed by (entity_id, model_label) in a
// single batch transaction.
func (s *Store) InsertEmbeddings(ctx context.Context, kind types.EmbeddingKind, modelLabel string, rows []types.Embedding) error {
	if len(rows) == 0 {
		return nil
	}
	table, idCol, _, _, err := embeddingsTable(kind)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres store: begin embeddings batch: %w", err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`
		INSERT INTO %s (%s, model_name, embedding_vec, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (%s, model_name) DO UPDATE SET
			embedding_vec = EXCLUDED.embedding_vec, created_at = EXCLUDED.created_at`,
		table, idCol, idCol)

	for _, row := range rows {
		_, err := tx.Exec(ctx, query, row.EntityID, modelLabel, pgvector.NewVector(row.Vector))
		if err != nil {
			return fmt.Errorf("postgres store: insert embedding for %s: %w", row.EntityID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres store: commit embeddings batch: %w", err)
	}
	return nil
}

// AnnSearch sets a session-local probes override, then issues a
// nearest-neighbor SELECT against kind's embeddings table.
func (s *Store) AnnSearch(ctx context.Context, kind types.EmbeddingKind, queryVector []float32, modelLabel string, k, offset, probes int, restrictTo []string) ([]store.AnnHit, error) {
	table, idCol, _, _, err := embeddingsTable(kind)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres store: begin ann search: %w", err)
	}
	defer tx.Rollback(ctx)

	if probes > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL ivfflat.probes = %d", probes)); err != nil {
			return nil, fmt.Errorf("postgres store: set ivfflat.probes: %w", err)
		}
	}

	args := []any{pgvector.NewVector(queryVector), modelLabel}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	where := "model_name = $2 AND embedding_vec IS NOT NULL"
	if len(restrictTo) > 0 {
		where += fmt.Sprintf(" AND %s = ANY(%s)", idCol, next(restrictTo))
	}

	query := fmt.Sprintf(`
		SELECT %s, embedding_vec <-> $1 AS distance
		FROM %s
		WHERE %s
		ORDER BY distance ASC
		LIMIT %d OFFSET %d`, idCol, table, where, k, offset)

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres store: ann search %s: %w", kind, err)
	}
	defer rows.Close()

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.AnnHit, error) {
		var h store.AnnHit
		err := row.Scan(&h.EntityID, &h.Distance)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan ann hits: %w", err)
	}
	return hits, nil
}

var listsPattern = regexp.MustCompile(`lists['"]?\s*=\s*'?(\d+)'?`)

// IndexStats reports the live row count and current ivfflat `lists`
// parameter (0 if no index exists) for kind's embeddings table.
func (s *Store) IndexStats(ctx context.Context, kind types.EmbeddingKind) (store.IndexStats, error) {
	table, idCol, _, _, err := embeddingsTable(kind)
	if err != nil {
		return store.IndexStats{}, err
	}

	var stats store.IndexStats
	err = s.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT count(*) FROM %s WHERE embedding_vec IS NOT NULL`, table),
	).Scan(&stats.RowCount)
	if err != nil {
		return store.IndexStats{}, fmt.Errorf("postgres store: count %s rows: %w", table, err)
	}

	var indexDef *string
	err = s.pool.QueryRow(ctx, `
		SELECT indexdef FROM pg_indexes WHERE tablename = $1 AND indexdef LIKE '%ivfflat%' LIMIT 1`,
		table).Scan(&indexDef)
	if err != nil && err != pgx.ErrNoRows {
		return store.IndexStats{}, fmt.Errorf("postgres store: lookup %s index: %w", table, err)
	}
	if indexDef != nil {
		if m := listsPattern.FindStringSubmatch(*indexDef); len(m) == 2 {
			fmt.Sscanf(m[1], "%d", &stats.CurrentLists)
		}
	}
	_ = idCol
	return stats, nil
}

// EnsureANNIndex drops any existing IVFFLAT index on kind's embeddings table
// and creates it again with the given lists, whether or not lists has changed.
func (s *Store) EnsureANNIndex(ctx context.Context, kind types.EmbeddingKind, lists int) error {
	table, _, _, _, err := embeddingsTable(kind)
	if err != nil {
		return err
	}
	indexName := fmt.Sprintf("idx_%s_ivfflat", table)

	if _, err := s.pool.Exec(ctx, fmt.Sprintf("DROP INDEX IF EXISTS %s", indexName)); err != nil {
		return fmt.Errorf("postgres store: drop %s: %w", indexName, err)
	}
	_, err = s.pool.Exec(ctx, fmt.Sprintf(
		`CREATE INDEX %s ON %s USING ivfflat (embedding_vec vector_l2_ops) WITH (lists = %d)`,
		indexName, table, lists))
	if err != nil {
		return fmt.Errorf("postgres store: create %s: %w", indexName, err)
	}
	return nil
}
