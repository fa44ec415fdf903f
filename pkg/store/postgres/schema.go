// Package postgres provides a PostgreSQL + pgvector implementation of
// [store.Store].
//
// A single [pgxpool.Pool] backs every operation. The pgvector extension must
// be available in the target database; [Migrate] installs it automatically
// via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.NewStore(ctx, dsn, 768)
//	if err != nil { … }
//	defer st.Close()
//
//	tx, err := st.BeginIngestion(ctx)
//	…
//	_ = tx.Commit(ctx)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlCore = `
CREATE TABLE IF NOT EXISTS venues (
    id            TEXT         PRIMARY KEY,
    name          TEXT         NOT NULL,
    short_name    TEXT         NOT NULL DEFAULT '',
    venue_type    TEXT         NOT NULL DEFAULT 'journal',
    homepage_url  TEXT         NOT NULL DEFAULT '',
    location      TEXT         NOT NULL DEFAULT '',
    rank_label    TEXT         NOT NULL DEFAULT '',
    external_ids  JSONB        NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS venue_instances (
    id         TEXT    PRIMARY KEY,
    venue_id   TEXT    NOT NULL REFERENCES venues (id),
    year       INTEGER,
    UNIQUE (venue_id, year)
);

CREATE TABLE IF NOT EXISTS sources (
    id            TEXT   PRIMARY KEY,
    name          TEXT   NOT NULL DEFAULT '',
    publisher_id  TEXT   NOT NULL DEFAULT '',
    external_ids  JSONB  NOT NULL DEFAULT '{}'
);

CREATE TABLE IF NOT EXISTS concepts (
    id                TEXT    PRIMARY KEY,
    name              TEXT    NOT NULL,
    level             INTEGER NOT NULL DEFAULT 0,
    description       TEXT    NOT NULL DEFAULT '',
    works_count       INTEGER NOT NULL DEFAULT 0,
    cited_by_count    INTEGER NOT NULL DEFAULT 0,
    related_concepts  JSONB   NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS authors (
    id                        TEXT    PRIMARY KEY,
    full_name                TEXT    NOT NULL DEFAULT '',
    orcid                     TEXT    UNIQUE,
    works_counted             INTEGER NOT NULL DEFAULT 0,
    cited_by_count            INTEGER NOT NULL DEFAULT 0,
    affiliations              JSONB   NOT NULL DEFAULT '[]',
    last_known_institutions   JSONB   NOT NULL DEFAULT '[]',
    topics                    JSONB   NOT NULL DEFAULT '[]',
    topic_shares              JSONB   NOT NULL DEFAULT '[]',
    external_ids              JSONB   NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_authors_external_ids ON authors USING GIN (external_ids);

CREATE TABLE IF NOT EXISTS papers (
    id                 TEXT    PRIMARY KEY,
    title              TEXT    NOT NULL DEFAULT '(untitled)',
    abstract           TEXT    NOT NULL DEFAULT '',
    conclusion         TEXT    NOT NULL DEFAULT '',
    year               INTEGER,
    publication_date   TEXT    NOT NULL DEFAULT '',
    doi                TEXT    UNIQUE,
    field              TEXT    NOT NULL DEFAULT '',
    language           TEXT    NOT NULL DEFAULT '',
    venue_id           TEXT    REFERENCES venues (id),
    venue_instance_id  TEXT    REFERENCES venue_instances (id),
    source_id          TEXT    REFERENCES sources (id),
    publisher_id       TEXT    NOT NULL DEFAULT '',
    concepts           JSONB   NOT NULL DEFAULT '{}',
    referenced_works   JSONB   NOT NULL DEFAULT '[]',
    related_works      JSONB   NOT NULL DEFAULT '[]',
    external_ids       JSONB   NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_papers_external_ids ON papers USING GIN (external_ids);
CREATE INDEX IF NOT EXISTS idx_papers_concepts ON papers USING GIN (concepts);
CREATE INDEX IF NOT EXISTS idx_papers_source_id ON papers (source_id);

CREATE TABLE IF NOT EXISTS paper_authors (
    paper_id          TEXT    NOT NULL REFERENCES papers (id) ON DELETE CASCADE,
    author_id         TEXT    NOT NULL REFERENCES authors (id) ON DELETE CASCADE,
    author_order      INTEGER NOT NULL DEFAULT 1,
    is_corresponding   BOOLEAN NOT NULL DEFAULT false,
    PRIMARY KEY (paper_id, author_id)
);

CREATE TABLE IF NOT EXISTS openalex_ingested_concepts (
    concept_id        TEXT         PRIMARY KEY,
    pages_ingested     INTEGER      NOT NULL DEFAULT 0,
    last_ingested_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlEmbeddings returns the vector-bearing embeddings DDL with the
// embedding dimension baked into the column type, matching the dimension
// of the configured encoder.
func ddlEmbeddings(dimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS paper_embeddings (
    paper_id        TEXT         NOT NULL REFERENCES papers (id) ON DELETE CASCADE,
    model_name      TEXT         NOT NULL,
    embedding_vec   vector(%d),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (paper_id, model_name)
);

CREATE TABLE IF NOT EXISTS concept_embeddings (
    concept_id      TEXT         NOT NULL REFERENCES concepts (id) ON DELETE CASCADE,
    model_name      TEXT         NOT NULL,
    embedding_vec   vector(%d),
    created_at      TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (concept_id, model_name)
);
`, dimensions, dimensions)
}

// Migrate creates or ensures every required table, extension, and index
// exists. Idempotent (CREATE TABLE/INDEX IF NOT EXISTS) and safe to call on
// every process start.
//
// embeddingDimensions must match the configured encoder's output dimension.
// Changing it after the first migration requires a manual schema change —
// the vector column type is fixed at creation time.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{ddlCore, ddlEmbeddings(embeddingDimensions)}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres store: migrate: %w", err)
		}
	}
	return nil
}
