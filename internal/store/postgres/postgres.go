// Package postgres implements a partial domain.Provider (KV/list, memory,
// vector) on pgx/v5 and pgvector-go. It is the reference backend for
// deployments that want durability and real similarity search; internal/store/memstore remains
// the reference backend for tests. There is no distributed consensus
// here — a single Postgres instance is the unit of durability.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgxpool.Pool and implements domain.Provider,
// domain.MemoryCapable, and domain.VectorCapable.
type Store struct {
	db  *pgxpool.Pool
	dim int
}

// New returns a Store. dim is the embedding vector dimension used to
// create the pgvector column (e.g. 1536 for OpenAI text-embedding-3-small).
func New(db *pgxpool.Pool, dim int) *Store {
	if dim <= 0 {
		dim = 1536
	}
	return &Store{db: db, dim: dim}
}

func (s *Store) IsHealthy(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// schemaDDL creates every table the Store needs. Migrate is intended for
// local/dev bootstrapping; production deployments are expected to apply
// this (or an equivalent) through their own migration tooling.
const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS kv_entries (
	namespace  TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      BYTEA NOT NULL,
	expires_at TIMESTAMPTZ,
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS list_entries (
	namespace TEXT NOT NULL,
	key       TEXT NOT NULL,
	items     TEXT[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (namespace, key)
);

CREATE TABLE IF NOT EXISTS memories (
	id                    UUID PRIMARY KEY,
	user_id               TEXT NOT NULL,
	agent_id              TEXT NOT NULL,
	type                  TEXT NOT NULL,
	content               TEXT NOT NULL,
	importance            DOUBLE PRECISION NOT NULL DEFAULT 0.5,
	resonance             DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	access_count          INTEGER NOT NULL DEFAULT 0,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_accessed_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	keywords              TEXT[] NOT NULL DEFAULT '{}',
	metadata              JSONB NOT NULL DEFAULT '{}',
	status                TEXT NOT NULL DEFAULT 'active',
	never_decay           BOOLEAN NOT NULL DEFAULT FALSE,
	reinforceable         BOOLEAN NOT NULL DEFAULT FALSE,
	custom_half_life_days DOUBLE PRECISION NOT NULL DEFAULT 0,
	embedding             vector(%d)
);
CREATE INDEX IF NOT EXISTS idx_memories_user_agent ON memories (user_id, agent_id, type);

CREATE TABLE IF NOT EXISTS memory_connections (
	id               UUID PRIMARY KEY,
	source_memory_id UUID NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	target_memory_id UUID NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
	user_id          TEXT NOT NULL,
	connection_type  TEXT NOT NULL,
	strength         DOUBLE PRECISION NOT NULL,
	reason           TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	metadata         JSONB NOT NULL DEFAULT '{}',
	UNIQUE (source_memory_id, target_memory_id, connection_type)
);
CREATE INDEX IF NOT EXISTS idx_connections_source ON memory_connections (source_memory_id);
CREATE INDEX IF NOT EXISTS idx_connections_target ON memory_connections (target_memory_id);
`

// Migrate applies schemaDDL. Safe to call repeatedly (every statement is
// IF NOT EXISTS).
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(schemaDDL, s.dim))
	return err
}
