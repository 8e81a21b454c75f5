package postgres

import "context"

// schema is the full DDL for the ontology tables, grounded on the column
// references the original registry/edges/attributes/cache modules make.
// Partial unique indexes (WHERE valid_to IS NULL) are what the SCD2
// "one open version" invariant actually rests on; the application layer
// only decides *when* to close a version, never enforces uniqueness
// itself.
const schema = `
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS entity_registry (
    syn_id          TEXT PRIMARY KEY,
    type            TEXT NOT NULL,
    canonical_name  TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'ACTIVE',
    replaces_syn_id TEXT REFERENCES entity_registry(syn_id),
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS entity_registry_name_fts_idx
    ON entity_registry USING GIN (to_tsvector('english', canonical_name));

CREATE TABLE IF NOT EXISTS identifiers (
    id         BIGSERIAL PRIMARY KEY,
    syn_id     TEXT NOT NULL REFERENCES entity_registry(syn_id),
    scheme     TEXT NOT NULL,
    value      TEXT NOT NULL,
    valid_from TIMESTAMPTZ NOT NULL,
    valid_to   TIMESTAMPTZ,
    UNIQUE (syn_id, scheme, valid_from)
);

CREATE UNIQUE INDEX IF NOT EXISTS identifiers_scheme_value_open_uidx
    ON identifiers (scheme, value) WHERE valid_to IS NULL;

CREATE INDEX IF NOT EXISTS identifiers_syn_id_idx ON identifiers (syn_id);

CREATE TABLE IF NOT EXISTS aliases (
    id         BIGSERIAL PRIMARY KEY,
    syn_id     TEXT NOT NULL REFERENCES entity_registry(syn_id),
    alias      TEXT NOT NULL,
    lang       TEXT,
    source     TEXT,
    confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS aliases_syn_id_idx ON aliases (syn_id);
CREATE INDEX IF NOT EXISTS aliases_alias_trgm_idx ON aliases USING GIN (alias gin_trgm_ops);

CREATE TABLE IF NOT EXISTS edges (
    id          BIGSERIAL PRIMARY KEY,
    src_syn_id  TEXT NOT NULL REFERENCES entity_registry(syn_id),
    dst_syn_id  TEXT NOT NULL REFERENCES entity_registry(syn_id),
    rel_type    TEXT NOT NULL,
    attrs       JSONB,
    source      TEXT NOT NULL,
    evidence    TEXT,
    confidence  DOUBLE PRECISION NOT NULL,
    valid_from  TIMESTAMPTZ NOT NULL,
    valid_to    TIMESTAMPTZ,
    observed_at TIMESTAMPTZ NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS edges_open_uidx
    ON edges (src_syn_id, dst_syn_id, rel_type) WHERE valid_to IS NULL;

CREATE INDEX IF NOT EXISTS edges_src_idx ON edges (src_syn_id) WHERE valid_to IS NULL;
CREATE INDEX IF NOT EXISTS edges_dst_idx ON edges (dst_syn_id) WHERE valid_to IS NULL;

CREATE TABLE IF NOT EXISTS attributes (
    id           BIGSERIAL PRIMARY KEY,
    syn_id       TEXT NOT NULL REFERENCES entity_registry(syn_id),
    key          TEXT NOT NULL,
    datatype     TEXT NOT NULL,
    value_string TEXT,
    value_number DOUBLE PRECISION,
    value_json   JSONB,
    source       TEXT NOT NULL,
    confidence   DOUBLE PRECISION NOT NULL,
    valid_from   TIMESTAMPTZ NOT NULL,
    valid_to     TIMESTAMPTZ,
    observed_at  TIMESTAMPTZ NOT NULL,
    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS attributes_open_uidx
    ON attributes (syn_id, key) WHERE valid_to IS NULL;

CREATE TABLE IF NOT EXISTS entity_quarantine (
    id              BIGSERIAL PRIMARY KEY,
    raw_text        TEXT NOT NULL,
    context         JSONB,
    candidates      JSONB NOT NULL,
    reason          TEXT NOT NULL,
    resolved        BOOLEAN NOT NULL DEFAULT false,
    resolved_syn_id TEXT REFERENCES entity_registry(syn_id),
    resolved_by     TEXT,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    resolved_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS entity_quarantine_unresolved_idx
    ON entity_quarantine (created_at) WHERE NOT resolved;
`

// Migrate applies the schema. It is idempotent: every statement uses
// IF NOT EXISTS, so re-running it against an already-migrated database
// is a no-op.
func Migrate(ctx context.Context, s *Store) error {
	_, err := s.pool.Exec(ctx, schema)
	return err
}
