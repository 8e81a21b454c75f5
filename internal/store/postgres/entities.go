package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/store"
	"github.com/skywalkerx28/nexus/internal/types"
)

// CreateEntity inserts a new entity row. The caller (internal/registry)
// is responsible for minting SynID before calling this.
func (s *Store) CreateEntity(ctx context.Context, e types.Entity) error {
	_, err := s.exec(ctx, s.pool, `
		INSERT INTO entity_registry (syn_id, type, canonical_name, status, replaces_syn_id)
		VALUES ($1, $2, $3, $4, $5)
	`, e.SynID, string(e.Type), e.CanonicalName, string(e.Status), e.ReplacesSynID)
	return err
}

// GetEntity fetches an entity by syn_id. Returns ontoerr.ErrNotFound if
// absent.
func (s *Store) GetEntity(ctx context.Context, synID string) (*types.Entity, error) {
	row := s.queryRow(ctx, s.pool, `
		SELECT syn_id, type, canonical_name, status, replaces_syn_id, created_at, updated_at
		FROM entity_registry WHERE syn_id = $1
	`, synID)

	var e types.Entity
	var typ, status string
	if err := row.Scan(&e.SynID, &typ, &e.CanonicalName, &status, &e.ReplacesSynID, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, TranslateError(err)
	}
	e.Type = idgen.EntityType(typ)
	e.Status = types.EntityStatus(status)
	return &e, nil
}

// AddIdentifier inserts a new identifier version. Per the SCD2
// lifecycle identifiers/edges/attributes share
// alike, adding a new value for a (syn_id, scheme) pair that already
// has a different open value closes the old version first. The
// store's partial unique index (scheme, value) WHERE valid_to IS NULL
// is the actual source of truth for the "one owner per identifier"
// invariant; this insert races safely against concurrent callers
// because Postgres checks that index on every insert.
func (s *Store) AddIdentifier(ctx context.Context, ident types.Identifier) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.exec(ctx, tx, `
			UPDATE identifiers SET valid_to = $1
			WHERE syn_id = $2 AND scheme = $3 AND value <> $4 AND valid_to IS NULL
		`, ident.ValidFrom, ident.SynID, ident.Scheme, ident.Value); err != nil {
			return err
		}
		_, err := s.exec(ctx, tx, `
			INSERT INTO identifiers (syn_id, scheme, value, valid_from, valid_to)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (syn_id, scheme, valid_from) DO NOTHING
		`, ident.SynID, ident.Scheme, ident.Value, ident.ValidFrom, ident.ValidTo)
		return err
	})
}

// ResolveIdentifier looks up the syn_id an identifier mapped to as of a
// point in time. TICKER lookups fold case (UPPER(i.value) = UPPER($2)),
// matching ticker conventions where "aapl" and "AAPL" name the same
// symbol; every other scheme is compared exactly.
func (s *Store) ResolveIdentifier(ctx context.Context, scheme, value string, asof time.Time) (*store.ResolvedIdentifier, error) {
	row := s.queryRow(ctx, s.pool, `
		SELECT i.syn_id, i.valid_from, i.valid_to, e.canonical_name, e.type, e.status
		FROM identifiers i
		JOIN entity_registry e ON i.syn_id = e.syn_id
		WHERE i.scheme = $1
		  AND (CASE WHEN $1 = 'TICKER' THEN UPPER(i.value) = UPPER($2) ELSE i.value = $2 END)
		  AND i.valid_from <= $3
		  AND (i.valid_to IS NULL OR i.valid_to > $3)
		LIMIT 1
	`, scheme, value, asof)

	var r store.ResolvedIdentifier
	var status string
	if err := row.Scan(&r.SynID, &r.ValidFrom, &r.ValidTo, &r.CanonicalName, &r.Type, &status); err != nil {
		return nil, TranslateError(err)
	}
	r.Status = types.EntityStatus(status)
	return &r, nil
}

// GetIdentifiers lists an entity's identifier versions, active-only or
// full history ordered newest-first.
func (s *Store) GetIdentifiers(ctx context.Context, synID string, activeOnly bool) ([]types.Identifier, error) {
	var rows pgx.Rows
	var err error
	if activeOnly {
		rows, err = s.query(ctx, s.pool, `
			SELECT scheme, value, valid_from, valid_to
			FROM identifiers WHERE syn_id = $1 AND valid_to IS NULL
			ORDER BY scheme
		`, synID)
	} else {
		rows, err = s.query(ctx, s.pool, `
			SELECT scheme, value, valid_from, valid_to
			FROM identifiers WHERE syn_id = $1
			ORDER BY scheme, valid_from DESC
		`, synID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Identifier
	for rows.Next() {
		var ident types.Identifier
		ident.SynID = synID
		if err := rows.Scan(&ident.Scheme, &ident.Value, &ident.ValidFrom, &ident.ValidTo); err != nil {
			return nil, TranslateError(err)
		}
		out = append(out, ident)
	}
	return out, TranslateError(rows.Err())
}

// AddAlias inserts an alias. Aliases are append-only; there is no SCD2
// closure for them.
func (s *Store) AddAlias(ctx context.Context, a types.Alias) error {
	_, err := s.exec(ctx, s.pool, `
		INSERT INTO aliases (syn_id, alias, lang, source, confidence)
		VALUES ($1, $2, $3, $4, $5)
	`, a.SynID, a.Alias, a.Lang, a.Source, a.Confidence)
	return err
}

// GetAliases lists an entity's aliases, highest-confidence and most
// recent first.
func (s *Store) GetAliases(ctx context.Context, synID string) ([]types.Alias, error) {
	rows, err := s.query(ctx, s.pool, `
		SELECT alias, lang, source, confidence, created_at
		FROM aliases WHERE syn_id = $1
		ORDER BY confidence DESC, created_at DESC
	`, synID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Alias
	for rows.Next() {
		var a types.Alias
		a.SynID = synID
		if err := rows.Scan(&a.Alias, &a.Lang, &a.Source, &a.Confidence, &a.CreatedAt); err != nil {
			return nil, TranslateError(err)
		}
		out = append(out, a)
	}
	return out, TranslateError(rows.Err())
}

// SearchByName ranks active entities by full-text relevance against
// canonical_name.
func (s *Store) SearchByName(ctx context.Context, query string, limit int) ([]store.EntitySearchResult, error) {
	rows, err := s.query(ctx, s.pool, `
		SELECT syn_id, type, canonical_name, status,
		       ts_rank(to_tsvector('english', canonical_name), plainto_tsquery('english', $1)) AS rank
		FROM entity_registry
		WHERE status = 'ACTIVE'
		  AND to_tsvector('english', canonical_name) @@ plainto_tsquery('english', $1)
		ORDER BY rank DESC, canonical_name
		LIMIT $2
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.EntitySearchResult
	for rows.Next() {
		var r store.EntitySearchResult
		var typ, status string
		if err := rows.Scan(&r.Entity.SynID, &typ, &r.Entity.CanonicalName, &status, &r.Rank); err != nil {
			return nil, TranslateError(err)
		}
		r.Entity.Type = idgen.EntityType(typ)
		r.Entity.Status = types.EntityStatus(status)
		out = append(out, r)
	}
	return out, TranslateError(rows.Err())
}

// FuzzyMatchAliases ranks aliases by pg_trgm similarity against text,
// the resolver's last-resort candidate generator. text arrives already
// lowercased (internal/resolver.Normalize), so the alias column is
// folded to lowercase too: otherwise a stored "Apple Inc" would never
// hit similarity 1.0 against a same-cased query, breaking the exact-
// alias stage's minSimilarity=1.0 substitution.
func (s *Store) FuzzyMatchAliases(ctx context.Context, text string, minSimilarity float64, limit int) ([]store.AliasMatch, error) {
	rows, err := s.query(ctx, s.pool, `
		SELECT syn_id, alias, confidence, similarity(LOWER(alias), $1) AS sim
		FROM aliases
		WHERE LOWER(alias) % $1 AND similarity(LOWER(alias), $1) >= $2
		ORDER BY sim DESC
		LIMIT $3
	`, text, minSimilarity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.AliasMatch
	for rows.Next() {
		var m store.AliasMatch
		if err := rows.Scan(&m.SynID, &m.Alias, &m.Confidence, &m.Similarity); err != nil {
			return nil, TranslateError(err)
		}
		out = append(out, m)
	}
	return out, TranslateError(rows.Err())
}
