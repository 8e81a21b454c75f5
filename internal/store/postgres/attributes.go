package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/store"
	"github.com/skywalkerx28/nexus/internal/types"
)

// UpsertAttribute applies SCD2 change detection to a single attribute
// slot: if an open version exists with an equivalent value/datatype/
// source/confidence, the call is a no-op; otherwise it's closed and a
// new version inserted, atomically.
func (s *Store) UpsertAttribute(ctx context.Context, a types.Attribute) (bool, bool, error) {
	var inserted, updated bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		i, u, err := s.upsertAttributeTx(ctx, tx, a)
		inserted, updated = i, u
		return err
	})
	return inserted, updated, err
}

func (s *Store) upsertAttributeTx(ctx context.Context, tx pgx.Tx, a types.Attribute) (bool, bool, error) {
	row := s.queryRow(ctx, tx, `
		SELECT datatype, value_string, value_number, value_json, source, confidence
		FROM attributes WHERE syn_id = $1 AND key = $2 AND valid_to IS NULL
		FOR UPDATE
	`, a.SynID, a.Key)

	var existing types.Attribute
	var valueJSONRaw []byte
	err := row.Scan(&existing.Datatype, &existing.ValueString, &existing.ValueNumber, &valueJSONRaw, &existing.Source, &existing.Confidence)
	switch {
	case err == nil:
		existing.ValueJSON, err = unmarshalAttrs(valueJSONRaw)
		if err != nil {
			return false, false, err
		}
		if a.SameAs(existing) {
			return false, false, nil
		}
		if _, err := s.exec(ctx, tx, `
			UPDATE attributes SET valid_to = $1, updated_at = now()
			WHERE syn_id = $2 AND key = $3 AND valid_to IS NULL
		`, a.ValidFrom, a.SynID, a.Key); err != nil {
			return false, false, err
		}
		if err := s.insertAttribute(ctx, tx, a); err != nil {
			return false, false, err
		}
		return false, true, nil

	case ontoerr.Is(TranslateError(err), ontoerr.ErrNotFound):
		if err := s.insertAttribute(ctx, tx, a); err != nil {
			return false, false, err
		}
		return true, false, nil

	default:
		return false, false, TranslateError(err)
	}
}

func (s *Store) insertAttribute(ctx context.Context, tx pgx.Tx, a types.Attribute) error {
	valueJSON, err := marshalAttrs(a.ValueJSON)
	if err != nil {
		return ontoerr.Invalidf("encode value_json: %v", err)
	}
	_, err = s.exec(ctx, tx, `
		INSERT INTO attributes (syn_id, key, datatype, value_string, value_number, value_json, source, confidence, valid_from, observed_at)
		VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8, $9, $10)
	`, a.SynID, a.Key, string(a.Datatype), a.ValueString, a.ValueNumber, valueJSON, a.Source, a.Confidence, a.ValidFrom, a.ObservedAt)
	return err
}

// UpsertAttributesBatch applies every attribute in one transaction,
// rolling back entirely if any item fails.
func (s *Store) UpsertAttributesBatch(ctx context.Context, attrs []types.Attribute) ([]store.AttributeResult, error) {
	results := make([]store.AttributeResult, len(attrs))
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var firstErr error
		for i, a := range attrs {
			inserted, updated, err := s.upsertAttributeTx(ctx, tx, a)
			results[i] = store.AttributeResult{Attribute: a, Inserted: inserted, Updated: updated, Err: err}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
	return results, err
}

// GetAttributes lists an entity's attributes, optionally filtered to one
// key and/or active-only.
func (s *Store) GetAttributes(ctx context.Context, synID string, q store.AttributeQuery) ([]types.Attribute, error) {
	var rows pgx.Rows
	var err error

	switch {
	case q.Key != nil && q.ActiveOnly:
		rows, err = s.query(ctx, s.pool, `
			SELECT key, datatype, value_string, value_number, value_json, source, confidence, valid_from, valid_to, observed_at, updated_at
			FROM attributes WHERE syn_id = $1 AND key = $2 AND valid_to IS NULL
		`, synID, *q.Key)
	case q.Key != nil:
		rows, err = s.query(ctx, s.pool, `
			SELECT key, datatype, value_string, value_number, value_json, source, confidence, valid_from, valid_to, observed_at, updated_at
			FROM attributes WHERE syn_id = $1 AND key = $2
			ORDER BY valid_from DESC
		`, synID, *q.Key)
	case q.ActiveOnly:
		rows, err = s.query(ctx, s.pool, `
			SELECT key, datatype, value_string, value_number, value_json, source, confidence, valid_from, valid_to, observed_at, updated_at
			FROM attributes WHERE syn_id = $1 AND valid_to IS NULL
			ORDER BY key
		`, synID)
	default:
		rows, err = s.query(ctx, s.pool, `
			SELECT key, datatype, value_string, value_number, value_json, source, confidence, valid_from, valid_to, observed_at, updated_at
			FROM attributes WHERE syn_id = $1
			ORDER BY key, valid_from DESC
		`, synID)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Attribute
	for rows.Next() {
		var a types.Attribute
		var datatype string
		var valueJSONRaw []byte
		a.SynID = synID
		if err := rows.Scan(&a.Key, &datatype, &a.ValueString, &a.ValueNumber, &valueJSONRaw,
			&a.Source, &a.Confidence, &a.ValidFrom, &a.ValidTo, &a.ObservedAt, &a.UpdatedAt); err != nil {
			return nil, TranslateError(err)
		}
		a.Datatype = types.AttributeDatatype(datatype)
		a.ValueJSON, err = unmarshalAttrs(valueJSONRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, TranslateError(rows.Err())
}
