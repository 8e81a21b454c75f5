package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/store"
	"github.com/skywalkerx28/nexus/internal/types"
)

func marshalAttrs(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func unmarshalAttrs(b []byte) (map[string]any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("decode jsonb: %w", err)
	}
	return m, nil
}

// AddEdge inserts or revises an edge with SCD2 change detection: if an
// open edge exists with equivalent attrs/confidence/source/evidence,
// the call is a no-op; otherwise the open version is closed and a new
// one inserted, atomically.
func (s *Store) AddEdge(ctx context.Context, e types.Edge) (bool, bool, error) {
	var inserted, updated bool
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		i, u, err := s.addEdgeTx(ctx, tx, e)
		inserted, updated = i, u
		return err
	})
	return inserted, updated, err
}

func (s *Store) addEdgeTx(ctx context.Context, tx pgx.Tx, e types.Edge) (bool, bool, error) {
	row := s.queryRow(ctx, tx, `
		SELECT attrs, confidence, source, evidence
		FROM edges
		WHERE src_syn_id = $1 AND dst_syn_id = $2 AND rel_type = $3 AND valid_to IS NULL
		FOR UPDATE
	`, e.SrcSynID, e.DstSynID, e.RelType)

	var existingAttrsRaw []byte
	var existing types.Edge
	err := row.Scan(&existingAttrsRaw, &existing.Confidence, &existing.Source, &existing.Evidence)
	switch {
	case err == nil:
		existing.Attrs, err = unmarshalAttrs(existingAttrsRaw)
		if err != nil {
			return false, false, err
		}
		if e.SameAs(existing) {
			return false, false, nil
		}

		if _, err := s.exec(ctx, tx, `
			UPDATE edges SET valid_to = $1, updated_at = now()
			WHERE src_syn_id = $2 AND dst_syn_id = $3 AND rel_type = $4 AND valid_to IS NULL
		`, e.ValidFrom, e.SrcSynID, e.DstSynID, e.RelType); err != nil {
			return false, false, err
		}
		if err := s.insertEdge(ctx, tx, e); err != nil {
			return false, false, err
		}
		return false, true, nil

	case ontoerr.Is(TranslateError(err), ontoerr.ErrNotFound):
		if err := s.insertEdge(ctx, tx, e); err != nil {
			return false, false, err
		}
		return true, false, nil

	default:
		return false, false, TranslateError(err)
	}
}

func (s *Store) insertEdge(ctx context.Context, tx pgx.Tx, e types.Edge) error {
	attrsJSON, err := marshalAttrs(e.Attrs)
	if err != nil {
		return ontoerr.Invalidf("encode attrs: %v", err)
	}
	_, err = s.exec(ctx, tx, `
		INSERT INTO edges (src_syn_id, dst_syn_id, rel_type, attrs, source, evidence, confidence, valid_from, observed_at)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9)
	`, e.SrcSynID, e.DstSynID, e.RelType, attrsJSON, e.Source, e.Evidence, e.Confidence, e.ValidFrom, e.ObservedAt)
	return err
}

// AddEdgesBatch applies every edge in one transaction. If any item
// fails, the whole batch rolls back and every result carries its
// individual error so the caller can report exactly which items failed.
func (s *Store) AddEdgesBatch(ctx context.Context, edges []types.Edge) ([]store.EdgeResult, error) {
	results := make([]store.EdgeResult, len(edges))
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var firstErr error
		for i, e := range edges {
			inserted, updated, err := s.addEdgeTx(ctx, tx, e)
			results[i] = store.EdgeResult{Edge: e, Inserted: inserted, Updated: updated, Err: err}
			if err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
	return results, err
}

// GetEdges lists edges touching syn_id in the requested direction, with
// pagination and optional rel_type/temporal filtering.
func (s *Store) GetEdges(ctx context.Context, synID string, q store.EdgeQuery) ([]types.Edge, error) {
	if !types.ValidDirection(q.Direction) {
		return nil, ontoerr.Invalidf("invalid direction: %s", q.Direction)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	var directionClause, entityJoin, entitySelect string
	var params []any

	switch q.Direction {
	case types.DirectionOut:
		directionClause = "e.src_syn_id = $1"
		entityJoin = "LEFT JOIN entity_registry dst_entity ON e.dst_syn_id = dst_entity.syn_id"
		entitySelect = "e.dst_syn_id, dst_entity.canonical_name, dst_entity.type"
		params = []any{synID}
	case types.DirectionIn:
		directionClause = "e.dst_syn_id = $1"
		entityJoin = "LEFT JOIN entity_registry src_entity ON e.src_syn_id = src_entity.syn_id"
		entitySelect = "e.src_syn_id, src_entity.canonical_name, src_entity.type"
		params = []any{synID}
	default: // both
		directionClause = "(e.src_syn_id = $1 OR e.dst_syn_id = $1)"
		entityJoin = `
			LEFT JOIN entity_registry src_entity ON e.src_syn_id = src_entity.syn_id
			LEFT JOIN entity_registry dst_entity ON e.dst_syn_id = dst_entity.syn_id
		`
		entitySelect = `
			CASE WHEN e.src_syn_id = $1 THEN e.dst_syn_id ELSE e.src_syn_id END,
			CASE WHEN e.src_syn_id = $1 THEN dst_entity.canonical_name ELSE src_entity.canonical_name END,
			CASE WHEN e.src_syn_id = $1 THEN dst_entity.type ELSE src_entity.type END
		`
		params = []any{synID}
	}

	temporalClause := "AND e.valid_to IS NULL"
	if !q.ActiveOnly {
		temporalClause = ""
		if q.Asof != nil {
			params = append(params, *q.Asof)
			idx := len(params)
			temporalClause = fmt.Sprintf("AND e.valid_from <= $%d AND (e.valid_to IS NULL OR e.valid_to > $%d)", idx, idx)
		}
	}

	relTypeClause := ""
	if q.RelType != nil {
		params = append(params, *q.RelType)
		relTypeClause = fmt.Sprintf("AND e.rel_type = $%d", len(params))
	}

	params = append(params, limit, offset)
	limitIdx := len(params) - 1
	offsetIdx := len(params)

	query := fmt.Sprintf(`
		SELECT e.src_syn_id, e.dst_syn_id, e.rel_type, e.attrs, e.source, e.evidence,
		       e.confidence, e.valid_from, e.valid_to, e.observed_at, e.updated_at,
		       %s
		FROM edges e
		%s
		WHERE %s
		  %s
		  %s
		ORDER BY e.observed_at DESC, e.confidence DESC
		LIMIT $%d OFFSET $%d
	`, entitySelect, entityJoin, directionClause, temporalClause, relTypeClause, limitIdx, offsetIdx)

	rows, err := s.query(ctx, s.pool, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Edge
	for rows.Next() {
		var e types.Edge
		var attrsRaw []byte
		var relatedSynID, relatedName, relatedType *string
		if err := rows.Scan(&e.SrcSynID, &e.DstSynID, &e.RelType, &attrsRaw, &e.Source, &e.Evidence,
			&e.Confidence, &e.ValidFrom, &e.ValidTo, &e.ObservedAt, &e.UpdatedAt,
			&relatedSynID, &relatedName, &relatedType); err != nil {
			return nil, TranslateError(err)
		}
		e.Attrs, err = unmarshalAttrs(attrsRaw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, TranslateError(rows.Err())
}

// DeleteEdge closes an open edge (SCD2 soft delete). Returns false if no
// open edge matched.
func (s *Store) DeleteEdge(ctx context.Context, src, dst, relType string, validTo time.Time) (bool, error) {
	tag, err := s.exec(ctx, s.pool, `
		UPDATE edges SET valid_to = $1, updated_at = now()
		WHERE src_syn_id = $2 AND dst_syn_id = $3 AND rel_type = $4 AND valid_to IS NULL
	`, validTo, src, dst, relType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetEdgeStats aggregates edge counts by relationship type.
func (s *Store) GetEdgeStats(ctx context.Context) (store.EdgeStats, error) {
	rows, err := s.query(ctx, s.pool, `
		SELECT rel_type, COUNT(*) AS total_count,
		       COUNT(*) FILTER (WHERE valid_to IS NULL) AS active_count,
		       AVG(confidence) AS avg_confidence
		FROM edges
		GROUP BY rel_type
		ORDER BY active_count DESC
	`)
	if err != nil {
		return store.EdgeStats{}, err
	}
	defer rows.Close()

	var stats store.EdgeStats
	for rows.Next() {
		var r store.RelTypeStats
		if err := rows.Scan(&r.RelType, &r.TotalCount, &r.ActiveCount, &r.AvgConfidence); err != nil {
			return store.EdgeStats{}, TranslateError(err)
		}
		stats.ByType = append(stats.ByType, r)
		stats.TotalActive += r.ActiveCount
		stats.Total += r.TotalCount
	}
	if err := rows.Err(); err != nil {
		return store.EdgeStats{}, TranslateError(err)
	}
	stats.Historical = stats.Total - stats.TotalActive
	return stats, nil
}
