package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/types"
)

func marshalCandidates(cands []types.Candidate) ([]byte, error) {
	return json.Marshal(cands)
}

func unmarshalCandidates(b []byte) ([]types.Candidate, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out []types.Candidate
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	return out, nil
}

// CreateQuarantine persists an unresolved resolution attempt and returns
// its ID.
func (s *Store) CreateQuarantine(ctx context.Context, q types.Quarantine) (int64, error) {
	candidatesJSON, err := marshalCandidates(q.Candidates)
	if err != nil {
		return 0, fmt.Errorf("encode candidates: %w", err)
	}
	contextJSON, err := marshalAttrs(q.Context)
	if err != nil {
		return 0, fmt.Errorf("encode context: %w", err)
	}

	row := s.queryRow(ctx, s.pool, `
		INSERT INTO entity_quarantine (raw_text, context, candidates, reason)
		VALUES ($1, $2::jsonb, $3::jsonb, $4)
		RETURNING id
	`, q.RawText, contextJSON, candidatesJSON, q.Reason)

	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, TranslateError(err)
	}
	return id, nil
}

// GetQuarantineItems lists quarantine records, resolved or pending,
// newest first, with pagination.
func (s *Store) GetQuarantineItems(ctx context.Context, resolved bool, limit, offset int) ([]types.Quarantine, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, s.pool, `
		SELECT id, raw_text, context, candidates, reason, resolved, resolved_syn_id, resolved_by, created_at, resolved_at
		FROM entity_quarantine
		WHERE resolved = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, resolved, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Quarantine
	for rows.Next() {
		var q types.Quarantine
		var contextRaw, candidatesRaw []byte
		if err := rows.Scan(&q.ID, &q.RawText, &contextRaw, &candidatesRaw, &q.Reason, &q.Resolved,
			&q.ResolvedSynID, &q.ResolvedBy, &q.CreatedAt, &q.ResolvedAt); err != nil {
			return nil, TranslateError(err)
		}
		if q.Context, err = unmarshalAttrs(contextRaw); err != nil {
			return nil, err
		}
		if q.Candidates, err = unmarshalCandidates(candidatesRaw); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, TranslateError(rows.Err())
}

// ResolveQuarantineItem marks a quarantine record resolved against a
// manually-chosen syn_id.
func (s *Store) ResolveQuarantineItem(ctx context.Context, id int64, synID, resolvedBy string) error {
	tag, err := s.exec(ctx, s.pool, `
		UPDATE entity_quarantine
		SET resolved = true, resolved_syn_id = $1, resolved_by = $2, resolved_at = now()
		WHERE id = $3 AND NOT resolved
	`, synID, resolvedBy, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: quarantine item %d", ontoerr.ErrNotFound, id)
	}
	return nil
}
