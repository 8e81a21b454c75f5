// Package edges implements the Edge Manager component: typed,
// directed, SCD2-versioned relationships between entities, layered
// onto the Go store.Store interface.
package edges

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/store"
	"github.com/skywalkerx28/nexus/internal/types"
)

// Manager performs SCD2 mutation and querying of edges.
type Manager struct {
	store store.Store
	clock clock.Clock
}

// New returns a Manager backed by st, timestamping with clk.
func New(st store.Store, clk clock.Clock) *Manager {
	return &Manager{store: st, clock: clk}
}

// AddEdge adds or revises the edge (src, dst, relType). observedAt and
// validFrom default to "now" when the zero time is passed; validFrom
// defaults to observedAt when only observedAt is given. Returns
// (inserted, updated) per the significant-change rule.
func (m *Manager) AddEdge(ctx context.Context, src, dst, relType, source string, confidence float64, attrs map[string]any, evidence *string, observedAt, validFrom time.Time) (bool, bool, error) {
	if src == dst {
		return false, false, ontoerr.Invalidf("source and destination cannot be the same")
	}
	if !idgen.Validate(src) {
		return false, false, ontoerr.Invalidf("malformed syn_id %q", src)
	}
	if !idgen.Validate(dst) {
		return false, false, ontoerr.Invalidf("malformed syn_id %q", dst)
	}
	if confidence < 0 || confidence > 1 {
		return false, false, ontoerr.Invalidf("confidence must be 0-1, got %v", confidence)
	}

	now := m.clock.Now()
	if observedAt.IsZero() {
		observedAt = now
	}
	if validFrom.IsZero() {
		validFrom = observedAt
	}

	e := types.Edge{
		SrcSynID:   src,
		DstSynID:   dst,
		RelType:    relType,
		Attrs:      attrs,
		Source:     source,
		Evidence:   evidence,
		Confidence: confidence,
		ValidFrom:  validFrom,
		ObservedAt: observedAt,
	}
	if err := e.Validate(); err != nil {
		return false, false, err
	}

	inserted, updated, err := m.store.AddEdge(ctx, e)
	if err != nil {
		if ontoerr.Is(err, ontoerr.ErrEdgeConflict) {
			return false, false, err
		}
		return false, false, ontoerr.Wrap("add_edge", ontoerr.ErrStorage, err)
	}
	return inserted, updated, nil
}

// BatchItem is one entry of an AddEdgesBatch call.
type BatchItem struct {
	Src, Dst, RelType, Source string
	Confidence                float64
	Attrs                     map[string]any
	Evidence                  *string
	ObservedAt, ValidFrom     time.Time
}

// BatchResult is one entry's outcome, carrying its own error so the
// caller can report exactly which item failed without losing the
// others' results.
type BatchResult struct {
	Inserted, Updated bool
	Err               error
}

// MaxBatchSize is the upper bound placed on edge/attribute batches.
const MaxBatchSize = 1000

// AddEdgesBatch validates and applies every item in one atomic unit:
// if any item is invalid or conflicts, the whole batch is rolled back
// and every result carries its own error.
func (m *Manager) AddEdgesBatch(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	if len(items) == 0 {
		return nil, ontoerr.Invalidf("batch must contain at least 1 item")
	}
	if len(items) > MaxBatchSize {
		return nil, ontoerr.Invalidf("batch of %d exceeds max size %d", len(items), MaxBatchSize)
	}

	now := m.clock.Now()
	edgeList := make([]types.Edge, len(items))
	preErrs := make([]error, len(items))

	// Each goroutine only ever touches its own index of edgeList/preErrs,
	// so no lock is needed around the slice writes themselves.
	var g errgroup.Group
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			observedAt := it.ObservedAt
			if observedAt.IsZero() {
				observedAt = now
			}
			validFrom := it.ValidFrom
			if validFrom.IsZero() {
				validFrom = observedAt
			}
			e := types.Edge{
				SrcSynID:   it.Src,
				DstSynID:   it.Dst,
				RelType:    it.RelType,
				Attrs:      it.Attrs,
				Source:     it.Source,
				Evidence:   it.Evidence,
				Confidence: it.Confidence,
				ValidFrom:  validFrom,
				ObservedAt: observedAt,
			}
			if !idgen.Validate(it.Src) {
				preErrs[i] = ontoerr.Invalidf("malformed syn_id %q", it.Src)
				return nil
			}
			if !idgen.Validate(it.Dst) {
				preErrs[i] = ontoerr.Invalidf("malformed syn_id %q", it.Dst)
				return nil
			}
			if err := e.Validate(); err != nil {
				preErrs[i] = err
				return nil
			}
			edgeList[i] = e
			return nil
		})
	}
	_ = g.Wait() // goroutines record failures into preErrs, never return an error themselves
	anyPreErr := false
	for _, err := range preErrs {
		if err != nil {
			anyPreErr = true
			break
		}
	}

	results := make([]BatchResult, len(items))
	if anyPreErr {
		for i, err := range preErrs {
			results[i] = BatchResult{Err: err}
		}
		return results, ontoerr.Invalidf("batch rejected: %d invalid item(s)", countNonNil(preErrs))
	}

	storeResults, err := m.store.AddEdgesBatch(ctx, edgeList)
	for i, r := range storeResults {
		results[i] = BatchResult{Inserted: r.Inserted, Updated: r.Updated, Err: r.Err}
	}
	return results, err
}

func countNonNil(errs []error) int {
	n := 0
	for _, e := range errs {
		if e != nil {
			n++
		}
	}
	return n
}

// Direction re-exports types.EdgeDirection so callers don't need the
// types package just to pick out/in/both.
type Direction = types.EdgeDirection

const (
	DirectionOut  = types.DirectionOut
	DirectionIn   = types.DirectionIn
	DirectionBoth = types.DirectionBoth
)

// Query narrows a GetEdges call.
type Query struct {
	Direction  Direction
	RelType    *string
	ActiveOnly bool
	Asof       time.Time
	Limit      int
	Offset     int
}

// GetEdges lists edges touching synID per q, paginated and sorted
// observed_at desc, confidence desc.
func (m *Manager) GetEdges(ctx context.Context, synID string, q Query) ([]types.Edge, error) {
	if !idgen.Validate(synID) {
		return nil, ontoerr.Invalidf("malformed syn_id %q", synID)
	}
	if !types.ValidDirection(q.Direction) {
		return nil, ontoerr.Invalidf("invalid direction: %s", q.Direction)
	}

	limit := clampLimit(q.Limit)
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	sq := store.EdgeQuery{
		Direction:  q.Direction,
		RelType:    q.RelType,
		ActiveOnly: q.ActiveOnly,
		Limit:      limit,
		Offset:     offset,
	}
	if !q.Asof.IsZero() {
		asof := q.Asof
		sq.Asof = &asof
	}

	out, err := m.store.GetEdges(ctx, synID, sq)
	if err != nil {
		return nil, ontoerr.Wrap("get_edges", ontoerr.ErrStorage, err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// DeleteEdge closes an open edge (SCD2 soft delete), returning false if
// no open edge matched (idempotent on repeat calls).
func (m *Manager) DeleteEdge(ctx context.Context, src, dst, relType string, validTo time.Time) (bool, error) {
	if validTo.IsZero() {
		validTo = m.clock.Now()
	}
	ok, err := m.store.DeleteEdge(ctx, src, dst, relType, validTo)
	if err != nil {
		return false, ontoerr.Wrap("delete_edge", ontoerr.ErrStorage, err)
	}
	return ok, nil
}

// Stats re-exports store.EdgeStats, the aggregate shape get_edge_stats
// returns.
type Stats = store.EdgeStats

// GetEdgeStats aggregates edge counts and average confidence by
// relationship type.
func (m *Manager) GetEdgeStats(ctx context.Context) (Stats, error) {
	stats, err := m.store.GetEdgeStats(ctx)
	if err != nil {
		return Stats{}, ontoerr.Wrap("get_edge_stats", ontoerr.ErrStorage, err)
	}
	return stats, nil
}
