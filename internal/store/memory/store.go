// Package memory implements the Temporal Store in process memory, for
// unit tests and local development without a running Postgres. It holds
// the same SCD2 and uniqueness invariants as the postgres backend using
// plain Go maps and a mutex instead of table constraints.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/store"
	"github.com/skywalkerx28/nexus/internal/types"
)

// Store is an in-memory Temporal Store. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	clock clock.Clock

	entities    map[string]types.Entity
	identifiers []types.Identifier
	aliases     []types.Alias
	edges       []types.Edge
	attributes  []types.Attribute
	quarantine  []types.Quarantine
	nextQID     int64
}

// New returns an empty Store using the system clock.
func New() *Store { return NewWithClock(clock.System{}) }

// NewWithClock returns an empty Store using the given clock, for tests
// that need deterministic "now" values (e.g. asserting valid_to exactly
// equals a prior valid_from).
func NewWithClock(c clock.Clock) *Store {
	return &Store{clock: c, entities: make(map[string]types.Entity)}
}

// Close is a no-op; nothing outlives the process.
func (s *Store) Close() {}

func (s *Store) now() time.Time { return s.clock.Now() }

// CreateEntity inserts a new entity, failing if syn_id is already taken.
func (s *Store) CreateEntity(ctx context.Context, e types.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.SynID]; ok {
		return ontoerr.Invalidf("entity %s already exists", e.SynID)
	}
	now := s.now()
	e.CreatedAt, e.UpdatedAt = now, now
	s.entities[e.SynID] = e
	return nil
}

// GetEntity fetches an entity by syn_id.
func (s *Store) GetEntity(ctx context.Context, synID string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[synID]
	if !ok {
		return nil, ontoerr.ErrNotFound
	}
	cp := e
	return &cp, nil
}

// AddIdentifier inserts a new identifier version. Per the SCD2 lifecycle
// identifiers/edges/attributes share, adding a
// new value for a (syn_id, scheme) pair that already has a different
// open value closes the old version (valid_to <- valid_from) before
// inserting the new one. Rejects the write if another syn_id already
// holds an open identifier with the same (scheme, value), mirroring the
// postgres partial unique index.
func (s *Store) AddIdentifier(ctx context.Context, ident types.Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, other := range s.identifiers {
		if other.Scheme == ident.Scheme && other.Value == ident.Value && other.Open() && other.SynID != ident.SynID {
			return ontoerr.Wrap("add_identifier", ontoerr.ErrIdentifierCollision,
				ontoerr.Invalidf("%s:%s already assigned to %s", ident.Scheme, ident.Value, other.SynID))
		}
	}

	for i := range s.identifiers {
		other := &s.identifiers[i]
		if other.SynID != ident.SynID || other.Scheme != ident.Scheme || !other.Open() {
			continue
		}
		if other.Value == ident.Value {
			if other.ValidFrom.Equal(ident.ValidFrom) {
				return nil // ON CONFLICT (syn_id, scheme, valid_from) DO NOTHING
			}
			continue
		}
		other.ValidTo = &ident.ValidFrom
	}

	s.identifiers = append(s.identifiers, ident)
	return nil
}

// ResolveIdentifier finds the syn_id an (scheme, value) pair mapped to
// as of asof. TICKER lookups are case-insensitive, mirroring the
// postgres backend's UPPER()-folded comparison for that scheme; every
// other scheme is matched exactly.
func (s *Store) ResolveIdentifier(ctx context.Context, scheme, value string, asof time.Time) (*store.ResolvedIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ident := range s.identifiers {
		if ident.Scheme != scheme {
			continue
		}
		if scheme == "TICKER" {
			if !strings.EqualFold(ident.Value, value) {
				continue
			}
		} else if ident.Value != value {
			continue
		}
		if ident.ValidFrom.After(asof) {
			continue
		}
		if ident.ValidTo != nil && !ident.ValidTo.After(asof) {
			continue
		}
		e, ok := s.entities[ident.SynID]
		if !ok {
			continue
		}
		return &store.ResolvedIdentifier{
			SynID:         ident.SynID,
			ValidFrom:     ident.ValidFrom,
			ValidTo:       ident.ValidTo,
			CanonicalName: e.CanonicalName,
			Type:          string(e.Type),
			Status:        e.Status,
		}, nil
	}
	return nil, ontoerr.ErrNotFound
}

// GetIdentifiers lists an entity's identifiers.
func (s *Store) GetIdentifiers(ctx context.Context, synID string, activeOnly bool) ([]types.Identifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Identifier
	for _, ident := range s.identifiers {
		if ident.SynID != synID {
			continue
		}
		if activeOnly && !ident.Open() {
			continue
		}
		out = append(out, ident)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scheme != out[j].Scheme {
			return out[i].Scheme < out[j].Scheme
		}
		return out[i].ValidFrom.After(out[j].ValidFrom)
	})
	return out, nil
}

// AddAlias appends an alias.
func (s *Store) AddAlias(ctx context.Context, a types.Alias) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.CreatedAt = s.now()
	s.aliases = append(s.aliases, a)
	return nil
}

// GetAliases lists an entity's aliases, highest-confidence first.
func (s *Store) GetAliases(ctx context.Context, synID string) ([]types.Alias, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Alias
	for _, a := range s.aliases {
		if a.SynID == synID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// SearchByName ranks active entities by case-insensitive substring match
// against canonical_name, the in-memory stand-in for Postgres full-text
// search (exact ranking semantics differ; rank is query length divided by
// name length, ties broken by name, rather than ts_rank).
func (s *Store) SearchByName(ctx context.Context, query string, limit int) ([]store.EntitySearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil, nil
	}
	var out []store.EntitySearchResult
	for _, e := range s.entities {
		if e.Status != types.StatusActive {
			continue
		}
		name := strings.ToLower(e.CanonicalName)
		if !strings.Contains(name, q) {
			continue
		}
		rank := float64(len(q)) / float64(len(name))
		out = append(out, store.EntitySearchResult{Entity: e, Rank: rank})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		return out[i].Entity.CanonicalName < out[j].Entity.CanonicalName
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ratio computes a normalized similarity in [0,1] from Levenshtein edit
// distance, the same substitution SPEC_FULL.md documents for the
// resolver's canonical-name comparisons: 1 - distance/max(len(a),len(b)).
func ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

// FuzzyMatchAliases ranks aliases by Levenshtein-ratio similarity, the
// in-memory stand-in for pg_trgm's trigram similarity() used by the
// postgres backend; no third-party trigram-similarity library was
// retrieved for the example pack, so this relies on the same edit-
// distance ratio the resolver already uses for canonical-name scoring.
func (s *Store) FuzzyMatchAliases(ctx context.Context, text string, minSimilarity float64, limit int) ([]store.AliasMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	norm := strings.ToLower(strings.TrimSpace(text))
	var out []store.AliasMatch
	for _, a := range s.aliases {
		sim := ratio(norm, strings.ToLower(a.Alias))
		if sim >= minSimilarity {
			out = append(out, store.AliasMatch{SynID: a.SynID, Alias: a.Alias, Similarity: sim, Confidence: a.Confidence})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AddEdge inserts or revises an edge with the same SCD2 change-detection
// rule the postgres backend applies: a no-op if an open edge already
// matches on attrs/confidence/source/evidence, otherwise close-then-insert.
func (s *Store) AddEdge(ctx context.Context, e types.Edge) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addEdgeLocked(e)
}

func (s *Store) addEdgeLocked(e types.Edge) (bool, bool, error) {
	for i := range s.edges {
		existing := s.edges[i]
		if existing.SrcSynID != e.SrcSynID || existing.DstSynID != e.DstSynID || existing.RelType != e.RelType || !existing.Open() {
			continue
		}
		if e.SameAs(existing) {
			return false, false, nil
		}
		s.edges[i].ValidTo = &e.ValidFrom
		s.edges[i].UpdatedAt = s.now()
		e.UpdatedAt = s.now()
		s.edges = append(s.edges, e)
		return false, true, nil
	}
	e.UpdatedAt = s.now()
	s.edges = append(s.edges, e)
	return true, false, nil
}

// AddEdgesBatch applies every edge against the same in-memory slice,
// matching the postgres backend's all-or-nothing transaction: on any
// item failure the whole batch's effect is undone before returning.
func (s *Store) AddEdgesBatch(ctx context.Context, edges []types.Edge) ([]store.EdgeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := append([]types.Edge(nil), s.edges...)
	results := make([]store.EdgeResult, len(edges))
	var firstErr error
	for i, e := range edges {
		inserted, updated, err := s.addEdgeLocked(e)
		results[i] = store.EdgeResult{Edge: e, Inserted: inserted, Updated: updated, Err: err}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		s.edges = snapshot
	}
	return results, firstErr
}

// GetEdges lists edges touching synID in the requested direction, with
// pagination and optional rel_type/temporal filtering, ordered the same
// way the postgres backend orders its result set.
func (s *Store) GetEdges(ctx context.Context, synID string, q store.EdgeQuery) ([]types.Edge, error) {
	if !types.ValidDirection(q.Direction) {
		return nil, ontoerr.Invalidf("invalid direction: %s", q.Direction)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

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
	var out []types.Edge
	for _, e := range s.edges {
		var matches bool
		switch q.Direction {
		case types.DirectionOut:
			matches = e.SrcSynID == synID
		case types.DirectionIn:
			matches = e.DstSynID == synID
		default:
			matches = e.SrcSynID == synID || e.DstSynID == synID
		}
		if !matches {
			continue
		}
		if q.ActiveOnly {
			if !e.Open() {
				continue
			}
		} else if q.Asof != nil {
			if e.ValidFrom.After(*q.Asof) {
				continue
			}
			if e.ValidTo != nil && !e.ValidTo.After(*q.Asof) {
				continue
			}
		}
		if q.RelType != nil && e.RelType != *q.RelType {
			continue
		}
		out = append(out, e)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ObservedAt.Equal(out[j].ObservedAt) {
			return out[i].ObservedAt.After(out[j].ObservedAt)
		}
		return out[i].Confidence > out[j].Confidence
	})

	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteEdge closes an open edge. Returns false if no open edge matched.
func (s *Store) DeleteEdge(ctx context.Context, src, dst, relType string, validTo time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.edges {
		e := &s.edges[i]
		if e.SrcSynID == src && e.DstSynID == dst && e.RelType == relType && e.Open() {
			e.ValidTo = &validTo
			e.UpdatedAt = s.now()
			return true, nil
		}
	}
	return false, nil
}

// GetEdgeStats aggregates edge counts by relationship type.
func (s *Store) GetEdgeStats(ctx context.Context) (store.EdgeStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byType := map[string]*store.RelTypeStats{}
	var order []string
	for _, e := range s.edges {
		rt, ok := byType[e.RelType]
		if !ok {
			rt = &store.RelTypeStats{RelType: e.RelType}
			byType[e.RelType] = rt
			order = append(order, e.RelType)
		}
		rt.TotalCount++
		if e.Open() {
			rt.ActiveCount++
		}
		rt.AvgConfidence += e.Confidence
	}

	var stats store.EdgeStats
	sort.Strings(order)
	for _, rt := range order {
		r := *byType[rt]
		if r.TotalCount > 0 {
			r.AvgConfidence /= float64(r.TotalCount)
		}
		stats.ByType = append(stats.ByType, r)
		stats.Total += r.TotalCount
		stats.TotalActive += r.ActiveCount
	}
	sort.Slice(stats.ByType, func(i, j int) bool { return stats.ByType[i].ActiveCount > stats.ByType[j].ActiveCount })
	stats.Historical = stats.Total - stats.TotalActive
	return stats, nil
}

// UpsertAttribute applies the same SCD2 change-detection rule as the
// postgres backend to a single (syn_id, key) attribute slot.
func (s *Store) UpsertAttribute(ctx context.Context, a types.Attribute) (bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertAttributeLocked(a)
}

func (s *Store) upsertAttributeLocked(a types.Attribute) (bool, bool, error) {
	for i := range s.attributes {
		existing := s.attributes[i]
		if existing.SynID != a.SynID || existing.Key != a.Key || !existing.Open() {
			continue
		}
		if a.SameAs(existing) {
			return false, false, nil
		}
		s.attributes[i].ValidTo = &a.ValidFrom
		s.attributes[i].UpdatedAt = s.now()
		a.UpdatedAt = s.now()
		s.attributes = append(s.attributes, a)
		return false, true, nil
	}
	a.UpdatedAt = s.now()
	s.attributes = append(s.attributes, a)
	return true, false, nil
}

// UpsertAttributesBatch applies every attribute against the same
// in-memory slice, all-or-nothing.
func (s *Store) UpsertAttributesBatch(ctx context.Context, attrs []types.Attribute) ([]store.AttributeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := append([]types.Attribute(nil), s.attributes...)
	results := make([]store.AttributeResult, len(attrs))
	var firstErr error
	for i, a := range attrs {
		inserted, updated, err := s.upsertAttributeLocked(a)
		results[i] = store.AttributeResult{Attribute: a, Inserted: inserted, Updated: updated, Err: err}
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		s.attributes = snapshot
	}
	return results, firstErr
}

// GetAttributes lists an entity's attributes, optionally filtered to one
// key and/or active-only, ordered key then valid_from desc.
func (s *Store) GetAttributes(ctx context.Context, synID string, q store.AttributeQuery) ([]types.Attribute, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.Attribute
	for _, a := range s.attributes {
		if a.SynID != synID {
			continue
		}
		if q.Key != nil && a.Key != *q.Key {
			continue
		}
		if q.ActiveOnly && !a.Open() {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].ValidFrom.After(out[j].ValidFrom)
	})
	return out, nil
}

// CreateQuarantine persists an unresolved resolution attempt and returns
// its autoincrement ID.
func (s *Store) CreateQuarantine(ctx context.Context, q types.Quarantine) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextQID++
	q.ID = s.nextQID
	q.CreatedAt = s.now()
	q.Resolved = false
	s.quarantine = append(s.quarantine, q)
	return q.ID, nil
}

// GetQuarantineItems lists quarantine records filtered by resolved
// status, newest first, with pagination.
func (s *Store) GetQuarantineItems(ctx context.Context, resolved bool, limit, offset int) ([]types.Quarantine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 100
	}

	var out []types.Quarantine
	for _, q := range s.quarantine {
		if q.Resolved == resolved {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ResolveQuarantineItem marks a quarantine record resolved against a
// manually-chosen syn_id.
func (s *Store) ResolveQuarantineItem(ctx context.Context, id int64, synID, resolvedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.quarantine {
		q := &s.quarantine[i]
		if q.ID != id {
			continue
		}
		if q.Resolved {
			return fmt.Errorf("%w: quarantine item %d", ontoerr.ErrNotFound, id)
		}
		now := s.now()
		q.Resolved = true
		q.ResolvedSynID = &synID
		q.ResolvedBy = &resolvedBy
		q.ResolvedAt = &now
		return nil
	}
	return fmt.Errorf("%w: quarantine item %d", ontoerr.ErrNotFound, id)
}

var _ store.Store = (*Store)(nil)
