// Package ontology implements the Service Facade: it composes the ID
// Minter, Registry, Edge Manager, Attribute Manager, Resolver, and
// Cache into the system's public operations, owning the unit-of-work
// boundary and post-commit-only cache invalidation.
package ontology

import (
	"context"
	"encoding/json"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/skywalkerx28/nexus/internal/attributes"
	"github.com/skywalkerx28/nexus/internal/cache"
	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/edges"
	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/registry"
	"github.com/skywalkerx28/nexus/internal/resolver"
	"github.com/skywalkerx28/nexus/internal/store"
	"github.com/skywalkerx28/nexus/internal/types"
)

// View-shape tags used as the second half of a cache key. A real
// deployment may carry more (e.g. "edges", "attributes"); the facade
// only populates the shapes its own read paths produce.
const (
	ViewEntity  = "entity"
	ViewAliases = "aliases"
)

// Service is the Ontology Service's public facade.
type Service struct {
	Store    store.Store
	Cache    cache.Cache
	Registry *registry.Registry
	Edges    *edges.Manager
	Attrs    *attributes.Manager
	Resolver *resolver.Resolver
	clock    clock.Clock

	// entityFlight collapses concurrent cache misses for the same
	// syn_id into a single store round trip, so a burst of requests
	// for an entity that just got evicted doesn't each hit the store.
	entityFlight singleflight.Group
}

// New composes a Service from its dependencies. minter and clk are
// threaded through to the Registry/Edges/Attrs/Resolver components so
// every layer shares one injectable clock, for deterministic tests.
func New(st store.Store, ch cache.Cache, minter *idgen.Minter, clk clock.Clock) *Service {
	return &Service{
		Store:    st,
		Cache:    ch,
		Registry: registry.New(st, minter, clk),
		Edges:    edges.New(st, clk),
		Attrs:    attributes.New(st, clk),
		Resolver: resolver.New(st, clk),
		clock:    clk,
	}
}

// CreateEntity mints a new entity. No cache interaction: nothing could
// already be cached under a syn_id that didn't exist a moment ago.
func (s *Service) CreateEntity(ctx context.Context, typ idgen.EntityType, canonicalName string, status types.EntityStatus) (string, error) {
	return s.Registry.CreateEntity(ctx, typ, canonicalName, status)
}

// entityView is the serialized shape cached under ViewEntity.
type entityView struct {
	Entity      *types.Entity      `json:"entity"`
	Identifiers []types.Identifier `json:"identifiers"`
}

// GetEntity reads an entity plus its active identifiers, read-through
// cached under ViewEntity. A cache miss or error falls through to the
// store transparently; a cache hit skips the store entirely.
func (s *Service) GetEntity(ctx context.Context, synID string) (*types.Entity, []types.Identifier, error) {
	if raw, ok := s.Cache.Get(ctx, synID, ViewEntity); ok {
		var v entityView
		if err := json.Unmarshal(raw, &v); err == nil {
			return v.Entity, v.Identifiers, nil
		}
	}

	v, err, _ := s.entityFlight.Do(synID, func() (any, error) {
		e, err := s.Registry.GetEntity(ctx, synID)
		if err != nil || e == nil {
			return entityView{Entity: e}, err
		}
		idents, err := s.Registry.GetIdentifiers(ctx, synID, true)
		if err != nil {
			return entityView{Entity: e}, err
		}

		view := entityView{Entity: e, Identifiers: idents}
		if raw, err := json.Marshal(view); err == nil {
			s.Cache.Set(ctx, synID, ViewEntity, raw, cache.DefaultTTL)
		}
		return view, nil
	})
	result := v.(entityView)
	return result.Entity, result.Identifiers, err
}

// AddIdentifier claims an identifier for synID and invalidates its
// cached views on success.
func (s *Service) AddIdentifier(ctx context.Context, synID, scheme, value string, validFrom time.Time) error {
	if err := s.Registry.AddIdentifier(ctx, synID, scheme, value, validFrom); err != nil {
		return err
	}
	s.Cache.Invalidate(ctx, synID)
	return nil
}

// ResolveIdentifier looks up the entity an (scheme, value) pair mapped
// to as of asof. Not cached: as-of reads are parameterized by time and
// would blow up the cache keyspace for little benefit over the "now"
// path, which GetEntity already covers.
func (s *Service) ResolveIdentifier(ctx context.Context, scheme, value string, asof time.Time) (*registry.ResolvedIdentifier, error) {
	return s.Registry.ResolveIdentifier(ctx, scheme, value, asof)
}

// AddAlias appends an alias and invalidates synID's cached views.
func (s *Service) AddAlias(ctx context.Context, synID, alias string, lang, source *string, confidence float64) error {
	if err := s.Registry.AddAlias(ctx, synID, alias, lang, source, confidence); err != nil {
		return err
	}
	s.Cache.Invalidate(ctx, synID)
	return nil
}

// GetAliases reads synID's aliases, read-through cached under
// ViewAliases.
func (s *Service) GetAliases(ctx context.Context, synID string) ([]types.Alias, error) {
	if raw, ok := s.Cache.Get(ctx, synID, ViewAliases); ok {
		var aliases []types.Alias
		if err := json.Unmarshal(raw, &aliases); err == nil {
			return aliases, nil
		}
	}
	aliases, err := s.Registry.GetAliases(ctx, synID)
	if err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(aliases); err == nil {
		s.Cache.Set(ctx, synID, ViewAliases, raw, cache.DefaultTTL)
	}
	return aliases, nil
}

// SearchByName ranks ACTIVE entities by name. Not cached: query-shaped
// reads don't fit the (syn_id, view-shape) keyspace the invalidation
// rule is built around.
func (s *Service) SearchByName(ctx context.Context, query string, limit int) ([]registry.SearchResult, error) {
	return s.Registry.SearchByName(ctx, query, limit)
}

// AddEdge adds or revises an edge and invalidates both endpoints'
// cached views on any actual change (not on a no-op).
func (s *Service) AddEdge(ctx context.Context, src, dst, relType, source string, confidence float64, attrs map[string]any, evidence *string, observedAt, validFrom time.Time) (bool, bool, error) {
	inserted, updated, err := s.Edges.AddEdge(ctx, src, dst, relType, source, confidence, attrs, evidence, observedAt, validFrom)
	if err != nil {
		return false, false, err
	}
	if inserted || updated {
		s.Cache.Invalidate(ctx, src)
		s.Cache.Invalidate(ctx, dst)
	}
	return inserted, updated, nil
}

// AddEdgesBatch validates and applies a batch of edges atomically, per
// atomic-batch semantics: a non-empty error set rolls
// back the entire batch (store.AddEdgesBatch already guarantees this)
// and cache invalidation only happens for a fully-successful batch.
func (s *Service) AddEdgesBatch(ctx context.Context, items []edges.BatchItem) ([]edges.BatchResult, error) {
	results, err := s.Edges.AddEdgesBatch(ctx, items)
	if err != nil {
		return results, err
	}
	touched := make(map[string]struct{}, len(items)*2)
	for _, it := range items {
		touched[it.Src] = struct{}{}
		touched[it.Dst] = struct{}{}
	}
	for synID := range touched {
		s.Cache.Invalidate(ctx, synID)
	}
	return results, nil
}

// GetEdges lists synID's edges per q.
func (s *Service) GetEdges(ctx context.Context, synID string, q edges.Query) ([]types.Edge, error) {
	return s.Edges.GetEdges(ctx, synID, q)
}

// DeleteEdge closes an open edge and invalidates both endpoints on
// success.
func (s *Service) DeleteEdge(ctx context.Context, src, dst, relType string, validTo time.Time) (bool, error) {
	ok, err := s.Edges.DeleteEdge(ctx, src, dst, relType, validTo)
	if err != nil {
		return false, err
	}
	if ok {
		s.Cache.Invalidate(ctx, src)
		s.Cache.Invalidate(ctx, dst)
	}
	return ok, nil
}

// GetEdgeStats aggregates edge counts by relationship type.
func (s *Service) GetEdgeStats(ctx context.Context) (edges.Stats, error) {
	return s.Edges.GetEdgeStats(ctx)
}

// UpsertAttribute upserts a single attribute slot and invalidates
// synID's cached views on any actual change.
func (s *Service) UpsertAttribute(ctx context.Context, synID, key string, val attributes.Value, source string, confidence float64, observedAt, validFrom time.Time) (bool, bool, error) {
	inserted, updated, err := s.Attrs.Upsert(ctx, synID, key, val, source, confidence, observedAt, validFrom)
	if err != nil {
		return false, false, err
	}
	if inserted || updated {
		s.Cache.Invalidate(ctx, synID)
	}
	return inserted, updated, nil
}

// UpsertAttributesBatch applies a batch of attribute upserts atomically
// and invalidates every touched syn_id on full success.
func (s *Service) UpsertAttributesBatch(ctx context.Context, items []attributes.BatchItem) ([]attributes.BatchResult, error) {
	results, err := s.Attrs.UpsertBatch(ctx, items)
	if err != nil {
		return results, err
	}
	touched := make(map[string]struct{}, len(items))
	for _, it := range items {
		touched[it.SynID] = struct{}{}
	}
	for synID := range touched {
		s.Cache.Invalidate(ctx, synID)
	}
	return results, nil
}

// GetAttributes lists synID's attributes.
func (s *Service) GetAttributes(ctx context.Context, synID string, key *string, activeOnly bool) ([]types.Attribute, error) {
	return s.Attrs.Get(ctx, synID, key, activeOnly)
}

// Resolve runs the resolver cascade against text without quarantining
// on failure; callers that want the quarantine side effect should use
// ResolveOrQuarantine.
func (s *Service) Resolve(ctx context.Context, text string, entityType *idgen.EntityType, asof time.Time) (resolver.Result, error) {
	return s.Resolver.Resolve(ctx, text, entityType, asof)
}

// ResolveOrQuarantine runs the cascade and, on failure to clear the
// operating threshold, persists a quarantine record. The quarantine
// write uses its own transaction inside the store layer and is not
// part of the caller's broader unit of work.
func (s *Service) ResolveOrQuarantine(ctx context.Context, text string, entityType *idgen.EntityType, ctxData map[string]any, asof time.Time) (resolver.Result, int64, error) {
	return s.Resolver.ResolveOrQuarantine(ctx, text, entityType, ctxData, asof)
}

// ListQuarantine returns unresolved or resolved quarantine items.
func (s *Service) ListQuarantine(ctx context.Context, resolved bool, limit, offset int) ([]resolver.QuarantineItem, error) {
	return s.Resolver.ListQuarantine(ctx, resolved, limit, offset)
}

// BindQuarantine manually binds a quarantine row to a syn_id, then
// invalidates that syn_id's cached views since a new identifier or
// alias typically follows a manual bind.
func (s *Service) BindQuarantine(ctx context.Context, id int64, synID, resolvedBy string) error {
	if err := s.Resolver.BindQuarantine(ctx, id, synID, resolvedBy); err != nil {
		return err
	}
	s.Cache.Invalidate(ctx, synID)
	return nil
}

// CacheStats exposes the Cache component's hit/miss/memory snapshot.
func (s *Service) CacheStats() cache.Stats { return s.Cache.Stats() }

// Close releases the store's resources (connection pool). The cache
// backend, if it owns a connection (e.g. Redis), must be closed
// separately by whichever code constructed it.
func (s *Service) Close() { s.Store.Close() }
