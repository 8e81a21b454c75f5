// Package store defines the Temporal Store abstraction every ontology
// component persists through. Concrete backends live in subpackages:
// postgres for production, memory for tests and local development.
package store

import (
	"context"
	"time"

	"github.com/skywalkerx28/nexus/internal/types"
)

// ResolvedIdentifier is what resolve_identifier returns: the syn_id an
// (scheme, value) pair mapped to as-of a point in time, joined with
// enough entity metadata that callers rarely need a second round trip.
type ResolvedIdentifier struct {
	SynID         string
	ValidFrom     time.Time
	ValidTo       *time.Time
	CanonicalName string
	Type          string
	Status        types.EntityStatus
}

// EntitySearchResult is one hit from a canonical-name search, ranked by
// the store's text-relevance score.
type EntitySearchResult struct {
	Entity types.Entity
	Rank   float64
}

// EdgeQuery narrows a GetEdges call. Direction is required; the rest are
// optional filters.
type EdgeQuery struct {
	Direction  types.EdgeDirection
	RelType    *string
	ActiveOnly bool
	Asof       *time.Time
	Limit      int
	Offset     int
}

// RelTypeStats summarizes edges of one relationship type.
type RelTypeStats struct {
	RelType       string
	TotalCount    int64
	ActiveCount   int64
	AvgConfidence float64
}

// EdgeStats is the aggregate shape get_edge_stats returns.
type EdgeStats struct {
	ByType       []RelTypeStats
	TotalActive  int64
	Total        int64
	Historical   int64
}

// AttributeQuery narrows a GetAttributes call.
type AttributeQuery struct {
	Key        *string
	ActiveOnly bool
}

// EdgeResult is one item's outcome inside an AddEdgesBatch call.
type EdgeResult struct {
	Edge     types.Edge
	Inserted bool
	Updated  bool
	Err      error
}

// AttributeResult is one item's outcome inside an UpsertAttributesBatch
// call.
type AttributeResult struct {
	Attribute types.Attribute
	Inserted  bool
	Updated   bool
	Err       error
}

// Store is the Temporal Store contract. Every write that needs SCD2
// change-detection (AddEdge, UpsertAttribute) is atomic on its own;
// batch variants additionally guarantee all-or-nothing across the whole
// slice, rolling back entirely if any item fails.
type Store interface {
	CreateEntity(ctx context.Context, e types.Entity) error
	GetEntity(ctx context.Context, synID string) (*types.Entity, error)

	AddIdentifier(ctx context.Context, ident types.Identifier) error
	ResolveIdentifier(ctx context.Context, scheme, value string, asof time.Time) (*ResolvedIdentifier, error)
	GetIdentifiers(ctx context.Context, synID string, activeOnly bool) ([]types.Identifier, error)

	AddAlias(ctx context.Context, a types.Alias) error
	GetAliases(ctx context.Context, synID string) ([]types.Alias, error)
	SearchByName(ctx context.Context, query string, limit int) ([]EntitySearchResult, error)
	FuzzyMatchAliases(ctx context.Context, text string, minSimilarity float64, limit int) ([]AliasMatch, error)

	AddEdge(ctx context.Context, e types.Edge) (inserted, updated bool, err error)
	AddEdgesBatch(ctx context.Context, edges []types.Edge) ([]EdgeResult, error)
	GetEdges(ctx context.Context, synID string, q EdgeQuery) ([]types.Edge, error)
	DeleteEdge(ctx context.Context, src, dst, relType string, validTo time.Time) (bool, error)
	GetEdgeStats(ctx context.Context) (EdgeStats, error)

	UpsertAttribute(ctx context.Context, a types.Attribute) (inserted, updated bool, err error)
	UpsertAttributesBatch(ctx context.Context, attrs []types.Attribute) ([]AttributeResult, error)
	GetAttributes(ctx context.Context, synID string, q AttributeQuery) ([]types.Attribute, error)

	CreateQuarantine(ctx context.Context, q types.Quarantine) (int64, error)
	GetQuarantineItems(ctx context.Context, resolved bool, limit, offset int) ([]types.Quarantine, error)
	ResolveQuarantineItem(ctx context.Context, id int64, synID, resolvedBy string) error

	Close()
}

// AliasMatch is one hit from a fuzzy alias search, ranked by string
// similarity against the query text.
type AliasMatch struct {
	SynID      string
	Alias      string
	Similarity float64
	Confidence float64
}
