package ontology

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalkerx28/nexus/internal/attributes"
	"github.com/skywalkerx28/nexus/internal/cache"
	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/edges"
	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/store/memory"
	"github.com/skywalkerx28/nexus/internal/types"
)

func newTestService(t *testing.T) (*Service, *clock.Fixed) {
	t.Helper()
	fc := clock.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memory.NewWithClock(fc)
	minter := idgen.NewMinterWithClock(fc)
	ch := cache.NewInProcess(100)
	return New(st, ch, minter, fc), fc
}

func strPtr(s string) *string { return &s }

// TestE6CacheInvalidation implements spec scenario E6: a read populates
// the cache, a write invalidates it, and a re-read reflects the new
// state rather than a stale cached copy.
func TestE6CacheInvalidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	synID, err := s.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)

	e, _, err := s.GetEntity(ctx, synID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(0), s.CacheStats().Hits)
	assert.Equal(t, int64(1), s.CacheStats().Misses)

	// Second read is a cache hit.
	e2, idents2, err := s.GetEntity(ctx, synID)
	require.NoError(t, err)
	require.NotNil(t, e2)
	assert.Empty(t, idents2)
	assert.Equal(t, int64(1), s.CacheStats().Hits)

	// A write invalidates the cached view.
	require.NoError(t, s.AddIdentifier(ctx, synID, "TICKER", "ACME", time.Time{}))

	_, idents3, err := s.GetEntity(ctx, synID)
	require.NoError(t, err)
	require.Len(t, idents3, 1, "post-invalidation read must reflect the new identifier")
}

func TestGetAliasesReadThroughCache(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	synID, err := s.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)

	require.NoError(t, s.AddAlias(ctx, synID, "Acme Co", nil, nil, 1.0))

	aliases, err := s.GetAliases(ctx, synID)
	require.NoError(t, err)
	require.Len(t, aliases, 1)

	aliases2, err := s.GetAliases(ctx, synID)
	require.NoError(t, err)
	assert.Equal(t, aliases, aliases2)
}

func TestAddEdgeInvalidatesBothEndpoints(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	c1, err := s.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)
	c2, err := s.CreateEntity(ctx, idgen.TypeExchange, "NYSE", "")
	require.NoError(t, err)

	_, _, err = s.GetEntity(ctx, c1)
	require.NoError(t, err)
	_, _, err = s.GetEntity(ctx, c2)
	require.NoError(t, err)

	inserted, _, err := s.AddEdge(ctx, c1, c2, "LISTED_ON", "manual", 1.0, nil, nil, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, inserted)

	edgesOut, err := s.GetEdges(ctx, c1, edges.Query{Direction: edges.DirectionOut, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, edgesOut, 1)
}

func TestUpsertAttributeInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)
	synID, err := s.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)

	val := attributes.Value{Datatype: types.DatatypeString, String: strPtr("Technology")}
	inserted, _, err := s.UpsertAttribute(ctx, synID, "sector", val, "manual", 1.0, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, inserted)

	attrs, err := s.GetAttributes(ctx, synID, nil, true)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	assert.Equal(t, "Technology", *attrs[0].ValueString)
}

func TestResolveAndBindQuarantine(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestService(t)

	res, qid, err := s.ResolveOrQuarantine(ctx, "Totally Unknown Mention", nil, nil, time.Time{})
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	require.NotZero(t, qid)

	synID, err := s.CreateEntity(ctx, idgen.TypeCompany, "Totally Unknown Mention", "")
	require.NoError(t, err)

	require.NoError(t, s.BindQuarantine(ctx, qid, synID, "analyst@example.com"))

	resolved, err := s.ListQuarantine(ctx, true, 100, 0)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, synID, *resolved[0].ResolvedSynID)
}
