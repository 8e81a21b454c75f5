package edges

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/registry"
	"github.com/skywalkerx28/nexus/internal/store/memory"
)

func newTestFixture(t *testing.T) (*Manager, *registry.Registry, *clock.Fixed) {
	t.Helper()
	fc := clock.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memory.NewWithClock(fc)
	minter := idgen.NewMinterWithClock(fc)
	return New(st, fc), registry.New(st, minter, fc), fc
}

func twoEntities(t *testing.T, r *registry.Registry) (string, string) {
	t.Helper()
	ctx := context.Background()
	c1, err := r.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)
	c2, err := r.CreateEntity(ctx, idgen.TypeExchange, "NYSE", "")
	require.NoError(t, err)
	return c1, c2
}

func TestAddEdgeRejectsSelfLoop(t *testing.T) {
	m, r, _ := newTestFixture(t)
	c1, _ := twoEntities(t, r)
	_, _, err := m.AddEdge(context.Background(), c1, c1, "LISTED_ON", "manual", 1.0, nil, nil, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ontoerr.ErrInvalidArgument)
}

// TestE2SCD2EdgeUpdate implements spec scenario E2.
func TestE2SCD2EdgeUpdate(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestFixture(t)
	c1, ex1 := twoEntities(t, r)

	inserted, updated, err := m.AddEdge(ctx, c1, ex1, "LISTED_ON", "manual", 1.0, nil, nil, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, updated)

	inserted, updated, err = m.AddEdge(ctx, c1, ex1, "LISTED_ON", "manual", 1.0, nil, nil, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.False(t, updated)

	inserted, updated, err = m.AddEdge(ctx, c1, ex1, "LISTED_ON", "openfigi", 0.8, nil, nil, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.True(t, updated)

	active, err := m.GetEdges(ctx, c1, Query{Direction: DirectionOut, ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 0.8, active[0].Confidence)

	all, err := m.GetEdges(ctx, c1, Query{Direction: DirectionOut, ActiveOnly: false})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeleteEdgeIdempotent(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestFixture(t)
	c1, ex1 := twoEntities(t, r)
	_, _, err := m.AddEdge(ctx, c1, ex1, "LISTED_ON", "manual", 1.0, nil, nil, time.Time{}, time.Time{})
	require.NoError(t, err)

	ok, err := m.DeleteEdge(ctx, c1, ex1, "LISTED_ON", time.Time{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.DeleteEdge(ctx, c1, ex1, "LISTED_ON", time.Time{})
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestE5BatchAtomicity implements spec scenario E5: a batch with one
// invalid item rolls back entirely.
func TestE5BatchAtomicity(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestFixture(t)
	c1, ex1 := twoEntities(t, r)

	items := []BatchItem{
		{Src: c1, Dst: ex1, RelType: "LISTED_ON", Source: "manual", Confidence: 1.0},
		{Src: c1, Dst: c1, RelType: "LISTED_ON", Source: "manual", Confidence: 1.0}, // invalid: self-loop
		{Src: ex1, Dst: c1, RelType: "PARENT_OF", Source: "manual", Confidence: 0.9},
	}
	results, err := m.AddEdgesBatch(ctx, items)
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.Nil(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Nil(t, results[2].Err)

	all, err := m.GetEdges(ctx, c1, Query{Direction: DirectionBoth, ActiveOnly: false})
	require.NoError(t, err)
	assert.Empty(t, all, "rolled-back batch must leave no rows")

	// Retry with only the valid edges succeeds.
	validItems := []BatchItem{items[0], items[2]}
	results, err = m.AddEdgesBatch(ctx, validItems)
	require.NoError(t, err)
	for _, r := range results {
		assert.NoError(t, r.Err)
		assert.True(t, r.Inserted)
	}
}

func TestAddEdgesBatchSizeLimits(t *testing.T) {
	m, r, _ := newTestFixture(t)
	c1, ex1 := twoEntities(t, r)

	_, err := m.AddEdgesBatch(context.Background(), nil)
	assert.Error(t, err)

	big := make([]BatchItem, MaxBatchSize+1)
	for i := range big {
		big[i] = BatchItem{Src: c1, Dst: ex1, RelType: "LISTED_ON", Source: "manual", Confidence: 1.0}
	}
	_, err = m.AddEdgesBatch(context.Background(), big)
	assert.Error(t, err)
}

func TestGetEdgeStats(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestFixture(t)
	c1, ex1 := twoEntities(t, r)

	_, _, err := m.AddEdge(ctx, c1, ex1, "LISTED_ON", "manual", 1.0, nil, nil, time.Time{}, time.Time{})
	require.NoError(t, err)

	stats, err := m.GetEdgeStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats.ByType, 1)
	assert.Equal(t, "LISTED_ON", stats.ByType[0].RelType)
	assert.EqualValues(t, 1, stats.ByType[0].ActiveCount)
}
