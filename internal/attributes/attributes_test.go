package attributes

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
	"github.com/skywalkerx28/nexus/internal/types"
)

func newTestFixture(t *testing.T) (*Manager, *registry.Registry, *clock.Fixed) {
	t.Helper()
	fc := clock.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memory.NewWithClock(fc)
	minter := idgen.NewMinterWithClock(fc)
	return New(st, fc), registry.New(st, minter, fc), fc
}

func strPtr(s string) *string { return &s }
func numPtr(f float64) *float64 { return &f }

func TestUpsertInsertNoopUpdate(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestFixture(t)
	synID, err := r.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)

	val := Value{Datatype: types.DatatypeNumber, Number: numPtr(42)}
	inserted, updated, err := m.Upsert(ctx, synID, "market_cap", val, "manual", 1.0, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.False(t, updated)

	inserted, updated, err = m.Upsert(ctx, synID, "market_cap", val, "manual", 1.0, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.False(t, updated)

	newVal := Value{Datatype: types.DatatypeNumber, Number: numPtr(43)}
	inserted, updated, err = m.Upsert(ctx, synID, "market_cap", newVal, "manual", 1.0, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.True(t, updated)

	active, err := m.Get(ctx, synID, strPtr("market_cap"), true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, 43.0, *active[0].ValueNumber)

	all, err := m.Get(ctx, synID, strPtr("market_cap"), false)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpsertRejectsMismatchedDatatype(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestFixture(t)
	synID, err := r.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)

	val := Value{Datatype: types.DatatypeString} // no String set
	_, _, err = m.Upsert(ctx, synID, "name", val, "manual", 1.0, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, ontoerr.ErrInvalidArgument)
}

func TestUpsertBatchAtomicRollback(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestFixture(t)
	synID, err := r.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)

	items := []BatchItem{
		{SynID: synID, Key: "sector", Value: Value{Datatype: types.DatatypeString, String: strPtr("Tech")}, Source: "manual", Confidence: 1.0},
		{SynID: synID, Key: "bad", Value: Value{Datatype: types.DatatypeString}, Source: "manual", Confidence: 1.0}, // invalid: missing value
	}
	results, err := m.UpsertBatch(ctx, items)
	require.Error(t, err)
	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)

	all, err := m.Get(ctx, synID, nil, false)
	require.NoError(t, err)
	assert.Empty(t, all, "rolled-back batch must leave no rows")
}

func TestUpsertBatchSizeLimits(t *testing.T) {
	m, r, _ := newTestFixture(t)
	synID, err := r.CreateEntity(context.Background(), idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)

	_, err = m.UpsertBatch(context.Background(), nil)
	assert.Error(t, err)

	big := make([]BatchItem, MaxBatchSize+1)
	for i := range big {
		big[i] = BatchItem{SynID: synID, Key: "k", Value: Value{Datatype: types.DatatypeString, String: strPtr("v")}, Source: "manual", Confidence: 1.0}
	}
	_, err = m.UpsertBatch(context.Background(), big)
	assert.Error(t, err)
}

func TestUpsertConfidenceBounds(t *testing.T) {
	ctx := context.Background()
	m, r, _ := newTestFixture(t)
	synID, err := r.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)

	val := Value{Datatype: types.DatatypeString, String: strPtr("x")}
	_, _, err = m.Upsert(ctx, synID, "k", val, "manual", -0.001, time.Time{}, time.Time{})
	assert.Error(t, err)
	_, _, err = m.Upsert(ctx, synID, "k", val, "manual", 1.001, time.Time{}, time.Time{})
	assert.Error(t, err)
	_, _, err = m.Upsert(ctx, synID, "k", val, "manual", 0.0, time.Time{}, time.Time{})
	assert.NoError(t, err)
}
