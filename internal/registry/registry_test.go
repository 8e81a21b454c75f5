package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/store/memory"
	"github.com/skywalkerx28/nexus/internal/types"
)

func newTestRegistry(t *testing.T) (*Registry, *clock.Fixed) {
	t.Helper()
	fc := clock.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memory.NewWithClock(fc)
	minter := idgen.NewMinterWithClock(fc)
	return New(st, minter, fc), fc
}

func TestCreateAndGetEntity(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	synID, err := r.CreateEntity(ctx, idgen.TypeCompany, "Acme Corp", "")
	require.NoError(t, err)
	assert.True(t, idgen.Validate(synID))

	e, err := r.GetEntity(ctx, synID)
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "Acme Corp", e.CanonicalName)
	assert.Equal(t, types.StatusActive, e.Status)
}

func TestCreateEntityRejectsEmptyName(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	_, err := r.CreateEntity(ctx, idgen.TypeCompany, "   ", "")
	assert.ErrorIs(t, err, ontoerr.ErrInvalidArgument)
}

func TestGetEntityMalformedSynIDReturnsNilNotError(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	e, err := r.GetEntity(ctx, "not-a-syn-id")
	assert.NoError(t, err)
	assert.Nil(t, e)
}

// TestE1IdentifierUniqueness implements spec scenario E1: two entities
// racing for the same (scheme, value) identifier; the loser gets
// IdentifierCollision and resolve_identifier keeps pointing at the
// winner.
func TestE1IdentifierUniqueness(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)

	c1, err := r.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)
	require.NoError(t, r.AddIdentifier(ctx, c1, "TICKER", "ACME", time.Time{}))

	c2, err := r.CreateEntity(ctx, idgen.TypeCompany, "Acme Holdings", "")
	require.NoError(t, err)
	err = r.AddIdentifier(ctx, c2, "TICKER", "ACME", time.Time{})
	assert.ErrorIs(t, err, ontoerr.ErrIdentifierCollision)

	res, err := r.ResolveIdentifier(ctx, "TICKER", "ACME", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, c1, res.SynID)
}

// TestE4TemporalResolution implements spec scenario E4: adding a new
// TICKER value for the same entity closes the prior open version via
// the close-then-insert protocol, so as-of reads diverge depending on
// which side of the cutover they fall on.
func TestE4TemporalResolution(t *testing.T) {
	ctx := context.Background()
	r, fc := newTestRegistry(t)

	c1, err := r.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)

	t0 := fc.Now()
	require.NoError(t, r.AddIdentifier(ctx, c1, "TICKER", "OLD", t0))

	fc.Advance(time.Hour)
	t1 := fc.Now()
	require.NoError(t, r.AddIdentifier(ctx, c1, "TICKER", "NEW", t1))

	resOld, err := r.ResolveIdentifier(ctx, "TICKER", "OLD", t0.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, c1, resOld.SynID)

	_, err = r.ResolveIdentifier(ctx, "TICKER", "OLD", t1.Add(time.Millisecond))
	assert.ErrorIs(t, err, ontoerr.ErrNotFound)

	resNew, err := r.ResolveIdentifier(ctx, "TICKER", "NEW", t1.Add(time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, c1, resNew.SynID)
}

func TestAddAliasDefaultsConfidence(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	synID, err := r.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)

	require.NoError(t, r.AddAlias(ctx, synID, "Acme Co", nil, nil, 0))
	aliases, err := r.GetAliases(ctx, synID)
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	assert.Equal(t, 1.0, aliases[0].Confidence)
}

func TestSearchByName(t *testing.T) {
	ctx := context.Background()
	r, _ := newTestRegistry(t)
	_, err := r.CreateEntity(ctx, idgen.TypeCompany, "Apple Inc.", "")
	require.NoError(t, err)
	_, err = r.CreateEntity(ctx, idgen.TypeCompany, "Orange Corp", "")
	require.NoError(t, err)

	hits, err := r.SearchByName(ctx, "apple", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Apple Inc.", hits[0].Entity.CanonicalName)
}
