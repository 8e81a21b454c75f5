package resolver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/registry"
	"github.com/skywalkerx28/nexus/internal/store/memory"
)

func newTestResolver(t *testing.T) (*Resolver, *registry.Registry, *clock.Fixed) {
	t.Helper()
	fc := clock.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memory.NewWithClock(fc)
	minter := idgen.NewMinterWithClock(fc)
	return New(st, fc), registry.New(st, minter, fc), fc
}

// TestE3ResolverCascade implements spec scenario E3: a ticker resolves
// at stage 1, an exact alias at stage 2, a near-miss at stage 4, and an
// unmatched mention quarantines.
func TestE3ResolverCascade(t *testing.T) {
	ctx := context.Background()
	r, reg, _ := newTestResolver(t)

	synID, err := reg.CreateEntity(ctx, idgen.TypeCompany, "Apple Inc.", "")
	require.NoError(t, err)
	require.NoError(t, reg.AddIdentifier(ctx, synID, "TICKER", "AAPL", time.Time{}))
	require.NoError(t, reg.AddAlias(ctx, synID, "apple inc", nil, nil, 1.0))

	// Stage 1: exact ticker.
	res, err := r.Resolve(ctx, "AAPL", nil, time.Time{})
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, synID, res.Winner.SynID)
	assert.Equal(t, "TICKER", res.Winner.Strategy)

	// Stage 2: exact alias (case-insensitive).
	res, err = r.Resolve(ctx, "Apple Inc", nil, time.Time{})
	require.NoError(t, err)
	require.True(t, res.Resolved)
	assert.Equal(t, synID, res.Winner.SynID)
	assert.Equal(t, "ALIAS", res.Winner.Strategy)

	// Stage 4: "appl inc" misses the exact-alias stage (ratio vs "apple
	// inc" is 8/9 ≈ 0.889, short of minSimilarity=1.0) and falls to fuzzy
	// alias, landing in the 0.80 confidence tier — short of the 0.95
	// operating threshold, so it quarantines rather than auto-resolving.
	res, qid, err := r.ResolveOrQuarantine(ctx, "appl inc", nil, nil, time.Time{})
	require.NoError(t, err)
	require.False(t, res.Resolved)
	require.NotEmpty(t, res.Candidates)
	assert.Equal(t, "FUZZY_ALIAS", res.Candidates[0].Strategy)
	assert.InDelta(t, 0.80, res.Candidates[0].Confidence, 0.0001)
	assert.NotZero(t, qid)

	// Totally unrelated text: empty candidate set, quarantines with
	// "No candidates found".
	res, qid, err = r.ResolveOrQuarantine(ctx, "Zzyzzyx Nonexistent Corp", nil, nil, time.Time{})
	require.NoError(t, err)
	assert.False(t, res.Resolved)
	assert.NotZero(t, qid)

	items, err := r.ListQuarantine(ctx, false, 100, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, items)
}

func TestTickerPatternBoundaries(t *testing.T) {
	ctx := context.Background()
	r, reg, _ := newTestResolver(t)

	for _, ticker := range []string{"A", "AAAAA", "BRK.B"} {
		synID, err := reg.CreateEntity(ctx, idgen.TypeCompany, "Entity-"+ticker, "")
		require.NoError(t, err)
		require.NoError(t, reg.AddIdentifier(ctx, synID, "TICKER", ticker, time.Time{}))

		res, err := r.Resolve(ctx, ticker, nil, time.Time{})
		require.NoError(t, err)
		require.True(t, res.Resolved, "ticker %q should resolve via stage 1", ticker)
		assert.Equal(t, "TICKER", res.Winner.Strategy)
	}
}

func TestTickerPatternRejectsOutOfShapeInput(t *testing.T) {
	ctx := context.Background()
	r, _, _ := newTestResolver(t)

	// "AAAAAA" (6 letters) and "BRK.BB" (2-letter suffix) are not
	// ticker-shaped, so stage 1 must not even attempt the lookup; with
	// nothing else registered, resolution fails outright rather than
	// erroring.
	for _, text := range []string{"AAAAAA", "BRK.BB"} {
		res, err := r.Resolve(ctx, text, nil, time.Time{})
		require.NoError(t, err)
		assert.False(t, res.Resolved)
	}
}

func TestResolveFiltersByEntityType(t *testing.T) {
	ctx := context.Background()
	r, reg, _ := newTestResolver(t)

	company, err := reg.CreateEntity(ctx, idgen.TypeCompany, "Acme", "")
	require.NoError(t, err)
	require.NoError(t, reg.AddIdentifier(ctx, company, "TICKER", "ACME", time.Time{}))

	wrongType := idgen.TypeExchange
	res, err := r.Resolve(ctx, "ACME", &wrongType, time.Time{})
	require.NoError(t, err)
	assert.False(t, res.Resolved, "type filter should drop the only candidate")

	rightType := idgen.TypeCompany
	res, err = r.Resolve(ctx, "ACME", &rightType, time.Time{})
	require.NoError(t, err)
	assert.True(t, res.Resolved)
}

func TestQuarantineReasonVariants(t *testing.T) {
	assert.Equal(t, "No candidates found", QuarantineReason(nil, Threshold))

	ambiguous := []Candidate{
		{SynID: "a", Confidence: 0.80},
		{SynID: "b", Confidence: 0.75},
	}
	assert.Contains(t, QuarantineReason(ambiguous, Threshold), "Ambiguous")

	lowConfidence := []Candidate{
		{SynID: "a", Confidence: 0.50},
	}
	assert.Contains(t, QuarantineReason(lowConfidence, Threshold), "Low confidence")
}

func TestNormalizeCollapsesWhitespaceAndCase(t *testing.T) {
	assert.Equal(t, "apple inc", Normalize("  Apple   Inc  "))
}

func TestWithThresholdDoesNotMutateOriginal(t *testing.T) {
	r, _, _ := newTestResolver(t)
	loose := r.WithThreshold(0.5)
	assert.Equal(t, Threshold, r.threshold)
	assert.Equal(t, 0.5, loose.threshold)
}
