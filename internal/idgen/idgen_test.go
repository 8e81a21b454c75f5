package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skywalkerx28/nexus/internal/clock"
)

func TestMintParseRoundTrip(t *testing.T) {
	m := NewMinter()
	for _, typ := range ValidTypes() {
		id, err := m.Mint(typ)
		require.NoError(t, err)
		assert.Len(t, id, 29)

		gotType, suffix, err := Parse(id)
		require.NoError(t, err)
		assert.Equal(t, typ, gotType)
		assert.Len(t, suffix, 26)
		assert.True(t, Validate(id))
	}
}

func TestMintInvalidType(t *testing.T) {
	m := NewMinter()
	_, err := m.Mint(EntityType("BOGUS"))
	require.Error(t, err)
}

func TestParseInvalidFormat(t *testing.T) {
	cases := []string{
		"",
		"CO",
		"CO_",
		"ZZ_01ARZ3NDEKTSV4RRFFQ69G5FAV",       // unknown prefix
		"CO_01ARZ3NDEKTSV4RRFFQ69G5FA",        // 25 chars
		"CO_01ARZ3NDEKTSV4RRFFQ69G5FAVX",       // 27 chars
		"CO-01ARZ3NDEKTSV4RRFFQ69G5FAV",        // wrong separator
	}
	for _, c := range cases {
		assert.False(t, Validate(c), "expected %q to be invalid", c)
		_, _, err := Parse(c)
		assert.Error(t, err)
	}
}

func TestMintIsSortableByTime(t *testing.T) {
	fc := clock.NewFixed(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	m := NewMinterWithClock(fc)

	first, err := m.Mint(TypeCompany)
	require.NoError(t, err)

	fc.Advance(time.Second)
	second, err := m.Mint(TypeCompany)
	require.NoError(t, err)

	assert.Less(t, first, second)
}

func TestMintTime(t *testing.T) {
	fc := clock.NewFixed(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m := NewMinterWithClock(fc)

	id, err := m.Mint(TypeSecurity)
	require.NoError(t, err)

	got, err := MintTime(id)
	require.NoError(t, err)
	assert.WithinDuration(t, fc.Now(), got, time.Millisecond)
}
