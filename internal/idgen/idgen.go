// Package idgen mints and parses synthetic IDs ("syn_ids"): type-prefixed,
// time-sortable, globally unique identifiers of the form PP_SSSSSSSSSSSSSSSSSSSSSSSSSS
// (2-letter prefix, underscore, 26-character Crockford-base32 ULID).
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/ontoerr"
)

// EntityType enumerates the closed set of entity types a syn_id can be
// minted for. Kept here (rather than in internal/types) so idgen has no
// dependency on the rest of the domain model.
type EntityType string

const (
	TypeCompany   EntityType = "COMPANY"
	TypeSecurity  EntityType = "SECURITY"
	TypeExchange  EntityType = "EXCHANGE"
	TypeIndex     EntityType = "INDEX"
	TypePerson    EntityType = "PERSON"
	TypeOrg       EntityType = "ORG"
	TypeSector    EntityType = "SECTOR"
	TypeTheme     EntityType = "THEME"
	TypeCommodity EntityType = "COMMODITY"
	TypeFX        EntityType = "FX"
)

// prefixes maps each entity type to its fixed two-letter routing prefix.
var prefixes = map[EntityType]string{
	TypeCompany:   "CO",
	TypeSecurity:  "SE",
	TypeExchange:  "EX",
	TypeIndex:     "IX",
	TypePerson:    "PE",
	TypeOrg:       "OR",
	TypeSector:    "SC",
	TypeTheme:     "TH",
	TypeCommodity: "CM",
	TypeFX:        "FX",
}

var reversePrefixes = func() map[string]EntityType {
	m := make(map[string]EntityType, len(prefixes))
	for t, p := range prefixes {
		m[p] = t
	}
	return m
}()

// ValidTypes returns the closed set of entity types, for validation
// messages and test tables.
func ValidTypes() []EntityType {
	out := make([]EntityType, 0, len(prefixes))
	for t := range prefixes {
		out = append(out, t)
	}
	return out
}

const sortableLen = 26

// Minter mints syn_ids. It is safe for concurrent use: entropy comes from
// crypto/rand and ulid.Monotonic serializes increments per millisecond
// per minter instance, which is sufficient collision resistance across
// goroutines sharing one Minter; independent Minter instances (e.g. one
// per process) rely on the ≥80 bits of randomness in the ULID body.
type Minter struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	clock   clock.Clock
}

// NewMinter returns a Minter using the system clock.
func NewMinter() *Minter {
	return NewMinterWithClock(clock.System{})
}

// NewMinterWithClock returns a Minter using the given clock, for
// deterministic tests of mint-time ordering.
func NewMinterWithClock(c clock.Clock) *Minter {
	return &Minter{clock: c, entropy: ulid.Monotonic(rand.Reader, 0)}
}

// Mint generates a new syn_id of the given type. It fails with
// ErrInvalidArgument if typ is not in the closed set.
func (m *Minter) Mint(typ EntityType) (string, error) {
	prefix, ok := prefixes[typ]
	if !ok {
		return "", ontoerr.Invalidf("unknown entity type %q", typ)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	id, err := ulid.New(ulid.Timestamp(now), m.entropy)
	if err != nil {
		return "", fmt.Errorf("mint ulid: %w", err)
	}

	return fmt.Sprintf("%s_%s", prefix, id.String()), nil
}

// Parse splits a syn_id into its entity type and sortable suffix. It
// fails with ErrInvalidArgument (taxonomy kind InvalidFormat per spec
// §4.1 is represented as InvalidArgument, since the service has no
// separate "format" kind) if the string is malformed, the prefix is
// unknown, or the suffix is not exactly 26 characters.
func Parse(synID string) (EntityType, string, error) {
	idx := strings.IndexByte(synID, '_')
	if idx != 2 {
		return "", "", ontoerr.Invalidf("malformed syn_id %q", synID)
	}

	prefix := synID[:idx]
	suffix := synID[idx+1:]

	typ, ok := reversePrefixes[prefix]
	if !ok {
		return "", "", ontoerr.Invalidf("unknown syn_id prefix %q", prefix)
	}

	if len(suffix) != sortableLen {
		return "", "", ontoerr.Invalidf("syn_id %q: sortable portion must be %d characters, got %d", synID, sortableLen, len(suffix))
	}

	if _, err := ulid.ParseStrict(suffix); err != nil {
		return "", "", ontoerr.Invalidf("syn_id %q: invalid sortable portion: %v", synID, err)
	}

	return typ, suffix, nil
}

// Validate is the non-throwing form of Parse.
func Validate(synID string) bool {
	_, _, err := Parse(synID)
	return err == nil
}

// MintTime extracts the mint-time component of a syn_id's sortable
// suffix, for diagnostics (not part of the public contract, but useful
// enough that it's worth exposing alongside Parse).
func MintTime(synID string) (time.Time, error) {
	_, suffix, err := Parse(synID)
	if err != nil {
		return time.Time{}, err
	}
	id, err := ulid.ParseStrict(suffix)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(id.Time()), nil
}
