// Package types defines the ontology's domain model: the bi-temporal rows
// the store persists and the service facade returns. Validation here
// covers shape only (closed sets, ranges); uniqueness and temporal
// invariants are enforced by the store.
package types

import (
	"strings"
	"time"

	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/ontoerr"
)

// EntityStatus is the closed set of lifecycle states an entity can be in.
type EntityStatus string

const (
	StatusActive   EntityStatus = "ACTIVE"
	StatusInactive EntityStatus = "INACTIVE"
	StatusMerged   EntityStatus = "MERGED"
)

func validStatus(s EntityStatus) bool {
	switch s {
	case StatusActive, StatusInactive, StatusMerged:
		return true
	default:
		return false
	}
}

// Entity is a row in the entity registry: the canonical record a syn_id
// points to.
type Entity struct {
	SynID          string
	Type           idgen.EntityType
	CanonicalName  string
	Status         EntityStatus
	ReplacesSynID  *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks the entity's shape ahead of insert. It does not check
// syn_id uniqueness or replaces_syn_id existence; the store does.
func (e Entity) Validate() error {
	if strings.TrimSpace(e.CanonicalName) == "" {
		return ontoerr.Invalidf("canonical_name cannot be empty")
	}
	if !validStatus(e.Status) {
		return ontoerr.Invalidf("invalid status: %s", e.Status)
	}
	return nil
}

// Identifier is a (scheme, value) -> syn_id mapping with SCD2 validity.
type Identifier struct {
	SynID     string
	Scheme    string
	Value     string
	ValidFrom time.Time
	ValidTo   *time.Time
}

// Open reports whether this identifier version is currently active.
func (i Identifier) Open() bool { return i.ValidTo == nil }

// Alias is an alternative name for an entity, with an independent
// confidence score. Aliases are append-only (no SCD2 closure).
type Alias struct {
	SynID      string
	Alias      string
	Lang       *string
	Source     *string
	Confidence float64
	CreatedAt  time.Time
}

func validConfidence(c float64) bool { return c >= 0 && c <= 1 }

// Validate checks the alias's shape.
func (a Alias) Validate() error {
	if strings.TrimSpace(a.Alias) == "" {
		return ontoerr.Invalidf("alias cannot be empty")
	}
	if !validConfidence(a.Confidence) {
		return ontoerr.Invalidf("confidence must be 0-1, got %v", a.Confidence)
	}
	return nil
}

// EdgeDirection selects which side of an edge a query traverses from.
type EdgeDirection string

const (
	DirectionOut  EdgeDirection = "out"
	DirectionIn   EdgeDirection = "in"
	DirectionBoth EdgeDirection = "both"
)

// ValidDirection reports whether d is one of out/in/both.
func ValidDirection(d EdgeDirection) bool {
	switch d {
	case DirectionOut, DirectionIn, DirectionBoth:
		return true
	default:
		return false
	}
}

// Edge is a directed, typed relationship between two entities with SCD2
// validity. Attrs is an opaque JSON-shaped payload; nil means absent.
type Edge struct {
	SrcSynID   string
	DstSynID   string
	RelType    string
	Attrs      map[string]any
	Source     string
	Evidence   *string
	Confidence float64
	ValidFrom  time.Time
	ValidTo    *time.Time
	ObservedAt time.Time
	UpdatedAt  time.Time
}

// Open reports whether this edge version is currently active.
func (e Edge) Open() bool { return e.ValidTo == nil }

// Validate checks the edge's shape ahead of insert.
func (e Edge) Validate() error {
	if e.SrcSynID == e.DstSynID {
		return ontoerr.Invalidf("source and destination cannot be the same")
	}
	if strings.TrimSpace(e.RelType) == "" {
		return ontoerr.Invalidf("rel_type cannot be empty")
	}
	if !validConfidence(e.Confidence) {
		return ontoerr.Invalidf("confidence must be 0-1, got %v", e.Confidence)
	}
	return nil
}

// sameAs reports whether two edge versions carry equivalent significant
// fields, per the change-detection rule add_edge uses to decide whether a
// new SCD2 version is warranted. Mirrors the tolerance used for
// attributes: confidence differences under 0.01 don't count as a change.
func (e Edge) sameAs(other Edge) bool {
	return attrsEqual(e.Attrs, other.Attrs) &&
		floatsEqual(e.Confidence, other.Confidence) &&
		e.Source == other.Source &&
		strPtrEqual(e.Evidence, other.Evidence)
}

// SameAs is the exported form of sameAs, used by the edge manager to
// decide whether an incoming add_edge call is a no-op.
func (e Edge) SameAs(other Edge) bool { return e.sameAs(other) }

func floatsEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= 0.01
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func attrsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		ov, ok := b[k]
		if !ok || !attrValueEqual(v, ov) {
			return false
		}
	}
	return true
}

func attrValueEqual(a, b any) bool {
	// Values come off JSON decode (float64/string/bool/map/slice/nil) on
	// both sides of a comparison against freshly-loaded store rows, so a
	// plain equality check is sufficient except for nested maps/slices.
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		return ok && attrsEqual(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !attrValueEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

// AttributeDatatype is the closed set of value shapes an attribute slot
// can carry. Exactly one of the corresponding value fields on Attribute
// is populated for a given datatype.
type AttributeDatatype string

const (
	DatatypeString AttributeDatatype = "STRING"
	DatatypeNumber AttributeDatatype = "NUMBER"
	DatatypeJSON   AttributeDatatype = "JSON"
)

func validDatatype(d AttributeDatatype) bool {
	switch d {
	case DatatypeString, DatatypeNumber, DatatypeJSON:
		return true
	default:
		return false
	}
}

// Attribute is a typed, versioned (key, value) fact about an entity.
type Attribute struct {
	SynID       string
	Key         string
	Datatype    AttributeDatatype
	ValueString *string
	ValueNumber *float64
	ValueJSON   map[string]any
	Source      string
	Confidence  float64
	ValidFrom   time.Time
	ValidTo     *time.Time
	ObservedAt  time.Time
	UpdatedAt   time.Time
}

// Open reports whether this attribute version is currently active.
func (a Attribute) Open() bool { return a.ValidTo == nil }

// Validate checks that exactly the value field matching Datatype is
// populated, and that the other shape constraints hold.
func (a Attribute) Validate() error {
	if strings.TrimSpace(a.Key) == "" {
		return ontoerr.Invalidf("attribute key cannot be empty")
	}
	if !validDatatype(a.Datatype) {
		return ontoerr.Invalidf("invalid datatype: %s", a.Datatype)
	}
	if !validConfidence(a.Confidence) {
		return ontoerr.Invalidf("confidence must be 0-1, got %v", a.Confidence)
	}
	switch a.Datatype {
	case DatatypeString:
		if a.ValueString == nil {
			return ontoerr.Invalidf("value must be string for datatype STRING")
		}
	case DatatypeNumber:
		if a.ValueNumber == nil {
			return ontoerr.Invalidf("value must be number for datatype NUMBER")
		}
	case DatatypeJSON:
		if a.ValueJSON == nil {
			return ontoerr.Invalidf("value must be object for datatype JSON")
		}
	}
	return nil
}

// sameAs mirrors upsert_attribute's change-detection rule: a new SCD2
// version is only warranted when the value, datatype, source, or
// confidence (beyond a 0.01 tolerance) actually differs.
func (a Attribute) sameAs(other Attribute) bool {
	if a.Datatype != other.Datatype || a.Source != other.Source {
		return false
	}
	if !floatsEqual(a.Confidence, other.Confidence) {
		return false
	}
	switch a.Datatype {
	case DatatypeString:
		return strPtrEqual(a.ValueString, other.ValueString)
	case DatatypeNumber:
		return numPtrEqual(a.ValueNumber, other.ValueNumber)
	case DatatypeJSON:
		return attrsEqual(a.ValueJSON, other.ValueJSON)
	default:
		return false
	}
}

// SameAs is the exported form of sameAs, used by the attribute manager to
// decide whether an incoming upsert is a no-op.
func (a Attribute) SameAs(other Attribute) bool { return a.sameAs(other) }

func numPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// Quarantine is a resolver candidate set that failed auto-resolution and
// awaits manual review.
type Quarantine struct {
	ID           int64
	RawText      string
	Context      map[string]any
	Candidates   []Candidate
	Reason       string
	Resolved     bool
	ResolvedSynID *string
	ResolvedBy   *string
	CreatedAt    time.Time
	ResolvedAt   *time.Time
}

// Candidate is a scored match produced by one resolver strategy, either
// surfaced to the caller on successful resolution or persisted inside a
// Quarantine record awaiting manual review.
type Candidate struct {
	SynID      string
	Name       string
	Strategy   string
	Confidence float64
}
