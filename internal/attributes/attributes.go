// Package attributes implements the Attribute Manager component:
// typed, per-entity, SCD2-versioned key/value facts, layered onto the
// Go store.Store interface.
package attributes

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/store"
	"github.com/skywalkerx28/nexus/internal/types"
)

// Manager performs SCD2 mutation and querying of attributes.
type Manager struct {
	store store.Store
	clock clock.Clock
}

// New returns a Manager backed by st, timestamping with clk.
func New(st store.Store, clk clock.Clock) *Manager {
	return &Manager{store: st, clock: clk}
}

// Value is a single upsert_attribute input's typed payload: exactly one
// of String/Number/JSON must be populated matching Datatype.
type Value struct {
	Datatype types.AttributeDatatype
	String   *string
	Number   *float64
	JSON     map[string]any
}

func (v Value) toAttribute() types.Attribute {
	return types.Attribute{
		Datatype:    v.Datatype,
		ValueString: v.String,
		ValueNumber: v.Number,
		ValueJSON:   v.JSON,
	}
}

// MaxBatchSize is the upper bound placed on edge/attribute batches.
const MaxBatchSize = 1000

// Upsert applies the SCD2 change-detection rule to a single (syn_id,
// key) slot: no-op if an equivalent open version already exists,
// otherwise close-then-insert. observedAt and validFrom default to
// "now" when the zero time is passed.
func (m *Manager) Upsert(ctx context.Context, synID, key string, val Value, source string, confidence float64, observedAt, validFrom time.Time) (bool, bool, error) {
	if !idgen.Validate(synID) {
		return false, false, ontoerr.Invalidf("malformed syn_id %q", synID)
	}

	now := m.clock.Now()
	if observedAt.IsZero() {
		observedAt = now
	}
	if validFrom.IsZero() {
		validFrom = observedAt
	}

	a := val.toAttribute()
	a.SynID = synID
	a.Key = key
	a.Source = source
	a.Confidence = confidence
	a.ObservedAt = observedAt
	a.ValidFrom = validFrom

	if err := a.Validate(); err != nil {
		return false, false, err
	}

	inserted, updated, err := m.store.UpsertAttribute(ctx, a)
	if err != nil {
		if ontoerr.Is(err, ontoerr.ErrAttributeConflict) {
			return false, false, err
		}
		return false, false, ontoerr.Wrap("upsert_attribute", ontoerr.ErrStorage, err)
	}
	return inserted, updated, nil
}

// BatchItem is one entry of an UpsertBatch call.
type BatchItem struct {
	SynID, Key            string
	Value                 Value
	Source                string
	Confidence            float64
	ObservedAt, ValidFrom time.Time
}

// BatchResult is one entry's outcome, carrying its own error.
type BatchResult struct {
	Inserted, Updated bool
	Err               error
}

// UpsertBatch validates and applies every item atomically: any invalid
// or conflicting item rolls back the whole batch and every result
// carries its own error.
func (m *Manager) UpsertBatch(ctx context.Context, items []BatchItem) ([]BatchResult, error) {
	if len(items) == 0 {
		return nil, ontoerr.Invalidf("batch must contain at least 1 item")
	}
	if len(items) > MaxBatchSize {
		return nil, ontoerr.Invalidf("batch of %d exceeds max size %d", len(items), MaxBatchSize)
	}

	now := m.clock.Now()
	attrList := make([]types.Attribute, len(items))
	preErrs := make([]error, len(items))

	// Each goroutine only ever touches its own index of attrList/preErrs,
	// so no lock is needed around the slice writes themselves.
	var g errgroup.Group
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			observedAt := it.ObservedAt
			if observedAt.IsZero() {
				observedAt = now
			}
			validFrom := it.ValidFrom
			if validFrom.IsZero() {
				validFrom = observedAt
			}
			a := it.Value.toAttribute()
			a.SynID = it.SynID
			a.Key = it.Key
			a.Source = it.Source
			a.Confidence = it.Confidence
			a.ObservedAt = observedAt
			a.ValidFrom = validFrom

			if !idgen.Validate(it.SynID) {
				preErrs[i] = ontoerr.Invalidf("malformed syn_id %q", it.SynID)
				return nil
			}
			if err := a.Validate(); err != nil {
				preErrs[i] = err
				return nil
			}
			attrList[i] = a
			return nil
		})
	}
	_ = g.Wait() // goroutines record failures into preErrs, never return an error themselves
	anyPreErr := false
	for _, err := range preErrs {
		if err != nil {
			anyPreErr = true
			break
		}
	}

	results := make([]BatchResult, len(items))
	if anyPreErr {
		for i, err := range preErrs {
			results[i] = BatchResult{Err: err}
		}
		return results, ontoerr.Invalidf("batch rejected: %d invalid item(s)", countNonNil(preErrs))
	}

	storeResults, err := m.store.UpsertAttributesBatch(ctx, attrList)
	for i, r := range storeResults {
		results[i] = BatchResult{Inserted: r.Inserted, Updated: r.Updated, Err: r.Err}
	}
	return results, err
}

func countNonNil(errs []error) int {
	n := 0
	for _, e := range errs {
		if e != nil {
			n++
		}
	}
	return n
}

// Get lists synID's attributes, optionally filtered to one key,
// active-only by default.
func (m *Manager) Get(ctx context.Context, synID string, key *string, activeOnly bool) ([]types.Attribute, error) {
	if !idgen.Validate(synID) {
		return nil, ontoerr.Invalidf("malformed syn_id %q", synID)
	}
	out, err := m.store.GetAttributes(ctx, synID, store.AttributeQuery{Key: key, ActiveOnly: activeOnly})
	if err != nil {
		return nil, ontoerr.Wrap("get_attributes", ontoerr.ErrStorage, err)
	}
	return out, nil
}
