// Package ontoerr defines the stable error taxonomy shared by every
// ontology component. Components fail fast with one of these sentinels;
// the service facade rolls back and surfaces the kind unchanged.
package ontoerr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the stable error taxonomy. Use errors.Is against
// these, never string comparison.
var (
	// ErrInvalidArgument covers malformed syn_ids, empty names,
	// out-of-range confidence, unknown types/statuses, and
	// mismatched value-for-datatype.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrNotFound covers a get/resolve with no row covering asof.
	ErrNotFound = errors.New("not found")

	// ErrIdentifierCollision covers (scheme, value) already claimed by
	// another entity.
	ErrIdentifierCollision = errors.New("identifier collision")

	// ErrEdgeConflict covers a store-level uniqueness violation on the
	// open-edge constraint under concurrent mutation.
	ErrEdgeConflict = errors.New("edge conflict")

	// ErrAttributeConflict covers a store-level uniqueness violation on
	// the open-attribute constraint under concurrent mutation.
	ErrAttributeConflict = errors.New("attribute conflict")

	// ErrStorage covers unexpected persistence failure, statement
	// timeout, or pool exhaustion surfaced as a generic storage error.
	ErrStorage = errors.New("storage error")

	// ErrUnavailable covers store or cache reachability failure where
	// degraded behavior is impossible (store) or was already degraded
	// silently (cache, logged separately).
	ErrUnavailable = errors.New("unavailable")

	// ErrQuarantined is not a failure: resolve_or_quarantine uses it to
	// signal that a quarantine record was created instead of a syn_id.
	ErrQuarantined = errors.New("quarantined")
)

// Wrap annotates err with op context while preserving errors.Is matching
// against the given sentinel kind.
func Wrap(op string, kind error, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// Invalidf builds an ErrInvalidArgument with a formatted message.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// Is reports whether err is (or wraps) kind. Thin wrapper kept so call
// sites read ontoerr.Is(err, ontoerr.ErrNotFound) instead of importing
// both errors and ontoerr.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
