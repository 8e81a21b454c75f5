// Package registry implements the Registry component: entity creation,
// identifier claims and temporal resolution, and alias management,
// layered onto the Go store.Store interface.
package registry

import (
	"context"
	"strings"
	"time"

	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/store"
	"github.com/skywalkerx28/nexus/internal/types"
)

// Registry creates entities and manages their identifiers and aliases.
type Registry struct {
	store store.Store
	minter *idgen.Minter
	clock  clock.Clock
}

// New returns a Registry backed by st, minting syn_ids with minter and
// timestamping with clk.
func New(st store.Store, minter *idgen.Minter, clk clock.Clock) *Registry {
	return &Registry{store: st, minter: minter, clock: clk}
}

// CreateEntity mints a new syn_id and inserts the entity row. status
// defaults to ACTIVE when the zero value is passed.
func (r *Registry) CreateEntity(ctx context.Context, typ idgen.EntityType, canonicalName string, status types.EntityStatus) (string, error) {
	name := strings.TrimSpace(canonicalName)
	if name == "" {
		return "", ontoerr.Invalidf("canonical_name cannot be empty")
	}
	if status == "" {
		status = types.StatusActive
	}

	synID, err := r.minter.Mint(typ)
	if err != nil {
		return "", err
	}

	e := types.Entity{
		SynID:         synID,
		Type:          typ,
		CanonicalName: name,
		Status:        status,
	}
	if err := e.Validate(); err != nil {
		return "", err
	}
	if err := r.store.CreateEntity(ctx, e); err != nil {
		return "", ontoerr.Wrap("create_entity", ontoerr.ErrStorage, err)
	}
	return synID, nil
}

// GetEntity fetches an entity by syn_id. A malformed syn_id returns
// (nil, nil): invalid-argument-shaped lookups return null, not an
// error.
func (r *Registry) GetEntity(ctx context.Context, synID string) (*types.Entity, error) {
	if !idgen.Validate(synID) {
		return nil, nil
	}
	e, err := r.store.GetEntity(ctx, synID)
	if err != nil {
		if ontoerr.Is(err, ontoerr.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// AddIdentifier claims a (scheme, value) pair for synID as of validFrom
// (the zero time means "now"). Fails with ErrIdentifierCollision if
// another entity already holds an open identifier for the same pair.
func (r *Registry) AddIdentifier(ctx context.Context, synID, scheme, value string, validFrom time.Time) error {
	if !idgen.Validate(synID) {
		return ontoerr.Invalidf("malformed syn_id %q", synID)
	}
	v := strings.TrimSpace(value)
	if v == "" {
		return ontoerr.Invalidf("identifier value cannot be empty")
	}
	if validFrom.IsZero() {
		validFrom = r.clock.Now()
	}

	ident := types.Identifier{
		SynID:     synID,
		Scheme:    scheme,
		Value:     v,
		ValidFrom: validFrom,
	}
	if err := r.store.AddIdentifier(ctx, ident); err != nil {
		if ontoerr.Is(err, ontoerr.ErrIdentifierCollision) {
			return err
		}
		return ontoerr.Wrap("add_identifier", ontoerr.ErrStorage, err)
	}
	return nil
}

// AddAlias appends an alias for synID. confidence defaults to 1.0 when
// zero is passed (callers wanting an explicit zero confidence should
// pass a tiny epsilon instead, since zero here means "unset").
func (r *Registry) AddAlias(ctx context.Context, synID, alias string, lang, source *string, confidence float64) error {
	if !idgen.Validate(synID) {
		return ontoerr.Invalidf("malformed syn_id %q", synID)
	}
	if confidence == 0 {
		confidence = 1.0
	}
	a := types.Alias{
		SynID:      synID,
		Alias:      strings.TrimSpace(alias),
		Lang:       lang,
		Source:     source,
		Confidence: confidence,
	}
	if err := a.Validate(); err != nil {
		return err
	}
	if err := r.store.AddAlias(ctx, a); err != nil {
		return ontoerr.Wrap("add_alias", ontoerr.ErrStorage, err)
	}
	return nil
}

// ResolvedIdentifier mirrors store.ResolvedIdentifier; re-exported so
// callers of the registry don't need to import internal/store directly.
type ResolvedIdentifier = store.ResolvedIdentifier

// ResolveIdentifier returns the entity an (scheme, value) pair mapped to
// as of asof (the zero time means "now"). Returns ErrNotFound if no
// identifier version covers that instant.
func (r *Registry) ResolveIdentifier(ctx context.Context, scheme, value string, asof time.Time) (*ResolvedIdentifier, error) {
	if asof.IsZero() {
		asof = r.clock.Now()
	}
	res, err := r.store.ResolveIdentifier(ctx, scheme, value, asof)
	if err != nil {
		if ontoerr.Is(err, ontoerr.ErrNotFound) {
			return nil, err
		}
		return nil, ontoerr.Wrap("resolve_identifier", ontoerr.ErrStorage, err)
	}
	return res, nil
}

// GetIdentifiers lists synID's identifiers, active-only by default.
func (r *Registry) GetIdentifiers(ctx context.Context, synID string, activeOnly bool) ([]types.Identifier, error) {
	if !idgen.Validate(synID) {
		return nil, ontoerr.Invalidf("malformed syn_id %q", synID)
	}
	out, err := r.store.GetIdentifiers(ctx, synID, activeOnly)
	if err != nil {
		return nil, ontoerr.Wrap("get_identifiers", ontoerr.ErrStorage, err)
	}
	return out, nil
}

// GetAliases lists synID's aliases, highest-confidence first.
func (r *Registry) GetAliases(ctx context.Context, synID string) ([]types.Alias, error) {
	if !idgen.Validate(synID) {
		return nil, ontoerr.Invalidf("malformed syn_id %q", synID)
	}
	out, err := r.store.GetAliases(ctx, synID)
	if err != nil {
		return nil, ontoerr.Wrap("get_aliases", ontoerr.ErrStorage, err)
	}
	return out, nil
}

// SearchResult is one ranked hit from SearchByName.
type SearchResult = store.EntitySearchResult

// SearchByName ranks ACTIVE entities whose canonical_name matches query
// under the store's full-text search, capped at limit hits.
func (r *Registry) SearchByName(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	out, err := r.store.SearchByName(ctx, q, limit)
	if err != nil {
		return nil, ontoerr.Wrap("search_by_name", ontoerr.ErrStorage, err)
	}
	return out, nil
}
