// Package resolver implements the Resolver component: a cascading
// candidate-generation pipeline that turns a free-text mention into
// either a high-confidence syn_id or a quarantine record.
package resolver

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/skywalkerx28/nexus/internal/clock"
	"github.com/skywalkerx28/nexus/internal/idgen"
	"github.com/skywalkerx28/nexus/internal/ontoerr"
	"github.com/skywalkerx28/nexus/internal/store"
	"github.com/skywalkerx28/nexus/internal/types"
)

// Threshold is the default operating threshold: a candidate must reach
// this confidence to be returned as resolved rather than quarantined.
// Matches the ONTOLOGY_RESOLVER_THRESHOLD default.
const Threshold = 0.95

// FuzzyThreshold is the minimum trigram/edit-ratio similarity the
// fourth cascade stage considers. Fixed at 0.70 rather than exposed as
// a tunable, matching the source's literal constant (see DESIGN.md).
const FuzzyThreshold = 0.70

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}(\.[A-Z])?$`)

// Normalize lowercases, collapses internal whitespace, and trims. The
// ticker-shape check in Stage 1 is applied to the raw (unnormalized)
// input, before this runs.
func Normalize(s string) string {
	fields := strings.Fields(s)
	return strings.ToLower(strings.Join(fields, " "))
}

// Resolver turns free-text mentions into syn_ids or quarantine records.
type Resolver struct {
	store     store.Store
	clock     clock.Clock
	threshold float64
}

// New returns a Resolver backed by st, using the default operating
// threshold.
func New(st store.Store, clk clock.Clock) *Resolver {
	return &Resolver{store: st, clock: clk, threshold: Threshold}
}

// WithThreshold returns a copy of r using the given operating
// threshold, for the ONTOLOGY_RESOLVER_THRESHOLD knob.
func (r *Resolver) WithThreshold(threshold float64) *Resolver {
	cp := *r
	cp.threshold = threshold
	return &cp
}

// Candidate re-exports types.Candidate.
type Candidate = types.Candidate

// Result is what Resolve returns: either a confident winner or a list
// of candidates that didn't clear the threshold (for the caller to
// decide whether to quarantine).
type Result struct {
	Resolved   bool
	Winner     Candidate
	Candidates []Candidate
}

// Resolve runs the cascade against text, optionally restricted to
// entityType, and returns the first stage's deduped/ranked candidates.
// Stage execution stops at the first stage that yields any candidate —
// including when every candidate from that stage is later filtered out
// by entityType: the cascade does not fall through past a non-empty
// stage even if type filtering empties it afterward.
func (r *Resolver) Resolve(ctx context.Context, text string, entityType *idgen.EntityType, asof time.Time) (Result, error) {
	if asof.IsZero() {
		asof = r.clock.Now()
	}

	stages := []func(context.Context, string, time.Time) ([]Candidate, error){
		r.stageExactTicker,
		r.stageExactAlias,
		r.stageCanonicalNameFullText,
		r.stageFuzzyAlias,
	}

	var raw []Candidate
	for _, stage := range stages {
		cands, err := stage(ctx, text, asof)
		if err != nil {
			return Result{}, err
		}
		if len(cands) > 0 {
			raw = cands
			break
		}
	}

	if entityType != nil {
		raw = r.filterByType(ctx, raw, *entityType)
	}

	ranked := dedupAndRank(raw)
	if len(ranked) == 0 {
		return Result{Resolved: false, Candidates: nil}, nil
	}
	if ranked[0].Confidence >= r.threshold {
		return Result{Resolved: true, Winner: ranked[0], Candidates: ranked}, nil
	}
	return Result{Resolved: false, Candidates: ranked}, nil
}

// stageExactTicker: if text matches the ticker shape, look up an
// active TICKER identifier. Confidence 1.0.
func (r *Resolver) stageExactTicker(ctx context.Context, text string, asof time.Time) ([]Candidate, error) {
	if !tickerPattern.MatchString(text) {
		return nil, nil
	}
	res, err := r.store.ResolveIdentifier(ctx, "TICKER", text, asof)
	if err != nil {
		if ontoerr.Is(err, ontoerr.ErrNotFound) {
			return nil, nil
		}
		return nil, ontoerr.Wrap("resolve:ticker", ontoerr.ErrStorage, err)
	}
	return []Candidate{{
		SynID:      res.SynID,
		Name:       res.CanonicalName,
		Strategy:   "TICKER",
		Confidence: 1.0,
	}}, nil
}

// stageExactAlias: case-insensitive equality against the alias table.
// Confidence = min(alias.confidence, 0.95).
func (r *Resolver) stageExactAlias(ctx context.Context, text string, asof time.Time) ([]Candidate, error) {
	norm := Normalize(text)
	matches, err := r.store.FuzzyMatchAliases(ctx, norm, 1.0, 10)
	if err != nil {
		return nil, ontoerr.Wrap("resolve:alias", ontoerr.ErrStorage, err)
	}
	out := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		conf := m.Confidence
		if conf > 0.95 {
			conf = 0.95
		}
		out = append(out, Candidate{SynID: m.SynID, Name: m.Alias, Strategy: "ALIAS", Confidence: conf})
	}
	return r.withCanonicalNames(ctx, out)
}

// stageCanonicalNameFullText: full-text match on canonical_name.
// Confidence = 0.85 × string-ratio(normalized input, normalized name).
func (r *Resolver) stageCanonicalNameFullText(ctx context.Context, text string, asof time.Time) ([]Candidate, error) {
	norm := Normalize(text)
	hits, err := r.store.SearchByName(ctx, text, 10)
	if err != nil {
		return nil, ontoerr.Wrap("resolve:fulltext", ontoerr.ErrStorage, err)
	}
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		conf := 0.85 * ratio(norm, Normalize(h.Entity.CanonicalName))
		out = append(out, Candidate{
			SynID:      h.Entity.SynID,
			Name:       h.Entity.CanonicalName,
			Strategy:   "CANONICAL_NAME",
			Confidence: conf,
		})
	}
	return out, nil
}

// stageFuzzyAlias: trigram-similarity match against the alias table.
// Tiered confidence by similarity, capped by the alias's own
// confidence.
func (r *Resolver) stageFuzzyAlias(ctx context.Context, text string, asof time.Time) ([]Candidate, error) {
	norm := Normalize(text)
	matches, err := r.store.FuzzyMatchAliases(ctx, norm, FuzzyThreshold, 10)
	if err != nil {
		return nil, ontoerr.Wrap("resolve:fuzzy", ontoerr.ErrStorage, err)
	}
	out := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		tier := tierConfidence(m.Similarity)
		if tier > m.Confidence {
			tier = m.Confidence
		}
		out = append(out, Candidate{SynID: m.SynID, Name: m.Alias, Strategy: "FUZZY_ALIAS", Confidence: tier})
	}
	return r.withCanonicalNames(ctx, out)
}

func tierConfidence(similarity float64) float64 {
	switch {
	case similarity >= 0.9:
		return 0.90
	case similarity >= 0.8:
		return 0.80
	default:
		return 0.70
	}
}

// withCanonicalNames swaps each candidate's Name (currently the matched
// alias text) for the entity's canonical_name once resolved, since the
// Candidate surfaced to callers should read like the other stages'
// output: the winning entity's canonical name plus the matched_via tag
// already carried in Strategy. Candidates for entities that can't be
// loaded (e.g. a race with entity deletion) are dropped, not failed.
func (r *Resolver) withCanonicalNames(ctx context.Context, cands []Candidate) ([]Candidate, error) {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		e, err := r.store.GetEntity(ctx, c.SynID)
		if err != nil {
			continue
		}
		c.Name = e.CanonicalName
		out = append(out, c)
	}
	return out, nil
}

func (r *Resolver) filterByType(ctx context.Context, cands []Candidate, entityType idgen.EntityType) []Candidate {
	out := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		e, err := r.store.GetEntity(ctx, c.SynID)
		if err != nil || e.Type != entityType {
			continue
		}
		out = append(out, c)
	}
	return out
}

// dedupAndRank keeps the highest-confidence candidate per syn_id and
// sorts the result by confidence descending.
func dedupAndRank(cands []Candidate) []Candidate {
	best := make(map[string]Candidate, len(cands))
	order := make([]string, 0, len(cands))
	for _, c := range cands {
		prev, ok := best[c.SynID]
		if !ok {
			order = append(order, c.SynID)
			best[c.SynID] = c
			continue
		}
		if c.Confidence > prev.Confidence {
			best[c.SynID] = c
		}
	}
	out := make([]Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, best[id])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// ratio computes a normalized similarity in [0,1] from Levenshtein edit
// distance: 1 - distance/max(len(a),len(b)). This substitutes for a
// sequence-matching ratio; no difflib-equivalent library was retrieved
// in the example pack (see DESIGN.md).
func ratio(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(dist)/float64(maxLen)
}

// QuarantineReason computes the reason string for a failed resolution:
// empty candidate list, ambiguity between the top two candidates, or
// plain low confidence.
func QuarantineReason(candidates []Candidate, threshold float64) string {
	if len(candidates) == 0 {
		return "No candidates found"
	}
	if len(candidates) >= 2 && candidates[0].Confidence-candidates[1].Confidence <= 0.10 {
		n := 1
		top := candidates[0].Confidence
		for _, c := range candidates[1:] {
			if top-c.Confidence <= 0.10 {
				n++
			}
		}
		return fmt.Sprintf("Ambiguous: %d candidates with similar confidence", n)
	}
	return fmt.Sprintf("Low confidence: best=%.2f < threshold=%.2f", candidates[0].Confidence, threshold)
}

// ResolveOrQuarantine runs Resolve and, if it didn't produce a
// confident winner, persists a quarantine record embedding the full
// candidate list and a computed reason. The quarantine write uses its
// own transaction — it is not part of the caller's unit of work, so a
// quarantined mention is durable even if the broader request that
// triggered it later fails for an unrelated reason.
func (r *Resolver) ResolveOrQuarantine(ctx context.Context, text string, entityType *idgen.EntityType, ctxData map[string]any, asof time.Time) (Result, int64, error) {
	res, err := r.Resolve(ctx, text, entityType, asof)
	if err != nil {
		return Result{}, 0, err
	}
	if res.Resolved {
		return res, 0, nil
	}

	reason := QuarantineReason(res.Candidates, r.threshold)
	q := types.Quarantine{
		RawText:   text,
		Context:   ctxData,
		Candidates: res.Candidates,
		Reason:    reason,
	}
	id, err := r.store.CreateQuarantine(ctx, q)
	if err != nil {
		return Result{}, 0, ontoerr.Wrap("resolve_or_quarantine", ontoerr.ErrStorage, err)
	}
	return res, id, nil
}

// QuarantineItem re-exports types.Quarantine.
type QuarantineItem = types.Quarantine

// ListQuarantine returns unresolved or resolved quarantine items,
// newest first, paginated.
func (r *Resolver) ListQuarantine(ctx context.Context, resolved bool, limit, offset int) ([]QuarantineItem, error) {
	limit = clampLimit(limit)
	if offset < 0 {
		offset = 0
	}
	out, err := r.store.GetQuarantineItems(ctx, resolved, limit, offset)
	if err != nil {
		return nil, ontoerr.Wrap("list_quarantine", ontoerr.ErrStorage, err)
	}
	return out, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

// BindQuarantine manually binds a quarantine row to synID, recording
// who performed the binding.
func (r *Resolver) BindQuarantine(ctx context.Context, id int64, synID, resolvedBy string) error {
	if !idgen.Validate(synID) {
		return ontoerr.Invalidf("malformed syn_id %q", synID)
	}
	if err := r.store.ResolveQuarantineItem(ctx, id, synID, resolvedBy); err != nil {
		if ontoerr.Is(err, ontoerr.ErrNotFound) {
			return err
		}
		return ontoerr.Wrap("bind_quarantine", ontoerr.ErrStorage, err)
	}
	return nil
}
