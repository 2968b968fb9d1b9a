package store

import (
	"github.com/Epiphytic/captain-hook/internal/decision"
)

// ScopeResolver answers "what does every scope say about this key" for the
// cascade runner's step 7 (spec.md §4.J). It keeps one in-memory index per
// scope, rebuilt from the on-disk Store on construction and refreshed by
// the cascade runner whenever it persists a new record.
type ScopeResolver struct {
	store   *Store
	byScope map[decision.ScopeLevel]map[decision.CacheKey]decision.DecisionRecord
}

// NewScopeResolver loads every scope's records from store.
func NewScopeResolver(s *Store) (*ScopeResolver, error) {
	r := &ScopeResolver{store: s, byScope: map[decision.ScopeLevel]map[decision.CacheKey]decision.DecisionRecord{}}
	for _, scope := range decision.AllScopesBroadestFirst {
		recs, err := s.Load(scope)
		if err != nil {
			return nil, err
		}
		idx := make(map[decision.CacheKey]decision.DecisionRecord, len(recs))
		for _, rec := range recs {
			idx[rec.Key] = rec
		}
		r.byScope[scope] = idx
	}
	return r, nil
}

// Observe refreshes the resolver's in-memory index for a freshly persisted
// record, without a full reload from disk.
func (r *ScopeResolver) Observe(rec decision.DecisionRecord) {
	idx, ok := r.byScope[rec.Scope]
	if !ok {
		idx = map[decision.CacheKey]decision.DecisionRecord{}
		r.byScope[rec.Scope] = idx
	}
	idx[rec.Key] = rec
}

// Merged is the scope-merge result for a key: the winning decision plus the
// record that produced it (broadest scope wins ties between equal
// decisions, per spec.md §9's tie-break rule).
type Merged struct {
	Decision decision.Decision
	Record   decision.DecisionRecord
	Found    bool
}

// Resolve merges every scope's verdict for key using Deny > Ask > Allow >
// absent, breaking ties between scopes that agree on the same decision
// kind by preferring the broadest scope (Org over Project over User over
// Role).
func (r *ScopeResolver) Resolve(key decision.CacheKey) Merged {
	var best Merged
	for _, scope := range decision.AllScopesBroadestFirst {
		rec, ok := r.byScope[scope][key]
		if !ok {
			continue
		}
		if !best.Found {
			best = Merged{Decision: rec.Decision, Record: rec, Found: true}
			continue
		}
		merged := decision.Merge(best.Decision, rec.Decision)
		if merged != best.Decision {
			// rec strictly outranks the current best (e.g. Deny over Allow).
			best = Merged{Decision: rec.Decision, Record: rec, Found: true}
		}
		// Equal precedence: best already holds the broader scope's record
		// because AllScopesBroadestFirst iterates broadest-first and we
		// never replace on a tie.
	}
	return best
}
