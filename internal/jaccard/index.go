// Package jaccard implements Tier 2a: sorted-token-set similarity over
// cached entries (spec.md §4.F). Token sets are precomputed once per
// record and compared via merge-join on sorted slices, bucketed by role
// and token count so a query only scans entries that could plausibly beat
// the threshold.
package jaccard

import (
	"sort"
	"sync"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

// DefaultMinTokens and DefaultThreshold match spec.md's defaults.
const (
	DefaultMinTokens  = 3
	DefaultThreshold  = 0.7
)

// entry is a record plus its precomputed sorted, deduplicated token set.
type entry struct {
	record decision.DecisionRecord
	tokens []string
}

// Index is a per-scope-set Jaccard similarity index. Like Cache, one
// instance typically serves the whole process.
type Index struct {
	mu         sync.RWMutex
	minTokens  int
	threshold  float64
	byRole     map[string][]entry
}

// New constructs an Index with the given min-token-count and threshold
// (pass <=0 for either to take the spec defaults).
func New(minTokens int, threshold float64) *Index {
	if minTokens <= 0 {
		minTokens = DefaultMinTokens
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Index{minTokens: minTokens, threshold: threshold, byRole: map[string][]entry{}}
}

// Tokenize splits s on whitespace and a fixed punctuation class, lower-
// cases, deduplicates, and sorts — the exact token-set construction spec.md
// specifies for both indexing and querying, so the two sides are always
// comparable.
func Tokenize(s string) []string {
	set := map[string]bool{}
	var cur []byte
	flush := func() {
		if len(cur) > 0 {
			set[string(cur)] = true
			cur = cur[:0]
		}
	}
	for _, r := range s {
		if isTokenPunct(r) {
			flush()
			continue
		}
		cur = append(cur, byte(lowerASCII(r)))
	}
	flush()
	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}

func lowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}

func isTokenPunct(r rune) bool {
	switch r {
	case ' ', '\t', '\n', '\r', '/', '-', '_', '=', ':', '.', ',', ';', '|', '<', '>', '&', '"', '\'', '(', ')', '{', '}', '[', ']':
		return true
	default:
		return false
	}
}

// Insert precomputes rec's token set and adds it to the index, bucketed by
// role.
func (idx *Index) Insert(rec decision.DecisionRecord) {
	tokens := Tokenize(rec.Key.SanitizedInput)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.byRole[rec.Key.Role] = append(idx.byRole[rec.Key.Role], entry{record: rec, tokens: tokens})
}

// Result is a Tier 2a query outcome.
type Result struct {
	Found      bool
	Record     decision.DecisionRecord
	Score      float64
	Undetermined bool // best match exists but translation rules say "don't decide"
}

// Query tokenizes input identically to Insert and finds the
// highest-scoring entry for role (or the wildcard role) whose Jaccard
// score is >= the configured threshold. Returns not-found if input has
// fewer than minTokens tokens.
func (idx *Index) Query(input, role string) Result {
	tokens := Tokenize(input)
	if len(tokens) < idx.minTokens {
		return Result{}
	}
	idx.mu.RLock()
	candidates := append(append([]entry{}, idx.byRole[role]...), idx.byRole[decision.RoleWildcard]...)
	idx.mu.RUnlock()

	var best entry
	bestScore := -1.0
	for _, c := range candidates {
		// Bucket by token-count ratio: two sets can't reach the threshold
		// if one is much shorter than the other, since
		// |A∩B| <= min(|A|,|B|) bounds the Jaccard numerator.
		if !canPossiblyReachThreshold(len(tokens), len(c.tokens), idx.threshold) {
			continue
		}
		score := jaccard(tokens, c.tokens)
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	if bestScore < idx.threshold {
		return Result{}
	}

	switch best.record.Decision {
	case decision.Allow:
		return Result{Found: true, Record: best.record, Score: bestScore}
	case decision.Ask:
		return Result{Found: true, Record: best.record, Score: bestScore}
	case decision.Deny:
		// Never auto-deny on a weak structural match (spec.md invariant).
		return Result{Undetermined: true, Score: bestScore}
	default:
		return Result{}
	}
}

func canPossiblyReachThreshold(a, b int, threshold float64) bool {
	if a == 0 || b == 0 {
		return false
	}
	minLen := a
	if b < minLen {
		minLen = b
	}
	maxLen := a
	if b > maxLen {
		maxLen = b
	}
	// |A∩B| <= minLen, |A∪B| >= maxLen, so the best possible score is
	// minLen/maxLen.
	return float64(minLen)/float64(maxLen) >= threshold
}

// jaccard computes |A∩B|/|A∪B| for two sorted, deduplicated token slices
// via merge-join.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	i, j, inter := 0, 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			inter++
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
