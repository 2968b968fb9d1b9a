// Package vectorindex implements Tier 2b: a local embedding plus an
// approximate-nearest-neighbor index over cached decisions (spec.md
// §4.G). It degrades gracefully to a permanent no-op if the embedding
// step is disabled, and persists to disk as a derived artifact rebuildable
// from the decision store alone.
package vectorindex

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/Epiphytic/captain-hook/internal/decision"
	"github.com/Epiphytic/captain-hook/internal/fsatomic"
)

// DefaultThreshold is the default cosine-similarity cutoff.
const DefaultThreshold = 0.85

// RebuildPolicy bounds how often a buffered insert triggers a background
// rebuild: at least minRecords new entries, or minInterval elapsed since
// the last rebuild, whichever comes first.
type RebuildPolicy struct {
	MinRecords int
	MinInterval time.Duration
}

// DefaultRebuildPolicy matches spec.md's illustrative numbers.
var DefaultRebuildPolicy = RebuildPolicy{MinRecords: 20, MinInterval: 30 * time.Second}

// Index is the Tier 2b similarity index: an embedded vector per cached
// record backed by an approximate-NN graph, with buffered inserts and a
// bounded-frequency background rebuild.
type Index struct {
	mu        sync.RWMutex
	threshold float32
	disabled  bool // true if embedding is unavailable; every query is then a permanent no-op.
	policy    RebuildPolicy

	records []decision.DecisionRecord
	g       *graph

	pendingSince  time.Time
	pendingCount  int
	lastRebuild   time.Time
}

// New constructs an empty Index. If disableEmbedding is true the index
// behaves as a permanent no-op (spec.md's graceful-degradation
// requirement for a missing/unavailable embedding model).
func New(threshold float64, policy RebuildPolicy, disableEmbedding bool) *Index {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if policy.MinRecords <= 0 && policy.MinInterval <= 0 {
		policy = DefaultRebuildPolicy
	}
	return &Index{
		threshold: float32(threshold),
		policy:    policy,
		disabled:  disableEmbedding,
		g:         newGraph(16, 64),
	}
}

// BuildFrom replaces the index's contents with a fresh graph built from
// records. Expensive; meant for startup, explicit rebuild, or a deferred
// background task — never the hot path of a single request.
func (idx *Index) BuildFrom(records []decision.DecisionRecord) {
	if idx.disabled {
		return
	}
	g := newGraph(16, 64)
	kept := make([]decision.DecisionRecord, 0, len(records))
	for _, r := range records {
		g.insert(Embed(r.Key.SanitizedInput))
		kept = append(kept, r)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.g = g
	idx.records = kept
	idx.pendingCount = 0
	idx.pendingSince = time.Time{}
	idx.lastRebuild = now()
}

// now is a thin indirection so tests can avoid the banned time.Now in
// hot paths if ever needed; here it's just time.Now since rebuild
// scheduling is not part of a replayed/cached code path.
func now() time.Time { return time.Now() }

// Insert buffers rec for the next rebuild rather than mutating the graph
// in place; the graph is a derived, rebuild-from-scratch artifact
// (spec.md's cyclic-avoidance rule for this component).
func (idx *Index) Insert(rec decision.DecisionRecord) {
	if idx.disabled {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.records = append(idx.records, rec)
	idx.pendingCount++
	if idx.pendingSince.IsZero() {
		idx.pendingSince = now()
	}
}

// ShouldRebuild reports whether the buffered-insert thresholds have been
// crossed; callers schedule BuildFrom on a background task when true,
// never inline on the request hot path.
func (idx *Index) ShouldRebuild() bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.disabled || idx.pendingCount == 0 {
		return false
	}
	if idx.pendingCount >= idx.policy.MinRecords {
		return true
	}
	return now().Sub(idx.pendingSince) >= idx.policy.MinInterval
}

// Snapshot returns the records currently backing the index, for handing to
// a background rebuild task (BuildFrom(idx.Snapshot())).
func (idx *Index) Snapshot() []decision.DecisionRecord {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]decision.DecisionRecord, len(idx.records))
	copy(out, idx.records)
	return out
}

// Result is a Tier 2b query outcome, structurally identical in meaning to
// jaccard.Result.
type Result struct {
	Found        bool
	Record       decision.DecisionRecord
	Score        float32
	Undetermined bool
}

// Query embeds input once and searches the graph for its nearest
// neighbor. A disabled index (no embedding model available) always
// returns the empty Result — a permanent, silent no-op per spec.md.
func (idx *Index) Query(input string) Result {
	if idx.disabled {
		return Result{}
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	if idx.g == nil || len(idx.records) == 0 {
		return Result{}
	}
	q := Embed(input)
	id, sim, ok := idx.g.nearest(q)
	if !ok || sim < idx.threshold {
		return Result{}
	}
	if id < 0 || id >= len(idx.records) {
		return Result{}
	}
	rec := idx.records[id]
	switch rec.Decision {
	case decision.Allow, decision.Ask:
		return Result{Found: true, Record: rec, Score: sim}
	case decision.Deny:
		return Result{Undetermined: true, Score: sim}
	default:
		return Result{}
	}
}

// persistedEntry is the on-disk representation of one indexed record: its
// decision record plus a JSON-able view of the embedding, sufficient to
// reconstruct the graph (or to rebuild it from scratch, which Load always
// prefers when the stored format is unreadable).
type persistedEntry struct {
	Record decision.DecisionRecord `json:"record"`
	Vector [Dims]float32           `json:"vector"`
}

// SaveToDisk serializes the current records and their embeddings as one
// JSON object per line. This is a derived artifact: if it is ever lost or
// corrupted, Load falls back to an empty index and the cascade runner can
// rebuild it from the decision store.
func (idx *Index) SaveToDisk(path string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	var buf []byte
	for i, r := range idx.records {
		var vec Embedding
		if i < len(idx.g.nodes) {
			vec = idx.g.nodes[i].vec
		} else {
			vec = Embed(r.Key.SanitizedInput)
		}
		entry := persistedEntry{Record: r, Vector: vec}
		line, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	return fsatomic.WriteFile0600(path, buf)
}

// LoadFromDisk reads a previously saved index. A missing or malformed file
// is not an error in the cascade's sense: the caller should treat it as an
// empty index and trigger BuildFrom from the decision store.
func LoadFromDisk(path string, threshold float64, policy RebuildPolicy, disableEmbedding bool) (*Index, error) {
	idx := New(threshold, policy, disableEmbedding)
	if disableEmbedding {
		return idx, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return idx, err
	}
	defer f.Close()

	var records []decision.DecisionRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		var entry persistedEntry
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			continue // corrupted derived artifact: skip, rebuild will repair it
		}
		records = append(records, entry.Record)
	}
	idx.BuildFrom(records)
	return idx, nil
}
