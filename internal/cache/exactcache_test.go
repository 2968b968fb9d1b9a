package cache

import (
	"testing"
	"time"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

func TestPutThenLookupHit(t *testing.T) {
	c := New()
	key := decision.CacheKey{SanitizedInput: "rm -rf /tmp/x", Tool: "Bash", Role: "coder"}
	rec := decision.DecisionRecord{Key: key, Decision: decision.Allow, Tier: decision.TierExactCache, Confidence: 1.0, Timestamp: time.Now()}
	c.Put(rec)
	got, ok := c.Lookup(key)
	if !ok || got.Decision != decision.Allow {
		t.Fatalf("expected cache hit Allow, got %+v ok=%v", got, ok)
	}
}

func TestLookupMiss(t *testing.T) {
	c := New()
	_, ok := c.Lookup(decision.CacheKey{SanitizedInput: "nope", Tool: "Bash", Role: "coder"})
	if ok {
		t.Fatalf("expected miss")
	}
}

func TestAskRecordEscalationFlag(t *testing.T) {
	c := New()
	key := decision.CacheKey{SanitizedInput: "rm -rf /tmp/x", Tool: "Bash", Role: "coder"}
	c.Put(decision.DecisionRecord{Key: key, Decision: decision.Ask, Tier: decision.TierHuman, Confidence: 1.0})
	rec, ok := c.Lookup(key)
	if !ok || !rec.Escalation() {
		t.Fatalf("expected Ask record to report Escalation()==true")
	}
}

func TestDeleteRoleClearsOnlyThatRole(t *testing.T) {
	c := New()
	c.Put(decision.DecisionRecord{Key: decision.CacheKey{SanitizedInput: "a", Tool: "Bash", Role: "coder"}, Decision: decision.Allow})
	c.Put(decision.DecisionRecord{Key: decision.CacheKey{SanitizedInput: "b", Tool: "Bash", Role: "maintainer"}, Decision: decision.Allow})
	c.DeleteRole("coder")
	if _, ok := c.Lookup(decision.CacheKey{SanitizedInput: "a", Tool: "Bash", Role: "coder"}); ok {
		t.Fatalf("expected coder entry removed")
	}
	if _, ok := c.Lookup(decision.CacheKey{SanitizedInput: "b", Tool: "Bash", Role: "maintainer"}); !ok {
		t.Fatalf("expected maintainer entry untouched")
	}
}

func TestPoisonedLockRecovers(t *testing.T) {
	c := New()
	func() {
		defer func() { _ = recover() }()
		c.mu.Lock()
		defer c.mu.Unlock()
		panic("simulated panic while holding write lock")
	}()
	// The mutex must still be usable afterward.
	key := decision.CacheKey{SanitizedInput: "after-panic", Tool: "Bash", Role: "coder"}
	c.Put(decision.DecisionRecord{Key: key, Decision: decision.Deny})
	if _, ok := c.Lookup(key); !ok {
		t.Fatalf("expected cache usable after a panic under the lock")
	}
}
