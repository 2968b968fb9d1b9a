package store

import (
	"os"
	"testing"
	"time"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

func rec(key decision.CacheKey, d decision.Decision, scope decision.ScopeLevel) decision.DecisionRecord {
	return decision.DecisionRecord{
		Key: key, Decision: d, Tier: decision.TierExactCache, Confidence: 1.0,
		Scope: scope, Timestamp: time.Now(),
	}
}

func TestSaveThenLoad(t *testing.T) {
	s := New(t.TempDir())
	key := decision.CacheKey{SanitizedInput: "rm -rf /tmp/x", Tool: "Bash", Role: "coder"}
	if err := s.Save(rec(key, decision.Deny, decision.ScopeUser)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	recs, err := s.Load(decision.ScopeUser)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 1 || recs[0].Decision != decision.Deny {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestDuplicateKeyLastWins(t *testing.T) {
	s := New(t.TempDir())
	key := decision.CacheKey{SanitizedInput: "x", Tool: "Bash", Role: "coder"}
	if err := s.Save(rec(key, decision.Allow, decision.ScopeUser)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Save(rec(key, decision.Deny, decision.ScopeUser)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	recs, err := s.Load(decision.ScopeUser)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(recs) != 1 || recs[0].Decision != decision.Deny {
		t.Fatalf("expected last occurrence (deny) to win, got %+v", recs)
	}
}

func TestMalformedLineSkippedNotFatal(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	key := decision.CacheKey{SanitizedInput: "x", Tool: "Bash", Role: "coder"}
	if err := s.Save(rec(key, decision.Allow, decision.ScopeUser)); err != nil {
		t.Fatalf("Save: %v", err)
	}
	path := s.filePath(decision.ScopeUser, decision.Allow)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := f.WriteString("not json\n"); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	recs, err := s.Load(decision.ScopeUser)
	if err != nil {
		t.Fatalf("Load should not fail on malformed line: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected malformed line skipped, got %+v", recs)
	}
}

func TestInvalidateRole(t *testing.T) {
	s := New(t.TempDir())
	k1 := decision.CacheKey{SanitizedInput: "a", Tool: "Bash", Role: "coder"}
	k2 := decision.CacheKey{SanitizedInput: "b", Tool: "Bash", Role: "maintainer"}
	_ = s.Save(rec(k1, decision.Allow, decision.ScopeUser))
	_ = s.Save(rec(k2, decision.Allow, decision.ScopeUser))

	if err := s.InvalidateRole(decision.ScopeUser, "coder"); err != nil {
		t.Fatalf("InvalidateRole: %v", err)
	}
	recs, _ := s.Load(decision.ScopeUser)
	if len(recs) != 1 || recs[0].Key.Role != "maintainer" {
		t.Fatalf("expected only maintainer record left, got %+v", recs)
	}
}

func TestScopeResolverMergePrecedence(t *testing.T) {
	s := New(t.TempDir())
	key := decision.CacheKey{SanitizedInput: "rm -rf /", Tool: "Bash", Role: "coder"}
	_ = s.Save(rec(key, decision.Allow, decision.ScopeRole))
	_ = s.Save(rec(key, decision.Ask, decision.ScopeUser))
	_ = s.Save(rec(key, decision.Deny, decision.ScopeProject))

	resolver, err := NewScopeResolver(s)
	if err != nil {
		t.Fatalf("NewScopeResolver: %v", err)
	}
	merged := resolver.Resolve(key)
	if !merged.Found || merged.Decision != decision.Deny {
		t.Fatalf("expected merged Deny, got %+v", merged)
	}
}

func TestProjectAndRoleScopesDoNotShareNamespace(t *testing.T) {
	s := New(t.TempDir())
	key := decision.CacheKey{SanitizedInput: "x", Tool: "Bash", Role: "coder"}
	_ = s.Save(rec(key, decision.Allow, decision.ScopeProject))
	projectRecs, _ := s.Load(decision.ScopeProject)
	roleRecs, _ := s.Load(decision.ScopeRole)
	if len(projectRecs) != 1 {
		t.Fatalf("expected project record present")
	}
	if len(roleRecs) != 0 {
		t.Fatalf("expected role scope untouched, got %+v", roleRecs)
	}
}
