package cascade

import (
	"context"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"

	"github.com/Epiphytic/captain-hook/internal/cache"
	"github.com/Epiphytic/captain-hook/internal/decision"
	"github.com/Epiphytic/captain-hook/internal/humanqueue"
	"github.com/Epiphytic/captain-hook/internal/jaccard"
	"github.com/Epiphytic/captain-hook/internal/metrics"
	"github.com/Epiphytic/captain-hook/internal/pathpolicy"
	"github.com/Epiphytic/captain-hook/internal/sanitize"
	"github.com/Epiphytic/captain-hook/internal/session"
	"github.com/Epiphytic/captain-hook/internal/store"
	"github.com/Epiphytic/captain-hook/internal/vectorindex"
)

type fakeRoles struct {
	role *pathpolicy.CompiledRole
}

func (f *fakeRoles) CompiledRole(role string) (*pathpolicy.CompiledRole, bool) { return f.role, f.role != nil }
func (f *fakeRoles) RoleDescription(role string) string                       { return "coder role" }
func (f *fakeRoles) RoleGlobs(role string) (allowWrite, denyWrite, allowRead []string) {
	return []string{"src/**"}, []string{"tests/**"}, []string{"**"}
}

func newTestRunner(t *testing.T) (*Runner, *session.Registry) {
	t.Helper()
	dir := t.TempDir()
	sessions := session.New(dir+"/sessions", nil)
	if err := sessions.Register("sess1", "coder", "fix bug", "", "", "test"); err != nil {
		t.Fatalf("Register: %v", err)
	}

	pipeline, err := sanitize.New()
	if err != nil {
		t.Fatalf("sanitize.New: %v", err)
	}

	role, err := pathpolicy.Compile(pathpolicy.RoleDefinition{
		Name: "coder", AllowWrite: []string{"src/**"}, DenyWrite: []string{"tests/**"}, AllowRead: []string{"**"},
	})
	if err != nil {
		t.Fatalf("Compile role: %v", err)
	}
	sensitive, err := pathpolicy.CompileSensitiveDefaults(pathpolicy.DefaultSensitiveWritePatterns, nil)
	if err != nil {
		t.Fatalf("CompileSensitiveDefaults: %v", err)
	}

	st := store.New(dir + "/store")
	resolver, err := store.NewScopeResolver(st)
	if err != nil {
		t.Fatalf("NewScopeResolver: %v", err)
	}

	r := &Runner{
		Sessions:  sessions,
		Sanitizer: pipeline,
		Roles:     &fakeRoles{role: role},
		Sensitive: sensitive,
		Scopes:    resolver,
		Cache:     cache.New(),
		Jaccard:   jaccard.New(3, 0.7),
		Vector:    vectorindex.New(0, vectorindex.RebuildPolicy{}, true), // disabled: keep unit tests deterministic
		Human:     humanqueue.New(dir + "/human"),
		Stores:    map[decision.ScopeLevel]*store.Store{decision.ScopeRole: st, decision.ScopeProject: st},

		RegistrationTimeout: 50 * time.Millisecond,
		SupervisorTimeout:   50 * time.Millisecond,
		HumanTimeout:        30 * time.Millisecond,
		SupervisorScope:     decision.ScopeProject,
	}
	return r, sessions
}

func TestEvaluateDisabledSessionAlwaysAllows(t *testing.T) {
	r, sessions := newTestRunner(t)
	if err := sessions.Disable("sess1"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	rec := r.Evaluate(context.Background(), Request{SessionID: "sess1", ToolName: "Write", ToolInput: ToolInput{"file_path": "tests/x.py"}})
	if rec.Decision != decision.Allow || rec.Tier != decision.TierSessionGate {
		t.Fatalf("expected disabled-session Allow, got %+v", rec)
	}
}

func TestEvaluateUnregisteredSessionDeniesAfterTimeout(t *testing.T) {
	r, _ := newTestRunner(t)
	rec := r.Evaluate(context.Background(), Request{SessionID: "unknown-session", ToolName: "Write", ToolInput: ToolInput{"file_path": "src/x.go"}})
	if rec.Decision != decision.Deny || rec.Tier != decision.TierSessionGate {
		t.Fatalf("expected Deny for unregistered session after timeout, got %+v", rec)
	}
}

func TestEvaluatePathPolicyDeniesOutOfScopeWrite(t *testing.T) {
	r, _ := newTestRunner(t)
	rec := r.Evaluate(context.Background(), Request{SessionID: "sess1", ToolName: "Write", ToolInput: ToolInput{"file_path": "tests/auth_test.py"}})
	if rec.Decision != decision.Deny || rec.Tier != decision.TierPathPolicy {
		t.Fatalf("expected Tier 0 Deny for tests/**, got %+v", rec)
	}
}

func TestEvaluatePathPolicyAllowsInScopeWrite(t *testing.T) {
	r, _ := newTestRunner(t)
	rec := r.Evaluate(context.Background(), Request{SessionID: "sess1", ToolName: "Write", ToolInput: ToolInput{"file_path": "src/handler.go"}})
	if rec.Decision != decision.Allow || rec.Tier != decision.TierPathPolicy {
		t.Fatalf("expected Tier 0 Allow for src/**, got %+v", rec)
	}
}

func TestEvaluateSensitivePathReturnsAskDirectlyFromPathPolicy(t *testing.T) {
	r, _ := newTestRunner(t)
	rec := r.Evaluate(context.Background(), Request{SessionID: "sess1", ToolName: "Write", ToolInput: ToolInput{"file_path": ".env"}})
	// Tier 0's sensitive-path Ask is itself a determined verdict and is
	// returned directly (spec.md step 8) — it does not block on Tier 4.
	if rec.Decision != decision.Ask || rec.Tier != decision.TierPathPolicy {
		t.Fatalf("expected Tier 0 Ask for a sensitive path, got %+v", rec)
	}
}

func TestEvaluateCachedAskRepromptsThroughHumanQueueAndTimesOut(t *testing.T) {
	r, _ := newTestRunner(t)
	key := decision.CacheKey{SanitizedInput: "curl https://internal/deploy", Tool: "Bash", Role: "coder"}
	r.Cache.Put(decision.DecisionRecord{Key: key, Decision: decision.Ask, Tier: decision.TierHuman})
	rec := r.Evaluate(context.Background(), Request{SessionID: "sess1", ToolName: "Bash", ToolInput: ToolInput{"command": "curl https://internal/deploy"}})
	// A cached Ask re-prompts via the blocking Tier 4 queue; nobody answers
	// in this test, so it times out to Deny.
	if rec.Decision != decision.Deny {
		t.Fatalf("expected a human-timeout Deny for a cached-Ask reprompt with no responder, got %+v", rec)
	}
}

func TestEvaluateSecondIdenticalCallHitsScopeResolver(t *testing.T) {
	r, _ := newTestRunner(t)
	first := r.Evaluate(context.Background(), Request{SessionID: "sess1", ToolName: "Write", ToolInput: ToolInput{"file_path": "src/handler.go"}})
	if first.Decision != decision.Allow || first.Tier != decision.TierPathPolicy {
		t.Fatalf("expected first call Tier 0 Allow, got %+v", first)
	}
	// The first call's record is persisted to the Role scope store, so the
	// second identical call is intercepted by the scope resolver (step 7)
	// before it ever reaches Tier 0 or Tier 1 again.
	second := r.Evaluate(context.Background(), Request{SessionID: "sess1", ToolName: "Write", ToolInput: ToolInput{"file_path": "src/handler.go"}})
	if second.Decision != decision.Allow || second.Tier != decision.TierScope {
		t.Fatalf("expected second identical call to hit the scope resolver, got %+v", second)
	}
}

func TestEvaluateExactCacheHitTagsTierExactCache(t *testing.T) {
	r, _ := newTestRunner(t)
	// WebFetch carries no file_path and isn't Bash, so Tier 0 stays
	// undetermined and a prepopulated Tier 1 entry is the first tier that
	// can resolve it — nothing has touched the scope store for this key.
	key := decision.CacheKey{SanitizedInput: "", Tool: "WebFetch", Role: "coder"}
	r.Cache.Put(decision.DecisionRecord{Key: key, Decision: decision.Allow, Tier: decision.TierPathPolicy, Scope: decision.ScopeRole})
	rec := r.Evaluate(context.Background(), Request{SessionID: "sess1", ToolName: "WebFetch", ToolInput: ToolInput{}})
	if rec.Decision != decision.Allow || rec.Tier != decision.TierExactCache {
		t.Fatalf("expected a repeat identical request to hit Tier 1 with tier ExactCache and confidence 1.0, got %+v", rec)
	}
	if rec.Confidence != 1.0 {
		t.Fatalf("expected exact-cache hit confidence 1.0, got %v", rec.Confidence)
	}
}

func TestEvaluatePersistsTierAndLatencyMetrics(t *testing.T) {
	r, _ := newTestRunner(t)
	reg := metrics.NewRegistry()
	before, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	beforeCount := counterTotal(before, "captainhook_decisions_total")

	rec := r.Evaluate(context.Background(), Request{SessionID: "sess1", ToolName: "Write", ToolInput: ToolInput{"file_path": "src/handler.go"}})
	if rec.Tier != decision.TierPathPolicy {
		t.Fatalf("expected Tier 0 Allow, got %+v", rec)
	}

	after, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	afterCount := counterTotal(after, "captainhook_decisions_total")
	if afterCount <= beforeCount {
		t.Fatalf("expected Evaluate to increment captainhook_decisions_total, before=%v after=%v", beforeCount, afterCount)
	}
}

func counterTotal(mfs []*dto.MetricFamily, name string) float64 {
	var total float64
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestEvaluateOverrideShortCircuits(t *testing.T) {
	r, _ := newTestRunner(t)
	overrides, err := CompileOverrides([]OverrideRule{
		{Role: "coder", Tool: "Write", PathGlob: "tests/**", Decision: decision.Allow, Reason: "human-approved exception"},
	})
	if err != nil {
		t.Fatalf("CompileOverrides: %v", err)
	}
	r.Overrides = overrides
	rec := r.Evaluate(context.Background(), Request{SessionID: "sess1", ToolName: "Write", ToolInput: ToolInput{"file_path": "tests/auth_test.py"}})
	if rec.Decision != decision.Allow || rec.Tier != decision.TierOverride {
		t.Fatalf("expected override to short-circuit to Allow, got %+v", rec)
	}
}
