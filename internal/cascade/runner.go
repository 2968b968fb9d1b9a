// Package cascade implements Component J: the public evaluate(session,
// tool_name, tool_input) -> DecisionRecord orchestration that sequences
// Tiers 0 through 4 (spec.md §4.J).
package cascade

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Epiphytic/captain-hook/internal/bashpath"
	"github.com/Epiphytic/captain-hook/internal/cache"
	"github.com/Epiphytic/captain-hook/internal/decision"
	"github.com/Epiphytic/captain-hook/internal/humanqueue"
	"github.com/Epiphytic/captain-hook/internal/jaccard"
	"github.com/Epiphytic/captain-hook/internal/metrics"
	"github.com/Epiphytic/captain-hook/internal/pathpolicy"
	"github.com/Epiphytic/captain-hook/internal/sanitize"
	"github.com/Epiphytic/captain-hook/internal/session"
	"github.com/Epiphytic/captain-hook/internal/store"
	"github.com/Epiphytic/captain-hook/internal/supervisor"
	"github.com/Epiphytic/captain-hook/internal/vectorindex"
)

// observeDecision records a terminal verdict against the Prometheus
// collectors: a count labeled by tier and decision, the latency that
// produced it, and (when the tier is similarity-based) the match score.
func observeDecision(rec decision.DecisionRecord, elapsed time.Duration) {
	metrics.Decisions.WithLabelValues(string(rec.Tier), string(rec.Decision)).Inc()
	metrics.TierLatency.WithLabelValues(string(rec.Tier)).Observe(elapsed.Seconds())
	if rec.SimilarityScore > 0 {
		metrics.SimilarityScore.WithLabelValues(string(rec.Tier)).Observe(rec.SimilarityScore)
	}
}

// ToolInput is the raw tool-call payload, e.g. {"command": "rm -rf x"} for
// Bash or {"file_path": "src/a.go", "content": "..."} for Write/Edit.
type ToolInput map[string]any

// Request is a single tool-call gating request.
type Request struct {
	SessionID string
	ToolName  string
	ToolInput ToolInput
}

// RoleLookup resolves a role name to its compiled policy, description, and
// glob lists for the supervisor prompt. Implemented by the config package;
// kept as an interface here so cascade has no config dependency.
type RoleLookup interface {
	CompiledRole(role string) (*pathpolicy.CompiledRole, bool)
	RoleDescription(role string) string
	RoleGlobs(role string) (allowWrite, denyWrite, allowRead []string)
}

// Runner owns every per-scope-set component and sequences the tiers.
type Runner struct {
	Sessions   *session.Registry
	Sanitizer  *sanitize.Pipeline
	Roles      RoleLookup
	Sensitive  *pathpolicy.SensitiveDefaults
	Overrides  []OverrideRule
	Scopes     *store.ScopeResolver
	Cache      *cache.Cache
	Jaccard    *jaccard.Index
	Vector     *vectorindex.Index
	Supervisor supervisor.Client
	Human      *humanqueue.Queue
	Stores     map[decision.ScopeLevel]*store.Store // where to persist, keyed by the scope a record belongs to

	RegistrationTimeout time.Duration
	SupervisorTimeout   time.Duration
	HumanTimeout        time.Duration
	SupervisorScope     decision.ScopeLevel // which scope's confidence threshold governs Tier 3 adoption

	Logf func(format string, args ...any)

	// humanSF coalesces concurrent calls to runHumanTier that share a
	// CacheKey: several sessions hitting the same undetermined tool call at
	// once must enqueue (and wait on) a single pending entry, not one each.
	humanSF singleflight.Group
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

// Evaluate runs the full cascade for one tool call.
func (r *Runner) Evaluate(ctx context.Context, req Request) decision.DecisionRecord {
	start := time.Now()

	// 1. Resolve session; disabled sessions always allow.
	sctx, err := r.Sessions.Resolve(req.SessionID)
	if err == nil && sctx.Disabled {
		rec := decision.DecisionRecord{
			Decision: decision.Allow, Tier: decision.TierSessionGate,
			Reason: "session disabled", SessionID: req.SessionID, Timestamp: time.Now(),
		}
		observeDecision(rec, time.Since(start))
		return rec
	}

	// 2. No role yet: wait for registration.
	if err != nil {
		sctx, err = r.Sessions.WaitForRegistration(req.SessionID, r.RegistrationTimeout)
		if err != nil {
			rec := decision.DecisionRecord{
				Decision: decision.Deny, Tier: decision.TierSessionGate,
				Reason: "session not registered; run registration before issuing tool calls",
				SessionID: req.SessionID, Timestamp: time.Now(),
			}
			observeDecision(rec, time.Since(start))
			return rec
		}
	}
	role := sctx.Role

	// 3. Determine file path, if any.
	filePath := extractFilePath(req.ToolName, req.ToolInput)

	// 4. Sanitize the tool input.
	rawInput := rawInputText(req.ToolName, req.ToolInput)
	sanitizedInput := r.Sanitizer.Redact(rawInput)

	key := decision.CacheKey{SanitizedInput: sanitizedInput, Tool: req.ToolName, Role: role}

	// 5. Explicit overrides short-circuit immediately.
	if rule, ok := matchOverride(r.Overrides, role, req.ToolName, filePath); ok {
		rec := decision.DecisionRecord{
			Key: key, Decision: rule.Decision, Tier: decision.TierOverride,
			Confidence: 1.0, Reason: rule.Reason, Scope: decision.ScopeProject,
			Timestamp: time.Now(), SessionID: req.SessionID, FilePath: filePath,
		}
		r.persist(rec)
		observeDecision(rec, time.Since(start))
		return rec
	}

	// 7. Scope resolver across Role/User/Project/Org.
	if merged := r.Scopes.Resolve(key); merged.Found {
		if merged.Decision == decision.Ask {
			return r.runHumanTier(ctx, req, key, filePath, true, "cached Ask at "+merged.Record.Scope.String()+" scope")
		}
		rec := merged.Record
		rec.Tier = decision.TierScope
		rec.Confidence = 1.0
		rec.Reason = "scope-merged record at " + rec.Scope.String() + " scope: " + rec.Reason
		rec.Timestamp = time.Now()
		rec.SessionID = req.SessionID
		r.persist(rec)
		observeDecision(rec, time.Since(start))
		return rec
	}

	// 8. Tier 0: path policy.
	if compiledRole, ok := r.Roles.CompiledRole(role); ok {
		var presult pathpolicy.Result
		if req.ToolName == "Bash" {
			if cmd, ok := req.ToolInput["command"].(string); ok {
				presult = pathpolicy.EvaluateBash(compiledRole, r.Sensitive, cmd)
			}
		} else if filePath != "" {
			op := pathpolicy.OpUndetermined
			if pathpolicy.ReadOnlyTools[req.ToolName] {
				op = pathpolicy.OpRead
			} else if pathpolicy.WriteTools[req.ToolName] {
				op = pathpolicy.OpWrite
			}
			presult = pathpolicy.Evaluate(compiledRole, r.Sensitive, op, filePath)
		}
		if presult.Determined {
			rec := decision.DecisionRecord{
				Key: key, Decision: presult.Decision, Tier: decision.TierPathPolicy,
				Confidence: 1.0, Reason: presult.Reason, Scope: decision.ScopeRole,
				Timestamp: time.Now(), SessionID: req.SessionID, FilePath: presult.FilePath,
			}
			r.persist(rec)
			observeDecision(rec, time.Since(start))
			return rec
		}
	}

	// 9. Tier 1: exact cache.
	if rec, ok := r.Cache.Lookup(key); ok {
		if rec.Decision == decision.Ask {
			return r.runHumanTier(ctx, req, key, filePath, true, "cached Ask at exact-cache tier")
		}
		rec.Tier = decision.TierExactCache
		rec.Confidence = 1.0
		rec.Timestamp = time.Now()
		rec.SessionID = req.SessionID
		r.persist(rec)
		observeDecision(rec, time.Since(start))
		return rec
	}

	// 10. Tier 2a: Jaccard.
	if jr := r.Jaccard.Query(sanitizedInput, role); jr.Found {
		rec := decision.DecisionRecord{
			Key: key, Decision: jr.Record.Decision, Tier: decision.TierJaccard,
			Confidence: jr.Score, SimilarityScore: jr.Score, MatchedKey: &jr.Record.Key,
			Reason: "near-duplicate match", Scope: decision.ScopeRole,
			Timestamp: time.Now(), SessionID: req.SessionID, FilePath: filePath,
		}
		if jr.Record.Decision == decision.Ask {
			return r.runHumanTier(ctx, req, key, filePath, true, "Jaccard near-duplicate of a cached Ask")
		}
		r.persist(rec)
		observeDecision(rec, time.Since(start))
		return rec
	}

	// 11. Tier 2b: vector.
	if vr := r.Vector.Query(sanitizedInput); vr.Found {
		rec := decision.DecisionRecord{
			Key: key, Decision: vr.Record.Decision, Tier: decision.TierVector,
			Confidence: float64(vr.Score), SimilarityScore: float64(vr.Score), MatchedKey: &vr.Record.Key,
			Reason: "embedding near-neighbor match", Scope: decision.ScopeRole,
			Timestamp: time.Now(), SessionID: req.SessionID, FilePath: filePath,
		}
		if vr.Record.Decision == decision.Ask {
			return r.runHumanTier(ctx, req, key, filePath, true, "vector near-neighbor of a cached Ask")
		}
		r.persist(rec)
		observeDecision(rec, time.Since(start))
		return rec
	}

	// 12. Tier 3: supervisor.
	if r.Supervisor != nil {
		allowGlobs, denyGlobs, readGlobs := r.Roles.RoleGlobs(role)
		sreq := supervisor.Request{
			SanitizedInput: sanitizedInput, Role: role, RoleDescription: r.Roles.RoleDescription(role),
			Tool: req.ToolName, FilePath: filePath, Task: sctx.Task, SystemPromptPath: sctx.PromptPath,
		}
		spol := supervisor.Policy{RoleDescription: r.Roles.RoleDescription(role), AllowWriteGlobs: allowGlobs, DenyWriteGlobs: denyGlobs, AllowReadGlobs: readGlobs}
		sres := supervisor.Evaluate(ctx, r.Supervisor, sreq, spol, r.SupervisorScope, r.SupervisorTimeout)
		if sres.Adopted {
			if sres.Verdict.Decision == decision.Ask {
				return r.runHumanTier(ctx, req, key, filePath, false, sres.Verdict.Reason)
			}
			rec := decision.DecisionRecord{
				Key: key, Decision: sres.Verdict.Decision, Tier: decision.TierSupervisor,
				Confidence: sres.Verdict.Confidence, Reason: sres.Verdict.Reason, Scope: decision.ScopeRole,
				Timestamp: time.Now(), SessionID: req.SessionID, FilePath: filePath,
			}
			r.persist(rec)
			observeDecision(rec, time.Since(start))
			return rec
		}
	}

	// 13. Tier 4: human (blocking, authoritative).
	return r.runHumanTier(ctx, req, key, filePath, false, "no tier produced a determined verdict")
}

// runHumanTier enqueues a pending entry, blocks on WaitForResponse, and
// translates the response into a DecisionRecord. isAskReprompt distinguishes
// "we hit a cached Ask" from "every automated tier fell through."
func (r *Runner) runHumanTier(ctx context.Context, req Request, key decision.CacheKey, filePath string, isAskReprompt bool, reason string) decision.DecisionRecord {
	sfKey := fmt.Sprintf("%s\x00%s\x00%s", key.Tool, key.Role, key.SanitizedInput)
	v, _, _ := r.humanSF.Do(sfKey, func() (any, error) {
		return r.enqueueAndWaitForHuman(ctx, req, key, filePath, isAskReprompt, reason), nil
	})
	return v.(decision.DecisionRecord)
}

// enqueueAndWaitForHuman is runHumanTier's body, factored out so
// singleflight.Do can share one in-flight call across every concurrent
// caller for the same CacheKey. A record returned from a shared call
// carries the SessionID of whichever caller happened to execute it, not
// necessarily the one asking — acceptable since the decision, not the
// session attribution, is what every waiter needs.
func (r *Runner) enqueueAndWaitForHuman(ctx context.Context, req Request, key decision.CacheKey, filePath string, isAskReprompt bool, reason string) decision.DecisionRecord {
	start := time.Now()
	pending, err := r.Human.Enqueue(humanqueue.Pending{
		SessionID: req.SessionID, Role: key.Role, Tool: key.Tool,
		SanitizedInput: key.SanitizedInput, FilePath: filePath,
		IsAskReprompt: isAskReprompt, AskReason: reason,
	})
	if err != nil {
		rec := decision.DecisionRecord{
			Key: key, Decision: decision.Deny, Tier: decision.TierDefaultDeny,
			Reason: fmt.Sprintf("failed to enqueue human review: %v", err),
			Timestamp: time.Now(), SessionID: req.SessionID, FilePath: filePath,
		}
		r.persist(rec)
		observeDecision(rec, time.Since(start))
		return rec
	}
	r.observeHumanQueueDepth()

	resp, err := r.Human.WaitForResponse(pending.ID, r.HumanTimeout)
	r.observeHumanQueueDepth()
	finalDecision := resp.Decision
	tier := decision.TierHuman
	if err != nil {
		finalDecision = decision.Deny
		if !isAskReprompt {
			// Every other tier was undetermined and Tier 4 itself timed out:
			// spec.md step 14's distinct default-deny marker, never mislabeled
			// as PathPolicy or Human.
			tier = decision.TierDefaultDeny
		}
	}
	recordedDecision := finalDecision
	if resp.RecordAsAsk {
		recordedDecision = decision.Ask
	}

	rec := decision.DecisionRecord{
		Key: key, Decision: recordedDecision, Tier: tier,
		Confidence: 1.0, Reason: resp.Reason, Scope: decision.ScopeRole,
		Timestamp: time.Now(), SessionID: req.SessionID, FilePath: filePath,
	}
	r.persist(rec)
	observeDecision(rec, time.Since(start))

	// The invocation's own verdict is the one-time decision, even if the
	// persisted record (for future lookups) is pinned to Ask.
	invocationRec := rec
	invocationRec.Decision = finalDecision
	return invocationRec
}

// persist writes rec to the cache (immediately visible), the similarity
// indices, and the on-disk store, in that order (spec.md §4.J persistence
// order). A disk-write failure is logged but never undoes the in-memory
// effect.
func (r *Runner) persist(rec decision.DecisionRecord) {
	r.Cache.Put(rec)
	r.Jaccard.Insert(rec)
	r.Vector.Insert(rec)
	if r.Scopes != nil {
		r.Scopes.Observe(rec)
	}
	if s, ok := r.Stores[rec.Scope]; ok && s != nil {
		if err := s.Save(rec); err != nil {
			r.logf("cascade: failed to persist decision to scope %s store: %v", rec.Scope, err)
		}
	}
}

// observeHumanQueueDepth refreshes the HumanQueueDepth gauge from the
// queue's actual pending count, called around every enqueue/drain.
func (r *Runner) observeHumanQueueDepth() {
	if r.Human == nil {
		return
	}
	pending, err := r.Human.ListPending()
	if err != nil {
		return
	}
	metrics.HumanQueueDepth.Set(float64(len(pending)))
}

// extractFilePath pulls a conventional "file_path" argument for
// file-modifying tools, or the first resolvable bashpath hit for Bash.
func extractFilePath(toolName string, input ToolInput) string {
	if toolName == "Bash" {
		cmd, _ := input["command"].(string)
		for _, hit := range bashpath.Extract(cmd) {
			if hit.Resolvable {
				return hit.Path
			}
		}
		return ""
	}
	if fp, ok := input["file_path"].(string); ok {
		return fp
	}
	if fp, ok := input["path"].(string); ok {
		return fp
	}
	return ""
}

// rawInputText renders the parts of tool_input worth sanitizing and
// fingerprinting: the command for Bash, otherwise file path plus content
// (so secrets written via Write/Edit are caught too).
func rawInputText(toolName string, input ToolInput) string {
	if toolName == "Bash" {
		cmd, _ := input["command"].(string)
		return cmd
	}
	var out string
	if fp, ok := input["file_path"].(string); ok {
		out += fp + " "
	}
	if c, ok := input["content"].(string); ok {
		out += c
	}
	if c, ok := input["new_string"].(string); ok {
		out += c
	}
	return out
}
