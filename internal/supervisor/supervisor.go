// Package supervisor implements Tier 3: a polymorphic evaluate(request,
// policy) -> DecisionRecord interface with a local Unix-socket
// implementation and a remote chat-completion implementation (spec.md
// §4.H).
package supervisor

import (
	"context"
	"time"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

// MaxResponseBytes bounds the size of any supervisor response the client
// will read, local or remote.
const MaxResponseBytes = 1 << 20 // 1 MiB

// ConfidenceThreshold is the scope-appropriate minimum confidence a
// supervisor verdict must clear before it is adopted rather than treated
// as undetermined and escalated to Tier 4.
func ConfidenceThreshold(scope decision.ScopeLevel) float64 {
	switch scope {
	case decision.ScopeOrg:
		return 0.9
	case decision.ScopeProject:
		return 0.7
	default:
		return 0.6
	}
}

// Request is everything the supervisor needs to render a verdict.
type Request struct {
	SanitizedInput string `json:"sanitized_input"`
	Role           string `json:"role"`
	RoleDescription string `json:"role_description"`
	Tool           string `json:"tool"`
	FilePath       string `json:"file_path,omitempty"`
	Task           string `json:"task,omitempty"`
	SystemPromptPath string `json:"system_prompt_path,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
}

// Policy is the subset of role/policy configuration the supervisor is
// told about, used to build both the local-socket JSON payload and the
// remote chat-completion system prompt.
type Policy struct {
	RoleDescription string
	AllowWriteGlobs []string
	DenyWriteGlobs  []string
	AllowReadGlobs  []string
}

// Verdict is the raw response shape before translation into a
// decision.DecisionRecord: decision, confidence, reason.
type Verdict struct {
	Decision   decision.Decision `json:"decision"`
	Confidence float64           `json:"confidence"`
	Reason     string            `json:"reason"`
}

// Client is the polymorphic supervisor interface. Both implementations
// must return (undetermined-equivalent) rather than error out on timeout;
// callers translate a returned error into an undetermined Result, never a
// spurious Allow.
type Client interface {
	Evaluate(ctx context.Context, req Request, pol Policy) (Verdict, error)
}

// Result is Tier 3's translated outcome for the cascade runner.
type Result struct {
	Adopted bool // true if the verdict's confidence cleared the scope threshold
	Verdict Verdict
}

// Evaluate calls client with a bounded timeout and applies the
// scope-appropriate confidence gate. A client error (including a timeout)
// always yields a non-adopted, synthesized-reason Result — never a
// spurious Allow.
func Evaluate(ctx context.Context, client Client, req Request, pol Policy, scope decision.ScopeLevel, timeout time.Duration) Result {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	v, err := client.Evaluate(cctx, req, pol)
	if err != nil {
		return Result{Adopted: false, Verdict: Verdict{Reason: "supervisor error: " + err.Error()}}
	}
	if v.Decision == decision.Ask {
		return Result{Adopted: true, Verdict: v}
	}
	if v.Confidence < ConfidenceThreshold(scope) {
		return Result{Adopted: false, Verdict: v}
	}
	return Result{Adopted: true, Verdict: v}
}
