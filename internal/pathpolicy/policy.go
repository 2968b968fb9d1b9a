// Package pathpolicy implements Tier 0 of the cascade: deterministic glob
// matching of extracted file paths against role policy and sensitive-path
// defaults (spec.md §4.D). Glob lists are compiled once into
// github.com/gobwas/glob automata (the teacher's go.mod already reaches for
// hand-rolled matchers per concern; gobwas/glob is the pack's batch-glob
// library for exactly this concern, used by path/policy-matching repos
// under other_examples/).
package pathpolicy

import (
	"fmt"
	"sort"

	"github.com/gobwas/glob"

	"github.com/Epiphytic/captain-hook/internal/bashpath"
	"github.com/Epiphytic/captain-hook/internal/decision"
)

// RoleDefinition is the source document: name, description (consumed by the
// supervisor), and three glob lists.
type RoleDefinition struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	AllowWrite  []string `yaml:"allow_write"`
	DenyWrite   []string `yaml:"deny_write"`
	AllowRead   []string `yaml:"allow_read"`
}

// CompiledGlobSet is a batch-matchable automaton over a glob list: matching
// a path costs one glob evaluation per pattern, sharing one compiled
// glob.Glob per pattern rather than re-parsing on every lookup.
type CompiledGlobSet struct {
	patterns []string
	globs    []glob.Glob
}

func compileGlobSet(patterns []string) (*CompiledGlobSet, error) {
	set := &CompiledGlobSet{patterns: patterns}
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("%w: pattern %q: %v", decision.ErrGlobPatternError, p, err)
		}
		set.globs = append(set.globs, g)
	}
	return set, nil
}

// Match returns the first pattern in the set that matches path, or "" if
// none do.
func (s *CompiledGlobSet) Match(path string) string {
	if s == nil {
		return ""
	}
	for i, g := range s.globs {
		if g.Match(path) {
			return s.patterns[i]
		}
	}
	return ""
}

// CompiledRole is a RoleDefinition with its globs compiled into automata.
type CompiledRole struct {
	Name        string
	Description string
	AllowWrite  *CompiledGlobSet
	DenyWrite   *CompiledGlobSet
	AllowRead   *CompiledGlobSet
}

// Compile compiles a RoleDefinition's three glob lists.
func Compile(def RoleDefinition) (*CompiledRole, error) {
	allowWrite, err := compileGlobSet(def.AllowWrite)
	if err != nil {
		return nil, err
	}
	denyWrite, err := compileGlobSet(def.DenyWrite)
	if err != nil {
		return nil, err
	}
	allowRead, err := compileGlobSet(def.AllowRead)
	if err != nil {
		return nil, err
	}
	return &CompiledRole{
		Name: def.Name, Description: def.Description,
		AllowWrite: allowWrite, DenyWrite: denyWrite, AllowRead: allowRead,
	}, nil
}

// SensitiveDefaults holds the sensitive-ask-write (and optional
// sensitive-ask-read) glob sets shared across every role.
type SensitiveDefaults struct {
	AskWrite *CompiledGlobSet
	AskRead  *CompiledGlobSet // nil unless configured; see SPEC_FULL.md open question.
}

// CompileSensitiveDefaults compiles the project + built-in sensitive-path
// glob list.
func CompileSensitiveDefaults(askWrite, askRead []string) (*SensitiveDefaults, error) {
	w, err := compileGlobSet(askWrite)
	if err != nil {
		return nil, err
	}
	var r *CompiledGlobSet
	if len(askRead) > 0 {
		r, err = compileGlobSet(askRead)
		if err != nil {
			return nil, err
		}
	}
	return &SensitiveDefaults{AskWrite: w, AskRead: r}, nil
}

// DefaultSensitiveWritePatterns is the built-in sensitive-path default
// list, merged with any project-specific additions.
var DefaultSensitiveWritePatterns = []string{
	".env", ".env.*", "**/.env", "**/.env.*",
	"**/secrets/**", "**/*secret*", "**/*credential*",
	"**/.ssh/**", "**/.aws/**", "**/.gnupg/**",
	"**/id_rsa", "**/id_rsa.pub", "**/id_ed25519",
	"**/*.pem", "**/*.p12", "**/*.pfx",
	"**/.git/config", "**/.netrc",
}

// OperationClass is the coarse classification a tool maps to.
type OperationClass string

const (
	OpRead        OperationClass = "read"
	OpWrite       OperationClass = "write"
	OpUndetermined OperationClass = "undetermined"
)

// ReadOnlyTools and WriteTools classify tool names into an OperationClass.
// Shell tools are classified per extracted path instead, via ClassifyBash.
var ReadOnlyTools = map[string]bool{"Read": true, "Glob": true, "Grep": true, "LS": true}
var WriteTools = map[string]bool{"Write": true, "Edit": true, "MultiEdit": true, "NotebookEdit": true}

// Result is Tier 0's verdict for a single extracted path (or the whole
// request, for non-shell tools).
type Result struct {
	Decision    decision.Decision
	Reason      string
	FilePath    string
	Determined  bool
}

// Evaluate runs the Tier 0 algorithm for a single file-modifying tool whose
// target path is filePath (write tools) or filePath for reads.
func Evaluate(role *CompiledRole, sensitive *SensitiveDefaults, op OperationClass, filePath string) Result {
	if op == OpWrite || op == OpUndetermined {
		if p := sensitive.AskWrite.Match(filePath); p != "" {
			return Result{Decision: decision.Ask, Reason: fmt.Sprintf("sensitive path default %q", p), FilePath: filePath, Determined: true}
		}
	}
	if op == OpRead && sensitive.AskRead != nil {
		if p := sensitive.AskRead.Match(filePath); p != "" {
			return Result{Decision: decision.Ask, Reason: fmt.Sprintf("sensitive read path default %q", p), FilePath: filePath, Determined: true}
		}
	}
	if op == OpWrite {
		if p := role.DenyWrite.Match(filePath); p != "" {
			return Result{Decision: decision.Deny, Reason: fmt.Sprintf("deny_write %q", p), FilePath: filePath, Determined: true}
		}
		if p := role.AllowWrite.Match(filePath); p != "" {
			return Result{Decision: decision.Allow, Reason: fmt.Sprintf("allow_write %q", p), FilePath: filePath, Determined: true}
		}
		return Result{FilePath: filePath, Determined: false}
	}
	if op == OpRead {
		if p := role.AllowRead.Match(filePath); p != "" {
			return Result{Decision: decision.Allow, Reason: fmt.Sprintf("allow_read %q", p), FilePath: filePath, Determined: true}
		}
		return Result{FilePath: filePath, Determined: false}
	}
	return Result{FilePath: filePath, Determined: false}
}

// EvaluateBash runs Tier 0 for a shell command: it extracts (path,
// operation) pairs via bashpath.Extract and applies Evaluate to each,
// taking the most restrictive verdict (Deny > Ask > Allow) across all
// paths so deny-wins semantics hold across compound commands. If
// extraction finds nothing but the command looks write-shaped, the tier
// falls through undetermined rather than allowing.
func EvaluateBash(role *CompiledRole, sensitive *SensitiveDefaults, command string) Result {
	hits := bashpath.Extract(command)
	if len(hits) == 0 {
		if bashpath.HasWriteIndicator(command) {
			return Result{Determined: false}
		}
		return Result{Determined: false}
	}

	var results []Result
	for _, h := range hits {
		op := OpWrite
		if h.Op == bashpath.OpRead {
			op = OpRead
		}
		if !h.Resolvable {
			// An unresolvable construct (command substitution, xargs, …)
			// never contributes an auto-allow; it only ever widens the
			// verdict toward undetermined/ask, never narrows it.
			results = append(results, Result{Determined: false, FilePath: h.Path})
			continue
		}
		results = append(results, Evaluate(role, sensitive, op, h.Path))
	}
	if len(results) == 0 {
		return Result{Determined: false}
	}
	return mostRestrictive(results)
}

func mostRestrictive(results []Result) Result {
	sort.SliceStable(results, func(i, j int) bool {
		return rank(results[i]) > rank(results[j])
	})
	return results[0]
}

// rank orders results so the overall multi-path verdict is most-restrictive-
// wins: Deny > Ask > undetermined > Allow. Undetermined outranks Allow
// deliberately — a path this tier could not resolve must never be
// out-voted into a silent allow by a sibling path that did resolve clean.
func rank(r Result) int {
	if !r.Determined {
		return 1
	}
	switch r.Decision {
	case decision.Deny:
		return 3
	case decision.Ask:
		return 2
	case decision.Allow:
		return 0
	default:
		return 0
	}
}
