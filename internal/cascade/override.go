package cascade

import (
	"github.com/gobwas/glob"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

// OverrideRule is a human-set rule that outranks every tier (spec.md's
// "configuration precedence: explicit override rules → ..." ordering).
// Overrides are project-scoped configuration, not derived decisions, so
// they live outside the decision store and are reloaded with the rest of
// policy config on hot-reload.
type OverrideRule struct {
	Role     string // "" or "*" matches any role
	Tool     string // "" matches any tool
	PathGlob string // "" matches regardless of path
	Decision decision.Decision
	Reason   string

	compiled glob.Glob
}

// CompileOverrides compiles each rule's PathGlob, if present.
func CompileOverrides(rules []OverrideRule) ([]OverrideRule, error) {
	out := make([]OverrideRule, len(rules))
	for i, r := range rules {
		if r.PathGlob != "" {
			g, err := glob.Compile(r.PathGlob, '/')
			if err != nil {
				return nil, err
			}
			r.compiled = g
		}
		out[i] = r
	}
	return out, nil
}

// matchOverride returns the first rule matching (role, tool, filePath), or
// ok=false if none match.
func matchOverride(rules []OverrideRule, role, tool, filePath string) (OverrideRule, bool) {
	for _, r := range rules {
		if r.Role != "" && r.Role != "*" && r.Role != role {
			continue
		}
		if r.Tool != "" && r.Tool != tool {
			continue
		}
		if r.compiled != nil && !r.compiled.Match(filePath) {
			continue
		}
		return r, true
	}
	return OverrideRule{}, false
}
