package sanitize

import (
	"fmt"
	"regexp"
)

// contextualLayer is a batch regex matcher compiled once at startup. Each
// pattern redacts its capture group (the credential body), not the
// preceding keyword, so "password=REDACT" reads naturally.
type contextualLayer struct {
	patterns []compiledPattern
}

type compiledPattern struct {
	name string
	re   *regexp.Regexp
	// group is the index of the capture group to redact; 0 means the whole
	// match.
	group int
}

// contextualSpecs enumerates the pattern families required by spec.md
// §4.A.2: bearer tokens, key/token/secret/password assignments (both
// quoted-with-spaces and unquoted forms), database connection strings,
// flag-style credentials, JWTs, and PEM blocks.
var contextualSpecs = []struct {
	name  string
	expr  string
	group int
}{
	{"bearer-token", `(?i)\bBearer\s+([A-Za-z0-9\-_.=]+)`, 1},
	{"kv-assignment-quoted", `(?i)\b(?:api[_-]?key|token|secret|password|credential|access[_-]?key|client[_-]?secret)\s*[=:]\s*['"]([^'"]{4,})['"]`, 1},
	{"kv-assignment-bare", `(?i)\b(?:api[_-]?key|token|secret|password|credential|access[_-]?key|client[_-]?secret)\s*[=:]\s*([^\s'",;}\])]{4,})`, 1},
	{"flag-password-space", `(?i)--password\s+(\S+)`, 1},
	{"flag-password-eq", `(?i)--password=(\S+)`, 1},
	{"flag-token-space", `(?i)--(?:api-)?token\s+(\S+)`, 1},
	{"flag-token-eq", `(?i)--(?:api-)?token=(\S+)`, 1},
	{"postgres-uri", `(postgres(?:ql)?://[^:\s]+:)([^@\s]+)(@)`, 2},
	{"mysql-uri", `(mysql://[^:\s]+:)([^@\s]+)(@)`, 2},
	{"mongodb-uri", `(mongodb(?:\+srv)?://[^:\s]+:)([^@\s]+)(@)`, 2},
	{"redis-uri", `(redis://[^:\s]*:)([^@\s]+)(@)`, 2},
	{"generic-basic-auth-uri", `([a-zA-Z][a-zA-Z0-9+.\-]*://[^:\s/]+:)([^@\s]+)(@)`, 2},
	{"jwt", `\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`, 0},
	{"pem-block", `(?s)-----BEGIN [A-Z ]+-----.*?-----END [A-Z ]+-----`, 0},
	{"authorization-header", `(?i)Authorization:\s*(\S+(?:\s+\S+)?)`, 1},
	{"x-api-key-header", `(?i)X-Api-Key:\s*(\S+)`, 1},
	{"aws-secret-key", `(?i)aws_secret_access_key\s*[=:]\s*(\S+)`, 1},
	{"connection-string-pwd", `(?i)(?:pwd|password)=([^;]+);?`, 1},
	{"env-assignment", `(?i)\b([A-Z0-9_]*(?:API|TOKEN|SECRET|PASSWORD|KEY)[A-Z0-9_]*)=(\S+)`, 2},
	{"ssh-dsn-style", `([a-zA-Z0-9_.-]+://[^:/\s]+:)([^@/\s]+)(@)`, 2},
}

func newContextualLayer() (*contextualLayer, error) {
	compiled := make([]compiledPattern, 0, len(contextualSpecs))
	for _, s := range contextualSpecs {
		re, err := regexp.Compile(s.expr)
		if err != nil {
			return nil, fmt.Errorf("contextual pattern %q: %w", s.name, err)
		}
		compiled = append(compiled, compiledPattern{name: s.name, re: re, group: s.group})
	}
	return &contextualLayer{patterns: compiled}, nil
}

func (l *contextualLayer) Name() string { return "contextual-pattern" }

func (l *contextualLayer) Redact(text string) string {
	for _, p := range l.patterns {
		text = redactGroup(p.re, text, p.group)
	}
	return text
}

// redactGroup replaces, for every match of re in text, either the whole
// match (group==0) or the span of the given capture group with Sentinel,
// leaving everything outside that span untouched.
func redactGroup(re *regexp.Regexp, text string, group int) string {
	locs := re.FindAllSubmatchIndex([]byte(text), -1)
	if locs == nil {
		return text
	}
	var out []byte
	last := 0
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if group > 0 && 2*group+1 < len(loc) && loc[2*group] >= 0 {
			start, end = loc[2*group], loc[2*group+1]
		}
		if start < last {
			continue // overlapping match already consumed
		}
		out = append(out, text[last:start]...)
		out = append(out, []byte(Sentinel)...)
		last = end
	}
	out = append(out, text[last:]...)
	return string(out)
}
