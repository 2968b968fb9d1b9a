// Package bashpath statically extracts file-target paths from shell
// command strings (spec.md §4.K). It is a battery of precompiled regexes,
// one per common write-like construct, deliberately not a shell parser:
// variable expansion, command substitution, alias/function resolution,
// recursive "bash -c", xargs/find -exec targets, and process substitution
// are known limitations, documented rather than attempted.
package bashpath

import "regexp"

// OpClass is the coarse read/write classification of an extracted path.
type OpClass string

const (
	OpWrite OpClass = "write"
	OpRead  OpClass = "read"
)

// PathHit is one (path, operation) extraction with a confidence score:
// higher for absolute and quoted paths, lower for glob-containing paths,
// lowest for command-substituted or variable-containing paths.
type PathHit struct {
	Path       string
	Op         OpClass
	Confidence float64
	Resolvable bool
}

type extractPattern struct {
	name  string
	re    *regexp.Regexp
	op    OpClass
	group []int // one or more capture groups holding paths, in order
}

// quotedOrBare matches a path token: single- or double-quoted, or a bare
// run of non-whitespace/non-pipe/non-semicolon characters.
const quotedOrBare = `(?:'([^']+)'|"([^"]+)"|([^\s;&|<>]+))`

var patterns = []extractPattern{
	{"rm", regexp.MustCompile(`\brm\s+(?:-\S+\s+)*` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"mkdir", regexp.MustCompile(`\bmkdir\s+(?:-\S+\s+)*` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"touch", regexp.MustCompile(`\btouch\s+` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"chmod", regexp.MustCompile(`\bchmod\s+\S+\s+` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"chown", regexp.MustCompile(`\bchown\s+\S+\s+` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"sed-i", regexp.MustCompile(`\bsed\s+-i\S*\s+(?:-\S+\s+)*(?:'[^']*'|"[^"]*")?\s*` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"ln-dst", regexp.MustCompile(`\bln\s+(?:-\S+\s+)*\S+\s+` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"tee", regexp.MustCompile(`\btee\s+(?:-\S+\s+)*` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"dd-of", regexp.MustCompile(`\bdd\s+.*\bof=(\S+)`), OpWrite, []int{1}},
	{"git-checkout", regexp.MustCompile(`\bgit\s+checkout\s+\S+\s+--\s+` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"curl-o", regexp.MustCompile(`\bcurl\s+.*-o\s+` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"wget-O", regexp.MustCompile(`\bwget\s+.*-O\s+` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"cat-redirect", regexp.MustCompile(`\bcat\s+.*>\s*` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"append-redirect", regexp.MustCompile(`>>\s*` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	{"redirect", regexp.MustCompile(`[^>]>\s*` + quotedOrBare), OpWrite, []int{1, 2, 3}},
	// mv/cp take two paths: source and destination, both write-relevant
	// since either can be the target of data loss/overwrite.
	{"mv", regexp.MustCompile(`\bmv\s+(?:-\S+\s+)*` + quotedOrBare + `\s+` + quotedOrBare), OpWrite, []int{1, 2, 3, 4, 5, 6}},
	{"cp", regexp.MustCompile(`\bcp\s+(?:-\S+\s+)*` + quotedOrBare + `\s+` + quotedOrBare), OpWrite, []int{1, 2, 3, 4, 5, 6}},
}

// unresolvableIndicators mark constructs this static extractor cannot
// resolve paths through; a command containing one must never be treated as
// an auto-allow, only as an undetermined low-confidence hit.
var unresolvableIndicators = regexp.MustCompile("\\$\\(|`|\\$\\{|\\bxargs\\b|\\bfind\\b.*-exec|\\bbash\\s+-c\\b")

// writeIndicativeTokens flags a sub-command as plausibly write-related even
// when no path pattern matched, so Tier 0 can fall through as
// "undetermined" instead of silently treating it as a read.
var writeIndicativeTokens = regexp.MustCompile(`\b(rm|mv|cp|mkdir|touch|sed|chmod|chown|ln|tee|dd|tee|truncate|shred)\b|>>?|:>`)

// Extract splits command on unquoted ;, &&, ||, | and runs every pattern
// over each sub-command, unioning the results.
func Extract(command string) []PathHit {
	var hits []PathHit
	for _, sub := range splitCompound(command) {
		hits = append(hits, extractSub(sub)...)
	}
	return hits
}

// HasWriteIndicator reports whether command contains a write-like token
// even though Extract found no concrete path — used by Tier 0 to decide
// between "undetermined" (write-shaped, path unresolved) and a clean read.
func HasWriteIndicator(command string) bool {
	return writeIndicativeTokens.MatchString(command)
}

func extractSub(sub string) []PathHit {
	var hits []PathHit
	for _, p := range patterns {
		matches := p.re.FindAllStringSubmatch(sub, -1)
		for _, m := range matches {
			for _, g := range p.group {
				if g >= len(m) || m[g] == "" {
					continue
				}
				path := m[g]
				hits = append(hits, PathHit{
					Path:       path,
					Op:         p.op,
					Confidence: confidenceFor(path, g, m),
					Resolvable: true,
				})
			}
		}
	}
	if unresolvableIndicators.MatchString(sub) {
		hits = append(hits, PathHit{Path: sub, Op: OpWrite, Confidence: 0.1, Resolvable: false})
	}
	return hits
}

// confidenceFor scores a resolved path: quoted paths score higher than
// bare tokens, absolute paths higher than relative, globs and variable
// references lower.
func confidenceFor(path string, group int, m []string) float64 {
	score := 0.6
	quoted := group == 1 || group == 2 || (len(m) > 2 && (m[1] != "" || m[2] != ""))
	if quoted {
		score = 0.9
	}
	if len(path) > 0 && path[0] == '/' {
		score += 0.05
	}
	if containsGlobChars(path) {
		score -= 0.3
	}
	if containsVariable(path) {
		score -= 0.4
	}
	if score > 1.0 {
		score = 1.0
	}
	if score < 0 {
		score = 0
	}
	return score
}

func containsGlobChars(s string) bool {
	for _, r := range s {
		if r == '*' || r == '?' || r == '[' {
			return true
		}
	}
	return false
}

func containsVariable(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == '$' {
			return true
		}
	}
	return false
}

// splitCompound splits command on unquoted ;, &&, ||, | boundaries.
func splitCompound(command string) []string {
	var parts []string
	var cur []byte
	inSingle, inDouble := false, false
	i := 0
	flush := func() {
		if len(cur) > 0 {
			parts = append(parts, string(cur))
			cur = cur[:0]
		}
	}
	for i < len(command) {
		c := command[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			cur = append(cur, c)
			i++
		case c == '"' && !inSingle:
			inDouble = !inDouble
			cur = append(cur, c)
			i++
		case !inSingle && !inDouble && c == ';':
			flush()
			i++
		case !inSingle && !inDouble && c == '|' && i+1 < len(command) && command[i+1] == '|':
			flush()
			i += 2
		case !inSingle && !inDouble && c == '&' && i+1 < len(command) && command[i+1] == '&':
			flush()
			i += 2
		case !inSingle && !inDouble && c == '|':
			flush()
			i++
		default:
			cur = append(cur, c)
			i++
		}
	}
	flush()
	return parts
}
