package sanitize

import "strings"

// literalPrefixLayer is a multi-pattern string matcher over well-known
// secret token prefixes. On match the span extends to the next boundary
// character and is replaced with Sentinel.
type literalPrefixLayer struct {
	prefixes      []string
	minPostLength map[string]int // prefix -> minimum characters required after it
}

// knownPrefixes holds the well-known secret token prefixes used by common
// AI tool, cloud, and code-host providers. Longer, more specific prefixes
// are listed before shorter generic ones so the matcher prefers the most
// specific match at a given position.
var knownPrefixes = []string{
	"sk-ant-api03-", "sk-ant-", "sk-proj-", "sk-live-", "sk-test-", "sk-",
	"pk-live-", "pk-test-",
	"ghp_", "gho_", "ghu_", "ghs_", "ghr_", "github_pat_",
	"glpat-",
	"xoxb-", "xoxp-", "xoxa-", "xoxr-",
	"AKIA", "ASIA",
	"AIza",
	"ya29.",
	"shpat_", "shpss_",
	"npm_",
	"dop_v1_",
	"SG.",
	"rk_live_", "rk_test_",
	"sq0atp-", "sq0csp-",
	"EAACEdEose0cBA",
	"key-",
}

// PEM blocks are handled by the contextual-pattern layer (they span
// multiple lines, which the boundary-character extension used here does
// not cross).

// genericShortPrefixMinLength suppresses false redactions from very short
// generic prefixes (two letters and a dash, etc.) unless enough characters
// follow to plausibly be a credential body.
var genericShortPrefixMinLength = map[string]int{
	"sk-":   20,
	"pk-":   20,
	"key-":  12,
	"AKIA":  16,
	"ASIA":  16,
	"AIza":  30,
	"ya29.": 20,
}

func newLiteralPrefixLayer() *literalPrefixLayer {
	return &literalPrefixLayer{
		prefixes:      knownPrefixes,
		minPostLength: genericShortPrefixMinLength,
	}
}

func (l *literalPrefixLayer) Name() string { return "literal-prefix" }

func (l *literalPrefixLayer) Redact(text string) string {
	var b strings.Builder
	i := 0
	for i < len(text) {
		matched := l.matchAt(text, i)
		if matched == "" {
			b.WriteByte(text[i])
			i++
			continue
		}
		start := i
		end := i + len(matched)
		if min, ok := l.minPostLength[matched]; ok {
			postLen := extendToBoundary(text, start, end) - end
			if postLen < min {
				b.WriteByte(text[i])
				i++
				continue
			}
		}
		end = extendToBoundary(text, start, end)
		b.WriteString(Sentinel)
		i = end
	}
	return b.String()
}

// matchAt returns the longest known prefix matching text at position i, or
// "" if none matches. PEM headers are matched as a whole line; everything
// else is matched as a plain literal prefix.
func (l *literalPrefixLayer) matchAt(text string, i int) string {
	best := ""
	for _, p := range l.prefixes {
		if strings.HasPrefix(text[i:], p) && len(p) > len(best) {
			best = p
		}
	}
	return best
}
