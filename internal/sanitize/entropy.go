package sanitize

import (
	"math"
	"strings"
)

// entropyLayer redacts any remaining whitespace-delimited token at least
// minLength characters long whose Shannon entropy exceeds minEntropy
// bits/char. It is not conditioned on a preceding "=" or ":" — bare
// positional tokens (e.g. a secret passed as a lone CLI argument) are in
// scope, per spec.md §4.A.3.
type entropyLayer struct {
	minLength  int
	minEntropy float64
}

func newEntropyLayer(minLength int, minEntropy float64) *entropyLayer {
	return &entropyLayer{minLength: minLength, minEntropy: minEntropy}
}

func (l *entropyLayer) Name() string { return "shannon-entropy" }

func (l *entropyLayer) Redact(text string) string {
	fields := splitKeepWhitespace(text)
	var b strings.Builder
	for _, f := range fields {
		if !f.isWhitespace && len(f.text) >= l.minLength && shannonEntropy(f.text) >= l.minEntropy {
			b.WriteString(Sentinel)
			continue
		}
		b.WriteString(f.text)
	}
	return b.String()
}

type field struct {
	text         string
	isWhitespace bool
}

// splitKeepWhitespace splits s into alternating whitespace and non-
// whitespace runs so that redaction can replace only the non-whitespace
// tokens while exactly preserving surrounding delimiters.
func splitKeepWhitespace(s string) []field {
	var out []field
	start := 0
	inWS := false
	hasStarted := false
	for i, r := range s {
		ws := r == ' ' || r == '\t' || r == '\n' || r == '\r'
		if !hasStarted {
			inWS = ws
			hasStarted = true
			continue
		}
		if ws != inWS {
			out = append(out, field{text: s[start:i], isWhitespace: inWS})
			start = i
			inWS = ws
		}
	}
	if hasStarted {
		out = append(out, field{text: s[start:], isWhitespace: inWS})
	}
	return out
}

// shannonEntropy computes bits-per-character Shannon entropy over s's
// bytes. Operating byte-wise (not rune-wise) is deliberate: credential
// alphabets are ASCII, and this must never panic on multi-byte UTF-8 input
// that happens to sit alongside a token being scanned.
func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	n := float64(len(s))
	var entropy float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
