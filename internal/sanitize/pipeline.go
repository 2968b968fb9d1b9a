// Package sanitize implements the three-layer secret redaction pipeline
// described in spec.md §4.A. It is the one subsystem every other component
// (cache, store, Jaccard index, vector index, supervisor, human queue) must
// route input through before persisting, transmitting, or hashing it —
// grounded on the teacher's internal/vault package, which treats "detect,
// never leak" as the organizing principle for everything it touches.
package sanitize

import (
	"fmt"
	"strings"
)

// Sentinel replaces every detected secret span. Fixed at seven characters
// per spec.md.
const Sentinel = "REDACT"

// boundaryChars are the characters a literal-prefix match extends through
// until reached; they delimit a token the same way shell/JSON quoting does.
const boundaryChars = " \t\r\n'\",;}])`"

// Layer is a single redaction pass: (text) -> text.
type Layer interface {
	Name() string
	Redact(text string) string
}

// Pipeline runs an ordered sequence of layers, each operating on the
// previous layer's output.
type Pipeline struct {
	layers []Layer
}

// Option configures a layer's tunables at construction time.
type Option func(*pipelineConfig)

type pipelineConfig struct {
	entropyMinLength  int
	entropyMinEntropy float64
}

func defaultConfig() pipelineConfig {
	return pipelineConfig{entropyMinLength: 20, entropyMinEntropy: 4.0}
}

// WithEntropyThreshold overrides the Shannon-entropy layer's minimum token
// length and minimum bits/char.
func WithEntropyThreshold(minLength int, minEntropy float64) Option {
	return func(c *pipelineConfig) {
		c.entropyMinLength = minLength
		c.entropyMinEntropy = minEntropy
	}
}

// New builds the default three-layer pipeline: literal-prefix, contextual
// pattern, Shannon entropy. Returns an error (never panics at run time) if
// any configured regex fails to compile — spec.md requires startup-time
// failure, not a run-time crash.
func New(opts ...Option) (*Pipeline, error) {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	contextual, err := newContextualLayer()
	if err != nil {
		return nil, fmt.Errorf("sanitize: %w", err)
	}
	return &Pipeline{
		layers: []Layer{
			newLiteralPrefixLayer(),
			contextual,
			newEntropyLayer(cfg.entropyMinLength, cfg.entropyMinEntropy),
		},
	}, nil
}

// Redact runs text through every layer in order. Over-redaction is
// preferred to under-redaction: each layer only ever widens, never narrows,
// what the next layer sees.
func (p *Pipeline) Redact(text string) string {
	for _, l := range p.layers {
		text = l.Redact(text)
	}
	return text
}

// extendToBoundary widens [start,end) forward through non-boundary
// characters, used by layers that must redact a full credential token
// rather than just the literal prefix that identified it.
func extendToBoundary(s string, start, end int) int {
	for end < len(s) && !strings.ContainsRune(boundaryChars, rune(s[end])) {
		end++
	}
	return end
}
