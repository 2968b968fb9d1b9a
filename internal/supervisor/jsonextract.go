package supervisor

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ExtractFirstJSONObject scans raw for the first well-formed top-level
// JSON object (balanced braces, string-aware so a brace inside a quoted
// string never miscounts) and returns its exact bytes. This is the
// required "do not execute arbitrary JSON, extract a single well-formed
// object" parsing discipline from spec.md §4.H: a chat-completion reply
// may wrap the object in prose, markdown fences, or trailing commentary,
// and this must never be eval'd or regex-guessed.
func ExtractFirstJSONObject(raw []byte) ([]byte, error) {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, b := range raw {
		if start == -1 {
			if b == '{' {
				start = i
				depth = 1
			}
			continue
		}
		if inString {
			switch {
			case escaped:
				escaped = false
			case b == '\\':
				escaped = true
			case b == '"':
				inString = false
			}
			continue
		}
		switch b {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				candidate := raw[start : i+1]
				if !gjson.ValidBytes(candidate) {
					return nil, fmt.Errorf("candidate JSON object failed validation")
				}
				return candidate, nil
			}
		}
	}
	return nil, fmt.Errorf("no well-formed JSON object found in response")
}
