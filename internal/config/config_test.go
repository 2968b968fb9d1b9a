package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

func writeTestConfig(t *testing.T, dir string) (policyPath, rolesPath string) {
	t.Helper()
	policyPath = filepath.Join(dir, "policy.toml")
	rolesPath = filepath.Join(dir, "roles.yaml")

	policy := `
sensitive_write_patterns = ["**/*.key"]

[[override]]
role = "coder"
tool = "Write"
path_glob = "tests/**"
decision = "allow"
reason = "human-approved exception"

[supervisor]
mode = ""

[jaccard]
min_tokens = 3
threshold = 0.7

[vector]
threshold = 0.85
disable_embedding = true

[timeouts]
registration_seconds = 1
supervisor_seconds = 1
human_seconds = 1
`
	roles := `
roles:
  - name: coder
    description: "writes application code"
    allow_write: ["src/**"]
    deny_write: ["tests/**"]
    allow_read: ["**"]
`
	if err := os.WriteFile(policyPath, []byte(policy), 0o600); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	if err := os.WriteFile(rolesPath, []byte(roles), 0o600); err != nil {
		t.Fatalf("write roles: %v", err)
	}
	return policyPath, rolesPath
}

func TestLoaderLoadsPolicyAndRoles(t *testing.T) {
	dir := t.TempDir()
	policyPath, rolesPath := writeTestConfig(t, dir)

	l, err := NewLoader(policyPath, rolesPath, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer l.Close()

	if _, ok := l.CompiledRole("coder"); !ok {
		t.Fatalf("expected coder role compiled")
	}
	if l.RoleDescription("coder") != "writes application code" {
		t.Fatalf("unexpected role description: %q", l.RoleDescription("coder"))
	}
	overrides := l.Overrides()
	if len(overrides) != 1 || overrides[0].Decision != decision.Allow {
		t.Fatalf("expected one compiled Allow override, got %+v", overrides)
	}
}

func TestLoaderHotReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	policyPath, rolesPath := writeTestConfig(t, dir)

	l, err := NewLoader(policyPath, rolesPath, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer l.Close()

	updated := `
roles:
  - name: coder
    description: "writes application code, updated"
    allow_write: ["src/**", "cmd/**"]
    allow_read: ["**"]
`
	if err := os.WriteFile(rolesPath, []byte(updated), 0o600); err != nil {
		t.Fatalf("rewrite roles: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if l.RoleDescription("coder") == "writes application code, updated" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("expected hot-reload to pick up updated role description, got %q", l.RoleDescription("coder"))
}

func TestLoaderKeepsLastKnownGoodOnParseError(t *testing.T) {
	dir := t.TempDir()
	policyPath, rolesPath := writeTestConfig(t, dir)

	l, err := NewLoader(policyPath, rolesPath, nil)
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	defer l.Close()

	if err := os.WriteFile(rolesPath, []byte("roles: [this is not closed"), 0o600); err != nil {
		t.Fatalf("corrupt roles: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	if _, ok := l.CompiledRole("coder"); !ok {
		t.Fatalf("expected last known good role configuration to survive a parse error")
	}
}
