// Package config loads the TOML policy file and YAML role-definitions
// file and hot-reloads both on change via fsnotify (spec.md's ambient
// configuration stack, grounded on the teacher's TOML-via-go-toml/v2 and
// YAML-via-yaml.v3 settings loaders plus codenerd's fsnotify watcher
// idiom).
package config

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/Epiphytic/captain-hook/internal/cascade"
	"github.com/Epiphytic/captain-hook/internal/decision"
	"github.com/Epiphytic/captain-hook/internal/pathpolicy"
	"github.com/Epiphytic/captain-hook/internal/vectorindex"
)

// Policy is the TOML-encoded project policy file.
type Policy struct {
	SensitiveWritePatterns []string `toml:"sensitive_write_patterns"`
	SensitiveReadPatterns  []string `toml:"sensitive_read_patterns"`

	Overrides []OverrideConfig `toml:"override"`

	Supervisor SupervisorConfig `toml:"supervisor"`
	Jaccard    JaccardConfig    `toml:"jaccard"`
	Vector     VectorConfig     `toml:"vector"`
	Timeouts   TimeoutConfig    `toml:"timeouts"`
}

// OverrideConfig is the TOML shape for one explicit human-set rule.
type OverrideConfig struct {
	Role     string `toml:"role"`
	Tool     string `toml:"tool"`
	PathGlob string `toml:"path_glob"`
	Decision string `toml:"decision"`
	Reason   string `toml:"reason"`
}

// SupervisorConfig configures which Tier 3 implementation to build.
type SupervisorConfig struct {
	Mode       string `toml:"mode"` // "local_socket", "remote_api", or "" (disabled)
	TeamID     string `toml:"team_id"`
	RuntimeDir string `toml:"runtime_dir"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	Model      string `toml:"model"`
	ScopeName  string `toml:"confidence_scope"` // "org", "project", or "user"
}

// JaccardConfig configures Tier 2a.
type JaccardConfig struct {
	MinTokens int     `toml:"min_tokens"`
	Threshold float64 `toml:"threshold"`
}

// VectorConfig configures Tier 2b.
type VectorConfig struct {
	Threshold       float64 `toml:"threshold"`
	RebuildMinRecords int   `toml:"rebuild_min_records"`
	RebuildMinIntervalSeconds int `toml:"rebuild_min_interval_seconds"`
	DisableEmbedding bool   `toml:"disable_embedding"`
}

// TimeoutConfig configures the blocking suspension points.
type TimeoutConfig struct {
	RegistrationSeconds int `toml:"registration_seconds"`
	SupervisorSeconds   int `toml:"supervisor_seconds"`
	HumanSeconds        int `toml:"human_seconds"`
}

// RolesFile is the YAML-encoded role-definitions document.
type RolesFile struct {
	Roles []pathpolicy.RoleDefinition `yaml:"roles"`
}

// LoadPolicy reads and parses the TOML policy file.
func LoadPolicy(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: read policy %s: %v", decision.ErrConfigParse, path, err)
	}
	var p Policy
	if err := toml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("%w: parse policy %s: %v", decision.ErrConfigParse, path, err)
	}
	return p, nil
}

// LoadRoles reads and parses the YAML role-definitions file.
func LoadRoles(path string) (RolesFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RolesFile{}, fmt.Errorf("%w: read roles %s: %v", decision.ErrConfigParse, path, err)
	}
	var rf RolesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return RolesFile{}, fmt.Errorf("%w: parse roles %s: %v", decision.ErrConfigParse, path, err)
	}
	return rf, nil
}

// ScopeFromName maps a config scope name to decision.ScopeLevel, defaulting
// to ScopeProject.
func ScopeFromName(name string) decision.ScopeLevel {
	switch name {
	case "org":
		return decision.ScopeOrg
	case "user":
		return decision.ScopeUser
	case "role":
		return decision.ScopeRole
	default:
		return decision.ScopeProject
	}
}

// RebuildPolicy derives a vectorindex.RebuildPolicy from config, applying
// defaults for zero values.
func (v VectorConfig) RebuildPolicy() vectorindex.RebuildPolicy {
	interval := time.Duration(v.RebuildMinIntervalSeconds) * time.Second
	return vectorindex.RebuildPolicy{MinRecords: v.RebuildMinRecords, MinInterval: interval}
}

// compiled is the immutable, hot-reloadable snapshot the Loader swaps in
// on every successful reload.
type compiled struct {
	policy    Policy
	roles     map[string]*pathpolicy.CompiledRole
	roleDefs  map[string]pathpolicy.RoleDefinition
	sensitive *pathpolicy.SensitiveDefaults
	overrides []cascade.OverrideRule
}

// Loader owns the live policy+roles configuration, reloading both files on
// any fsnotify write event and falling back to the last known good
// configuration on a parse error (spec.md: "configuration errors are
// fatal at startup but never at request time; at request time the last
// known good configuration applies").
type Loader struct {
	policyPath string
	rolesPath  string
	current    atomic.Pointer[compiled]
	watcher    *fsnotify.Watcher
	logf       func(string, ...any)
}

// NewLoader performs the initial load (which must succeed) and starts a
// background fsnotify watch on both files.
func NewLoader(policyPath, rolesPath string, logf func(string, ...any)) (*Loader, error) {
	l := &Loader{policyPath: policyPath, rolesPath: rolesPath, logf: logf}
	if err := l.reload(); err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(policyPath); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := w.Add(rolesPath); err != nil {
		_ = w.Close()
		return nil, err
	}
	l.watcher = w
	go l.watch()
	return l, nil
}

func (l *Loader) watch() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := l.reload(); err != nil {
				l.log("config: reload failed, keeping last known good configuration: %v", err)
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log("config: watcher error: %v", err)
		}
	}
}

func (l *Loader) log(format string, args ...any) {
	if l.logf != nil {
		l.logf(format, args...)
	}
}

func (l *Loader) reload() error {
	policy, err := LoadPolicy(l.policyPath)
	if err != nil {
		return err
	}
	rolesFile, err := LoadRoles(l.rolesPath)
	if err != nil {
		return err
	}

	roles := make(map[string]*pathpolicy.CompiledRole, len(rolesFile.Roles))
	roleDefs := make(map[string]pathpolicy.RoleDefinition, len(rolesFile.Roles))
	for _, def := range rolesFile.Roles {
		cr, err := pathpolicy.Compile(def)
		if err != nil {
			return err
		}
		roles[def.Name] = cr
		roleDefs[def.Name] = def
	}

	sensitiveWrite := append(append([]string{}, pathpolicy.DefaultSensitiveWritePatterns...), policy.SensitiveWritePatterns...)
	sensitive, err := pathpolicy.CompileSensitiveDefaults(sensitiveWrite, policy.SensitiveReadPatterns)
	if err != nil {
		return err
	}

	var overrideRules []cascade.OverrideRule
	for _, o := range policy.Overrides {
		overrideRules = append(overrideRules, cascade.OverrideRule{
			Role: o.Role, Tool: o.Tool, PathGlob: o.PathGlob,
			Decision: decision.Decision(o.Decision), Reason: o.Reason,
		})
	}
	overrideRules, err = cascade.CompileOverrides(overrideRules)
	if err != nil {
		return err
	}

	l.current.Store(&compiled{
		policy: policy, roles: roles, roleDefs: roleDefs,
		sensitive: sensitive, overrides: overrideRules,
	})
	return nil
}

// Close stops the background watch.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	return l.watcher.Close()
}

// Policy returns the live policy document.
func (l *Loader) Policy() Policy { return l.current.Load().policy }

// Sensitive returns the live compiled sensitive-path defaults.
func (l *Loader) Sensitive() *pathpolicy.SensitiveDefaults { return l.current.Load().sensitive }

// Overrides returns the live compiled override rules.
func (l *Loader) Overrides() []cascade.OverrideRule { return l.current.Load().overrides }

// CompiledRole implements cascade.RoleLookup.
func (l *Loader) CompiledRole(role string) (*pathpolicy.CompiledRole, bool) {
	cr, ok := l.current.Load().roles[role]
	return cr, ok
}

// RoleDescription implements cascade.RoleLookup.
func (l *Loader) RoleDescription(role string) string {
	return l.current.Load().roleDefs[role].Description
}

// RoleGlobs implements cascade.RoleLookup.
func (l *Loader) RoleGlobs(role string) (allowWrite, denyWrite, allowRead []string) {
	def := l.current.Load().roleDefs[role]
	return def.AllowWrite, def.DenyWrite, def.AllowRead
}
