// Package session implements the session registry (spec.md §4.B): the
// mapping from an assistant session id to its role, task, and prompt
// reference, persisted across processes under the per-user runtime
// directory with owner-only permissions.
package session

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Epiphytic/captain-hook/internal/decision"
	"github.com/Epiphytic/captain-hook/internal/filelock"
	"github.com/Epiphytic/captain-hook/internal/fsatomic"
)

// Context is the per-session record. Compiled role policy globs are kept
// out of this struct (owned by the pathpolicy package) and rebuilt from
// Role whenever the role definitions file changes.
type Context struct {
	SessionID      string    `json:"session_id"`
	Role           string    `json:"role"`
	Task           string    `json:"task,omitempty"`
	PromptPath     string    `json:"prompt_path,omitempty"`
	PromptHash     string    `json:"prompt_hash,omitempty"`
	RegisteredAt   time.Time `json:"registered_at"`
	RegisteredBy   string    `json:"registered_by,omitempty"`
	Disabled       bool      `json:"-"`
}

type registrationFile struct {
	Sessions map[string]Context `json:"sessions"`
}

type exclusionFile struct {
	SessionIDs []string `json:"session_ids"`
}

// Registry resolves and mutates session contexts. One Registry instance is
// a per-user, per-team singleton; it owns the registration and exclusion
// files under dir.
type Registry struct {
	dir            string
	lockTimeout    time.Duration
	pollInterval   time.Duration
	mu             sync.RWMutex
	cache          map[string]Context
	excluded       map[string]bool
	roleOverrideFn func(sessionID string) (string, bool)
}

// New constructs a Registry rooted at dir (typically the per-user runtime
// directory, e.g. $XDG_RUNTIME_DIR/captain-hook). roleOverrideFn resolves a
// role from the environment when a session has no registration file entry;
// pass nil to disable that fallback.
func New(dir string, roleOverrideFn func(string) (string, bool)) *Registry {
	return &Registry{
		dir:            dir,
		lockTimeout:    2 * time.Second,
		pollInterval:   200 * time.Millisecond,
		cache:          map[string]Context{},
		excluded:       map[string]bool{},
		roleOverrideFn: roleOverrideFn,
	}
}

func (r *Registry) regPath() string { return filepath.Join(r.dir, "registrations.json") }
func (r *Registry) exclPath() string { return filepath.Join(r.dir, "exclusions.json") }

// ErrNotRegistered is returned by Resolve when no registration, on-disk or
// in-memory, exists for the session and no role-override env var applies.
var ErrNotRegistered = decision.ErrSessionNotRegistered

// Resolve returns the session's Context. It checks the in-memory cache,
// then the on-disk registration file, then the role-override fallback.
func (r *Registry) Resolve(sessionID string) (Context, error) {
	r.mu.RLock()
	if ctx, ok := r.cache[sessionID]; ok {
		disabled := r.excluded[sessionID]
		r.mu.RUnlock()
		ctx.Disabled = disabled
		return ctx, nil
	}
	r.mu.RUnlock()

	reg, err := r.readRegistrations()
	if err != nil {
		return Context{}, err
	}
	if ctx, ok := reg.Sessions[sessionID]; ok {
		r.mu.Lock()
		r.cache[sessionID] = ctx
		r.mu.Unlock()
		ctx.Disabled = r.isExcluded(sessionID)
		return ctx, nil
	}

	if r.roleOverrideFn != nil {
		if role, ok := r.roleOverrideFn(sessionID); ok {
			ctx := Context{SessionID: sessionID, Role: role, RegisteredAt: time.Now()}
			r.mu.Lock()
			r.cache[sessionID] = ctx
			r.mu.Unlock()
			return ctx, nil
		}
	}
	return Context{}, ErrNotRegistered
}

// Register performs an atomic read-modify-write of the registration file:
// read current contents, apply the change, serialize, write to a sibling
// temp file, rename onto the target — all under an advisory lock so
// concurrent writers cannot lose updates.
func (r *Registry) Register(sessionID, role, task, promptPath, promptHash, registeredBy string) error {
	if role == "" {
		return errors.New("session: role required to register")
	}
	return filelock.WithLock(r.regPath(), r.lockTimeout, func() error {
		reg, err := r.loadRegistrationsLocked()
		if err != nil {
			return err
		}
		reg.Sessions[sessionID] = Context{
			SessionID:    sessionID,
			Role:         role,
			Task:         task,
			PromptPath:   promptPath,
			PromptHash:   promptHash,
			RegisteredAt: time.Now(),
			RegisteredBy: registeredBy,
		}
		if err := r.saveRegistrationsLocked(reg); err != nil {
			return err
		}
		r.mu.Lock()
		r.cache[sessionID] = reg.Sessions[sessionID]
		r.mu.Unlock()
		return nil
	})
}

// Disable appends sessionID to the exclusion file.
func (r *Registry) Disable(sessionID string) error {
	return r.updateExclusions(sessionID, true)
}

// Enable removes sessionID from the exclusion file.
func (r *Registry) Enable(sessionID string) error {
	return r.updateExclusions(sessionID, false)
}

func (r *Registry) updateExclusions(sessionID string, disable bool) error {
	return filelock.WithLock(r.exclPath(), r.lockTimeout, func() error {
		excl, err := r.loadExclusionsLocked()
		if err != nil {
			return err
		}
		set := map[string]bool{}
		for _, id := range excl.SessionIDs {
			set[id] = true
		}
		if disable {
			set[sessionID] = true
		} else {
			delete(set, sessionID)
		}
		excl.SessionIDs = excl.SessionIDs[:0]
		for id := range set {
			excl.SessionIDs = append(excl.SessionIDs, id)
		}
		if err := r.saveExclusionsLocked(excl); err != nil {
			return err
		}
		r.mu.Lock()
		r.excluded[sessionID] = disable
		r.mu.Unlock()
		return nil
	})
}

func (r *Registry) isExcluded(sessionID string) bool {
	r.mu.RLock()
	if v, ok := r.excluded[sessionID]; ok {
		r.mu.RUnlock()
		return v
	}
	r.mu.RUnlock()
	excl, err := r.readExclusions()
	if err != nil {
		return false
	}
	disabled := false
	for _, id := range excl.SessionIDs {
		if id == sessionID {
			disabled = true
			break
		}
	}
	r.mu.Lock()
	r.excluded[sessionID] = disabled
	r.mu.Unlock()
	return disabled
}

// WaitForRegistration polls at r.pollInterval until sessionID appears in
// the registry or timeout elapses.
func (r *Registry) WaitForRegistration(sessionID string, timeout time.Duration) (Context, error) {
	deadline := time.Now().Add(timeout)
	for {
		ctx, err := r.Resolve(sessionID)
		if err == nil {
			return ctx, nil
		}
		if time.Now().After(deadline) {
			return Context{}, decision.ErrRegistrationTimeout
		}
		time.Sleep(r.pollInterval)
	}
}

func (r *Registry) readRegistrations() (registrationFile, error) {
	return r.loadRegistrationsLocked()
}

func (r *Registry) readExclusions() (exclusionFile, error) {
	return r.loadExclusionsLocked()
}

func (r *Registry) loadRegistrationsLocked() (registrationFile, error) {
	data, err := os.ReadFile(r.regPath())
	if errors.Is(err, os.ErrNotExist) {
		return registrationFile{Sessions: map[string]Context{}}, nil
	}
	if err != nil {
		return registrationFile{}, err
	}
	var reg registrationFile
	if err := json.Unmarshal(data, &reg); err != nil {
		return registrationFile{}, err
	}
	if reg.Sessions == nil {
		reg.Sessions = map[string]Context{}
	}
	return reg, nil
}

func (r *Registry) saveRegistrationsLocked(reg registrationFile) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return fsatomic.WriteFile0600(r.regPath(), data)
}

func (r *Registry) loadExclusionsLocked() (exclusionFile, error) {
	data, err := os.ReadFile(r.exclPath())
	if errors.Is(err, os.ErrNotExist) {
		return exclusionFile{}, nil
	}
	if err != nil {
		return exclusionFile{}, err
	}
	var excl exclusionFile
	if err := json.Unmarshal(data, &excl); err != nil {
		return exclusionFile{}, err
	}
	return excl, nil
}

func (r *Registry) saveExclusionsLocked(excl exclusionFile) error {
	data, err := json.MarshalIndent(excl, "", "  ")
	if err != nil {
		return err
	}
	return fsatomic.WriteFile0600(r.exclPath(), data)
}

// DropRole clears the in-memory cache entry for sessionID so the next
// Resolve re-reads from disk. Used when a session's role is switched
// mid-flight (SPEC_FULL.md's resolution of the role-hot-swap open
// question): in-memory session context is dropped, on-disk Role-scope
// decision records are left alone since they are addressed by role name,
// not by session.
func (r *Registry) DropRole(sessionID string) {
	r.mu.Lock()
	delete(r.cache, sessionID)
	r.mu.Unlock()
}
