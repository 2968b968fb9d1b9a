// Package humanqueue implements Tier 4: a cross-process file-backed
// pending/completed queue (spec.md §4.I), grounded on the teacher's
// paasAgentApprovalStore JSON-document-plus-atomic-rewrite pattern but
// split into two documents (pending, completed) so a responder never
// races a waiter scanning for its own entry.
package humanqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Epiphytic/captain-hook/internal/decision"
	"github.com/Epiphytic/captain-hook/internal/filelock"
	"github.com/Epiphytic/captain-hook/internal/fsatomic"
)

// Pending is one entry awaiting a human response.
type Pending struct {
	ID                     string    `json:"id"`
	SessionID              string    `json:"session_id"`
	Role                   string    `json:"role"`
	Tool                   string    `json:"tool"`
	SanitizedInput         string    `json:"sanitized_input"`
	FilePath               string    `json:"file_path,omitempty"`
	SupervisorRecommendation string  `json:"supervisor_recommendation,omitempty"`
	IsAskReprompt          bool      `json:"is_ask_reprompt"`
	AskReason              string    `json:"ask_reason,omitempty"`
	EnqueuedAt             time.Time `json:"enqueued_at"`
}

// Response is the human's reply to a Pending entry.
type Response struct {
	ID           string            `json:"id"`
	Decision     decision.Decision `json:"decision"`
	RecordAsAsk  bool              `json:"record_as_ask"`
	CodifyScope  string            `json:"codify_scope,omitempty"` // "" means one-time
	Reason       string            `json:"reason,omitempty"`
	RespondedAt  time.Time         `json:"responded_at"`
	RespondedBy  string            `json:"responded_by,omitempty"`
}

type pendingFile struct {
	Entries []Pending `json:"entries,omitempty"`
}

type completedFile struct {
	Entries []Response `json:"entries,omitempty"`
}

// Queue is one directory holding pending.json and completed.json.
type Queue struct {
	dir          string
	lockTimeout  time.Duration
	pollInterval time.Duration
}

// New constructs a Queue rooted at dir (created if necessary).
func New(dir string) *Queue {
	return &Queue{dir: dir, lockTimeout: 5 * time.Second, pollInterval: 200 * time.Millisecond}
}

func (q *Queue) pendingPath() string   { return filepath.Join(q.dir, "pending.json") }
func (q *Queue) completedPath() string { return filepath.Join(q.dir, "completed.json") }
func (q *Queue) lockPath() string      { return filepath.Join(q.dir, ".queue.lock") }

// Enqueue appends a new pending entry with a fresh opaque identifier and
// returns it.
func (q *Queue) Enqueue(p Pending) (Pending, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.EnqueuedAt.IsZero() {
		p.EnqueuedAt = time.Now()
	}
	err := filelock.WithLock(q.lockPath(), q.lockTimeout, func() error {
		pf, err := q.loadPendingLocked()
		if err != nil {
			return err
		}
		pf.Entries = append(pf.Entries, p)
		return q.savePendingLocked(pf)
	})
	return p, err
}

// ListPending enumerates entries awaiting response.
func (q *Queue) ListPending() ([]Pending, error) {
	var out []Pending
	err := filelock.WithLock(q.lockPath(), q.lockTimeout, func() error {
		pf, err := q.loadPendingLocked()
		if err != nil {
			return err
		}
		out = pf.Entries
		return nil
	})
	return out, err
}

// Respond moves an entry from pending to completed, recording the human's
// response. Returns an error if no pending entry has that id.
func (q *Queue) Respond(id string, resp Response) error {
	resp.ID = id
	if resp.RespondedAt.IsZero() {
		resp.RespondedAt = time.Now()
	}
	return filelock.WithLock(q.lockPath(), q.lockTimeout, func() error {
		pf, err := q.loadPendingLocked()
		if err != nil {
			return err
		}
		idx := -1
		for i, e := range pf.Entries {
			if e.ID == id {
				idx = i
				break
			}
		}
		if idx == -1 {
			return fmt.Errorf("%w: no pending entry with id %s", decision.ErrStorageError, id)
		}
		pf.Entries = append(pf.Entries[:idx], pf.Entries[idx+1:]...)
		if err := q.savePendingLocked(pf); err != nil {
			return err
		}

		cf, err := q.loadCompletedLocked()
		if err != nil {
			return err
		}
		cf.Entries = append(cf.Entries, resp)
		return q.saveCompletedLocked(cf)
	})
}

// WaitForResponse polls at pollInterval until a completed record for id
// appears. On timeout, returns a synthesized Deny response — the caller
// (cascade runner) treats this as authoritative per spec.md §4.J step 13.
func (q *Queue) WaitForResponse(id string, timeout time.Duration) (Response, error) {
	deadline := time.Now().Add(timeout)
	for {
		resp, ok, err := q.findCompleted(id)
		if err != nil {
			return Response{}, err
		}
		if ok {
			return resp, nil
		}
		if time.Now().After(deadline) {
			return Response{
				ID:          id,
				Decision:    decision.Deny,
				Reason:      "human response timed out",
				RespondedAt: time.Now(),
			}, decision.ErrHumanTimeout
		}
		time.Sleep(q.pollInterval)
	}
}

func (q *Queue) findCompleted(id string) (Response, bool, error) {
	var out Response
	var found bool
	err := filelock.WithLock(q.lockPath(), q.lockTimeout, func() error {
		cf, err := q.loadCompletedLocked()
		if err != nil {
			return err
		}
		for _, e := range cf.Entries {
			if e.ID == id {
				out, found = e, true
				return nil
			}
		}
		return nil
	})
	return out, found, err
}

// Promote converts a completed Ask-style response into a permanent
// Allow/Deny by rewriting its RecordAsAsk/CodifyScope fields. This is the
// explicit, non-standard operation spec.md calls out: normal
// respond/wait_for_response flow must never implicitly do this.
func (q *Queue) Promote(id string, newDecision decision.Decision, scope string) error {
	return filelock.WithLock(q.lockPath(), q.lockTimeout, func() error {
		cf, err := q.loadCompletedLocked()
		if err != nil {
			return err
		}
		idx := -1
		for i, e := range cf.Entries {
			if e.ID == id {
				idx = i
				break
			}
		}
		if idx == -1 {
			return fmt.Errorf("%w: no completed entry with id %s", decision.ErrStorageError, id)
		}
		cf.Entries[idx].Decision = newDecision
		cf.Entries[idx].RecordAsAsk = false
		cf.Entries[idx].CodifyScope = scope
		return q.saveCompletedLocked(cf)
	})
}

func (q *Queue) loadPendingLocked() (pendingFile, error) {
	var pf pendingFile
	raw, err := os.ReadFile(q.pendingPath())
	if err != nil {
		if os.IsNotExist(err) {
			return pf, nil
		}
		return pf, fmt.Errorf("%w: read pending: %v", decision.ErrStorageError, err)
	}
	if len(raw) == 0 {
		return pf, nil
	}
	if err := json.Unmarshal(raw, &pf); err != nil {
		return pf, fmt.Errorf("%w: parse pending: %v", decision.ErrStorageError, err)
	}
	return pf, nil
}

func (q *Queue) savePendingLocked(pf pendingFile) error {
	sort.SliceStable(pf.Entries, func(i, j int) bool { return pf.Entries[i].EnqueuedAt.Before(pf.Entries[j].EnqueuedAt) })
	raw, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal pending: %v", decision.ErrJSON, err)
	}
	raw = append(raw, '\n')
	if err := os.MkdirAll(q.dir, 0o700); err != nil {
		return fmt.Errorf("%w: mkdir: %v", decision.ErrIO, err)
	}
	return fsatomic.WriteFile0600(q.pendingPath(), raw)
}

func (q *Queue) loadCompletedLocked() (completedFile, error) {
	var cf completedFile
	raw, err := os.ReadFile(q.completedPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cf, nil
		}
		return cf, fmt.Errorf("%w: read completed: %v", decision.ErrStorageError, err)
	}
	if len(raw) == 0 {
		return cf, nil
	}
	if err := json.Unmarshal(raw, &cf); err != nil {
		return cf, fmt.Errorf("%w: parse completed: %v", decision.ErrStorageError, err)
	}
	return cf, nil
}

func (q *Queue) saveCompletedLocked(cf completedFile) error {
	raw, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal completed: %v", decision.ErrJSON, err)
	}
	raw = append(raw, '\n')
	if err := os.MkdirAll(q.dir, 0o700); err != nil {
		return fmt.Errorf("%w: mkdir: %v", decision.ErrIO, err)
	}
	return fsatomic.WriteFile0600(q.completedPath(), raw)
}
