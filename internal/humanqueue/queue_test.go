package humanqueue

import (
	"testing"
	"time"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

func TestEnqueueThenListPending(t *testing.T) {
	q := New(t.TempDir())
	p, err := q.Enqueue(Pending{SessionID: "s1", Role: "coder", Tool: "Bash", SanitizedInput: "rm -rf /tmp/x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if p.ID == "" {
		t.Fatalf("expected a generated ID")
	}
	pending, err := q.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != p.ID {
		t.Fatalf("expected one pending entry matching %s, got %+v", p.ID, pending)
	}
}

func TestRespondMovesEntryFromPendingToCompleted(t *testing.T) {
	q := New(t.TempDir())
	p, err := q.Enqueue(Pending{SessionID: "s1", Role: "coder", Tool: "Bash", SanitizedInput: "rm -rf /tmp/x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Respond(p.ID, Response{Decision: decision.Allow}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	pending, err := q.ListPending()
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected entry removed from pending, got %+v", pending)
	}
	resp, err := q.WaitForResponse(p.ID, time.Second)
	if err != nil {
		t.Fatalf("WaitForResponse: %v", err)
	}
	if resp.Decision != decision.Allow {
		t.Fatalf("expected Allow response, got %+v", resp)
	}
}

func TestWaitForResponseTimesOutToDeny(t *testing.T) {
	q := New(t.TempDir())
	p, err := q.Enqueue(Pending{SessionID: "s1", Role: "coder", Tool: "Bash", SanitizedInput: "rm -rf /tmp/x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	resp, err := q.WaitForResponse(p.ID, 30*time.Millisecond)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	if resp.Decision != decision.Deny {
		t.Fatalf("expected synthesized Deny on timeout, got %+v", resp)
	}
}

func TestAskResponseStaysAskAcrossRespond(t *testing.T) {
	q := New(t.TempDir())
	p, err := q.Enqueue(Pending{SessionID: "s1", Role: "coder", Tool: "Bash", SanitizedInput: "curl https://x", IsAskReprompt: true})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Respond(p.ID, Response{Decision: decision.Allow, RecordAsAsk: true}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	resp, err := q.WaitForResponse(p.ID, time.Second)
	if err != nil {
		t.Fatalf("WaitForResponse: %v", err)
	}
	if !resp.RecordAsAsk {
		t.Fatalf("expected RecordAsAsk preserved through respond, got %+v", resp)
	}
}

func TestPromoteConvertsCompletedAskToPermanentDecision(t *testing.T) {
	q := New(t.TempDir())
	p, err := q.Enqueue(Pending{SessionID: "s1", Role: "coder", Tool: "Bash", SanitizedInput: "curl https://x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Respond(p.ID, Response{Decision: decision.Allow, RecordAsAsk: true}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if err := q.Promote(p.ID, decision.Allow, "project"); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	resp, err := q.WaitForResponse(p.ID, time.Second)
	if err != nil {
		t.Fatalf("WaitForResponse: %v", err)
	}
	if resp.RecordAsAsk {
		t.Fatalf("expected Promote to clear RecordAsAsk, got %+v", resp)
	}
	if resp.CodifyScope != "project" {
		t.Fatalf("expected Promote to set CodifyScope, got %+v", resp)
	}
}

func TestRespondUnknownIDReturnsError(t *testing.T) {
	q := New(t.TempDir())
	if err := q.Respond("nonexistent", Response{Decision: decision.Allow}); err == nil {
		t.Fatalf("expected error responding to an unknown id")
	}
}
