package session

import (
	"testing"
	"time"
)

func TestRegisterThenResolve(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)

	if err := r.Register("sess-1", "coder", "fix bug", "", "", "alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	ctx, err := r.Resolve("sess-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ctx.Role != "coder" {
		t.Fatalf("expected role coder, got %q", ctx.Role)
	}
}

func TestResolveUnregisteredReturnsNotRegistered(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	if _, err := r.Resolve("ghost"); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRoleOverrideFallback(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, func(id string) (string, bool) {
		if id == "sess-env" {
			return "maintainer", true
		}
		return "", false
	})
	ctx, err := r.Resolve("sess-env")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ctx.Role != "maintainer" {
		t.Fatalf("expected maintainer, got %q", ctx.Role)
	}
}

func TestDisableThenEnable(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	if err := r.Register("sess-2", "coder", "", "", "", "alice"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Disable("sess-2"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	ctx, err := r.Resolve("sess-2")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !ctx.Disabled {
		t.Fatalf("expected disabled session")
	}
	if err := r.Enable("sess-2"); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	ctx, _ = r.Resolve("sess-2")
	if ctx.Disabled {
		t.Fatalf("expected enabled session after Enable")
	}
}

func TestWaitForRegistrationTimesOut(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	start := time.Now()
	_, err := r.WaitForRegistration("never", 50*time.Millisecond)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("returned too quickly: %v", time.Since(start))
	}
}

func TestConcurrentRegisterDoesNotLoseUpdates(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, nil)
	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		i := i
		go func() {
			done <- r.Register(sessionName(i), "coder", "", "", "", "alice")
		}()
	}
	for i := 0; i < 20; i++ {
		if err := <-done; err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	reg, err := r.readRegistrations()
	if err != nil {
		t.Fatalf("readRegistrations: %v", err)
	}
	if len(reg.Sessions) != 20 {
		t.Fatalf("expected 20 sessions persisted, got %d", len(reg.Sessions))
	}
}

func sessionName(i int) string {
	return "sess-concurrent-" + string(rune('a'+i))
}
