package metrics

import "testing"

func TestNewRegistryRegistersAllCollectors(t *testing.T) {
	reg := NewRegistry()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	// Nothing has been observed yet, but Gather must succeed cleanly.
	_ = mfs
}

func TestDecisionsCounterIncrements(t *testing.T) {
	reg := NewRegistry()
	Decisions.WithLabelValues("path_policy", "allow").Inc()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := false
	for _, mf := range mfs {
		if mf.GetName() == "captainhook_decisions_total" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected captainhook_decisions_total metric family present")
	}
}
