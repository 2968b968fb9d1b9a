package vectorindex

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Epiphytic/captain-hook/internal/decision"
)

func TestBuildFromThenQueryFindsCloseMatch(t *testing.T) {
	idx := New(0, RebuildPolicy{}, false)
	idx.BuildFrom([]decision.DecisionRecord{
		{Key: decision.CacheKey{SanitizedInput: "rm -rf /tmp/build/output", Tool: "Bash", Role: "coder"}, Decision: decision.Allow},
	})
	res := idx.Query("rm -rf /tmp/build/output")
	if !res.Found || res.Record.Decision != decision.Allow {
		t.Fatalf("expected exact-text query to match itself, got %+v", res)
	}
}

func TestDenyMatchIsUndetermined(t *testing.T) {
	idx := New(0, RebuildPolicy{}, false)
	idx.BuildFrom([]decision.DecisionRecord{
		{Key: decision.CacheKey{SanitizedInput: "rm -rf /tmp/build/output", Tool: "Bash", Role: "coder"}, Decision: decision.Deny},
	})
	res := idx.Query("rm -rf /tmp/build/output")
	if res.Found {
		t.Fatalf("a vector match against Deny must never auto-decide, got %+v", res)
	}
	if !res.Undetermined {
		t.Fatalf("expected undetermined for strong Deny-side match, got %+v", res)
	}
}

func TestDisabledIndexIsPermanentNoOp(t *testing.T) {
	idx := New(0, RebuildPolicy{}, true)
	idx.BuildFrom([]decision.DecisionRecord{
		{Key: decision.CacheKey{SanitizedInput: "rm -rf /tmp/build/output", Tool: "Bash", Role: "coder"}, Decision: decision.Allow},
	})
	idx.Insert(decision.DecisionRecord{Key: decision.CacheKey{SanitizedInput: "another", Tool: "Bash", Role: "coder"}, Decision: decision.Allow})
	res := idx.Query("rm -rf /tmp/build/output")
	if res.Found || res.Undetermined {
		t.Fatalf("expected disabled index to always return empty Result, got %+v", res)
	}
	if idx.ShouldRebuild() {
		t.Fatalf("disabled index must never request a rebuild")
	}
}

func TestInsertBuffersWithoutMutatingGraph(t *testing.T) {
	idx := New(0, RebuildPolicy{MinRecords: 1000, MinInterval: 0}, false)
	idx.BuildFrom(nil)
	idx.Insert(decision.DecisionRecord{Key: decision.CacheKey{SanitizedInput: "git status", Tool: "Bash", Role: "coder"}, Decision: decision.Allow})
	// Buffered, not yet graph-indexed: query must not find it until a rebuild.
	res := idx.Query("git status")
	if res.Found {
		t.Fatalf("expected buffered insert not to be searchable before a rebuild, got %+v", res)
	}
}

func TestShouldRebuildTriggersOnRecordCount(t *testing.T) {
	idx := New(0, RebuildPolicy{MinRecords: 2, MinInterval: time.Hour}, false)
	idx.BuildFrom(nil)
	idx.Insert(decision.DecisionRecord{Key: decision.CacheKey{SanitizedInput: "a"}, Decision: decision.Allow})
	if idx.ShouldRebuild() {
		t.Fatalf("expected no rebuild after a single buffered insert below MinRecords")
	}
	idx.Insert(decision.DecisionRecord{Key: decision.CacheKey{SanitizedInput: "b"}, Decision: decision.Allow})
	if !idx.ShouldRebuild() {
		t.Fatalf("expected rebuild once buffered count reaches MinRecords")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vector.idx")

	idx := New(0, RebuildPolicy{}, false)
	idx.BuildFrom([]decision.DecisionRecord{
		{Key: decision.CacheKey{SanitizedInput: "rm -rf /tmp/build/output", Tool: "Bash", Role: "coder"}, Decision: decision.Allow},
	})
	if err := idx.SaveToDisk(path); err != nil {
		t.Fatalf("SaveToDisk: %v", err)
	}

	loaded, err := LoadFromDisk(path, 0, RebuildPolicy{}, false)
	if err != nil {
		t.Fatalf("LoadFromDisk: %v", err)
	}
	res := loaded.Query("rm -rf /tmp/build/output")
	if !res.Found || res.Record.Decision != decision.Allow {
		t.Fatalf("expected reloaded index to still match, got %+v", res)
	}
}

func TestLoadFromDiskMissingFileIsEmptyNotError(t *testing.T) {
	idx, err := LoadFromDisk(filepath.Join(t.TempDir(), "missing.idx"), 0, RebuildPolicy{}, false)
	if err != nil {
		t.Fatalf("expected missing derived-artifact file to be a non-error empty index, got %v", err)
	}
	res := idx.Query("anything")
	if res.Found {
		t.Fatalf("expected empty index to find nothing")
	}
}
