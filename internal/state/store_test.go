package state

import (
	"os"
	"testing"
	"time"

	"github.com/forgewright/steward/internal/config"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	st, err := New(42, nil)
	if err != nil {
		t.Fatal(err)
	}
	st = ApplyResult(st, config.StageTriage,
		NewStageResult(StatusPassed, "/tmp/triage.md", "", 2*time.Second))
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(42)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil {
		t.Fatal("state not found after save")
	}
	if loaded.CurrentStage != config.StageLLD {
		t.Errorf("current stage = %q, want lld", loaded.CurrentStage)
	}
	if loaded.StageResults[config.StageTriage].Status != StatusPassed {
		t.Error("triage result lost in round trip")
	}
	if loaded.TriageArtifact != "/tmp/triage.md" {
		t.Errorf("artifact = %q", loaded.TriageArtifact)
	}
}

func TestStoreLoadMissingIsNil(t *testing.T) {
	store := NewStore(t.TempDir())
	st, err := store.Load(42)
	if err != nil {
		t.Fatal(err)
	}
	if st != nil {
		t.Error("missing state should load as nil")
	}
}

func TestStoreLoadCorruptIsNil(t *testing.T) {
	store := NewStore(t.TempDir())
	st, _ := New(42, nil)
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}
	// Simulate a crash mid-write.
	if err := os.WriteFile(store.Path(42), []byte(`{"issue_number": 42, "curr`), 0o644); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load(42)
	if err != nil {
		t.Fatal(err)
	}
	if loaded != nil {
		t.Error("corrupt state should be treated as absent")
	}
}

func TestStoreLoadRejectsMissingIdentity(t *testing.T) {
	store := NewStore(t.TempDir())
	if err := os.MkdirAll(store.stateDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(42), []byte(`{"started_at": "2026-01-01T00:00:00Z"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	if loaded, _ := store.Load(42); loaded != nil {
		t.Error("state without issue_number/current_stage should be rejected")
	}
}

func TestStoreLoadRejectsIssueMismatch(t *testing.T) {
	store := NewStore(t.TempDir())
	st, _ := New(42, nil)
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}
	// A file whose contents claim a different issue must not be trusted.
	data, err := os.ReadFile(store.Path(42))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(store.stateDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(store.Path(99), data, 0o644); err != nil {
		t.Fatal(err)
	}

	if loaded, _ := store.Load(99); loaded != nil {
		t.Error("issue mismatch should be rejected")
	}
}

func TestStoreSaveKeepsBackup(t *testing.T) {
	store := NewStore(t.TempDir())
	st, _ := New(42, nil)
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(store.Path(42))
	if err != nil {
		t.Fatal(err)
	}

	st = ApplyResult(st, config.StageTriage, NewStageResult(StatusPassed, "/tmp/t.md", "", 0))
	if err := store.Save(st); err != nil {
		t.Fatal(err)
	}

	bak, err := os.ReadFile(store.Path(42) + ".bak")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(bak) != string(first) {
		t.Error("backup does not hold the previous generation")
	}
}

func TestStoreIssues(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, n := range []int{7, 42, 3} {
		st, _ := New(n, nil)
		if err := store.Save(st); err != nil {
			t.Fatal(err)
		}
	}

	issues, err := store.Issues()
	if err != nil {
		t.Fatal(err)
	}
	want := []int{3, 7, 42}
	if len(issues) != len(want) {
		t.Fatalf("issues = %v, want %v", issues, want)
	}
	for i := range want {
		if issues[i] != want[i] {
			t.Fatalf("issues = %v, want %v", issues, want)
		}
	}
}

func TestPrepareResumeReplacesConfigKeepsArtifacts(t *testing.T) {
	st, _ := New(42, nil)
	st = ApplyResult(st, config.StageTriage, NewStageResult(StatusPassed, "/tmp/triage.md", "", 0))
	st = ApplyResult(st, config.StageLLD, NewStageResult(StatusFailed, "", "flaky", 0))

	fresh := config.Default()
	fresh.MaxStageRetries = 7
	resumed, err := PrepareResume(st, config.StageLLD, fresh)
	if err != nil {
		t.Fatal(err)
	}

	if resumed.Config.MaxStageRetries != 7 {
		t.Error("resume did not adopt the fresh config")
	}
	if resumed.TriageArtifact != "/tmp/triage.md" {
		t.Error("resume lost an earlier artifact")
	}
	if resumed.StageResults[config.StageTriage].Status != StatusPassed {
		t.Error("resume lost an earlier stage result")
	}
	if resumed.ErrorMessage != "" {
		t.Error("resume should clear the error message")
	}
	if resumed.CurrentStage != config.StageLLD {
		t.Errorf("current stage = %q, want lld", resumed.CurrentStage)
	}
}

func TestPrepareResumeInvalidTarget(t *testing.T) {
	st, _ := New(42, nil)
	if _, err := PrepareResume(st, "deploy", config.Default()); err == nil {
		t.Fatal("expected error for unknown stage name")
	}
	if _, err := PrepareResume(st, "done", config.Default()); err == nil {
		t.Fatal("done is not a resumable stage")
	}
}
