package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readJSONL(t *testing.T, path string) []Entry {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if scanner.Text() == "" {
			continue
		}
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("bad line %q: %v", scanner.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func TestShardAppend(t *testing.T) {
	base := t.TempDir()
	s, err := NewShard(base, 42, "run-1")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Append("run_started", "triage", 0, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.Append("stage_passed", "triage", 1, "/tmp/triage.md"); err != nil {
		t.Fatal(err)
	}

	entries := readJSONL(t, s.Path())
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Event != "run_started" || entries[0].Issue != 42 || entries[0].RunID != "run-1" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Stage != "triage" || entries[1].Attempt != 1 {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestConsolidateMergesAndRemovesShards(t *testing.T) {
	base := t.TempDir()

	s1, err := NewShard(base, 42, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	s2, err := NewShard(base, 42, "run-2")
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range []*Shard{s1, s2} {
		if err := s.Append("run_started", "triage", 0, ""); err != nil {
			t.Fatal(err)
		}
		if err := s.Append("run_completed", "done", 0, ""); err != nil {
			t.Fatal(err)
		}
	}

	merged, err := Consolidate(base, 42)
	if err != nil {
		t.Fatal(err)
	}
	if merged != 4 {
		t.Errorf("merged = %d, want 4", merged)
	}

	dir := filepath.Dir(s1.Path())
	history := filepath.Join(dir, "history.jsonl")
	entries := readJSONL(t, history)
	if len(entries) != 4 {
		t.Fatalf("history entries = %d, want 4", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i].Timestamp < entries[i-1].Timestamp {
			t.Errorf("history out of timestamp order at %d", i)
		}
	}

	// Shards are removed only after the merged history is durable.
	for _, s := range []*Shard{s1, s2} {
		if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
			t.Errorf("shard %s not removed", s.Path())
		}
	}
	if _, err := os.Stat(history); err != nil {
		t.Errorf("history missing: %v", err)
	}
}

func TestConsolidateAppendsToExistingHistory(t *testing.T) {
	base := t.TempDir()

	s1, _ := NewShard(base, 42, "run-1")
	if err := s1.Append("run_started", "triage", 0, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := Consolidate(base, 42); err != nil {
		t.Fatal(err)
	}

	s2, _ := NewShard(base, 42, "run-2")
	if err := s2.Append("run_started", "triage", 0, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := Consolidate(base, 42); err != nil {
		t.Fatal(err)
	}

	history := filepath.Join(filepath.Dir(s1.Path()), "history.jsonl")
	entries := readJSONL(t, history)
	if len(entries) != 2 {
		t.Errorf("history entries = %d, want 2 after two consolidations", len(entries))
	}
}

func TestConsolidateCarriesUndecodableLines(t *testing.T) {
	base := t.TempDir()
	s, _ := NewShard(base, 42, "run-1")
	if err := s.Append("run_started", "triage", 0, ""); err != nil {
		t.Fatal(err)
	}

	// A torn write from a crashed run must not be silently dropped.
	f, err := os.OpenFile(s.Path(), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(`{"timestamp": "2026-08-31T`); err != nil {
		t.Fatal(err)
	}
	f.WriteString("\n")
	f.Close()

	merged, err := Consolidate(base, 42)
	if err != nil {
		t.Fatal(err)
	}
	if merged != 2 {
		t.Errorf("merged = %d, want 2 (including the torn line)", merged)
	}

	data, err := os.ReadFile(filepath.Join(filepath.Dir(s.Path()), "history.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `{"timestamp": "2026-08-31T`) {
		t.Error("torn line dropped during consolidation")
	}
}

func TestConsolidateKeepsUndecodableLinesWithTheirNeighbors(t *testing.T) {
	base := t.TempDir()
	dir := filepath.Join(base, "orchestrator", "audit", "42")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	torn := `{"timestamp": "2026-08-31T`
	write("run-a.jsonl",
		`{"timestamp":"2026-08-31T10:00:00Z","run_id":"run-a","issue":42,"event":"run_started"}`+"\n"+
			`{"timestamp":"2026-08-31T10:00:05Z","run_id":"run-a","issue":42,"event":"run_completed"}`+"\n")
	write("run-b.jsonl",
		`{"timestamp":"2026-08-31T10:00:02Z","run_id":"run-b","issue":42,"event":"run_started"}`+"\n"+
			torn+"\n"+
			`{"timestamp":"2026-08-31T10:00:07Z","run_id":"run-b","issue":42,"event":"run_failed"}`+"\n")

	if _, err := Consolidate(base, 42); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "history.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 {
		t.Fatalf("history lines = %d, want 5", len(lines))
	}

	// The torn line sorts right after the entry it followed in its shard,
	// not to the front of the file.
	tornAt := -1
	for i, l := range lines {
		if l == torn {
			tornAt = i
		}
	}
	if tornAt != 2 {
		t.Fatalf("torn line at index %d, want 2: %q", tornAt, lines)
	}
	if !strings.Contains(lines[1], `"run-b"`) || !strings.Contains(lines[1], "run_started") {
		t.Errorf("torn line's shard neighbor not directly above it: %q", lines[1])
	}
}

func TestConsolidateNothingToDo(t *testing.T) {
	merged, err := Consolidate(t.TempDir(), 42)
	if err != nil {
		t.Fatal(err)
	}
	if merged != 0 {
		t.Errorf("merged = %d, want 0", merged)
	}
}
