package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Entry is one line of a session shard.
type Entry struct {
	Timestamp string `json:"timestamp"`
	RunID     string `json:"run_id"`
	Issue     int    `json:"issue"`
	Event     string `json:"event"`
	Stage     string `json:"stage,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// Shard is a per-run append-only JSONL audit file under
// {baseDir}/orchestrator/audit/{issue}/{run_id}.jsonl. Shards are later
// consolidated into a single history.jsonl per issue.
type Shard struct {
	path  string
	runID string
	issue int
}

// NewShard creates (or reopens for append) the shard for a run.
func NewShard(baseDir string, issue int, runID string) (*Shard, error) {
	dir := filepath.Join(baseDir, "orchestrator", "audit", strconv.Itoa(issue))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir audit dir: %w", err)
	}
	return &Shard{
		path:  filepath.Join(dir, runID+".jsonl"),
		runID: runID,
		issue: issue,
	}, nil
}

// Path returns the shard's file path.
func (s *Shard) Path() string {
	return s.path
}

// Append writes one entry. Each call opens, appends, and closes so a
// crashed run leaves every prior line intact.
func (s *Shard) Append(event, stage string, attempt int, detail string) error {
	entry := Entry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RunID:     s.runID,
		Issue:     s.issue,
		Event:     event,
		Stage:     stage,
		Attempt:   attempt,
		Detail:    detail,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open shard %s: %w", s.path, err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

// Consolidate merges all of an issue's shards into history.jsonl in
// timestamp order and removes the merged shards. Undecodable lines are
// carried over verbatim rather than dropped.
func Consolidate(baseDir string, issue int) (merged int, err error) {
	dir := filepath.Join(baseDir, "orchestrator", "audit", strconv.Itoa(issue))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read audit dir: %w", err)
	}

	type line struct {
		ts  string
		seq int
		raw string
	}
	var lines []line
	var shardPaths []string

	for _, e := range entries {
		if e.IsDir() || e.Name() == "history.jsonl" || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		path := filepath.Join(dir, e.Name())
		f, err := os.Open(path)
		if err != nil {
			return 0, fmt.Errorf("open shard %s: %w", path, err)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		// Undecodable lines inherit the timestamp of the line above them in
		// the same shard, so they sort next to their neighbors instead of
		// collecting at the front of history.
		lastTS := ""
		for scanner.Scan() {
			raw := scanner.Text()
			if raw == "" {
				continue
			}
			var entry Entry
			ts := lastTS
			if json.Unmarshal([]byte(raw), &entry) == nil && entry.Timestamp != "" {
				ts = entry.Timestamp
				lastTS = ts
			}
			lines = append(lines, line{ts: ts, seq: len(lines), raw: raw})
		}
		scanErr := scanner.Err()
		f.Close()
		if scanErr != nil {
			return 0, fmt.Errorf("scan shard %s: %w", path, scanErr)
		}
		shardPaths = append(shardPaths, path)
	}

	if len(lines) == 0 {
		return 0, nil
	}

	sort.Slice(lines, func(i, j int) bool {
		if lines[i].ts != lines[j].ts {
			return lines[i].ts < lines[j].ts
		}
		return lines[i].seq < lines[j].seq
	})

	historyPath := filepath.Join(dir, "history.jsonl")
	f, err := os.OpenFile(historyPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open history file: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, l := range lines {
		if _, err := w.WriteString(l.raw + "\n"); err != nil {
			f.Close()
			return 0, fmt.Errorf("write history: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return 0, fmt.Errorf("flush history: %w", err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close history: %w", err)
	}

	// Shards are removed only after history is durably written.
	for _, path := range shardPaths {
		if err := os.Remove(path); err != nil {
			return len(lines), fmt.Errorf("remove merged shard %s: %w", path, err)
		}
	}
	return len(lines), nil
}
