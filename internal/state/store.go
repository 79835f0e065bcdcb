package state

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/forgewright/steward/internal/config"
)

// Store persists orchestration state as JSON under
// {baseDir}/orchestrator/state/{issue}.json, keeping a single-generation
// .bak sibling of the previous contents before every overwrite.
type Store struct {
	baseDir string
}

// NewStore creates a Store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// stateDir returns the directory holding all state files.
func (s *Store) stateDir() string {
	return filepath.Join(s.baseDir, "orchestrator", "state")
}

// Path returns the state file path for an issue.
func (s *Store) Path(issue int) string {
	return filepath.Join(s.stateDir(), strconv.Itoa(issue)+".json")
}

// Issues lists the issue numbers with persisted state, in ascending order.
// Files that are not {number}.json are ignored.
func (s *Store) Issues() ([]int, error) {
	entries, err := os.ReadDir(s.stateDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var issues []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		n, err := strconv.Atoi(name[:len(name)-len(".json")])
		if err != nil || n <= 0 {
			continue
		}
		issues = append(issues, n)
	}
	sort.Ints(issues)
	return issues, nil
}

// Save writes the state to disk. An existing file is first copied to a .bak
// sibling; a failed backup is logged by the caller and must not mask the
// stage outcome, but a failed write of the authoritative file is fatal for
// the run, so it is returned as an error.
func (s *Store) Save(st *State) error {
	if err := os.MkdirAll(s.stateDir(), 0o755); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}

	path := s.Path(st.IssueNumber)
	if _, err := os.Stat(path); err == nil {
		// Best effort: state remains recoverable from the primary file even
		// if the backup copy fails.
		_ = copyFile(path, path+".bak")
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write state %s: %w", path, err)
	}
	return nil
}

// Load reads persisted state for an issue. It returns (nil, nil) when no
// usable state exists: missing file, undecodable JSON, missing identity
// fields, or an issue-number mismatch all force a fresh run rather than
// proceeding with wrong data.
func (s *Store) Load(issue int) (*State, error) {
	data, err := os.ReadFile(s.Path(issue))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state for issue %d: %w", issue, err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		// Corrupt state (crash mid-write) is treated as absent.
		return nil, nil
	}
	if st.IssueNumber == 0 || st.CurrentStage == "" {
		return nil, nil
	}
	if st.IssueNumber != issue {
		return nil, nil
	}
	if st.StageResults == nil {
		st.StageResults = map[string]StageResult{}
	}
	if st.StageAttempts == nil {
		st.StageAttempts = map[string]int{}
	}
	return &st, nil
}

// PrepareResume rewinds a loaded state to the given target stage, or keeps
// the persisted CurrentStage when target is empty. The embedded config is
// replaced with the freshly-resolved one so resume honors new overrides;
// artifacts and prior stage results are retained unchanged.
func PrepareResume(st *State, target string, cfg *config.Config) (*State, error) {
	if target != "" && !config.ValidStage(target) {
		return nil, fmt.Errorf("invalid resume stage %q: must be one of %v", target, config.StageOrder)
	}
	next := st.Clone()
	if target != "" {
		next.CurrentStage = target
	}
	next.Config = cfg.Clone()
	next.ErrorMessage = ""
	next.CompletedAt = ""
	return next, nil
}

// copyFile copies src to dst, replacing dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
