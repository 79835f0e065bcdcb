package stage

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/forgewright/steward/internal/config"
)

// requiredHeadings maps each skippable stage's artifact to the section that
// must be present for the file to count as structurally valid. A truncated
// or hand-emptied artifact fails the check and the stage re-runs.
var requiredHeadings = map[string]string{
	config.StageTriage: "## Classification",
	config.StageLLD:    "## Context",
	config.StageSpec:   "## Steps",
}

// artifactFiles maps skippable stages to their artifact file names.
var artifactFiles = map[string]string{
	config.StageTriage: "triage.md",
	config.StageLLD:    "lld.md",
	config.StageSpec:   "spec.md",
}

// ArtifactDir returns the artifact directory for an issue.
func ArtifactDir(baseDir string, issue int) string {
	return filepath.Join(baseDir, "orchestrator", "artifacts", strconv.Itoa(issue))
}

// DetectArtifact checks whether a structurally valid artifact already exists
// for the stage. It is a pure function of the filesystem: calling it twice
// against the same tree yields the same answer. impl and pr never have
// detectable artifacts; their outputs are not safe idempotence signals.
func DetectArtifact(baseDir string, issue int, stage string) (path string, valid bool) {
	file, ok := artifactFiles[stage]
	if !ok {
		return "", false
	}

	path = filepath.Join(ArtifactDir(baseDir, issue), file)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	if !strings.Contains(string(data), requiredHeadings[stage]) {
		return "", false
	}
	return path, true
}

// ShouldSkip combines the config flag with artifact detection.
func ShouldSkip(cfg *config.Config, issue int, stage string) (path string, skip bool) {
	if !cfg.SkipExisting[stage] {
		return "", false
	}
	return DetectArtifact(cfg.BaseDir, issue, stage)
}
