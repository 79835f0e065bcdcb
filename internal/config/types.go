package config

// Stage names in fixed pipeline order. The pipeline is not user-definable:
// every issue moves triage → lld → spec → impl → pr → done.
const (
	StageTriage = "triage"
	StageLLD    = "lld"
	StageSpec   = "spec"
	StageImpl   = "impl"
	StagePR     = "pr"

	// StageDone is the virtual terminal stage value stored in state once the
	// pr stage has passed. It is never a runnable stage.
	StageDone = "done"
)

// StageOrder is the fixed execution order of the pipeline.
var StageOrder = []string{StageTriage, StageLLD, StageSpec, StageImpl, StagePR}

// ValidStage reports whether name is one of the five runnable stages.
func ValidStage(name string) bool {
	for _, s := range StageOrder {
		if s == name {
			return true
		}
	}
	return false
}

// NextStage returns the stage after current, or StageDone when current is the
// last runnable stage. It returns "" for unknown stage names.
func NextStage(current string) string {
	for i, s := range StageOrder {
		if s != current {
			continue
		}
		if i+1 < len(StageOrder) {
			return StageOrder[i+1]
		}
		return StageDone
	}
	return ""
}

// Config is the resolved orchestrator configuration. It is passed explicitly
// to every component that needs it and embedded into persisted run state so
// resumed runs see the configuration that was active when the run started.
type Config struct {
	// BaseDir is the root for all orchestrator state, locks, and audit
	// output. Defaults to ~/.steward.
	BaseDir string `yaml:"base_dir" json:"base_dir"`

	// RepoDir is the git repository the pipeline operates on.
	// Defaults to the current working directory.
	RepoDir string `yaml:"repo_dir" json:"repo_dir"`

	// SkipExisting controls per-stage skip-if-valid-artifact behaviour.
	// Only triage, lld, and spec are skippable; impl and pr always run.
	SkipExisting map[string]bool `yaml:"skip_existing" json:"skip_existing"`

	// Gates marks stages that require human approval before they run.
	// A gated stage produces a blocked result without invoking its workflow.
	Gates map[string]bool `yaml:"gates" json:"gates"`

	// MaxStageRetries is the number of attempts a failing stage gets before
	// the run is declared failed. Blocked outcomes are never retried.
	MaxStageRetries int `yaml:"max_stage_retries" json:"max_stage_retries"`

	// RetryDelaySeconds is the fixed delay between stage attempts.
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds" json:"retry_delay_seconds"`

	// Credentials is the API credential pool shared by parallel runs.
	// Empty means workflows run with ambient process credentials.
	Credentials []string `yaml:"credentials" json:"credentials"`

	// CredentialTimeoutSeconds bounds how long a parallel worker waits for
	// a credential before failing its work item.
	CredentialTimeoutSeconds float64 `yaml:"credential_timeout_seconds" json:"credential_timeout_seconds"`

	// MaxWorkers bounds batch-mode concurrency. Values above MaxWorkersCap
	// are clamped, not rejected.
	MaxWorkers int `yaml:"max_workers" json:"max_workers"`

	// Model is the LLM model passed to the claude CLI for drafting work.
	Model string `yaml:"model" json:"model"`

	// PRBase is the base branch for created pull requests.
	PRBase string `yaml:"pr_base" json:"pr_base"`
}

// MaxWorkersCap is the hard upper bound on batch concurrency.
const MaxWorkersCap = 10

// Default returns a Config with all defaults applied and no file input.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Clone returns a deep copy of the config. State snapshots hold clones so a
// caller mutating its config cannot retroactively alter a persisted run.
func (c *Config) Clone() *Config {
	out := *c
	if c.SkipExisting != nil {
		out.SkipExisting = make(map[string]bool, len(c.SkipExisting))
		for k, v := range c.SkipExisting {
			out.SkipExisting[k] = v
		}
	}
	if c.Gates != nil {
		out.Gates = make(map[string]bool, len(c.Gates))
		for k, v := range c.Gates {
			out.Gates[k] = v
		}
	}
	if c.Credentials != nil {
		out.Credentials = append([]string(nil), c.Credentials...)
	}
	return &out
}
