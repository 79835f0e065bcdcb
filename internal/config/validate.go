package config

import "fmt"

// ValidationError represents a single validation issue with a config.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks a Config for structural and semantic errors. It returns a
// slice of all validation errors found (empty if valid). A config that fails
// validation must never start a pipeline.
func Validate(cfg *Config) []ValidationError {
	var errs []ValidationError

	if cfg.MaxStageRetries < 1 {
		errs = append(errs, ValidationError{
			Field:   "max_stage_retries",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.MaxStageRetries),
		})
	}
	if cfg.RetryDelaySeconds < 0 {
		errs = append(errs, ValidationError{
			Field:   "retry_delay_seconds",
			Message: "must not be negative",
		})
	}
	if cfg.CredentialTimeoutSeconds <= 0 {
		errs = append(errs, ValidationError{
			Field:   "credential_timeout_seconds",
			Message: "must be positive",
		})
	}
	if cfg.MaxWorkers < 1 {
		errs = append(errs, ValidationError{
			Field:   "max_workers",
			Message: fmt.Sprintf("must be at least 1, got %d", cfg.MaxWorkers),
		})
	}

	for name := range cfg.SkipExisting {
		if !ValidStage(name) {
			errs = append(errs, ValidationError{
				Field:   "skip_existing",
				Message: fmt.Sprintf("references unknown stage %q", name),
			})
		}
	}
	for name, skip := range cfg.SkipExisting {
		if skip && (name == StageImpl || name == StagePR) {
			errs = append(errs, ValidationError{
				Field:   "skip_existing",
				Message: fmt.Sprintf("stage %q cannot be skipped: its artifact is not a safe idempotence signal", name),
			})
		}
	}
	for name := range cfg.Gates {
		if !ValidStage(name) {
			errs = append(errs, ValidationError{
				Field:   "gates",
				Message: fmt.Sprintf("references unknown stage %q", name),
			})
		}
	}

	seen := make(map[string]bool)
	for i, cred := range cfg.Credentials {
		if cred == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("credentials[%d]", i),
				Message: "must not be empty",
			})
			continue
		}
		if seen[cred] {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("credentials[%d]", i),
				Message: "duplicate credential",
			})
		}
		seen[cred] = true
	}

	return errs
}
