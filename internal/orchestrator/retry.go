package orchestrator

import (
	"fmt"
	"time"

	"github.com/forgewright/steward/internal/state"
)

// attemptFunc runs one attempt of a stage against the given state.
type attemptFunc func(st *state.State) state.StageResult

// persistFunc writes the state after an attempt. A persist failure is fatal
// for the run: without the write, progress would be unrecoverable.
type persistFunc func(st *state.State) error

// observeFunc is called after every attempt has been applied and persisted.
type observeFunc func(attempt int, result state.StageResult)

// retrier drives repeated attempts of a single stage. The sleep function is
// injectable so tests can run with a fake clock.
type retrier struct {
	maxRetries int
	delay      time.Duration
	sleep      func(time.Duration)
	observe    observeFunc
}

func newRetrier(maxRetries int, delay time.Duration) *retrier {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &retrier{maxRetries: maxRetries, delay: delay, sleep: time.Sleep}
}

// run attempts the stage up to maxRetries times. passed, skipped, and blocked
// results return immediately; blocked is a pause, never retried. Each retry
// sees the state produced by the prior attempt, so partial side effects
// remain visible. For k attempts the driver sleeps k-1 times. State is
// persisted after every attempt.
func (r *retrier) run(st *state.State, stage string, attempt attemptFunc, persist persistFunc) (*state.State, state.StageResult, error) {
	var result state.StageResult
	for i := 1; i <= r.maxRetries; i++ {
		result = attempt(st)
		result.Attempts = i
		st = state.ApplyResult(st, stage, result)
		if err := persist(st); err != nil {
			return st, result, fmt.Errorf("persist state after %s attempt %d: %w", stage, i, err)
		}
		if r.observe != nil {
			r.observe(i, result)
		}
		if result.Status != state.StatusFailed {
			return st, result, nil
		}
		if i < r.maxRetries {
			r.sleep(r.delay)
		}
	}
	return st, result, nil
}
