// Package parallel runs independent pipeline invocations across issues with
// a bounded worker pool and shared credential rotation.
package parallel

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/forgewright/steward/internal/audit"
	"github.com/forgewright/steward/internal/config"
	"github.com/forgewright/steward/internal/credential"
	"github.com/forgewright/steward/internal/llm"
)

// rateLimitBackoff is how long a credential cools down after a worker
// reports a rate-limit failure.
const rateLimitBackoff = 60 * time.Second

// WorkerFunc runs one work item. The credential is empty when no pool is
// configured.
type WorkerFunc func(item int, credential string) error

// WorkResult is produced exactly once per submitted item, including items
// that panicked, timed out on credential acquisition, or never started.
type WorkResult struct {
	ItemID   string
	Success  bool
	Error    string
	Duration time.Duration
}

// Summary aggregates a batch run.
type Summary struct {
	Results     []WorkResult
	Checkpoints []string // item IDs that never started before shutdown
	Interrupted bool
}

// Failed counts unsuccessful results.
func (s *Summary) Failed() int {
	n := 0
	for _, r := range s.Results {
		if !r.Success {
			n++
		}
	}
	return n
}

// Coordinator dispatches work items to a bounded pool of workers.
type Coordinator struct {
	pool        *credential.Pool // nil when no credentials configured
	maxWorkers  int
	credTimeout time.Duration
	progress    io.Writer

	db      *audit.DB // optional
	batchID string
}

// NewCoordinator builds a coordinator from configuration. Worker counts
// above the hard cap are silently clamped, with a warning on the progress
// writer.
func NewCoordinator(cfg *config.Config, pool *credential.Pool, progress io.Writer) *Coordinator {
	workers := cfg.MaxWorkers
	if workers < 1 {
		workers = 1
	}
	if workers > config.MaxWorkersCap {
		if progress != nil {
			fmt.Fprintf(progress, "warning: max_workers %d exceeds cap, using %d\n", workers, config.MaxWorkersCap)
		}
		workers = config.MaxWorkersCap
	}
	return &Coordinator{
		pool:        pool,
		maxWorkers:  workers,
		credTimeout: time.Duration(cfg.CredentialTimeoutSeconds * float64(time.Second)),
		progress:    progress,
	}
}

// SetAuditDB enables credential lifecycle logging to the event database.
func (c *Coordinator) SetAuditDB(db *audit.DB) {
	c.db = db
}

func (c *Coordinator) logf(format string, args ...interface{}) {
	if c.progress != nil {
		fmt.Fprintf(c.progress, format+"\n", args...)
	}
}

// logCredential records a credential lifecycle event for the batch. Audit
// failures never affect the run.
func (c *Coordinator) logCredential(event, detail string) {
	if c.db == nil {
		return
	}
	if err := c.db.LogCredentialEvent(c.batchID, event, detail); err != nil {
		c.logf("audit db write failed: %v", err)
	}
}

// Execute runs every item through worker, at most maxWorkers at a time. In
// dry-run mode it only lists the items. An interrupt or termination signal
// stops new submissions; in-flight items run to completion and items that
// never started are recorded as checkpoints for a later run.
func (c *Coordinator) Execute(items []int, worker WorkerFunc, dryRun bool) *Summary {
	summary := &Summary{}
	c.batchID = uuid.New().String()
	if dryRun {
		c.logf("dry run: %d item(s), up to %d worker(s)", len(items), c.maxWorkers)
		for _, item := range items {
			c.logf("  would process issue %d", item)
		}
		return summary
	}

	var shutdown atomic.Bool
	sigc := make(chan os.Signal, 1)
	done := make(chan struct{})
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigc)
		close(done)
	}()
	go func() {
		select {
		case <-sigc:
			shutdown.Store(true)
			c.logf("shutdown requested, finishing in-flight items")
		case <-done:
		}
	}()

	results := make([]WorkResult, len(items))
	g := new(errgroup.Group)
	g.SetLimit(c.maxWorkers)

	for i, item := range items {
		id := strconv.Itoa(item)
		if shutdown.Load() {
			summary.Checkpoints = append(summary.Checkpoints, id)
			results[i] = WorkResult{ItemID: id, Error: "interrupted before start (checkpointed)"}
			continue
		}
		i, item := i, item
		g.Go(func() error {
			results[i] = c.runItem(item, id, worker)
			return nil
		})
	}
	g.Wait()

	summary.Results = results
	summary.Interrupted = shutdown.Load()
	return summary
}

// runItem wraps one worker invocation: credential acquisition with timeout,
// guaranteed release, and panic containment.
func (c *Coordinator) runItem(item int, id string, worker WorkerFunc) WorkResult {
	start := time.Now()
	res := WorkResult{ItemID: id}

	cred := ""
	if c.pool != nil {
		var ok bool
		cred, ok = c.pool.Acquire(c.credTimeout)
		if !ok {
			c.logCredential("timeout", "issue "+id)
			res.Error = fmt.Sprintf("no credential available within %s", c.credTimeout)
			res.Duration = time.Since(start)
			return res
		}
		c.logCredential("acquired", "issue "+id)
	}

	err := invoke(worker, item, cred)

	if c.pool != nil {
		rateLimited := err != nil && llm.IsRateLimited(err.Error())
		backoff := time.Duration(0)
		if rateLimited {
			backoff = rateLimitBackoff
			c.logCredential("cooldown", "issue "+id)
		} else {
			c.logCredential("released", "issue "+id)
		}
		if relErr := c.pool.Release(cred, rateLimited, backoff); relErr != nil {
			c.logf("credential release failed: %v", relErr)
		}
	}

	if err != nil {
		res.Error = err.Error()
	} else {
		res.Success = true
	}
	res.Duration = time.Since(start)
	return res
}

// invoke runs the worker, converting a panic into an error so the pool and
// its credentials survive.
func invoke(worker WorkerFunc, item int, cred string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()
	return worker(item, cred)
}
