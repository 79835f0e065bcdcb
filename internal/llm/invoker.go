// Package llm is the boundary to the LLM provider CLI. Workflows consume
// the Invoker contract; the rest of the system never shells out directly.
package llm

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Result is the uniform outcome of one LLM invocation. ErrorMessage is
// empty exactly when Success is true.
type Result struct {
	Success      bool
	Response     string
	ErrorMessage string
}

// Invoker sends a prompt pair to the model and returns its response.
type Invoker interface {
	Invoke(systemPrompt, content string) Result
}

// CmdRunner executes the provider CLI. Interface for testing.
type CmdRunner interface {
	Run(env []string, args ...string) (string, error)
}

// ExecRunner runs the claude CLI via exec.
type ExecRunner struct{}

func (r *ExecRunner) Run(env []string, args ...string) (string, error) {
	cmd := exec.Command("claude", args...)
	cmd.Env = append(os.Environ(), env...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(out)), fmt.Errorf("claude %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// CLIInvoker invokes the model through `claude --print`. When a pool
// credential is set it is passed to the child through the environment so
// parallel runs rotate keys without touching global process state.
type CLIInvoker struct {
	cmd        CmdRunner
	model      string
	credential string
}

// NewCLIInvoker creates an invoker for the given model. credential may be
// empty, in which case the child inherits ambient credentials.
func NewCLIInvoker(cmd CmdRunner, model, credential string) *CLIInvoker {
	if cmd == nil {
		cmd = &ExecRunner{}
	}
	return &CLIInvoker{cmd: cmd, model: model, credential: credential}
}

// Invoke sends one prompt to the model and normalizes the outcome.
func (c *CLIInvoker) Invoke(systemPrompt, content string) Result {
	args := []string{"--print"}
	if c.model != "" {
		args = append(args, "--model", c.model)
	}
	if systemPrompt != "" {
		args = append(args, "--append-system-prompt", systemPrompt)
	}
	args = append(args, content)

	var env []string
	if c.credential != "" {
		env = append(env, "ANTHROPIC_API_KEY="+c.credential)
	}

	out, err := c.cmd.Run(env, args...)
	if err != nil {
		return Result{Success: false, ErrorMessage: err.Error()}
	}
	if out == "" {
		return Result{Success: false, ErrorMessage: "empty response from model"}
	}
	return Result{Success: true, Response: out}
}

// rateLimitMarkers are substrings the provider emits when a key is being
// throttled. Matching is deliberately loose: a false positive only causes
// an unnecessary cooldown.
var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"overloaded",
	"quota exceeded",
}

// IsRateLimited reports whether an error message indicates provider
// throttling. Callers use it to route the credential into cooldown.
func IsRateLimited(errorMessage string) bool {
	msg := strings.ToLower(errorMessage)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
