package llm

import (
	"errors"
	"strings"
	"testing"
)

type fakeRunner struct {
	out  string
	err  error
	env  []string
	args []string
}

func (f *fakeRunner) Run(env []string, args ...string) (string, error) {
	f.env = env
	f.args = args
	return f.out, f.err
}

func TestInvokeBuildsArgs(t *testing.T) {
	runner := &fakeRunner{out: "the answer"}
	inv := NewCLIInvoker(runner, "sonnet", "key-a")

	res := inv.Invoke("be terse", "what is 2+2")
	if !res.Success {
		t.Fatalf("invoke failed: %s", res.ErrorMessage)
	}
	if res.Response != "the answer" {
		t.Errorf("response = %q", res.Response)
	}

	joined := strings.Join(runner.args, " ")
	for _, want := range []string{"--print", "--model sonnet", "--append-system-prompt be terse", "what is 2+2"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args missing %q: %v", want, runner.args)
		}
	}
	if len(runner.env) != 1 || runner.env[0] != "ANTHROPIC_API_KEY=key-a" {
		t.Errorf("env = %v", runner.env)
	}
}

func TestInvokeWithoutCredentialOrModel(t *testing.T) {
	runner := &fakeRunner{out: "ok"}
	inv := NewCLIInvoker(runner, "", "")

	inv.Invoke("", "content")
	joined := strings.Join(runner.args, " ")
	if strings.Contains(joined, "--model") {
		t.Error("empty model should not add --model")
	}
	if strings.Contains(joined, "--append-system-prompt") {
		t.Error("empty system prompt should not add the flag")
	}
	if len(runner.env) != 0 {
		t.Errorf("env = %v, want empty", runner.env)
	}
}

func TestInvokeErrorAndEmptyResponse(t *testing.T) {
	inv := NewCLIInvoker(&fakeRunner{err: errors.New("exit status 1")}, "sonnet", "")
	if res := inv.Invoke("", "x"); res.Success || res.ErrorMessage == "" {
		t.Errorf("result = %+v, want failure with message", res)
	}

	inv = NewCLIInvoker(&fakeRunner{out: ""}, "sonnet", "")
	if res := inv.Invoke("", "x"); res.Success {
		t.Error("empty output should not be a success")
	}
}

func TestIsRateLimited(t *testing.T) {
	limited := []string{
		"API error 429: too many requests",
		"Rate Limit exceeded",
		"upstream rate_limit hit",
		"model overloaded, try later",
		"monthly quota exceeded",
	}
	for _, msg := range limited {
		if !IsRateLimited(msg) {
			t.Errorf("IsRateLimited(%q) = false", msg)
		}
	}

	clean := []string{"", "connection refused", "exit status 1", "invalid api key"}
	for _, msg := range clean {
		if IsRateLimited(msg) {
			t.Errorf("IsRateLimited(%q) = true", msg)
		}
	}
}
