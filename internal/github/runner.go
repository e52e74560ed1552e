// Package github wraps the gh CLI for issue and pull request operations.
package github

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrNotFound is returned when gh reports that an issue or PR does not exist
var ErrNotFound = errors.New("not found")

// Runner executes one gh invocation and returns its stdout
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// CommandError is a non-zero gh exit
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("gh %s: %s", strings.Join(e.Args, " "), msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrNotFound) match gh's lookup failures
func (e *CommandError) Is(target error) bool {
	return target == ErrNotFound && isNotFound(e.Stderr)
}

func isNotFound(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "could not resolve") || strings.Contains(s, "not found")
}

// ExecRunner runs the gh binary, scoped to one repository when Repo is set
type ExecRunner struct {
	Path string // defaults to "gh"
	Repo string // owner/name
}

// Run implements Runner
func (r *ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	path := r.Path
	if path == "" {
		path = "gh"
	}
	if r.Repo != "" && scopesToRepo(args) {
		args = append(args, "--repo", r.Repo)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &CommandError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return stdout.Bytes(), nil
}

// gh api takes the repository in the path instead of a flag
func scopesToRepo(args []string) bool {
	return len(args) > 0 && (args[0] == "issue" || args[0] == "pr")
}
