//go:build integration

package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// repoRoot returns the module root, one level above this file
func repoRoot(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get current file path")
	}
	return filepath.Dir(filepath.Dir(filename))
}

// binaryPath builds the CLI once per test binary into a temp dir
func binaryPath(t *testing.T) string {
	t.Helper()
	if builtBinary != "" {
		return builtBinary
	}
	dir, err := os.MkdirTemp("", "swarm-orch-bin")
	if err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "swarm-orch")
	cmd := exec.Command("go", "build", "-o", out, "./cmd/swarm-orch")
	cmd.Dir = repoRoot(t)
	if msg, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build binary: %v\n%s", err, msg)
	}
	builtBinary = out
	return out
}

var builtBinary string

// fakeIssue is one issue as gh prints it with --json
type fakeIssue struct {
	Number    int         `json:"number"`
	Title     string      `json:"title"`
	Body      string      `json:"body"`
	URL       string      `json:"url"`
	State     string      `json:"state"`
	Labels    []fakeLabel `json:"labels"`
	CreatedAt string      `json:"createdAt"`
}

type fakeLabel struct {
	Name string `json:"name"`
}

func issue(number int, title, state, createdAt string, labels ...string) fakeIssue {
	ls := make([]fakeLabel, len(labels))
	for i, l := range labels {
		ls[i] = fakeLabel{Name: l}
	}
	return fakeIssue{
		Number:    number,
		Title:     title,
		URL:       fmt.Sprintf("https://github.com/acme/widgets/issues/%d", number),
		State:     state,
		Labels:    ls,
		CreatedAt: createdAt,
	}
}

// writeFakeGH writes a shell script answering issue list and issue view
// from canned JSON. Only open issues are listed.
func writeFakeGH(t *testing.T, issues []fakeIssue) string {
	t.Helper()
	dir := t.TempDir()

	var open []fakeIssue
	for _, is := range issues {
		writeJSON(t, filepath.Join(dir, fmt.Sprintf("issue-%d.json", is.Number)), is)
		if strings.EqualFold(is.State, "OPEN") {
			open = append(open, is)
		}
	}
	if open == nil {
		open = []fakeIssue{}
	}
	writeJSON(t, filepath.Join(dir, "issues.json"), open)

	script := fmt.Sprintf(`#!/bin/sh
case "$1 $2" in
"issue list") cat %[1]q/issues.json ;;
"issue view")
	if [ -f %[1]q/issue-$3.json ]; then cat %[1]q/issue-$3.json; else echo "could not resolve to an issue with the number of $3" >&2; exit 1; fi ;;
*) echo "fake gh: unsupported: $*" >&2; exit 1 ;;
esac
`, dir)
	path := filepath.Join(dir, "gh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// writeConfig writes a config using ghPath and a fresh database
func writeConfig(t *testing.T, ghPath string) string {
	t.Helper()
	dir := t.TempDir()
	config := fmt.Sprintf(`[general]
database_path = %q
agent = "black_widow"

[github]
gh_path = %q
`, filepath.Join(dir, "perf.db"), ghPath)

	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// run executes the CLI with the config and returns stdout. A failure's
// error carries stderr.
func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	cmd := exec.Command(binaryPath(t), append(args, "--config", configPath)...)
	cmd.Env = append(os.Environ(), "DISCORD_WEBHOOK_URL=", "SLACK_WEBHOOK_URL=", "GITHUB_REPO=")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		err = fmt.Errorf("%w: %s", err, stderr.String())
	}
	return string(out), err
}
