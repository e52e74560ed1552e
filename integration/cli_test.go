//go:build integration

package integration

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func backlog() []fakeIssue {
	return []fakeIssue{
		issue(1, "Wire retry into webhook sender", "OPEN", "2026-03-01T10:00:00Z", "high", "d2"),
		issue(2, "Extract webhook client", "CLOSED", "2026-02-20T10:00:00Z", "high"),
		issue(3, "Fix login redirect", "OPEN", "2026-02-25T10:00:00Z", "critical", "wip"),
		issue(4, "Tidy README", "OPEN", "2026-01-15T10:00:00Z", "low"),
	}
}

func TestCLI_Help(t *testing.T) {
	out, err := run(t, writeConfig(t, "gh"), "--help")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"next", "claim", "queue", "merge", "audit", "perf", "judge", "watch", "serve"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_InvalidCommand(t *testing.T) {
	_, err := run(t, writeConfig(t, "gh"), "invalidcommand")
	if err == nil {
		t.Fatal("Expected error for invalid command")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("error = %v, want unknown command", err)
	}
}

func TestCLI_Next(t *testing.T) {
	cfg := writeConfig(t, writeFakeGH(t, backlog()))

	out, err := run(t, cfg, "next", "--output", "json")
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Issue        int    `json:"issue"`
		Priority     string `json:"priority"`
		Dependencies []int  `json:"dependencies"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("parse %q: %v", out, err)
	}
	// #3 outranks #1 but carries the WIP label
	if got.Issue != 1 || got.Priority != "high" {
		t.Errorf("next = %+v, want issue 1 at high", got)
	}
}

func TestCLI_Next_NoWork(t *testing.T) {
	cfg := writeConfig(t, writeFakeGH(t, []fakeIssue{
		issue(3, "Fix login redirect", "OPEN", "2026-02-25T10:00:00Z", "critical", "wip"),
	}))

	out, err := run(t, cfg, "next")
	if err != nil {
		t.Fatalf("next with no work should exit 0: %v", err)
	}
	if !strings.Contains(out, "No claimable work") {
		t.Errorf("output = %q, want no-work message", out)
	}
}

func TestCLI_ClaimDryRun(t *testing.T) {
	cfg := writeConfig(t, writeFakeGH(t, backlog()))

	// the fake gh rejects issue edit, so a real claim would fail here
	out, err := run(t, cfg, "claim", "--dry-run")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Would claim") || !strings.Contains(out, "#1") {
		t.Errorf("output = %q, want dry-run selection of #1", out)
	}
}

func TestCLI_Queue(t *testing.T) {
	cfg := writeConfig(t, writeFakeGH(t, backlog()))

	out, err := run(t, cfg, "queue")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ISSUE", "#1", "#3", "#4", "blocked", "3 open, 2 eligible"} {
		if !strings.Contains(out, want) {
			t.Errorf("queue output missing %q:\n%s", want, out)
		}
	}
}

func TestCLI_PerfAndJudge(t *testing.T) {
	cfg := writeConfig(t, "gh")

	for i := 0; i < 5; i++ {
		if _, err := run(t, cfg, "perf", "log", "loki", "false", "empty_run", "nothing to do"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := run(t, cfg, "perf", "log", "thor", "true", "", "merged #12"); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, cfg, "judge", "--dry-run", "--output", "json")
	if err != nil {
		t.Fatal(err)
	}
	var res struct {
		Judgments []struct {
			Agent    string `json:"agent"`
			Verdict  string `json:"verdict"`
			Enforced bool   `json:"enforced"`
		} `json:"judgments"`
		DryRun bool `json:"dry_run"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("parse %q: %v", out, err)
	}
	verdicts := map[string]string{}
	for _, j := range res.Judgments {
		verdicts[j.Agent] = j.Verdict
		if j.Enforced {
			t.Errorf("%s enforced during dry run", j.Agent)
		}
	}
	if verdicts["loki"] != "DISABLE" || verdicts["thor"] != "PASS" {
		t.Errorf("verdicts = %v, want loki DISABLE and thor PASS", verdicts)
	}

	if _, err := run(t, cfg, "judge"); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, cfg, "perf", "stats", "loki", "--output", "json")
	if err != nil {
		t.Fatal(err)
	}
	var loki struct {
		Status   string `json:"status"`
		Interval int    `json:"interval_minutes"`
	}
	if err := json.Unmarshal([]byte(out), &loki); err != nil {
		t.Fatalf("parse %q: %v", out, err)
	}
	if loki.Status != "disabled" || loki.Interval != 0 {
		t.Errorf("loki = %+v, want disabled at interval 0", loki)
	}

	if _, err := run(t, cfg, "perf", "enable", "loki"); err != nil {
		t.Fatal(err)
	}
	out, err = run(t, cfg, "perf", "stats")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "loki") || !strings.Contains(out, "active") {
		t.Errorf("stats after enable = %q, want loki active", out)
	}
}

func TestCLI_PerfImport(t *testing.T) {
	cfg := writeConfig(t, "gh")
	legacy := filepath.Join(t.TempDir(), "performance.json")
	doc := `{
  "agents": {
    "hulk": {"name": "Hulk", "total_runs": 10, "productive_runs": 5, "current_offense_streak": 3,
             "status": "active", "current_interval_minutes": 5, "timeout_count": 0,
             "offense_history": [{"type": "error_loop", "timestamp": "2026-03-01T10:00:00", "summary": "smash"}]}
  },
  "thresholds": {"min_productivity": 0.6}
}`
	if err := os.WriteFile(legacy, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := run(t, cfg, "perf", "import", legacy)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Imported 1 agents") {
		t.Errorf("import output = %q", out)
	}

	out, err = run(t, cfg, "report")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "agents:       1") || !strings.Contains(out, "productivity: 50.0%") {
		t.Errorf("report = %q, want one agent at 50%%", out)
	}
}

func TestCLI_PerfLog_InvalidArgs(t *testing.T) {
	cfg := writeConfig(t, "gh")
	if _, err := run(t, cfg, "perf", "log", "thor", "maybe"); err == nil {
		t.Error("perf log with a non-boolean should fail")
	}
	if _, err := run(t, cfg, "perf", "log", "thor", "false", "napping"); err == nil {
		t.Error("perf log with an unknown offense should fail")
	}
}
