package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/swarm-orchestrator/internal/audit"
	"github.com/hochfrequenz/swarm-orchestrator/internal/batch"
	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/issues"
	"github.com/hochfrequenz/swarm-orchestrator/internal/judgment"
	"github.com/hochfrequenz/swarm-orchestrator/internal/prbot"
	"github.com/hochfrequenz/swarm-orchestrator/internal/scheduler"
)

func TestParseRunArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    domain.Run
		wantErr bool
	}{
		{"productive", []string{"thor", "true"}, domain.Run{AgentID: "thor", Productive: true}, false},
		{"with offense and summary", []string{"loki", "false", "empty_run", "nothing to do"},
			domain.Run{AgentID: "loki", OffenseType: domain.OffenseEmptyRun, Summary: "nothing to do"}, false},
		{"empty offense", []string{"loki", "false", "", "idle"}, domain.Run{AgentID: "loki", Summary: "idle"}, false},
		{"uppercase offense", []string{"loki", "FALSE", "GHOST_RUN"}, domain.Run{AgentID: "loki", OffenseType: domain.OffenseGhostRun}, false},
		{"bad bool", []string{"thor", "maybe"}, domain.Run{}, true},
		{"unknown offense", []string{"thor", "false", "napping"}, domain.Run{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRunArgs(tt.args)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseRunArgs(%q) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseRunArgs(%q) mismatch (-want +got):\n%s", tt.args, diff)
			}
		})
	}
}

func TestCheckOutput(t *testing.T) {
	for _, f := range []string{"text", "json", "yaml"} {
		if err := checkOutput(f); err != nil {
			t.Errorf("checkOutput(%q) = %v, want nil", f, err)
		}
	}
	if err := checkOutput("xml"); err == nil {
		t.Error("checkOutput(xml) = nil, want error")
	}
}

func sampleItem() domain.WorkItem {
	return domain.WorkItem{
		ID:        42,
		Title:     "Add retry to webhook sender",
		URL:       "https://github.com/acme/widgets/issues/42",
		Priority:  domain.PriorityHigh,
		DependsOn: []int{7},
		Labels:    []string{"high", "d7"},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestPrintWorkItem_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := printWorkItem(&buf, outputText, "Next", sampleItem(), nil); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Next", "#42", "[high]", "Add retry to webhook sender", "depends on: [7]"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintWorkItem_NoWork(t *testing.T) {
	err := issues.ErrNoWork

	var text bytes.Buffer
	if err := printWorkItem(&text, outputText, "Next", domain.WorkItem{}, err); err != nil {
		t.Fatalf("printWorkItem() error = %v, want nil when out of work", err)
	}
	if !strings.Contains(text.String(), "No claimable work") {
		t.Errorf("text output = %q, want no-work message", text.String())
	}

	var js bytes.Buffer
	if err := printWorkItem(&js, outputJSON, "Next", domain.WorkItem{}, err); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(js.String()); got != "null" {
		t.Errorf("json output = %q, want null", got)
	}
}

func TestPrintWorkItem_PropagatesOtherErrors(t *testing.T) {
	boom := errors.New("gh: rate limited")
	if err := printWorkItem(&bytes.Buffer{}, outputText, "Next", domain.WorkItem{}, boom); !errors.Is(err, boom) {
		t.Errorf("printWorkItem() error = %v, want %v", err, boom)
	}
}

func TestPrintWorkItem_Structured(t *testing.T) {
	want := itemView{
		Issue:        42,
		Title:        "Add retry to webhook sender",
		URL:          "https://github.com/acme/widgets/issues/42",
		Priority:     "high",
		Dependencies: []int{7},
		Labels:       []string{"high", "d7"},
		CreatedAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	var js bytes.Buffer
	if err := printWorkItem(&js, outputJSON, "Next", sampleItem(), nil); err != nil {
		t.Fatal(err)
	}
	var fromJSON itemView
	if err := json.Unmarshal(js.Bytes(), &fromJSON); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, fromJSON); diff != "" {
		t.Errorf("json mismatch (-want +got):\n%s", diff)
	}

	var ym bytes.Buffer
	if err := printWorkItem(&ym, outputYAML, "Next", sampleItem(), nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ym.String(), "issue: 42") || !strings.Contains(ym.String(), "priority: high") {
		t.Errorf("yaml output missing fields:\n%s", ym.String())
	}
	var fromYAML itemView
	if err := yaml.Unmarshal(ym.Bytes(), &fromYAML); err != nil {
		t.Fatal(err)
	}
	if fromYAML.Issue != 42 || len(fromYAML.Dependencies) != 1 {
		t.Errorf("yaml decoded = %+v, want issue 42 with one dependency", fromYAML)
	}
}

func TestViewItem_EmptySlices(t *testing.T) {
	v := viewItem(domain.WorkItem{ID: 1})
	if v.Dependencies == nil || v.Labels == nil {
		t.Errorf("viewItem() = %+v, want empty rather than nil slices", v)
	}
	if v.Priority != "none" {
		t.Errorf("Priority = %q, want none", v.Priority)
	}
}

func TestPrintQueue(t *testing.T) {
	decisions := []scheduler.Decision{
		{Item: domain.WorkItem{ID: 3, Title: "Ready", Priority: domain.PriorityCritical}},
		{Item: domain.WorkItem{ID: 5, Title: "Waiting", Priority: domain.PriorityHigh}, Reason: scheduler.SkipOpenDependency, Dependency: 3},
		{Item: domain.WorkItem{ID: 8, Title: "Taken"}, Reason: scheduler.SkipBlocked},
	}
	var buf bytes.Buffer
	printQueue(&buf, decisions)
	out := buf.String()

	for _, want := range []string{"ISSUE", "#3", "eligible", "open-dependency", "#5", "blocked", "3 open, 1 eligible"} {
		if !strings.Contains(out, want) {
			t.Errorf("queue output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintQueue_Empty(t *testing.T) {
	var buf bytes.Buffer
	printQueue(&buf, nil)
	if !strings.Contains(buf.String(), "No open issues") {
		t.Errorf("output = %q, want empty queue message", buf.String())
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"this is far too long", 10, "this is..."},
		{"ümlautsüberall", 8, "ümlau..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}

func TestPrintBalance(t *testing.T) {
	var buf bytes.Buffer
	printBalance(&buf, domain.BalanceReport{TotalAgents: 4, ProductiveAgents: 1, TimedOut: 1, Disabled: 1, SwarmProductivity: 0.5})
	for _, want := range []string{"agents:       4", "disabled:     1", "productivity: 50.0%"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("balance output missing %q:\n%s", want, buf.String())
		}
	}
}

type fakeClaimer struct {
	item domain.WorkItem
	err  error
}

func (f fakeClaimer) ClaimNext(context.Context) (domain.WorkItem, error) { return f.item, f.err }

type fakeReviewer struct {
	report *prbot.Report
	err    error
}

func (f fakeReviewer) Review(_ context.Context, opts prbot.Options) (*prbot.Report, error) {
	if opts.DryRun {
		return nil, errors.New("scheduled merge ran as dry run")
	}
	return f.report, f.err
}

type fakeAuditor struct {
	report  *audit.Report
	summary audit.FixSummary
	fixErr  error
	fixed   bool
}

func (f *fakeAuditor) Run(context.Context) (*audit.Report, error) { return f.report, nil }

func (f *fakeAuditor) Fix(context.Context, *audit.Report) (audit.FixSummary, error) {
	f.fixed = true
	return f.summary, f.fixErr
}

type fakeJudge struct {
	res    judgment.Result
	dryRun bool
}

func (f *fakeJudge) Execute(_ context.Context, dryRun bool) (judgment.Result, error) {
	f.dryRun = dryRun
	return f.res, nil
}

func TestJobs_Claim(t *testing.T) {
	var claimedFor string
	tests := []struct {
		name    string
		claimer fakeClaimer
		want    batch.Outcome
		wantErr bool
	}{
		{"claimed", fakeClaimer{item: domain.WorkItem{ID: 9, Title: "Fix login"}},
			batch.Outcome{Productive: true, Summary: "claimed #9 Fix login"}, false},
		{"no work", fakeClaimer{err: issues.ErrNoWork}, batch.Outcome{Summary: "no claimable work"}, false},
		{"failure", fakeClaimer{err: errors.New("gh exited 1")}, batch.Outcome{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js := jobSet{claimerFor: func(agent string) workClaimer {
				claimedFor = agent
				return tt.claimer
			}}
			got, err := js.Map()[batch.CommandClaim](context.Background(), batch.Entry{Name: "scout", Agent: "black_widow"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("claim error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("claim = %+v, want %+v", got, tt.want)
			}
			if claimedFor != "black_widow" {
				t.Errorf("claimed for %q, want the scheduled agent", claimedFor)
			}
		})
	}
}

func TestJobs_Merge(t *testing.T) {
	report := &prbot.Report{
		Merged:  []prbot.Result{{Number: 1, Outcome: prbot.OutcomeMerged}},
		Blocked: []prbot.Result{{Number: 2, Outcome: prbot.OutcomeBlocked}},
	}
	js := jobSet{merger: fakeReviewer{report: report}}
	got, err := js.merge(context.Background(), batch.Entry{})
	if err != nil {
		t.Fatal(err)
	}
	want := batch.Outcome{Productive: true, Summary: "1 merged, 0 need review, 1 blocked of 2 PRs"}
	if got != want {
		t.Errorf("merge = %+v, want %+v", got, want)
	}

	js = jobSet{merger: fakeReviewer{report: &prbot.Report{}}}
	if got, _ := js.merge(context.Background(), batch.Entry{}); got.Productive {
		t.Error("merge with nothing merged reported productive")
	}
}

func TestJobs_Audit(t *testing.T) {
	clean := &fakeAuditor{report: &audit.Report{Total: 12}}
	got, err := jobSet{auditor: clean}.audit(context.Background(), batch.Entry{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Productive || clean.fixed {
		t.Errorf("clean audit = %+v fixed = %v, want empty run without fixes", got, clean.fixed)
	}

	dirty := &fakeAuditor{
		report:  &audit.Report{Total: 12, MissingPriority: []audit.IssueRef{{Issue: 4}}, SelfDependencies: []audit.IssueRef{{Issue: 6}}},
		summary: audit.FixSummary{Applied: []audit.FixAction{{Issue: 4}}, Failed: []audit.FixAction{{Issue: 6}}},
		fixErr:  errors.New("fix #6: forbidden"),
	}
	got, err = jobSet{auditor: dirty}.audit(context.Background(), batch.Entry{})
	if err != nil {
		t.Errorf("audit error = %v, want nil when some fixes applied", err)
	}
	want := batch.Outcome{Productive: true, Summary: "2 problems, 1 fixes applied, 1 failed"}
	if got != want {
		t.Errorf("audit = %+v, want %+v", got, want)
	}

	dirty.summary = audit.FixSummary{Failed: dirty.summary.Failed}
	if _, err := (jobSet{auditor: dirty}).audit(context.Background(), batch.Entry{}); err == nil {
		t.Error("audit error = nil, want error when every fix failed")
	}
}

func TestJobs_Judge(t *testing.T) {
	j := &fakeJudge{res: judgment.Result{
		Judgments: []domain.Judgment{
			{Agent: "thor", Verdict: domain.VerdictPass},
			{Agent: "loki", Verdict: domain.VerdictDisable},
		},
		Report: domain.BalanceReport{SwarmProductivity: 0.25},
	}}
	got, err := jobSet{judge: j}.judgeAll(context.Background(), batch.Entry{})
	if err != nil {
		t.Fatal(err)
	}
	if j.dryRun {
		t.Error("scheduled judge ran as dry run")
	}
	want := batch.Outcome{Productive: true, Summary: "judged 2 agents, 1 acted upon, swarm productivity 25.0%"}
	if got != want {
		t.Errorf("judge = %+v, want %+v", got, want)
	}
}

func TestJobs_CoverEveryCommand(t *testing.T) {
	m := jobSet{}.Map()
	for _, c := range batch.Commands {
		if m[c] == nil {
			t.Errorf("no job for command %q", c)
		}
	}
}
