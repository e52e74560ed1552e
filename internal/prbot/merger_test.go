package prbot

import (
	"context"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hochfrequenz/swarm-orchestrator/internal/github"
	"github.com/hochfrequenz/swarm-orchestrator/internal/github/ghtest"
	"github.com/hochfrequenz/swarm-orchestrator/internal/issues"
	"github.com/hochfrequenz/swarm-orchestrator/internal/labels"
	"github.com/hochfrequenz/swarm-orchestrator/internal/notify"
)

const routineDiff = "diff --git a/utils/format.go b/utils/format.go\n+func FormatDate() {}\n"

var passing = []ghtest.Check{{Name: "build", Status: "COMPLETED", Conclusion: "SUCCESS"}}

type recorder struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recorder) Send(n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func newTestMerger(tr *ghtest.Tracker, n notify.Notifier) (*Merger, *ghtest.Runner) {
	r := tr.Runner()
	gh := github.NewClient(r)
	src := issues.NewSource(gh, labels.New("wip", "d", labels.SourceLabels), 0, nil)
	return NewMerger(gh, src, n, "needs-review", 0, nil), r
}

func numbers(rs []Result) []int {
	var out []int
	for _, r := range rs {
		out = append(out, r.Number)
	}
	return out
}

func TestMerger_Review(t *testing.T) {
	tr := ghtest.NewTracker().
		AddIssue(1, "Base", "", "", "CLOSED").
		AddIssue(2, "Open dep", "", "", "OPEN").
		AddIssue(10, "Routine", "", "", "OPEN", "HIGH", "wip", "d1").
		AddIssue(11, "Blocked", "", "", "OPEN", "CRITICAL", "d2").
		AddIssue(12, "Red CI", "", "", "OPEN", "LOW").
		AddIssue(13, "Security", "", "", "OPEN", "MEDIUM").
		AddIssue(14, "Flagged", "", "", "OPEN", "LOW", "needs-review").
		AddPR(ghtest.PR{Number: 20, Title: "Format dates", Body: "Fixes #10", Checks: passing, Diff: routineDiff}).
		AddPR(ghtest.PR{Number: 21, Title: "Blocked work", Body: "Closes #11", Checks: passing, Diff: routineDiff}).
		AddPR(ghtest.PR{Number: 22, Title: "Red", Body: "Fixes #12",
			Checks: []ghtest.Check{{Name: "build", Status: "COMPLETED", Conclusion: "FAILURE"}}}).
		AddPR(ghtest.PR{Number: 23, Title: "Login", Body: "Fixes #13", Checks: passing,
			Diff: "diff --git a/auth/login.go b/auth/login.go\n+password := x\n"}).
		AddPR(ghtest.PR{Number: 24, Title: "Flag", Body: "Fixes #14", Checks: passing, Diff: routineDiff}).
		AddPR(ghtest.PR{Number: 25, Title: "Chore", Body: "no reference"}).
		AddPR(ghtest.PR{Number: 26, Title: "Ghost", Body: "Fixes #404"})

	rec := &recorder{}
	m, _ := newTestMerger(tr, rec)

	report, err := m.Review(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}

	got := map[string][]int{
		"merged":       numbers(report.Merged),
		"blocked":      numbers(report.Blocked),
		"waiting":      numbers(report.Waiting),
		"needs-review": numbers(report.NeedsReview),
		"skipped":      numbers(report.Skipped),
	}
	want := map[string][]int{
		"merged":       {20},
		"blocked":      {21},
		"waiting":      {22},
		"needs-review": {23, 24},
		"skipped":      {25, 26},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Review() mismatch (-want +got):\n%s", diff)
	}
	if report.Total() != 7 {
		t.Errorf("Total() = %d, want 7", report.Total())
	}

	if got := tr.PR(20).State; got != "MERGED" {
		t.Errorf("PR #20 state = %s, want MERGED", got)
	}
	if got := tr.IssueState(10); got != "CLOSED" {
		t.Errorf("issue #10 state = %s, want CLOSED after merge", got)
	}
	if slices.Contains(tr.IssueLabels(10), "wip") {
		t.Error("wip label should be removed from the merged issue")
	}

	if c := tr.PR(21).Comments; len(c) != 1 || !strings.Contains(c[0], "#2") {
		t.Errorf("PR #21 comments = %v, want blocked comment naming #2", c)
	}
	if got := tr.PR(21).Labels; !slices.Contains(got, "blocked-by-2") {
		t.Errorf("PR #21 labels = %v, want blocked-by-2", got)
	}
	if got := tr.PR(23).Labels; !slices.Contains(got, HumanReviewLabel) || !slices.Contains(got, "security") {
		t.Errorf("PR #23 labels = %v", got)
	}
	if report.NeedsReview[1].Reason != "issue #14 is labeled needs-review" {
		t.Errorf("PR #24 reason = %q", report.NeedsReview[1].Reason)
	}

	// merged + blocked + two needs-review
	if len(rec.sent) != 4 {
		t.Errorf("notifications = %d, want 4", len(rec.sent))
	}
}

func TestMerger_Review_PriorityOrder(t *testing.T) {
	tr := ghtest.NewTracker().
		AddIssue(1, "low", "", "", "OPEN", "LOW").
		AddIssue(2, "critical", "", "", "OPEN", "CRITICAL").
		AddIssue(3, "high old", "", "", "OPEN", "HIGH").
		AddPR(ghtest.PR{Number: 30, Body: "Fixes #1", Checks: passing, Diff: routineDiff, CreatedAt: "2025-01-01T00:00:00Z"}).
		AddPR(ghtest.PR{Number: 31, Body: "Fixes #2", Checks: passing, Diff: routineDiff, CreatedAt: "2025-01-03T00:00:00Z"}).
		AddPR(ghtest.PR{Number: 32, Body: "Fixes #3", Checks: passing, Diff: routineDiff, CreatedAt: "2025-01-02T00:00:00Z"})

	m, _ := newTestMerger(tr, nil)
	report, err := m.Review(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if diff := cmp.Diff([]int{31, 32, 30}, numbers(report.Merged)); diff != "" {
		t.Errorf("merge order mismatch (-want +got):\n%s", diff)
	}
}

func TestMerger_Review_DryRun(t *testing.T) {
	tr := ghtest.NewTracker().
		AddIssue(2, "Open dep", "", "", "OPEN").
		AddIssue(10, "Routine", "", "", "OPEN", "HIGH").
		AddIssue(11, "Blocked", "", "", "OPEN", "HIGH", "d2").
		AddPR(ghtest.PR{Number: 20, Body: "Fixes #10", Checks: passing, Diff: routineDiff}).
		AddPR(ghtest.PR{Number: 21, Body: "Fixes #11", Checks: passing, Diff: routineDiff})

	rec := &recorder{}
	m, r := newTestMerger(tr, rec)
	report, err := m.Review(context.Background(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if len(report.Merged) != 1 || report.Merged[0].Reason != "would merge" {
		t.Errorf("Merged = %+v", report.Merged)
	}
	if len(report.Blocked) != 1 {
		t.Errorf("Blocked = %+v", report.Blocked)
	}
	for _, call := range r.Calls() {
		switch strings.Join(call[:2], " ") {
		case "pr merge", "pr comment", "pr edit", "issue edit", "issue close", "issue comment":
			t.Errorf("dry run performed write %v", call)
		}
	}
	if len(rec.sent) != 0 {
		t.Errorf("dry run sent %d notifications", len(rec.sent))
	}
}

func TestMerger_Review_MergeFailure(t *testing.T) {
	tr := ghtest.NewTracker().
		AddIssue(10, "Routine", "", "", "OPEN", "HIGH").
		AddPR(ghtest.PR{Number: 20, Body: "Fixes #10", Checks: passing, Diff: routineDiff, FailMerge: true})

	m, _ := newTestMerger(tr, nil)
	report, err := m.Review(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if len(report.Blocked) != 1 || report.Blocked[0].Reason != "merge failed" {
		t.Errorf("Blocked = %+v", report.Blocked)
	}
	if got := tr.IssueState(10); got != "OPEN" {
		t.Errorf("issue state = %s, want OPEN after failed merge", got)
	}
}

func TestMerger_Review_UnverifiedDependencyBlocks(t *testing.T) {
	tr := ghtest.NewTracker().
		AddIssue(5, "Flaky", "", "", "CLOSED").
		AddIssue(10, "Routine", "", "", "OPEN", "HIGH", "d5").
		AddPR(ghtest.PR{Number: 20, Body: "Fixes #10", Checks: passing, Diff: routineDiff})
	tr.FailState[5] = true

	m, _ := newTestMerger(tr, nil)
	report, err := m.Review(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Review() error = %v", err)
	}
	if len(report.Blocked) != 1 || report.Blocked[0].Reason != "could not verify dependency #5" {
		t.Errorf("Blocked = %+v, want PR #20 blocked", report.Blocked)
	}
	if c := tr.PR(20).Comments; len(c) != 0 {
		t.Errorf("PR #20 comments = %v, want none for a failed lookup", c)
	}
}

func TestMerger_Review_BlockedAnnouncedOncePerDependency(t *testing.T) {
	tr := ghtest.NewTracker().
		AddIssue(2, "First dep", "", "", "OPEN").
		AddIssue(3, "Second dep", "", "", "OPEN").
		AddIssue(11, "Blocked", "", "", "OPEN", "HIGH", "wip", "d2", "d3").
		AddPR(ghtest.PR{Number: 21, Body: "Fixes #11", Checks: passing, Diff: routineDiff})

	rec := &recorder{}
	m, _ := newTestMerger(tr, rec)
	review := func() *Report {
		t.Helper()
		report, err := m.Review(context.Background(), Options{})
		if err != nil {
			t.Fatalf("Review() error = %v", err)
		}
		return report
	}

	for i := 0; i < 3; i++ {
		if r := review(); len(r.Blocked) != 1 || r.Blocked[0].Reason != "blocked by open dependency #2" {
			t.Fatalf("pass %d: Blocked = %+v", i, r.Blocked)
		}
	}
	if c := tr.PR(21).Comments; len(c) != 1 {
		t.Errorf("comments after repeated passes = %v, want 1", c)
	}
	if len(rec.sent) != 1 {
		t.Errorf("notifications after repeated passes = %d, want 1", len(rec.sent))
	}

	tr.AddIssue(2, "First dep", "", "", "CLOSED")
	if r := review(); len(r.Blocked) != 1 || r.Blocked[0].Reason != "blocked by open dependency #3" {
		t.Fatalf("Blocked = %+v, want #3 to block next", r.Blocked)
	}
	if c := tr.PR(21).Comments; len(c) != 2 || !strings.Contains(c[1], "#3") {
		t.Errorf("comments = %v, want a second comment naming #3", c)
	}
	if diff := cmp.Diff([]string{"blocked-by-3"}, tr.PR(21).Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}

	tr.AddIssue(3, "Second dep", "", "", "CLOSED")
	if r := review(); len(r.Merged) != 1 {
		t.Fatalf("Merged = %+v, want PR #21 merged once unblocked", r.Merged)
	}
	if got := tr.PR(21).Labels; len(got) != 0 {
		t.Errorf("labels = %v, want blocked markers cleared", got)
	}
	// two blocked announcements and the merge
	if len(rec.sent) != 3 {
		t.Errorf("notifications = %d, want 3", len(rec.sent))
	}
}
