package audit

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
)

// FixAction is the label edit applied to one issue
type FixAction struct {
	Issue  int      `json:"issue" yaml:"issue"`
	Add    []string `json:"add,omitempty" yaml:"add,omitempty"`
	Remove []string `json:"remove,omitempty" yaml:"remove,omitempty"`
	Error  string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// FixSummary lists the edits that succeeded and failed
type FixSummary struct {
	Applied []FixAction `json:"applied" yaml:"applied"`
	Failed  []FixAction `json:"failed" yaml:"failed"`
}

// Plan turns a report into one label edit per issue, ascending by issue
func Plan(r *Report) []FixAction {
	byIssue := make(map[int]*FixAction)
	get := func(n int) *FixAction {
		if a, ok := byIssue[n]; ok {
			return a
		}
		a := &FixAction{Issue: n}
		byIssue[n] = a
		return a
	}

	for _, mp := range r.MultiplePriority {
		a := get(mp.Issue)
		for _, l := range mp.Priorities {
			if l != mp.Keep && !slices.Contains(a.Remove, l) {
				a.Remove = append(a.Remove, l)
			}
		}
	}
	for _, ts := range r.MissingType {
		a := get(ts.Issue)
		if !slices.Contains(a.Add, ts.Label) {
			a.Add = append(a.Add, ts.Label)
		}
	}
	for _, bd := range r.BrokenDeps {
		if bd.Label == "" {
			continue
		}
		a := get(bd.Issue)
		if !slices.Contains(a.Remove, bd.Label) {
			a.Remove = append(a.Remove, bd.Label)
		}
	}

	actions := make([]FixAction, 0, len(byIssue))
	for _, a := range byIssue {
		if len(a.Add) > 0 || len(a.Remove) > 0 {
			actions = append(actions, *a)
		}
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i].Issue < actions[j].Issue })
	return actions
}

// Fix applies the planned edits. A failed edit is recorded and the rest
// still run; the returned error joins every failure.
func (a *Auditor) Fix(ctx context.Context, r *Report) (FixSummary, error) {
	var summary FixSummary
	var errs []error
	for _, act := range Plan(r) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := a.gh.EditLabels(ctx, act.Issue, act.Add, act.Remove); err != nil {
			act.Error = err.Error()
			summary.Failed = append(summary.Failed, act)
			errs = append(errs, fmt.Errorf("fix #%d: %w", act.Issue, err))
			a.logger.WarnContext(ctx, "fix failed", "issue", act.Issue, "error", err)
			continue
		}
		summary.Applied = append(summary.Applied, act)
		a.logger.InfoContext(ctx, "fixed labels", "issue", act.Issue, "add", act.Add, "remove", act.Remove)
	}
	return summary, errors.Join(errs...)
}
