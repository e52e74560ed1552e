// Package audit checks the backlog for label problems that stall the
// scheduler and optionally repairs them.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/github"
	"github.com/hochfrequenz/swarm-orchestrator/internal/labels"
)

const lookupLimit = 8

// IssueRef identifies an issue in a report
type IssueRef struct {
	Issue int    `json:"issue" yaml:"issue"`
	Title string `json:"title" yaml:"title"`
}

// BrokenDependency is a dependency on an issue that does not exist
type BrokenDependency struct {
	IssueRef `yaml:",inline"`
	Missing  int    `json:"missing_dep" yaml:"missing_dep"`
	Label    string `json:"dep_label,omitempty" yaml:"dep_label,omitempty"` // empty when declared in the body
}

// MultiplePriority is an issue carrying more than one priority label
type MultiplePriority struct {
	IssueRef   `yaml:",inline"`
	Priorities []string `json:"priorities" yaml:"priorities"`
	Keep       string   `json:"keep" yaml:"keep"`
}

// TypeSuggestion is a type label suggested by the title
type TypeSuggestion struct {
	IssueRef `yaml:",inline"`
	Label    string `json:"suggested_type" yaml:"suggested_type"`
}

// Report is the result of one audit pass
type Report struct {
	Total            int                `json:"total" yaml:"total"`
	BrokenDeps       []BrokenDependency `json:"broken_deps" yaml:"broken_deps"`
	MissingPriority  []IssueRef         `json:"missing_priority" yaml:"missing_priority"`
	MultiplePriority []MultiplePriority `json:"multiple_priority" yaml:"multiple_priority"`
	MissingType      []TypeSuggestion   `json:"missing_type" yaml:"missing_type"`
	SelfDependencies []IssueRef         `json:"self_dependencies" yaml:"self_dependencies"`
	Cycles           []int              `json:"cycles" yaml:"cycles"`             // issues on a dependency cycle
	BehindCycle      []int              `json:"behind_cycle" yaml:"behind_cycle"` // open issues that wait on a cycle
}

// Problems returns the number of findings
func (r *Report) Problems() int {
	return len(r.BrokenDeps) + len(r.MissingPriority) + len(r.MultiplePriority) +
		len(r.MissingType) + len(r.SelfDependencies) + len(r.Cycles)
}

// Auditor runs backlog audits
type Auditor struct {
	gh     *github.Client
	codec  *labels.Codec
	limit  int
	logger *slog.Logger
}

// New creates an Auditor
func New(gh *github.Client, codec *labels.Codec, limit int, logger *slog.Logger) *Auditor {
	if limit <= 0 {
		limit = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{gh: gh, codec: codec, limit: limit, logger: logger}
}

type issueInfo struct {
	raw  github.Issue
	deps []int
}

// Run audits the open issues
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	raw, err := a.gh.ListOpenIssues(ctx, a.limit)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}

	infos := make([]issueInfo, len(raw))
	open := make(map[int]bool, len(raw))
	for i, is := range raw {
		infos[i] = issueInfo{raw: is, deps: a.codec.Dependencies(is.Labels, is.Body)}
		open[is.Number] = true
	}

	missing, err := a.missingIssues(ctx, infos, open)
	if err != nil {
		return nil, err
	}

	report := &Report{Total: len(raw)}
	for _, info := range infos {
		is := info.raw
		ref := IssueRef{Issue: is.Number, Title: is.Title}
		depLabels := a.codec.DependencyLabelNames(is.Labels)

		for _, dep := range info.deps {
			if dep == is.Number {
				continue
			}
			if missing[dep] {
				report.BrokenDeps = append(report.BrokenDeps, BrokenDependency{IssueRef: ref, Missing: dep, Label: depLabels[dep]})
			}
		}
		if slices.Contains(info.deps, is.Number) {
			report.SelfDependencies = append(report.SelfDependencies, ref)
		}

		switch prios := labels.PriorityLabels(is.Labels); {
		case len(prios) == 0:
			report.MissingPriority = append(report.MissingPriority, ref)
		case len(labels.PriorityTags(is.Labels)) > 1:
			report.MultiplePriority = append(report.MultiplePriority, MultiplePriority{
				IssueRef:   ref,
				Priorities: prios,
				Keep:       keepLabel(prios),
			})
		}

		if suggested := a.codec.SuggestType(is.Title, is.Labels); suggested != "" {
			report.MissingType = append(report.MissingType, TypeSuggestion{IssueRef: ref, Label: suggested})
		}
	}

	report.Cycles, report.BehindCycle = cycles(infos, open)

	a.logger.InfoContext(ctx, "audit finished",
		"issues", report.Total,
		"broken_deps", len(report.BrokenDeps),
		"missing_priority", len(report.MissingPriority),
		"multiple_priority", len(report.MultiplePriority),
		"missing_type", len(report.MissingType),
		"self_dependencies", len(report.SelfDependencies),
		"cycles", len(report.Cycles),
		"behind_cycle", len(report.BehindCycle))
	return report, nil
}

// missingIssues looks up every dependency that is not an open issue. Only a
// definite not-found counts as missing; other failures are logged.
func (a *Auditor) missingIssues(ctx context.Context, infos []issueInfo, open map[int]bool) (map[int]bool, error) {
	var ids []int
	seen := make(map[int]bool)
	for _, info := range infos {
		for _, dep := range info.deps {
			if !open[dep] && !seen[dep] {
				seen[dep] = true
				ids = append(ids, dep)
			}
		}
	}

	var mu sync.Mutex
	missing := make(map[int]bool)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(lookupLimit)
	for _, id := range ids {
		g.Go(func() error {
			_, err := a.gh.IssueState(gctx, id)
			switch {
			case err == nil:
			case errors.Is(err, github.ErrNotFound):
				mu.Lock()
				missing[id] = true
				mu.Unlock()
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				a.logger.WarnContext(gctx, "could not check dependency", "dependency", id, "error", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return missing, nil
}

// keepLabel picks the raw label of the highest-ranked priority
func keepLabel(prios []string) string {
	best := labels.ResolvePriority(prios)
	for _, l := range prios {
		if tag, _ := domain.ParsePriority(l); tag == best {
			return l
		}
	}
	return ""
}

// cycles runs Kahn's algorithm over dependencies between open issues. The
// nodes that never reach in-degree zero are split into those on a cycle and
// those that only wait on one. Both are ascending.
func cycles(infos []issueInfo, open map[int]bool) (onCycle, behind []int) {
	indegree := make(map[int]int, len(infos))
	dependents := make(map[int][]int)
	for _, info := range infos {
		n := info.raw.Number
		if _, ok := indegree[n]; !ok {
			indegree[n] = 0
		}
		for _, dep := range info.deps {
			if dep == n || !open[dep] {
				continue
			}
			indegree[n]++
			dependents[dep] = append(dependents[dep], n)
		}
	}

	var queue []int
	for n, d := range indegree {
		if d == 0 {
			queue = append(queue, n)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, m := range dependents[n] {
			indegree[m]--
			if indegree[m] == 0 {
				queue = append(queue, m)
			}
		}
		delete(indegree, n)
	}

	// every leftover node has a cycle upstream; it is on one only if it
	// can reach itself
	for n := range indegree {
		if reaches(n, n, dependents, indegree) {
			onCycle = append(onCycle, n)
		} else {
			behind = append(behind, n)
		}
	}
	sort.Ints(onCycle)
	sort.Ints(behind)
	return onCycle, behind
}

// reaches reports whether to is reachable from from via at least one edge,
// staying inside the nodes of within
func reaches(from, to int, edges map[int][]int, within map[int]int) bool {
	seen := map[int]bool{}
	stack := append([]int(nil), edges[from]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if _, ok := within[n]; !ok || seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, edges[n]...)
	}
	return false
}
