// Package prbot reviews open pull requests and merges the ones whose linked
// issue is unblocked, whose CI passes and whose diff is routine.
package prbot

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/github"
	"github.com/hochfrequenz/swarm-orchestrator/internal/issues"
	"github.com/hochfrequenz/swarm-orchestrator/internal/labels"
	"github.com/hochfrequenz/swarm-orchestrator/internal/notify"
	"github.com/hochfrequenz/swarm-orchestrator/internal/scheduler"
)

const (
	// DefaultPRLimit caps how many open PRs one pass reviews
	DefaultPRLimit = 50
	// enrichLimit bounds concurrent gh lookups while enriching PRs
	enrichLimit = 4
	// BlockedLabelPrefix marks a PR that was told which dependency blocks
	// it, e.g. blocked-by-12
	BlockedLabelPrefix = "blocked-by-"
)

// Outcome is what a review pass decided for one PR
type Outcome string

const (
	OutcomeMerged      Outcome = "merged"
	OutcomeBlocked     Outcome = "blocked"
	OutcomeWaiting     Outcome = "waiting"
	OutcomeNeedsReview Outcome = "needs-review"
	OutcomeSkipped     Outcome = "skipped"
)

// Result is the decision for one PR
type Result struct {
	PR       domain.PullRequest `json:"-" yaml:"-"`
	Number   int                `json:"pr" yaml:"pr"`
	Issue    int                `json:"issue,omitempty" yaml:"issue,omitempty"`
	Priority domain.PriorityTag `json:"priority,omitempty" yaml:"priority,omitempty"`
	Outcome  Outcome            `json:"outcome" yaml:"outcome"`
	Reason   string             `json:"reason,omitempty" yaml:"reason,omitempty"`
	Category Category           `json:"category,omitempty" yaml:"category,omitempty"`
}

// Report groups the results of one pass
type Report struct {
	Merged      []Result `json:"merged" yaml:"merged"`
	Blocked     []Result `json:"blocked" yaml:"blocked"`
	Waiting     []Result `json:"waiting" yaml:"waiting"`
	NeedsReview []Result `json:"needs_review" yaml:"needs_review"`
	Skipped     []Result `json:"skipped" yaml:"skipped"`
}

// Total returns the number of PRs looked at
func (r *Report) Total() int {
	return len(r.Merged) + len(r.Blocked) + len(r.Waiting) + len(r.NeedsReview) + len(r.Skipped)
}

func (r *Report) add(res Result) {
	switch res.Outcome {
	case OutcomeMerged:
		r.Merged = append(r.Merged, res)
	case OutcomeBlocked:
		r.Blocked = append(r.Blocked, res)
	case OutcomeWaiting:
		r.Waiting = append(r.Waiting, res)
	case OutcomeNeedsReview:
		r.NeedsReview = append(r.NeedsReview, res)
	default:
		r.Skipped = append(r.Skipped, res)
	}
}

// Options controls one review pass
type Options struct {
	DryRun bool
}

// Merger runs PR review passes
type Merger struct {
	gh          *github.Client
	source      *issues.Source
	closer      *issues.Closer
	notifier    notify.Notifier
	reviewLabel string
	limit       int
	sched       *scheduler.Scheduler
	logger      *slog.Logger
}

// NewMerger creates a Merger. reviewLabel is the issue label that forces
// human review regardless of the diff.
func NewMerger(gh *github.Client, source *issues.Source, notifier notify.Notifier, reviewLabel string, limit int, logger *slog.Logger) *Merger {
	if notifier == nil {
		notifier = notify.NoopNotifier{}
	}
	if limit <= 0 {
		limit = DefaultPRLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		gh:          gh,
		source:      source,
		closer:      issues.NewCloser(gh, source),
		notifier:    notifier,
		reviewLabel: reviewLabel,
		limit:       limit,
		sched:       scheduler.New(logger),
		logger:      logger,
	}
}

// candidate is a PR enriched with its linked issue and checks
type candidate struct {
	pr     domain.PullRequest
	issue  domain.WorkItem
	linked bool
	err    error
}

// Review runs one pass over the open PRs, highest issue priority first
func (m *Merger) Review(ctx context.Context, opts Options) (*Report, error) {
	prs, err := m.gh.ListOpenPRs(ctx, m.limit)
	if err != nil {
		return nil, err
	}

	cands, err := m.enrich(ctx, prs)
	if err != nil {
		return nil, err
	}

	report := &Report{}
	byNumber := make(map[int]candidate, len(cands))
	var ranked []domain.WorkItem
	for _, c := range cands {
		switch {
		case !c.linked:
			report.add(Result{PR: c.pr, Number: c.pr.Number, Outcome: OutcomeSkipped, Reason: "no linked issue"})
			continue
		case c.err != nil:
			m.logger.WarnContext(ctx, "could not fetch linked issue", "pr", c.pr.Number, "issue", c.issue.ID, "error", c.err)
			report.add(Result{PR: c.pr, Number: c.pr.Number, Issue: c.issue.ID, Outcome: OutcomeSkipped,
				Reason: fmt.Sprintf("could not fetch issue #%d", c.issue.ID)})
			continue
		}
		byNumber[c.pr.Number] = c
		ranked = append(ranked, domain.WorkItem{ID: c.pr.Number, Priority: c.issue.Priority, CreatedAt: c.pr.CreatedAt})
	}

	deps := m.sched.NewPass(m.source.IsClosed)
	for _, w := range scheduler.Order(ranked) {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.add(m.process(ctx, byNumber[w.ID], deps, opts))
	}

	m.logger.InfoContext(ctx, "review pass finished",
		"merged", len(report.Merged), "blocked", len(report.Blocked), "waiting", len(report.Waiting),
		"needs_review", len(report.NeedsReview), "skipped", len(report.Skipped), "dry_run", opts.DryRun)
	return report, nil
}

func (m *Merger) enrich(ctx context.Context, prs []domain.PullRequest) ([]candidate, error) {
	cands := make([]candidate, len(prs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichLimit)

	for i, pr := range prs {
		g.Go(func() error {
			c := candidate{pr: pr}
			num, ok := labels.LinkedIssue(pr.Title, pr.Body)
			if !ok {
				cands[i] = c
				return nil
			}
			c.linked = true
			c.issue.ID = num

			item, err := m.source.Item(gctx, num)
			if err != nil {
				c.err = err
				cands[i] = c
				return nil
			}
			c.issue = item

			checks, err := m.gh.PRChecks(gctx, pr.Number)
			if err != nil {
				c.err = err
				cands[i] = c
				return nil
			}
			c.pr.Checks = checks
			cands[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cands, ctx.Err()
}

func (m *Merger) process(ctx context.Context, c candidate, deps *scheduler.Pass, opts Options) Result {
	res := Result{PR: c.pr, Number: c.pr.Number, Issue: c.issue.ID, Priority: c.issue.Priority}
	log := m.logger.With("pr", c.pr.Number, "issue", c.issue.ID)

	// the linked issue is normally wip while its PR is open
	item := c.issue
	item.Blocked = false
	if d := deps.Evaluate(ctx, item); !d.Eligible() {
		res.Outcome = OutcomeBlocked
		switch d.Reason {
		case scheduler.SkipOpenDependency:
			res.Reason = fmt.Sprintf("blocked by open dependency #%d", d.Dependency)
			log.InfoContext(ctx, "pr blocked", "dependency", d.Dependency)
			if !opts.DryRun {
				m.announceBlocked(ctx, c.pr, d.Dependency, res.Reason)
			}
		case scheduler.SkipSelfDependency:
			res.Reason = fmt.Sprintf("issue #%d depends on itself", c.issue.ID)
		default:
			res.Reason = fmt.Sprintf("could not verify dependency #%d", d.Dependency)
		}
		return res
	}
	if stale := blockedMarkers(c.pr.Labels); len(stale) > 0 && !opts.DryRun {
		if err := m.gh.EditPRLabels(ctx, c.pr.Number, nil, stale); err != nil {
			log.WarnContext(ctx, "could not clear blocked labels", "labels", stale, "error", err)
		}
	}

	switch c.pr.CIStatus() {
	case domain.CIFailing:
		res.Outcome, res.Reason = OutcomeWaiting, "CI failed"
		return res
	case domain.CIPending:
		res.Outcome, res.Reason = OutcomeWaiting, "CI pending"
		return res
	}

	diff, err := m.gh.PRDiff(ctx, c.pr.Number)
	if err != nil {
		log.WarnContext(ctx, "could not fetch diff", "error", err)
		res.Outcome, res.Reason = OutcomeSkipped, "could not fetch diff"
		return res
	}
	res.Category = AnalyzeDiff(diff)

	flagged := m.reviewLabel != "" && hasLabel(c.issue.Labels, m.reviewLabel)
	if !ShouldAutoMerge(res.Category, flagged) {
		res.Outcome = OutcomeNeedsReview
		res.Reason = fmt.Sprintf("%s changes", res.Category)
		if flagged {
			res.Reason = fmt.Sprintf("issue #%d is labeled %s", c.issue.ID, m.reviewLabel)
		}
		if !opts.DryRun {
			if err := m.gh.EditPRLabels(ctx, c.pr.Number, ReviewLabels(res.Category), nil); err != nil {
				log.WarnContext(ctx, "could not label pr", "error", err)
			}
			m.send(ctx, notify.PRNotification(notify.PRNeedsReview, c.pr, res.Reason))
		}
		return res
	}

	if opts.DryRun {
		res.Outcome, res.Reason = OutcomeMerged, "would merge"
		return res
	}

	if err := m.gh.MergePR(ctx, c.pr.Number); err != nil {
		log.WarnContext(ctx, "merge failed", "error", err)
		res.Outcome, res.Reason = OutcomeBlocked, "merge failed"
		return res
	}
	res.Outcome = OutcomeMerged
	res.Reason = fmt.Sprintf("closes #%d", c.issue.ID)
	log.InfoContext(ctx, "merged pr", "category", res.Category)

	if _, err := m.closer.CloseIfOpen(ctx, c.issue.ID, c.pr.Number, ExtractChangeSummary(diff), ChangedFiles(diff)); err != nil {
		log.WarnContext(ctx, "could not close linked issue", "error", err)
	}
	m.send(ctx, notify.PRNotification(notify.PRMerged, c.pr, res.Reason))
	return res
}

func (m *Merger) comment(ctx context.Context, pr int, body string) {
	if err := m.gh.CommentPR(ctx, pr, body); err != nil {
		m.logger.WarnContext(ctx, "could not comment on pr", "pr", pr, "error", err)
	}
}

func (m *Merger) send(ctx context.Context, n notify.Notification) {
	if err := m.notifier.Send(n); err != nil {
		m.logger.WarnContext(ctx, "notification failed", "title", n.Title, "error", err)
	}
}

// announceBlocked comments on and notifies about a PR blocked by dep, once
// per blocking dependency. The marker label records that it was done.
func (m *Merger) announceBlocked(ctx context.Context, pr domain.PullRequest, dep int, reason string) {
	marker := BlockedLabelPrefix + strconv.Itoa(dep)
	if hasLabel(pr.Labels, marker) {
		m.logger.DebugContext(ctx, "blocked pr already announced", "pr", pr.Number, "dependency", dep)
		return
	}
	var stale []string
	for _, l := range blockedMarkers(pr.Labels) {
		if l != marker {
			stale = append(stale, l)
		}
	}
	if err := m.gh.EditPRLabels(ctx, pr.Number, []string{marker}, stale); err != nil {
		m.logger.WarnContext(ctx, "could not mark blocked pr", "pr", pr.Number, "error", err)
	}
	m.comment(ctx, pr.Number, "⚠️ This PR is "+reason+".")
	m.send(ctx, notify.PRNotification(notify.PRBlocked, pr, reason))
}

func blockedMarkers(labels []string) []string {
	var out []string
	for _, l := range labels {
		if strings.HasPrefix(strings.ToLower(l), BlockedLabelPrefix) {
			out = append(out, l)
		}
	}
	return out
}

func hasLabel(labels []string, target string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, target) {
			return true
		}
	}
	return false
}
