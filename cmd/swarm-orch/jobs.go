package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/hochfrequenz/swarm-orchestrator/internal/audit"
	"github.com/hochfrequenz/swarm-orchestrator/internal/batch"
	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/issues"
	"github.com/hochfrequenz/swarm-orchestrator/internal/judgment"
	"github.com/hochfrequenz/swarm-orchestrator/internal/prbot"
)

type workClaimer interface {
	ClaimNext(ctx context.Context) (domain.WorkItem, error)
}

type prReviewer interface {
	Review(ctx context.Context, opts prbot.Options) (*prbot.Report, error)
}

type backlogAuditor interface {
	Run(ctx context.Context) (*audit.Report, error)
	Fix(ctx context.Context, r *audit.Report) (audit.FixSummary, error)
}

type timeoutJudge interface {
	Execute(ctx context.Context, dryRun bool) (judgment.Result, error)
}

// jobSet maps schedule commands onto the components that perform them.
// Claims are made in the scheduled agent's name.
type jobSet struct {
	claimerFor func(agent string) workClaimer
	merger     prReviewer
	auditor    backlogAuditor
	judge      timeoutJudge
}

func (j jobSet) Map() map[string]batch.Job {
	return map[string]batch.Job{
		batch.CommandClaim: j.claim,
		batch.CommandMerge: j.merge,
		batch.CommandAudit: j.audit,
		batch.CommandJudge: j.judgeAll,
	}
}

func (j jobSet) claim(ctx context.Context, e batch.Entry) (batch.Outcome, error) {
	item, err := j.claimerFor(e.Agent).ClaimNext(ctx)
	switch {
	case errors.Is(err, issues.ErrNoWork):
		return batch.Outcome{Summary: "no claimable work"}, nil
	case err != nil:
		return batch.Outcome{}, err
	}
	return batch.Outcome{Productive: true, Summary: fmt.Sprintf("claimed %s %s", item.Ref(), item.Title)}, nil
}

func (j jobSet) merge(ctx context.Context, e batch.Entry) (batch.Outcome, error) {
	r, err := j.merger.Review(ctx, prbot.Options{})
	if err != nil {
		return batch.Outcome{}, err
	}
	return batch.Outcome{
		Productive: len(r.Merged) > 0,
		Summary: fmt.Sprintf("%d merged, %d need review, %d blocked of %d PRs",
			len(r.Merged), len(r.NeedsReview), len(r.Blocked), r.Total()),
	}, nil
}

// audit applies fixes; a pass that finds nothing to repair is empty
func (j jobSet) audit(ctx context.Context, e batch.Entry) (batch.Outcome, error) {
	r, err := j.auditor.Run(ctx)
	if err != nil {
		return batch.Outcome{}, err
	}
	if r.Problems() == 0 {
		return batch.Outcome{Summary: fmt.Sprintf("%d issues, no problems", r.Total)}, nil
	}
	summary, err := j.auditor.Fix(ctx, r)
	out := batch.Outcome{
		Productive: len(summary.Applied) > 0,
		Summary:    fmt.Sprintf("%d problems, %d fixes applied, %d failed", r.Problems(), len(summary.Applied), len(summary.Failed)),
	}
	if err != nil && len(summary.Applied) == 0 {
		return out, err
	}
	return out, nil
}

func (j jobSet) judgeAll(ctx context.Context, e batch.Entry) (batch.Outcome, error) {
	res, err := j.judge.Execute(ctx, false)
	if err != nil {
		return batch.Outcome{}, err
	}
	acted := res.Acted()
	return batch.Outcome{
		Productive: len(acted) > 0,
		Summary: fmt.Sprintf("judged %d agents, %d acted upon, swarm productivity %.1f%%",
			len(res.Judgments), len(acted), res.Report.SwarmProductivity*100),
	}, nil
}

func (a *app) jobs() (jobSet, error) {
	judge, err := a.judge()
	if err != nil {
		return jobSet{}, err
	}
	return jobSet{
		claimerFor: func(agent string) workClaimer {
			claimer := issues.NewClaimer(a.gh, a.source, agent, a.cfg.GitHub.ClaimComment, a.logger)
			return issues.NewDispatcher(a.source, claimer, a.logger)
		},
		merger:  a.merger(),
		auditor: a.auditor(),
		judge:   judge,
	}, nil
}
