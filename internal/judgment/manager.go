package judgment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/notify"
)

// Store is the slice of perfstore the manager reads and enforces through
type Store interface {
	ListAgents(ctx context.Context) ([]*domain.Agent, error)
	RecentOffenses(ctx context.Context, agentID string, n int) ([]domain.Offense, error)
	ResetStreak(ctx context.Context, agentID string) error
	ApplyTimeout(ctx context.Context, agentID string) (int, error)
	Disable(ctx context.Context, agentID string) error
}

// Result is the outcome of one timeout pass
type Result struct {
	Analyses  []Analysis
	Judgments []domain.Judgment
	Report    domain.BalanceReport
}

// Acted returns the judgments that were not PASS
func (r Result) Acted() []domain.Judgment {
	var out []domain.Judgment
	for _, j := range r.Judgments {
		if j.Verdict != domain.VerdictPass {
			out = append(out, j)
		}
	}
	return out
}

// Manager runs timeout passes over every stored agent
type Manager struct {
	store      Store
	thresholds Thresholds
	notifier   notify.Notifier
	logger     *slog.Logger
}

// NewManager creates a Manager. A nil notifier disables notifications.
func NewManager(store Store, t Thresholds, n notify.Notifier, logger *slog.Logger) *Manager {
	if n == nil {
		n = notify.NoopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, thresholds: t, notifier: n, logger: logger}
}

// Evaluate analyzes and judges every agent without enforcing anything
func (m *Manager) Evaluate(ctx context.Context) (Result, error) {
	agents, err := m.store.ListAgents(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load agents: %w", err)
	}

	var res Result
	for _, agent := range agents {
		recent, err := m.store.RecentOffenses(ctx, agent.ID, m.thresholds.Window)
		if err != nil {
			return Result{}, fmt.Errorf("load offenses: %w", err)
		}
		a := Analyze(agent, recent)
		verdict, reason := Judge(a, m.thresholds)
		res.Analyses = append(res.Analyses, a)
		res.Judgments = append(res.Judgments, domain.Judgment{
			Agent:        a.AgentID,
			Verdict:      verdict,
			Reason:       reason,
			Productivity: a.Ratio,
			Streak:       a.Streak,
		})
	}
	res.Report = Balance(res.Analyses, res.Judgments, m.thresholds)
	return res, nil
}

// Execute runs a full pass. Every non-PASS verdict is enforced unless
// dryRun is set; a failed enforcement is logged and the pass continues.
// The returned error joins all enforcement failures.
func (m *Manager) Execute(ctx context.Context, dryRun bool) (Result, error) {
	res, err := m.Evaluate(ctx)
	if err != nil {
		return Result{}, err
	}
	if dryRun {
		return res, nil
	}

	var errs []error
	for i := range res.Judgments {
		j := &res.Judgments[i]
		if j.Verdict == domain.VerdictPass {
			continue
		}
		if err := m.enforce(ctx, j); err != nil {
			m.logger.WarnContext(ctx, "enforcement failed", "agent", j.Agent, "verdict", j.Verdict, "error", err)
			errs = append(errs, err)
			continue
		}
		j.Enforced = true
		m.logger.InfoContext(ctx, "verdict enforced", "agent", j.Agent, "verdict", j.Verdict, "reason", j.Reason)
	}

	if len(res.Acted()) > 0 {
		m.send(ctx, notify.JudgmentNotification(res.Judgments))
	}
	m.send(ctx, notify.BalanceNotification(res.Report))

	return res, errors.Join(errs...)
}

func (m *Manager) enforce(ctx context.Context, j *domain.Judgment) error {
	switch j.Verdict {
	case domain.VerdictTimeout:
		interval, err := m.store.ApplyTimeout(ctx, j.Agent)
		if err != nil {
			return fmt.Errorf("timeout %s: %w", j.Agent, err)
		}
		m.logger.DebugContext(ctx, "interval doubled", "agent", j.Agent, "interval_minutes", interval)
	case domain.VerdictDisable:
		if err := m.store.Disable(ctx, j.Agent); err != nil {
			return fmt.Errorf("disable %s: %w", j.Agent, err)
		}
	case domain.VerdictMercy:
		if err := m.store.ResetStreak(ctx, j.Agent); err != nil {
			return fmt.Errorf("reset streak of %s: %w", j.Agent, err)
		}
	}
	return nil
}

func (m *Manager) send(ctx context.Context, n notify.Notification) {
	if err := m.notifier.Send(n); err != nil {
		m.logger.WarnContext(ctx, "notification failed", "title", n.Title, "error", err)
	}
}
