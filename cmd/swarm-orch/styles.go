package main

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/prbot"
	"github.com/hochfrequenz/swarm-orchestrator/internal/scheduler"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	goodStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("214"))

	badStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("196"))

	mutedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))
)

func styleVerdict(v domain.Verdict) string {
	switch v {
	case domain.VerdictPass:
		return goodStyle.Render(string(v))
	case domain.VerdictMercy:
		return warningStyle.Render(string(v))
	default:
		return badStyle.Render(string(v))
	}
}

func styleAgentStatus(s domain.AgentStatus) string {
	if s == domain.AgentDisabled {
		return badStyle.Render(string(s))
	}
	return goodStyle.Render(string(s))
}

func styleReason(r scheduler.SkipReason) string {
	switch r {
	case scheduler.Eligible:
		return goodStyle.Render("eligible")
	case scheduler.SkipBlocked:
		return mutedStyle.Render(string(r))
	case scheduler.SkipOpenDependency:
		return warningStyle.Render(string(r))
	default:
		return badStyle.Render(string(r))
	}
}

func styleOutcome(o prbot.Outcome) string {
	switch o {
	case prbot.OutcomeMerged:
		return goodStyle.Render(string(o))
	case prbot.OutcomeWaiting, prbot.OutcomeSkipped:
		return mutedStyle.Render(string(o))
	case prbot.OutcomeNeedsReview:
		return warningStyle.Render(string(o))
	default:
		return badStyle.Render(string(o))
	}
}
