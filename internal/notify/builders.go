package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
)

const balancedFooter = "Perfectly balanced, as all things should be."

// FromWebhooks builds the configured sinks. With no webhooks it returns a
// NoopNotifier.
func FromWebhooks(discordURL, slackURL, username string) Notifier {
	var sinks []Notifier
	if discordURL != "" {
		sinks = append(sinks, NewDiscordNotifier(discordURL, username))
	}
	if slackURL != "" {
		sinks = append(sinks, NewSlackNotifier(slackURL))
	}
	switch len(sinks) {
	case 0:
		return NoopNotifier{}
	case 1:
		return sinks[0]
	default:
		return NewMultiNotifier(sinks...)
	}
}

func verdictEmoji(v domain.Verdict) string {
	switch v {
	case domain.VerdictTimeout:
		return "⏱️"
	case domain.VerdictDisable:
		return "❌"
	case domain.VerdictMercy:
		return "🛡️"
	default:
		return "✅"
	}
}

// JudgmentNotification summarizes the non-PASS verdicts of a timeout pass
func JudgmentNotification(judgments []domain.Judgment) Notification {
	var acted []domain.Judgment
	for _, j := range judgments {
		if j.Verdict != domain.VerdictPass {
			acted = append(acted, j)
		}
	}

	n := Notification{Title: "⚖️ Timeout judgment", Type: NotifyInfo, Footer: balancedFooter}
	if len(acted) == 0 {
		n.Message = "All agents performing within acceptable parameters."
		n.Type = NotifySuccess
		return n
	}

	var lines []string
	for _, j := range acted {
		lines = append(lines, fmt.Sprintf("%s **%s** %s: %s", verdictEmoji(j.Verdict), j.Agent, j.Verdict, j.Reason))
		n.Fields = append(n.Fields, Field{
			Name:   fmt.Sprintf("%s %s", j.Agent, j.Verdict),
			Value:  fmt.Sprintf("productivity %.0f%%, streak %d", j.Productivity*100, j.Streak),
			Inline: true,
		})
		if j.Verdict == domain.VerdictDisable {
			n.Type = NotifyError
		} else if j.Verdict == domain.VerdictTimeout && n.Type != NotifyError {
			n.Type = NotifyWarning
		}
	}
	n.Message = strings.Join(lines, "\n")
	return n
}

// BalanceNotification reports swarm health
func BalanceNotification(r domain.BalanceReport) Notification {
	return Notification{
		Title:  "📈 Swarm balance report",
		Type:   NotifyInfo,
		Footer: balancedFooter,
		Fields: []Field{
			{Name: "Total Agents", Value: strconv.Itoa(r.TotalAgents), Inline: true},
			{Name: "Productive Agents", Value: strconv.Itoa(r.ProductiveAgents), Inline: true},
			{Name: "Timed Out", Value: strconv.Itoa(r.TimedOut), Inline: true},
			{Name: "Disabled", Value: strconv.Itoa(r.Disabled), Inline: true},
			{Name: "Overall Productivity", Value: fmt.Sprintf("%.1f%%", r.SwarmProductivity*100), Inline: true},
		},
	}
}

// RunNotification reports one finished agent run
func RunNotification(agent string, productive bool, summary string) Notification {
	if productive {
		return Notification{Title: "✅ " + agent + " run complete", Message: summary, Type: NotifySuccess}
	}
	return Notification{Title: "❌ " + agent + " run complete", Message: summary, Type: NotifyError}
}

// PREvent is what happened to a pull request
type PREvent string

const (
	PRMerged      PREvent = "merged"
	PRBlocked     PREvent = "blocked"
	PRNeedsReview PREvent = "needs-review"
)

// PRNotification reports a merge decision on a pull request
func PRNotification(event PREvent, pr domain.PullRequest, msg string) Notification {
	n := Notification{Message: msg, URL: pr.URL}
	switch event {
	case PRMerged:
		n.Title = fmt.Sprintf("🔀 Merged PR #%d: %s", pr.Number, pr.Title)
		n.Type = NotifySuccess
	case PRBlocked:
		n.Title = fmt.Sprintf("🚧 PR #%d blocked: %s", pr.Number, pr.Title)
		n.Type = NotifyWarning
	default:
		n.Title = fmt.Sprintf("👀 PR #%d needs review: %s", pr.Number, pr.Title)
		n.Type = NotifyInfo
	}
	return n
}
