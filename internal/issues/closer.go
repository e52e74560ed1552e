package issues

import (
	"context"
	"fmt"
	"strings"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/github"
)

// Closer closes issues whose pull request was merged.
type Closer struct {
	gh     *github.Client
	source *Source
}

// NewCloser creates a Closer
func NewCloser(gh *github.Client, source *Source) *Closer {
	return &Closer{gh: gh, source: source}
}

// CloseIfOpen comments on and closes the issue unless GitHub already closed
// it through a closing keyword. The WIP label is removed either way.
func (c *Closer) CloseIfOpen(ctx context.Context, issue, prNumber int, summary string, changedFiles []string) (bool, error) {
	item, err := c.source.Item(ctx, issue)
	if err != nil {
		return false, fmt.Errorf("get issue: %w", err)
	}

	wip := c.source.Codec().WIPLabel
	if item.Blocked {
		if err := c.gh.EditLabels(ctx, issue, nil, []string{wip}); err != nil {
			return false, fmt.Errorf("update labels: %w", err)
		}
	}
	if item.State == domain.StateClosed {
		return false, nil
	}

	if err := c.gh.CommentIssue(ctx, issue, BuildClosureComment(prNumber, summary, changedFiles)); err != nil {
		return false, fmt.Errorf("post comment: %w", err)
	}
	if err := c.gh.CloseIssue(ctx, issue); err != nil {
		return false, fmt.Errorf("close issue: %w", err)
	}
	return true, nil
}

// BuildClosureComment creates a formatted comment for closing an issue.
func BuildClosureComment(prNumber int, summary string, changedFiles []string) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "✅ **Merged in PR #%d**\n\n", prNumber)
	if summary != "" {
		fmt.Fprintf(&sb, "**Summary:** %s\n\n", summary)
	}

	if len(changedFiles) > 0 {
		sb.WriteString("**Changed files:**\n")
		for _, f := range changedFiles {
			fmt.Fprintf(&sb, "- `%s`\n", f)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n")
	sb.WriteString("*Closed by swarm-orch*\n")

	return sb.String()
}
