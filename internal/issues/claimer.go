package issues

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/github"
)

var (
	// ErrNoWork means no open, unblocked item has all dependencies closed
	ErrNoWork = errors.New("no claimable work")
	// ErrAlreadyClaimed means another agent took or closed the item first
	ErrAlreadyClaimed = errors.New("already claimed")
)

// Claimer marks selected items as in progress on the tracker.
type Claimer struct {
	gh       *github.Client
	source   *Source
	agent    string
	template string
	logger   *slog.Logger
}

// NewClaimer creates a Claimer. commentTemplate may contain {agent} and
// {issue}; an empty template posts no comment.
func NewClaimer(gh *github.Client, source *Source, agent, commentTemplate string, logger *slog.Logger) *Claimer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Claimer{gh: gh, source: source, agent: agent, template: commentTemplate, logger: logger}
}

// Claim adds the WIP label to item after re-reading it. The re-read and the
// verification afterwards narrow, but cannot close, the race with agents
// claiming the same issue concurrently.
func (c *Claimer) Claim(ctx context.Context, item domain.WorkItem) (domain.WorkItem, error) {
	current, err := c.source.Item(ctx, item.ID)
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("re-read %s: %w", item.Ref(), err)
	}
	if current.Blocked || current.State == domain.StateClosed {
		return domain.WorkItem{}, fmt.Errorf("%s: %w", item.Ref(), ErrAlreadyClaimed)
	}

	wip := c.source.Codec().WIPLabel
	if err := c.gh.EditLabels(ctx, item.ID, []string{wip}, nil); err != nil {
		return domain.WorkItem{}, fmt.Errorf("claim %s: %w", item.Ref(), err)
	}

	if body := ClaimComment(c.template, c.agent, item.ID); body != "" {
		if err := c.gh.CommentIssue(ctx, item.ID, body); err != nil {
			c.logger.WarnContext(ctx, "claim comment failed", "issue", item.ID, "error", err)
		}
	}

	verified, err := c.source.Item(ctx, item.ID)
	if err != nil {
		return domain.WorkItem{}, fmt.Errorf("verify claim on %s: %w", item.Ref(), err)
	}
	if !verified.Blocked {
		return domain.WorkItem{}, fmt.Errorf("verify claim on %s: %s label missing after edit", item.Ref(), wip)
	}

	c.logger.InfoContext(ctx, "claimed issue", "issue", item.ID, "agent", c.agent, "priority", verified.Priority.String())
	return verified, nil
}

// ClaimComment renders the claim comment template
func ClaimComment(template, agent string, issue int) string {
	if template == "" {
		return ""
	}
	if agent == "" {
		agent = "swarm agent"
	}
	r := strings.NewReplacer("{agent}", agent, "{issue}", fmt.Sprintf("#%d", issue))
	return r.Replace(template)
}
