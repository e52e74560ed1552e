package issues

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/github"
	"github.com/hochfrequenz/swarm-orchestrator/internal/labels"
)

// DefaultIssueLimit caps a snapshot when no limit is configured
const DefaultIssueLimit = 100

// Source builds work item snapshots from the repository's open issues.
type Source struct {
	gh     *github.Client
	codec  *labels.Codec
	limit  int
	logger *slog.Logger
}

// NewSource creates a Source. A limit <= 0 uses DefaultIssueLimit.
func NewSource(gh *github.Client, codec *labels.Codec, limit int, logger *slog.Logger) *Source {
	if limit <= 0 {
		limit = DefaultIssueLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{gh: gh, codec: codec, limit: limit, logger: logger}
}

// Codec returns the label codec used for conversion
func (s *Source) Codec() *labels.Codec {
	return s.codec
}

// Snapshot lists open issues as work items
func (s *Source) Snapshot(ctx context.Context) ([]domain.WorkItem, error) {
	raw, err := s.gh.ListOpenIssues(ctx, s.limit)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	items := make([]domain.WorkItem, 0, len(raw))
	for _, is := range raw {
		item := s.convert(is)
		if item.State != domain.StateOpen {
			continue
		}
		items = append(items, item)
	}
	s.logger.DebugContext(ctx, "snapshot taken", "issues", len(raw), "open", len(items))
	return items, nil
}

// Item fetches one issue as a work item
func (s *Source) Item(ctx context.Context, id int) (domain.WorkItem, error) {
	is, err := s.gh.ViewIssue(ctx, id)
	if err != nil {
		return domain.WorkItem{}, err
	}
	return s.convert(is), nil
}

// IsClosed reports whether issue id is closed. It satisfies
// scheduler.ClosedFunc; a missing issue is an error, not "closed".
func (s *Source) IsClosed(ctx context.Context, id int) (bool, error) {
	state, err := s.gh.IssueState(ctx, id)
	if err != nil {
		return false, err
	}
	return state == domain.StateClosed, nil
}

func (s *Source) convert(is github.Issue) domain.WorkItem {
	return s.codec.ToWorkItem(is.Number, is.Title, is.URL, is.Labels, is.Body, is.State, is.CreatedAt)
}
