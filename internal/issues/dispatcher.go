package issues

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/scheduler"
)

// DefaultMaxAttempts bounds how many contested claims ClaimNext tolerates
const DefaultMaxAttempts = 3

// Dispatcher runs the select-then-claim loop
type Dispatcher struct {
	source      *Source
	claimer     *Claimer
	sched       *scheduler.Scheduler
	MaxAttempts int
	logger      *slog.Logger
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(source *Source, claimer *Claimer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		source:      source,
		claimer:     claimer,
		sched:       scheduler.New(logger),
		MaxAttempts: DefaultMaxAttempts,
		logger:      logger,
	}
}

// Next selects the next item without claiming it
func (d *Dispatcher) Next(ctx context.Context) (domain.WorkItem, error) {
	items, err := d.source.Snapshot(ctx)
	if err != nil {
		return domain.WorkItem{}, err
	}
	item, ok := d.sched.SelectNext(ctx, items, d.source.IsClosed)
	if !ok {
		return domain.WorkItem{}, ErrNoWork
	}
	return item, nil
}

// Explain returns the scheduling decision for every open item
func (d *Dispatcher) Explain(ctx context.Context) ([]scheduler.Decision, error) {
	items, err := d.source.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return d.sched.Explain(ctx, items, d.source.IsClosed), nil
}

// ClaimNext selects and claims one item. Items lost to another agent are
// marked blocked in the local snapshot and selection runs again.
func (d *Dispatcher) ClaimNext(ctx context.Context) (domain.WorkItem, error) {
	items, err := d.source.Snapshot(ctx)
	if err != nil {
		return domain.WorkItem{}, err
	}

	attempts := d.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}
	for i := 0; i < attempts; i++ {
		item, ok := d.sched.SelectNext(ctx, items, d.source.IsClosed)
		if !ok {
			return domain.WorkItem{}, ErrNoWork
		}

		claimed, err := d.claimer.Claim(ctx, item)
		if err == nil {
			return claimed, nil
		}
		if !errors.Is(err, ErrAlreadyClaimed) {
			return domain.WorkItem{}, err
		}

		d.logger.InfoContext(ctx, "lost claim race, reselecting", "issue", item.ID, "attempt", i+1)
		markBlocked(items, item.ID)
	}
	return domain.WorkItem{}, fmt.Errorf("gave up after %d contested claims: %w", attempts, ErrAlreadyClaimed)
}

func markBlocked(items []domain.WorkItem, id int) {
	for i := range items {
		if items[i].ID == id {
			items[i].Blocked = true
		}
	}
}
