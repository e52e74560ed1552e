package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
)

// ErrNoResolver is recorded for dependencies when no ClosedFunc was supplied
var ErrNoResolver = errors.New("no dependency resolver")

// ClosedFunc reports whether the item with the given id is closed.
// It may block on network I/O; an error means the state is unknown.
type ClosedFunc func(ctx context.Context, id int) (bool, error)

// SkipReason explains why a candidate was not selected
type SkipReason string

const (
	Eligible                 SkipReason = ""
	SkipBlocked              SkipReason = "blocked"
	SkipSelfDependency       SkipReason = "self-dependency"
	SkipOpenDependency       SkipReason = "open-dependency"
	SkipUnverifiedDependency SkipReason = "unverified-dependency"
)

// Decision is the evaluation of a single candidate
type Decision struct {
	Item       domain.WorkItem
	Reason     SkipReason
	Dependency int // offending dependency id, 0 if none
	Err        error
}

// Eligible reports whether the candidate could be claimed
func (d Decision) Eligible() bool {
	return d.Reason == Eligible
}

// Scheduler picks the next claimable work item from a snapshot.
// It holds no state between calls and never mutates its input.
type Scheduler struct {
	logger *slog.Logger
}

// New creates a Scheduler. A nil logger uses slog.Default().
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger}
}

// SelectNext selects with a default Scheduler
func SelectNext(ctx context.Context, items []domain.WorkItem, isClosed ClosedFunc) (domain.WorkItem, bool) {
	return New(nil).SelectNext(ctx, items, isClosed)
}

// SelectNext returns the highest-priority, oldest, unblocked item whose
// dependencies are all closed. The second result is false when no item
// qualifies. Evaluation stops at the first eligible candidate.
func (s *Scheduler) SelectNext(ctx context.Context, items []domain.WorkItem, isClosed ClosedFunc) (domain.WorkItem, bool) {
	p := s.NewPass(isClosed)
	for _, candidate := range Order(items) {
		if p.Evaluate(ctx, candidate).Eligible() {
			return candidate, true
		}
	}
	return domain.WorkItem{}, false
}

// Explain evaluates every item, blocked ones included, in scheduling order
// without short-circuiting. The first eligible decision is the one
// SelectNext would return.
func (s *Scheduler) Explain(ctx context.Context, items []domain.WorkItem, isClosed ClosedFunc) []Decision {
	p := s.NewPass(isClosed)

	all := make([]domain.WorkItem, len(items))
	for i, it := range items {
		all[i] = it.Clone()
	}
	sortItems(all)

	decisions := make([]Decision, 0, len(all))
	for _, it := range all {
		decisions = append(decisions, p.Evaluate(ctx, it))
	}
	return decisions
}

// Pass evaluates items one at a time against a single memoized view of
// dependency state. Each dependency is looked up at most once per Pass.
// A Pass is not safe for concurrent use.
type Pass struct {
	s *Scheduler
	r *resolver
}

// NewPass starts a Pass that resolves dependencies through isClosed
func (s *Scheduler) NewPass(isClosed ClosedFunc) *Pass {
	return &Pass{s: s, r: newResolver(isClosed)}
}

// Evaluate decides whether item could be claimed. It does not modify item.
func (p *Pass) Evaluate(ctx context.Context, item domain.WorkItem) Decision {
	if item.Blocked {
		return Decision{Item: item, Reason: SkipBlocked}
	}
	return p.s.evaluate(ctx, item, p.r)
}

// Order returns copies of the unblocked items sorted by priority rank, then
// creation time. Ties keep their input order.
func Order(items []domain.WorkItem) []domain.WorkItem {
	ordered := make([]domain.WorkItem, 0, len(items))
	for _, it := range items {
		if it.Blocked {
			continue
		}
		ordered = append(ordered, it.Clone())
	}
	sortItems(ordered)
	return ordered
}

func sortItems(items []domain.WorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := items[i].Priority.Rank(), items[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

func (s *Scheduler) evaluate(ctx context.Context, item domain.WorkItem, r *resolver) Decision {
	if item.DependsOnSelf() {
		s.logger.DebugContext(ctx, "skipping self-dependent item", "issue", item.ID)
		return Decision{Item: item, Reason: SkipSelfDependency, Dependency: item.ID}
	}

	for _, dep := range item.DependsOn {
		closed, err := r.lookup(ctx, dep)
		if err != nil {
			s.logger.WarnContext(ctx, "could not verify dependency, assuming open",
				"issue", item.ID, "dependency", dep, "error", err)
			return Decision{Item: item, Reason: SkipUnverifiedDependency, Dependency: dep, Err: err}
		}
		if !closed {
			s.logger.DebugContext(ctx, "blocked by open dependency", "issue", item.ID, "dependency", dep)
			return Decision{Item: item, Reason: SkipOpenDependency, Dependency: dep}
		}
	}
	return Decision{Item: item}
}

type lookupResult struct {
	closed bool
	err    error
}

// resolver memoizes ClosedFunc answers for the duration of one call
type resolver struct {
	fn   ClosedFunc
	memo map[int]lookupResult
}

func newResolver(fn ClosedFunc) *resolver {
	return &resolver{fn: fn, memo: make(map[int]lookupResult)}
}

func (r *resolver) lookup(ctx context.Context, id int) (bool, error) {
	if res, ok := r.memo[id]; ok {
		return res.closed, res.err
	}
	closed, err := r.call(ctx, id)
	if err != nil {
		closed = false
	}
	r.memo[id] = lookupResult{closed: closed, err: err}
	return closed, err
}

func (r *resolver) call(ctx context.Context, id int) (closed bool, err error) {
	if r.fn == nil {
		return false, ErrNoResolver
	}
	defer func() {
		if p := recover(); p != nil {
			closed = false
			err = fmt.Errorf("dependency lookup for #%d panicked: %v", id, p)
		}
	}()
	return r.fn(ctx, id)
}
