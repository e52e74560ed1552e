// Package batch runs agent schedules on cron and books every outcome to
// the performance store.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/logging"
	"github.com/hochfrequenz/swarm-orchestrator/internal/perfstore"
)

// Outcome is what a job reports back. A run without error that did no
// work is booked as empty_run.
type Outcome struct {
	Productive bool
	Summary    string
}

// Job performs one scheduled command
type Job func(ctx context.Context, e Entry) (Outcome, error)

// Status of one tick
type Status string

const (
	StatusProductive Status = "productive"
	StatusEmpty      Status = "empty"
	StatusError      Status = "error"
	StatusSkipped    Status = "skipped"
)

// Event describes one tick; it is logged and published
type Event struct {
	Schedule string    `json:"schedule"`
	Agent    string    `json:"agent"`
	Command  string    `json:"command"`
	Status   Status    `json:"status"`
	Summary  string    `json:"summary,omitempty"`
	At       time.Time `json:"at"`
}

// AgentStore is the slice of perfstore the runner needs
type AgentStore interface {
	GetAgent(ctx context.Context, id string) (*domain.Agent, error)
	LogRun(ctx context.Context, run domain.Run) (*domain.Agent, error)
}

// Publisher receives run events, e.g. an SSE hub
type Publisher interface {
	Publish(eventType string, data any)
}

// Recorder tracks runs in flight
type Recorder interface {
	Started(name string, at time.Time)
	Finished(name, status string, at time.Time)
}

// Runner schedules entries with robfig/cron
type Runner struct {
	store    AgentStore
	jobs     map[string]Job
	logger   *slog.Logger
	cron     *cron.Cron
	pub      Publisher
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
	ids     map[string]cron.EntryID
	lastRun map[string]time.Time
}

// NewRunner creates a Runner. jobs maps a command name to its implementation.
func NewRunner(store AgentStore, jobs map[string]Job, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:   store,
		jobs:    jobs,
		logger:  logger,
		now:     time.Now,
		entries: make(map[string]Entry),
		ids:     make(map[string]cron.EntryID),
		lastRun: make(map[string]time.Time),
	}
	cl := cronLogger{logger}
	r.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	return r
}

// SetPublisher attaches an event sink
func (r *Runner) SetPublisher(p Publisher) { r.pub = p }

// SetRecorder attaches a run tracker
func (r *Runner) SetRecorder(rec Recorder) { r.recorder = rec }

// Reload replaces all schedules. Invalid input leaves the current
// schedules untouched.
func (r *Runner) Reload(entries []Entry) error {
	if err := ValidateAll(entries); err != nil {
		return err
	}
	for _, e := range entries {
		if _, ok := r.jobs[e.Command]; !ok {
			return fmt.Errorf("schedule %s: no job registered for %q", e.Name, e.Command)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, id := range r.ids {
		r.cron.Remove(id)
		delete(r.ids, name)
	}
	r.entries = make(map[string]Entry, len(entries))
	for _, e := range entries {
		sched, err := ParseCron(e.Cron)
		if err != nil {
			return err
		}
		name := e.Name
		r.entries[name] = e
		r.ids[name] = r.cron.Schedule(sched, cron.FuncJob(func() {
			r.Tick(context.Background(), name)
		}))
	}
	for name := range r.lastRun {
		if _, ok := r.entries[name]; !ok {
			delete(r.lastRun, name)
		}
	}
	r.logger.Info("schedules loaded", "count", len(entries))
	return nil
}

// Start runs the cron scheduler in its own goroutine
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs or ctx
func (r *Runner) Stop(ctx context.Context) error {
	done := r.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Entries returns the loaded entries sorted by name
func (r *Runner) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NextRun returns the next cron fire time of an entry; zero before Start
// or for unknown names
func (r *Runner) NextRun(name string) time.Time {
	r.mu.Lock()
	id, ok := r.ids[name]
	r.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return r.cron.Entry(id).Next
}

// Tick runs one entry now, subject to the agent's status and interval
func (r *Runner) Tick(ctx context.Context, name string) Event {
	r.mu.Lock()
	e, ok := r.entries[name]
	last := r.lastRun[name]
	r.mu.Unlock()

	now := r.now()
	ev := Event{Schedule: name, Agent: e.Agent, Command: e.Command, At: now}
	if !ok {
		ev.Status, ev.Summary = StatusSkipped, "unknown schedule"
		return ev
	}
	ctx = logging.WithFields(ctx, logging.Fields{Schedule: name, Agent: e.Agent, Command: e.Command})

	if reason := r.skipReason(ctx, e, last, now); reason != "" {
		ev.Status, ev.Summary = StatusSkipped, reason
		r.emit(ctx, ev)
		return ev
	}

	r.mu.Lock()
	r.lastRun[name] = now
	r.mu.Unlock()
	if r.recorder != nil {
		r.recorder.Started(name, now)
	}

	out, err := r.jobs[e.Command](ctx, e)
	run := domain.Run{AgentID: e.Agent, Summary: out.Summary, At: now}
	switch {
	case err != nil:
		ev.Status, ev.Summary = StatusError, err.Error()
		run.OffenseType, run.Summary = domain.OffenseErrorLoop, err.Error()
	case out.Productive:
		ev.Status, ev.Summary = StatusProductive, out.Summary
		run.Productive = true
	default:
		ev.Status, ev.Summary = StatusEmpty, out.Summary
		run.OffenseType = domain.OffenseEmptyRun
	}

	if _, err := r.store.LogRun(ctx, run); err != nil {
		r.logger.WarnContext(ctx, "failed to log run", "error", err)
	}
	if r.recorder != nil {
		r.recorder.Finished(name, string(ev.Status), r.now())
	}
	r.emit(ctx, ev)
	return ev
}

func (r *Runner) skipReason(ctx context.Context, e Entry, last, now time.Time) string {
	agent, err := r.store.GetAgent(ctx, e.Agent)
	if errors.Is(err, perfstore.ErrAgentNotFound) {
		return ""
	}
	if err != nil {
		r.logger.WarnContext(ctx, "agent lookup failed", "error", err)
		return "agent lookup failed"
	}
	if agent.Status == domain.AgentDisabled {
		return "agent disabled"
	}
	if agent.IntervalMinutes > domain.DefaultIntervalMinutes && !last.IsZero() {
		wait := time.Duration(agent.IntervalMinutes) * time.Minute
		if now.Sub(last) < wait {
			return fmt.Sprintf("timed out, next run after %s", last.Add(wait).Format(time.RFC3339))
		}
	}
	return ""
}

func (r *Runner) emit(ctx context.Context, ev Event) {
	level := slog.LevelInfo
	switch ev.Status {
	case StatusError:
		level = slog.LevelWarn
	case StatusSkipped:
		level = slog.LevelDebug
	}
	r.logger.Log(ctx, level, "scheduled run", "status", ev.Status, "summary", ev.Summary)
	if r.pub != nil {
		r.pub.Publish("run", ev)
	}
}

// cronLogger routes robfig/cron's logging into slog
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
