package observer

import (
	"sort"
	"sync"
	"time"
)

// Observer tracks scheduled runs in flight and aggregates finished ones
type Observer struct {
	stuckThreshold time.Duration

	running     map[string]time.Time
	completions []completion
	mu          sync.RWMutex
}

type completion struct {
	Name        string
	Status      string
	Duration    time.Duration
	CompletedAt time.Time
}

// Metrics holds aggregated run metrics
type Metrics struct {
	TotalRuns   int            `json:"total_runs"`
	ByStatus    map[string]int `json:"by_status"`
	Running     int            `json:"running"`
	AvgDuration time.Duration  `json:"avg_duration_ns"`
}

// New creates an Observer that reports runs older than stuckThreshold as stuck
func New(stuckThreshold time.Duration) *Observer {
	return &Observer{
		stuckThreshold: stuckThreshold,
		running:        make(map[string]time.Time),
	}
}

// Started marks a run as in flight
func (o *Observer) Started(name string, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.running[name] = at
}

// Finished records the outcome of a run started earlier. A run that was
// never started is recorded with zero duration.
func (o *Observer) Finished(name, status string, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()

	var d time.Duration
	if started, ok := o.running[name]; ok {
		d = at.Sub(started)
		delete(o.running, name)
	}
	o.completions = append(o.completions, completion{
		Name:        name,
		Status:      status,
		Duration:    d,
		CompletedAt: at,
	})
}

// Stuck returns the runs in flight for longer than the threshold, sorted
func (o *Observer) Stuck(now time.Time) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var stuck []string
	for name, started := range o.running {
		if now.Sub(started) > o.stuckThreshold {
			stuck = append(stuck, name)
		}
	}
	sort.Strings(stuck)
	return stuck
}

// Metrics returns aggregated metrics
func (o *Observer) Metrics() Metrics {
	o.mu.RLock()
	defer o.mu.RUnlock()

	m := Metrics{ByStatus: make(map[string]int), Running: len(o.running)}
	var total time.Duration
	for _, c := range o.completions {
		m.TotalRuns++
		m.ByStatus[c.Status]++
		total += c.Duration
	}
	if m.TotalRuns > 0 {
		m.AvgDuration = total / time.Duration(m.TotalRuns)
	}
	return m
}

// Recent returns the names of runs completed after since
func (o *Observer) Recent(since time.Time) []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	var result []string
	for _, c := range o.completions {
		if c.CompletedAt.After(since) {
			result = append(result, c.Name)
		}
	}
	return result
}
