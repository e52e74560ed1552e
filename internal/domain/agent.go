package domain

import "time"

// AgentStatus represents whether an agent is scheduled at all
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentDisabled AgentStatus = "disabled"
)

// OffenseType classifies an unproductive run
type OffenseType string

const (
	OffenseSilentExit OffenseType = "silent_exit"
	OffenseEmptyRun   OffenseType = "empty_run"
	OffenseGhostRun   OffenseType = "ghost_run"
	OffenseErrorLoop  OffenseType = "error_loop"
)

// DefaultIntervalMinutes is the base run interval of a fresh agent
const DefaultIntervalMinutes = 5

// Agent holds the performance record of one swarm agent
type Agent struct {
	ID              string
	Name            string
	Status          AgentStatus
	TotalRuns       int
	ProductiveRuns  int
	OffenseStreak   int
	IntervalMinutes int
	TimeoutCount    int
	LastProductive  *time.Time
	UpdatedAt       time.Time
}

// ProductivityRatio returns productive/total, or 0 with no runs
func (a *Agent) ProductivityRatio() float64 {
	if a.TotalRuns == 0 {
		return 0
	}
	return float64(a.ProductiveRuns) / float64(a.TotalRuns)
}

// Run is a single logged agent execution
type Run struct {
	ID          string
	AgentID     string
	Productive  bool
	OffenseType OffenseType
	Summary     string
	At          time.Time
}

// Offense is an unproductive run kept for pattern analysis
type Offense struct {
	Type    OffenseType
	Summary string
	At      time.Time
}

// Verdict is the timeout manager's decision for one agent
type Verdict string

const (
	VerdictPass    Verdict = "PASS"
	VerdictMercy   Verdict = "MERCY"
	VerdictTimeout Verdict = "TIMEOUT"
	VerdictDisable Verdict = "DISABLE"
)
