// Package judgment decides which swarm agents keep their schedule, which
// get slowed down and which get switched off.
package judgment

import (
	"fmt"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
)

// Thresholds tune the verdict rules
type Thresholds struct {
	MinProductivity float64 `toml:"min_productivity"`
	WarningStreak   int     `toml:"warning_streak"`
	TimeoutStreak   int     `toml:"timeout_streak"`
	DisableStreak   int     `toml:"disable_streak"`
	MinRuns         int     `toml:"min_runs"`
	ChronicRatio    float64 `toml:"chronic_ratio"`
	ChronicRuns     int     `toml:"chronic_runs"`
	Window          int     `toml:"offense_window"`
}

// DefaultThresholds returns the stock rule set
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinProductivity: 0.6,
		WarningStreak:   2,
		TimeoutStreak:   3,
		DisableStreak:   5,
		MinRuns:         5,
		ChronicRatio:    0.4,
		ChronicRuns:     10,
		Window:          10,
	}
}

// Validate rejects rule sets whose streak levels are out of order
func (t Thresholds) Validate() error {
	if t.MinProductivity < 0 || t.MinProductivity > 1 {
		return fmt.Errorf("min_productivity %.2f outside [0, 1]", t.MinProductivity)
	}
	if t.ChronicRatio < 0 || t.ChronicRatio > 1 {
		return fmt.Errorf("chronic_ratio %.2f outside [0, 1]", t.ChronicRatio)
	}
	if t.WarningStreak < 1 || t.TimeoutStreak < t.WarningStreak || t.DisableStreak < t.TimeoutStreak {
		return fmt.Errorf("streak thresholds must satisfy 1 <= warning (%d) <= timeout (%d) <= disable (%d)",
			t.WarningStreak, t.TimeoutStreak, t.DisableStreak)
	}
	if t.Window < 1 {
		return fmt.Errorf("offense_window must be positive, got %d", t.Window)
	}
	return nil
}

// Analysis is the judged view of one agent
type Analysis struct {
	AgentID        string
	Name           string
	Status         domain.AgentStatus
	TotalRuns      int
	ProductiveRuns int
	Ratio          float64
	Streak         int
	Interval       int
	TimeoutCount   int
	PrimaryOffense domain.OffenseType
	Pattern        map[domain.OffenseType]int
}

// Analyze computes the productivity ratio and the offense pattern of the
// given window. The primary offense is the most frequent type; ties go to
// the type that appears first.
func Analyze(agent *domain.Agent, recent []domain.Offense) Analysis {
	a := Analysis{
		AgentID:        agent.ID,
		Name:           agent.Name,
		Status:         agent.Status,
		TotalRuns:      agent.TotalRuns,
		ProductiveRuns: agent.ProductiveRuns,
		Ratio:          agent.ProductivityRatio(),
		Streak:         agent.OffenseStreak,
		Interval:       agent.IntervalMinutes,
		TimeoutCount:   agent.TimeoutCount,
		Pattern:        make(map[domain.OffenseType]int),
	}
	if a.Name == "" {
		a.Name = a.AgentID
	}

	var order []domain.OffenseType
	for _, o := range recent {
		if a.Pattern[o.Type] == 0 {
			order = append(order, o.Type)
		}
		a.Pattern[o.Type]++
	}
	best := 0
	for _, typ := range order {
		if n := a.Pattern[typ]; n > best {
			best, a.PrimaryOffense = n, typ
		}
	}
	return a
}

// recoverable offenses usually mean there was nothing to do
func recoverable(t domain.OffenseType) bool {
	return t == domain.OffenseSilentExit || t == domain.OffenseEmptyRun
}

func pct(ratio float64) string {
	return fmt.Sprintf("%.1f%%", ratio*100)
}

func primaryName(t domain.OffenseType) string {
	if t == "" {
		return "none"
	}
	return string(t)
}

// Judge applies the rules in order and returns the first verdict that fits
func Judge(a Analysis, t Thresholds) (domain.Verdict, string) {
	if a.TotalRuns < t.MinRuns {
		return domain.VerdictPass, fmt.Sprintf("Insufficient data for judgment (< %d runs)", t.MinRuns)
	}

	if a.Ratio >= t.MinProductivity {
		if a.Streak > 0 {
			return domain.VerdictMercy, fmt.Sprintf("High productivity (%s) despite recent streak - reset offense counter", pct(a.Ratio))
		}
		return domain.VerdictPass, fmt.Sprintf("Productive agent (%s)", pct(a.Ratio))
	}

	switch {
	case a.Streak >= t.DisableStreak:
		return domain.VerdictDisable, fmt.Sprintf("Chronic offender (streak: %d, productivity: %s, primary: %s)",
			a.Streak, pct(a.Ratio), primaryName(a.PrimaryOffense))
	case a.Streak >= t.TimeoutStreak:
		kind := "Concerning"
		if recoverable(a.PrimaryOffense) {
			kind = "Recoverable"
		}
		return domain.VerdictTimeout, fmt.Sprintf("%s pattern (streak: %d, primary: %s)",
			kind, a.Streak, primaryName(a.PrimaryOffense))
	case a.Streak >= t.WarningStreak:
		return domain.VerdictPass, fmt.Sprintf("Warning level (streak: %d, productivity: %s)", a.Streak, pct(a.Ratio))
	}

	if a.Ratio < t.ChronicRatio && a.TotalRuns >= t.ChronicRuns {
		return domain.VerdictTimeout, fmt.Sprintf("Chronically low productivity (%s over %d runs)", pct(a.Ratio), a.TotalRuns)
	}

	return domain.VerdictPass, "Within acceptable parameters"
}

// Balance summarizes a judged swarm. TimedOut and Disabled count the
// verdicts of this pass.
func Balance(analyses []Analysis, judgments []domain.Judgment, t Thresholds) domain.BalanceReport {
	r := domain.BalanceReport{TotalAgents: len(analyses)}
	var runs, productive int
	for _, a := range analyses {
		if a.Ratio >= t.MinProductivity {
			r.ProductiveAgents++
		}
		runs += a.TotalRuns
		productive += a.ProductiveRuns
	}
	for _, j := range judgments {
		switch j.Verdict {
		case domain.VerdictTimeout:
			r.TimedOut++
		case domain.VerdictDisable:
			r.Disabled++
		}
	}
	if runs > 0 {
		r.SwarmProductivity = float64(productive) / float64(runs)
	}
	return r
}
