package perfstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
)

// legacyFile is the performance.json layout written by the earlier
// swarm scripts. Thresholds live in config now and are ignored here.
type legacyFile struct {
	Agents map[string]legacyAgent `json:"agents"`
}

type legacyAgent struct {
	Name            string          `json:"name"`
	TotalRuns       int             `json:"total_runs"`
	ProductiveRuns  int             `json:"productive_runs"`
	OffenseStreak   int             `json:"current_offense_streak"`
	OffenseHistory  []legacyOffense `json:"offense_history"`
	Status          string          `json:"status"`
	IntervalMinutes *int            `json:"current_interval_minutes"`
	TimeoutCount    int             `json:"timeout_count"`
	LastProductive  string          `json:"last_productive"`
}

type legacyOffense struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Summary   string `json:"summary"`
}

// ImportJSON loads a legacy performance.json document. Each listed agent
// replaces any stored record of the same id, offense history included.
// It returns the number of agents imported.
func (s *Store) ImportJSON(ctx context.Context, r io.Reader) (int, error) {
	var doc legacyFile
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return 0, fmt.Errorf("decode performance data: %w", err)
	}

	ids := make([]string, 0, len(doc.Agents))
	for id := range doc.Agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	now := s.now()
	for _, id := range ids {
		la := doc.Agents[id]
		a, err := la.toAgent(id)
		if err != nil {
			return 0, err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO agents (`+agentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				status = excluded.status,
				total_runs = excluded.total_runs,
				productive_runs = excluded.productive_runs,
				offense_streak = excluded.offense_streak,
				interval_minutes = excluded.interval_minutes,
				timeout_count = excluded.timeout_count,
				last_productive = excluded.last_productive,
				updated_at = excluded.updated_at
		`, a.ID, a.Name, string(a.Status), a.TotalRuns, a.ProductiveRuns, a.OffenseStreak,
			a.IntervalMinutes, a.TimeoutCount, nullTime(a.LastProductive), now); err != nil {
			return 0, fmt.Errorf("import agent %s: %w", id, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM offenses WHERE agent_id = ?`, id); err != nil {
			return 0, fmt.Errorf("clear offenses of %s: %w", id, err)
		}
		for i, o := range la.OffenseHistory {
			at, err := parseTimestamp(o.Timestamp, now)
			if err != nil {
				return 0, fmt.Errorf("agent %s offense %d: %w", id, i, err)
			}
			typ := o.Type
			if typ == "" {
				typ = "unknown"
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO offenses (agent_id, type, summary, at) VALUES (?, ?, ?, ?)
			`, id, typ, o.Summary, at); err != nil {
				return 0, fmt.Errorf("import offense of %s: %w", id, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (la legacyAgent) toAgent(id string) (*domain.Agent, error) {
	a := &domain.Agent{
		ID:              id,
		Name:            la.Name,
		Status:          domain.AgentStatus(strings.ToLower(la.Status)),
		TotalRuns:       la.TotalRuns,
		ProductiveRuns:  la.ProductiveRuns,
		OffenseStreak:   la.OffenseStreak,
		IntervalMinutes: domain.DefaultIntervalMinutes,
		TimeoutCount:    la.TimeoutCount,
	}
	if a.Name == "" {
		a.Name = id
	}
	switch a.Status {
	case domain.AgentActive, domain.AgentDisabled:
	case "":
		a.Status = domain.AgentActive
	default:
		return nil, fmt.Errorf("agent %s: unknown status %q", id, la.Status)
	}
	if la.IntervalMinutes != nil {
		a.IntervalMinutes = *la.IntervalMinutes
	}
	if la.LastProductive != "" {
		t, err := parseTimestamp(la.LastProductive, time.Time{})
		if err != nil {
			return nil, fmt.Errorf("agent %s last_productive: %w", id, err)
		}
		a.LastProductive = &t
	}
	return a, nil
}

// parseTimestamp accepts RFC 3339 with or without a zone suffix. Empty
// input yields fallback.
func parseTimestamp(s string, fallback time.Time) (time.Time, error) {
	if s == "" {
		return fallback, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
