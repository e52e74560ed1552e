package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
)

const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

func checkOutput(format string) error {
	switch format {
	case outputText, outputJSON, outputYAML:
		return nil
	}
	return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
}

// writeStructured encodes v as JSON or YAML. Text output is rendered by
// each command itself.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("format %q is not structured", format)
}

// itemView is the machine-readable form of a work item
type itemView struct {
	Issue        int       `json:"issue" yaml:"issue"`
	Title        string    `json:"title" yaml:"title"`
	URL          string    `json:"url,omitempty" yaml:"url,omitempty"`
	Priority     string    `json:"priority" yaml:"priority"`
	Dependencies []int     `json:"dependencies" yaml:"dependencies"`
	Labels       []string  `json:"labels" yaml:"labels"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

func viewItem(w domain.WorkItem) itemView {
	deps := w.DependsOn
	if deps == nil {
		deps = []int{}
	}
	ls := w.Labels
	if ls == nil {
		ls = []string{}
	}
	return itemView{
		Issue:        w.ID,
		Title:        w.Title,
		URL:          w.URL,
		Priority:     w.Priority.String(),
		Dependencies: deps,
		Labels:       ls,
		CreatedAt:    w.CreatedAt,
	}
}

// agentView is the machine-readable form of a performance record
type agentView struct {
	ID              string     `json:"id" yaml:"id"`
	Name            string     `json:"name" yaml:"name"`
	Status          string     `json:"status" yaml:"status"`
	TotalRuns       int        `json:"total_runs" yaml:"total_runs"`
	ProductiveRuns  int        `json:"productive_runs" yaml:"productive_runs"`
	Productivity    float64    `json:"productivity" yaml:"productivity"`
	OffenseStreak   int        `json:"offense_streak" yaml:"offense_streak"`
	IntervalMinutes int        `json:"interval_minutes" yaml:"interval_minutes"`
	TimeoutCount    int        `json:"timeout_count" yaml:"timeout_count"`
	LastProductive  *time.Time `json:"last_productive,omitempty" yaml:"last_productive,omitempty"`
}

func viewAgent(a *domain.Agent) agentView {
	return agentView{
		ID:              a.ID,
		Name:            a.Name,
		Status:          string(a.Status),
		TotalRuns:       a.TotalRuns,
		ProductiveRuns:  a.ProductiveRuns,
		Productivity:    a.ProductivityRatio(),
		OffenseStreak:   a.OffenseStreak,
		IntervalMinutes: a.IntervalMinutes,
		TimeoutCount:    a.TimeoutCount,
		LastProductive:  a.LastProductive,
	}
}
