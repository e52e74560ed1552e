package batch

import (
	"fmt"
	"slices"

	"github.com/robfig/cron/v3"
)

// Commands a schedule entry may run
const (
	CommandClaim = "claim"
	CommandMerge = "merge"
	CommandAudit = "audit"
	CommandJudge = "judge"
)

// Commands lists every schedulable command
var Commands = []string{CommandClaim, CommandMerge, CommandAudit, CommandJudge}

// Entry is one [[schedule]] block: an agent running a command on a cron
type Entry struct {
	Name    string `toml:"name"`
	Agent   string `toml:"agent"`
	Command string `toml:"command"`
	Cron    string `toml:"cron"`
}

// Validate checks the required fields and the cron expression
func (e *Entry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if e.Agent == "" {
		return fmt.Errorf("schedule %s: agent is required", e.Name)
	}
	if e.Command == "" {
		return fmt.Errorf("schedule %s: command is required", e.Name)
	}
	if !slices.Contains(Commands, e.Command) {
		return fmt.Errorf("schedule %s: unknown command %q", e.Name, e.Command)
	}
	if e.Cron == "" {
		return fmt.Errorf("schedule %s: cron expression is required", e.Name)
	}
	if _, err := ParseCron(e.Cron); err != nil {
		return fmt.Errorf("schedule %s: invalid cron expression: %w", e.Name, err)
	}
	return nil
}

// ValidateAll validates every entry and rejects duplicate names
func ValidateAll(entries []Entry) error {
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return fmt.Errorf("schedule %d: %w", i, err)
		}
		if seen[entries[i].Name] {
			return fmt.Errorf("schedule %d: duplicate name %q", i, entries[i].Name)
		}
		seen[entries[i].Name] = true
	}
	return nil
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseCron parses a five-field cron expression or a descriptor such as
// "@hourly" or "@every 15m"
func ParseCron(expr string) (cron.Schedule, error) {
	return parser.Parse(expr)
}
