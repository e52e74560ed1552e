package domain

import "strings"

// PriorityTag is the single effective priority of a work item
type PriorityTag string

const (
	PriorityCritical PriorityTag = "critical"
	PriorityUrgent   PriorityTag = "urgent"
	PriorityHigh     PriorityTag = "high"
	PriorityMedium   PriorityTag = "medium"
	PriorityLow      PriorityTag = "low"
	PriorityNone     PriorityTag = ""
)

// Priorities lists the known tags from highest to lowest rank
var Priorities = []PriorityTag{
	PriorityCritical,
	PriorityUrgent,
	PriorityHigh,
	PriorityMedium,
	PriorityLow,
}

// Rank returns the sort rank of the tag. Lower ranks are scheduled first;
// an absent or unknown tag ranks after Low.
func (p PriorityTag) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityUrgent:
		return 1
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 3
	case PriorityLow:
		return 4
	default:
		return 5
	}
}

// String returns the tag name, "none" for the absent tag
func (p PriorityTag) String() string {
	if p == PriorityNone {
		return "none"
	}
	return string(p)
}

// ParsePriority maps a label such as "CRITICAL" or "high" to its tag.
// The second result is false when the label is not a priority label.
func ParsePriority(label string) (PriorityTag, bool) {
	tag := PriorityTag(strings.ToLower(strings.TrimSpace(label)))
	for _, p := range Priorities {
		if tag == p {
			return p, true
		}
	}
	return PriorityNone, false
}

// LifecycleState is the open/closed state of an item on the tracker
type LifecycleState string

const (
	StateOpen   LifecycleState = "open"
	StateClosed LifecycleState = "closed"
)

// ParseState maps gh state strings (OPEN, CLOSED, MERGED) to a lifecycle state.
// Anything that is not recognizably closed is treated as open.
func ParseState(s string) LifecycleState {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLOSED", "MERGED":
		return StateClosed
	default:
		return StateOpen
	}
}
