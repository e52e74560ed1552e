package domain

import (
	"fmt"
	"slices"
	"time"
)

// WorkItem is one claimable unit of work, built fresh from a tracker snapshot
// on every scheduling pass.
type WorkItem struct {
	ID        int
	Title     string
	URL       string
	Priority  PriorityTag
	CreatedAt time.Time // tie-breaker within a priority tier
	Blocked   bool      // carries the in-progress marker
	DependsOn []int     // ids that must be closed first
	State     LifecycleState
	Labels    []string // raw labels, informational only
}

// DependsOnSelf reports whether the item lists its own id as a dependency
func (w *WorkItem) DependsOnSelf() bool {
	return slices.Contains(w.DependsOn, w.ID)
}

// Clone returns a copy that shares no slices with w
func (w WorkItem) Clone() WorkItem {
	w.DependsOn = slices.Clone(w.DependsOn)
	w.Labels = slices.Clone(w.Labels)
	return w
}

// Ref returns the "#N" form used in comments and logs
func (w *WorkItem) Ref() string {
	return fmt.Sprintf("#%d", w.ID)
}
