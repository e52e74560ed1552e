package domain

import (
	"strings"
	"time"
)

// CIStatus summarizes the checks attached to a pull request
type CIStatus string

const (
	CIPassing CIStatus = "passing"
	CIFailing CIStatus = "failing"
	CIPending CIStatus = "pending"
)

// Check is one status check on a pull request
type Check struct {
	Name       string
	Status     string // QUEUED, IN_PROGRESS, COMPLETED
	Conclusion string // SUCCESS, FAILURE, NEUTRAL, SKIPPED, ...
}

// PullRequest is an open PR waiting for review or merge
type PullRequest struct {
	Number    int
	Title     string
	Body      string
	HeadRef   string
	URL       string
	CreatedAt time.Time
	Labels    []string
	Checks    []Check
}

// CIStatus folds the PR's checks into a single status.
// A PR without checks is treated as passing.
func (p *PullRequest) CIStatus() CIStatus {
	pending := false
	for _, c := range p.Checks {
		status := strings.ToUpper(c.Status)
		if status != "" && status != "COMPLETED" {
			pending = true
			continue
		}
		switch strings.ToUpper(c.Conclusion) {
		case "SUCCESS", "NEUTRAL", "SKIPPED":
		case "":
			pending = true
		default:
			return CIFailing
		}
	}
	if pending {
		return CIPending
	}
	return CIPassing
}
