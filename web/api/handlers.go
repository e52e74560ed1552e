package api

import (
	"net/http"
	"time"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/observer"
	"github.com/hochfrequenz/swarm-orchestrator/internal/scheduler"
)

// QueueEntry is one evaluated work item
type QueueEntry struct {
	ID         int       `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url,omitempty"`
	Priority   string    `json:"priority"`
	CreatedAt  time.Time `json:"created_at"`
	DependsOn  []int     `json:"depends_on,omitempty"`
	Eligible   bool      `json:"eligible"`
	Reason     string    `json:"reason,omitempty"`
	Dependency int       `json:"dependency,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// QueueCounts groups the snapshot by scheduling outcome
type QueueCounts struct {
	Total      int  `json:"total"`
	Eligible   int  `json:"eligible"`
	Blocked    int  `json:"blocked"`
	Waiting    int  `json:"waiting"`
	Unverified int  `json:"unverified"`
	Next       *int `json:"next,omitempty"`
}

// AgentCounts groups agents by status
type AgentCounts struct {
	Total    int `json:"total"`
	Active   int `json:"active"`
	Disabled int `json:"disabled"`
}

// StatusResponse is the API response for overall status
type StatusResponse struct {
	Queue  QueueCounts       `json:"queue"`
	Agents AgentCounts       `json:"agents"`
	Runs   *observer.Metrics `json:"runs,omitempty"`
	Stuck  []string          `json:"stuck,omitempty"`
}

// AgentResponse is the API response for an agent
type AgentResponse struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	TotalRuns       int        `json:"total_runs"`
	ProductiveRuns  int        `json:"productive_runs"`
	Productivity    float64    `json:"productivity"`
	OffenseStreak   int        `json:"offense_streak"`
	IntervalMinutes int        `json:"interval_minutes"`
	TimeoutCount    int        `json:"timeout_count"`
	LastProductive  *time.Time `json:"last_productive,omitempty"`
}

// JudgmentResponse is one verdict of a dry judgment
type JudgmentResponse struct {
	Agent        string  `json:"agent"`
	Verdict      string  `json:"verdict"`
	Reason       string  `json:"reason"`
	Productivity float64 `json:"productivity"`
	Streak       int     `json:"streak"`
}

// ReportResponse is the balance report plus the verdicts behind it
type ReportResponse struct {
	Report    domain.BalanceReport `json:"report"`
	Judgments []JudgmentResponse   `json:"judgments"`
}

func decisionToEntry(d scheduler.Decision) QueueEntry {
	e := QueueEntry{
		ID:         d.Item.ID,
		Title:      d.Item.Title,
		URL:        d.Item.URL,
		Priority:   d.Item.Priority.String(),
		CreatedAt:  d.Item.CreatedAt,
		DependsOn:  d.Item.DependsOn,
		Eligible:   d.Eligible(),
		Reason:     string(d.Reason),
		Dependency: d.Dependency,
	}
	if d.Err != nil {
		e.Error = d.Err.Error()
	}
	return e
}

func agentToResponse(a *domain.Agent) AgentResponse {
	return AgentResponse{
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

func countQueue(decisions []scheduler.Decision) QueueCounts {
	c := QueueCounts{Total: len(decisions)}
	for _, d := range decisions {
		switch d.Reason {
		case scheduler.Eligible:
			c.Eligible++
			if c.Next == nil {
				id := d.Item.ID
				c.Next = &id
			}
		case scheduler.SkipBlocked:
			c.Blocked++
		case scheduler.SkipUnverifiedDependency:
			c.Unverified++
		default:
			c.Waiting++
		}
	}
	return c
}

func (s *Server) statusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp StatusResponse

		if s.queue != nil {
			decisions, err := s.queue.Explain(r.Context())
			if err != nil {
				writeError(w, http.StatusBadGateway, err.Error())
				return
			}
			resp.Queue = countQueue(decisions)
		}

		if s.agents != nil {
			agents, err := s.agents.ListAgents(r.Context())
			if err != nil {
				writeError(w, http.StatusInternalServerError, err.Error())
				return
			}
			for _, a := range agents {
				resp.Agents.Total++
				if a.Status == domain.AgentDisabled {
					resp.Agents.Disabled++
				} else {
					resp.Agents.Active++
				}
			}
		}

		if s.observer != nil {
			m := s.observer.Metrics()
			resp.Runs = &m
			resp.Stuck = s.observer.Stuck(time.Now())
		}

		writeJSON(w, resp)
	}
}

func (s *Server) queueHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.queue == nil {
			writeError(w, http.StatusServiceUnavailable, "queue not configured")
			return
		}
		decisions, err := s.queue.Explain(r.Context())
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		entries := make([]QueueEntry, len(decisions))
		for i, d := range decisions {
			entries[i] = decisionToEntry(d)
		}
		writeJSON(w, entries)
	}
}

func (s *Server) listAgentsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.agents == nil {
			writeError(w, http.StatusServiceUnavailable, "performance store not configured")
			return
		}
		agents, err := s.agents.ListAgents(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := make([]AgentResponse, len(agents))
		for i, a := range agents {
			resp[i] = agentToResponse(a)
		}
		writeJSON(w, resp)
	}
}

func (s *Server) reportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.eval == nil {
			writeError(w, http.StatusServiceUnavailable, "judgment not configured")
			return
		}
		res, err := s.eval.Evaluate(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp := ReportResponse{Report: res.Report, Judgments: make([]JudgmentResponse, len(res.Judgments))}
		for i, j := range res.Judgments {
			resp.Judgments[i] = JudgmentResponse{
				Agent:        j.Agent,
				Verdict:      string(j.Verdict),
				Reason:       j.Reason,
				Productivity: j.Productivity,
				Streak:       j.Streak,
			}
		}
		writeJSON(w, resp)
	}
}
