package domain

// Judgment is one agent's verdict from a timeout pass
type Judgment struct {
	Agent        string
	Verdict      Verdict
	Reason       string
	Productivity float64
	Streak       int
	Enforced     bool
}

// BalanceReport summarizes swarm health after a timeout pass
type BalanceReport struct {
	TotalAgents       int     `json:"total_agents" yaml:"total_agents"`
	ProductiveAgents  int     `json:"productive_agents" yaml:"productive_agents"`
	TimedOut          int     `json:"timed_out" yaml:"timed_out"`
	Disabled          int     `json:"disabled" yaml:"disabled"`
	SwarmProductivity float64 `json:"swarm_productivity" yaml:"swarm_productivity"`
}
