package github

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
)

const (
	issueFields = "number,title,body,url,state,labels,createdAt"
	prFields    = "number,title,body,url,headRefName,labels,createdAt"
)

// Issue is the raw gh view of an issue
type Issue struct {
	Number    int
	Title     string
	Body      string
	URL       string
	State     string
	Labels    []string
	CreatedAt time.Time
}

// Client issues gh commands through a Runner
type Client struct {
	runner Runner
}

// NewClient creates a Client
func NewClient(r Runner) *Client {
	return &Client{runner: r}
}

type ghLabel struct {
	Name string `json:"name"`
}

type ghIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	URL       string    `json:"url"`
	State     string    `json:"state"`
	Labels    []ghLabel `json:"labels"`
	CreatedAt time.Time `json:"createdAt"`
}

func (g ghIssue) toIssue() Issue {
	return Issue{
		Number:    g.Number,
		Title:     g.Title,
		Body:      g.Body,
		URL:       g.URL,
		State:     g.State,
		Labels:    labelNames(g.Labels),
		CreatedAt: g.CreatedAt,
	}
}

type ghPR struct {
	Number      int       `json:"number"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	HeadRefName string    `json:"headRefName"`
	Labels      []ghLabel `json:"labels"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ghCheck covers both CheckRun and StatusContext rollup entries
type ghCheck struct {
	Typename   string `json:"__typename"`
	Name       string `json:"name"`
	Context    string `json:"context"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
	State      string `json:"state"`
}

func (c ghCheck) toCheck() domain.Check {
	if c.Typename != "StatusContext" {
		return domain.Check{Name: c.Name, Status: c.Status, Conclusion: c.Conclusion}
	}
	check := domain.Check{Name: c.Context}
	switch strings.ToUpper(c.State) {
	case "PENDING", "EXPECTED":
		check.Status = "IN_PROGRESS"
	case "SUCCESS":
		check.Status, check.Conclusion = "COMPLETED", "SUCCESS"
	default:
		check.Status, check.Conclusion = "COMPLETED", "FAILURE"
	}
	return check
}

func labelNames(ls []ghLabel) []string {
	names := make([]string, len(ls))
	for i, l := range ls {
		names[i] = l.Name
	}
	return names
}

// ListOpenIssues returns up to limit open issues
func (c *Client) ListOpenIssues(ctx context.Context, limit int) ([]Issue, error) {
	out, err := c.runner.Run(ctx, "issue", "list",
		"--state", "open",
		"--json", issueFields,
		"--limit", strconv.Itoa(limit))
	if err != nil {
		return nil, fmt.Errorf("list issues: %w", err)
	}

	var raw []ghIssue
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse issue list: %w", err)
	}
	issues := make([]Issue, len(raw))
	for i, g := range raw {
		issues[i] = g.toIssue()
	}
	return issues, nil
}

// ViewIssue fetches a single issue
func (c *Client) ViewIssue(ctx context.Context, number int) (Issue, error) {
	out, err := c.runner.Run(ctx, "issue", "view", strconv.Itoa(number), "--json", issueFields)
	if err != nil {
		return Issue{}, fmt.Errorf("view issue #%d: %w", number, err)
	}
	var g ghIssue
	if err := json.Unmarshal(out, &g); err != nil {
		return Issue{}, fmt.Errorf("parse issue #%d: %w", number, err)
	}
	return g.toIssue(), nil
}

// IssueState returns the lifecycle state of an issue
func (c *Client) IssueState(ctx context.Context, number int) (domain.LifecycleState, error) {
	out, err := c.runner.Run(ctx, "issue", "view", strconv.Itoa(number), "--json", "state")
	if err != nil {
		return "", fmt.Errorf("issue #%d state: %w", number, err)
	}
	var g struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(out, &g); err != nil {
		return "", fmt.Errorf("parse issue #%d state: %w", number, err)
	}
	return domain.ParseState(g.State), nil
}

// EditLabels adds and removes labels on an issue
func (c *Client) EditLabels(ctx context.Context, number int, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	args := []string{"issue", "edit", strconv.Itoa(number)}
	for _, l := range add {
		args = append(args, "--add-label", l)
	}
	for _, l := range remove {
		args = append(args, "--remove-label", l)
	}
	if _, err := c.runner.Run(ctx, args...); err != nil {
		return fmt.Errorf("edit labels on #%d: %w", number, err)
	}
	return nil
}

// CommentIssue posts a comment on an issue
func (c *Client) CommentIssue(ctx context.Context, number int, body string) error {
	if _, err := c.runner.Run(ctx, "issue", "comment", strconv.Itoa(number), "--body", body); err != nil {
		return fmt.Errorf("comment on #%d: %w", number, err)
	}
	return nil
}

// CloseIssue closes an issue as completed
func (c *Client) CloseIssue(ctx context.Context, number int) error {
	if _, err := c.runner.Run(ctx, "issue", "close", strconv.Itoa(number), "--reason", "completed"); err != nil {
		return fmt.Errorf("close #%d: %w", number, err)
	}
	return nil
}

// ListOpenPRs returns up to limit open pull requests, without checks
func (c *Client) ListOpenPRs(ctx context.Context, limit int) ([]domain.PullRequest, error) {
	out, err := c.runner.Run(ctx, "pr", "list",
		"--state", "open",
		"--json", prFields,
		"--limit", strconv.Itoa(limit))
	if err != nil {
		return nil, fmt.Errorf("list pull requests: %w", err)
	}

	var raw []ghPR
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse pull request list: %w", err)
	}
	prs := make([]domain.PullRequest, len(raw))
	for i, g := range raw {
		prs[i] = domain.PullRequest{
			Number:    g.Number,
			Title:     g.Title,
			Body:      g.Body,
			HeadRef:   g.HeadRefName,
			URL:       g.URL,
			CreatedAt: g.CreatedAt,
			Labels:    labelNames(g.Labels),
		}
	}
	return prs, nil
}

// PRChecks returns the status check rollup of a pull request
func (c *Client) PRChecks(ctx context.Context, number int) ([]domain.Check, error) {
	out, err := c.runner.Run(ctx, "pr", "view", strconv.Itoa(number), "--json", "statusCheckRollup")
	if err != nil {
		return nil, fmt.Errorf("checks for PR #%d: %w", number, err)
	}
	var g struct {
		StatusCheckRollup []ghCheck `json:"statusCheckRollup"`
	}
	if err := json.Unmarshal(out, &g); err != nil {
		return nil, fmt.Errorf("parse checks for PR #%d: %w", number, err)
	}
	checks := make([]domain.Check, len(g.StatusCheckRollup))
	for i, ch := range g.StatusCheckRollup {
		checks[i] = ch.toCheck()
	}
	return checks, nil
}

// PRDiff returns the unified diff of a pull request
func (c *Client) PRDiff(ctx context.Context, number int) (string, error) {
	out, err := c.runner.Run(ctx, "pr", "diff", strconv.Itoa(number))
	if err != nil {
		return "", fmt.Errorf("diff for PR #%d: %w", number, err)
	}
	return string(out), nil
}

// CommentPR posts a comment on a pull request
func (c *Client) CommentPR(ctx context.Context, number int, body string) error {
	if _, err := c.runner.Run(ctx, "pr", "comment", strconv.Itoa(number), "--body", body); err != nil {
		return fmt.Errorf("comment on PR #%d: %w", number, err)
	}
	return nil
}

// EditPRLabels adds and removes labels on a pull request
func (c *Client) EditPRLabels(ctx context.Context, number int, add, remove []string) error {
	if len(add) == 0 && len(remove) == 0 {
		return nil
	}
	args := []string{"pr", "edit", strconv.Itoa(number)}
	for _, l := range add {
		args = append(args, "--add-label", l)
	}
	for _, l := range remove {
		args = append(args, "--remove-label", l)
	}
	if _, err := c.runner.Run(ctx, args...); err != nil {
		return fmt.Errorf("label PR #%d: %w", number, err)
	}
	return nil
}

// MergePR squash-merges a pull request and deletes its branch
func (c *Client) MergePR(ctx context.Context, number int) error {
	if _, err := c.runner.Run(ctx, "pr", "merge", strconv.Itoa(number), "--squash", "--delete-branch"); err != nil {
		return fmt.Errorf("merge PR #%d: %w", number, err)
	}
	return nil
}
