package ghtest

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"sync"

	"github.com/hochfrequenz/swarm-orchestrator/internal/github"
)

// PR is an in-memory pull request
type PR struct {
	Number    int
	Title     string
	Body      string
	HeadRef   string
	CreatedAt string
	Labels    []string
	Checks    []Check
	Diff      string
	State     string
	Comments  []string
	FailMerge bool
}

// Check is a CheckRun rollup entry
type Check struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

// DefaultCreatedAt is used for fixtures registered without a timestamp
const DefaultCreatedAt = "2025-01-01T00:00:00Z"

// Tracker is a stateful fake of the gh issue and pr commands. Edits,
// comments, closes and merges change its state. Install it as a Runner's
// Fallback, or use it directly as a github.Runner.
type Tracker struct {
	mu       sync.Mutex
	issues   map[int]*Issue
	comments map[int][]string
	prs      map[int]*PR

	// LabelSticks=false simulates an edit that is reverted by a concurrent writer
	LabelSticks bool
	// FailState lists issue ids whose state lookups fail with a server error
	FailState map[int]bool
	// OnView runs before an issue is viewed, to simulate concurrent writers
	OnView func(t *Tracker, number int)
}

// NewTracker creates an empty Tracker
func NewTracker() *Tracker {
	return &Tracker{
		issues:      make(map[int]*Issue),
		comments:    make(map[int][]string),
		prs:         make(map[int]*PR),
		LabelSticks: true,
		FailState:   make(map[int]bool),
	}
}

// AddIssue registers an issue. An empty state means OPEN.
func (t *Tracker) AddIssue(number int, title, body, createdAt, state string, labels ...string) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state == "" {
		state = "OPEN"
	}
	if createdAt == "" {
		createdAt = DefaultCreatedAt
	}
	t.issues[number] = &Issue{
		Number:    number,
		Title:     title,
		Body:      body,
		URL:       fmt.Sprintf("https://github.com/o/r/issues/%d", number),
		State:     state,
		Labels:    Labels(labels...),
		CreatedAt: createdAt,
	}
	return t
}

// AddPR registers an open pull request
func (t *Tracker) AddPR(pr PR) *Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pr.State == "" {
		pr.State = "OPEN"
	}
	if pr.CreatedAt == "" {
		pr.CreatedAt = DefaultCreatedAt
	}
	t.prs[pr.Number] = &pr
	return t
}

// SetLabels replaces an issue's labels
func (t *Tracker) SetLabels(number int, labels ...string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if is, ok := t.issues[number]; ok {
		is.Labels = Labels(labels...)
	}
}

// IssueLabels returns an issue's current label names
func (t *Tracker) IssueLabels(number int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	is, ok := t.issues[number]
	if !ok {
		return nil
	}
	return names(is.Labels)
}

// IssueState returns an issue's current state
func (t *Tracker) IssueState(number int) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if is, ok := t.issues[number]; ok {
		return is.State
	}
	return ""
}

// Comments returns the comments posted on an issue
func (t *Tracker) Comments(number int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.comments[number])
}

// PR returns a copy of a pull request's current state
func (t *Tracker) PR(number int) PR {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pr, ok := t.prs[number]; ok {
		cp := *pr
		cp.Labels = slices.Clone(pr.Labels)
		cp.Comments = slices.Clone(pr.Comments)
		return cp
	}
	return PR{}
}

// Handle dispatches one gh invocation
func (t *Tracker) Handle(args []string) ([]byte, error) {
	if len(args) < 2 {
		return nil, fail(args, "unknown command")
	}
	if args[0] == "issue" && args[1] == "view" && len(args) > 2 && t.OnView != nil {
		if n, err := strconv.Atoi(args[2]); err == nil {
			t.OnView(t, n)
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	switch args[0] + " " + args[1] {
	case "issue list":
		return t.listIssues()
	case "issue view":
		return t.viewIssue(args)
	case "issue edit":
		return t.editIssue(args)
	case "issue comment":
		return t.commentIssue(args)
	case "issue close":
		return t.closeIssue(args)
	case "pr list":
		return t.listPRs()
	case "pr view":
		return t.viewPR(args)
	case "pr diff":
		pr, err := t.pr(args)
		if err != nil {
			return nil, err
		}
		return []byte(pr.Diff), nil
	case "pr merge":
		return t.mergePR(args)
	case "pr comment":
		pr, err := t.pr(args)
		if err != nil {
			return nil, err
		}
		pr.Comments = append(pr.Comments, flag(args, "--body"))
		return nil, nil
	case "pr edit":
		pr, err := t.pr(args)
		if err != nil {
			return nil, err
		}
		for _, l := range flags(args, "--add-label") {
			if !slices.Contains(pr.Labels, l) {
				pr.Labels = append(pr.Labels, l)
			}
		}
		for _, l := range flags(args, "--remove-label") {
			pr.Labels = slices.DeleteFunc(pr.Labels, func(x string) bool { return x == l })
		}
		return nil, nil
	}
	return nil, fail(args, "unknown command")
}

func (t *Tracker) listIssues() ([]byte, error) {
	var out []Issue
	for _, is := range t.issues {
		if is.State == "OPEN" {
			out = append(out, *is)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return json.Marshal(out)
}

func (t *Tracker) issue(args []string) (*Issue, error) {
	n, err := strconv.Atoi(args[2])
	if err != nil {
		return nil, fail(args, "invalid issue number")
	}
	is, ok := t.issues[n]
	if !ok {
		return nil, fail(args, fmt.Sprintf("GraphQL: Could not resolve to an issue or pull request with the number of %d.", n))
	}
	return is, nil
}

func (t *Tracker) viewIssue(args []string) ([]byte, error) {
	is, err := t.issue(args)
	if err != nil {
		return nil, err
	}
	if flag(args, "--json") == "state" {
		if t.FailState[is.Number] {
			return nil, fail(args, "HTTP 502: Bad Gateway")
		}
		return json.Marshal(map[string]string{"state": is.State})
	}
	return json.Marshal(is)
}

func (t *Tracker) editIssue(args []string) ([]byte, error) {
	is, err := t.issue(args)
	if err != nil {
		return nil, err
	}
	current := names(is.Labels)
	for _, l := range flags(args, "--remove-label") {
		current = slices.DeleteFunc(current, func(s string) bool { return s == l })
	}
	if t.LabelSticks {
		for _, l := range flags(args, "--add-label") {
			if !slices.Contains(current, l) {
				current = append(current, l)
			}
		}
	}
	is.Labels = Labels(current...)
	return nil, nil
}

func (t *Tracker) commentIssue(args []string) ([]byte, error) {
	is, err := t.issue(args)
	if err != nil {
		return nil, err
	}
	t.comments[is.Number] = append(t.comments[is.Number], flag(args, "--body"))
	return nil, nil
}

func (t *Tracker) closeIssue(args []string) ([]byte, error) {
	is, err := t.issue(args)
	if err != nil {
		return nil, err
	}
	is.State = "CLOSED"
	return nil, nil
}

type prJSON struct {
	Number      int     `json:"number"`
	Title       string  `json:"title"`
	Body        string  `json:"body"`
	URL         string  `json:"url"`
	HeadRefName string  `json:"headRefName"`
	Labels      []Label `json:"labels"`
	CreatedAt   string  `json:"createdAt"`
}

func (t *Tracker) listPRs() ([]byte, error) {
	var out []prJSON
	for _, pr := range t.prs {
		if pr.State != "OPEN" {
			continue
		}
		out = append(out, prJSON{
			Number:      pr.Number,
			Title:       pr.Title,
			Body:        pr.Body,
			URL:         fmt.Sprintf("https://github.com/o/r/pull/%d", pr.Number),
			HeadRefName: pr.HeadRef,
			Labels:      Labels(pr.Labels...),
			CreatedAt:   pr.CreatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return json.Marshal(out)
}

func (t *Tracker) pr(args []string) (*PR, error) {
	n, err := strconv.Atoi(args[2])
	if err != nil {
		return nil, fail(args, "invalid PR number")
	}
	pr, ok := t.prs[n]
	if !ok {
		return nil, fail(args, fmt.Sprintf("no pull requests found for branch %q", args[2]))
	}
	return pr, nil
}

func (t *Tracker) viewPR(args []string) ([]byte, error) {
	pr, err := t.pr(args)
	if err != nil {
		return nil, err
	}
	type rollup struct {
		Typename   string `json:"__typename"`
		Name       string `json:"name"`
		Status     string `json:"status"`
		Conclusion string `json:"conclusion"`
	}
	checks := make([]rollup, len(pr.Checks))
	for i, c := range pr.Checks {
		checks[i] = rollup{Typename: "CheckRun", Name: c.Name, Status: c.Status, Conclusion: c.Conclusion}
	}
	return json.Marshal(map[string]any{"statusCheckRollup": checks})
}

func (t *Tracker) mergePR(args []string) ([]byte, error) {
	pr, err := t.pr(args)
	if err != nil {
		return nil, err
	}
	if pr.FailMerge {
		return nil, fail(args, "Pull request is not mergeable: the merge commit cannot be cleanly created.")
	}
	pr.State = "MERGED"
	return nil, nil
}

func names(ls []Label) []string {
	out := make([]string, len(ls))
	for i, l := range ls {
		out[i] = l.Name
	}
	return out
}

func flag(args []string, name string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			return args[i+1]
		}
	}
	return ""
}

func flags(args []string, name string) []string {
	var out []string
	for i := 0; i < len(args)-1; i++ {
		if args[i] == name {
			out = append(out, args[i+1])
		}
	}
	return out
}

func fail(args []string, msg string) error {
	return &github.CommandError{Args: args, Stderr: msg, Err: errors.New("exit status 1")}
}

// Runner returns a scripted Runner that delegates everything to t
func (t *Tracker) Runner() *Runner {
	r := New()
	r.Fallback = t.Handle
	return r
}

// compile-time check that the tracker's Runner satisfies github.Runner
var _ github.Runner = (*Runner)(nil)
