// Package ghtest provides a scripted github.Runner for tests.
package ghtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hochfrequenz/swarm-orchestrator/internal/github"
)

type response struct {
	out []byte
	err error
}

// Runner answers gh invocations from a table keyed by the joined arguments.
// It is safe for concurrent use.
type Runner struct {
	mu        sync.Mutex
	responses map[string]response
	calls     [][]string

	// Fallback, if set, handles invocations with no scripted response
	Fallback func(args []string) ([]byte, error)
}

// New creates an empty Runner
func New() *Runner {
	return &Runner{responses: make(map[string]response)}
}

// On scripts the stdout returned for args
func (r *Runner) On(out string, args ...string) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[strings.Join(args, " ")] = response{out: []byte(out)}
	return r
}

// OnJSON scripts a value marshalled as JSON
func (r *Runner) OnJSON(v any, args ...string) *Runner {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return r.On(string(data), args...)
}

// Fail scripts a gh failure whose stderr is msg
func (r *Runner) Fail(msg string, args ...string) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses[strings.Join(args, " ")] = response{err: &github.CommandError{
		Args:   args,
		Stderr: msg,
		Err:    errors.New("exit status 1"),
	}}
	return r
}

// Run implements github.Runner
func (r *Runner) Run(_ context.Context, args ...string) ([]byte, error) {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), args...))
	resp, ok := r.responses[strings.Join(args, " ")]
	fallback := r.Fallback
	r.mu.Unlock()

	if ok {
		return resp.out, resp.err
	}
	if fallback != nil {
		return fallback(args)
	}
	return nil, &github.CommandError{
		Args:   args,
		Stderr: fmt.Sprintf("no scripted response for %q", strings.Join(args, " ")),
		Err:    errors.New("exit status 1"),
	}
}

// Calls returns every invocation so far, in order
func (r *Runner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Called reports whether an invocation with exactly these args happened
func (r *Runner) Called(args ...string) bool {
	return r.Count(args...) > 0
}

// Count returns how many times args were invoked
func (r *Runner) Count(args ...string) int {
	key := strings.Join(args, " ")
	n := 0
	for _, c := range r.Calls() {
		if strings.Join(c, " ") == key {
			n++
		}
	}
	return n
}

// Label is the gh JSON shape of a label
type Label struct {
	Name string `json:"name"`
}

// Issue is the gh JSON shape returned for issue list and view
type Issue struct {
	Number    int     `json:"number"`
	Title     string  `json:"title"`
	Body      string  `json:"body"`
	URL       string  `json:"url"`
	State     string  `json:"state"`
	Labels    []Label `json:"labels"`
	CreatedAt string  `json:"createdAt"`
}

// Labels builds a label list
func Labels(names ...string) []Label {
	ls := make([]Label, len(names))
	for i, n := range names {
		ls[i] = Label{Name: n}
	}
	return ls
}
