package perfstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_UpsertAndGetAgent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if err := store.UpsertAgent(ctx, &domain.Agent{ID: "thor", Name: "Thor (PR reviewer)"}); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetAgent(ctx, "thor")
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "Thor (PR reviewer)" {
		t.Errorf("Name = %q, want %q", got.Name, "Thor (PR reviewer)")
	}
	if got.Status != domain.AgentActive {
		t.Errorf("Status = %q, want %q", got.Status, domain.AgentActive)
	}
	if got.IntervalMinutes != domain.DefaultIntervalMinutes {
		t.Errorf("IntervalMinutes = %d, want %d", got.IntervalMinutes, domain.DefaultIntervalMinutes)
	}
	if got.LastProductive != nil {
		t.Errorf("LastProductive = %v, want nil", got.LastProductive)
	}

	got.TotalRuns = 9
	if err := store.UpsertAgent(ctx, got); err != nil {
		t.Fatal(err)
	}
	again, err := store.GetAgent(ctx, "thor")
	if err != nil {
		t.Fatal(err)
	}
	if again.TotalRuns != 9 {
		t.Errorf("TotalRuns after update = %d, want 9", again.TotalRuns)
	}
}

func TestStore_UpsertAgent_RequiresID(t *testing.T) {
	store := newStore(t)
	if err := store.UpsertAgent(context.Background(), &domain.Agent{Name: "nameless"}); err == nil {
		t.Error("UpsertAgent() without id succeeded, want error")
	}
}

func TestStore_GetAgent_NotFound(t *testing.T) {
	store := newStore(t)
	_, err := store.GetAgent(context.Background(), "ghost")
	if !errors.Is(err, ErrAgentNotFound) {
		t.Errorf("GetAgent() error = %v, want ErrAgentNotFound", err)
	}
}

func TestStore_ListAgents(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	for _, id := range []string{"vision", "black_widow", "thor"} {
		if err := store.UpsertAgent(ctx, &domain.Agent{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	agents, err := store.ListAgents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, a := range agents {
		ids = append(ids, a.ID)
	}
	if diff := cmp.Diff([]string{"black_widow", "thor", "vision"}, ids); diff != "" {
		t.Errorf("ListAgents() ids mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_LogRun(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	runs := []domain.Run{
		{AgentID: "thor", Productive: false, OffenseType: domain.OffenseEmptyRun, Summary: "no PRs", At: at},
		{AgentID: "thor", Productive: false, At: at.Add(time.Minute)},
		{AgentID: "thor", Productive: true, Summary: "merged #12", At: at.Add(2 * time.Minute)},
		{AgentID: "thor", Productive: false, OffenseType: domain.OffenseSilentExit, At: at.Add(3 * time.Minute)},
	}
	var got *domain.Agent
	for _, r := range runs {
		var err error
		if got, err = store.LogRun(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	if got.TotalRuns != 4 {
		t.Errorf("TotalRuns = %d, want 4", got.TotalRuns)
	}
	if got.ProductiveRuns != 1 {
		t.Errorf("ProductiveRuns = %d, want 1", got.ProductiveRuns)
	}
	if got.OffenseStreak != 1 {
		t.Errorf("OffenseStreak = %d, want 1", got.OffenseStreak)
	}
	if got.LastProductive == nil || !got.LastProductive.Equal(at.Add(2*time.Minute)) {
		t.Errorf("LastProductive = %v, want %v", got.LastProductive, at.Add(2*time.Minute))
	}
	if got.Name != "thor" {
		t.Errorf("Name of auto-registered agent = %q, want %q", got.Name, "thor")
	}

	offenses, err := store.RecentOffenses(ctx, "thor", 10)
	if err != nil {
		t.Fatal(err)
	}
	var types []domain.OffenseType
	for _, o := range offenses {
		types = append(types, o.Type)
	}
	// the untyped unproductive run counts toward the streak but records no offense
	want := []domain.OffenseType{domain.OffenseEmptyRun, domain.OffenseSilentExit}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("RecentOffenses() types mismatch (-want +got):\n%s", diff)
	}
	if offenses[0].Summary != "no PRs" {
		t.Errorf("offense summary = %q, want %q", offenses[0].Summary, "no PRs")
	}

	history, err := store.ListRuns(ctx, "thor", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("ListRuns() returned %d runs, want 2", len(history))
	}
	if history[0].OffenseType != domain.OffenseSilentExit || !history[1].Productive {
		t.Errorf("ListRuns() = %+v, want newest first", history)
	}
	if history[0].ID == "" {
		t.Error("ListRuns() run has no generated id")
	}
}

func TestStore_LogRun_ProductiveDropsOffenseType(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	if _, err := store.LogRun(ctx, domain.Run{AgentID: "vision", Productive: true, OffenseType: domain.OffenseGhostRun}); err != nil {
		t.Fatal(err)
	}
	offenses, err := store.RecentOffenses(ctx, "vision", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(offenses) != 0 {
		t.Errorf("RecentOffenses() = %v, want none for a productive run", offenses)
	}
}

func TestStore_LogRun_RequiresAgent(t *testing.T) {
	store := newStore(t)
	if _, err := store.LogRun(context.Background(), domain.Run{Productive: true}); err == nil {
		t.Error("LogRun() without agent succeeded, want error")
	}
}

func TestStore_RecentOffenses_Window(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	at := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	kinds := []domain.OffenseType{domain.OffenseGhostRun, domain.OffenseEmptyRun, domain.OffenseErrorLoop}
	for i, k := range kinds {
		if _, err := store.LogRun(ctx, domain.Run{AgentID: "hulk", OffenseType: k, At: at.Add(time.Duration(i) * time.Hour)}); err != nil {
			t.Fatal(err)
		}
	}

	offenses, err := store.RecentOffenses(ctx, "hulk", 2)
	if err != nil {
		t.Fatal(err)
	}
	var types []domain.OffenseType
	for _, o := range offenses {
		types = append(types, o.Type)
	}
	want := []domain.OffenseType{domain.OffenseEmptyRun, domain.OffenseErrorLoop}
	if diff := cmp.Diff(want, types); diff != "" {
		t.Errorf("RecentOffenses(2) mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_Enforcement(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	if err := store.UpsertAgent(ctx, &domain.Agent{ID: "loki", OffenseStreak: 4}); err != nil {
		t.Fatal(err)
	}

	for _, want := range []int{10, 20} {
		got, err := store.ApplyTimeout(ctx, "loki")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("ApplyTimeout() = %d, want %d", got, want)
		}
	}

	if err := store.ResetStreak(ctx, "loki"); err != nil {
		t.Fatal(err)
	}
	a, err := store.GetAgent(ctx, "loki")
	if err != nil {
		t.Fatal(err)
	}
	if a.TimeoutCount != 2 {
		t.Errorf("TimeoutCount = %d, want 2", a.TimeoutCount)
	}
	if a.OffenseStreak != 0 {
		t.Errorf("OffenseStreak after reset = %d, want 0", a.OffenseStreak)
	}

	if err := store.Disable(ctx, "loki"); err != nil {
		t.Fatal(err)
	}
	a, err = store.GetAgent(ctx, "loki")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != domain.AgentDisabled || a.IntervalMinutes != 0 {
		t.Errorf("after Disable status = %q interval = %d, want disabled 0", a.Status, a.IntervalMinutes)
	}

	// a disabled agent has no interval to double
	if got, err := store.ApplyTimeout(ctx, "loki"); err != nil || got != 10 {
		t.Errorf("ApplyTimeout() on zero interval = %d, %v, want 10", got, err)
	}

	if err := store.Enable(ctx, "loki"); err != nil {
		t.Fatal(err)
	}
	a, err = store.GetAgent(ctx, "loki")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != domain.AgentActive || a.IntervalMinutes != domain.DefaultIntervalMinutes {
		t.Errorf("after Enable status = %q interval = %d, want active %d", a.Status, a.IntervalMinutes, domain.DefaultIntervalMinutes)
	}
}

func TestStore_Enforcement_UnknownAgent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	checks := map[string]error{
		"ResetStreak": store.ResetStreak(ctx, "nobody"),
		"Disable":     store.Disable(ctx, "nobody"),
		"Enable":      store.Enable(ctx, "nobody"),
	}
	_, checks["ApplyTimeout"] = store.ApplyTimeout(ctx, "nobody")
	for name, err := range checks {
		if !errors.Is(err, ErrAgentNotFound) {
			t.Errorf("%s() error = %v, want ErrAgentNotFound", name, err)
		}
	}
}

const legacyJSON = `{
  "agents": {
    "black_widow": {
      "name": "Black Widow (Issue Scout)",
      "total_runs": 12,
      "productive_runs": 3,
      "current_offense_streak": 4,
      "offense_history": [
        {"type": "empty_run", "timestamp": "2025-01-10T08:00:00.123456Z", "summary": "nothing new"},
        {"type": "silent_exit", "timestamp": "2025-01-10T09:00:00Z", "summary": ""}
      ],
      "status": "active",
      "current_interval_minutes": 10,
      "timeout_count": 1,
      "last_productive": "2025-01-09T17:30:00.000000Z"
    },
    "hawkeye": {
      "name": "Hawkeye",
      "status": "disabled",
      "current_interval_minutes": 0
    },
    "vision": {}
  },
  "thresholds": {"minimum_productivity_ratio": 0.6},
  "last_updated": "2025-01-10T09:00:00Z"
}`

func TestStore_ImportJSON(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	// stale offenses are replaced by the imported history
	if _, err := store.LogRun(ctx, domain.Run{AgentID: "black_widow", OffenseType: domain.OffenseGhostRun}); err != nil {
		t.Fatal(err)
	}

	n, err := store.ImportJSON(ctx, strings.NewReader(legacyJSON))
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("ImportJSON() = %d, want 3", n)
	}

	bw, err := store.GetAgent(ctx, "black_widow")
	if err != nil {
		t.Fatal(err)
	}
	if bw.TotalRuns != 12 || bw.ProductiveRuns != 3 || bw.OffenseStreak != 4 {
		t.Errorf("black_widow counters = %d/%d streak %d, want 12/3 streak 4", bw.TotalRuns, bw.ProductiveRuns, bw.OffenseStreak)
	}
	if bw.IntervalMinutes != 10 || bw.TimeoutCount != 1 {
		t.Errorf("black_widow interval = %d timeouts = %d, want 10 and 1", bw.IntervalMinutes, bw.TimeoutCount)
	}
	wantLast := time.Date(2025, 1, 9, 17, 30, 0, 0, time.UTC)
	if bw.LastProductive == nil || !bw.LastProductive.Equal(wantLast) {
		t.Errorf("LastProductive = %v, want %v", bw.LastProductive, wantLast)
	}

	offenses, err := store.RecentOffenses(ctx, "black_widow", 10)
	if err != nil {
		t.Fatal(err)
	}
	var types []domain.OffenseType
	for _, o := range offenses {
		types = append(types, o.Type)
	}
	if diff := cmp.Diff([]domain.OffenseType{domain.OffenseEmptyRun, domain.OffenseSilentExit}, types); diff != "" {
		t.Errorf("imported offenses mismatch (-want +got):\n%s", diff)
	}

	hawkeye, err := store.GetAgent(ctx, "hawkeye")
	if err != nil {
		t.Fatal(err)
	}
	if hawkeye.Status != domain.AgentDisabled || hawkeye.IntervalMinutes != 0 {
		t.Errorf("hawkeye status = %q interval = %d, want disabled 0", hawkeye.Status, hawkeye.IntervalMinutes)
	}

	vision, err := store.GetAgent(ctx, "vision")
	if err != nil {
		t.Fatal(err)
	}
	if vision.Name != "vision" || vision.Status != domain.AgentActive || vision.IntervalMinutes != domain.DefaultIntervalMinutes {
		t.Errorf("vision = %+v, want defaults", vision)
	}
}

func TestStore_ImportJSON_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not json", `{agents`},
		{"bad status", `{"agents": {"x": {"status": "sleeping"}}}`},
		{"bad timestamp", `{"agents": {"x": {"offense_history": [{"type": "empty_run", "timestamp": "yesterday"}]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStore(t)
			if _, err := store.ImportJSON(context.Background(), strings.NewReader(tt.doc)); err == nil {
				t.Error("ImportJSON() succeeded, want error")
			}
			agents, err := store.ListAgents(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			if len(agents) != 0 {
				t.Errorf("ListAgents() after failed import = %d agents, want 0", len(agents))
			}
		})
	}
}
