// Package perfstore persists agent performance records in SQLite.
package perfstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
)

// ErrAgentNotFound is returned for an unknown agent id
var ErrAgentNotFound = errors.New("agent not found")

const agentColumns = `id, name, status, total_runs, productive_runs, offense_streak, interval_minutes, timeout_count, last_productive, updated_at`

// Store provides SQLite-backed performance persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New opens the database at path and applies the schema
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps :memory: databases and transactions consistent
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// UpsertAgent inserts or replaces an agent record. An empty status means
// active, and an active agent without an interval gets the default one.
func (s *Store) UpsertAgent(ctx context.Context, a *domain.Agent) error {
	if a.ID == "" {
		return errors.New("agent id is required")
	}
	rec := *a
	if rec.Name == "" {
		rec.Name = rec.ID
	}
	if rec.Status == "" {
		rec.Status = domain.AgentActive
	}
	if rec.Status == domain.AgentActive && rec.IntervalMinutes == 0 {
		rec.IntervalMinutes = domain.DefaultIntervalMinutes
	}
	rec.UpdatedAt = s.now()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			total_runs = excluded.total_runs,
			productive_runs = excluded.productive_runs,
			offense_streak = excluded.offense_streak,
			interval_minutes = excluded.interval_minutes,
			timeout_count = excluded.timeout_count,
			last_productive = excluded.last_productive,
			updated_at = excluded.updated_at
	`,
		rec.ID,
		rec.Name,
		string(rec.Status),
		rec.TotalRuns,
		rec.ProductiveRuns,
		rec.OffenseStreak,
		rec.IntervalMinutes,
		rec.TimeoutCount,
		nullTime(rec.LastProductive),
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert agent %s: %w", rec.ID, err)
	}
	return nil
}

// GetAgent retrieves an agent by id
func (s *Store) GetAgent(ctx context.Context, id string) (*domain.Agent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, ErrAgentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", id, err)
	}
	return a, nil
}

// ListAgents returns every agent ordered by id
func (s *Store) ListAgents(ctx context.Context) ([]*domain.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// LogRun records one run and updates the agent's counters. Unknown agents
// are registered on their first run. The updated agent is returned.
func (s *Store) LogRun(ctx context.Context, run domain.Run) (*domain.Agent, error) {
	if run.AgentID == "" {
		return nil, errors.New("run has no agent id")
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.At.IsZero() {
		run.At = s.now()
	}
	if run.Productive {
		run.OffenseType = ""
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO agents (id, name, status, interval_minutes, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, run.AgentID, run.AgentID, string(domain.AgentActive), domain.DefaultIntervalMinutes, run.At); err != nil {
		return nil, fmt.Errorf("register agent %s: %w", run.AgentID, err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, agent_id, productive, offense_type, summary, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.AgentID, run.Productive, string(run.OffenseType), run.Summary, run.At); err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	if run.Productive {
		_, err = tx.ExecContext(ctx, `
			UPDATE agents SET
				total_runs = total_runs + 1,
				productive_runs = productive_runs + 1,
				offense_streak = 0,
				last_productive = ?,
				updated_at = ?
			WHERE id = ?
		`, run.At, run.At, run.AgentID)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE agents SET
				total_runs = total_runs + 1,
				offense_streak = offense_streak + 1,
				updated_at = ?
			WHERE id = ?
		`, run.At, run.AgentID)
	}
	if err != nil {
		return nil, fmt.Errorf("update agent %s: %w", run.AgentID, err)
	}

	if !run.Productive && run.OffenseType != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO offenses (agent_id, run_id, type, summary, at)
			VALUES (?, ?, ?, ?, ?)
		`, run.AgentID, run.ID, string(run.OffenseType), run.Summary, run.At); err != nil {
			return nil, fmt.Errorf("insert offense: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, run.AgentID)
}

// RecentOffenses returns up to n of the agent's latest offenses, oldest first
func (s *Store) RecentOffenses(ctx context.Context, agentID string, n int) ([]domain.Offense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, summary, at FROM offenses
		WHERE agent_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, agentID, n)
	if err != nil {
		return nil, fmt.Errorf("offenses for %s: %w", agentID, err)
	}
	defer rows.Close()

	var offenses []domain.Offense
	for rows.Next() {
		var o domain.Offense
		var typ string
		var summary sql.NullString
		if err := rows.Scan(&typ, &summary, &o.At); err != nil {
			return nil, err
		}
		o.Type = domain.OffenseType(typ)
		o.Summary = summary.String
		offenses = append(offenses, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(offenses)-1; i < j; i, j = i+1, j-1 {
		offenses[i], offenses[j] = offenses[j], offenses[i]
	}
	return offenses, nil
}

// ListRuns returns up to limit of the agent's latest runs, newest first
func (s *Store) ListRuns(ctx context.Context, agentID string, limit int) ([]domain.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, agent_id, productive, offense_type, summary, at FROM runs
		WHERE agent_id = ?
		ORDER BY at DESC, rowid DESC
		LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("runs for %s: %w", agentID, err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var r domain.Run
		var offense, summary sql.NullString
		if err := rows.Scan(&r.ID, &r.AgentID, &r.Productive, &offense, &summary, &r.At); err != nil {
			return nil, err
		}
		r.OffenseType = domain.OffenseType(offense.String)
		r.Summary = summary.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ResetStreak clears the agent's offense streak
func (s *Store) ResetStreak(ctx context.Context, agentID string) error {
	return s.update(ctx, agentID, `offense_streak = 0`)
}

// ApplyTimeout doubles the agent's interval and counts the timeout. It
// returns the new interval.
func (s *Store) ApplyTimeout(ctx context.Context, agentID string) (int, error) {
	err := s.update(ctx, agentID,
		`interval_minutes = CASE WHEN interval_minutes > 0 THEN interval_minutes * 2 ELSE ? END,
		 timeout_count = timeout_count + 1`,
		domain.DefaultIntervalMinutes*2)
	if err != nil {
		return 0, err
	}
	a, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return 0, err
	}
	return a.IntervalMinutes, nil
}

// Disable stops scheduling the agent
func (s *Store) Disable(ctx context.Context, agentID string) error {
	return s.update(ctx, agentID, `status = ?, interval_minutes = 0`, string(domain.AgentDisabled))
}

// Enable reactivates the agent at the default interval with a clean streak
func (s *Store) Enable(ctx context.Context, agentID string) error {
	return s.update(ctx, agentID, `status = ?, interval_minutes = ?, offense_streak = 0`,
		string(domain.AgentActive), domain.DefaultIntervalMinutes)
}

func (s *Store) update(ctx context.Context, agentID, set string, args ...any) error {
	args = append(args, s.now(), agentID)
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET `+set+`, updated_at = ? WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("update agent %s: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", agentID, ErrAgentNotFound)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*domain.Agent, error) {
	var a domain.Agent
	var status string
	var lastProductive, updatedAt sql.NullTime

	err := row.Scan(&a.ID, &a.Name, &status, &a.TotalRuns, &a.ProductiveRuns, &a.OffenseStreak,
		&a.IntervalMinutes, &a.TimeoutCount, &lastProductive, &updatedAt)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AgentStatus(status)
	if lastProductive.Valid {
		t := lastProductive.Time
		a.LastProductive = &t
	}
	if updatedAt.Valid {
		a.UpdatedAt = updatedAt.Time
	}
	return &a, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
