package controller

import (
	"context"
	"database/sql"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/xerrors"

	"github.com/wepogo/hilbot"
)

// A Store keeps run history in Postgres for the status UI. It is
// optional: a controller with a nil Store simply doesn't record
// history.
type Store struct {
	db *sql.DB
}

// OpenStore connects to the result database.
func OpenStore(dbURL string) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, xerrors.Errorf("database not connected, check DATABASE_URL: %w", err)
	}
	return &Store{db: db}, nil
}

// A RunRecord is one row of run history.
type RunRecord struct {
	ID       int64
	Ref      string
	Result   int
	Agents   int
	RanAt    time.Time
}

// An AgentRecord is one agent's contribution to a run.
type AgentRecord struct {
	RunID     int64
	Agent     string
	Session   string
	Instances string
	Result    int
	Elapsed   time.Duration
	URLs      []string
}

// SaveRun records one completed run and its per-agent results.
func (s *Store) SaveRun(ctx context.Context, ref string, result int, results []hilbot.SessionResult) error {
	const insertRun = `
		INSERT INTO run (ref, result, agents)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	const insertAgent = `
		INSERT INTO agent_result (run_id, agent, session, instances, result, elapsed_ms, urls)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var runID int64
	err = tx.QueryRowContext(ctx, insertRun, ref, result, len(results)).Scan(&runID)
	if err != nil {
		return err
	}
	for _, res := range results {
		var names []string
		for _, in := range res.Instances {
			names = append(names, in.String())
		}
		_, err = tx.ExecContext(ctx, insertAgent,
			runID, res.Agent, res.Session, strings.Join(names, " "), res.Result,
			res.Elapsed/time.Millisecond, strings.Join(res.URLs, "\n"))
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// RecentRuns lists the latest n runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, n int) ([]RunRecord, error) {
	const q = `
		SELECT id, ref, result, agents, ran_at
		FROM run
		ORDER BY id DESC
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		err = rows.Scan(&r.ID, &r.Ref, &r.Result, &r.Agents, &r.RanAt)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// AgentResults lists the per-agent rows of one run.
func (s *Store) AgentResults(ctx context.Context, runID int64) ([]AgentRecord, error) {
	const q = `
		SELECT run_id, agent, session, instances, result, elapsed_ms, urls
		FROM agent_result
		WHERE run_id = $1
		ORDER BY agent
	`
	rows, err := s.db.QueryContext(ctx, q, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AgentRecord
	for rows.Next() {
		var (
			r       AgentRecord
			ms      int64
			urls    string
		)
		err = rows.Scan(&r.RunID, &r.Agent, &r.Session, &r.Instances, &r.Result, &ms, &urls)
		if err != nil {
			return nil, err
		}
		r.Elapsed = time.Duration(ms) * time.Millisecond
		if urls != "" {
			r.URLs = strings.Split(urls, "\n")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
