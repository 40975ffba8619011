package db

import (
	"database/sql"
	"fmt"
	"math"
)

// MigrationRun represents a row in the migration_runs table.
type MigrationRun struct {
	ID           int
	Source       string
	Success      bool
	Error        string
	BestScore    float64
	DurationMs   int
	OracleCalls  int
	InputTokens  int
	OutputTokens int
	Timestamp    string
}

// StageResult represents a row in the stage_results table.
type StageResult struct {
	ID     int
	RunID  int
	Stage  string
	Status string
}

// OracleCall represents a row in the oracle_calls table.
type OracleCall struct {
	ID           int
	RunID        int
	Step         string
	Model        string
	DurationMs   int
	InputTokens  int
	OutputTokens int
	Error        string
	Timestamp    string
}

// InsertRun records a completed migration run with its per-stage
// statuses and returns the new run id.
func (d *DB) InsertRun(run *MigrationRun, stages map[string]string) (int, error) {
	tx, err := d.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO migration_runs (source, success, error, best_score, duration_ms, oracle_calls, input_tokens, output_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Source, run.Success, nullIfEmpty(run.Error), nullableScore(run.BestScore),
		run.DurationMs, run.OracleCalls, run.InputTokens, run.OutputTokens,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for stage, status := range stages {
		if _, err := tx.Exec(
			`INSERT INTO stage_results (run_id, stage, status) VALUES (?, ?, ?)`,
			id, stage, status,
		); err != nil {
			return 0, fmt.Errorf("insert stage result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(id), nil
}

// LogOracleCall records one oracle call against a run.
func (d *DB) LogOracleCall(runID int, call *OracleCall) error {
	_, err := d.conn.Exec(
		`INSERT INTO oracle_calls (run_id, step, model, duration_ms, input_tokens, output_tokens, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, call.Step, call.Model, call.DurationMs, call.InputTokens, call.OutputTokens, nullIfEmpty(call.Error),
	)
	if err != nil {
		return fmt.Errorf("log oracle call: %w", err)
	}
	return nil
}

// RecentRuns returns the most recent runs, newest first.
func (d *DB) RecentRuns(limit int) ([]MigrationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.conn.Query(
		`SELECT id, source, success, error, best_score, duration_ms, oracle_calls, input_tokens, output_tokens, timestamp
		 FROM migration_runs ORDER BY id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []MigrationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRun returns one run by id, or nil when it does not exist.
func (d *DB) GetRun(id int) (*MigrationRun, error) {
	rows, err := d.conn.Query(
		`SELECT id, source, success, error, best_score, duration_ms, oracle_calls, input_tokens, output_tokens, timestamp
		 FROM migration_runs WHERE id = ?`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanRun(rows)
}

func scanRun(rows *sql.Rows) (*MigrationRun, error) {
	var r MigrationRun
	var errText sql.NullString
	var bestScore sql.NullFloat64
	if err := rows.Scan(&r.ID, &r.Source, &r.Success, &errText, &bestScore,
		&r.DurationMs, &r.OracleCalls, &r.InputTokens, &r.OutputTokens, &r.Timestamp); err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	if errText.Valid {
		r.Error = errText.String
	}
	if bestScore.Valid {
		r.BestScore = bestScore.Float64
	}
	return &r, nil
}

// RunStages returns the stage statuses for a run in pipeline order.
func (d *DB) RunStages(runID int) ([]StageResult, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, stage, status FROM stage_results WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run stages: %w", err)
	}
	defer rows.Close()

	var results []StageResult
	for rows.Next() {
		var s StageResult
		if err := rows.Scan(&s.ID, &s.RunID, &s.Stage, &s.Status); err != nil {
			return nil, fmt.Errorf("scan stage result: %w", err)
		}
		results = append(results, s)
	}
	return results, rows.Err()
}

// RunCalls returns the oracle calls recorded for a run, oldest first.
func (d *DB) RunCalls(runID int) ([]OracleCall, error) {
	rows, err := d.conn.Query(
		`SELECT id, run_id, step, model, duration_ms, input_tokens, output_tokens, error, timestamp
		 FROM oracle_calls WHERE run_id = ? ORDER BY id`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("get run calls: %w", err)
	}
	defer rows.Close()

	var calls []OracleCall
	for rows.Next() {
		var c OracleCall
		var model, errText sql.NullString
		if err := rows.Scan(&c.ID, &c.RunID, &c.Step, &model, &c.DurationMs,
			&c.InputTokens, &c.OutputTokens, &errText, &c.Timestamp); err != nil {
			return nil, fmt.Errorf("scan oracle call: %w", err)
		}
		if model.Valid {
			c.Model = model.String
		}
		if errText.Valid {
			c.Error = errText.String
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// UsageTotals aggregates token usage across all recorded runs.
type UsageTotals struct {
	Runs         int
	Successes    int
	OracleCalls  int
	InputTokens  int
	OutputTokens int
}

// GetUsageTotals returns cumulative usage across every run.
func (d *DB) GetUsageTotals() (*UsageTotals, error) {
	var t UsageTotals
	err := d.conn.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(success), 0),
		        COALESCE(SUM(oracle_calls), 0),
		        COALESCE(SUM(input_tokens), 0),
		        COALESCE(SUM(output_tokens), 0)
		 FROM migration_runs`,
	).Scan(&t.Runs, &t.Successes, &t.OracleCalls, &t.InputTokens, &t.OutputTokens)
	if err != nil {
		return nil, fmt.Errorf("usage totals: %w", err)
	}
	return &t, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nullableScore maps the score sentinels (+Inf perfect match, -Inf no
// attempt scored) to NULL, since SQLite REALs do not round-trip them.
func nullableScore(f float64) interface{} {
	if math.IsInf(f, 0) {
		return nil
	}
	return f
}
