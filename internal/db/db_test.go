package db

import (
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMigrate(t *testing.T) {
	d, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer d.Close()

	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// Verify all tables exist
	tables := []string{"schema_version", "migration_runs", "stage_results", "oracle_calls"}
	for _, table := range tables {
		var name string
		err := d.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	// Verify schema_version was recorded
	var version int
	if err := d.conn.QueryRow("SELECT version FROM schema_version").Scan(&version); err != nil {
		t.Fatalf("query schema_version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}

	// Migrate again should be idempotent
	if err := d.Migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestInsertRunAndStages(t *testing.T) {
	d := testDB(t)

	id, err := d.InsertRun(&MigrationRun{
		Source:       "app.py",
		Success:      false,
		Error:        "build: compilation failed",
		BestScore:    -3,
		DurationMs:   4200,
		OracleCalls:  7,
		InputTokens:  1000,
		OutputTokens: 2500,
	}, map[string]string{
		"analyze":  "passed",
		"generate": "passed",
		"verify":   "passed",
		"build":    "failed",
		"probe":    "skipped",
	})
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("run id = %d, want 1", id)
	}

	run, err := d.GetRun(id)
	if err != nil {
		t.Fatal(err)
	}
	if run == nil {
		t.Fatal("run not found")
	}
	if run.Success || run.Error != "build: compilation failed" || run.BestScore != -3 {
		t.Errorf("unexpected run: %+v", run)
	}

	stages, err := d.RunStages(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(stages) != 5 {
		t.Fatalf("stages = %d, want 5", len(stages))
	}
	byName := map[string]string{}
	for _, s := range stages {
		byName[s.Stage] = s.Status
	}
	if byName["build"] != "failed" || byName["probe"] != "skipped" {
		t.Errorf("stage statuses wrong: %v", byName)
	}
}

func TestGetRunMissing(t *testing.T) {
	d := testDB(t)
	run, err := d.GetRun(42)
	if err != nil {
		t.Fatal(err)
	}
	if run != nil {
		t.Errorf("expected nil for missing run, got %+v", run)
	}
}

func TestOracleCalls(t *testing.T) {
	d := testDB(t)

	id, err := d.InsertRun(&MigrationRun{Source: "app.py", Success: true, DurationMs: 100}, nil)
	if err != nil {
		t.Fatal(err)
	}

	calls := []OracleCall{
		{Step: "analyze", Model: "claude-sonnet", DurationMs: 900, InputTokens: 100, OutputTokens: 300},
		{Step: "generate", Model: "claude-sonnet", DurationMs: 4500, InputTokens: 400, OutputTokens: 2000},
		{Step: "verify", Error: "model api status 529: overloaded"},
	}
	for i := range calls {
		if err := d.LogOracleCall(id, &calls[i]); err != nil {
			t.Fatal(err)
		}
	}

	got, err := d.RunCalls(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("calls = %d, want 3", len(got))
	}
	if got[0].Step != "analyze" || got[2].Error == "" {
		t.Errorf("unexpected calls: %+v", got)
	}
}

func TestRecentRunsOrderAndLimit(t *testing.T) {
	d := testDB(t)

	for i := 0; i < 5; i++ {
		if _, err := d.InsertRun(&MigrationRun{Source: "app.py", Success: i%2 == 0, DurationMs: i}, nil); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := d.RecentRuns(3)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Fatalf("runs = %d, want 3", len(runs))
	}
	if runs[0].ID != 5 || runs[2].ID != 3 {
		t.Errorf("wrong order: ids %d..%d", runs[0].ID, runs[2].ID)
	}
}

func TestUsageTotals(t *testing.T) {
	d := testDB(t)

	if _, err := d.InsertRun(&MigrationRun{Source: "a.py", Success: true, DurationMs: 1, OracleCalls: 4, InputTokens: 10, OutputTokens: 20}, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := d.InsertRun(&MigrationRun{Source: "b.py", Success: false, DurationMs: 1, OracleCalls: 6, InputTokens: 5, OutputTokens: 15}, nil); err != nil {
		t.Fatal(err)
	}

	totals, err := d.GetUsageTotals()
	if err != nil {
		t.Fatal(err)
	}
	if totals.Runs != 2 || totals.Successes != 1 {
		t.Errorf("runs/successes = %d/%d", totals.Runs, totals.Successes)
	}
	if totals.OracleCalls != 10 || totals.InputTokens != 15 || totals.OutputTokens != 35 {
		t.Errorf("usage = %+v", totals)
	}
}

func TestReset(t *testing.T) {
	d := testDB(t)

	if _, err := d.InsertRun(&MigrationRun{Source: "a.py", Success: true, DurationMs: 1}, nil); err != nil {
		t.Fatal(err)
	}
	if err := d.Reset(); err != nil {
		t.Fatal(err)
	}
	runs, err := d.RecentRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 0 {
		t.Errorf("runs after reset = %d, want 0", len(runs))
	}
}
