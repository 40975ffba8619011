package cli

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/oxidize-tools/oxidize/internal/build"
	"github.com/oxidize-tools/oxidize/internal/config"
	"github.com/oxidize-tools/oxidize/internal/db"
	"github.com/oxidize-tools/oxidize/internal/harness"
	"github.com/oxidize-tools/oxidize/internal/ledger"
	"github.com/oxidize-tools/oxidize/internal/oracle"
	"github.com/oxidize-tools/oxidize/internal/pipeline"
	"github.com/oxidize-tools/oxidize/internal/probe"
	"github.com/oxidize-tools/oxidize/internal/verify"
)

var (
	migrateOutputDir string
	migrateDebugDir  string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate <source.py>",
	Short: "Migrate a Python program to Rust",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := readSource(args[0])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if migrateOutputDir != "" {
			cfg.Workspace.OutputDir = migrateOutputDir
		}
		if migrateDebugDir != "" {
			cfg.Workspace.DebugDir = migrateDebugDir
		}

		apiKey := os.Getenv(cfg.Oracle.APIKeyEnv)
		if apiKey == "" {
			return fmt.Errorf("%s is not set", cfg.Oracle.APIKeyEnv)
		}

		log, err := newLogger()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		defer log.Sync()

		res, traces, err := runMigration(cmd.Context(), cfg, apiKey, args[0], source, log)
		if err != nil {
			return err
		}

		recordRun(cfg, args[0], res, traces, log)
		printSummary(cmd, res)

		if !res.Success {
			return fmt.Errorf("migration failed: %v", res.Err)
		}
		return nil
	},
}

// readSource validates and loads the migration subject.
func readSource(path string) (string, error) {
	if !strings.EqualFold(filepath.Ext(path), ".py") {
		return "", fmt.Errorf("source %s is not a Python file", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read source: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "", fmt.Errorf("source %s is empty", path)
	}
	return string(data), nil
}

// runMigration wires the pipeline together from configuration and
// executes one run, persisting debug artifacts along the way.
func runMigration(ctx context.Context, cfg *config.Config, apiKey, sourcePath, source string, log *zap.Logger) (*pipeline.RunResult, []oracle.CallEvent, error) {
	traces := ledger.NewTraceLog()
	relay := pipeline.NewUsageRelay()

	client := oracle.NewClient(oracle.ClientConfig{
		BaseURL:     cfg.Oracle.BaseURL,
		APIKey:      apiKey,
		Model:       cfg.Oracle.Model,
		MaxTokens:   cfg.Oracle.MaxTokens,
		Temperature: cfg.Oracle.Temperature,
		Timeout:     cfg.Oracle.Timeout.Std(),
	}, oracle.Observers{relay, traces})

	runner := harness.NewExec()

	verifier := verify.NewLoop(client, cfg.Loops.VerifyFixAttempts, log.Named("verify"))

	builder := build.NewSupervisor(runner, client, build.Config{
		OutputDir:      cfg.Workspace.OutputDir,
		PrimaryFile:    cfg.Workspace.PrimaryFile,
		ManifestFile:   cfg.Workspace.ManifestFile,
		CheckCommand:   cfg.Toolchain.CheckCommand,
		BuildCommand:   cfg.Toolchain.BuildCommand,
		LintCommand:    cfg.Toolchain.LintCommand,
		Timeout:        cfg.Toolchain.Timeout.Std(),
		MaxFixAttempts: cfg.Loops.BuildFixAttempts,
	}, log.Named("build"))

	svc := probe.New(harness.NewExecStarter(), runner, probe.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ServeCommand:      cfg.Server.ServeCommand,
		StartupTimeout:    cfg.Server.StartupTimeout.Std(),
		RequestTimeout:    cfg.Server.RequestTimeout.Std(),
		PollInterval:      cfg.Server.PollInterval.Std(),
		GraceWindow:       cfg.Server.GraceWindow.Std(),
		TestScript:        cfg.Server.TestScript,
		GetMarkers:        cfg.Server.GetMarkers,
		PostMarkers:       cfg.Server.PostMarkers,
		FailureSignatures: cfg.Server.FailureSignatures,
	}, log.Named("probe"))

	prober := probe.NewSupervisor(svc, client, probe.SupervisorConfig{
		ArtifactDir:    cfg.Workspace.OutputDir,
		PrimaryFile:    cfg.Workspace.PrimaryFile,
		ManifestFile:   cfg.Workspace.ManifestFile,
		MaxFixAttempts: cfg.Loops.ProbeFixAttempts,
	}, log.Named("probe"))

	controller := pipeline.NewController(client, verifier, builder, prober, log.Named("pipeline"))
	controller.AttachUsageRelay(relay)

	led := ledger.New(cfg.Workspace.DebugDir)
	attempt, err := led.StartAttempt()
	if err != nil {
		return nil, nil, fmt.Errorf("start debug ledger: %w", err)
	}
	log.Info("debug ledger attempt started",
		zap.Int("attempt", attempt),
		zap.String("dir", led.BaseDir()))
	if err := led.SaveConfig(cfg); err != nil {
		log.Warn("save config snapshot", zap.Error(err))
	}
	for step, tmpl := range oracle.PromptTemplates() {
		if err := led.SavePrompt(step, tmpl); err != nil {
			log.Warn("save prompt", zap.String("step", step), zap.Error(err))
		}
	}

	res := controller.Run(ctx, sourcePath, source)

	saveAttemptArtifacts(led, cfg, sourcePath, res, traces.Events(), log)
	return res, traces.Events(), nil
}

// saveAttemptArtifacts persists the run's outputs in the debug ledger.
// Ledger failures are logged, never escalated.
func saveAttemptArtifacts(led *ledger.Ledger, cfg *config.Config, sourcePath string, res *pipeline.RunResult, events []oracle.CallEvent, log *zap.Logger) {
	if res.Context.Analysis != "" {
		if err := led.SaveResponse("analyze", res.Context.Analysis); err != nil {
			log.Warn("save analysis", zap.Error(err))
		}
	}
	if res.Context.Verification != nil {
		if err := led.SaveVerification(res.Context.Verification); err != nil {
			log.Warn("save verification", zap.Error(err))
		}
	}
	if !res.Candidate.Empty() {
		if err := led.SaveCandidate(res.Candidate, cfg.Workspace.PrimaryFile, cfg.Workspace.ManifestFile); err != nil {
			log.Warn("save candidate", zap.Error(err))
		}
	}
	if err := led.SaveTraces(events); err != nil {
		log.Warn("save traces", zap.Error(err))
	}

	rec := ledger.AttemptRecord{
		Attempt:   led.Attempt(),
		Success:   res.Success,
		BestScore: res.Metrics.BestScore,
		Duration:  res.Metrics.Duration.Round(time.Millisecond).String(),
		Timestamp: time.Now().UTC(),
	}
	if res.Err != nil {
		rec.Error = res.Err.Error()
	}
	if err := led.RecordAttempt(sourcePath, rec); err != nil {
		log.Warn("record attempt", zap.Error(err))
	}
}

// recordRun writes the run and its oracle calls to the history database.
// History failures never mask the migration result.
func recordRun(cfg *config.Config, sourcePath string, res *pipeline.RunResult, events []oracle.CallEvent, log *zap.Logger) {
	if cfg.DB.Disabled {
		return
	}
	path := cfg.DB.Path
	if path == "" {
		var err error
		path, err = db.DefaultDBPath()
		if err != nil {
			log.Warn("resolve history db path", zap.Error(err))
			return
		}
	}
	d, err := db.Open(path)
	if err != nil {
		log.Warn("open history db", zap.Error(err))
		return
	}
	defer d.Close()
	if err := d.Migrate(); err != nil {
		log.Warn("migrate history db", zap.Error(err))
		return
	}

	run := &db.MigrationRun{
		Source:       sourcePath,
		Success:      res.Success,
		BestScore:    res.Metrics.BestScore,
		DurationMs:   int(res.Metrics.Duration.Milliseconds()),
		OracleCalls:  res.Metrics.OracleCalls,
		InputTokens:  res.Metrics.InputTokens,
		OutputTokens: res.Metrics.OutputTokens,
	}
	if res.Err != nil {
		run.Error = res.Err.Error()
	}
	id, err := d.InsertRun(run, res.Stages)
	if err != nil {
		log.Warn("record run", zap.Error(err))
		return
	}
	for _, ev := range events {
		call := &db.OracleCall{
			Step:         ev.Step,
			Model:        ev.Model,
			DurationMs:   int(ev.Duration.Milliseconds()),
			InputTokens:  ev.InputTokens,
			OutputTokens: ev.OutputTokens,
			Error:        ev.Err,
		}
		if err := d.LogOracleCall(id, call); err != nil {
			log.Warn("record oracle call", zap.Error(err))
			return
		}
	}
}

func printSummary(cmd *cobra.Command, res *pipeline.RunResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	if res.Success {
		fmt.Fprintln(out, "Migration succeeded.")
	} else {
		fmt.Fprintf(out, "Migration failed: %v\n", res.Err)
	}
	for _, name := range pipeline.StageOrder {
		fmt.Fprintf(out, "  %-10s %s\n", name, res.Stages[name])
	}
	fmt.Fprintf(out, "Duration: %s  Oracle calls: %d  Tokens: %d in / %d out\n",
		res.Metrics.Duration.Round(time.Millisecond), res.Metrics.OracleCalls,
		res.Metrics.InputTokens, res.Metrics.OutputTokens)
	if !res.Success && res.Metrics.HasBest && !math.IsInf(res.Metrics.BestScore, 1) {
		fmt.Fprintf(out, "Best verification score reached: %.1f\n", res.Metrics.BestScore)
	}
}

func init() {
	migrateCmd.Flags().StringVarP(&migrateOutputDir, "output", "o", "", "working directory for the Rust candidate")
	migrateCmd.Flags().StringVar(&migrateDebugDir, "debug-dir", "", "directory for per-attempt debug artifacts")
}
