package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/oxidize-tools/oxidize/internal/db"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent migration runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openHistoryDB()
		if err != nil {
			return err
		}
		defer d.Close()

		runs, err := d.RecentRuns(historyLimit)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			cmd.Println("No runs recorded.")
			return nil
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%-4s %-28s %-7s %-9s %-8s %-12s %s\n",
			"ID", "SOURCE", "RESULT", "SCORE", "CALLS", "TOKENS", "WHEN")
		for _, r := range runs {
			result := "failed"
			if r.Success {
				result = "ok"
			}
			fmt.Fprintf(w, "%-4d %-28s %-7s %-9.1f %-8d %-12d %s\n",
				r.ID, truncateLeft(r.Source, 28), result, r.BestScore,
				r.OracleCalls, r.InputTokens+r.OutputTokens, r.Timestamp)
		}

		totals, err := d.GetUsageTotals()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%d runs, %d succeeded; %d oracle calls, %d tokens total\n",
			totals.Runs, totals.Successes, totals.OracleCalls,
			totals.InputTokens+totals.OutputTokens)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show stages and oracle calls for one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q", args[0])
		}

		d, err := openHistoryDB()
		if err != nil {
			return err
		}
		defer d.Close()

		run, err := d.GetRun(id)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %d not found", id)
		}

		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "Run %d: %s at %s\n", run.ID, run.Source, run.Timestamp)
		if run.Success {
			fmt.Fprintf(w, "Result: ok (%.1fs)\n", float64(run.DurationMs)/1000)
		} else {
			fmt.Fprintf(w, "Result: failed (%.1fs): %s\n", float64(run.DurationMs)/1000, run.Error)
		}

		stages, err := d.RunStages(id)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "Stages:")
		for _, s := range stages {
			fmt.Fprintf(w, "  %-10s %s\n", s.Stage, s.Status)
		}

		calls, err := d.RunCalls(id)
		if err != nil {
			return err
		}
		if len(calls) > 0 {
			fmt.Fprintln(w, "Oracle calls:")
			for _, c := range calls {
				status := "ok"
				if c.Error != "" {
					status = c.Error
				}
				fmt.Fprintf(w, "  %-9s %6dms %6d in %6d out  %s\n",
					c.Step, c.DurationMs, c.InputTokens, c.OutputTokens, status)
			}
		}
		return nil
	},
}

func openHistoryDB() (*db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := cfg.DB.Path
	if path == "" {
		path, err = db.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	d, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	if err := d.Migrate(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func truncateLeft(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of runs to list")
	historyCmd.AddCommand(historyShowCmd)
}
