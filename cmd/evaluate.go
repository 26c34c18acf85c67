package main

import (
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/refi-monitor/internal/report"
	"github.com/sells-group/refi-monitor/internal/runner"
)

var (
	evalDryRun bool
	evalFormat string
	evalOutput string
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Run one evaluation pass over every alert",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, err := report.ParseFormat(evalFormat)
		if err != nil {
			return err
		}
		if format == report.FormatXLSX && evalOutput == "" {
			return eris.New("--output is required for xlsx reports")
		}

		env, err := initMonitor(ctx, "evaluate")
		if err != nil {
			return err
		}
		defer env.Close()

		r := env.Runner(nil)
		now := time.Now().UTC()

		var sum *runner.Summary
		if evalDryRun {
			sum, err = r.Plan(ctx, now)
		} else {
			sum, err = r.RunOnce(ctx, now)
		}
		if err != nil {
			return eris.Wrap(err, "evaluate")
		}

		if err := writeReport(cmd.OutOrStdout(), evalOutput, format, sum); err != nil {
			return err
		}

		zap.L().Info("evaluation complete",
			zap.Bool("dry_run", sum.DryRun),
			zap.Int("alerts", sum.Alerts),
			zap.Int("changed", sum.Changed),
			zap.Int("sounding", sum.Sounding),
			zap.Int("failed", sum.Failed),
			zap.Int("notified", sum.Notified),
			zap.Duration("duration", sum.Duration),
		)
		return nil
	},
}

// writeReport renders the pass to path, or to stdout when path is empty.
func writeReport(stdout io.Writer, path string, format report.Format, sum *runner.Summary) error {
	if path == "" {
		return report.Write(stdout, format, sum.Batch)
	}
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create report %s", path)
	}
	if err := report.Write(f, format, sum.Batch); err != nil {
		_ = f.Close()
		return err
	}
	return eris.Wrapf(f.Close(), "close report %s", path)
}

func init() {
	evaluateCmd.Flags().BoolVar(&evalDryRun, "dry-run", false, "evaluate without saving state or notifying")
	evaluateCmd.Flags().StringVar(&evalFormat, "format", "table", "report format: table, csv or xlsx")
	evaluateCmd.Flags().StringVar(&evalOutput, "output", "", "write the report to a file instead of stdout")
	rootCmd.AddCommand(evaluateCmd)
}
