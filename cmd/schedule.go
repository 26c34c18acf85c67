package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Evaluate alerts every runner.interval_secs until interrupted",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initMonitor(ctx, "schedule")
		if err != nil {
			return err
		}
		defer env.Close()

		env.Runner(prometheus.DefaultRegisterer).Run(ctx, time.Now)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
