package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/refi-monitor/internal/api"
	"github.com/sells-group/refi-monitor/internal/model"
	"github.com/sells-group/refi-monitor/internal/runner"
)

var (
	servePort     int
	serveEvaluate bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if serveEvaluate {
			if err := cfg.Validate("schedule"); err != nil {
				return err
			}
		}
		env, err := initMonitor(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newAPI(env).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		if serveEvaluate {
			go env.Runner(prometheus.DefaultRegisterer).Run(ctx, time.Now)
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.Bool("evaluate", serveEvaluate))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newAPI wires the API over env. Uploaded snapshots drop the cached one so
// the next pass sees them.
func newAPI(env *monitorEnv) *api.Server {
	opts := []api.Option{api.WithCORSOrigins(cfg.Server.CORSOrigins)}
	if env.Cache != nil {
		cache := env.Cache
		opts = append(opts, api.WithSnapshotHook(func(ctx context.Context, _ model.Snapshot) {
			if err := cache.Invalidate(ctx); err != nil {
				zap.L().Warn("invalidate rate cache", zap.Error(err))
			}
		}))
	}
	return api.New(env.Store, env.Engine, env.Rates, runner.CostPolicy(cfg.ClosingCosts), opts...)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveEvaluate, "evaluate", false, "also run scheduled evaluation passes")
	rootCmd.AddCommand(serveCmd)
}
