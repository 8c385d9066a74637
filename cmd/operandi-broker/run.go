package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/subugoe/operandi-go/pkg/account"
	"github.com/subugoe/operandi-go/pkg/broker"
	"github.com/subugoe/operandi-go/pkg/config"
	"github.com/subugoe/operandi-go/pkg/metrics"
	"github.com/subugoe/operandi-go/pkg/storage"
	"github.com/subugoe/operandi-go/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the broker supervisor and its per-queue worker children",
	RunE: func(cmd *cobra.Command, args []string) error {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		maxRestarts, _ := cmd.Flags().GetInt("max-restarts")
		restartWindow, _ := cmd.Flags().GetDuration("restart-window")

		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log := logger("broker")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store, err := storage.NewMongoStore(ctx, cfg.MongoDBURL, "operandi")
		if err != nil {
			return fmt.Errorf("connect datastore: %w", err)
		}
		defer store.Close(context.Background())

		if err := account.Bootstrap(ctx, store, cfg.AdminEmail, cfg.AdminPassword, cfg.HarvesterEmail, cfg.HarvesterPassword); err != nil {
			return fmt.Errorf("bootstrap accounts: %w", err)
		}
		log.Info().Msg("bootstrap accounts ready")

		metrics.SetVersion(Version)
		collector := metrics.NewCollector(store)
		collector.Start(15 * time.Second)
		defer collector.Stop()

		metrics.RegisterComponent("storage", true, "connected")

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			log.Info().Str("addr", metricsAddr).Msg("metrics server listening")
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()

		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve own executable path: %w", err)
		}

		children := []broker.ChildSpec{
			{Queue: types.QueueHarvester, Args: []string{"work", "--queue", types.QueueHarvester}},
			{Queue: types.QueueUser, Args: []string{"work", "--queue", types.QueueUser}},
		}
		supervisor := broker.New(self, nil, children, maxRestarts, restartWindow)
		return supervisor.Run()
	},
}

func init() {
	runCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Address the metrics/health HTTP server listens on")
	runCmd.Flags().Int("max-restarts", 5, "Maximum worker restarts within restart-window before giving up on a queue")
	runCmd.Flags().Duration("restart-window", 10*time.Minute, "Sliding window the restart budget is tracked over")
}
