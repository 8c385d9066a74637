package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/subugoe/operandi-go/pkg/bus"
	"github.com/subugoe/operandi-go/pkg/config"
	"github.com/subugoe/operandi-go/pkg/hpc/connector"
	"github.com/subugoe/operandi-go/pkg/hpc/transfer"
	"github.com/subugoe/operandi-go/pkg/storage"
	"github.com/subugoe/operandi-go/pkg/worker"
)

var workCmd = &cobra.Command{
	Use:    "work",
	Short:  "Run a single per-queue worker (invoked by the supervisor; not normally run by hand)",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		queue, _ := cmd.Flags().GetString("queue")
		resourceDir, _ := cmd.Flags().GetString("resource-dir")
		partition, _ := cmd.Flags().GetString("partition")
		deadline, _ := cmd.Flags().GetString("deadline")
		cpus, _ := cmd.Flags().GetInt("cpus")
		ram, _ := cmd.Flags().GetInt("ram-gb")
		qos, _ := cmd.Flags().GetString("qos")
		fileGroupsToRemove, _ := cmd.Flags().GetString("file-groups-to-remove")
		pollInterval, _ := cmd.Flags().GetDuration("poll-interval")
		pollTimeout, _ := cmd.Flags().GetDuration("poll-timeout")

		if queue == "" {
			return fmt.Errorf("--queue is required")
		}

		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		log := logger("worker")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store, err := storage.NewMongoStore(ctx, cfg.MongoDBURL, "operandi")
		if err != nil {
			return fmt.Errorf("connect datastore: %w", err)
		}
		defer store.Close(context.Background())

		conn, err := connector.New(connectorConfig(cfg.HPCUsername, cfg.HPCProjectUsername, cfg.HPCProjectName, cfg.HPCSSHKeyPath, cfg.HPCSSHKeyPass))
		if err != nil {
			return fmt.Errorf("open hpc connector: %w", err)
		}
		defer conn.Close()

		client, err := bus.Dial(cfg.RabbitMQURL)
		if err != nil {
			return fmt.Errorf("dial message bus: %w", err)
		}
		defer client.Close()

		var groupsToRemove []string
		if fileGroupsToRemove != "" {
			for _, g := range strings.Split(fileGroupsToRemove, ",") {
				if g = strings.TrimSpace(g); g != "" {
					groupsToRemove = append(groupsToRemove, g)
				}
			}
		}

		cluster := worker.NewHPCCluster(conn, transfer.ResourceDir(resourceDir))
		w := worker.New(worker.Config{
			Queue:              queue,
			Partition:          partition,
			Deadline:           deadline,
			CPUs:               cpus,
			RAMGigabytes:       ram,
			QOS:                qos,
			FileGroupsToRemove: groupsToRemove,
			ScratchRoot:        getenvDefault(envScratchRoot, "/scratch"),
			ProjectName:        cfg.HPCProjectName,
			PollInterval:       pollInterval,
			PollTimeout:        pollTimeout,
		}, store, cluster)
		if err := w.Bind(client); err != nil {
			return fmt.Errorf("bind worker: %w", err)
		}
		defer w.Close()

		log.Info().Str("queue", queue).Msg("worker ready")
		return w.Run()
	},
}

func init() {
	workCmd.Flags().String("queue", "", "Queue this worker consumes from")
	workCmd.Flags().String("resource-dir", "/etc/operandi/scripts", "Local directory holding the submit/status wrapper scripts")
	workCmd.Flags().String("partition", "medium", "Slurm partition")
	workCmd.Flags().String("deadline", "08:00:00", "Slurm deadline (wall-clock budget)")
	workCmd.Flags().Int("cpus", 4, "CPUs requested per job")
	workCmd.Flags().Int("ram-gb", 32, "RAM (GB) requested per job")
	workCmd.Flags().String("qos", "standard", "Slurm QOS")
	workCmd.Flags().String("file-groups-to-remove", "", "Comma-separated OCR-D file groups the wrapper script deletes before packaging results")
	workCmd.Flags().Duration("poll-interval", 10*time.Second, "Interval between check_state polls")
	workCmd.Flags().Duration("poll-timeout", 2*time.Hour, "Wall-clock timeout for poll_until_terminal")
}
