package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/subugoe/operandi-go/pkg/config"
	"github.com/subugoe/operandi-go/pkg/hpc/connector"
	"github.com/subugoe/operandi-go/pkg/hpc/executor"
	"github.com/subugoe/operandi-go/pkg/storage"
	"github.com/subugoe/operandi-go/pkg/types"
)

// cancelCmd is the explicit, opt-in administrative escape hatch for an
// orphaned remote job: it is never invoked automatically on timeout or
// worker interrupt.
var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a running workflow job's remote Slurm job and mark it STOPPED",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobID := args[0]

		cfg, err := config.FromEnv()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		store, err := storage.NewMongoStore(ctx, cfg.MongoDBURL, "operandi")
		if err != nil {
			return fmt.Errorf("connect datastore: %w", err)
		}
		defer store.Close(context.Background())

		slurmJob, err := store.GetHPCSlurmJob(ctx, jobID)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return fmt.Errorf("no remote job is recorded for workflow job %s (still QUEUED?)", jobID)
			}
			return fmt.Errorf("look up remote job record: %w", err)
		}

		conn, err := connector.New(connectorConfig(cfg.HPCUsername, cfg.HPCProjectUsername, cfg.HPCProjectName, cfg.HPCSSHKeyPath, cfg.HPCSSHKeyPass))
		if err != nil {
			return fmt.Errorf("open hpc connector: %w", err)
		}
		defer conn.Close()

		if err := executor.CancelRemote(conn, slurmJob.RemoteJobID); err != nil {
			return fmt.Errorf("cancel remote job %s: %w", slurmJob.RemoteJobID, err)
		}
		if err := store.SetWorkflowJobState(ctx, jobID, types.JobStateStopped); err != nil {
			return fmt.Errorf("mark workflow job %s STOPPED: %w", jobID, err)
		}

		fmt.Printf("cancelled remote job %s for workflow job %s\n", slurmJob.RemoteJobID, jobID)
		return nil
	},
}
