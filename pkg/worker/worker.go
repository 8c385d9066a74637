package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/subugoe/operandi-go/pkg/bus"
	"github.com/subugoe/operandi-go/pkg/hpc"
	"github.com/subugoe/operandi-go/pkg/hpc/executor"
	"github.com/subugoe/operandi-go/pkg/log"
	"github.com/subugoe/operandi-go/pkg/metrics"
	"github.com/subugoe/operandi-go/pkg/storage"
	"github.com/subugoe/operandi-go/pkg/types"
)

const (
	submitScriptName = "submit_job.sh"
	statusScriptName = "check_job.sh"
)

// Config holds the per-queue settings a Worker needs beyond the collaborators
// it is handed directly (store, cluster, bus client).
type Config struct {
	Queue       string
	ConsumerTag string

	// Submission parameters fixed for every job this worker dispatches.
	Partition          string
	Deadline           string
	CPUs               int
	RAMGigabytes       int
	QOS                string
	FileGroupsToRemove []string

	ScratchRoot string
	ProjectName string

	TempDirPrefix string // os.MkdirTemp prefix for local workspace staging

	PollInterval time.Duration
	PollTimeout  time.Duration
}

func (c *Config) setDefaults() {
	if c.ConsumerTag == "" {
		c.ConsumerTag = "operandi-worker-" + c.Queue
	}
	if c.TempDirPrefix == "" {
		c.TempDirPrefix = "operandi-worker-"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 2 * time.Hour
	}
}

// Worker binds one queue to the store, cluster, and bus collaborators, and
// handles one delivery at a time, driving its job through the state machine.
type Worker struct {
	cfg     Config
	store   storage.Store
	cluster Cluster

	consumer *bus.Consumer

	mu               sync.Mutex
	inFlightJobID    string
	inFlightDelivery *amqp.Delivery
}

// New builds a Worker bound to cfg.Queue. Bind must be called before Run.
func New(cfg Config, store storage.Store, cluster Cluster) *Worker {
	cfg.setDefaults()
	return &Worker{cfg: cfg, store: store, cluster: cluster}
}

// Bind uploads the status wrapper once up front and attaches a consumer for
// cfg.Queue on client's channel. The submission wrapper is re-uploaded per
// message instead, so its remote path can be recorded on the job.
func (w *Worker) Bind(client *bus.Client) error {
	if _, err := w.cluster.PutBatchScript(statusScriptName); err != nil {
		return fmt.Errorf("upload status wrapper: %w", err)
	}
	consumer, err := bus.NewConsumer(client, w.cfg.Queue, w.cfg.ConsumerTag, w.handleDelivery)
	if err != nil {
		return fmt.Errorf("bind consumer to queue %s: %w", w.cfg.Queue, err)
	}
	w.consumer = consumer
	return nil
}

// Run becomes a process-group leader, installs termination-signal handlers,
// and consumes from cfg.Queue until a signal arrives or the channel closes.
func (w *Worker) Run() error {
	if err := syscall.Setpgid(0, 0); err != nil {
		setpgidLogger := log.WithQueue(w.cfg.Queue)
		setpgidLogger.Warn().Err(err).Msg("setpgid failed, continuing as-is")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	stopCh := make(chan struct{})
	go func() {
		sig := <-sigCh
		sigLogger := log.WithQueue(w.cfg.Queue)
		sigLogger.Warn().Str("signal", sig.String()).Msg("termination signal received")
		w.handleInterruption()
		close(stopCh)
	}()

	logger := log.WithQueue(w.cfg.Queue)
	logger.Info().Msg("worker consuming")
	err := w.consumer.Run(stopCh)
	logger.Info().Msg("worker exiting")
	return err
}

// handleInterruption marks any in-flight job FAILED and acks its delivery,
// per the documented compromise: without a workspace-snapshot facility,
// requeueing would leak a partial upload on the cluster.
func (w *Worker) handleInterruption() {
	w.mu.Lock()
	jobID, delivery := w.inFlightJobID, w.inFlightDelivery
	w.inFlightJobID, w.inFlightDelivery = "", nil
	w.mu.Unlock()

	if delivery == nil {
		return
	}
	if jobID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := w.store.SetWorkflowJobState(ctx, jobID, types.JobStateFailed); err != nil {
			jobLogger := log.WithJobID(jobID)
			jobLogger.Error().Err(err).Msg("failed to mark in-flight job FAILED on interruption")
		}
	}
	_ = delivery.Ack(false)
}

func (w *Worker) setInFlight(jobID string, delivery amqp.Delivery) {
	w.mu.Lock()
	w.inFlightJobID = jobID
	w.inFlightDelivery = &delivery
	w.mu.Unlock()
}

func (w *Worker) clearInFlight() {
	w.mu.Lock()
	w.inFlightJobID = ""
	w.inFlightDelivery = nil
	w.mu.Unlock()
}

// handleDelivery runs the per-message algorithm described in the package
// documentation.
func (w *Worker) handleDelivery(delivery amqp.Delivery) {
	w.setInFlight("", delivery) // step 1: record delivery tag before job id is known
	defer w.clearInFlight()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var msg types.QueueMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		parseLogger := log.WithQueue(w.cfg.Queue)
		parseLogger.Error().Err(err).Msg("payload parse failure, permanent")
		_ = delivery.Ack(false)
		return
	}
	w.setInFlight(msg.JobID, delivery)

	workflow, err := w.store.GetWorkflow(ctx, msg.WorkflowID)
	if err != nil {
		w.failAndAck(ctx, msg.JobID, delivery, "read workflow", err)
		return
	}
	workspace, err := w.store.GetWorkspace(ctx, msg.WorkspaceID)
	if err != nil {
		w.failAndAck(ctx, msg.JobID, delivery, "read workspace", err)
		return
	}
	job, err := w.store.GetWorkflowJob(ctx, msg.JobID)
	if err != nil {
		w.failAndAck(ctx, msg.JobID, delivery, "read workflow job", err)
		return
	}

	metsBasename := workspace.EffectiveMetsBasename()

	remoteBatchScriptPath, err := w.cluster.PutBatchScript(submitScriptName)
	if err != nil {
		metrics.TransferFailuresTotal.WithLabelValues("script").Inc()
		w.failAndAck(ctx, msg.JobID, delivery, "upload batch script", err)
		return
	}

	remoteWorkspaceRoot, err := w.cluster.PackAndPutWorkspace(workspace.WorkspaceDir, job.JobID, workflow.WorkflowScriptPath, w.cfg.TempDirPrefix)
	if err != nil {
		metrics.TransferFailuresTotal.WithLabelValues("upload").Inc()
		w.failAndAck(ctx, msg.JobID, delivery, "upload workspace", err)
		return
	}

	spec := executor.JobSpec{
		Partition:          w.cfg.Partition,
		Deadline:           w.cfg.Deadline,
		LogPath:            hpc.JobLogPath(w.cfg.ScratchRoot, w.cfg.ProjectName, job.JobID),
		CPUs:               w.cfg.CPUs,
		RAMGigabytes:       w.cfg.RAMGigabytes,
		QOS:                w.cfg.QOS,
		InnerScript:        filepath.Base(workflow.WorkflowScriptPath),
		SlurmWorkspacesDir: w.cluster.SlurmWorkspacesDir(),
		WorkflowJobID:      job.JobID,
		NextflowScriptID:   workflow.WorkflowID,
		InputFileGrp:       msg.InputFileGrp,
		WorkspaceID:        workspace.WorkspaceID,
		MetsBasename:       metsBasename,
		ProcessForks:       workflow.ProcessForks,
		PageCount:          workspace.PageCount,
		UseMetsServer:      workflow.UsesMetsServer,
		FileGroupsToRemove: w.cfg.FileGroupsToRemove,
	}

	timer := metrics.NewTimer()
	remoteJobID, err := w.cluster.Submit(spec)
	timer.ObserveDuration(metrics.SubmitDuration)
	if err != nil {
		metrics.SubmitFailuresTotal.Inc()
		w.failAndAck(ctx, msg.JobID, delivery, "submit batch job", err)
		return
	}

	remoteWorkspacePath := path.Join(remoteWorkspaceRoot, job.JobID)
	slurmJob := &types.HPCSlurmJob{
		WorkflowJobID:         job.JobID,
		RemoteJobID:           remoteJobID,
		RemoteBatchScriptPath: remoteBatchScriptPath,
		RemoteWorkspacePath:   remoteWorkspacePath,
	}
	if err := w.store.CreateHPCSlurmJob(ctx, slurmJob); err != nil {
		w.failAndAck(ctx, msg.JobID, delivery, "persist remote job record", err)
		return
	}

	if err := w.store.SetWorkflowJobState(ctx, job.JobID, types.JobStateRunning); err != nil {
		w.failAndAck(ctx, msg.JobID, delivery, "transition to RUNNING", err)
		return
	}
	metrics.JobTransitionsTotal.WithLabelValues(string(types.JobStateQueued), string(types.JobStateRunning)).Inc()

	if err := delivery.Ack(false); err != nil {
		ackLogger := log.WithJobID(job.JobID)
		ackLogger.Error().Err(err).Msg("ack failed after RUNNING transition")
	}
	w.clearInFlight()

	go w.pollAndFinish(remoteJobID, job.JobID, workspace.WorkspaceDir, job.JobDir, remoteWorkspacePath, workspace.PageCount)
}

// failAndAck marks jobID FAILED and acks delivery, the handler's uniform
// response to a transfer, submission, or datastore failure: never nack,
// since none of these failure classes becomes transient by requeueing. A
// payload parse failure does not come here; it is acked without marking a
// job.
func (w *Worker) failAndAck(ctx context.Context, jobID string, delivery amqp.Delivery, stage string, cause error) {
	logger := log.WithJobID(jobID)
	if setErr := w.store.SetWorkflowJobState(ctx, jobID, types.JobStateFailed); setErr != nil && !errors.Is(setErr, types.ErrIllegalTransition) {
		logger.Error().Err(setErr).Msg("failed to mark job FAILED after handler error")
	}
	logger.Error().Err(cause).Str("stage", stage).Msg("job handling failed, marking FAILED and acking")
	_ = delivery.Ack(false)
}

// pollAndFinish is the second worker phase: poll the submitted remote job
// to a terminal state, then transition SUCCESS/FAILED and retrieve results.
// It is not visible on the message bus: the submission message is already
// acked when it starts, so a worker shutdown does not wait for it; the
// remote job keeps running and its result is orphaned until the cancel
// subcommand is invoked.
func (w *Worker) pollAndFinish(remoteJobID, jobID, localWorkspaceDir, localJobDir, remoteWorkspacePath string, pageCount int) {
	logger := log.WithJobID(jobID)
	timer := metrics.NewTimer()
	success, err := w.cluster.PollUntilTerminal(remoteJobID, w.cfg.PollInterval, w.cfg.PollTimeout)
	timer.ObserveDuration(metrics.PollDuration)
	if err != nil {
		logger.Error().Err(err).Msg("poll_until_terminal did not reach a terminal state")
		w.finishJob(jobID, types.JobStateFailed, 0, pageCount)
		return
	}
	if !success {
		w.finishJob(jobID, types.JobStateFailed, 0, pageCount)
		return
	}

	if err := w.cluster.GetAndUnpackWorkspace(localWorkspaceDir, localJobDir, remoteWorkspacePath); err != nil {
		metrics.TransferFailuresTotal.WithLabelValues("download").Inc()
		logger.Error().Err(err).Msg("result retrieval failed after remote success")
		w.finishJob(jobID, types.JobStateFailed, 0, pageCount)
		return
	}
	w.finishJob(jobID, types.JobStateSuccess, pageCount, 0)
}

func (w *Worker) finishJob(jobID string, final types.JobState, pagesSuccess, pagesFail int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger := log.WithJobID(jobID)
	if err := w.store.SetWorkflowJobState(ctx, jobID, final); err != nil {
		logger.Error().Err(err).Str("final_state", string(final)).Msg("failed to persist terminal state")
		return
	}
	metrics.JobTransitionsTotal.WithLabelValues(string(types.JobStateRunning), string(final)).Inc()

	outcome := "success"
	if final != types.JobStateSuccess {
		outcome = "fail"
	}
	metrics.ProcessingPagesTotal.WithLabelValues("unattributed", outcome).Add(float64(pagesSuccess + pagesFail))
}

// Close releases the consumer's channel, if one was bound. The cluster and
// store are owned by the caller and are not closed here.
func (w *Worker) Close() error {
	if w.consumer == nil {
		return nil
	}
	return w.consumer.Close()
}
