package worker

import (
	"context"
	"path"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subugoe/operandi-go/pkg/hpc/executor"
	"github.com/subugoe/operandi-go/pkg/storage"
	"github.com/subugoe/operandi-go/pkg/types"
)

// fakeAcker records the ack/nack calls a handler makes on its delivery.
type fakeAcker struct {
	mu     sync.Mutex
	acked  bool
	nacked bool
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = true
	return nil
}

func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = true
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error { return f.Nack(tag, false, requeue) }

func (f *fakeAcker) wasAcked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acked
}

func (f *fakeAcker) wasNacked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nacked
}

// fakeCluster stubs the HPC side of the worker.
type fakeCluster struct {
	mu sync.Mutex

	putScriptErr error
	packErr      error
	getErr       error
	submitErr    error
	submitID     string
	pollSuccess  bool
	pollErr      error
	pollRelease  chan struct{}

	putScripts []string
	lastSpec   executor.JobSpec
	submitted  bool
	downloaded bool
}

const (
	fakeBatchScriptsDir    = "/scratch/project_ocr/batch_scripts"
	fakeSlurmWorkspacesDir = "/scratch/project_ocr/slurm_workspaces"
)

func (f *fakeCluster) PutBatchScript(scriptName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.putScripts = append(f.putScripts, scriptName)
	if f.putScriptErr != nil {
		return "", f.putScriptErr
	}
	return path.Join(fakeBatchScriptsDir, scriptName), nil
}

func (f *fakeCluster) PackAndPutWorkspace(localWorkspaceDir, workflowJobID, workflowScriptPath, tempDirPrefix string) (string, error) {
	if f.packErr != nil {
		return "", f.packErr
	}
	return fakeSlurmWorkspacesDir, nil
}

func (f *fakeCluster) GetAndUnpackWorkspace(localWorkspaceDir, localJobDir, remoteWorkspacePath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloaded = true
	return f.getErr
}

func (f *fakeCluster) Submit(spec executor.JobSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSpec = spec
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = true
	return f.submitID, nil
}

func (f *fakeCluster) PollUntilTerminal(remoteJobID string, interval, timeout time.Duration) (bool, error) {
	if f.pollRelease != nil {
		<-f.pollRelease
	}
	return f.pollSuccess, f.pollErr
}

func (f *fakeCluster) BatchScriptsDir() string { return fakeBatchScriptsDir }

func (f *fakeCluster) SlurmWorkspacesDir() string { return fakeSlurmWorkspacesDir }

func (f *fakeCluster) spec() executor.JobSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSpec
}

func seedHappyPath(t *testing.T, store *storage.MemStore) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateWorkflow(ctx, &types.Workflow{
		WorkflowID:         "W1",
		WorkflowScriptPath: "/data/workflows/demo.nf",
		ProcessForks:       4,
	}))
	require.NoError(t, store.CreateWorkspace(ctx, &types.Workspace{
		WorkspaceID:  "S1",
		WorkspaceDir: "/data/workspaces/S1",
		PageCount:    10,
	}))
	require.NoError(t, store.CreateWorkflowJob(ctx, &types.WorkflowJob{
		JobID:       "J1",
		WorkflowID:  "W1",
		WorkspaceID: "S1",
		JobDir:      "/data/jobs/J1",
	}))
}

func newTestWorker(store *storage.MemStore, cluster *fakeCluster) *Worker {
	return New(Config{
		Queue:        types.QueueUser,
		Partition:    "medium",
		Deadline:     "08:00:00",
		CPUs:         4,
		RAMGigabytes: 32,
		QOS:          "standard",
		ScratchRoot:  "/scratch",
		ProjectName:  "project_ocr",
		PollInterval: time.Millisecond,
		PollTimeout:  time.Second,
	}, store, cluster)
}

func delivery(body string, acker *fakeAcker) amqp.Delivery {
	return amqp.Delivery{Acknowledger: acker, DeliveryTag: 7, Body: []byte(body)}
}

const happyBody = `{"workflow_id":"W1","workspace_id":"S1","job_id":"J1","input_file_grp":"DEFAULT"}`

func TestHandleDeliveryHappyPath(t *testing.T) {
	store := storage.NewMemStore()
	seedHappyPath(t, store)

	cluster := &fakeCluster{submitID: "12345", pollSuccess: true, pollRelease: make(chan struct{})}
	w := newTestWorker(store, cluster)
	acker := &fakeAcker{}

	w.handleDelivery(delivery(happyBody, acker))

	ctx := context.Background()
	job, err := store.GetWorkflowJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateRunning, job.JobState)

	slurmJob, err := store.GetHPCSlurmJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, "12345", slurmJob.RemoteJobID)
	assert.Equal(t, path.Join(fakeBatchScriptsDir, submitScriptName), slurmJob.RemoteBatchScriptPath)
	assert.Equal(t, path.Join(fakeSlurmWorkspacesDir, "J1"), slurmJob.RemoteWorkspacePath)

	assert.True(t, acker.wasAcked())
	assert.False(t, acker.wasNacked())

	spec := cluster.spec()
	assert.Equal(t, "mets.xml", spec.MetsBasename, "unset mets_basename defaults")
	assert.Equal(t, "DEFAULT", spec.InputFileGrp)
	assert.Equal(t, "demo.nf", spec.InnerScript)
	assert.Equal(t, 4, spec.ProcessForks)
	assert.Equal(t, 10, spec.PageCount)

	// Release the poll phase and wait for the terminal transition.
	close(cluster.pollRelease)
	assert.Eventually(t, func() bool {
		job, err := store.GetWorkflowJob(ctx, "J1")
		return err == nil && job.JobState == types.JobStateSuccess
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandleDeliveryMalformedPayload(t *testing.T) {
	store := storage.NewMemStore()
	cluster := &fakeCluster{}
	w := newTestWorker(store, cluster)
	acker := &fakeAcker{}

	w.handleDelivery(delivery("not-json", acker))

	assert.True(t, acker.wasAcked(), "malformed payloads are acked, never requeued")
	assert.False(t, acker.wasNacked())
	assert.Empty(t, cluster.putScripts, "no cluster traffic for an unparseable message")

	counts, err := store.CountWorkflowJobsByState(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts, "no job record is fabricated by the core")
}

func TestHandleDeliveryReferencedEntityMissing(t *testing.T) {
	store := storage.NewMemStore()
	// Job exists but the workflow it references does not.
	require.NoError(t, store.CreateWorkflowJob(context.Background(), &types.WorkflowJob{
		JobID: "J1", WorkflowID: "W-missing", WorkspaceID: "S1",
	}))

	cluster := &fakeCluster{}
	w := newTestWorker(store, cluster)
	acker := &fakeAcker{}

	w.handleDelivery(delivery(happyBody, acker))

	job, err := store.GetWorkflowJob(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, job.JobState)
	assert.True(t, acker.wasAcked())
}

func TestHandleDeliverySubmitFails(t *testing.T) {
	store := storage.NewMemStore()
	seedHappyPath(t, store)

	cluster := &fakeCluster{submitErr: types.ErrSubmitFailed}
	w := newTestWorker(store, cluster)
	acker := &fakeAcker{}

	w.handleDelivery(delivery(happyBody, acker))

	ctx := context.Background()
	job, err := store.GetWorkflowJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, job.JobState)

	_, err = store.GetHPCSlurmJob(ctx, "J1")
	assert.ErrorIs(t, err, types.ErrNotFound, "no remote-job record on submit failure")
	assert.True(t, acker.wasAcked())
}

func TestHandleDeliveryTransferFails(t *testing.T) {
	store := storage.NewMemStore()
	seedHappyPath(t, store)

	cluster := &fakeCluster{packErr: types.ErrTransferFailed}
	w := newTestWorker(store, cluster)
	acker := &fakeAcker{}

	w.handleDelivery(delivery(happyBody, acker))

	job, err := store.GetWorkflowJob(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, job.JobState)
	assert.False(t, cluster.submitted, "no submission after a failed upload")
	assert.True(t, acker.wasAcked())
}

func TestHandleInterruptionMarksInFlightFailedAndAcks(t *testing.T) {
	store := storage.NewMemStore()
	seedHappyPath(t, store)

	cluster := &fakeCluster{}
	w := newTestWorker(store, cluster)
	acker := &fakeAcker{}

	w.setInFlight("J1", delivery(happyBody, acker))
	w.handleInterruption()

	job, err := store.GetWorkflowJob(context.Background(), "J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, job.JobState)
	assert.True(t, acker.wasAcked())
	assert.False(t, acker.wasNacked())

	// Idempotent when nothing is in flight.
	w.handleInterruption()
}

func TestPollAndFinishTimeoutMarksFailed(t *testing.T) {
	store := storage.NewMemStore()
	seedHappyPath(t, store)
	ctx := context.Background()
	require.NoError(t, store.SetWorkflowJobState(ctx, "J1", types.JobStateRunning))

	cluster := &fakeCluster{pollErr: types.ErrPollTimeout}
	w := newTestWorker(store, cluster)

	w.pollAndFinish("12345", "J1", "/data/workspaces/S1", "/data/jobs/J1", path.Join(fakeSlurmWorkspacesDir, "J1"), 10)

	job, err := store.GetWorkflowJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, job.JobState)
	assert.False(t, cluster.downloaded, "no result retrieval after a timeout")
}

func TestPollAndFinishRemoteFailureMarksFailed(t *testing.T) {
	store := storage.NewMemStore()
	seedHappyPath(t, store)
	ctx := context.Background()
	require.NoError(t, store.SetWorkflowJobState(ctx, "J1", types.JobStateRunning))

	cluster := &fakeCluster{pollSuccess: false}
	w := newTestWorker(store, cluster)

	w.pollAndFinish("12345", "J1", "/data/workspaces/S1", "/data/jobs/J1", path.Join(fakeSlurmWorkspacesDir, "J1"), 10)

	job, err := store.GetWorkflowJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, job.JobState)
}

func TestPollAndFinishDownloadFailureMarksFailed(t *testing.T) {
	store := storage.NewMemStore()
	seedHappyPath(t, store)
	ctx := context.Background()
	require.NoError(t, store.SetWorkflowJobState(ctx, "J1", types.JobStateRunning))

	cluster := &fakeCluster{pollSuccess: true, getErr: types.ErrTransferFailed}
	w := newTestWorker(store, cluster)

	w.pollAndFinish("12345", "J1", "/data/workspaces/S1", "/data/jobs/J1", path.Join(fakeSlurmWorkspacesDir, "J1"), 10)

	job, err := store.GetWorkflowJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateFailed, job.JobState)
	assert.True(t, cluster.downloaded)
}

func TestPollAndFinishSuccess(t *testing.T) {
	store := storage.NewMemStore()
	seedHappyPath(t, store)
	ctx := context.Background()
	require.NoError(t, store.SetWorkflowJobState(ctx, "J1", types.JobStateRunning))

	cluster := &fakeCluster{pollSuccess: true}
	w := newTestWorker(store, cluster)

	w.pollAndFinish("12345", "J1", "/data/workspaces/S1", "/data/jobs/J1", path.Join(fakeSlurmWorkspacesDir, "J1"), 10)

	job, err := store.GetWorkflowJob(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, types.JobStateSuccess, job.JobState)
	assert.True(t, cluster.downloaded)
}
