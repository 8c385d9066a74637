package storage

import (
	"context"

	"github.com/subugoe/operandi-go/pkg/types"
)

// Store is the blocking datastore façade used by workers.
type Store interface {
	CreateUserAccount(ctx context.Context, account *types.UserAccount) error
	GetUserAccount(ctx context.Context, userID string) (*types.UserAccount, error)
	GetUserAccountByEmail(ctx context.Context, email string) (*types.UserAccount, error)
	UpdateUserAccount(ctx context.Context, userID string, patch map[string]any) error

	CreateWorkspace(ctx context.Context, workspace *types.Workspace) error
	GetWorkspace(ctx context.Context, workspaceID string) (*types.Workspace, error)

	CreateWorkflow(ctx context.Context, workflow *types.Workflow) error
	GetWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error)

	CreateWorkflowJob(ctx context.Context, job *types.WorkflowJob) error
	GetWorkflowJob(ctx context.Context, jobID string) (*types.WorkflowJob, error)
	UpdateWorkflowJob(ctx context.Context, jobID string, patch map[string]any) error
	// SetWorkflowJobState is the only sanctioned mutator of job_state. It
	// rejects transitions out of a terminal state with
	// types.ErrIllegalTransition.
	SetWorkflowJobState(ctx context.Context, jobID string, newState types.JobState) error
	// CountWorkflowJobsByState aggregates job_state across the collection,
	// feeding pkg/metrics' periodic gauge sampling.
	CountWorkflowJobsByState(ctx context.Context) (map[string]int, error)

	CreateHPCSlurmJob(ctx context.Context, job *types.HPCSlurmJob) error
	GetHPCSlurmJob(ctx context.Context, workflowJobID string) (*types.HPCSlurmJob, error)

	IncrementProcessingStats(ctx context.Context, institutionID, userID string, pagesSuccess, pagesFail, pagesTotal int) error
	GetProcessingStats(ctx context.Context, institutionID, userID string) (*types.ProcessingStats, error)

	Close(ctx context.Context) error
}

// Future resolves to a value of type T, or an error, exactly once.
type Future[T any] struct {
	result <-chan futureResult[T]
}

type futureResult[T any] struct {
	value T
	err   error
}

// Get blocks until the future resolves, or ctx is done, whichever comes
// first.
func (f Future[T]) Get(ctx context.Context) (T, error) {
	var zero T
	select {
	case r := <-f.result:
		return r.value, r.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func newFuture[T any](fn func() (T, error)) Future[T] {
	ch := make(chan futureResult[T], 1)
	go func() {
		value, err := fn()
		ch <- futureResult[T]{value: value, err: err}
	}()
	return Future[T]{result: ch}
}

// AsyncStore is a non-blocking façade over Store, for the event-loop-driven
// ingress path.
type AsyncStore struct {
	inner Store
}

// NewAsyncStore wraps a blocking Store with a Future-returning API.
func NewAsyncStore(inner Store) *AsyncStore {
	return &AsyncStore{inner: inner}
}

func (a *AsyncStore) CreateWorkflowJob(ctx context.Context, job *types.WorkflowJob) Future[struct{}] {
	return newFuture(func() (struct{}, error) {
		return struct{}{}, a.inner.CreateWorkflowJob(ctx, job)
	})
}

func (a *AsyncStore) GetWorkflowJob(ctx context.Context, jobID string) Future[*types.WorkflowJob] {
	return newFuture(func() (*types.WorkflowJob, error) {
		return a.inner.GetWorkflowJob(ctx, jobID)
	})
}

func (a *AsyncStore) GetUserAccountByEmail(ctx context.Context, email string) Future[*types.UserAccount] {
	return newFuture(func() (*types.UserAccount, error) {
		return a.inner.GetUserAccountByEmail(ctx, email)
	})
}
