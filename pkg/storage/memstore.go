package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/subugoe/operandi-go/pkg/types"
)

// MemStore is an in-memory Store used by tests and local development. It
// honours the same contract as MongoStore: AlreadyExists on key collision,
// NotFound on missing keys, and IllegalTransition out of terminal job
// states.
type MemStore struct {
	mu         sync.RWMutex
	accounts   map[string]*types.UserAccount
	workspaces map[string]*types.Workspace
	workflows  map[string]*types.Workflow
	jobs       map[string]*types.WorkflowJob
	slurmJobs  map[string]*types.HPCSlurmJob
	stats      map[string]*types.ProcessingStats
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		accounts:   make(map[string]*types.UserAccount),
		workspaces: make(map[string]*types.Workspace),
		workflows:  make(map[string]*types.Workflow),
		jobs:       make(map[string]*types.WorkflowJob),
		slurmJobs:  make(map[string]*types.HPCSlurmJob),
		stats:      make(map[string]*types.ProcessingStats),
	}
}

func (s *MemStore) Close(ctx context.Context) error { return nil }

// --- UserAccount ---

func (s *MemStore) CreateUserAccount(ctx context.Context, account *types.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[account.UserID]; ok {
		return fmt.Errorf("%w: user_account %s", types.ErrAlreadyExists, account.UserID)
	}
	for _, existing := range s.accounts {
		if existing.Email == account.Email {
			return fmt.Errorf("%w: user_account %s", types.ErrAlreadyExists, account.Email)
		}
	}
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	copied := *account
	s.accounts[account.UserID] = &copied
	return nil
}

func (s *MemStore) GetUserAccount(ctx context.Context, userID string) (*types.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	account, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user_account %s", types.ErrNotFound, userID)
	}
	copied := *account
	return &copied, nil
}

func (s *MemStore) GetUserAccountByEmail(ctx context.Context, email string) (*types.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, account := range s.accounts {
		if account.Email == email {
			copied := *account
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("%w: user_account %s", types.ErrNotFound, email)
}

func (s *MemStore) UpdateUserAccount(ctx context.Context, userID string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	account, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("%w: user_account %s", types.ErrNotFound, userID)
	}
	if approved, ok := patch["approved"].(bool); ok {
		account.Approved = approved
	}
	if details, ok := patch["details"].(string); ok {
		account.Details = details
	}
	account.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Workspace ---

func (s *MemStore) CreateWorkspace(ctx context.Context, workspace *types.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[workspace.WorkspaceID]; ok {
		return fmt.Errorf("%w: workspace %s", types.ErrAlreadyExists, workspace.WorkspaceID)
	}
	copied := *workspace
	s.workspaces[workspace.WorkspaceID] = &copied
	return nil
}

func (s *MemStore) GetWorkspace(ctx context.Context, workspaceID string) (*types.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workspace, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, fmt.Errorf("%w: workspace %s", types.ErrNotFound, workspaceID)
	}
	copied := *workspace
	return &copied, nil
}

// --- Workflow ---

func (s *MemStore) CreateWorkflow(ctx context.Context, workflow *types.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[workflow.WorkflowID]; ok {
		return fmt.Errorf("%w: workflow %s", types.ErrAlreadyExists, workflow.WorkflowID)
	}
	copied := *workflow
	s.workflows[workflow.WorkflowID] = &copied
	return nil
}

func (s *MemStore) GetWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	workflow, ok := s.workflows[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", types.ErrNotFound, workflowID)
	}
	copied := *workflow
	return &copied, nil
}

// --- WorkflowJob ---

func (s *MemStore) CreateWorkflowJob(ctx context.Context, job *types.WorkflowJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.JobID]; ok {
		return fmt.Errorf("%w: workflow_job %s", types.ErrAlreadyExists, job.JobID)
	}
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.JobState == "" {
		job.JobState = types.JobStateQueued
	}
	copied := *job
	s.jobs[job.JobID] = &copied
	return nil
}

func (s *MemStore) GetWorkflowJob(ctx context.Context, jobID string) (*types.WorkflowJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: workflow_job %s", types.ErrNotFound, jobID)
	}
	copied := *job
	return &copied, nil
}

func (s *MemStore) UpdateWorkflowJob(ctx context.Context, jobID string, patch map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: workflow_job %s", types.ErrNotFound, jobID)
	}
	if jobDir, ok := patch["job_dir"].(string); ok {
		job.JobDir = jobDir
	}
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) SetWorkflowJobState(ctx context.Context, jobID string, newState types.JobState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: workflow_job %s", types.ErrNotFound, jobID)
	}
	if job.JobState.IsTerminal() {
		return fmt.Errorf("%w: workflow_job %s is already %s", types.ErrIllegalTransition, jobID, job.JobState)
	}
	job.JobState = newState
	job.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) CountWorkflowJobsByState(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, job := range s.jobs {
		counts[string(job.JobState)]++
	}
	return counts, nil
}

// --- HPCSlurmJob ---

func (s *MemStore) CreateHPCSlurmJob(ctx context.Context, job *types.HPCSlurmJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slurmJobs[job.WorkflowJobID]; ok {
		return fmt.Errorf("%w: hpc_slurm_job %s", types.ErrAlreadyExists, job.WorkflowJobID)
	}
	copied := *job
	s.slurmJobs[job.WorkflowJobID] = &copied
	return nil
}

func (s *MemStore) GetHPCSlurmJob(ctx context.Context, workflowJobID string) (*types.HPCSlurmJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.slurmJobs[workflowJobID]
	if !ok {
		return nil, fmt.Errorf("%w: hpc_slurm_job %s", types.ErrNotFound, workflowJobID)
	}
	copied := *job
	return &copied, nil
}

// --- ProcessingStats ---

func (s *MemStore) IncrementProcessingStats(ctx context.Context, institutionID, userID string, pagesSuccess, pagesFail, pagesTotal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := institutionID + "/" + userID
	stats, ok := s.stats[key]
	if !ok {
		stats = &types.ProcessingStats{InstitutionID: institutionID, UserID: userID}
		s.stats[key] = stats
	}
	stats.PagesSuccess += int64(pagesSuccess)
	stats.PagesFail += int64(pagesFail)
	stats.PagesTotal += int64(pagesTotal)
	return nil
}

func (s *MemStore) GetProcessingStats(ctx context.Context, institutionID, userID string) (*types.ProcessingStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.stats[institutionID+"/"+userID]
	if !ok {
		return nil, fmt.Errorf("%w: processing_stats %s/%s", types.ErrNotFound, institutionID, userID)
	}
	copied := *stats
	return &copied, nil
}
