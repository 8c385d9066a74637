package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/subugoe/operandi-go/pkg/types"
)

const (
	collUserAccounts    = "user_accounts"
	collWorkspaces      = "workspaces"
	collWorkflows       = "workflows"
	collWorkflowJobs    = "workflow_jobs"
	collHPCSlurmJobs    = "hpc_slurm_jobs"
	collProcessingStats = "processing_stats"
)

// MongoStore implements Store against a MongoDB document datastore.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to uri and returns a Store bound to the given
// database name.
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &MongoStore{client: client, db: client.Database(database)}, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) coll(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func notFoundOrWrap(err error, kind, key string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s %s", types.ErrNotFound, kind, key)
	}
	return fmt.Errorf("%s %s: %w", kind, key, err)
}

func duplicateKeyOrWrap(err error, kind, key string) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s %s", types.ErrAlreadyExists, kind, key)
	}
	return fmt.Errorf("%s %s: %w", kind, key, err)
}

// --- UserAccount ---

func (s *MongoStore) CreateUserAccount(ctx context.Context, account *types.UserAccount) error {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now
	if _, err := s.coll(collUserAccounts).InsertOne(ctx, account); err != nil {
		return duplicateKeyOrWrap(err, "user_account", account.UserID)
	}
	return nil
}

func (s *MongoStore) GetUserAccount(ctx context.Context, userID string) (*types.UserAccount, error) {
	var account types.UserAccount
	err := s.coll(collUserAccounts).FindOne(ctx, bson.M{"user_id": userID}).Decode(&account)
	if err != nil {
		return nil, notFoundOrWrap(err, "user_account", userID)
	}
	return &account, nil
}

func (s *MongoStore) GetUserAccountByEmail(ctx context.Context, email string) (*types.UserAccount, error) {
	var account types.UserAccount
	err := s.coll(collUserAccounts).FindOne(ctx, bson.M{"email": email}).Decode(&account)
	if err != nil {
		return nil, notFoundOrWrap(err, "user_account", email)
	}
	return &account, nil
}

func (s *MongoStore) UpdateUserAccount(ctx context.Context, userID string, patch map[string]any) error {
	patch["updated_at"] = time.Now().UTC()
	res, err := s.coll(collUserAccounts).UpdateOne(ctx, bson.M{"user_id": userID}, bson.M{"$set": patch})
	if err != nil {
		return fmt.Errorf("update user_account %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: user_account %s", types.ErrNotFound, userID)
	}
	return nil
}

// --- Workspace ---

func (s *MongoStore) CreateWorkspace(ctx context.Context, workspace *types.Workspace) error {
	if _, err := s.coll(collWorkspaces).InsertOne(ctx, workspace); err != nil {
		return duplicateKeyOrWrap(err, "workspace", workspace.WorkspaceID)
	}
	return nil
}

func (s *MongoStore) GetWorkspace(ctx context.Context, workspaceID string) (*types.Workspace, error) {
	var workspace types.Workspace
	err := s.coll(collWorkspaces).FindOne(ctx, bson.M{"workspace_id": workspaceID}).Decode(&workspace)
	if err != nil {
		return nil, notFoundOrWrap(err, "workspace", workspaceID)
	}
	return &workspace, nil
}

// --- Workflow ---

func (s *MongoStore) CreateWorkflow(ctx context.Context, workflow *types.Workflow) error {
	if _, err := s.coll(collWorkflows).InsertOne(ctx, workflow); err != nil {
		return duplicateKeyOrWrap(err, "workflow", workflow.WorkflowID)
	}
	return nil
}

func (s *MongoStore) GetWorkflow(ctx context.Context, workflowID string) (*types.Workflow, error) {
	var workflow types.Workflow
	err := s.coll(collWorkflows).FindOne(ctx, bson.M{"workflow_id": workflowID}).Decode(&workflow)
	if err != nil {
		return nil, notFoundOrWrap(err, "workflow", workflowID)
	}
	return &workflow, nil
}

// --- WorkflowJob ---

func (s *MongoStore) CreateWorkflowJob(ctx context.Context, job *types.WorkflowJob) error {
	now := time.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	if job.JobState == "" {
		job.JobState = types.JobStateQueued
	}
	if _, err := s.coll(collWorkflowJobs).InsertOne(ctx, job); err != nil {
		return duplicateKeyOrWrap(err, "workflow_job", job.JobID)
	}
	return nil
}

func (s *MongoStore) GetWorkflowJob(ctx context.Context, jobID string) (*types.WorkflowJob, error) {
	var job types.WorkflowJob
	err := s.coll(collWorkflowJobs).FindOne(ctx, bson.M{"job_id": jobID}).Decode(&job)
	if err != nil {
		return nil, notFoundOrWrap(err, "workflow_job", jobID)
	}
	return &job, nil
}

func (s *MongoStore) UpdateWorkflowJob(ctx context.Context, jobID string, patch map[string]any) error {
	patch["updated_at"] = time.Now().UTC()
	res, err := s.coll(collWorkflowJobs).UpdateOne(ctx, bson.M{"job_id": jobID}, bson.M{"$set": patch})
	if err != nil {
		return fmt.Errorf("update workflow_job %s: %w", jobID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: workflow_job %s", types.ErrNotFound, jobID)
	}
	return nil
}

// SetWorkflowJobState is the sole sanctioned job_state mutator. It loads
// the current state, rejects the transition with ErrIllegalTransition if
// the job is already terminal, and otherwise performs an atomic
// filtered update that only matches non-terminal documents (guarding
// against a concurrent terminal transition racing this one).
func (s *MongoStore) SetWorkflowJobState(ctx context.Context, jobID string, newState types.JobState) error {
	current, err := s.GetWorkflowJob(ctx, jobID)
	if err != nil {
		return err
	}
	if current.JobState.IsTerminal() {
		return fmt.Errorf("%w: workflow_job %s is already %s", types.ErrIllegalTransition, jobID, current.JobState)
	}

	filter := bson.M{
		"job_id": jobID,
		"job_state": bson.M{"$nin": []types.JobState{
			types.JobStateSuccess, types.JobStateFailed, types.JobStateStopped,
		}},
	}
	update := bson.M{"$set": bson.M{"job_state": newState, "updated_at": time.Now().UTC()}}
	res, err := s.coll(collWorkflowJobs).UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("set_state workflow_job %s: %w", jobID, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: workflow_job %s raced into a terminal state", types.ErrIllegalTransition, jobID)
	}
	return nil
}

func (s *MongoStore) CountWorkflowJobsByState(ctx context.Context) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$job_state"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := s.coll(collWorkflowJobs).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("count workflow_jobs by state: %w", err)
	}
	defer cursor.Close(ctx)

	counts := make(map[string]int)
	for cursor.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int    `bson:"count"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode workflow_jobs state count: %w", err)
		}
		counts[row.ID] = row.Count
	}
	return counts, cursor.Err()
}

// --- HPCSlurmJob ---

func (s *MongoStore) CreateHPCSlurmJob(ctx context.Context, job *types.HPCSlurmJob) error {
	if _, err := s.coll(collHPCSlurmJobs).InsertOne(ctx, job); err != nil {
		return duplicateKeyOrWrap(err, "hpc_slurm_job", job.WorkflowJobID)
	}
	return nil
}

func (s *MongoStore) GetHPCSlurmJob(ctx context.Context, workflowJobID string) (*types.HPCSlurmJob, error) {
	var job types.HPCSlurmJob
	err := s.coll(collHPCSlurmJobs).FindOne(ctx, bson.M{"workflow_job_id": workflowJobID}).Decode(&job)
	if err != nil {
		return nil, notFoundOrWrap(err, "hpc_slurm_job", workflowJobID)
	}
	return &job, nil
}

// --- ProcessingStats ---

func (s *MongoStore) IncrementProcessingStats(ctx context.Context, institutionID, userID string, pagesSuccess, pagesFail, pagesTotal int) error {
	filter := bson.M{"institution_id": institutionID, "user_id": userID}
	update := bson.M{"$inc": bson.M{
		"pages_success": pagesSuccess,
		"pages_fail":    pagesFail,
		"pages_total":   pagesTotal,
	}}
	opts := options.UpdateOne().SetUpsert(true)
	_, err := s.coll(collProcessingStats).UpdateOne(ctx, filter, update, opts)
	if err != nil {
		return fmt.Errorf("increment processing_stats %s/%s: %w", institutionID, userID, err)
	}
	return nil
}

func (s *MongoStore) GetProcessingStats(ctx context.Context, institutionID, userID string) (*types.ProcessingStats, error) {
	var stats types.ProcessingStats
	filter := bson.M{"institution_id": institutionID, "user_id": userID}
	err := s.coll(collProcessingStats).FindOne(ctx, filter).Decode(&stats)
	if err != nil {
		return nil, notFoundOrWrap(err, "processing_stats", institutionID+"/"+userID)
	}
	return &stats, nil
}
