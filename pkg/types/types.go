// Package types defines the data model shared by every component of the
// gateway: accounts, workspaces, workflows, workflow jobs, and the remote
// batch job records that track their execution on the HPC cluster.
package types

import "time"

// AccountType distinguishes the three kinds of caller the gateway serves.
type AccountType string

const (
	AccountTypeAdmin     AccountType = "ADMIN"
	AccountTypeUser      AccountType = "USER"
	AccountTypeHarvester AccountType = "HARVESTER"
)

// UserAccount is created by ingress or by gateway bootstrap; the core never
// deletes one.
type UserAccount struct {
	UserID        string      `bson:"user_id" json:"user_id"`
	InstitutionID string      `bson:"institution_id" json:"institution_id"`
	Email         string      `bson:"email" json:"email"`
	Salt          string      `bson:"salt" json:"-"`
	EncryptedPass string      `bson:"encrypted_pass" json:"-"`
	AccountType   AccountType `bson:"account_type" json:"account_type"`
	Approved      bool        `bson:"approved" json:"approved"`
	Details       string      `bson:"details,omitempty" json:"details,omitempty"`
	CreatedAt     time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time   `bson:"updated_at" json:"updated_at"`
}

// Workspace is created by ingress and is read-only to the core: a bag of
// page images plus a METS manifest describing them.
type Workspace struct {
	WorkspaceID  string `bson:"workspace_id" json:"workspace_id"`
	WorkspaceDir string `bson:"workspace_dir" json:"workspace_dir"`
	MetsBasename string `bson:"mets_basename,omitempty" json:"mets_basename,omitempty"`
	PageCount    int    `bson:"page_count" json:"page_count"`
}

// DefaultMetsBasename is substituted whenever a Workspace's MetsBasename is
// absent.
const DefaultMetsBasename = "mets.xml"

// EffectiveMetsBasename returns w.MetsBasename, or DefaultMetsBasename if unset.
func (w *Workspace) EffectiveMetsBasename() string {
	if w.MetsBasename == "" {
		return DefaultMetsBasename
	}
	return w.MetsBasename
}

// Workflow is created by ingress and is read-only to the core: a
// dataflow-DSL script to run against a workspace.
type Workflow struct {
	WorkflowID         string `bson:"workflow_id" json:"workflow_id"`
	WorkflowScriptPath string `bson:"workflow_script_path" json:"workflow_script_path"`
	UsesMetsServer     bool   `bson:"uses_mets_server" json:"uses_mets_server"`
	ProcessForks       int    `bson:"process_forks" json:"process_forks"`
}

// JobState is the authoritative status of a WorkflowJob. Only set_state may
// change it; terminal states never transition again.
type JobState string

const (
	JobStateQueued  JobState = "QUEUED"
	JobStateRunning JobState = "RUNNING"
	JobStateSuccess JobState = "SUCCESS"
	JobStateFailed  JobState = "FAILED"
	JobStateStopped JobState = "STOPPED"
)

// IsTerminal reports whether a job in this state never transitions again.
func (s JobState) IsTerminal() bool {
	switch s {
	case JobStateSuccess, JobStateFailed, JobStateStopped:
		return true
	default:
		return false
	}
}

// WorkflowJob is the core's unit of work: one execution of a Workflow
// against a Workspace. Created in state QUEUED by ingress; the core is the
// sole writer of every subsequent transition.
type WorkflowJob struct {
	JobID       string    `bson:"job_id" json:"job_id"`
	WorkflowID  string    `bson:"workflow_id" json:"workflow_id"`
	WorkspaceID string    `bson:"workspace_id" json:"workspace_id"`
	JobDir      string    `bson:"job_dir" json:"job_dir"`
	JobState    JobState  `bson:"job_state" json:"job_state"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// HPCSlurmJob is created once per WorkflowJob, the moment submission returns
// a numeric remote id. Its absence for a non-QUEUED job is an invariant
// violation.
type HPCSlurmJob struct {
	WorkflowJobID         string `bson:"workflow_job_id" json:"workflow_job_id"`
	RemoteJobID           string `bson:"remote_job_id" json:"remote_job_id"`
	RemoteBatchScriptPath string `bson:"remote_batch_script_path" json:"remote_batch_script_path"`
	RemoteWorkspacePath   string `bson:"remote_workspace_path" json:"remote_workspace_path"`
}

// ProcessingStats holds monotonically increasing per-institution,
// per-user counters.
type ProcessingStats struct {
	InstitutionID string `bson:"institution_id" json:"institution_id"`
	UserID        string `bson:"user_id" json:"user_id"`
	PagesTotal    int64  `bson:"pages_total" json:"pages_total"`
	PagesSuccess  int64  `bson:"pages_success" json:"pages_success"`
	PagesFail     int64  `bson:"pages_fail" json:"pages_fail"`
}

// QueueMessage is the JSON body carried on the message bus.
// Unknown fields are ignored by the decoder.
type QueueMessage struct {
	WorkflowID   string `json:"workflow_id"`
	WorkspaceID  string `json:"workspace_id"`
	JobID        string `json:"job_id"`
	InputFileGrp string `json:"input_file_grp"`
}

// Queue names, routed by ingress according to the caller's account type.
const (
	QueueHarvester = "harvester_queue"
	QueueUser      = "user_queue"
)
