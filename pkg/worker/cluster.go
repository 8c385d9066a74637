package worker

import (
	"time"

	"github.com/subugoe/operandi-go/pkg/hpc/connector"
	"github.com/subugoe/operandi-go/pkg/hpc/executor"
	"github.com/subugoe/operandi-go/pkg/hpc/transfer"
)

// Cluster abstracts the HPC-side operations the worker drives for each
// message: wrapper-script upload, workspace transfer, batch submission, and
// polling. The production implementation is HPCCluster; tests substitute
// fakes.
type Cluster interface {
	PutBatchScript(scriptName string) (remotePath string, err error)
	PackAndPutWorkspace(localWorkspaceDir, workflowJobID, workflowScriptPath, tempDirPrefix string) (remoteWorkspaceRoot string, err error)
	GetAndUnpackWorkspace(localWorkspaceDir, localJobDir, remoteWorkspacePath string) error
	Submit(spec executor.JobSpec) (remoteJobID string, err error)
	PollUntilTerminal(remoteJobID string, interval, timeout time.Duration) (bool, error)
	BatchScriptsDir() string
	SlurmWorkspacesDir() string
}

// HPCCluster implements Cluster over a live HPC Connector, delegating to the
// executor and transfer packages.
type HPCCluster struct {
	conn        *connector.Connector
	resourceDir transfer.ResourceDir
}

// NewHPCCluster binds conn and the local wrapper-script resource directory.
func NewHPCCluster(conn *connector.Connector, resourceDir transfer.ResourceDir) *HPCCluster {
	return &HPCCluster{conn: conn, resourceDir: resourceDir}
}

func (h *HPCCluster) PutBatchScript(scriptName string) (string, error) {
	return transfer.PutBatchScript(h.conn, h.resourceDir, scriptName)
}

func (h *HPCCluster) PackAndPutWorkspace(localWorkspaceDir, workflowJobID, workflowScriptPath, tempDirPrefix string) (string, error) {
	return transfer.PackAndPutWorkspace(h.conn, localWorkspaceDir, workflowJobID, workflowScriptPath, tempDirPrefix)
}

func (h *HPCCluster) GetAndUnpackWorkspace(localWorkspaceDir, localJobDir, remoteWorkspacePath string) error {
	return transfer.GetAndUnpackWorkspace(h.conn, localWorkspaceDir, localJobDir, remoteWorkspacePath)
}

func (h *HPCCluster) Submit(spec executor.JobSpec) (string, error) {
	return executor.Submit(h.conn, h.conn.BatchScriptsDir, spec)
}

func (h *HPCCluster) PollUntilTerminal(remoteJobID string, interval, timeout time.Duration) (bool, error) {
	return executor.PollUntilTerminal(h.conn, h.conn.BatchScriptsDir, remoteJobID, interval, timeout)
}

func (h *HPCCluster) BatchScriptsDir() string { return h.conn.BatchScriptsDir }

func (h *HPCCluster) SlurmWorkspacesDir() string { return h.conn.SlurmWorkspacesDir }
