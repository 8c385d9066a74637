// Package transfer moves batch scripts and workspace archives between
// the gateway host and the cluster over the HPC Connector's SFTP and exec
// channels.
package transfer

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/subugoe/operandi-go/pkg/hpc/connector"
	"github.com/subugoe/operandi-go/pkg/types"
)

// ResourceDir is the local directory bundled scripts are served from.
type ResourceDir string

// PutBatchScript uploads a named script from the bundled resource
// directory to the cluster's batch-scripts directory, overwriting any
// existing file at that path, and returns its remote absolute path.
func PutBatchScript(conn *connector.Connector, resourceDir ResourceDir, scriptName string) (string, error) {
	localPath := filepath.Join(string(resourceDir), scriptName)
	remotePath := path.Join(conn.BatchScriptsDir, scriptName)

	sftpClient, err := conn.SFTP()
	if err != nil {
		return "", fmt.Errorf("%w: put_batch_script: %v", types.ErrTransferFailed, err)
	}

	local, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: put_batch_script: open %s: %v", types.ErrTransferFailed, localPath, err)
	}
	defer local.Close()

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return "", fmt.Errorf("%w: put_batch_script: create %s: %v", types.ErrTransferFailed, remotePath, err)
	}
	defer remote.Close()

	if _, err := io.Copy(remote, local); err != nil {
		return "", fmt.Errorf("%w: put_batch_script: copy: %v", types.ErrTransferFailed, err)
	}
	return remotePath, nil
}

// PackAndPutWorkspace stages localWorkspaceDir and workflowScriptPath under
// a scratch directory named workflowJobID, archives it as tar.gz, uploads
// the archive to the cluster's slurm-workspaces directory, and unpacks it
// there over the connector's shell channel. It returns the remote parent
// path (the slurm-workspaces directory), mirroring the original's
// remote_workspace_root.
func PackAndPutWorkspace(conn *connector.Connector, localWorkspaceDir, workflowJobID, workflowScriptPath, tempDirPrefix string) (string, error) {
	stagingRoot, err := os.MkdirTemp("", tempDirPrefix)
	if err != nil {
		return "", fmt.Errorf("%w: pack_and_put_workspace: stage: %v", types.ErrTransferFailed, err)
	}
	defer os.RemoveAll(stagingRoot)

	jobStageDir := filepath.Join(stagingRoot, workflowJobID)
	if err := copyDir(localWorkspaceDir, jobStageDir); err != nil {
		return "", fmt.Errorf("%w: pack_and_put_workspace: copy workspace: %v", types.ErrTransferFailed, err)
	}
	if err := copyFile(workflowScriptPath, filepath.Join(jobStageDir, filepath.Base(workflowScriptPath))); err != nil {
		return "", fmt.Errorf("%w: pack_and_put_workspace: copy script: %v", types.ErrTransferFailed, err)
	}

	archivePath := filepath.Join(stagingRoot, workflowJobID+".tar.gz")
	if err := packTarGz(jobStageDir, archivePath); err != nil {
		return "", fmt.Errorf("%w: pack_and_put_workspace: archive: %v", types.ErrTransferFailed, err)
	}

	sftpClient, err := conn.SFTP()
	if err != nil {
		return "", fmt.Errorf("%w: pack_and_put_workspace: sftp: %v", types.ErrTransferFailed, err)
	}
	remoteArchivePath := path.Join(conn.SlurmWorkspacesDir, workflowJobID+".tar.gz")
	if err := uploadFile(sftpClient, archivePath, remoteArchivePath); err != nil {
		return "", fmt.Errorf("%w: pack_and_put_workspace: upload: %v", types.ErrTransferFailed, err)
	}

	unpackCmd := fmt.Sprintf("tar -xzf %s -C %s && rm -f %s",
		shellQuote(remoteArchivePath), shellQuote(conn.SlurmWorkspacesDir), shellQuote(remoteArchivePath))
	_, stderr, exitCode, err := conn.Exec(unpackCmd)
	if err != nil {
		return "", fmt.Errorf("%w: pack_and_put_workspace: remote unpack: %v", types.ErrTransferFailed, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("%w: pack_and_put_workspace: remote unpack exit %d: %s", types.ErrTransferFailed, exitCode, stderr)
	}

	return conn.SlurmWorkspacesDir, nil
}

// GetAndUnpackWorkspace is the inverse of PackAndPutWorkspace: it archives
// the per-job directory remoteWorkspacePath on the cluster (its base name is
// the job id), downloads that archive, unpacks it so that
// localJobDir receives the job tree, and merges the workspace subtree back
// into localWorkspaceDir. Failure leaves the local directories untouched
// where possible.
func GetAndUnpackWorkspace(conn *connector.Connector, localWorkspaceDir, localJobDir, remoteWorkspacePath string) error {
	jobID := path.Base(remoteWorkspacePath)
	remoteArchivePath := remoteWorkspacePath + ".tar.gz"

	packCmd := fmt.Sprintf("tar -czf %s -C %s %s",
		shellQuote(remoteArchivePath), shellQuote(path.Dir(remoteWorkspacePath)), shellQuote(jobID))
	_, stderr, exitCode, err := conn.Exec(packCmd)
	if err != nil {
		return fmt.Errorf("%w: get_and_unpack_workspace: remote pack: %v", types.ErrTransferFailed, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("%w: get_and_unpack_workspace: remote pack exit %d: %s", types.ErrTransferFailed, exitCode, stderr)
	}

	sftpClient, err := conn.SFTP()
	if err != nil {
		return fmt.Errorf("%w: get_and_unpack_workspace: sftp: %v", types.ErrTransferFailed, err)
	}

	stagingRoot, err := os.MkdirTemp("", "operandi-fetch-")
	if err != nil {
		return fmt.Errorf("%w: get_and_unpack_workspace: stage: %v", types.ErrTransferFailed, err)
	}
	defer os.RemoveAll(stagingRoot)

	localArchivePath := filepath.Join(stagingRoot, jobID+".tar.gz")
	if err := downloadFile(sftpClient, remoteArchivePath, localArchivePath); err != nil {
		return fmt.Errorf("%w: get_and_unpack_workspace: download: %v", types.ErrTransferFailed, err)
	}

	extractedDir := filepath.Join(stagingRoot, "extracted")
	if err := unpackTarGz(localArchivePath, extractedDir); err != nil {
		return fmt.Errorf("%w: get_and_unpack_workspace: extract: %v", types.ErrTransferFailed, err)
	}

	extractedJobDir := filepath.Join(extractedDir, jobID)
	if err := copyDir(extractedJobDir, localJobDir); err != nil {
		return fmt.Errorf("%w: get_and_unpack_workspace: copy to job dir: %v", types.ErrTransferFailed, err)
	}
	if err := mergeDir(extractedJobDir, localWorkspaceDir); err != nil {
		return fmt.Errorf("%w: get_and_unpack_workspace: merge into workspace: %v", types.ErrTransferFailed, err)
	}

	_, _, _, _ = conn.Exec(fmt.Sprintf("rm -f %s", shellQuote(remoteArchivePath)))
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
