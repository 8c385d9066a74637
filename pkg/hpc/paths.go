// Package hpc holds the cluster-absolute path derivations shared by the
// connector, executor, and transfer components.
package hpc

import "path"

const (
	dirBatchScripts    = "batch_scripts"
	dirSlurmWorkspaces = "slurm_workspaces"
	pathHomeUsers      = "/home/users"
)

// UserHomeDir returns the cluster-absolute home directory for a project
// username.
func UserHomeDir(projectUsername string) string {
	return path.Join(pathHomeUsers, projectUsername)
}

// ProjectRootDir returns the cluster-absolute project root under the
// configured scratch filesystem root.
func ProjectRootDir(scratchRoot, projectName string) string {
	return path.Join(scratchRoot, projectName)
}

// BatchScriptsDir returns the cluster-absolute batch-scripts directory.
func BatchScriptsDir(scratchRoot, projectName string) string {
	return path.Join(ProjectRootDir(scratchRoot, projectName), dirBatchScripts)
}

// SlurmWorkspacesDir returns the cluster-absolute slurm-workspaces directory.
func SlurmWorkspacesDir(scratchRoot, projectName string) string {
	return path.Join(ProjectRootDir(scratchRoot, projectName), dirSlurmWorkspaces)
}

// JobWorkspaceDir returns the per-job workspace directory under the
// slurm-workspaces directory.
func JobWorkspaceDir(scratchRoot, projectName, workflowJobID string) string {
	return path.Join(SlurmWorkspacesDir(scratchRoot, projectName), workflowJobID)
}

// JobLogPath returns the per-job Slurm log path template (%J is expanded by
// the scheduler itself, not by this gateway).
func JobLogPath(scratchRoot, projectName, workflowJobID string) string {
	return path.Join(JobWorkspaceDir(scratchRoot, projectName, workflowJobID), "slurm-job-%J.txt")
}
