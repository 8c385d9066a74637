package hpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClusterPathLayout(t *testing.T) {
	const (
		scratch = "/scratch1"
		project = "project_ocr"
	)

	assert.Equal(t, "/home/users/u12345", UserHomeDir("u12345"))
	assert.Equal(t, "/scratch1/project_ocr", ProjectRootDir(scratch, project))
	assert.Equal(t, "/scratch1/project_ocr/batch_scripts", BatchScriptsDir(scratch, project))
	assert.Equal(t, "/scratch1/project_ocr/slurm_workspaces", SlurmWorkspacesDir(scratch, project))
	assert.Equal(t, "/scratch1/project_ocr/slurm_workspaces/job-1", JobWorkspaceDir(scratch, project, "job-1"))
	assert.Equal(t, "/scratch1/project_ocr/slurm_workspaces/job-1/slurm-job-%J.txt", JobLogPath(scratch, project, "job-1"))
}

func TestClusterPathsStableAcrossCalls(t *testing.T) {
	first := JobWorkspaceDir("/scratch", "p", "j")
	second := JobWorkspaceDir("/scratch", "p", "j")
	assert.Equal(t, first, second)
}
