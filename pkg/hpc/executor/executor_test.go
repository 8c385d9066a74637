package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSubmitArgsClampsForksToPageCount(t *testing.T) {
	spec := JobSpec{
		Partition:          "medium",
		Deadline:           "08:00:00",
		LogPath:            "/scratch/j1/job.log",
		CPUs:               4,
		RAMGigabytes:       32,
		QOS:                "standard",
		InnerScript:        "ocrd-workflow.nf",
		SlurmWorkspacesDir: "/scratch/j1/workspaces",
		WorkflowJobID:      "job-1",
		NextflowScriptID:   "script-1",
		InputFileGrp:       "DEFAULT",
		WorkspaceID:        "ws-1",
		MetsBasename:       "mets.xml",
		ProcessForks:       8,
		PageCount:          3,
		UseMetsServer:      true,
		FileGroupsToRemove: []string{"OCR-D-IMG", "OCR-D-BIN"},
	}

	args := buildSubmitArgs(spec)

	require.Len(t, args, 19)
	assert.Equal(t, "medium", args[0])
	assert.Equal(t, "08:00:00", args[1])
	assert.Equal(t, "3", args[15], "process_forks should clamp to page_count")
	assert.Equal(t, "3", args[16], "page_count passed through unchanged")
	assert.Equal(t, "true", args[17])
	assert.Equal(t, "OCR-D-IMG,OCR-D-BIN", args[18])
}

func TestBuildSubmitArgsFloorsForksAtOne(t *testing.T) {
	spec := JobSpec{ProcessForks: 0, PageCount: 5}
	args := buildSubmitArgs(spec)
	assert.Equal(t, "1", args[15])
}

func TestBuildSubmitArgsIgnoresPageCountZero(t *testing.T) {
	spec := JobSpec{ProcessForks: 6, PageCount: 0}
	args := buildSubmitArgs(spec)
	assert.Equal(t, "6", args[15], "page_count of zero means unknown, so forks pass through")
}

func TestClassifyState(t *testing.T) {
	cases := []struct {
		tag  StateTag
		want StateClass
	}{
		{StateCompleted, ClassSuccess},
		{StatePending, ClassWaiting},
		{StateRequeued, ClassWaiting},
		{StateResizing, ClassWaiting},
		{StateSuspended, ClassWaiting},
		{StateRunning, ClassRunning},
		{StateConfiguring, ClassRunning},
		{StateCompleting, ClassRunning},
		{StateStageOut, ClassRunning},
		{StateFailed, ClassFail},
		{StateCancelled, ClassFail},
		{StateTimeout, ClassFail},
		{StateOutOfMemory, ClassFail},
		{StateTag("SOMETHING_NEW"), ClassUnknown},
	}

	for _, tc := range cases {
		t.Run(string(tc.tag), func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyState(tc.tag))
		})
	}
}

func TestParseStateLineOK(t *testing.T) {
	// Real sacct-style output trails the main job row with a ".batch" step
	// row; "second-to-last line" picks the main job's row, not the step.
	stdout := "JobID State\n------- ----------\n12345 COMPLETED\n12345.batch COMPLETED\n"
	tag, cond := parseStateLine(stdout)
	assert.Equal(t, conditionOK, cond)
	assert.Equal(t, StateTag("COMPLETED"), tag)
}

func TestParseStateLineTooFewLines(t *testing.T) {
	tag, cond := parseStateLine("JobID State\n")
	assert.Equal(t, conditionTooFewLines, cond)
	assert.Empty(t, tag)
}

func TestParseStateLineDashes(t *testing.T) {
	stdout := "JobID State\n------- ----------\n-------------------\n"
	_, cond := parseStateLine(stdout)
	assert.Equal(t, conditionDashes, cond)
}

func TestCheckStateOptionsDefaults(t *testing.T) {
	opts := CheckStateOptions{}.withDefaults()
	assert.Equal(t, 10, opts.Tries)
	assert.Equal(t, 2*time.Second, opts.WaitTime)

	custom := CheckStateOptions{Tries: 3, WaitTime: 500 * time.Millisecond}.withDefaults()
	assert.Equal(t, 3, custom.Tries)
	assert.Equal(t, 500*time.Millisecond, custom.WaitTime)
}

func TestShellJoinEscapesSingleQuotes(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shellJoin("it's"))
	assert.Equal(t, "'plain'", shellJoin("plain"))
}

func TestSplitNonEmptyLinesStripsBlankAndCRLF(t *testing.T) {
	lines := splitNonEmptyLines("a\r\n\r\nb\nc\n\n")
	assert.Equal(t, []string{"a", "b", "c"}, lines)
}
