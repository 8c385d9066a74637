// Package executor submits batch jobs to the cluster's scheduler through
// an HPC Connector, queries job state, and polls until a terminal state
// is reached.
package executor

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/subugoe/operandi-go/pkg/hpc/connector"
	"github.com/subugoe/operandi-go/pkg/log"
	"github.com/subugoe/operandi-go/pkg/types"
)

// JobSpec carries every positional argument the submission wrapper script
// expects. Do not reorder the fields used by buildSubmitArgs: the remote
// script depends on position, not name.
type JobSpec struct {
	Partition          string
	Deadline           string
	LogPath            string
	CPUs               int
	RAMGigabytes       int
	QOS                string
	InnerScript        string
	SlurmWorkspacesDir string
	WorkflowJobID      string
	NextflowScriptID   string
	InputFileGrp       string
	WorkspaceID        string
	MetsBasename       string
	ProcessForks       int
	PageCount          int
	UseMetsServer      bool
	FileGroupsToRemove []string
}

// buildSubmitArgs renders the positional argument list for the wrapper
// script, clamping process_forks to page_count and logging when it does.
func buildSubmitArgs(spec JobSpec) []string {
	forks := spec.ProcessForks
	if spec.PageCount >= 1 && forks > spec.PageCount {
		logger := log.WithComponent("executor")
		logger.Warn().
			Str("workflow_job_id", spec.WorkflowJobID).
			Int("configured_forks", forks).
			Int("page_count", spec.PageCount).
			Msg("process_forks exceeds page_count, clamping")
		forks = spec.PageCount
	}
	if forks < 1 {
		forks = 1
	}

	useMetsServer := "false"
	if spec.UseMetsServer {
		useMetsServer = "true"
	}

	return []string{
		spec.Partition,
		spec.Deadline,
		spec.LogPath,
		strconv.Itoa(spec.CPUs),
		strconv.Itoa(spec.RAMGigabytes),
		spec.QOS,
		spec.InnerScript,
		spec.SlurmWorkspacesDir,
		spec.WorkflowJobID,
		spec.NextflowScriptID,
		spec.InputFileGrp,
		spec.WorkspaceID,
		spec.MetsBasename,
		strconv.Itoa(spec.CPUs),
		strconv.Itoa(spec.RAMGigabytes),
		strconv.Itoa(forks),
		strconv.Itoa(spec.PageCount),
		useMetsServer,
		strings.Join(spec.FileGroupsToRemove, ","),
	}
}

// submitWrapperPath is the remote path of the submission wrapper, installed
// alongside the batch scripts by pkg/hpc/transfer.
const submitWrapperPath = "submit_job.sh"

const statusWrapperPath = "check_job.sh"

// Submit composes and runs the submission wrapper, returning the numeric
// remote job id the scheduler assigned.
func Submit(conn *connector.Connector, batchScriptsDir string, spec JobSpec) (string, error) {
	args := buildSubmitArgs(spec)
	command := fmt.Sprintf("%s %s", shellJoin(fmt.Sprintf("%s/%s", batchScriptsDir, submitWrapperPath)), shellJoinAll(args))

	stdout, stderr, exitCode, err := conn.Exec(command)
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrSubmitFailed, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("%w: exit %d: %s", types.ErrSubmitFailed, exitCode, stderr)
	}

	lines := splitNonEmptyLines(stdout)
	if len(lines) == 0 {
		return "", fmt.Errorf("%w: empty submit output", types.ErrSubmitFailed)
	}
	tokens := strings.Fields(lines[0])
	if len(tokens) == 0 {
		return "", fmt.Errorf("%w: no tokens in submit output line %q", types.ErrSubmitFailed, lines[0])
	}
	last := tokens[len(tokens)-1]
	id, err := strconv.Atoi(last)
	if err != nil || id <= 0 {
		return "", fmt.Errorf("%w: non-integer remote_job_id token %q", types.ErrSubmitFailed, last)
	}
	return strconv.Itoa(id), nil
}

// StateTag is a Slurm job-state mnemonic as reported by the accounting view.
type StateTag string

const (
	StateCompleted StateTag = "COMPLETED"

	StatePending   StateTag = "PENDING"
	StateRequeued  StateTag = "REQUEUED"
	StateResizing  StateTag = "RESIZING"
	StateSuspended StateTag = "SUSPENDED"

	StateRunning     StateTag = "RUNNING"
	StateConfiguring StateTag = "CONFIGURING"
	StateCompleting  StateTag = "COMPLETING"
	StateStageOut    StateTag = "STAGE_OUT"

	StateBootFail    StateTag = "BOOT_FAIL"
	StateCancelled   StateTag = "CANCELLED"
	StateDeadline    StateTag = "DEADLINE"
	StateFailed      StateTag = "FAILED"
	StateNodeFail    StateTag = "NODE_FAIL"
	StateOutOfMemory StateTag = "OUT_OF_MEMORY"
	StatePreempted   StateTag = "PREEMPTED"
	StateRevoked     StateTag = "REVOKED"
	StateSpecialExit StateTag = "SPECIAL_EXIT"
	StateStopped     StateTag = "STOPPED"
	StateTimeout     StateTag = "TIMEOUT"
)

// StateClass is one of the four disjoint outcome classes covering the
// state tag universe.
type StateClass string

const (
	ClassSuccess StateClass = "success"
	ClassWaiting StateClass = "waiting"
	ClassRunning StateClass = "running"
	ClassFail    StateClass = "fail"
	ClassUnknown StateClass = "unknown"
)

var successStates = map[StateTag]bool{StateCompleted: true}

var waitingStates = map[StateTag]bool{
	StatePending: true, StateRequeued: true, StateResizing: true, StateSuspended: true,
}

var runningStates = map[StateTag]bool{
	StateRunning: true, StateConfiguring: true, StateCompleting: true, StateStageOut: true,
}

var failStates = map[StateTag]bool{
	StateBootFail: true, StateCancelled: true, StateDeadline: true, StateFailed: true,
	StateNodeFail: true, StateOutOfMemory: true, StatePreempted: true, StateRevoked: true,
	StateSpecialExit: true, StateStopped: true, StateTimeout: true,
}

// ClassifyState partitions a state tag into exactly one of the four closed
// sets, or ClassUnknown for a mnemonic this gateway does not recognize.
func ClassifyState(tag StateTag) StateClass {
	switch {
	case successStates[tag]:
		return ClassSuccess
	case waitingStates[tag]:
		return ClassWaiting
	case runningStates[tag]:
		return ClassRunning
	case failStates[tag]:
		return ClassFail
	default:
		return ClassUnknown
	}
}

// lineCondition names a transient condition observed while parsing
// accounting output, distinct from an actual state tag.
type lineCondition int

const (
	conditionOK lineCondition = iota
	conditionTooFewLines
	conditionDashes
)

// parseStateLine extracts the state mnemonic (token index 1 of the
// second-to-last line) from the accounting wrapper's raw stdout. Fewer
// than three lines, or a line of dashes, are distinct named transient
// conditions rather than errors.
func parseStateLine(stdout string) (StateTag, lineCondition) {
	lines := splitNonEmptyLines(stdout)
	if len(lines) < 3 {
		return "", conditionTooFewLines
	}
	target := lines[len(lines)-2]
	if isDashesLine(target) {
		return "", conditionDashes
	}
	tokens := strings.Fields(target)
	if len(tokens) < 2 {
		return "", conditionTooFewLines
	}
	return StateTag(tokens[1]), conditionOK
}

// isDashesLine recognizes the accounting view's column-separator row, e.g.
// "------------ ---------- ----------": dashes and spaces only, at least
// one dash.
func isDashesLine(line string) bool {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false
	}
	hasDash := false
	for _, r := range trimmed {
		switch r {
		case '-':
			hasDash = true
		case ' ':
		default:
			return false
		}
	}
	return hasDash
}

// CheckStateOptions tunes the retry policy of CheckState.
type CheckStateOptions struct {
	Tries    int
	WaitTime time.Duration
}

func (o CheckStateOptions) withDefaults() CheckStateOptions {
	if o.Tries <= 0 {
		o.Tries = 10
	}
	if o.WaitTime <= 0 {
		o.WaitTime = 2 * time.Second
	}
	return o
}

// CheckState runs the status wrapper, retrying while the job is "not yet
// listed" on the accounting view. If every try is exhausted, it returns an
// empty StateTag ("null state"), which callers must treat as transient.
func CheckState(conn *connector.Connector, statusScriptsDir, remoteJobID string, opts CheckStateOptions) (StateTag, error) {
	opts = opts.withDefaults()
	logger := log.WithRemoteJobID(remoteJobID)

	var lastErr error
	for attempt := 0; attempt < opts.Tries; attempt++ {
		command := fmt.Sprintf("%s %s", shellJoin(fmt.Sprintf("%s/%s", statusScriptsDir, statusWrapperPath)), shellJoin(remoteJobID))
		stdout, _, exitCode, err := conn.Exec(command)
		if err != nil {
			lastErr = err
			logger.Warn().Err(err).Int("attempt", attempt).Msg("check_state exec failed, retrying")
			time.Sleep(opts.WaitTime)
			continue
		}
		if exitCode != 0 {
			lastErr = fmt.Errorf("status wrapper exit %d", exitCode)
			logger.Warn().Int("exit_code", exitCode).Int("attempt", attempt).Msg("check_state non-zero exit, retrying")
			time.Sleep(opts.WaitTime)
			continue
		}

		tag, cond := parseStateLine(stdout)
		switch cond {
		case conditionOK:
			return tag, nil
		case conditionTooFewLines:
			logger.Debug().Int("attempt", attempt).Msg("job not yet listed: fewer than three output lines")
		case conditionDashes:
			logger.Debug().Int("attempt", attempt).Msg("job not yet listed: dashes line")
		}
		time.Sleep(opts.WaitTime)
	}
	return "", lastErr
}

// PollUntilTerminal sleeps interval, checks state, and classifies the
// result, looping until a success or fail classification, or until timeout
// elapses. It returns true only on ClassSuccess.
func PollUntilTerminal(conn *connector.Connector, statusScriptsDir, remoteJobID string, interval, timeout time.Duration) (bool, error) {
	logger := log.WithRemoteJobID(remoteJobID)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		time.Sleep(interval)

		tag, err := CheckState(conn, statusScriptsDir, remoteJobID, CheckStateOptions{})
		if err != nil {
			logger.Warn().Err(err).Msg("check_state failed during poll, continuing")
			continue
		}
		if tag == "" {
			continue // null state: transient, keep polling
		}

		switch ClassifyState(tag) {
		case ClassSuccess:
			return true, nil
		case ClassFail:
			return false, nil
		case ClassRunning, ClassWaiting:
			continue
		default:
			logger.Warn().Str("state_tag", string(tag)).Msg("unrecognized state tag, continuing")
		}
	}
	return false, fmt.Errorf("%w: remote_job_id=%s after %s", types.ErrPollTimeout, remoteJobID, timeout)
}

// CancelRemote issues the cluster's cancellation command for an
// administratively cancelled job. It is never invoked automatically.
func CancelRemote(conn *connector.Connector, remoteJobID string) error {
	command := fmt.Sprintf("scancel %s", shellJoin(remoteJobID))
	_, stderr, exitCode, err := conn.Exec(command)
	if err != nil {
		return fmt.Errorf("cancel remote job %s: %w", remoteJobID, err)
	}
	if exitCode != 0 {
		return fmt.Errorf("cancel remote job %s: exit %d: %s", remoteJobID, exitCode, stderr)
	}
	return nil
}

func splitNonEmptyLines(s string) []string {
	raw := strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

func shellJoin(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellJoinAll(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = shellJoin(a)
	}
	return strings.Join(quoted, " ")
}
