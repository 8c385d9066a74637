package types

import "errors"

// Datastore Gateway errors.
var (
	ErrAlreadyExists     = errors.New("entity already exists")
	ErrNotFound          = errors.New("entity not found")
	ErrIllegalTransition = errors.New("illegal job state transition")
)

// Message Bus Client errors.
var ErrPublishRejected = errors.New("broker nacked publish")

// HPC Connector errors.
var (
	ErrKeyfileMissing    = errors.New("ssh private key file missing")
	ErrAuthFailed        = errors.New("ssh authentication failed")
	ErrProxyUnreachable  = errors.New("proxy host unreachable")
	ErrTunnelUnreachable = errors.New("tunnel through proxy host unreachable")
	ErrFrontendUnreachable = errors.New("front-end host unreachable")
	ErrConnectUnreachable  = errors.New("exhausted all proxy/front-end pairs")
)

// Remote Job Executor errors.
var (
	ErrSubmitFailed = errors.New("batch job submission failed")
	ErrPollTimeout  = errors.New("poll_until_terminal timed out")
)

// Remote I/O Transfer errors.
var ErrTransferFailed = errors.New("remote transfer failed")

// Startup errors.
var ErrConfigMissing = errors.New("required configuration variable missing")
