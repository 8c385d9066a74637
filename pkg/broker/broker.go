package broker

import (
	"context"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/subugoe/operandi-go/pkg/log"
	"github.com/subugoe/operandi-go/pkg/metrics"
)

// ChildSpec names one worker child the supervisor keeps alive: the queue it
// binds to, and the extra command-line arguments that select that queue in
// the worker binary invoked at command.
type ChildSpec struct {
	Queue string
	Args  []string
}

// Supervisor owns the set of worker children. No shared state is
// exchanged with children beyond command-line configuration.
type Supervisor struct {
	command     string
	baseArgs    []string
	children    []ChildSpec
	maxRestarts int
	window      time.Duration
}

// New builds a Supervisor that invokes command+baseArgs+child.Args once per
// child, restarting a child that exits up to maxRestarts times within
// window.
func New(command string, baseArgs []string, children []ChildSpec, maxRestarts int, window time.Duration) *Supervisor {
	if maxRestarts <= 0 {
		maxRestarts = 5
	}
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &Supervisor{
		command:     command,
		baseArgs:    baseArgs,
		children:    children,
		maxRestarts: maxRestarts,
		window:      window,
	}
}

// Run becomes a process-group leader, spawns one child per configured
// queue, and blocks until every child has exhausted its restart budget or a
// termination signal arrives. On signal it propagates SIGTERM to the whole
// process group.
func (s *Supervisor) Run() error {
	if err := syscall.Setpgid(0, 0); err != nil {
		logger := log.WithComponent("broker")
		logger.Warn().Err(err).Msg("setpgid failed, continuing as-is")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		sig := <-sigCh
		logger := log.WithComponent("broker")
		logger.Warn().Str("signal", sig.String()).Msg("termination signal received, stopping children")
		cancel()
		if pgid, err := syscall.Getpgid(0); err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGTERM)
		}
	}()

	var wg sync.WaitGroup
	for _, child := range s.children {
		wg.Add(1)
		go func(spec ChildSpec) {
			defer wg.Done()
			s.supervise(ctx, spec)
		}(child)
	}
	wg.Wait()
	return nil
}

// supervise runs one child to completion repeatedly, tracking restarts in a
// sliding window of s.window, until the budget of s.maxRestarts is
// exhausted or ctx is cancelled.
func (s *Supervisor) supervise(ctx context.Context, spec ChildSpec) {
	logger := log.WithQueue(spec.Queue)
	var restarts []time.Time

	for {
		if ctx.Err() != nil {
			return
		}

		args := append(append([]string{}, s.baseArgs...), spec.Args...)
		cmd := exec.CommandContext(ctx, s.command, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		logger.Info().Str("command", s.command).Msg("starting worker child")
		err := cmd.Run()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Warn().Err(err).Msg("worker child exited with error")
		} else {
			logger.Warn().Msg("worker child exited")
		}

		now := time.Now()
		restarts = append(restarts, now)
		restarts = pruneBefore(restarts, now.Add(-s.window))

		if len(restarts) > s.maxRestarts {
			logger.Error().Int("restarts", len(restarts)).Dur("window", s.window).
				Msg("restart budget exhausted, giving up on this queue")
			return
		}
		metrics.WorkerRestartsTotal.WithLabelValues(spec.Queue).Inc()
	}
}

func pruneBefore(times []time.Time, cutoff time.Time) []time.Time {
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
