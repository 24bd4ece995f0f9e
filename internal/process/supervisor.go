// Package process owns the OS process behind a wallpaper player: launching it
// with redirected stdio, watching for exit, and tearing it down.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/livelyd/livelyd/internal/logger"
	"github.com/rs/zerolog"
)

var (
	// ErrProcessLaunch marks a failure to start the player
	ErrProcessLaunch = errors.New("failed to launch player process")
	// ErrAlreadyStarted is returned by a second Start
	ErrAlreadyStarted = errors.New("process already started")
)

const (
	defaultDrainTimeout = 500 * time.Millisecond
	killWaitTimeout     = 2 * time.Second
)

// LaunchError wraps the OS error from a failed launch
type LaunchError struct {
	Program string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrProcessLaunch, e.Program, e.Err)
}

func (e *LaunchError) Unwrap() []error {
	return []error{ErrProcessLaunch, e.Err}
}

// DesktopRefresher redraws the desktop after a player window disappears
type DesktopRefresher interface {
	RefreshDesktop() error
}

// ExitStatus describes how the player ended
type ExitStatus struct {
	Code        int
	Err         error
	ForceKilled bool
}

// AttachFunc receives the player's stdout and stdin once it is running. The
// returned channel, if any, must close once stdout has been fully consumed.
type AttachFunc func(stdout io.ReadCloser, stdin io.WriteCloser) (drained <-chan struct{})

// Config describes how to run the player binary
type Config struct {
	Program      string
	Args         []string
	Env          []string
	Dir          string
	DrainTimeout time.Duration
}

// Supervisor owns a single player process
type Supervisor struct {
	cfg       Config
	refresher DesktopRefresher
	log       *zerolog.Logger

	mu          sync.Mutex
	cmd         *exec.Cmd
	stdout      *os.File
	started     bool
	exitStatus  ExitStatus
	onExit      func(ExitStatus)
	exited      chan struct{}
	forceKilled atomic.Bool
}

// NewSupervisor creates a supervisor for the given command. refresher may be nil.
func NewSupervisor(cfg Config, refresher DesktopRefresher, log *zerolog.Logger) *Supervisor {
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	if log == nil {
		log = logger.WithComponent("supervisor")
	}
	return &Supervisor{
		cfg:       cfg,
		refresher: refresher,
		log:       log,
		exited:    make(chan struct{}),
	}
}

// OnExit registers the exit callback. It must be called before Start and the
// callback runs exactly once.
func (s *Supervisor) OnExit(fn func(ExitStatus)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = fn
}

// Start launches the player with stdin and stdout redirected. stderr is
// inherited from the host for diagnostics.
func (s *Supervisor) Start(attach AttachFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	cmd := exec.Command(s.cfg.Program, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	cmd.Stderr = os.Stderr
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &LaunchError{Program: s.cfg.Program, Err: fmt.Errorf("failed to get stdin pipe: %w", err)}
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdin.Close()
		return &LaunchError{Program: s.cfg.Program, Err: fmt.Errorf("failed to create stdout pipe: %w", err)}
	}
	cmd.Stdout = stdoutW

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutR.Close()
		stdoutW.Close()
		return &LaunchError{Program: s.cfg.Program, Err: err}
	}
	// The child holds its own copy; ours must go so EOF arrives when it exits.
	stdoutW.Close()

	s.cmd = cmd
	s.stdout = stdoutR
	s.started = true

	s.log.Info().
		Str("program", s.cfg.Program).
		Int("pid", cmd.Process.Pid).
		Msg("Player process started")

	var drained <-chan struct{}
	if attach != nil {
		drained = attach(stdoutR, stdin)
	}

	go s.wait(cmd, drained)
	return nil
}

func (s *Supervisor) wait(cmd *exec.Cmd, drained <-chan struct{}) {
	err := cmd.Wait()

	status := ExitStatus{Code: -1}
	if cmd.ProcessState != nil {
		status.Code = cmd.ProcessState.ExitCode()
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		status.Err = err
	}

	// Let the reader hand over whatever the player wrote before it died.
	if drained != nil {
		select {
		case <-drained:
		case <-time.After(s.cfg.DrainTimeout):
			s.log.Debug().Msg("Player output not drained in time")
		}
	}
	s.stdout.Close()

	status.ForceKilled = s.forceKilled.Load()

	s.mu.Lock()
	s.exitStatus = status
	onExit := s.onExit
	s.mu.Unlock()
	close(s.exited)

	s.log.Info().
		Int("pid", cmd.Process.Pid).
		Int("exit_code", status.Code).
		Bool("force_killed", status.ForceKilled).
		Msg("Player process exited")

	if onExit != nil {
		onExit(status)
	}
}

// PID returns the OS process id, or 0 before Start
func (s *Supervisor) PID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil || s.cmd.Process == nil {
		return 0
	}
	return s.cmd.Process.Pid
}

// Exited is closed after the process has exited and the exit callback is due
func (s *Supervisor) Exited() <-chan struct{} {
	return s.exited
}

// HasExited reports whether the process is gone
func (s *Supervisor) HasExited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// ExitStatus returns the recorded exit; valid once Exited is closed
func (s *Supervisor) ExitStatus() ExitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitStatus
}

// ForceKilled reports whether Terminate actually had to kill the process
func (s *Supervisor) ForceKilled() bool {
	return s.forceKilled.Load()
}

// Terminate kills the process. It is safe to call at any time and any number
// of times.
func (s *Supervisor) Terminate() error {
	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil || s.HasExited() {
		return nil
	}

	// Recorded before the kill so the exit watcher can't miss it.
	s.forceKilled.Store(true)
	if err := killProcess(cmd); err != nil {
		s.forceKilled.Store(false)
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		s.log.Warn().Err(err).Int("pid", cmd.Process.Pid).Msg("Failed to kill player process")
		return fmt.Errorf("failed to kill player: %w", err)
	}
	s.log.Debug().Int("pid", cmd.Process.Pid).Msg("Killed player process")

	select {
	case <-s.exited:
	case <-time.After(killWaitTimeout):
		s.log.Warn().Int("pid", cmd.Process.Pid).Msg("Player did not exit after kill")
	}
	return nil
}

// KillAndRefresh terminates the player and redraws the desktop beneath it
func (s *Supervisor) KillAndRefresh() error {
	err := s.Terminate()
	if s.refresher != nil {
		if rerr := s.refresher.RefreshDesktop(); rerr != nil {
			s.log.Debug().Err(rerr).Msg("Desktop refresh failed")
		}
	}
	return err
}
