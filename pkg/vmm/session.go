// Package vmm owns the lifecycle of one simulator process: launching it
// from a base checkpoint, synchronizing with the guest over the serial
// console, detecting the workload's region of interest, and saving and
// verifying execution-state checkpoints through the control channel.
package vmm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"

	"github.com/simforge/chkforge/pkg/console"
	"github.com/simforge/chkforge/pkg/monitor"
)

const (
	labelShell    = "shell"
	labelLogin    = "login"
	labelPassword = "password"
	labelSudo     = "sudo-password"
	labelROI      = "roi"
)

// Console patterns for the guest distribution. Prompt patterns come before
// the login pattern so an already-interactive shell wins.
var (
	promptPatterns = []console.Pattern{
		console.MustPattern(labelShell, `\$ `),
		console.MustPattern(labelShell, `# `),
		console.MustPattern(labelShell, `user@[^\n]*\$`),
		console.MustPattern(labelShell, `root@[^\n]*#`),
	}
	loginPattern    = console.MustPattern(labelLogin, `login:`)
	passwordPattern = console.MustPattern(labelPassword, `[Pp]assword[^\n]*:`)
	sudoPattern     = console.MustPattern(labelSudo, `[Pp]assword[^\n]*:`)

	// The guest build emits one of several equivalent markers when it
	// switches into detailed simulation.
	roiPatterns = []console.Pattern{
		console.MustPattern(labelROI, `Switching to Simulation`),
		console.MustPattern(labelROI, `ptlcall_switch_to_sim`),
		console.MustPattern(labelROI, `PTLSIM_ENTER`),
	}
)

// controlChannel is the slice of monitor.Client the session uses; a fake
// stands in for it in tests.
type controlChannel interface {
	Send(cmd string) error
	Drain() string
	Request(cmd string, settle time.Duration) (string, error)
	Close() error
}

// Session drives one simulator process through the checkpoint protocol.
// A Session is single-use: once terminated or failed it cannot be
// restarted. Sessions are never shared across concurrent jobs.
type Session struct {
	cfg        Config
	id         string
	socketPath string

	cmd     *exec.Cmd
	tty     io.ReadWriteCloser
	matcher *console.Matcher
	input   ConsoleInput
	channel controlChannel

	state    State
	termOnce sync.Once
	log      *slog.Logger
}

// NewSession prepares a session for one job. Nothing is launched until
// Start is called.
func NewSession(cfg Config) *Session {
	if cfg.InputMode == "" {
		cfg.InputMode = InputPTY
	}
	runtimeDir := cfg.RuntimeDir
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}

	id := uuid.NewString()[:8]
	return &Session{
		cfg:        cfg,
		id:         id,
		socketPath: filepath.Join(runtimeDir, fmt.Sprintf("chkforge-%s.sock", id)),
		state:      StateNotStarted,
		log:        slog.With("session", id),
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	return s.state
}

// Start launches the simulator restoring baseCheckpoint, waits for the
// control socket to appear and connects to it. The serial console is
// attached to a pty so the guest behaves as if a terminal were present.
func (s *Session) Start(ctx context.Context, baseCheckpoint string) error {
	if s.state != StateNotStarted {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.state)
	}

	// A crashed run can leave a stale socket behind; the simulator will
	// not bind over it.
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return s.fail(err)
	}

	args := []string{
		"-m", fmt.Sprintf("%dM", s.cfg.MemoryMB),
		"-drive", fmt.Sprintf("file=%s,format=qcow2", s.cfg.DiskImage),
		"-loadvm", baseCheckpoint,
		"-nographic",
		"-serial", "mon:stdio",
		"-monitor", fmt.Sprintf("unix:%s,server,nowait", s.socketPath),
	}
	args = append(args, s.cfg.ExtraArgs...)

	cmd := exec.Command(s.cfg.SimulatorBin, args...)
	cmd.Dir = s.cfg.WorkDir
	cmd.Env = os.Environ()
	if s.cfg.SimLibraryPath != "" {
		cmd.Env = append(cmd.Env,
			"LD_LIBRARY_PATH="+s.cfg.SimLibraryPath+":"+os.Getenv("LD_LIBRARY_PATH"))
	}

	s.log.Info("starting simulator",
		"baseCheckpoint", baseCheckpoint,
		"socket", s.socketPath,
	)

	tty, err := pty.Start(cmd)
	if err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrProcessLaunch, err))
	}
	s.cmd = cmd
	s.tty = tty
	s.matcher = console.NewMatcher(tty)
	s.state = StateBooting

	if err := s.waitForSocket(ctx); err != nil {
		return s.fail(err)
	}

	channel, err := monitor.Dial(s.socketPath, s.cfg.Timeouts.ChannelIO)
	if err != nil {
		return s.fail(err)
	}
	s.channel = channel

	switch s.cfg.InputMode {
	case InputSendKey:
		s.input = &sendKeyInput{channel: channel, keyDelay: 50 * time.Millisecond}
	default:
		s.input = &ptyInput{w: tty}
	}

	return nil
}

func (s *Session) waitForSocket(ctx context.Context) error {
	deadline := time.Now().Add(s.cfg.Timeouts.Boot)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		if _, err := os.Stat(s.socketPath); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s", ErrBootTimeout, s.cfg.Timeouts.Boot)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SyncToPrompt brings the guest shell to a known interactive point. A
// restored checkpoint usually sits on an already-drawn prompt; a freshly
// booted guest presents a login prompt instead, which is answered with the
// configured credentials. One retry with a short timeout is performed
// before giving up.
func (s *Session) SyncToPrompt() error {
	if s.state != StateBooting {
		return fmt.Errorf("%w: sync from %s", ErrInvalidTransition, s.state)
	}

	// Nudge the console so a pending prompt is redrawn.
	if err := s.input.SendLine(""); err != nil {
		return s.fail(err)
	}

	label, _, err := s.matcher.Expect(promptOrLogin(), s.cfg.Timeouts.Prompt)
	if err != nil {
		s.log.Warn("no prompt yet, re-sending newline", "error", err.Error())
		if err := s.input.SendLine(""); err != nil {
			return s.fail(err)
		}
		label, _, err = s.matcher.Expect(promptPatterns, s.cfg.Timeouts.PromptRetry)
		if err != nil {
			return s.fail(fmt.Errorf("%w: %v", ErrPromptNotFound, err))
		}
	}

	if label == labelLogin {
		if err := s.login(); err != nil {
			return s.fail(err)
		}
	}

	s.state = StateAtPrompt
	s.log.Info("guest shell is interactive")
	return nil
}

func (s *Session) login() error {
	s.log.Info("login prompt detected, authenticating", "user", s.cfg.GuestUser)

	if err := s.input.SendLine(s.cfg.GuestUser); err != nil {
		return err
	}
	if _, _, err := s.matcher.Expect(
		[]console.Pattern{passwordPattern}, s.cfg.Timeouts.Login,
	); err != nil {
		return fmt.Errorf("%w: %v", ErrPromptNotFound, err)
	}
	if err := s.input.SendLine(s.cfg.GuestPassword); err != nil {
		return err
	}
	if _, _, err := s.matcher.Expect(promptPatterns, s.cfg.Timeouts.Prompt); err != nil {
		return fmt.Errorf("%w: %v", ErrPromptNotFound, err)
	}
	return nil
}

// RunWorkloadToROI runs command under sudo in the guest and waits for the
// simulation-mode marker. This is the longest wait in the protocol:
// workload runtime before the ROI is workload-dependent and effectively
// unbounded.
func (s *Session) RunWorkloadToROI(command string) error {
	if s.state != StateAtPrompt {
		return fmt.Errorf("%w: run from %s", ErrInvalidTransition, s.state)
	}
	s.state = StateRunningWorkload
	s.log.Info("running workload", "command", command)

	if err := s.input.SendLine("sudo " + command); err != nil {
		return s.fail(err)
	}

	// sudo may or may not ask for a password depending on credential
	// caching; a missed prompt within this window is not an error.
	early := append([]console.Pattern{sudoPattern}, roiPatterns...)
	label, _, err := s.matcher.Expect(early, s.cfg.Timeouts.SudoWindow)
	switch {
	case errors.Is(err, console.ErrTimeoutExpired):
		s.log.Debug("no sudo password prompt, continuing")
	case err != nil:
		return s.fail(err)
	case label == labelSudo:
		if err := s.input.SendLine(s.cfg.GuestPassword); err != nil {
			return s.fail(err)
		}
	case label == labelROI:
		s.state = StateAtROI
		s.log.Info("ROI marker observed")
		return nil
	}

	if _, _, err := s.matcher.Expect(roiPatterns, s.cfg.Timeouts.ROI); err != nil {
		return s.fail(fmt.Errorf("%w: %v", ErrROITimeout, err))
	}

	s.state = StateAtROI
	s.log.Info("ROI marker observed")
	return nil
}

// SaveCheckpoint issues the save command and waits the configured settle
// time. The channel gives no completion acknowledgment, so the settle is
// only a heuristic; VerifyCheckpoint is the actual success signal.
func (s *Session) SaveCheckpoint(name string) error {
	if s.state != StateAtROI {
		return fmt.Errorf("%w: save from %s", ErrInvalidTransition, s.state)
	}
	s.state = StateSaving
	s.log.Info("saving checkpoint", "name", name, "settle", s.cfg.Timeouts.SaveSettle)

	resp, err := s.channel.Request("savevm "+name, s.cfg.Timeouts.SaveSettle)
	if err != nil {
		return s.fail(err)
	}
	if resp != "" {
		s.log.Debug("save response", "response", truncate(resp, 200))
	}
	return nil
}

// VerifyCheckpoint reports whether name appears in the snapshot listing.
// The listing is polled a few times because the save completes
// asynchronously. A missing checkpoint is a normal, reportable result, not
// an error.
func (s *Session) VerifyCheckpoint(name string) (bool, error) {
	if s.state != StateSaving {
		return false, fmt.Errorf("%w: verify from %s", ErrInvalidTransition, s.state)
	}

	const attempts = 3
	for i := 0; i < attempts; i++ {
		resp, err := s.channel.Request("info snapshots", s.cfg.Timeouts.RequestSettle)
		if err != nil {
			return false, s.fail(err)
		}
		if strings.Contains(resp, name) {
			s.state = StateVerified
			s.log.Info("checkpoint verified", "name", name)
			return true, nil
		}
		s.log.Warn("checkpoint not in snapshot listing yet",
			"name", name, "attempt", i+1)
	}

	return false, nil
}

// Terminate shuts the session down: best-effort quit over the control
// channel, a bounded wait for process exit, a kill if it overstays, and
// removal of the control socket. Safe to call multiple times and from
// error-handling paths; it never returns an error.
func (s *Session) Terminate() error {
	s.termOnce.Do(func() {
		if s.channel != nil {
			_ = s.channel.Send("quit")
			_ = s.channel.Close()
		}

		if s.cmd != nil && s.cmd.Process != nil {
			done := make(chan error, 1)
			go func() { done <- s.cmd.Wait() }()

			select {
			case <-done:
			case <-time.After(s.cfg.Timeouts.Grace):
				s.log.Warn("simulator did not exit, killing", "pid", s.cmd.Process.Pid)
				_ = s.cmd.Process.Kill()
				<-done
			}
		}

		if s.tty != nil {
			_ = s.tty.Close()
		}

		if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
			s.log.Debug("could not remove control socket", "error", err.Error())
		}

		s.state = StateTerminated
		s.log.Info("session terminated")
	})

	return nil
}

func (s *Session) fail(err error) error {
	s.state = StateFailed
	return err
}

func promptOrLogin() []console.Pattern {
	return append(append([]console.Pattern{}, promptPatterns...), loginPattern)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
