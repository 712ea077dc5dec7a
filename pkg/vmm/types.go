package vmm

import (
	"errors"
	"time"
)

// State is the lifecycle state of one simulator session.
type State string

const (
	StateNotStarted      State = "not_started"
	StateBooting         State = "booting"   // process launched, restoring the base checkpoint
	StateAtPrompt        State = "at_prompt" // guest shell is interactive
	StateRunningWorkload State = "running_workload"
	StateAtROI           State = "at_roi"   // ROI marker observed on the console
	StateSaving          State = "saving"   // checkpoint save issued
	StateVerified        State = "verified" // checkpoint present in the snapshot listing
	StateTerminated      State = "terminated"
	StateFailed          State = "failed" // absorbing; reachable from any non-terminal state
)

// InputMode selects how guest input is delivered.
type InputMode string

const (
	// InputPTY writes lines directly to the serial console.
	InputPTY InputMode = "pty"
	// InputSendKey types synthetic keystrokes through the control channel.
	InputSendKey InputMode = "sendkey"
)

var (
	ErrProcessLaunch        = errors.New("failed to launch simulator process")
	ErrBootTimeout          = errors.New("timed out waiting for control socket")
	ErrPromptNotFound       = errors.New("no shell prompt on console")
	ErrROITimeout           = errors.New("timed out waiting for ROI marker")
	ErrVerificationMismatch = errors.New("checkpoint absent from snapshot listing")
	ErrInvalidTransition    = errors.New("operation not valid in current session state")
)

// Config describes how to launch and drive one simulator session. It is an
// explicit value so test doubles with short timeouts can coexist with
// production settings.
type Config struct {
	SimulatorBin   string   // simulator's qemu-system binary
	DiskImage      string   // qcow2 image carrying the snapshot table
	MemoryMB       int
	WorkDir        string   // working directory for the simulator process
	SimLibraryPath string   // prepended to LD_LIBRARY_PATH for the memory model
	RuntimeDir     string   // directory for per-session control sockets
	ExtraArgs      []string // appended to the simulator command line

	GuestUser     string
	GuestPassword string

	InputMode InputMode // defaults to InputPTY
	Timeouts  Timeouts
}

// Timeouts carries one constant per protocol phase. The phases have wildly
// different real-world variance, so collapsing them into one generic
// timeout would force the ROI wait onto prompt detection.
type Timeouts struct {
	Boot          time.Duration // control socket appearance after launch
	Prompt        time.Duration // shell or login prompt on the console
	PromptRetry   time.Duration // single re-nudge after a missed prompt
	Login         time.Duration // password prompt after sending the username
	SudoWindow    time.Duration // short wait for a sudo password prompt; absence is normal
	ROI           time.Duration // workload runtime before the ROI marker; unbounded in practice
	SaveSettle    time.Duration // fixed settle after the save command
	RequestSettle time.Duration // settle for ordinary control requests
	Grace         time.Duration // wait for process exit after quit before killing
	ChannelIO     time.Duration // per-operation bound on control channel I/O
}

// DefaultTimeouts mirrors the values tuned against the slow full-system
// emulation: restoring a checkpoint alone can take minutes, and workloads
// may run half an hour before reaching their ROI.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Boot:          10 * time.Minute,
		Prompt:        5 * time.Minute,
		PromptRetry:   10 * time.Second,
		Login:         5 * time.Minute,
		SudoWindow:    30 * time.Second,
		ROI:           30 * time.Minute,
		SaveSettle:    30 * time.Second,
		RequestSettle: 2 * time.Second,
		Grace:         5 * time.Second,
		ChannelIO:     10 * time.Second,
	}
}
