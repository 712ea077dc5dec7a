package vmm

import (
	"bufio"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simforge/chkforge/pkg/console"
)

// fakeChannel stands in for the control channel. A savevm request adds the
// checkpoint to the snapshot listing unless dropSaves is set.
type fakeChannel struct {
	mu        sync.Mutex
	sent      []string
	requests  []string
	snapshots []string
	dropSaves bool
	closes    int
}

func (f *fakeChannel) Send(cmd string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeChannel) Drain() string { return "" }

func (f *fakeChannel) Request(cmd string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, cmd)

	if name, ok := strings.CutPrefix(cmd, "savevm "); ok {
		if !f.dropSaves {
			f.snapshots = append(f.snapshots, name)
		}
		return "", nil
	}
	if cmd == "info snapshots" {
		return "ID  TAG\n" + strings.Join(f.snapshots, "\n") + "\n", nil
	}
	return "", nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeChannel) sentCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func fastTimeouts() Timeouts {
	return Timeouts{
		Boot:          2 * time.Second,
		Prompt:        2 * time.Second,
		PromptRetry:   200 * time.Millisecond,
		Login:         2 * time.Second,
		SudoWindow:    100 * time.Millisecond,
		ROI:           2 * time.Second,
		SaveSettle:    0,
		RequestSettle: 0,
		Grace:         time.Second,
		ChannelIO:     time.Second,
	}
}

// scriptedSession wires a Session to an in-memory console: the test owns
// the console output side and observes the lines the session types.
func scriptedSession(t *testing.T, ch controlChannel) (*Session, *io.PipeWriter, *bufio.Scanner) {
	t.Helper()

	consoleR, consoleW := io.Pipe()
	inputR, inputW := io.Pipe()
	t.Cleanup(func() {
		_ = consoleW.Close()
		_ = inputW.Close()
	})

	s := &Session{
		cfg: Config{
			GuestUser:     "user",
			GuestPassword: "user",
			Timeouts:      fastTimeouts(),
		},
		id:         "test",
		socketPath: filepath.Join(t.TempDir(), "chkforge-test.sock"),
		matcher:    console.NewMatcher(consoleR),
		input:      &ptyInput{w: inputW},
		channel:    ch,
		state:      StateBooting,
		log:        slog.With("session", "test"),
	}
	return s, consoleW, bufio.NewScanner(inputR)
}

func TestCheckpointFlowSuccess(t *testing.T) {
	ch := &fakeChannel{}
	s, consoleW, typed := scriptedSession(t, ch)

	go func() {
		for typed.Scan() {
			switch line := typed.Text(); {
			case line == "":
				_, _ = consoleW.Write([]byte("user@guest:~$ "))
			case strings.HasPrefix(line, "sudo "):
				_, _ = consoleW.Write([]byte("running workload\nSwitching to Simulation mode\n"))
			}
		}
	}()

	require.NoError(t, s.SyncToPrompt())
	assert.Equal(t, StateAtPrompt, s.State())

	require.NoError(t, s.RunWorkloadToROI("./run_stream add"))
	assert.Equal(t, StateAtROI, s.State())

	require.NoError(t, s.SaveCheckpoint("chk_stream_add"))
	assert.Equal(t, StateSaving, s.State())

	ok, err := s.VerifyCheckpoint("chk_stream_add")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateVerified, s.State())

	assert.Contains(t, ch.requests, "savevm chk_stream_add")
	assert.Contains(t, ch.requests, "info snapshots")
}

func TestSyncToPromptAnswersLogin(t *testing.T) {
	s, consoleW, typed := scriptedSession(t, &fakeChannel{})

	go func() {
		step := 0
		for typed.Scan() {
			switch step {
			case 0: // newline nudge
				_, _ = consoleW.Write([]byte("guest login:"))
			case 1: // username
				assert.Equal(t, "user", typed.Text())
				_, _ = consoleW.Write([]byte("Password:"))
			case 2: // password
				_, _ = consoleW.Write([]byte("\nuser@guest:~$ "))
			}
			step++
		}
	}()

	require.NoError(t, s.SyncToPrompt())
	assert.Equal(t, StateAtPrompt, s.State())
}

func TestSyncToPromptRetriesOnce(t *testing.T) {
	s, consoleW, typed := scriptedSession(t, &fakeChannel{})

	go func() {
		nudges := 0
		for typed.Scan() {
			if typed.Text() != "" {
				continue
			}
			nudges++
			// Stay silent on the first nudge so the retry path runs.
			if nudges == 2 {
				_, _ = consoleW.Write([]byte("root@guest:/home#"))
			}
		}
	}()

	// The first wait must burn its full window before the retry.
	s.cfg.Timeouts.Prompt = 300 * time.Millisecond
	s.cfg.Timeouts.PromptRetry = 2 * time.Second

	require.NoError(t, s.SyncToPrompt())
	assert.Equal(t, StateAtPrompt, s.State())
}

func TestSyncToPromptGivesUpAfterRetry(t *testing.T) {
	s, _, typed := scriptedSession(t, &fakeChannel{})
	go func() {
		for typed.Scan() {
		}
	}()

	s.cfg.Timeouts.Prompt = 100 * time.Millisecond
	s.cfg.Timeouts.PromptRetry = 100 * time.Millisecond

	err := s.SyncToPrompt()
	require.ErrorIs(t, err, ErrPromptNotFound)
	assert.Equal(t, StateFailed, s.State())
}

func TestRunWorkloadAnswersSudoPrompt(t *testing.T) {
	s, consoleW, typed := scriptedSession(t, &fakeChannel{})
	s.state = StateAtPrompt
	s.cfg.Timeouts.SudoWindow = 2 * time.Second

	go func() {
		for typed.Scan() {
			switch line := typed.Text(); {
			case strings.HasPrefix(line, "sudo "):
				_, _ = consoleW.Write([]byte("[sudo] password for user:"))
			case line == "user":
				_, _ = consoleW.Write([]byte("\nSwitching to Simulation mode\n"))
			}
		}
	}()

	require.NoError(t, s.RunWorkloadToROI("./run_gap bfs"))
	assert.Equal(t, StateAtROI, s.State())
}

func TestRunWorkloadROITimeout(t *testing.T) {
	s, consoleW, typed := scriptedSession(t, &fakeChannel{})
	s.state = StateAtPrompt

	go func() {
		for typed.Scan() {
			if strings.HasPrefix(typed.Text(), "sudo ") {
				_, _ = consoleW.Write([]byte("workload crashed before simulation\n"))
			}
		}
	}()

	s.cfg.Timeouts.ROI = 300 * time.Millisecond

	err := s.RunWorkloadToROI("./run_canneal")
	require.ErrorIs(t, err, ErrROITimeout)
	assert.Equal(t, StateFailed, s.State())
}

func TestVerifyCheckpointMissingIsNotAnError(t *testing.T) {
	ch := &fakeChannel{dropSaves: true}
	s, _, _ := scriptedSession(t, ch)
	s.state = StateAtROI

	require.NoError(t, s.SaveCheckpoint("chk_freqmine"))

	ok, err := s.VerifyCheckpoint("chk_freqmine")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateSaving, s.State())

	// The listing is polled more than once before giving up.
	listings := 0
	for _, req := range ch.requests {
		if req == "info snapshots" {
			listings++
		}
	}
	assert.Equal(t, 3, listings)
}

func TestStateTransitionsEnforced(t *testing.T) {
	s := NewSession(Config{Timeouts: fastTimeouts()})

	assert.ErrorIs(t, s.SyncToPrompt(), ErrInvalidTransition)
	assert.ErrorIs(t, s.RunWorkloadToROI("x"), ErrInvalidTransition)
	assert.ErrorIs(t, s.SaveCheckpoint("x"), ErrInvalidTransition)
	_, err := s.VerifyCheckpoint("x")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTerminateIsIdempotent(t *testing.T) {
	ch := &fakeChannel{}
	s, _, _ := scriptedSession(t, ch)

	require.NoError(t, s.Terminate())
	require.NoError(t, s.Terminate())

	assert.Equal(t, StateTerminated, s.State())
	assert.Equal(t, []string{"quit"}, ch.sentCommands())
	assert.Equal(t, 1, ch.closes)
}
