// Package runner drives one VM session through the full
// checkpoint-creation protocol for one workload and converts every failure
// into a recorded outcome. Nothing escapes a job as an error: the batch
// must always finish and report.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/simforge/chkforge/internal/catalog"
	"github.com/simforge/chkforge/internal/progress"
	"github.com/simforge/chkforge/pkg/vmm"
)

// Status is the terminal status of one checkpoint job.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Outcome records the terminal result of one workload's job.
type Outcome struct {
	Workload   string    `json:"workload"`
	Status     Status    `json:"status"`
	Checkpoint string    `json:"checkpoint,omitempty"`
	Err        string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Duration is the wall-clock time the job took.
func (o Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Session is the slice of the VM session the runner drives.
// *vmm.Session implements it; fakes stand in for it in tests.
type Session interface {
	Start(ctx context.Context, baseCheckpoint string) error
	SyncToPrompt() error
	RunWorkloadToROI(command string) error
	SaveCheckpoint(name string) error
	VerifyCheckpoint(name string) (bool, error)
	Terminate() error
}

// SessionFactory builds a fresh session for each job. Sessions are
// single-use; jobs never share one.
type SessionFactory func() Session

// Runner executes checkpoint jobs sequentially against a common base
// checkpoint.
type Runner struct {
	newSession     SessionFactory
	baseCheckpoint string
}

// New creates a job runner.
func New(newSession SessionFactory, baseCheckpoint string) *Runner {
	return &Runner{
		newSession:     newSession,
		baseCheckpoint: baseCheckpoint,
	}
}

// Run drives one workload through start, prompt synchronization, ROI
// detection, checkpoint save and verification. The session is terminated
// exactly once on every exit path. Failures are recorded in rec and
// returned as a Failed outcome, never propagated.
func (r *Runner) Run(ctx context.Context, w catalog.Workload, rec *progress.Record) Outcome {
	if rec.IsCompleted(w.Name) {
		slog.Info("skipping completed workload", "workload", w.Name)
		now := time.Now()
		return Outcome{Workload: w.Name, Status: StatusSkipped, StartedAt: now, FinishedAt: now}
	}

	outcome := Outcome{Workload: w.Name, StartedAt: time.Now()}
	slog.Info("starting checkpoint job",
		"workload", w.Name,
		"command", w.Command,
		"baseCheckpoint", r.baseCheckpoint,
	)

	sess := r.newSession()
	defer func() {
		if err := sess.Terminate(); err != nil {
			slog.Warn("session teardown reported an error",
				"workload", w.Name, "error", err.Error())
		}
	}()

	fail := func(step string, err error) Outcome {
		slog.Error("checkpoint job failed",
			"workload", w.Name, "step", step, "error", err.Error())
		rec.MarkFailed(w.Name)
		outcome.Status = StatusFailed
		outcome.Err = fmt.Sprintf("%s: %v", step, err)
		outcome.FinishedAt = time.Now()
		return outcome
	}

	if err := sess.Start(ctx, r.baseCheckpoint); err != nil {
		return fail("start", err)
	}
	if err := sess.SyncToPrompt(); err != nil {
		return fail("sync-to-prompt", err)
	}
	if err := sess.RunWorkloadToROI(w.Command); err != nil {
		return fail("run-to-roi", err)
	}

	name := w.CheckpointName()
	if err := sess.SaveCheckpoint(name); err != nil {
		return fail("save", err)
	}

	ok, err := sess.VerifyCheckpoint(name)
	if err != nil {
		return fail("verify", err)
	}
	if !ok {
		return fail("verify", vmm.ErrVerificationMismatch)
	}

	rec.MarkCompleted(w.Name)
	outcome.Status = StatusSuccess
	outcome.Checkpoint = name
	outcome.FinishedAt = time.Now()
	slog.Info("checkpoint created",
		"workload", w.Name,
		"checkpoint", name,
		"duration", outcome.Duration().Round(time.Second).String(),
	)
	return outcome
}
