// Package batch iterates a workload catalog sequentially, skipping work
// already recorded as complete, and persists progress after every job so
// an interrupted batch resumes where it left off.
package batch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/simforge/chkforge/internal/catalog"
	"github.com/simforge/chkforge/internal/metrics"
	"github.com/simforge/chkforge/internal/progress"
	"github.com/simforge/chkforge/internal/runner"
)

// JobRunner executes one workload to a terminal outcome. Implemented by
// *runner.Runner.
type JobRunner interface {
	Run(ctx context.Context, w catalog.Workload, rec *progress.Record) runner.Outcome
}

// Summary aggregates one batch run. Every workload lands in exactly one
// category, so the three counts always sum to Total.
type Summary struct {
	Total     int
	Succeeded []string
	Failed    []string
	Skipped   []string
	Outcomes  []runner.Outcome
}

// Coordinator runs a batch of checkpoint jobs strictly sequentially: one
// live simulator at a time, catalog order, no reordering.
type Coordinator struct {
	runner   JobRunner
	store    progress.Store
	recorder *metrics.Recorder
	out      io.Writer
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecorder attaches a metrics recorder.
func WithRecorder(rec *metrics.Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = rec
	}
}

// WithReportWriter redirects the end-of-batch report (default stdout).
func WithReportWriter(w io.Writer) Option {
	return func(c *Coordinator) {
		c.out = w
	}
}

// New creates a batch coordinator.
func New(jr JobRunner, store progress.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		runner: jr,
		store:  store,
		out:    os.Stdout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes every workload in order and returns a summary. Per-job
// failures never abort the batch; the only errors returned are those that
// make the batch itself impossible, such as an unreadable progress file.
// A canceled context stops the batch between jobs; the remaining workloads
// are reported as skipped.
func (c *Coordinator) Run(ctx context.Context, workloads []catalog.Workload) (*Summary, error) {
	rec, err := c.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	summary := &Summary{Total: len(workloads)}
	slog.Info("starting batch",
		"workloads", len(workloads),
		"alreadyCompleted", len(rec.Completed),
		"previouslyFailed", len(rec.Failed),
	)

	for i, w := range workloads {
		if ctx.Err() != nil {
			slog.Warn("batch interrupted, skipping remaining workloads",
				"remaining", len(workloads)-i)
			for _, rest := range workloads[i:] {
				summary.Skipped = append(summary.Skipped, rest.Name)
			}
			break
		}

		outcome := c.runner.Run(ctx, w, rec)
		summary.Outcomes = append(summary.Outcomes, outcome)

		switch outcome.Status {
		case runner.StatusSuccess:
			summary.Succeeded = append(summary.Succeeded, w.Name)
		case runner.StatusFailed:
			summary.Failed = append(summary.Failed, w.Name)
		case runner.StatusSkipped:
			summary.Skipped = append(summary.Skipped, w.Name)
		}

		if c.recorder != nil {
			c.recorder.ObserveJob(string(outcome.Status), outcome.Duration())
		}

		if outcome.Status != runner.StatusSkipped {
			// Persist immediately so a crash loses at most the in-flight job.
			if err := c.store.Save(rec); err != nil {
				slog.Error("failed to persist progress", "error", err.Error())
			}
		}
	}

	c.printReport(summary)
	return summary, nil
}

func (c *Coordinator) printReport(s *Summary) {
	fmt.Fprintf(c.out, "\n=== Batch Report ===\n")
	fmt.Fprintf(c.out, "Total:   %d\n", s.Total)
	fmt.Fprintf(c.out, "Success: %d\n", len(s.Succeeded))
	fmt.Fprintf(c.out, "Failed:  %d\n", len(s.Failed))
	fmt.Fprintf(c.out, "Skipped: %d\n", len(s.Skipped))

	for _, o := range s.Outcomes {
		switch o.Status {
		case runner.StatusSuccess:
			fmt.Fprintf(c.out, "  [OK]   %s -> %s (%s)\n",
				o.Workload, o.Checkpoint, o.Duration().Round(time.Second))
		case runner.StatusFailed:
			fmt.Fprintf(c.out, "  [FAIL] %s: %s\n", o.Workload, o.Err)
		case runner.StatusSkipped:
			fmt.Fprintf(c.out, "  [SKIP] %s\n", o.Workload)
		}
	}
}
