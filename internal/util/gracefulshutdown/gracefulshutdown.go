// Package gracefulshutdown turns termination signals into context
// cancellation. The batch coordinator checks the context between jobs, so
// an interrupted run stops after the in-flight job's teardown with the
// progress file consistent.
package gracefulshutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// GracefulShutdown holds a signal-cancelable context for one binary.
type GracefulShutdown struct {
	ctx    context.Context
	cancel context.CancelFunc
	name   string
	once   sync.Once
}

// New creates a GracefulShutdown whose context is canceled by SIGTERM or
// SIGINT.
func New(name string) *GracefulShutdown {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	return &GracefulShutdown{
		ctx:    ctx,
		cancel: cancel,
		name:   name,
	}
}

// Context returns the cancelable context.
func (s *GracefulShutdown) Context() context.Context {
	return s.ctx
}

// Shutdown cancels the context. Safe to call multiple times; only the
// first call logs.
func (s *GracefulShutdown) Shutdown() {
	s.once.Do(func() {
		slog.Info("shutting down", "name", s.name)
		s.cancel()
	})
}
