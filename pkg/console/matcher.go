// Package console matches patterns against the byte stream a simulator
// emits on its emulated serial console. The stream is read incrementally;
// only a bounded trailing window is kept for matching and diagnostics, so
// arbitrarily chatty guests do not grow memory.
package console

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"
)

var (
	// ErrTimeoutExpired indicates no pattern matched before the deadline.
	ErrTimeoutExpired = errors.New("timed out waiting for console pattern")
	// ErrStreamClosed indicates the console stream ended before any pattern matched.
	ErrStreamClosed = errors.New("console stream closed")
)

const (
	defaultMaxWindow = 64 * 1024
	readChunkSize    = 4096
)

// Pattern pairs a label with a compiled regular expression.
type Pattern struct {
	Label  string
	Regexp *regexp.Regexp
}

// MustPattern compiles expr and panics on error. Intended for
// package-level pattern tables.
func MustPattern(label, expr string) Pattern {
	return Pattern{Label: label, Regexp: regexp.MustCompile(expr)}
}

// Matcher scans a console stream for patterns. Each call to Expect starts
// from the current stream position: text consumed by a previous match is
// never matched again, so sequential synchronization points (login prompt,
// shell prompt, ROI marker) can be driven by calling Expect in a loop.
//
// A Matcher is not safe for concurrent use; the session owning the console
// is the single caller.
type Matcher struct {
	chunks    chan []byte
	window    []byte
	maxWindow int
	closed    bool
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithMaxWindow bounds the trailing buffer kept for matching.
func WithMaxWindow(n int) Option {
	return func(m *Matcher) {
		m.maxWindow = n
	}
}

// NewMatcher starts reading from r in the background. The reader goroutine
// exits when r returns an error, typically because the session closed the
// console pty.
func NewMatcher(r io.Reader, opts ...Option) *Matcher {
	m := &Matcher{
		chunks:    make(chan []byte, 16),
		maxWindow: defaultMaxWindow,
	}
	for _, opt := range opts {
		opt(m)
	}

	go func() {
		buf := make([]byte, readChunkSize)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				m.chunks <- chunk
			}
			if err != nil {
				close(m.chunks)
				return
			}
		}
	}()

	return m
}

// Expect blocks until one of patterns matches the stream or timeout
// elapses. Patterns are tried in the order given. On success it returns the
// matched label and the text consumed up to and including the match. On
// failure the unconsumed window is returned alongside the error so callers
// can log recent console output.
func (m *Matcher) Expect(patterns []Pattern, timeout time.Duration) (string, string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		for _, p := range patterns {
			if loc := p.Regexp.FindIndex(m.window); loc != nil {
				consumed := string(m.window[:loc[1]])
				m.window = append([]byte(nil), m.window[loc[1]:]...)
				return p.Label, consumed, nil
			}
		}

		if m.closed {
			return "", string(m.window), fmt.Errorf("%w (last output: %q)", ErrStreamClosed, tail(m.window))
		}

		select {
		case chunk, ok := <-m.chunks:
			if !ok {
				m.closed = true
				continue
			}
			m.append(chunk)
		case <-timer.C:
			return "", string(m.window), fmt.Errorf("%w (last output: %q)", ErrTimeoutExpired, tail(m.window))
		}
	}
}

func (m *Matcher) append(chunk []byte) {
	m.window = append(m.window, chunk...)
	if over := len(m.window) - m.maxWindow; over > 0 {
		m.window = append([]byte(nil), m.window[over:]...)
	}
}

// tail returns the last part of the window for diagnostics.
func tail(window []byte) string {
	const n = 256
	if len(window) <= n {
		return string(window)
	}
	return string(window[len(window)-n:])
}
