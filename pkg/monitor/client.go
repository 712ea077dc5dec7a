// Package monitor implements the control channel to a running simulator:
// a line-oriented command connection over the unix socket the simulator
// creates at startup. The protocol has no framing and no correlation IDs;
// responses are plain text the caller pattern-matches or substring-searches.
package monitor

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

var (
	// ErrChannelUnavailable indicates the control socket could not be reached.
	ErrChannelUnavailable = errors.New("control channel unavailable")
	// ErrChannelTimeout indicates a bounded send or receive exceeded its deadline.
	ErrChannelTimeout = errors.New("control channel timed out")
)

// drainPoll bounds each best-effort read while draining buffered output.
const drainPoll = 100 * time.Millisecond

// Client is a stateless request/response helper for the simulator's
// control socket. Because the channel has no correlation IDs, a Client must
// not be shared between concurrent callers; the session owning the
// simulator is the single user.
type Client struct {
	conn      net.Conn
	ioTimeout time.Duration
}

// Dial connects to the control socket at path. The initial banner the
// simulator writes on connect is discarded.
func Dial(path string, ioTimeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, ioTimeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	c := &Client{conn: conn, ioTimeout: ioTimeout}
	c.Drain()
	return c, nil
}

// Send writes one command line to the channel.
func (c *Client) Send(cmd string) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write([]byte(cmd + "\n")); err != nil {
		if isTimeout(err) {
			return fmt.Errorf("%w: %v", ErrChannelTimeout, err)
		}
		return err
	}
	return nil
}

// Drain reads whatever the simulator has buffered and returns it. It never
// blocks beyond a short poll and never fails: an empty string simply means
// nothing was pending.
func (c *Client) Drain() string {
	var out strings.Builder
	buf := make([]byte, 4096)

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(drainPoll)); err != nil {
			break
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			out.Write(buf[:n])
		}
		if err != nil {
			break
		}
	}
	_ = c.conn.SetReadDeadline(time.Time{})

	return out.String()
}

// Request sends cmd, sleeps settle to let the simulator process it, then
// drains the response. The settle time exists because the channel gives no
// completion acknowledgment; callers needing certainty must verify through
// a follow-up query rather than trust the sleep.
func (c *Client) Request(cmd string, settle time.Duration) (string, error) {
	c.Drain()
	if err := c.Send(cmd); err != nil {
		return "", err
	}
	time.Sleep(settle)
	return c.Drain(), nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
