package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// ErrDaemonNotRunning is returned when the daemon is not running.
var ErrDaemonNotRunning = errors.New("daemon is not running")

// Client is a Unix socket IPC client speaking the Envelope protocol.
// Grounded on the teacher's internal/ipc/client.go (Dial/DialPath/Send),
// generalized from Request/Response to Envelope.
type Client struct {
	conn net.Conn
	fr   *FrameReader
	fw   *FrameWriter
}

// DialPath connects to the daemon at the specified socket path.
func DialPath(socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); errors.Is(err, os.ErrNotExist) {
		return nil, ErrDaemonNotRunning
	}

	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ipc: connect to daemon: %w", err)
	}

	return &Client{
		conn: conn,
		fr:   NewFrameReader(conn),
		fw:   NewFrameWriter(conn),
	}, nil
}

// Send writes req and returns the correlated response. The CLI<->daemon
// protocol is one request per connection round trip (spec §4.5's client
// envelopes carry a fresh sessionId each time); long-lived commands like
// `peek --follow` dial repeatedly rather than multiplexing on one
// connection, matching the teacher's own one-shot Send usage.
func (c *Client) Send(req Envelope) (Envelope, error) {
	if err := c.fw.WriteEnvelope(req); err != nil {
		return Envelope{}, fmt.Errorf("ipc: send request: %w", err)
	}
	resp, err := c.fr.ReadEnvelope()
	if err != nil {
		return Envelope{}, fmt.Errorf("ipc: read response: %w", err)
	}
	return resp, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// IsDaemonRunningAt checks whether a daemon is listening at socketPath.
func IsDaemonRunningAt(socketPath string) bool {
	if _, err := os.Stat(socketPath); errors.Is(err, os.ErrNotExist) {
		return false
	}
	conn, err := net.DialTimeout("unix", socketPath, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
