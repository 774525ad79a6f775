package cdpconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bdgtool/bdg/internal/cdp"
	"github.com/coder/websocket"
)

// Config tunes dial retry, keepalive, and reconnect behavior. Defaults
// match the numbers in §4.1/§5 of the collection-session specification.
type Config struct {
	MaxConnectRetries    int
	ConnectBackoffInitial time.Duration
	ConnectBackoffMax    time.Duration
	HandshakeTimeout     time.Duration

	KeepaliveInterval time.Duration
	PongTimeout       time.Duration
	MaxMissedPongs    int

	MaxReconnectAttempts int
	ReconnectBackoffMax  time.Duration
}

// DefaultConfig returns the spec-mandated defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnectRetries:     3,
		ConnectBackoffInitial: time.Second,
		ConnectBackoffMax:     5 * time.Second,
		HandshakeTimeout:      10 * time.Second,

		KeepaliveInterval: 30 * time.Second,
		PongTimeout:       5 * time.Second,
		MaxMissedPongs:    3,

		MaxReconnectAttempts: 5,
		ReconnectBackoffMax:  10 * time.Second,
	}
}

// Dialer resolves the current WebSocket debugger URL to dial or redial.
// Worker passes a function that re-fetches /json/version so a reconnect
// picks up Chrome's current (possibly unchanged) endpoint.
type Dialer func(ctx context.Context) (wsURL string, err error)

// ConnectionError wraps the final dial failure after all retries, the
// spec's CDPConnectionError.
type ConnectionError struct {
	Attempts int
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("cdp connection failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Connection owns one logical WebSocket to Chrome across reconnects. It
// wraps a *cdp.Client, replacing it transparently on unexpected close and
// invoking OnReconnect so callers can re-subscribe their CDP domains.
type Connection struct {
	cfg Config

	dial        Dialer
	onReconnect func()
	onLog       func(format string, args ...any)

	// dialClient performs the handshake given a resolved wsURL. Defaults to
	// cdp.Dial; overridden in tests to hand back a client built on a fake
	// Conn instead of a real network dial.
	dialClient func(ctx context.Context, wsURL string) (*cdp.Client, error)

	mu     sync.RWMutex
	client *cdp.Client

	intentional   atomic.Bool
	autoReconnect atomic.Bool
	missedPongs   atomic.Int32

	states *stateManager

	stopCh chan struct{}
	stopOnce sync.Once
}

// New creates a Connection. onReconnect may be nil. onLog, if non-nil,
// receives informational lines about transitions (daemon/worker wire it
// to their structured logger).
func New(dial Dialer, onReconnect func(), onLog func(format string, args ...any)) *Connection {
	c := &Connection{
		cfg:        DefaultConfig(),
		dial:       dial,
		onReconnect: onReconnect,
		onLog:      onLog,
		dialClient: cdp.Dial,
		stopCh:     make(chan struct{}),
	}
	c.autoReconnect.Store(true)
	c.states = newStateManager(c.logTransition)
	return c
}

// WithConfig overrides the default tuning; call before Connect.
func (c *Connection) WithConfig(cfg Config) *Connection {
	c.cfg = cfg
	return c
}

func (c *Connection) logTransition(from, to State, detail string) {
	if c.onLog == nil {
		return
	}
	if detail != "" {
		c.onLog("cdp connection %s -> %s (%s)", from, to, detail)
	} else {
		c.onLog("cdp connection %s -> %s", from, to)
	}
}

func (c *Connection) dialOnce(ctx context.Context) (*cdp.Client, error) {
	wsURL, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	hctx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	return c.dialClient(hctx, wsURL)
}

// Connect performs the initial handshake, making up to
// cfg.MaxConnectRetries attempts in total with exponential backoff
// between them (ConnectBackoffInitial before the first retry). On success it
// starts the keepalive and reconnect-watch goroutines.
func (c *Connection) Connect(ctx context.Context) error {
	var lastErr error
	attempts := 0

	for attempt := 0; attempt < c.cfg.MaxConnectRetries; attempt++ {
		attempts++
		if attempt > 0 {
			delay := backoff(attempt-1, c.cfg.ConnectBackoffInitial, c.cfg.ConnectBackoffMax)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		client, err := c.dialOnce(ctx)
		if err == nil {
			c.mu.Lock()
			c.client = client
			c.mu.Unlock()
			c.states.setConnected()

			go c.keepaliveLoop(ctx)
			go c.watchLoop(ctx)
			return nil
		}
		lastErr = err
	}

	return &ConnectionError{Attempts: attempts, Err: lastErr}
}

func (c *Connection) currentClient() *cdp.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Send issues a CDP command scoped to no particular target session.
func (c *Connection) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	client := c.currentClient()
	if client == nil {
		return nil, errors.New("cdp connection not established")
	}
	return client.SendContext(ctx, method, params)
}

// SendToSession issues a CDP command flattened onto an attached target session.
func (c *Connection) SendToSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	client := c.currentClient()
	if client == nil {
		return nil, errors.New("cdp connection not established")
	}
	return client.SendToSession(ctx, sessionID, method, params)
}

// Subscribe registers an event handler on the current underlying client.
// Handlers do not survive a reconnect automatically — OnReconnect is the
// hook for callers to re-subscribe against the new client.
func (c *Connection) Subscribe(method string, handler func(cdp.Event)) int64 {
	client := c.currentClient()
	if client == nil {
		return 0
	}
	return client.Subscribe(method, handler)
}

// Unsubscribe removes a handler from the current underlying client.
func (c *Connection) Unsubscribe(method string, handlerID int64) {
	if client := c.currentClient(); client != nil {
		client.Unsubscribe(method, handlerID)
	}
}

// State returns the current connection health state.
func (c *Connection) State() State {
	return c.states.State()
}

// Info returns a snapshot of connection health for status reporting.
func (c *Connection) Info() Info {
	return c.states.Info()
}

// Close intentionally tears down the connection. Idempotent; disables
// auto-reconnect so the watch loop exits cleanly.
func (c *Connection) Close() error {
	c.intentional.Store(true)
	c.autoReconnect.Store(false)
	c.stopOnce.Do(func() { close(c.stopCh) })

	client := c.currentClient()
	if client == nil {
		return nil
	}
	return client.Close()
}

// keepaliveLoop pings the connection every KeepaliveInterval.
// MaxMissedPongs (default 3) consecutive missed pongs force-close the socket with code 1001, which
// the watch loop observes as an unexpected close and reconnects from.
func (c *Connection) keepaliveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			client := c.currentClient()
			if client == nil {
				continue
			}

			pctx, cancel := context.WithTimeout(ctx, c.cfg.PongTimeout)
			err := client.Ping(pctx)
			cancel()

			if err != nil {
				missed := c.missedPongs.Add(1)
				if int(missed) >= c.cfg.MaxMissedPongs {
					c.missedPongs.Store(0)
					_ = client.CloseWithCode(websocket.StatusGoingAway, "no pong received")
				}
				continue
			}
			c.missedPongs.Store(0)
			c.states.recordHeartbeat()
		}
	}
}

// watchLoop waits for the current client to stop, then either exits (if
// the close was intentional or the connection gave up for good) or drives
// the reconnect sequence and loops to watch the replacement client.
func (c *Connection) watchLoop(ctx context.Context) {
	for {
		client := c.currentClient()
		if client == nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-client.Done():
		}

		if c.intentional.Load() {
			return
		}

		err := client.Err()
		if err == nil {
			// A local non-intentional close (the keepalive giving up on
			// pongs) records no read error; it is still an unexpected close.
			err = errors.New("connection closed locally: no pong received")
		}
		reason, shouldReconnect := ClassifyCloseCode(err)
		if !shouldReconnect {
			c.states.setDisconnected(err)
			return
		}
		_ = reason

		if !c.reconnect(ctx, err) {
			return
		}
		// loop: watch the newly installed client
	}
}

// reconnect retries the dial sequence up to MaxReconnectAttempts with
// exponential backoff capped at ReconnectBackoffMax. Returns true if a
// new client was installed and the watch loop should continue.
func (c *Connection) reconnect(ctx context.Context, lastErr error) bool {
	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		count := c.states.setReconnecting(lastErr)
		_ = count

		delay := backoff(attempt-1, time.Second, c.cfg.ReconnectBackoffMax)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return false
		case <-c.stopCh:
			return false
		}

		client, err := c.dialOnce(ctx)
		if err == nil {
			c.mu.Lock()
			c.client = client
			c.mu.Unlock()

			c.states.setConnected()
			c.missedPongs.Store(0)

			if c.onReconnect != nil {
				c.onReconnect()
			}
			return true
		}
		lastErr = err
	}

	c.autoReconnect.Store(false)
	c.states.setDisconnected(fmt.Errorf("max reconnect attempts exceeded: %w", lastErr))
	return false
}

// backoff computes initial * 2^attempt, capped at max. attempt is
// zero-based (attempt 0 returns initial).
func backoff(attempt int, initial, max time.Duration) time.Duration {
	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
