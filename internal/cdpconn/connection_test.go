package cdpconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bdgtool/bdg/internal/cdp"
	"github.com/coder/websocket"
)

// fakeConn is a minimal cdp.Conn used to drive Connection without a real
// network dial. Each fakeConn represents one "socket lifetime"; Close
// marks it dead so a fresh Connect/reconnect gets a fresh instance.
type fakeConn struct {
	mu      sync.Mutex
	readCh  chan []byte
	closeCh chan struct{}
	closed  bool
	closeCode websocket.StatusCode
	pingErr func() error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		readCh:  make(chan []byte, 16),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case msg, ok := <-f.readCh:
		if !ok {
			return 0, nil, errors.New("fakeConn: channel closed")
		}
		return websocket.MessageText, msg, nil
	case <-f.closeCh:
		f.mu.Lock()
		code := f.closeCode
		f.mu.Unlock()
		return 0, nil, fmt.Errorf("websocket closed: %w", statusErr(code))
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

// statusErr wraps a close code so websocket.CloseStatus(err) can classify it.
func statusErr(code websocket.StatusCode) error {
	return websocket.CloseError{Code: code, Reason: "fake"}
}

func (f *fakeConn) Write(ctx context.Context, typ websocket.MessageType, p []byte) error {
	// Auto-reply to every command with an empty success result so sends
	// issued incidentally (none in these tests) never hang.
	var req cdp.Request
	if err := json.Unmarshal(p, &req); err == nil && req.ID != 0 {
		resp, _ := json.Marshal(map[string]any{"id": req.ID, "result": map[string]any{}})
		select {
		case f.readCh <- resp:
		default:
		}
	}
	return nil
}

func (f *fakeConn) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		f.closeCode = code
		close(f.closeCh)
	}
	return nil
}

func (f *fakeConn) Ping(ctx context.Context) error {
	if f.pingErr != nil {
		return f.pingErr()
	}
	return nil
}

func quickConfig() Config {
	return Config{
		MaxConnectRetries:     3,
		ConnectBackoffInitial: time.Millisecond,
		ConnectBackoffMax:     2 * time.Millisecond,
		HandshakeTimeout:      time.Second,

		KeepaliveInterval: 10 * time.Millisecond,
		PongTimeout:       20 * time.Millisecond,
		MaxMissedPongs:    2,

		MaxReconnectAttempts: 3,
		ReconnectBackoffMax:  5 * time.Millisecond,
	}
}

func TestConnection_Connect_RetriesThenFails(t *testing.T) {
	attempts := 0
	dial := func(ctx context.Context) (string, error) {
		attempts++
		return "", errors.New("chrome not listening")
	}

	conn := New(dial, nil, nil).WithConfig(quickConfig())
	err := conn.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
	if connErr.Attempts != conn.cfg.MaxConnectRetries {
		t.Errorf("attempts = %d, want %d", connErr.Attempts, conn.cfg.MaxConnectRetries)
	}
	if attempts != conn.cfg.MaxConnectRetries {
		t.Errorf("dial called %d times, want %d", attempts, conn.cfg.MaxConnectRetries)
	}
}

func TestConnection_Connect_SucceedsAfterRetry(t *testing.T) {
	calls := 0
	var fc *fakeConn

	dial := func(ctx context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", errors.New("not ready yet")
		}
		return "ws://fake", nil
	}

	conn := New(dial, nil, nil).WithConfig(quickConfig())
	conn.dialClient = func(ctx context.Context, wsURL string) (*cdp.Client, error) {
		fc = newFakeConn()
		return cdp.NewClient(fc), nil
	}

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	if conn.State() != StateConnected {
		t.Errorf("state = %v, want connected", conn.State())
	}
	if fc == nil {
		t.Fatal("expected fake conn to be dialed")
	}
}

func TestConnection_ReconnectsAfterUnexpectedClose(t *testing.T) {
	var mu sync.Mutex
	var conns []*fakeConn

	dial := func(ctx context.Context) (string, error) {
		return "ws://fake", nil
	}

	var reconnected sync.WaitGroup
	reconnected.Add(1)
	var once sync.Once

	conn := New(dial, func() {
		once.Do(reconnected.Done)
	}, nil).WithConfig(quickConfig())

	conn.dialClient = func(ctx context.Context, wsURL string) (*cdp.Client, error) {
		fc := newFakeConn()
		mu.Lock()
		conns = append(conns, fc)
		mu.Unlock()
		return cdp.NewClient(fc), nil
	}

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	mu.Lock()
	first := conns[0]
	mu.Unlock()

	// Simulate an abnormal close (e.g. Chrome crash) on the first socket.
	first.Close(websocket.StatusAbnormalClosure, "simulated crash")

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(conns) >= 2
	}, time.Second)

	reconnected.Wait()

	if conn.State() != StateConnected {
		t.Errorf("state = %v, want connected after reconnect", conn.State())
	}
}

func TestConnection_ReconnectExhaustionDisconnects(t *testing.T) {
	dial := func(ctx context.Context) (string, error) {
		return "ws://fake", nil
	}

	first := true
	conn := New(dial, nil, nil).WithConfig(quickConfig())
	conn.dialClient = func(ctx context.Context, wsURL string) (*cdp.Client, error) {
		if first {
			first = false
			return cdp.NewClient(newFakeConn()), nil
		}
		return nil, errors.New("chrome gone")
	}

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	c := conn.currentClient()
	_ = c.CloseWithCode(websocket.StatusAbnormalClosure, "crash")

	waitFor(t, func() bool {
		return conn.State() == StateDisconnected
	}, time.Second)
}

func TestConnection_KeepaliveForcesCloseOnMissedPongs(t *testing.T) {
	dial := func(ctx context.Context) (string, error) {
		return "ws://fake", nil
	}

	var fc *fakeConn
	conn := New(dial, nil, nil).WithConfig(quickConfig())
	conn.cfg.MaxReconnectAttempts = 0 // don't bother reconnecting for this test
	conn.dialClient = func(ctx context.Context, wsURL string) (*cdp.Client, error) {
		fc = newFakeConn()
		fc.pingErr = func() error { return errors.New("no pong") }
		return cdp.NewClient(fc), nil
	}

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool {
		fc.mu.Lock()
		defer fc.mu.Unlock()
		return fc.closed
	}, time.Second)
}

func waitFor(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
