// Package cdpconn builds connection-lifecycle policy — correlation is
// already handled by internal/cdp.Client — on top of a raw CDP client:
// dial-with-retry, periodic keepalive, and automatic reconnection with a
// caller-supplied hook so telemetry collectors can re-enable their CDP
// domains after the underlying WebSocket is replaced.
package cdpconn

import (
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// State is the health of a CDPConnection.
type State int

const (
	// StateConnected indicates an active, healthy CDP connection.
	StateConnected State = iota
	// StateReconnecting indicates the connection is attempting to recover.
	StateReconnecting
	// StateDisconnected indicates the connection is lost and not recovering.
	StateDisconnected
)

// String returns a human-readable name for the connection state.
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DisconnectReason describes why a disconnect occurred.
type DisconnectReason int

const (
	// ReasonUnknown is the default when the reason cannot be determined.
	ReasonUnknown DisconnectReason = iota
	// ReasonGraceful indicates an intentional close (codes 1000, 1001).
	ReasonGraceful
	// ReasonAbnormal indicates an unexpected disconnect (code 1006, timeout, etc).
	ReasonAbnormal
)

// String returns a human-readable name for the disconnect reason.
func (r DisconnectReason) String() string {
	switch r {
	case ReasonGraceful:
		return "graceful"
	case ReasonAbnormal:
		return "abnormal"
	default:
		return "unknown"
	}
}

// ClassifyCloseCode determines whether a disconnect is recoverable based
// on the WebSocket close code carried by err. Returns the disconnect
// reason and whether automatic reconnection should be attempted.
func ClassifyCloseCode(err error) (reason DisconnectReason, shouldReconnect bool) {
	if err == nil {
		return ReasonUnknown, false
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return ReasonGraceful, false
	case websocket.StatusAbnormalClosure:
		return ReasonAbnormal, true
	case -1:
		// Not a WebSocket close frame (timeout, dial failure, read error).
		return ReasonAbnormal, true
	default:
		return ReasonAbnormal, true
	}
}

// Info is a point-in-time snapshot of connection health, used for the
// daemon's status response.
type Info struct {
	State          State     `json:"state"`
	StateString    string    `json:"stateString"`
	LastHeartbeat  time.Time `json:"lastHeartbeat,omitempty"`
	ReconnectCount int       `json:"reconnectCount,omitempty"`
	LastError      string    `json:"lastError,omitempty"`
}

// stateManager tracks connection state and reconnect bookkeeping.
type stateManager struct {
	mu sync.RWMutex

	state          State
	lastHeartbeat  time.Time
	reconnectCount int
	lastError      error

	onTransition func(from, to State, detail string)
}

func newStateManager(onTransition func(from, to State, detail string)) *stateManager {
	return &stateManager{
		state:         StateConnected,
		lastHeartbeat: time.Now(),
		onTransition:  onTransition,
	}
}

func (m *stateManager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *stateManager) Info() Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info := Info{
		State:          m.state,
		StateString:    m.state.String(),
		LastHeartbeat:  m.lastHeartbeat,
		ReconnectCount: m.reconnectCount,
	}
	if m.lastError != nil {
		info.LastError = m.lastError.Error()
	}
	return info
}

func (m *stateManager) setConnected() {
	m.mu.Lock()
	prev := m.state
	m.state = StateConnected
	m.lastHeartbeat = time.Now()
	m.reconnectCount = 0
	m.lastError = nil
	m.mu.Unlock()
	if prev != StateConnected && m.onTransition != nil {
		m.onTransition(prev, StateConnected, "")
	}
}

func (m *stateManager) setReconnecting(err error) int {
	m.mu.Lock()
	m.reconnectCount++
	count := m.reconnectCount
	m.lastError = err
	prev := m.state
	m.state = StateReconnecting
	m.mu.Unlock()
	if m.onTransition != nil {
		m.onTransition(prev, StateReconnecting, fmt.Sprintf("attempt %d", count))
	}
	return count
}

func (m *stateManager) setDisconnected(err error) {
	m.mu.Lock()
	prev := m.state
	m.state = StateDisconnected
	m.lastError = err
	m.mu.Unlock()
	if prev != StateDisconnected && m.onTransition != nil {
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		m.onTransition(prev, StateDisconnected, detail)
	}
}

func (m *stateManager) recordHeartbeat() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeartbeat = time.Now()
}

func (m *stateManager) reconnectCountValue() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.reconnectCount
}
