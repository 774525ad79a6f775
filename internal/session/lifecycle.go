package session

import (
	"fmt"
	"sync"
)

// State is a stage of the session lifecycle state machine (spec §4.6):
//
//	Idle -> Acquiring -> DaemonReady -> WorkerStarting -> Collecting -> Stopping -> Stopped
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateDaemonReady
	StateWorkerStarting
	StateCollecting
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiring:
		return "acquiring"
	case StateDaemonReady:
		return "daemon_ready"
	case StateWorkerStarting:
		return "worker_starting"
	case StateCollecting:
		return "collecting"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// validNext enumerates the allowed forward transitions. The state
// machine is linear with no retries in place — a failed step reports its
// own error and the caller is responsible for tearing the session down,
// so there is no backward edge to model.
var validNext = map[State]State{
	StateIdle:           StateAcquiring,
	StateAcquiring:      StateDaemonReady,
	StateDaemonReady:    StateWorkerStarting,
	StateWorkerStarting: StateCollecting,
	StateCollecting:     StateStopping,
	StateStopping:       StateStopped,
}

// Lifecycle tracks a session's progress through the states in spec §4.6
// and notifies a caller-supplied hook on every transition, the same
// callback-over-direct-stderr-write shape internal/cdpconn uses for its
// own connection-health state machine (see DESIGN.md on internal/cdpconn
// for why that shape was chosen over the teacher's fmt.Fprintln calls).
type Lifecycle struct {
	mu           sync.Mutex
	state        State
	onTransition func(from, to State, detail string)
}

// NewLifecycle returns a Lifecycle starting at StateIdle.
func NewLifecycle(onTransition func(from, to State, detail string)) *Lifecycle {
	return &Lifecycle{state: StateIdle, onTransition: onTransition}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Advance moves the lifecycle to the next state in sequence, rejecting
// any transition not named in validNext. detail is passed through to the
// transition hook for logging (e.g. a reconnect attempt count or an
// error message).
func (l *Lifecycle) Advance(to State, detail string) error {
	l.mu.Lock()
	from := l.state
	want, ok := validNext[from]
	if !ok || want != to {
		l.mu.Unlock()
		return fmt.Errorf("invalid session transition %s -> %s", from, to)
	}
	l.state = to
	hook := l.onTransition
	l.mu.Unlock()

	if hook != nil {
		hook(from, to, detail)
	}
	return nil
}

// Fail force-transitions directly to StateStopping regardless of the
// current state, the escape hatch used when a step fails partway (e.g.
// WORKER_START_FAILED, CDP_TIMEOUT) and the session must still clean up
// through the normal Stopping->Stopped path.
func (l *Lifecycle) Fail(detail string) {
	l.mu.Lock()
	from := l.state
	l.state = StateStopping
	hook := l.onTransition
	l.mu.Unlock()

	if from != StateStopping && hook != nil {
		hook(from, StateStopping, detail)
	}
}
