package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
)

// workerReady mirrors the unexported readyPayload the worker process
// writes as its first stdout line (internal/worker/worker.go). Kept as a
// separate definition rather than an exported worker type so this
// package depends on the worker only through the config it sends on
// stdin, not its internal types.
type workerReady struct {
	PID                  int      `json:"pid"`
	ChromePID            int      `json:"chromePid"`
	Port                 int      `json:"port"`
	TargetID             string   `json:"targetId"`
	WebSocketDebuggerURL string   `json:"webSocketDebuggerUrl"`
	TargetURL            string   `json:"targetUrl"`
	ActiveTelemetry      []string `json:"activeTelemetry"`
}

// boundedBuffer caps how much of a worker's stderr the daemon retains
// for diagnostics (e.g. in a WORKER_START_FAILED error message) — an
// unbounded pipe-to-buffer would let a misbehaving worker exhaust daemon
// memory.
type boundedBuffer struct {
	mu   sync.Mutex
	buf  []byte
	cap  int
}

func newBoundedBuffer(capacity int) *boundedBuffer {
	return &boundedBuffer{cap: capacity}
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.cap {
		b.buf = b.buf[len(b.buf)-b.cap:]
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// workerProc supervises one spawned `bdg __worker` child: the stdio
// JSONL channel (spec §4.5), correlation of daemon->worker requests to
// worker->daemon responses by requestId, and exit tracking. Grounded on
// the teacher's internal/browser/launch.go spawnProcess (exec.Command,
// detached stdio) generalized to a long-lived supervised child instead
// of a fire-and-forget browser process.
type workerProc struct {
	cmd *exec.Cmd
	fw  *ipc.FrameWriter
	fr  *ipc.FrameReader

	mu      sync.Mutex
	pending map[string]chan ipc.Envelope

	readyCh chan workerReady
	doneCh  chan struct{}
	exitErr error

	stderr *boundedBuffer
}

// spawnWorker starts execPath in worker mode, writes cfg as the one-shot
// config line on its stdin (spec §4.6: "wired to config via a one-shot
// JSON line on stdin"), and begins reading its stdout in the background.
func spawnWorker(execPath string, cfg ipc.StartSessionParams) (*workerProc, error) {
	cmd := exec.Command(execPath, "__worker")

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout pipe: %w", err)
	}
	stderr := newBoundedBuffer(64 * 1024)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker process: %w", err)
	}

	wp := &workerProc{
		cmd:     cmd,
		fw:      ipc.NewFrameWriter(stdin),
		fr:      ipc.NewFrameReader(stdout),
		pending: make(map[string]chan ipc.Envelope),
		readyCh: make(chan workerReady, 1),
		doneCh:  make(chan struct{}),
		stderr:  stderr,
	}

	cfgLine, err := json.Marshal(cfg)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("marshal worker config: %w", err)
	}
	cfgLine = append(cfgLine, '\n')
	if _, err := stdin.Write(cfgLine); err != nil {
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("write worker config: %w", err)
	}

	go wp.readLoop()
	go func() {
		err := cmd.Wait()
		wp.exitErr = err
		close(wp.doneCh)
	}()

	return wp, nil
}

// readLoop delivers worker_ready once to readyCh and every other
// envelope to the pending requestId it correlates with. It exits (and
// drains all still-pending callers with a closed channel) when the
// worker's stdout is closed.
func (wp *workerProc) readLoop() {
	for {
		env, err := wp.fr.ReadEnvelope()
		if err != nil {
			wp.mu.Lock()
			pending := wp.pending
			wp.pending = make(map[string]chan ipc.Envelope)
			wp.mu.Unlock()
			for _, ch := range pending {
				close(ch)
			}
			return
		}

		if env.Type == "worker_ready" {
			var r workerReady
			_ = env.DecodeParams(&r)
			select {
			case wp.readyCh <- r:
			default:
			}
			continue
		}

		wp.mu.Lock()
		ch, ok := wp.pending[env.RequestID]
		if ok {
			delete(wp.pending, env.RequestID)
		}
		wp.mu.Unlock()
		if ok {
			ch <- env
			close(ch)
		}
	}
}

// send writes req (which must already carry a unique RequestID) and
// waits for its correlated response, the worker's exit, or ctx expiring.
func (wp *workerProc) send(ctx context.Context, req ipc.Envelope) (ipc.Envelope, error) {
	ch := make(chan ipc.Envelope, 1)
	wp.mu.Lock()
	wp.pending[req.RequestID] = ch
	wp.mu.Unlock()

	if err := wp.fw.WriteEnvelope(req); err != nil {
		wp.mu.Lock()
		delete(wp.pending, req.RequestID)
		wp.mu.Unlock()
		return ipc.Envelope{}, fmt.Errorf("write request to worker: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return ipc.Envelope{}, fmt.Errorf("worker closed the command channel")
		}
		return resp, nil
	case <-ctx.Done():
		wp.mu.Lock()
		delete(wp.pending, req.RequestID)
		wp.mu.Unlock()
		return ipc.Envelope{}, ctx.Err()
	}
}

// waitReady blocks until the worker announces readiness, exits first, or
// timeout elapses.
func (wp *workerProc) waitReady(timeout time.Duration) (workerReady, error) {
	select {
	case r := <-wp.readyCh:
		return r, nil
	case <-wp.doneCh:
		return workerReady{}, fmt.Errorf("worker exited before becoming ready (%v): %s", wp.exitErr, wp.stderr.String())
	case <-time.After(timeout):
		return workerReady{}, fmt.Errorf("timed out waiting for worker to become ready")
	}
}

// exited reports whether the worker process has already exited.
func (wp *workerProc) exited() bool {
	select {
	case <-wp.doneCh:
		return true
	default:
		return false
	}
}

// waitExit blocks until the worker exits or timeout elapses, returning
// true if it exited in time.
func (wp *workerProc) waitExit(timeout time.Duration) bool {
	select {
	case <-wp.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (wp *workerProc) signalStop() error {
	if wp.cmd.Process == nil {
		return nil
	}
	return wp.cmd.Process.Signal(stopSignal)
}

func (wp *workerProc) kill() {
	if wp.cmd.Process != nil {
		_ = wp.cmd.Process.Kill()
	}
}

func (wp *workerProc) pid() int {
	if wp.cmd.Process == nil {
		return 0
	}
	return wp.cmd.Process.Pid
}
