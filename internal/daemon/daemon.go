// Package daemon implements the bdg daemon process: a persistent
// supervisor that owns the CLI-facing Unix socket, enforces the
// single-daemon-per-machine rule, and spawns/supervises exactly one
// worker process per collection session (spec §4.5, §4.6). Unlike the
// teacher's daemon, this one never talks to Chrome directly — all CDP
// traffic lives in internal/worker, reached only through the worker's
// stdio JSONL channel.
package daemon

import (
	"context"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/bdgtool/bdg/internal/session"
	"github.com/sirupsen/logrus"
)

// stopSignal is sent to a worker to request its graceful shutdown
// sequence (spec §4.6).
var stopSignal = syscall.SIGTERM

// Daemon is the top-level supervisor: one Unix socket server, at most
// one active worker at a time.
type Daemon struct {
	log *logrus.Entry

	mu         sync.Mutex
	worker     *workerProc
	ready      workerReady
	startTime  time.Time
	sessionCfg ipc.StartSessionParams

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New creates a Daemon. log may be nil, in which case a default logrus
// logger writing to stderr is used (component=daemon, spec §1 ambient
// logging section).
func New(log *logrus.Logger) *Daemon {
	if log == nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
	}
	return &Daemon{
		log:        log.WithField("component", "daemon"),
		shutdownCh: make(chan struct{}),
	}
}

// Run acquires the singleton lock, writes daemon.pid, serves the Unix
// socket, and blocks until ctx is cancelled, a client requests shutdown
// (stop_session), or the socket server fails.
func (d *Daemon) Run(ctx context.Context) error {
	if _, err := session.EnsureDir(); err != nil {
		return fmt.Errorf("daemon: ensure session directory: %w", err)
	}

	release, err := session.AcquireLock(session.LockPath(), os.Getpid())
	if err != nil {
		return fmt.Errorf("daemon: acquire singleton lock: %w", err)
	}
	defer release()

	if err := session.WritePIDFile(session.DaemonPIDPath(), os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write daemon.pid: %w", err)
	}
	defer func() { _ = session.RemovePIDFile(session.DaemonPIDPath()) }()

	server, err := ipc.NewServer(session.SocketPath(), d.handleRequest)
	if err != nil {
		return fmt.Errorf("daemon: create ipc server: %w", err)
	}
	defer server.Close()

	d.log.WithField("socket", server.SocketPath()).Info("daemon: listening")

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve(ctx) }()

	select {
	case <-ctx.Done():
		d.log.Info("daemon: context cancelled, shutting down")
	case <-d.shutdownCh:
		d.log.Info("daemon: shutdown requested, shutting down")
	case err := <-serveErr:
		if err != nil {
			d.log.WithError(err).Error("daemon: ipc server stopped")
		}
		return err
	}

	d.mu.Lock()
	wp := d.worker
	d.mu.Unlock()
	if wp != nil && !wp.exited() {
		_ = wp.signalStop()
		wp.waitExit(workerStopWait)
	}

	return nil
}

// requestShutdown triggers the daemon's own exit shortly after the
// current response is written, so the stop_session client still gets
// its reply over a socket the daemon hasn't torn down yet (spec §4.6:
// "Daemon self-terminates after stop_session").
func (d *Daemon) requestShutdown() {
	go func() {
		time.Sleep(100 * time.Millisecond)
		d.shutdownOnce.Do(func() { close(d.shutdownCh) })
	}()
}

func (d *Daemon) activeSession() (*workerProc, workerReady, time.Time, ipc.StartSessionParams) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.worker, d.ready, d.startTime, d.sessionCfg
}

func (d *Daemon) setActiveSession(wp *workerProc, ready workerReady, start time.Time, cfg ipc.StartSessionParams) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.worker = wp
	d.ready = ready
	d.startTime = start
	d.sessionCfg = cfg
}

func (d *Daemon) clearActiveSession() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.worker = nil
}
