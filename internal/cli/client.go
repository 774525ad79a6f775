package cli

import (
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/bdgtool/bdg/internal/session"
	"github.com/google/uuid"
)

// daemonClient is the narrow interface command handlers need against a
// live daemon connection. Mirrors the teacher's executor.Executor
// indirection (internal/executor/executor.go: Execute(ctx, req) over a
// real or in-process transport) so tests can swap in a direct in-process
// handler instead of dialing a real Unix socket.
type daemonClient interface {
	Send(req ipc.Envelope) (ipc.Envelope, error)
	Close() error
}

// dialDaemon opens the CLI<->daemon connection. Overridden in tests.
var dialDaemon = func() (daemonClient, error) {
	return ipc.DialPath(session.SocketPath())
}

// sendRequest dials the daemon, sends req, and closes the connection,
// logging the round trip under --debug.
func sendRequest(req ipc.Envelope) (ipc.Envelope, error) {
	start := time.Now()

	client, err := dialDaemon()
	if err != nil {
		return ipc.Envelope{}, err
	}
	defer client.Close()

	debugRequest(req.Command(), string(req.Params))
	resp, err := client.Send(req)
	if err != nil {
		return ipc.Envelope{}, err
	}
	debugResponse(resp.Status == "ok", len(resp.Data), time.Since(start))
	return resp, nil
}

// newRequest builds a client->daemon request envelope for cmd, stamped
// with a fresh sessionId (spec §4.5: client envelopes carry a fresh
// sessionId per round trip).
func newRequest(cmd string, params any) ipc.Envelope {
	env := ipc.Envelope{Type: ipc.RequestType(cmd), SessionID: uuid.NewString()}
	if params != nil {
		env = env.WithParams(params)
	}
	return env
}

// daemonRunning reports whether a daemon is currently listening.
func daemonRunning() bool {
	return ipc.IsDaemonRunningAt(session.SocketPath())
}
