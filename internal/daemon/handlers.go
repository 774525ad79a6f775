package daemon

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/bdgtool/bdg/internal/session"
	"github.com/google/uuid"
)

// peekDetailsTimeout and cdpCallTimeout bound daemon->worker forwarded
// requests (spec §4.5: "Daemon->worker forwarded request: 5-10s depends
// on command").
const (
	peekDetailsTimeout = 5 * time.Second
	cdpCallTimeout     = 10 * time.Second
	workerReadyTimeout = 30 * time.Second
	workerStopWait     = 10 * time.Second
)

// handleRequest dispatches one client->daemon request to its handler
// (spec §4.5's command catalog, minus the CLI-local `cleanup` command
// which the daemon never sees).
func (d *Daemon) handleRequest(req ipc.Envelope) ipc.Envelope {
	switch req.Command() {
	case ipc.CmdHandshake:
		return d.handleHandshake(req)
	case ipc.CmdStatus:
		return d.handleStatus(req)
	case ipc.CmdStartSession:
		return d.handleStartSession(req)
	case ipc.CmdStopSession:
		return d.handleStopSession(req)
	case ipc.CmdPeek:
		return d.forwardToWorker(req, peekDetailsTimeout)
	case ipc.CmdDetails:
		return d.forwardToWorker(req, peekDetailsTimeout)
	case ipc.CmdCDPCall:
		return d.forwardToWorker(req, cdpCallTimeout)
	default:
		return errResponse(req, ipc.ErrUnknownCommand, fmt.Sprintf("unknown command %q", req.Command()))
	}
}

func (d *Daemon) handleHandshake(req ipc.Envelope) ipc.Envelope {
	return okResponse(req, struct {
		DaemonPID int `json:"daemonPid"`
	}{os.Getpid()})
}

func (d *Daemon) handleStatus(req ipc.Envelope) ipc.Envelope {
	wp, ready, startTime, cfg := d.activeSession()
	if wp == nil {
		return okResponse(req, ipc.StatusData{Running: false})
	}

	data := ipc.StatusData{
		Running:         true,
		DaemonPID:       os.Getpid(),
		WorkerPID:       ready.PID,
		ChromePID:       ready.ChromePID,
		TargetURL:       cfg.URL,
		StartTime:       startTime.UnixMilli(),
		ActiveTelemetry: ready.ActiveTelemetry,
	}

	ctx, cancel := context.WithTimeout(context.Background(), peekDetailsTimeout)
	defer cancel()
	statusReq := ipc.Envelope{Type: ipc.RequestType(ipc.CmdStatus), RequestID: uuid.NewString()}
	if resp, err := wp.send(ctx, statusReq); err == nil {
		var wd ipc.StatusData
		if resp.DecodeData(&wd) == nil {
			data.NetworkCount = wd.NetworkCount
			data.ConsoleCount = wd.ConsoleCount
		}
	} else {
		d.log.WithError(err).Warn("daemon: status query to worker failed")
	}

	return okResponse(req, data)
}

func (d *Daemon) handleStartSession(req ipc.Envelope) ipc.Envelope {
	var params ipc.StartSessionParams
	if err := req.DecodeParams(&params); err != nil {
		return errResponse(req, ipc.ErrDaemonError, fmt.Sprintf("invalid start_session params: %v", err))
	}

	if wp, ready, startTime, cfg := d.activeSession(); wp != nil && !wp.exited() {
		conflict := ipc.SessionConflictData{
			PID:       ready.PID,
			TargetURL: cfg.URL,
			StartTime: startTime.UnixMilli(),
			ElapsedMs: time.Since(startTime).Milliseconds(),
		}
		return ipc.Envelope{Type: ipc.ResponseType(req.Command()), Status: "error", Error: ipc.ErrSessionAlreadyRunning}.WithData(conflict)
	}

	execPath, err := os.Executable()
	if err != nil {
		return errResponse(req, ipc.ErrWorkerStartFailed, fmt.Sprintf("resolve daemon executable: %v", err))
	}

	wp, err := spawnWorker(execPath, params)
	if err != nil {
		return errResponse(req, ipc.ErrWorkerStartFailed, err.Error())
	}

	ready, err := wp.waitReady(readyTimeout(params))
	if err != nil {
		wp.kill()
		return errResponse(req, ipc.ErrWorkerStartFailed, err.Error())
	}

	d.setActiveSession(wp, ready, time.Now(), params)

	if err := session.WritePIDFile(session.WorkerPIDPath(), ready.PID); err != nil {
		d.log.WithError(err).Error("daemon: write worker pid file failed")
	}
	if meta, ok, err := session.ReadMetadata(session.MetaPath()); err == nil && ok {
		meta.DaemonPID = os.Getpid()
		if err := session.WriteMetadata(session.MetaPath(), meta); err != nil {
			d.log.WithError(err).Error("daemon: update session.meta.json with daemon pid failed")
		}
	}

	go d.watchWorkerExit(wp)

	return okResponse(req, ipc.StartSessionData{
		WorkerPID: ready.PID,
		ChromePID: ready.ChromePID,
		Port:      ready.Port,
		TargetURL: ready.TargetURL,
	})
}

func readyTimeout(params ipc.StartSessionParams) time.Duration {
	if params.Timeout > 0 {
		return time.Duration(params.Timeout) * time.Second
	}
	return workerReadyTimeout
}

func (d *Daemon) handleStopSession(req ipc.Envelope) ipc.Envelope {
	wp, ready, _, _ := d.activeSession()
	if wp == nil {
		return errResponse(req, ipc.ErrDaemonError, "no active session")
	}

	if !wp.exited() {
		if err := wp.signalStop(); err != nil {
			d.log.WithError(err).Warn("daemon: signal worker stop failed")
		}
		if !wp.waitExit(workerStopWait) {
			wp.kill()
		}
	}

	d.clearActiveSession()
	if err := session.RemovePIDFile(session.WorkerPIDPath()); err != nil {
		d.log.WithError(err).Warn("daemon: remove worker pid file failed")
	}

	resp := okResponse(req, ipc.StopSessionData{ChromePID: ready.ChromePID})
	d.requestShutdown()
	return resp
}

func (d *Daemon) forwardToWorker(req ipc.Envelope, timeout time.Duration) ipc.Envelope {
	wp, _, _, _ := d.activeSession()
	if wp == nil {
		return errResponse(req, ipc.ErrDaemonError, "no active session")
	}

	fwd := req
	fwd.RequestID = uuid.NewString()
	fwd.SessionID = ""

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := wp.send(ctx, fwd)
	if err != nil {
		return errResponse(req, ipc.ErrCDPTimeout, err.Error())
	}

	out := ipc.Envelope{Type: ipc.ResponseType(req.Command()), SessionID: req.SessionID, Data: resp.Data}
	if resp.Success != nil && *resp.Success {
		out.Status = "ok"
	} else {
		out.Status = "error"
		out.Error = resp.Error
	}
	return out
}

// watchWorkerExit clears the active-session state once a worker exits on
// its own (Chrome lost, crash) rather than via stop_session, so a
// subsequent status/start_session call reflects reality instead of a
// stale worker reference.
func (d *Daemon) watchWorkerExit(wp *workerProc) {
	<-wp.doneCh
	d.mu.Lock()
	if d.worker == wp {
		d.worker = nil
	}
	d.mu.Unlock()
}

func okResponse(req ipc.Envelope, data any) ipc.Envelope {
	return ipc.Envelope{Type: ipc.ResponseType(req.Command()), SessionID: req.SessionID, Status: "ok"}.WithData(data)
}

func errResponse(req ipc.Envelope, code, msg string) ipc.Envelope {
	errText := msg
	if code != "" {
		errText = code + ": " + msg
	}
	return ipc.Envelope{Type: ipc.ResponseType(req.Command()), SessionID: req.SessionID, Status: "error", Error: errText}
}
