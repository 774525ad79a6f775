package daemon

import (
	"testing"
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
)

func TestDaemon_HandleHandshake(t *testing.T) {
	d := New(nil)

	resp := d.handleRequest(ipc.Envelope{Type: ipc.RequestType(ipc.CmdHandshake)})
	if resp.Status != "ok" {
		t.Fatalf("handshake: status = %q, want ok", resp.Status)
	}

	var data struct {
		DaemonPID int `json:"daemonPid"`
	}
	if err := resp.DecodeData(&data); err != nil {
		t.Fatalf("decode handshake data: %v", err)
	}
	if data.DaemonPID == 0 {
		t.Error("expected non-zero daemonPid")
	}
}

func TestDaemon_HandleStatus_NoActiveSession(t *testing.T) {
	d := New(nil)

	resp := d.handleRequest(ipc.Envelope{Type: ipc.RequestType(ipc.CmdStatus)})
	if resp.Status != "ok" {
		t.Fatalf("status: status = %q, want ok", resp.Status)
	}

	var data ipc.StatusData
	if err := resp.DecodeData(&data); err != nil {
		t.Fatalf("decode status data: %v", err)
	}
	if data.Running {
		t.Error("expected Running=false with no active session")
	}
}

func TestDaemon_HandleRequest_UnknownCommand(t *testing.T) {
	d := New(nil)

	resp := d.handleRequest(ipc.Envelope{Type: "bogus_request"})
	if resp.Status != "error" {
		t.Fatalf("expected error status, got %q", resp.Status)
	}
	if resp.Error == "" {
		t.Error("expected non-empty error message")
	}
}

func TestDaemon_ForwardToWorker_NoActiveSession(t *testing.T) {
	d := New(nil)

	resp := d.handleRequest(ipc.Envelope{Type: ipc.RequestType(ipc.CmdPeek)})
	if resp.Status != "error" {
		t.Fatalf("expected error status with no active session, got %q", resp.Status)
	}
}

func TestDaemon_HandleStopSession_NoActiveSession(t *testing.T) {
	d := New(nil)

	resp := d.handleRequest(ipc.Envelope{Type: ipc.RequestType(ipc.CmdStopSession)})
	if resp.Status != "error" {
		t.Fatalf("expected error status with no active session, got %q", resp.Status)
	}
}

func TestDaemon_ActiveSessionRoundTrip(t *testing.T) {
	d := New(nil)

	if wp, _, _, _ := d.activeSession(); wp != nil {
		t.Fatal("expected no active session initially")
	}

	wp := &workerProc{doneCh: make(chan struct{})}
	ready := workerReady{PID: 4242, ChromePID: 9999, Port: 9222}
	start := time.Now()
	cfg := ipc.StartSessionParams{URL: "https://example.com"}

	d.setActiveSession(wp, ready, start, cfg)

	gotWP, gotReady, gotStart, gotCfg := d.activeSession()
	if gotWP != wp {
		t.Error("activeSession did not return the worker set by setActiveSession")
	}
	if gotReady.PID != ready.PID || gotReady.ChromePID != ready.ChromePID {
		t.Errorf("activeSession ready = %+v, want %+v", gotReady, ready)
	}
	if !gotStart.Equal(start) {
		t.Errorf("activeSession start = %v, want %v", gotStart, start)
	}
	if gotCfg.URL != cfg.URL {
		t.Errorf("activeSession cfg.URL = %q, want %q", gotCfg.URL, cfg.URL)
	}

	d.clearActiveSession()
	if wp, _, _, _ := d.activeSession(); wp != nil {
		t.Error("expected no active session after clearActiveSession")
	}
}

func TestOkResponse_ErrResponse(t *testing.T) {
	req := ipc.Envelope{Type: ipc.RequestType(ipc.CmdStatus), SessionID: "s1"}

	ok := okResponse(req, map[string]int{"x": 1})
	if ok.Type != ipc.ResponseType(ipc.CmdStatus) {
		t.Errorf("okResponse type = %q", ok.Type)
	}
	if ok.Status != "ok" || ok.SessionID != "s1" {
		t.Errorf("okResponse = %+v", ok)
	}

	e := errResponse(req, ipc.ErrCDPTimeout, "timed out")
	if e.Status != "error" {
		t.Errorf("errResponse status = %q, want error", e.Status)
	}
	if e.Error != ipc.ErrCDPTimeout+": timed out" {
		t.Errorf("errResponse.Error = %q", e.Error)
	}
}

func TestReadyTimeout(t *testing.T) {
	if got := readyTimeout(ipc.StartSessionParams{}); got != workerReadyTimeout {
		t.Errorf("readyTimeout(default) = %v, want %v", got, workerReadyTimeout)
	}
	if got := readyTimeout(ipc.StartSessionParams{Timeout: 7}); got != 7*time.Second {
		t.Errorf("readyTimeout(7) = %v, want 7s", got)
	}
}
