package worker

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/bdgtool/bdg/internal/cdp"
	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/bdgtool/bdg/internal/telemetry"
)

// fakeConn is a minimal in-process CDPConn, mirroring the pattern used in
// internal/telemetry and internal/cdpconn tests.
type fakeConn struct {
	mu         sync.Mutex
	listeners  map[string][]func(cdp.Event)
	nextID     int64
	sendResult func(method string, params any) (json.RawMessage, error)
}

func newFakeConn() *fakeConn {
	return &fakeConn{listeners: make(map[string][]func(cdp.Event))}
}

func (f *fakeConn) Subscribe(method string, handler func(cdp.Event)) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.listeners[method] = append(f.listeners[method], handler)
	return f.nextID
}

func (f *fakeConn) Unsubscribe(method string, handlerID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.listeners, method)
}

func (f *fakeConn) Send(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return f.SendToSession(ctx, "", method, params)
}

func (f *fakeConn) SendToSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error) {
	if f.sendResult != nil {
		return f.sendResult(method, params)
	}
	return json.RawMessage(`{}`), nil
}

func TestCommandHandler_Peek_BothKindsByDefault(t *testing.T) {
	conn := newFakeConn()
	net := telemetry.NewNetworkCollector(conn, "", telemetry.NetworkConfig{})
	con := telemetry.NewConsoleCollector(conn, "", telemetry.ConsoleConfig{})
	defer net.Cleanup()

	// Seed via the real CDP event path so this exercises the actual
	// collectors rather than poking their internals.
	emit(conn, "Network.requestWillBeSent", map[string]any{
		"requestId": "r1", "request": map[string]any{"url": "http://example.com", "method": "GET"},
		"timestamp": 1.0, "wallTime": 1700000000.0,
	})
	emit(conn, "Network.loadingFinished", map[string]any{"requestId": "r1"})
	emit(conn, "Runtime.consoleAPICalled", map[string]any{
		"type": "log", "args": []any{map[string]any{"type": "string", "value": "hi"}}, "timestamp": 1700000000000.0,
	})

	h := newCommandHandler(net, con, conn)
	req := ipc.Envelope{Type: ipc.RequestType(ipc.CmdPeek), RequestID: "req1"}.WithParams(ipc.PeekParams{LastN: 10})

	resp := h.Handle(context.Background(), req)
	if resp.Success == nil || !*resp.Success {
		t.Fatalf("Handle() success = %v, error = %q", resp.Success, resp.Error)
	}

	var data ipc.PeekData
	if err := resp.DecodeData(&data); err != nil {
		t.Fatalf("DecodeData() error = %v", err)
	}
	if len(data.Network) != 1 || data.Network[0].RequestID != "r1" {
		t.Errorf("data.Network = %+v, want one entry r1", data.Network)
	}
	if len(data.Console) != 1 || data.Console[0].Text != "hi" {
		t.Errorf("data.Console = %+v, want one entry \"hi\"", data.Console)
	}
}

func TestCommandHandler_Peek_NetworkOnlyFilter(t *testing.T) {
	conn := newFakeConn()
	net := telemetry.NewNetworkCollector(conn, "", telemetry.NetworkConfig{})
	con := telemetry.NewConsoleCollector(conn, "", telemetry.ConsoleConfig{})
	defer net.Cleanup()
	emit(conn, "Runtime.consoleAPICalled", map[string]any{
		"type": "log", "args": []any{map[string]any{"type": "string", "value": "hi"}}, "timestamp": 1700000000000.0,
	})

	h := newCommandHandler(net, con, conn)
	req := ipc.Envelope{Type: ipc.RequestType(ipc.CmdPeek), RequestID: "req1"}.WithParams(ipc.PeekParams{Network: true})

	resp := h.Handle(context.Background(), req)
	var data ipc.PeekData
	_ = resp.DecodeData(&data)
	if data.Console != nil {
		t.Errorf("data.Console = %+v, want nil when Network-only filter set", data.Console)
	}
}

func TestCommandHandler_Details_NetworkFound(t *testing.T) {
	conn := newFakeConn()
	net := telemetry.NewNetworkCollector(conn, "", telemetry.NetworkConfig{})
	defer net.Cleanup()
	emit(conn, "Network.requestWillBeSent", map[string]any{
		"requestId": "r1", "request": map[string]any{"url": "http://example.com", "method": "GET"},
		"timestamp": 1.0, "wallTime": 1700000000.0,
	})
	emit(conn, "Network.loadingFinished", map[string]any{"requestId": "r1"})

	h := newCommandHandler(net, nil, conn)
	req := ipc.Envelope{Type: ipc.RequestType(ipc.CmdDetails), RequestID: "req1"}.WithParams(ipc.DetailsParams{ItemType: "network", ID: "r1"})

	resp := h.Handle(context.Background(), req)
	if resp.Success == nil || !*resp.Success {
		t.Fatalf("Handle() success = %v, error = %q", resp.Success, resp.Error)
	}
	var data ipc.DetailsData
	_ = resp.DecodeData(&data)
	if data.Network == nil || data.Network.RequestID != "r1" {
		t.Errorf("data.Network = %+v, want RequestID r1", data.Network)
	}
}

func TestCommandHandler_Details_NotFound(t *testing.T) {
	conn := newFakeConn()
	net := telemetry.NewNetworkCollector(conn, "", telemetry.NetworkConfig{})
	defer net.Cleanup()

	h := newCommandHandler(net, nil, conn)
	req := ipc.Envelope{Type: ipc.RequestType(ipc.CmdDetails), RequestID: "req1"}.WithParams(ipc.DetailsParams{ItemType: "network", ID: "missing"})

	resp := h.Handle(context.Background(), req)
	if resp.Success == nil || *resp.Success {
		t.Fatalf("Handle() success = %v, want false", resp.Success)
	}
	if resp.Error == "" {
		t.Error("expected a non-empty error message")
	}
}

func TestCommandHandler_Details_UnknownItemType(t *testing.T) {
	h := newCommandHandler(nil, nil, newFakeConn())
	req := ipc.Envelope{Type: ipc.RequestType(ipc.CmdDetails), RequestID: "req1"}.WithParams(ipc.DetailsParams{ItemType: "bogus", ID: "1"})

	resp := h.Handle(context.Background(), req)
	if resp.Success == nil || *resp.Success {
		t.Fatal("Handle() expected failure for unknown itemType")
	}
}

func TestCommandHandler_CDPCall_PassesThroughResult(t *testing.T) {
	conn := newFakeConn()
	conn.sendResult = func(method string, params any) (json.RawMessage, error) {
		if method != "Page.navigate" {
			t.Errorf("Send called with method %q, want Page.navigate", method)
		}
		return json.RawMessage(`{"frameId":"f1"}`), nil
	}

	h := newCommandHandler(nil, nil, conn)
	req := ipc.Envelope{Type: ipc.RequestType(ipc.CmdCDPCall), RequestID: "req1"}.
		WithParams(ipc.CDPCallParams{Method: "Page.navigate", Params: map[string]any{"url": "http://example.com"}})

	resp := h.Handle(context.Background(), req)
	if resp.Success == nil || !*resp.Success {
		t.Fatalf("Handle() success = %v, error = %q", resp.Success, resp.Error)
	}
	var data ipc.CDPCallData
	_ = resp.DecodeData(&data)
	if string(data.Result) != `{"frameId":"f1"}` {
		t.Errorf("data.Result = %s, want {\"frameId\":\"f1\"}", data.Result)
	}
}

func TestCommandHandler_UnknownCommand(t *testing.T) {
	h := newCommandHandler(nil, nil, newFakeConn())
	req := ipc.Envelope{Type: ipc.RequestType("bogus"), RequestID: "req1"}

	resp := h.Handle(context.Background(), req)
	if resp.Error != ipc.ErrUnknownCommand {
		t.Errorf("Error = %q, want %q", resp.Error, ipc.ErrUnknownCommand)
	}
}

// emit delivers a synthetic CDP event to every handler subscribed to method.
func emit(f *fakeConn, method string, params any) {
	data, _ := json.Marshal(params)
	f.mu.Lock()
	handlers := append([]func(cdp.Event){}, f.listeners[method]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(cdp.Event{Method: method, Params: data})
	}
}
