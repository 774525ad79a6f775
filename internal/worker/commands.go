package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/bdgtool/bdg/internal/ipc"
	"github.com/bdgtool/bdg/internal/telemetry"
)

// DefaultCDPCallTimeout bounds a single cdp_call passthrough (spec §4.5:
// "Daemon->worker forwarded request: 5-10s depends on command").
const DefaultCDPCallTimeout = 10 * time.Second

// cdpSender is the narrow slice of *cdpconn.Connection the cdp_call
// command needs: an unscoped Send, since the worker connects directly to
// the page target's own WebSocket endpoint rather than a multiplexed
// browser-level one (see DESIGN.md).
type cdpSender interface {
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// commandHandler answers the worker's stdio commands (spec §4.5:
// peek, details, cdp_call), plus status for the daemon's live counts.
// network/console are nil when that telemetry
// kind was not requested for the session.
type commandHandler struct {
	network *telemetry.NetworkCollector
	console *telemetry.ConsoleCollector
	conn    cdpSender

	cdpCallTimeout time.Duration
}

func newCommandHandler(network *telemetry.NetworkCollector, console *telemetry.ConsoleCollector, conn cdpSender) *commandHandler {
	return &commandHandler{network: network, console: console, conn: conn, cdpCallTimeout: DefaultCDPCallTimeout}
}

// Handle dispatches one request envelope and returns its response.
func (h *commandHandler) Handle(ctx context.Context, req ipc.Envelope) ipc.Envelope {
	switch req.Command() {
	case ipc.CmdPeek:
		return h.handlePeek(req)
	case ipc.CmdDetails:
		return h.handleDetails(req)
	case ipc.CmdCDPCall:
		return h.handleCDPCall(ctx, req)
	case ipc.CmdStatus:
		return h.handleStatus(req)
	default:
		return errorResponse(req, ipc.ErrUnknownCommand)
	}
}

// handleStatus reports live network/console counts so the daemon can
// fold them into its own status response without holding collector state
// itself (spec §4.7: "status (daemon + worker query for live counts)").
func (h *commandHandler) handleStatus(req ipc.Envelope) ipc.Envelope {
	data := ipc.StatusData{Running: true}
	if h.network != nil {
		data.NetworkCount = len(h.network.Output())
	}
	if h.console != nil {
		data.ConsoleCount = len(h.console.Output())
	}
	return okResponse(req, data)
}

func (h *commandHandler) handlePeek(req ipc.Envelope) ipc.Envelope {
	var params ipc.PeekParams
	if err := req.DecodeParams(&params); err != nil {
		return errorResponse(req, fmt.Sprintf("invalid peek params: %v", err))
	}

	lastN := params.LastN
	if lastN <= 0 {
		lastN = DefaultPreviewSize
	}

	// Neither flag set means "both", matching `bdg peek` with no
	// --network/--console filter.
	wantNetwork := params.Network || !params.Console
	wantConsole := params.Console || !params.Network

	data := ipc.PeekData{}
	if wantNetwork && h.network != nil {
		data.Network = tailNetwork(h.network.Output(), lastN)
	}
	if wantConsole && h.console != nil {
		data.Console = tailConsole(h.console.Output(), lastN)
	}
	return okResponse(req, data)
}

func (h *commandHandler) handleDetails(req ipc.Envelope) ipc.Envelope {
	var params ipc.DetailsParams
	if err := req.DecodeParams(&params); err != nil {
		return errorResponse(req, fmt.Sprintf("invalid details params: %v", err))
	}

	switch params.ItemType {
	case "network":
		if h.network == nil {
			return errorResponse(req, "network telemetry is not active for this session")
		}
		for _, item := range h.network.Output() {
			if item.RequestID == params.ID {
				item := item
				return okResponse(req, ipc.DetailsData{Network: &item})
			}
		}
		return errorResponse(req, fmt.Sprintf("no network request with id %q", params.ID))

	case "console":
		if h.console == nil {
			return errorResponse(req, "console telemetry is not active for this session")
		}
		idx, err := strconv.Atoi(params.ID)
		out := h.console.Output()
		if err != nil || idx < 0 || idx >= len(out) {
			return errorResponse(req, fmt.Sprintf("no console message with id %q", params.ID))
		}
		item := out[idx]
		return okResponse(req, ipc.DetailsData{Console: &item})

	default:
		return errorResponse(req, fmt.Sprintf("unknown itemType %q", params.ItemType))
	}
}

func (h *commandHandler) handleCDPCall(ctx context.Context, req ipc.Envelope) ipc.Envelope {
	var params ipc.CDPCallParams
	if err := req.DecodeParams(&params); err != nil {
		return errorResponse(req, fmt.Sprintf("invalid cdp_call params: %v", err))
	}
	if params.Method == "" {
		return errorResponse(req, "cdp_call requires a method")
	}

	callCtx, cancel := context.WithTimeout(ctx, h.cdpCallTimeout)
	defer cancel()

	result, err := h.conn.Send(callCtx, params.Method, params.Params)
	if err != nil {
		return errorResponse(req, err.Error())
	}
	return okResponse(req, ipc.CDPCallData{Result: result})
}

// tailNetwork returns at most the last n entries of items.
func tailNetwork(items []telemetry.NetworkRequest, n int) []telemetry.NetworkRequest {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// tailConsole returns at most the last n entries of items.
func tailConsole(items []telemetry.ConsoleMessage, n int) []telemetry.ConsoleMessage {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// okResponse builds a worker->daemon success response (spec §4.5's
// {type, requestId, success, data} shape).
func okResponse(req ipc.Envelope, data any) ipc.Envelope {
	success := true
	return ipc.Envelope{
		Type:      ipc.ResponseType(req.Command()),
		RequestID: req.RequestID,
		Success:   &success,
	}.WithData(data)
}

// errorResponse builds a worker->daemon failure response.
func errorResponse(req ipc.Envelope, errMsg string) ipc.Envelope {
	success := false
	return ipc.Envelope{
		Type:      ipc.ResponseType(req.Command()),
		RequestID: req.RequestID,
		Success:   &success,
		Error:     errMsg,
	}
}
