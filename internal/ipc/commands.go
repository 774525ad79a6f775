package ipc

import (
	"encoding/json"

	"github.com/bdgtool/bdg/internal/telemetry"
)

// Command names in the catalog (spec §4.5).
const (
	CmdHandshake    = "handshake"
	CmdStatus       = "status"
	CmdStartSession = "start_session"
	CmdStopSession  = "stop_session"
	CmdPeek         = "peek"
	CmdDetails      = "details"
	CmdCDPCall      = "cdp_call"
)

// Error codes returned in Envelope.Error for well-known failure cases.
// Free-form errors (e.g. a CDP call's own error message) are not coded.
const (
	ErrUnknownCommand        = "UNKNOWN_COMMAND"
	ErrSessionAlreadyRunning = "SESSION_ALREADY_RUNNING"
	ErrWorkerStartFailed     = "WORKER_START_FAILED"
	ErrCDPTimeout            = "CDP_TIMEOUT"
	ErrDaemonError           = "DAEMON_ERROR"
)

// StartSessionParams is the params payload of a start_session request.
type StartSessionParams struct {
	URL             string   `json:"url"`
	Port            int      `json:"port,omitempty"`
	Timeout         int      `json:"timeout,omitempty"`
	Telemetry       []string `json:"telemetry,omitempty"`
	IncludeAll      bool     `json:"includeAll,omitempty"`
	IncludePatterns []string `json:"includePatterns,omitempty"`
	ExcludePatterns []string `json:"excludePatterns,omitempty"`
	UserDataDir     string   `json:"userDataDir,omitempty"`
	MaxBodySize     int64    `json:"maxBodySize,omitempty"`
	FetchAllBodies  bool     `json:"fetchAllBodies,omitempty"`
	Headless        bool     `json:"headless,omitempty"`
}

// StartSessionData is the data payload of a successful start_session response.
type StartSessionData struct {
	WorkerPID int    `json:"workerPid"`
	ChromePID int     `json:"chromePid"`
	Port      int    `json:"port"`
	TargetURL string `json:"targetUrl"`
}

// SessionConflictData decorates a SESSION_ALREADY_RUNNING error so the
// CLI can render an actionable message (spec §4.6 "Start-session preflight").
type SessionConflictData struct {
	PID       int    `json:"pid"`
	TargetURL string `json:"targetUrl"`
	StartTime int64  `json:"startTime"`
	ElapsedMs int64  `json:"elapsedMs"`
}

// StopSessionData is the data payload of a successful stop_session response.
type StopSessionData struct {
	ChromePID int `json:"chromePid"`
}

// StatusData is the data payload of a successful status response.
type StatusData struct {
	Running         bool     `json:"running"`
	DaemonPID       int      `json:"daemonPid,omitempty"`
	WorkerPID       int      `json:"workerPid,omitempty"`
	ChromePID       int      `json:"chromePid,omitempty"`
	TargetURL       string   `json:"targetUrl,omitempty"`
	StartTime       int64    `json:"startTime,omitempty"`
	ActiveTelemetry []string `json:"activeTelemetry,omitempty"`
	NetworkCount    int      `json:"networkCount,omitempty"`
	ConsoleCount    int      `json:"consoleCount,omitempty"`
}

// PeekParams is the params payload of a peek request.
type PeekParams struct {
	LastN   int  `json:"lastN,omitempty"`
	Network bool `json:"network,omitempty"`
	Console bool `json:"console,omitempty"`
}

// PeekData is the data payload of a successful peek response: a bounded
// "last N" slice of whichever arrays were requested (spec §4.7).
type PeekData struct {
	Network []telemetry.NetworkRequest `json:"network,omitempty"`
	Console []telemetry.ConsoleMessage `json:"console,omitempty"`
}

// DetailsParams is the params payload of a details request.
type DetailsParams struct {
	ItemType string `json:"itemType"`
	ID       string `json:"id"`
}

// DetailsData is the data payload of a successful details response: the
// full record for one network request (by requestId) or console message
// (by its zero-based index in the output array — console messages carry
// no protocol-assigned id of their own).
type DetailsData struct {
	Network *telemetry.NetworkRequest `json:"network,omitempty"`
	Console *telemetry.ConsoleMessage `json:"console,omitempty"`
}

// CDPCallParams is the params payload of a cdp_call request.
type CDPCallParams struct {
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// CDPCallData is the data payload of a successful cdp_call response: the
// raw CDP result object, passed through unparsed.
type CDPCallData struct {
	Result json.RawMessage `json:"result"`
}
