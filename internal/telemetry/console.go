package telemetry

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/bdgtool/bdg/internal/cdp"
)

// MaxConsoleMessages bounds the console output list (spec §4.3/§5).
const MaxConsoleMessages = 10000

// groupMarkerTypes are console "type" values that are filtered by default;
// they're structural markers, not messages a log consumer cares about.
var groupMarkerTypes = map[string]bool{
	"startGroup":          true,
	"startGroupCollapsed": true,
	"endGroup":            true,
}

// devNoisePatterns match dev-server/HMR chatter filtered by default.
var devNoisePatterns = []string{
	"webpack-dev-server",
	"[HMR]",
	"[WDS]",
	"Download the React DevTools",
	"Redux DevTools",
}

// ConsoleCollector implements spec §4.3: translate Runtime.consoleAPICalled
// and Runtime.exceptionThrown into a bounded ConsoleMessage list.
type ConsoleCollector struct {
	conn      CDPConn
	sessionID string

	includeAll bool

	mu       sync.Mutex
	output   []ConsoleMessage
	capWarned bool

	handlers map[string]int64
	onCapReached func()
}

// ConsoleConfig tunes console filtering.
type ConsoleConfig struct {
	IncludeAll bool
	// OnCapReached, if set, is invoked exactly once when the 10k cap is
	// first reached (spec: "a single warning is emitted").
	OnCapReached func()
}

// NewConsoleCollector creates a collector and subscribes it to conn's
// Runtime.* events scoped to sessionID.
func NewConsoleCollector(conn CDPConn, sessionID string, cfg ConsoleConfig) *ConsoleCollector {
	c := &ConsoleCollector{
		conn:         conn,
		sessionID:    sessionID,
		includeAll:   cfg.IncludeAll,
		handlers:     make(map[string]int64),
		onCapReached: cfg.OnCapReached,
	}

	c.handlers["Runtime.consoleAPICalled"] = conn.Subscribe("Runtime.consoleAPICalled", c.onConsoleAPICalled)
	c.handlers["Runtime.exceptionThrown"] = conn.Subscribe("Runtime.exceptionThrown", c.onExceptionThrown)
	return c
}

// Enable turns on the Runtime and Log domains (idempotent per CDP).
func (c *ConsoleCollector) Enable(ctx context.Context) error {
	if _, err := c.conn.SendToSession(ctx, c.sessionID, "Runtime.enable", nil); err != nil {
		return err
	}
	_, err := c.conn.SendToSession(ctx, c.sessionID, "Log.enable", nil)
	return err
}

// Output returns a snapshot copy of the collected messages.
func (c *ConsoleCollector) Output() []ConsoleMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ConsoleMessage, len(c.output))
	copy(out, c.output)
	return out
}

// Cleanup disconnects event handlers and clears the output list. Idempotent.
func (c *ConsoleCollector) Cleanup() {
	for method, id := range c.handlers {
		c.conn.Unsubscribe(method, id)
	}
	c.mu.Lock()
	c.output = nil
	c.mu.Unlock()
}

func (c *ConsoleCollector) onConsoleAPICalled(evt cdp.Event) {
	var params struct {
		Type      string            `json:"type"`
		Timestamp float64           `json:"timestamp"`
		Args      []json.RawMessage `json:"args"`
	}
	if json.Unmarshal(evt.Params, &params) != nil {
		return
	}

	if !c.includeAll && groupMarkerTypes[params.Type] {
		return
	}

	parts := make([]string, 0, len(params.Args))
	rawArgs := make([]map[string]any, 0, len(params.Args))
	for _, raw := range params.Args {
		var arg struct {
			Value       json.RawMessage `json:"value"`
			Description string          `json:"description"`
		}
		_ = json.Unmarshal(raw, &arg)
		parts = append(parts, stringifyArg(arg.Value, arg.Description))

		var m map[string]any
		if json.Unmarshal(raw, &m) == nil {
			rawArgs = append(rawArgs, m)
		}
	}
	text := strings.Join(parts, " ")

	if !c.includeAll && isDevNoise(text) {
		return
	}

	c.push(ConsoleMessage{
		Type:      params.Type,
		Text:      text,
		Timestamp: int64(params.Timestamp),
		Args:      rawArgs,
	})
}

func (c *ConsoleCollector) onExceptionThrown(evt cdp.Event) {
	var params struct {
		Timestamp        float64 `json:"timestamp"`
		ExceptionDetails struct {
			Text      string `json:"text"`
			Exception *struct {
				Description string `json:"description"`
			} `json:"exception"`
		} `json:"exceptionDetails"`
	}
	if json.Unmarshal(evt.Params, &params) != nil {
		return
	}

	text := "Unknown error"
	if params.ExceptionDetails.Text != "" {
		text = params.ExceptionDetails.Text
	} else if params.ExceptionDetails.Exception != nil && params.ExceptionDetails.Exception.Description != "" {
		text = params.ExceptionDetails.Exception.Description
	}

	c.push(ConsoleMessage{
		Type:      "error",
		Text:      text,
		Timestamp: int64(params.Timestamp),
	})
}

func (c *ConsoleCollector) push(msg ConsoleMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.output) >= MaxConsoleMessages {
		if !c.capWarned {
			c.capWarned = true
			if c.onCapReached != nil {
				c.onCapReached()
			}
		}
		return
	}
	c.output = append(c.output, msg)
}

func stringifyArg(value json.RawMessage, description string) string {
	if len(value) > 0 {
		var s string
		if json.Unmarshal(value, &s) == nil {
			return s
		}
		return string(value)
	}
	if description != "" {
		return description
	}
	return ""
}

func isDevNoise(text string) bool {
	for _, p := range devNoisePatterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}
