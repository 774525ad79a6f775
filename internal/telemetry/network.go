package telemetry

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sync"
	"time"

	"github.com/bdgtool/bdg/internal/cdp"
)

const (
	// MaxPendingRequests bounds the in-flight request map (spec §4.2/§5).
	MaxPendingRequests = 10000
	// MaxNetworkOutput bounds the completed-request output list.
	MaxNetworkOutput = 10000

	pendingEvictAge      = 60 * time.Second
	pendingEvictInterval = 30 * time.Second

	bodyFetchTimeout = 10 * time.Second
)

// CDPConn is the subset of *cdpconn.Connection the network and console
// collectors need: event subscription and session-scoped command send.
// Defined here (rather than imported) so telemetry does not depend on the
// connection-policy package, matching the teacher's habit of depending on
// narrow local interfaces instead of concrete types across package
// boundaries.
type CDPConn interface {
	Subscribe(method string, handler func(cdp.Event)) int64
	Unsubscribe(method string, handlerID int64)
	Send(ctx context.Context, method string, params any) (json.RawMessage, error)
	SendToSession(ctx context.Context, sessionID, method string, params any) (json.RawMessage, error)
}

type pendingRequest struct {
	req       NetworkRequest
	firstSeen time.Time
}

// NetworkCollector implements spec §4.2: translate Network.* CDP events
// into a bounded, filtered, de-duplicated NetworkRequest list.
type NetworkCollector struct {
	conn      CDPConn
	sessionID string

	filter         *URLFilter
	fetchAllBodies bool
	maxBodySize    int64
	includeBodyOverride func(url string) bool

	mu      sync.Mutex
	pending map[string]*pendingRequest
	output  []NetworkRequest
	navID   *int

	handlers map[string]int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NetworkConfig tunes filtering and body-fetch behavior.
type NetworkConfig struct {
	IncludeAll      bool
	IncludePatterns []string
	ExcludePatterns []string
	FetchAllBodies  bool
	MaxBodySize     int64
}

// NewNetworkCollector creates a collector and subscribes it to conn's
// Network.* events scoped to sessionID. Call Enable before network traffic
// is expected; call Cleanup exactly once when done.
func NewNetworkCollector(conn CDPConn, sessionID string, cfg NetworkConfig) *NetworkCollector {
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	c := &NetworkCollector{
		conn:        conn,
		sessionID:   sessionID,
		filter:      NewURLFilter(cfg.IncludeAll, cfg.IncludePatterns, cfg.ExcludePatterns),
		fetchAllBodies: cfg.FetchAllBodies,
		maxBodySize: maxBody,
		pending:     make(map[string]*pendingRequest),
		handlers:    make(map[string]int64),
		stopCh:      make(chan struct{}),
	}
	c.includeBodyOverride = func(url string) bool { return matchAny(cfg.IncludePatterns, url) }

	c.handlers["Network.requestWillBeSent"] = conn.Subscribe("Network.requestWillBeSent", c.onRequestWillBeSent)
	c.handlers["Network.responseReceived"] = conn.Subscribe("Network.responseReceived", c.onResponseReceived)
	c.handlers["Network.loadingFinished"] = conn.Subscribe("Network.loadingFinished", c.onLoadingFinished)
	c.handlers["Network.loadingFailed"] = conn.Subscribe("Network.loadingFailed", c.onLoadingFailed)

	go c.evictLoop()
	return c
}

// Enable turns on the Network domain, attempting generous buffer sizes
// first and falling back to the bare enable call on failure (spec §4.2).
func (c *NetworkCollector) Enable(ctx context.Context) error {
	_, err := c.conn.SendToSession(ctx, c.sessionID, "Network.enable", map[string]any{
		"maxTotalBufferSize":    50 * 1024 * 1024,
		"maxResourceBufferSize": 10 * 1024 * 1024,
		"maxPostDataSize":       1024 * 1024,
	})
	if err == nil {
		return nil
	}
	_, err = c.conn.SendToSession(ctx, c.sessionID, "Network.enable", nil)
	return err
}

// SetNavigationID records the worker-assigned monotonic navigation counter
// stamped onto subsequently completed requests.
func (c *NetworkCollector) SetNavigationID(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v := id
	c.navID = &v
}

// Output returns a snapshot copy of the completed-request list.
func (c *NetworkCollector) Output() []NetworkRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]NetworkRequest, len(c.output))
	copy(out, c.output)
	return out
}

// Cleanup disconnects all event handlers, stops the eviction timer, and
// clears both the pending map and the output list. Idempotent.
func (c *NetworkCollector) Cleanup() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	for method, id := range c.handlers {
		c.conn.Unsubscribe(method, id)
	}

	c.mu.Lock()
	c.pending = make(map[string]*pendingRequest)
	c.output = nil
	c.mu.Unlock()
}

func (c *NetworkCollector) onRequestWillBeSent(evt cdp.Event) {
	var params struct {
		RequestID string  `json:"requestId"`
		WallTime  float64 `json:"wallTime"`
		Request   struct {
			URL     string            `json:"url"`
			Method  string            `json:"method"`
			Headers map[string]string `json:"headers"`
		} `json:"request"`
	}
	if json.Unmarshal(evt.Params, &params) != nil || params.RequestID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) >= MaxPendingRequests {
		return
	}

	ts := time.Now().UnixMilli()
	if params.WallTime > 0 {
		ts = int64(params.WallTime * 1000)
	}

	c.pending[params.RequestID] = &pendingRequest{
		req: NetworkRequest{
			RequestID:      params.RequestID,
			URL:            params.Request.URL,
			Method:         params.Request.Method,
			Timestamp:      ts,
			RequestHeaders: params.Request.Headers,
		},
		firstSeen: time.Now(),
	}
}

func (c *NetworkCollector) onResponseReceived(evt cdp.Event) {
	var params struct {
		RequestID string `json:"requestId"`
		Response  struct {
			Status   int               `json:"status"`
			MimeType string            `json:"mimeType"`
			Headers  map[string]string `json:"headers"`
		} `json:"response"`
	}
	if json.Unmarshal(evt.Params, &params) != nil || params.RequestID == "" {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.pending[params.RequestID]
	if !ok {
		// Race: response arrived before request, or the pending entry was
		// already evicted/filtered. Discard per spec boundary behavior.
		return
	}

	status := params.Response.Status
	p.req.Status = &status
	p.req.MimeType = params.Response.MimeType
	p.req.ResponseHeaders = params.Response.Headers
}

func (c *NetworkCollector) onLoadingFinished(evt cdp.Event) {
	var params struct {
		RequestID         string `json:"requestId"`
		EncodedDataLength int64  `json:"encodedDataLength"`
	}
	if json.Unmarshal(evt.Params, &params) != nil || params.RequestID == "" {
		return
	}
	c.promote(params.RequestID, params.EncodedDataLength)
}

func (c *NetworkCollector) onLoadingFailed(evt cdp.Event) {
	var params struct {
		RequestID string `json:"requestId"`
	}
	if json.Unmarshal(evt.Params, &params) != nil || params.RequestID == "" {
		return
	}

	c.mu.Lock()
	p, ok := c.pending[params.RequestID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, params.RequestID)
	failed := 0
	p.req.Status = &failed
	c.appendOutput(p.req)
	c.mu.Unlock()
}

// promote moves a pending entry into the output list, applying URL
// filtering and the output cap, then kicks off an async body fetch.
func (c *NetworkCollector) promote(requestID string, encodedDataLength int64) {
	c.mu.Lock()
	p, ok := c.pending[requestID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.pending, requestID)

	if !c.filter.Allow(p.req.URL) {
		c.mu.Unlock()
		return
	}

	if c.navID != nil {
		id := *c.navID
		p.req.NavigationID = &id
	}

	req := p.req
	appended := c.appendOutput(req)
	mimeType := req.MimeType
	includeOverride := c.includeBodyOverride(req.URL)
	c.mu.Unlock()

	if !appended {
		return
	}

	decision := DecideBody(c.fetchAllBodies, mimeType, req.URL, encodedDataLength, c.maxBodySize, includeOverride)
	if decision.SkipReason != "" {
		c.setResponseBody(requestID, SkipMarker(decision.SkipReason))
		return
	}
	if decision.Fetch {
		go c.fetchBody(requestID)
	}
}

// appendOutput must be called with c.mu held. Returns false if the cap was
// already reached (entry is dropped, not appended).
func (c *NetworkCollector) appendOutput(req NetworkRequest) bool {
	if len(c.output) >= MaxNetworkOutput {
		return false
	}
	c.output = append(c.output, req)
	return true
}

func (c *NetworkCollector) fetchBody(requestID string) {
	ctx, cancel := context.WithTimeout(context.Background(), bodyFetchTimeout)
	defer cancel()

	result, err := c.conn.SendToSession(ctx, c.sessionID, "Network.getResponseBody", map[string]any{
		"requestId": requestID,
	})
	if err != nil {
		return
	}

	var body struct {
		Body          string `json:"body"`
		Base64Encoded bool   `json:"base64Encoded"`
	}
	if json.Unmarshal(result, &body) != nil {
		return
	}

	text := body.Body
	if body.Base64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body.Body)
		if err != nil {
			return
		}
		text = string(decoded)
	}
	c.setResponseBody(requestID, text)
}

func (c *NetworkCollector) setResponseBody(requestID, body string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.output {
		if c.output[i].RequestID == requestID {
			c.output[i].ResponseBody = body
			return
		}
	}
}

// evictLoop removes pending entries older than pendingEvictAge every
// pendingEvictInterval. Evicted entries never appear in the output (spec
// §4.2 point 5; §9 notes the observable bound is up to 90s, not a tight 60s).
func (c *NetworkCollector) evictLoop() {
	ticker := time.NewTicker(pendingEvictInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-pendingEvictAge)
			c.mu.Lock()
			for id, p := range c.pending {
				if p.firstSeen.Before(cutoff) {
					delete(c.pending, id)
				}
			}
			c.mu.Unlock()
		}
	}
}
