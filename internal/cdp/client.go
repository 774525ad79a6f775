package cdp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// DefaultTimeout is the default timeout for CDP commands.
const DefaultTimeout = 30 * time.Second

// Client is a CDP protocol client. It owns one WebSocket and multiplexes
// command/response correlation and event fan-out over it. Client has no
// opinion about keepalive or reconnection; internal/cdpconn builds that
// policy on top of Client.
type Client struct {
	conn    Conn
	writeMu sync.Mutex
	msgID   atomic.Int64

	// pending maps command IDs to response channels.
	pending sync.Map // map[int64]chan *Response

	listenersMu sync.Mutex
	listeners   map[string][]subscriber
	nextHandler atomic.Int64

	// closed signals that the client is shutting down.
	closed   atomic.Bool
	closedCh chan struct{}
	closeErr error
	closeMu  sync.Mutex

	// done signals that the read loop has exited.
	done chan struct{}
}

type subscriber struct {
	id      int64
	handler func(Event)
}

// NewClient creates a new CDP client with the given connection.
func NewClient(conn Conn) *Client {
	c := &Client{
		conn:      conn,
		closedCh:  make(chan struct{}),
		done:      make(chan struct{}),
		listeners: make(map[string][]subscriber),
	}
	go c.readLoop()
	return c
}

// Dial connects to a CDP endpoint and returns a new client.
func Dial(ctx context.Context, wsURL string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to CDP endpoint: %w", err)
	}
	return NewClient(conn), nil
}

// Send sends a CDP command and waits for the response, using the default timeout.
func (c *Client) Send(method string, params interface{}) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()
	return c.SendContext(ctx, method, params)
}

// SendContext sends a CDP command scoped to no particular session (the
// browser target) with a context for cancellation.
func (c *Client) SendContext(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.send(ctx, "", method, params)
}

// SendToSession sends a CDP command flattened onto a specific attached
// target session, the form used once a page target has been attached to
// via Target.attachToTarget with flatten=true.
func (c *Client) SendToSession(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error) {
	return c.send(ctx, sessionID, method, params)
}

func (c *Client) send(ctx context.Context, sessionID, method string, params interface{}) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, errors.New("client is closed")
	}

	id := c.msgID.Add(1)
	req := Request{
		ID:        id,
		Method:    method,
		Params:    params,
		SessionID: sessionID,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	// Create response channel before sending.
	respCh := make(chan *Response, 1)
	c.pending.Store(id, respCh)
	defer c.pending.Delete(id)

	c.writeMu.Lock()
	err = c.conn.Write(ctx, websocket.MessageText, data)
	c.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("request timed out: %w", ctx.Err())
	case <-c.closedCh:
		return nil, errors.New("client closed while waiting for response")
	}
}

// Subscribe registers a handler for CDP events matching the given method.
// Multiple handlers can be registered for the same method; they are
// invoked in insertion order. Returns a handler id that can later be
// passed to Unsubscribe so a collector can remove itself, including from
// within its own handler callback.
func (c *Client) Subscribe(method string, handler func(Event)) int64 {
	id := c.nextHandler.Add(1)

	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners[method] = append(c.listeners[method], subscriber{id: id, handler: handler})
	return id
}

// Unsubscribe removes a previously registered handler. It is safe to call
// from within the handler being removed.
func (c *Client) Unsubscribe(method string, handlerID int64) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()

	subs := c.listeners[method]
	for i, s := range subs {
		if s.id == handlerID {
			c.listeners[method] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Close closes the client connection with a normal closure code and stops
// the read loop. Idempotent.
func (c *Client) Close() error {
	return c.CloseWithCode(websocket.StatusNormalClosure, "client closing")
}

// CloseWithCode closes the underlying connection with the given WebSocket
// close code and reason, then stops the read loop. Idempotent.
func (c *Client) CloseWithCode(code websocket.StatusCode, reason string) error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.closedCh)

	c.closeMu.Lock()
	err := c.conn.Close(code, reason)
	c.closeMu.Unlock()

	<-c.done

	return err
}

// Ping sends a WebSocket ping and waits for the matching pong, used by
// internal/cdpconn's keepalive loop.
func (c *Client) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Done returns a channel that closes when the read loop exits, whether
// due to an explicit Close or an unexpected connection error. Callers
// should inspect Err() after the channel fires to tell the two apart.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns any error that caused the client to close unexpectedly.
func (c *Client) Err() error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeErr
}

// readLoop reads messages from the connection and dispatches them.
func (c *Client) readLoop() {
	defer close(c.done)

	ctx := context.Background()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if !c.closed.Swap(true) {
				c.closeMu.Lock()
				c.closeErr = err
				c.closeMu.Unlock()
				close(c.closedCh)
			}
			return
		}

		resp, evt, err := parseMessage(data)
		if err != nil {
			continue // malformed frame: dropped without being logged, pump continues
		}

		if resp != nil {
			c.dispatchResponse(resp)
		} else if evt != nil {
			c.dispatchEvent(evt)
		}
	}
}

// dispatchResponse sends a response to the waiting caller. A response for
// an id with no pending entry (timed out, or a stale id collision) is
// dropped silently.
func (c *Client) dispatchResponse(resp *Response) {
	if ch, ok := c.pending.Load(resp.ID); ok {
		respCh := ch.(chan *Response)
		select {
		case respCh <- resp:
		default:
		}
	}
}

// dispatchEvent invokes all registered handlers for an event's method. The
// handler slice is snapshotted under the lock so a handler calling
// Unsubscribe on itself (or another handler) never deadlocks or mutates
// the slice being iterated.
func (c *Client) dispatchEvent(evt *Event) {
	c.listenersMu.Lock()
	subs := c.listeners[evt.Method]
	snapshot := make([]subscriber, len(subs))
	copy(snapshot, subs)
	c.listenersMu.Unlock()

	for _, s := range snapshot {
		s.handler(*evt)
	}
}
