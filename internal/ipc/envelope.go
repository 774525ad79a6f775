// Package ipc implements the tagged-envelope JSONL protocol that ties the
// three bdg processes together (spec §4.5): CLI<->daemon over a Unix
// domain socket, daemon<->worker over the worker's stdio pipes. Both
// transports share the same Envelope shape and line-delimited JSON
// framing; only the underlying net.Conn vs. os.Stdin/os.Stdout differs.
package ipc

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire shape for every message in the protocol. Spec
// §4.5 defines four concrete shapes (client request, daemon response,
// daemon-to-worker request, worker-to-daemon response); Envelope unifies
// them into one Go type with the union of fields, since every direction
// shares the same "type" tag and differs only in which optional fields
// are populated:
//
//	client  -> daemon: {type:"<cmd>_request",  sessionId, ...params}
//	daemon  -> client: {type:"<cmd>_response", sessionId, status, data?, error?}
//	daemon  -> worker: {type:"<cmd>_request",  requestId, ...params}
//	worker  -> daemon: {type:"<cmd>_response", requestId, success, data?, error?}
//
// Command-specific parameters are not nested under a "params" key on the
// wire (unlike the teacher's Request.Params) — spec §4.5's command
// catalog shows them flattened alongside "type" and the id field, e.g.
// start_session's "url"/"port"/"telemetry". Envelope's MarshalJSON/
// UnmarshalJSON flatten Params into/out of the top-level object so the
// Go type still has one fixed set of fields while matching that wire
// shape; callers marshal/unmarshal Params into their own command struct
// (see commands.go).
type Envelope struct {
	Type      string          `json:"-"`
	SessionID string          `json:"-"`
	RequestID string          `json:"-"`
	Status    string          `json:"-"`
	Success   *bool           `json:"-"`
	Data      json.RawMessage `json:"-"`
	Error     string          `json:"-"`
	Params    json.RawMessage `json:"-"`
}

// RequestType builds the "<cmd>_request" tag for cmd.
func RequestType(cmd string) string { return cmd + "_request" }

// ResponseType builds the "<cmd>_response" tag for cmd.
func ResponseType(cmd string) string { return cmd + "_response" }

// Command strips a "_request"/"_response" suffix from e.Type, returning
// the bare command name ("start_session", "peek", ...).
func (e Envelope) Command() string {
	t := e.Type
	for _, suffix := range []string{"_request", "_response"} {
		if len(t) > len(suffix) && t[len(t)-len(suffix):] == suffix {
			return t[:len(t)-len(suffix)]
		}
	}
	return t
}

// MarshalJSON flattens Params alongside the envelope's own fields.
func (e Envelope) MarshalJSON() ([]byte, error) {
	out := map[string]json.RawMessage{}

	if len(e.Params) > 0 {
		var params map[string]json.RawMessage
		if err := json.Unmarshal(e.Params, &params); err != nil {
			return nil, fmt.Errorf("ipc: params is not a JSON object: %w", err)
		}
		for k, v := range params {
			out[k] = v
		}
	}

	setString := func(key, val string) {
		if val == "" {
			return
		}
		b, _ := json.Marshal(val)
		out[key] = b
	}
	setString("type", e.Type)
	setString("sessionId", e.SessionID)
	setString("requestId", e.RequestID)
	setString("status", e.Status)
	setString("error", e.Error)
	if e.Success != nil {
		b, _ := json.Marshal(*e.Success)
		out["success"] = b
	}
	if len(e.Data) > 0 {
		out["data"] = e.Data
	}

	return json.Marshal(out)
}

// UnmarshalJSON peels the envelope's known fields off a JSON object,
// folding everything else back into Params.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	take := func(key string, dst *string) {
		v, ok := raw[key]
		if !ok {
			return
		}
		_ = json.Unmarshal(v, dst)
		delete(raw, key)
	}
	take("type", &e.Type)
	take("sessionId", &e.SessionID)
	take("requestId", &e.RequestID)
	take("status", &e.Status)
	take("error", &e.Error)

	if v, ok := raw["success"]; ok {
		var b bool
		if err := json.Unmarshal(v, &b); err != nil {
			return fmt.Errorf("ipc: success is not a bool: %w", err)
		}
		e.Success = &b
		delete(raw, "success")
	}
	if v, ok := raw["data"]; ok {
		e.Data = v
		delete(raw, "data")
	}

	params, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	e.Params = params
	return nil
}

// DecodeParams unmarshals e.Params into v.
func (e Envelope) DecodeParams(v any) error {
	if len(e.Params) == 0 {
		return nil
	}
	return json.Unmarshal(e.Params, v)
}

// DecodeData unmarshals e.Data into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	return json.Unmarshal(e.Data, v)
}

// WithParams marshals v into e.Params and returns e.
func (e Envelope) WithParams(v any) Envelope {
	b, err := json.Marshal(v)
	if err != nil {
		// Programmer error: v must always be a marshalable command struct.
		panic(fmt.Sprintf("ipc: WithParams: %v", err))
	}
	e.Params = b
	return e
}

// WithData marshals v into e.Data and returns e.
func (e Envelope) WithData(v any) Envelope {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("ipc: WithData: %v", err))
	}
	e.Data = b
	return e
}
