package session

import (
	"encoding/json"
	"time"

	"github.com/bdgtool/bdg/internal/telemetry"
)

// outputVersion is stamped into every BdgOutput.Version. Bump when the
// on-disk shape changes incompatibly.
const outputVersion = "1"

// Target identifies the page a session observed (spec §3.6).
type Target struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Data is the payload half of a BdgOutput: each field present only when
// its telemetry kind was active for the session.
type Data struct {
	Network []telemetry.NetworkRequest `json:"network,omitempty"`
	Console []telemetry.ConsoleMessage `json:"console,omitempty"`
	DOM     *telemetry.DOMData         `json:"dom,omitempty"`
}

// BdgOutput is the shape written to session.json (on graceful stop) and
// session.preview.json (every 5s during collection), per spec §3.6.
type BdgOutput struct {
	Version   string  `json:"version"`
	Success   bool    `json:"success"`
	Timestamp string  `json:"timestamp"`
	Duration  int64   `json:"duration"`
	Target    Target  `json:"target"`
	Data      Data    `json:"data"`
	Error     string  `json:"error,omitempty"`
	Partial   *bool   `json:"partial,omitempty"`
}

// NewOutput builds a BdgOutput stamped with the current time and the
// elapsed duration since start.
func NewOutput(target Target, data Data, success bool, start time.Time, now time.Time) BdgOutput {
	return BdgOutput{
		Version:   outputVersion,
		Success:   success,
		Timestamp: now.UTC().Format(time.RFC3339),
		Duration:  now.Sub(start).Milliseconds(),
		Target:    target,
		Data:      data,
	}
}

// WithError returns a copy of o with Success=false and Error set.
func (o BdgOutput) WithError(err string) BdgOutput {
	o.Success = false
	o.Error = err
	return o
}

// WithPartial returns a copy of o flagged as a partial (preview or
// abnormal-shutdown) artifact.
func (o BdgOutput) WithPartial() BdgOutput {
	partial := true
	o.Partial = &partial
	return o
}

// Marshal renders o as indented JSON, ready for WriteAtomic.
func (o BdgOutput) Marshal() ([]byte, error) {
	return json.MarshalIndent(o, "", "  ")
}

// WriteOutput atomically persists o to path (session.json or
// session.preview.json).
func WriteOutput(path string, o BdgOutput) error {
	data, err := o.Marshal()
	if err != nil {
		return err
	}
	return WriteAtomic(path, data)
}
