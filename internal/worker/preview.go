package worker

import (
	"context"
	"time"

	"github.com/bdgtool/bdg/internal/session"
	"github.com/bdgtool/bdg/internal/telemetry"
)

// DefaultPreviewSize is the default bound on each array in the preview
// snapshot (spec §4.7: "last N, configurable, default 1000").
const DefaultPreviewSize = 1000

// DefaultPreviewInterval is how often the preview is rewritten.
const DefaultPreviewInterval = 5 * time.Second

// PreviewWriter periodically serializes bounded "last N" snapshots of the
// active telemetry collectors into session.preview.json (spec §4.7). It
// reuses RingBuffer's overwrite-oldest semantics for the bound, resyncing
// from each collector's authoritative Output() snapshot every tick rather
// than threading a per-item push hook through the collectors.
type PreviewWriter struct {
	path   string
	target session.Target
	start  time.Time

	netSrc func() []telemetry.NetworkRequest
	conSrc func() []telemetry.ConsoleMessage

	netRing *RingBuffer[telemetry.NetworkRequest]
	conRing *RingBuffer[telemetry.ConsoleMessage]

	onErr func(error)
}

// NewPreviewWriter creates a writer. netSrc/conSrc may be nil when that
// telemetry kind is not active for the session; a nil source is omitted
// from the snapshot entirely.
func NewPreviewWriter(path string, size int, target session.Target, start time.Time, netSrc func() []telemetry.NetworkRequest, conSrc func() []telemetry.ConsoleMessage, onErr func(error)) *PreviewWriter {
	if size <= 0 {
		size = DefaultPreviewSize
	}
	return &PreviewWriter{
		path:    path,
		target:  target,
		start:   start,
		netSrc:  netSrc,
		conSrc:  conSrc,
		netRing: NewRingBuffer[telemetry.NetworkRequest](size),
		conRing: NewRingBuffer[telemetry.ConsoleMessage](size),
		onErr:   onErr,
	}
}

// WriteOnce builds and atomically writes one preview snapshot.
func (p *PreviewWriter) WriteOnce(now time.Time) error {
	data := session.Data{}
	if p.netSrc != nil {
		p.netRing.Reset(p.netSrc())
		data.Network = p.netRing.All()
	}
	if p.conSrc != nil {
		p.conRing.Reset(p.conSrc())
		data.Console = p.conRing.All()
	}

	out := session.NewOutput(p.target, data, true, p.start, now).WithPartial()
	return session.WriteOutput(p.path, out)
}

// Run writes a snapshot every interval until ctx is cancelled. Errors are
// reported via onErr (if set) and do not stop the loop — a transient
// write failure shouldn't take down telemetry collection.
func (p *PreviewWriter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPreviewInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.WriteOnce(time.Now()); err != nil && p.onErr != nil {
				p.onErr(err)
			}
		}
	}
}
