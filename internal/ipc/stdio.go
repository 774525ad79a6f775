package ipc

import "io"

// StdioTransport is the worker's side of the daemon<->worker channel:
// the same Envelope/JSONL framing as Server/Client, carried over a pair
// of plain io.Reader/io.Writer (the worker's stdin and stdout, or the
// daemon's ends of the worker's exec.Cmd pipes) instead of a Unix
// socket. Spec §4.5: "Worker stdio channel. Same JSONL framing on the
// worker's stdin (daemon->worker) and stdout (worker->daemon)."
type StdioTransport struct {
	fr *FrameReader
	fw *FrameWriter
}

// NewStdioTransport wraps r/w for Envelope framing.
func NewStdioTransport(r io.Reader, w io.Writer) *StdioTransport {
	return &StdioTransport{fr: NewFrameReader(r), fw: NewFrameWriter(w)}
}

// ReadEnvelope reads the next frame.
func (t *StdioTransport) ReadEnvelope() (Envelope, error) {
	return t.fr.ReadEnvelope()
}

// WriteEnvelope writes one frame.
func (t *StdioTransport) WriteEnvelope(env Envelope) error {
	return t.fw.WriteEnvelope(env)
}
