package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the hard cap on a single JSONL frame (spec §4.5:
// "Frames larger than 64 MiB must be rejected").
const MaxFrameSize = 64 * 1024 * 1024

// ErrFrameTooLarge is returned by FrameReader.ReadFrame when a line
// exceeds MaxFrameSize before a newline is found.
var ErrFrameTooLarge = errors.New("ipc: frame exceeds maximum size")

// FrameReader reads newline-delimited JSON frames, generalized from the
// teacher's bufio.Reader.ReadBytes('\n') loop in internal/ipc/server.go
// and internal/ipc/client.go into a bufio.Scanner with a bounded token
// buffer, since plain ReadBytes has no built-in way to reject an
// oversized line before it is fully buffered.
type FrameReader struct {
	scanner *bufio.Scanner
}

// NewFrameReader wraps r for reading, capping any single frame at
// MaxFrameSize bytes.
func NewFrameReader(r io.Reader) *FrameReader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), MaxFrameSize)
	return &FrameReader{scanner: s}
}

// ReadFrame reads the next line, stripped of its trailing newline. It
// returns io.EOF when the underlying reader is exhausted.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	if !fr.scanner.Scan() {
		if err := fr.scanner.Err(); err != nil {
			if errors.Is(err, bufio.ErrTooLong) {
				return nil, ErrFrameTooLarge
			}
			return nil, err
		}
		return nil, io.EOF
	}
	line := fr.scanner.Bytes()
	out := make([]byte, len(line))
	copy(out, line)
	return out, nil
}

// ReadEnvelope reads and decodes the next frame as an Envelope, skipping
// blank lines (the teacher's loop treats each non-empty line as one
// message; JSONL producers sometimes emit a trailing blank line).
func (fr *FrameReader) ReadEnvelope() (Envelope, error) {
	for {
		line, err := fr.ReadFrame()
		if err != nil {
			return Envelope{}, err
		}
		if len(line) == 0 {
			continue
		}
		var env Envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return Envelope{}, fmt.Errorf("ipc: invalid frame: %w", err)
		}
		return env, nil
	}
}

// FrameWriter writes newline-delimited JSON frames.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter wraps w for writing.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteEnvelope marshals env and writes it as one frame.
func (fw *FrameWriter) WriteEnvelope(env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ipc: marshal envelope: %w", err)
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	data = append(data, '\n')
	_, err = fw.w.Write(data)
	return err
}
