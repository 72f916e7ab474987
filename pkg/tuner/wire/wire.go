// Package wire defines the length-prefixed JSON protocol carried over
// rpc.sock between resourcetunerctl and the daemon. The bit-exact framing
// here is a minimal concrete stand-in needed to drive the daemon
// end-to-end; it is not itself part of the Concurrency Coordinator core.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// maxFrameBytes bounds a single frame to guard against a malformed peer
// claiming an unbounded length prefix.
const maxFrameBytes = 4 << 20

// Op names the daemon operation a Request carries.
type Op string

const (
	OpTune   Op = "tune"
	OpRetune Op = "retune"
	OpUntune Op = "untune"
	OpStatus Op = "status"
	OpDump   Op = "dump"
)

// Triple is one (resource, sub-index, value) entry of a Tune request.
type Triple struct {
	ResourceCode uint32 `json:"resource_code"`
	SubIndex     int32  `json:"sub_index"`
	Value        int32  `json:"value"`
}

// Request is one frame sent from resourcetunerctl to the daemon.
type Request struct {
	Op         Op       `json:"op"`
	PID        int32    `json:"pid,omitempty"`
	TID        int32    `json:"tid,omitempty"`
	Priority   uint8    `json:"priority,omitempty"`
	DurationMs int64    `json:"duration_ms,omitempty"`
	Resources  []Triple `json:"resources,omitempty"`
	Handle     int64    `json:"handle,omitempty"`
}

// AppliedEvent mirrors events.AppliedEvent for wire transport, avoiding a
// dependency from this package on the core's internal types.
type AppliedEvent struct {
	Action       string `json:"action"`
	ResourceCode uint32 `json:"resource_code"`
	SubIndex     int32  `json:"sub_index"`
	Value        int32  `json:"value"`
	Priority     uint8  `json:"priority"`
}

// Status is the daemon's point-in-time diagnostic snapshot.
type Status struct {
	UptimeSeconds int64 `json:"uptime_seconds"`
	QueueDepth    int   `json:"queue_depth"`
	InFlight      int64 `json:"in_flight"`
	ActivePIDs    int   `json:"active_pids"`
}

// Response is one frame sent from the daemon back to resourcetunerctl.
type Response struct {
	OK     bool           `json:"ok"`
	Error  string         `json:"error,omitempty"`
	Handle int64          `json:"handle,omitempty"`
	Status *Status        `json:"status,omitempty"`
	Dump   []AppliedEvent `json:"dump,omitempty"`
}

// WriteFrame writes v as a 4-byte big-endian length prefix followed by its
// JSON encoding.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal frame: %w", err)
	}
	if len(body) > maxFrameBytes {
		return fmt.Errorf("wire: frame too large: %d bytes", len(body))
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame and unmarshals it into v.
func ReadFrame(r io.Reader, v any) error {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameBytes {
		return errors.New("wire: frame exceeds maximum size")
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("wire: read frame body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("wire: unmarshal frame: %w", err)
	}
	return nil
}
