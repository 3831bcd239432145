// Package ws implements the interactive transport: a full-duplex
// WebSocket carrying raw terminal bytes as binary frames and control
// messages as JSON text frames.
package ws

import (
	"encoding/json"
	"fmt"
)

// Control frame types. Terminal data never travels as a control frame;
// raw bytes go in binary frames so non-UTF-8 sequences survive intact.
const (
	// client -> server
	ControlResize = "resize"
	ControlPing   = "ping"

	// server -> client
	ControlDimensions = "dimensions"
	ControlHistoryEnd = "history_end"
	ControlPong       = "pong"

	// both directions
	ControlClose = "close"
)

// ControlFrame is the JSON payload of a text frame.
type ControlFrame struct {
	Type   string `json:"type"`
	Rows   uint16 `json:"rows,omitempty"`
	Cols   uint16 `json:"cols,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// ParseControl decodes a text frame and checks the type is known.
func ParseControl(data []byte) (ControlFrame, error) {
	var f ControlFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ControlFrame{}, fmt.Errorf("malformed control frame: %w", err)
	}
	switch f.Type {
	case ControlResize, ControlPing, ControlDimensions, ControlHistoryEnd, ControlPong, ControlClose:
		return f, nil
	default:
		return ControlFrame{}, fmt.Errorf("unknown control frame type %q", f.Type)
	}
}

// mustMarshal encodes a control frame. ControlFrame has no unmarshalable
// fields, so failure is a programming error.
func mustMarshal(f ControlFrame) []byte {
	data, err := json.Marshal(f)
	if err != nil {
		panic(err)
	}
	return data
}
