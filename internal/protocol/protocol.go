// Package protocol defines the JSON wire messages exchanged with browser
// clients. Every frame is an object with a "type" tag plus its payload.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Client to server types
const (
	TypeJoin         = "join"
	TypeLeave        = "leave"
	TypeMessage      = "message"
	TypeCanvasDraw   = "canvas-draw"
	TypeCanvasClear  = "canvas-clear"
	TypeCanvasDelete = "canvas-delete"
	TypeCanvasUndo   = "canvas-undo"
	TypeCanvasRedo   = "canvas-redo"
	TypeCursorMove   = "cursor-move"
)

// Server to client types
const (
	TypeAuthenticated = "authenticated"
	TypeJoined        = "joined"
	TypeLeft          = "left"
	TypeCanvasState   = "canvas-state"
	TypeUserJoined    = "user-joined"
	TypeUserLeft      = "user-left"
	TypeError         = "error"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// ShapeKinds are the drawable primitives a canvas-draw shape may carry.
var ShapeKinds = map[string]bool{
	"rect":   true,
	"circle": true,
	"line":   true,
	"arrow":  true,
	"pen":    true,
	"eraser": true,
}

// Inbound is a decoded client frame. Only the fields of its Type are set.
type Inbound struct {
	Type         string            `json:"type"`
	RoomName     string            `json:"roomName,omitempty"`
	Message      string            `json:"message,omitempty"`
	Shape        json.RawMessage   `json:"shape,omitempty"`
	IsComplete   bool              `json:"isComplete,omitempty"`
	ShapeIndices []int             `json:"shapeIndices,omitempty"`
	Shapes       []json.RawMessage `json:"shapes,omitempty"`
	X            *float64          `json:"x,omitempty"`
	Y            *float64          `json:"y,omitempty"`
}

// Decode parses and validates a client frame.
func Decode(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch in.Type {
	case TypeJoin:
		if strings.TrimSpace(in.RoomName) == "" {
			return nil, fmt.Errorf("%w: room name is required", ErrMalformed)
		}
	case TypeMessage:
		if strings.TrimSpace(in.Message) == "" {
			return nil, fmt.Errorf("%w: message is required", ErrMalformed)
		}
	case TypeCanvasDraw:
		if err := validateShape(in.Shape); err != nil {
			return nil, err
		}
	case TypeCanvasDelete:
		if in.ShapeIndices == nil {
			return nil, fmt.Errorf("%w: shapeIndices is required", ErrMalformed)
		}
	case TypeCanvasUndo, TypeCanvasRedo:
		if in.Shapes == nil {
			return nil, fmt.Errorf("%w: shapes must be an array", ErrMalformed)
		}
	case TypeCursorMove:
		if in.X == nil || in.Y == nil {
			return nil, fmt.Errorf("%w: x and y are required", ErrMalformed)
		}
	case TypeLeave, TypeCanvasClear:
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, in.Type)
	}
	return &in, nil
}

func validateShape(raw json.RawMessage) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: shape is required", ErrMalformed)
	}
	var tagged struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return fmt.Errorf("%w: shape must be an object", ErrMalformed)
	}
	if !ShapeKinds[tagged.Type] {
		return fmt.Errorf("%w: unsupported shape %q", ErrMalformed, tagged.Type)
	}
	return nil
}

// Timestamp is milliseconds since the Unix epoch.
func Timestamp(t time.Time) int64 { return t.UnixMilli() }

// Outbound frames

type Authenticated struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
}

type Joined struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId"`
	RoomName  string `json:"roomName"`
	RoomOwner string `json:"roomOwner"`
	UserCount int    `json:"userCount"`
}

type Left struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

type CanvasState struct {
	Type   string            `json:"type"`
	RoomID string            `json:"roomId"`
	Shapes []json.RawMessage `json:"shapes"`
}

// Presence is user-joined or user-left.
type Presence struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	UserCount int    `json:"userCount"`
}

// Author identifies the sender of a mirrored event.
type Author struct {
	UserID    string `json:"userId"`
	UserEmail string `json:"userEmail"`
	Timestamp int64  `json:"timestamp"`
}

type CanvasDraw struct {
	Type       string          `json:"type"`
	Shape      json.RawMessage `json:"shape"`
	IsComplete bool            `json:"isComplete"`
	Author
}

type CanvasClear struct {
	Type string `json:"type"`
	Author
}

type CanvasDelete struct {
	Type         string `json:"type"`
	ShapeIndices []int  `json:"shapeIndices"`
	Author
}

// CanvasHistory is canvas-undo or canvas-redo.
type CanvasHistory struct {
	Type   string            `json:"type"`
	Shapes []json.RawMessage `json:"shapes"`
	Author
}

type CursorMove struct {
	Type     string  `json:"type"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	UserName string  `json:"userName"`
	Author
}

type ChatMessage struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	UserID    string    `json:"userId"`
	UserEmail string    `json:"userEmail"`
	CreatedAt time.Time `json:"createdAt"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Encode marshals an outbound frame.
func Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// ErrorFrame builds an encoded error frame.
func ErrorFrame(message string) []byte {
	data, _ := json.Marshal(Error{Type: TypeError, Message: message})
	return data
}
