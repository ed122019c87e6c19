package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"time"
)

// Client -> server event names.
const (
	TypeCursorMove   = "cursor_move"
	TypeBeginStroke  = "begin_stroke"
	TypeDrawing      = "drawing"
	TypeFinishAction = "finish_action"
	TypeUndo         = "undo"
	TypeRedo         = "redo"
	TypeClearCanvas  = "clear_canvas"
	TypeSetUsername  = "set_username"
)

// Server -> client event names. TypeDrawing is echoed back unchanged.
const (
	TypeWelcome      = "welcome"
	TypeUpdateUsers  = "update_users"
	TypeCursorUpdate = "cursor_update"
	TypeRedrawAll    = "redraw_all"
	TypeClearAll     = "clear_all"
)

const (
	MaxStrokeWidth  = 200
	MaxStrokePoints = 10000
	MaxUsernameLen  = 32
)

var (
	ErrMissingColor  = errors.New("missing color")
	ErrBadColor      = errors.New("color is not a hex value")
	ErrBadWidth      = errors.New("width must be a positive number")
	ErrBadPoint      = errors.New("point coordinates must be finite")
	ErrTooFewPoints  = errors.New("stroke needs at least two points")
	ErrTooManyPoints = errors.New("stroke has too many points")
)

var hexColor = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Envelope wraps every message on the socket in both directions.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Encode marshals an outbound envelope with the given payload.
func Encode(eventType string, payload interface{}) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Point is a canvas coordinate, carried on the wire as [x, y].
type Point struct {
	X float64
	Y float64
}

func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.X, p.Y})
}

func (p *Point) UnmarshalJSON(data []byte) error {
	var xy []float64
	if err := json.Unmarshal(data, &xy); err != nil {
		return err
	}
	if len(xy) != 2 {
		return fmt.Errorf("point needs 2 coordinates, got %d", len(xy))
	}
	p.X, p.Y = xy[0], xy[1]
	return nil
}

func (p Point) valid() bool {
	return finite(p.X) && finite(p.Y)
}

// Stroke is one completed line. It is never mutated once committed.
type Stroke struct {
	ID        string    `json:"id,omitempty"`
	Author    string    `json:"author,omitempty"`
	Points    []Point   `json:"points"`
	Color     string    `json:"color"`
	Width     float64   `json:"width"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
}

// Validate reports why a stroke cannot enter history, or nil.
func (s Stroke) Validate() error {
	if err := ValidateStyle(s.Color, s.Width); err != nil {
		return err
	}
	if len(s.Points) < 2 {
		return ErrTooFewPoints
	}
	if len(s.Points) > MaxStrokePoints {
		return ErrTooManyPoints
	}
	for _, p := range s.Points {
		if !p.valid() {
			return ErrBadPoint
		}
	}
	return nil
}

// Segment is a live-preview piece of an in-flight stroke.
type Segment struct {
	X0    *float64 `json:"x0"`
	Y0    *float64 `json:"y0"`
	X1    *float64 `json:"x1"`
	Y1    *float64 `json:"y1"`
	Color string   `json:"color"`
	Width float64  `json:"width"`
}

// Validate checks all four endpoints are present and finite.
func (s Segment) Validate() error {
	for _, v := range []*float64{s.X0, s.Y0, s.X1, s.Y1} {
		if v == nil || !finite(*v) {
			return ErrBadPoint
		}
	}
	return ValidateStyle(s.Color, s.Width)
}

// From returns the start endpoint. Only valid after Validate.
func (s Segment) From() Point { return Point{X: *s.X0, Y: *s.Y0} }

// To returns the end endpoint. Only valid after Validate.
func (s Segment) To() Point { return Point{X: *s.X1, Y: *s.Y1} }

// Begin marks a pointer-down.
type Begin struct {
	X     *float64 `json:"x"`
	Y     *float64 `json:"y"`
	Color string   `json:"color"`
	Width float64  `json:"width"`
}

func (b Begin) Validate() error {
	if b.X == nil || b.Y == nil || !finite(*b.X) || !finite(*b.Y) {
		return ErrBadPoint
	}
	return ValidateStyle(b.Color, b.Width)
}

// Cursor is a pointer position report.
type Cursor struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

func (c Cursor) Validate() error {
	if c.X == nil || c.Y == nil || !finite(*c.X) || !finite(*c.Y) {
		return ErrBadPoint
	}
	return nil
}

// Rename carries a requested display name.
type Rename struct {
	Username string `json:"username"`
}

// Participant is one connected user as seen by every client.
type Participant struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	Color    string  `json:"color"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// Welcome tells a joining client who it is.
type Welcome struct {
	ID          string      `json:"id"`
	Participant Participant `json:"participant"`
}

// ValidateStyle checks a color/width pair.
func ValidateStyle(color string, width float64) error {
	if color == "" {
		return ErrMissingColor
	}
	if !hexColor.MatchString(color) {
		return ErrBadColor
	}
	if !finite(width) || width <= 0 || width > MaxStrokeWidth {
		return ErrBadWidth
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
