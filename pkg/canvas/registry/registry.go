// Package registry tracks the participants connected to one canvas.
package registry

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode/utf8"

	"sketchboard/pkg/canvas/protocol"
)

const guestPrefix = "Guest-"

// ColorFunc picks a participant color.
type ColorFunc func() string

// Registry maps participant ids to their live state. Like history.Store it
// is owned by a single goroutine and does no locking.
type Registry struct {
	participants map[string]*protocol.Participant
	color        ColorFunc
}

// New builds a Registry. A nil color func draws uniformly from the
// 24-bit RGB space.
func New(color ColorFunc) *Registry {
	if color == nil {
		color = RandomColor
	}
	return &Registry{
		participants: make(map[string]*protocol.Participant),
		color:        color,
	}
}

// RandomColor returns a random #RRGGBB value.
func RandomColor() string {
	return fmt.Sprintf("#%06X", rand.Intn(1<<24))
}

// DefaultName derives a display name from a participant id.
func DefaultName(id string) string {
	short := id
	if len(short) > 4 {
		short = short[:4]
	}
	return guestPrefix + short
}

// Register adds (or resets) a participant with a fresh color at the origin.
func (r *Registry) Register(id string) protocol.Participant {
	p := &protocol.Participant{
		ID:       id,
		Username: DefaultName(id),
		Color:    r.color(),
	}
	r.participants[id] = p
	return *p
}

// UpdateCursor overwrites the participant's position. ok is false for an
// unknown id.
func (r *Registry) UpdateCursor(id string, x, y float64) (protocol.Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return protocol.Participant{}, false
	}
	p.X, p.Y = x, y
	return *p, true
}

// Rename sets a display name. An empty name restores the derived one.
func (r *Registry) Rename(id, name string) (protocol.Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return protocol.Participant{}, false
	}
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > protocol.MaxUsernameLen {
		name = string([]rune(name)[:protocol.MaxUsernameLen])
	}
	if name == "" {
		name = DefaultName(id)
	}
	p.Username = name
	return *p, true
}

// Unregister removes a participant. Removing an unknown id is a no-op.
func (r *Registry) Unregister(id string) {
	delete(r.participants, id)
}

// Get returns a copy of one participant.
func (r *Registry) Get(id string) (protocol.Participant, bool) {
	p, ok := r.participants[id]
	if !ok {
		return protocol.Participant{}, false
	}
	return *p, true
}

// Contains reports whether id is registered.
func (r *Registry) Contains(id string) bool {
	_, ok := r.participants[id]
	return ok
}

// Len is the number of registered participants.
func (r *Registry) Len() int { return len(r.participants) }

// Snapshot returns a detached copy safe to hand to other goroutines.
func (r *Registry) Snapshot() map[string]protocol.Participant {
	out := make(map[string]protocol.Participant, len(r.participants))
	for id, p := range r.participants {
		out[id] = *p
	}
	return out
}

// IDs returns the registered ids in no particular order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	return ids
}
