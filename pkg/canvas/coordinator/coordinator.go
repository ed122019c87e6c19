// Package coordinator owns the authoritative state of one shared canvas.
//
// Every state change (connects, disconnects, client events) and every read
// of that state goes through a single goroutine started by Run. Events are
// applied strictly in arrival order, which gives all participants the same
// total order of committed strokes without any locking around the history
// or the participant registry.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/ksuid"

	"sketchboard/pkg/canvas/history"
	"sketchboard/pkg/canvas/protocol"
	"sketchboard/pkg/canvas/registry"
)

const defaultQueueSize = 256

// ErrStopped is returned once Run has exited.
var ErrStopped = errors.New("coordinator stopped")

var (
	errEmptyPayload = errors.New("empty payload")
	errNotDrawing   = errors.New("finish without a stroke in progress")
)

// Transport delivers an encoded message to one connected participant. It is
// called from the coordinator goroutine and must not block.
type Transport interface {
	Send(id string, msg []byte)
}

// Options configures a Coordinator.
type Options struct {
	Logger *slog.Logger
	// Colors picks participant colors (defaults to registry.RandomColor).
	Colors registry.ColorFunc
	// StrokeID stamps committed strokes (defaults to a ksuid).
	StrokeID func() string
	Now      func() time.Time
	// OnRoster receives a detached participant snapshot after every roster
	// change. It runs on the coordinator goroutine and must not block.
	OnRoster  func(map[string]protocol.Participant)
	QueueSize int
}

// State is a consistent view of the canvas at one point in the event order.
type State struct {
	History      []protocol.Stroke
	Participants map[string]protocol.Participant
	RedoDepth    int
}

type eventKind int

const (
	eventConnect eventKind = iota
	eventDisconnect
	eventMessage
	eventQuery
)

type event struct {
	kind  eventKind
	id    string
	msg   protocol.Envelope
	query func()
}

// Coordinator serializes all mutations of one canvas.
type Coordinator struct {
	events    chan event
	done      chan struct{}
	transport Transport
	logger    *slog.Logger
	strokeID  func() string
	now       func() time.Time
	onRoster  func(map[string]protocol.Participant)

	// owned by the Run goroutine
	history  *history.Store
	registry *registry.Registry
	inflight map[string]*protocol.Stroke
}

// New builds a Coordinator that writes through transport. Call Run to start it.
func New(transport Transport, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	strokeID := opts.StrokeID
	if strokeID == nil {
		strokeID = func() string { return ksuid.New().String() }
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Coordinator{
		events:    make(chan event, size),
		done:      make(chan struct{}),
		transport: transport,
		logger:    logger,
		strokeID:  strokeID,
		now:       now,
		onRoster:  opts.OnRoster,
		history:   history.New(),
		registry:  registry.New(opts.Colors),
		inflight:  make(map[string]*protocol.Stroke),
	}
}

// Run applies queued events until ctx is canceled. It must be called once.
func (c *Coordinator) Run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.apply(ev)
		}
	}
}

// Done is closed when Run returns.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Connect queues a join for id.
func (c *Coordinator) Connect(ctx context.Context, id string) error {
	return c.enqueue(ctx, event{kind: eventConnect, id: id})
}

// Disconnect queues a leave for id. It is safe to call more than once.
func (c *Coordinator) Disconnect(ctx context.Context, id string) error {
	return c.enqueue(ctx, event{kind: eventDisconnect, id: id})
}

// Handle queues a client event sent by id.
func (c *Coordinator) Handle(ctx context.Context, id string, msg protocol.Envelope) error {
	return c.enqueue(ctx, event{kind: eventMessage, id: id, msg: msg})
}

// Snapshot returns the canvas state after every previously queued event.
func (c *Coordinator) Snapshot(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	q := func() {
		reply <- State{
			History:      c.history.History(),
			Participants: c.registry.Snapshot(),
			RedoDepth:    c.history.RedoLen(),
		}
	}
	if err := c.enqueue(ctx, event{kind: eventQuery, query: q}); err != nil {
		return State{}, err
	}
	select {
	case st := <-reply:
		return st, nil
	case <-c.done:
		return State{}, ErrStopped
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

func (c *Coordinator) enqueue(ctx context.Context, ev event) error {
	select {
	case <-c.done:
		return ErrStopped
	default:
	}
	select {
	case c.events <- ev:
		return nil
	case <-c.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) apply(ev event) {
	switch ev.kind {
	case eventConnect:
		c.join(ev.id)
	case eventDisconnect:
		c.leave(ev.id)
	case eventMessage:
		c.dispatch(ev.id, ev.msg)
	case eventQuery:
		ev.query()
	}
}

func (c *Coordinator) join(id string) {
	p := c.registry.Register(id)
	delete(c.inflight, id)

	c.send(id, protocol.TypeWelcome, protocol.Welcome{ID: id, Participant: p})
	c.send(id, protocol.TypeRedrawAll, c.history.History())
	c.publishRoster()
	c.logger.Info("participant joined", "peer", id, "participants", c.registry.Len(), "strokes", c.history.Len())
}

func (c *Coordinator) leave(id string) {
	if fl, ok := c.inflight[id]; ok {
		c.logger.Debug("discarding in-flight stroke", "peer", id, "points", len(fl.Points))
		delete(c.inflight, id)
	}
	if !c.registry.Contains(id) {
		return
	}
	c.registry.Unregister(id)
	c.publishRoster()
	c.logger.Info("participant left", "peer", id, "participants", c.registry.Len())
}

func (c *Coordinator) dispatch(id string, msg protocol.Envelope) {
	if !c.registry.Contains(id) {
		c.logger.Debug("event from unknown participant", "peer", id, "type", msg.Type)
		return
	}

	var err error
	switch msg.Type {
	case protocol.TypeCursorMove:
		err = c.cursorMove(id, msg)
	case protocol.TypeBeginStroke:
		err = c.beginStroke(id, msg)
	case protocol.TypeDrawing:
		err = c.drawSegment(id, msg)
	case protocol.TypeFinishAction:
		err = c.finishStroke(id, msg)
	case protocol.TypeUndo:
		if _, ok := c.history.Undo(); ok {
			c.replay()
		}
	case protocol.TypeRedo:
		if _, ok := c.history.Redo(); ok {
			c.replay()
		}
	case protocol.TypeClearCanvas:
		c.history.Clear()
		c.broadcast(protocol.TypeClearAll, nil, "")
		c.logger.Info("canvas cleared", "peer", id)
	case protocol.TypeSetUsername:
		err = c.rename(id, msg)
	default:
		c.logger.Debug("unknown event type", "peer", id, "type", msg.Type)
	}
	if err != nil {
		c.logger.Debug("dropping event", "peer", id, "type", msg.Type, "err", err)
	}
}

func (c *Coordinator) cursorMove(id string, msg protocol.Envelope) error {
	var cur protocol.Cursor
	if err := decode(msg, &cur); err != nil {
		return err
	}
	if err := cur.Validate(); err != nil {
		return err
	}
	p, ok := c.registry.UpdateCursor(id, *cur.X, *cur.Y)
	if !ok {
		return nil
	}
	c.broadcast(protocol.TypeCursorUpdate, p, id)
	return nil
}

func (c *Coordinator) beginStroke(id string, msg protocol.Envelope) error {
	var b protocol.Begin
	if err := decode(msg, &b); err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	c.inflight[id] = &protocol.Stroke{
		Points: []protocol.Point{{X: *b.X, Y: *b.Y}},
		Color:  b.Color,
		Width:  b.Width,
	}
	return nil
}

func (c *Coordinator) drawSegment(id string, msg protocol.Envelope) error {
	var seg protocol.Segment
	if err := decode(msg, &seg); err != nil {
		return err
	}
	if err := seg.Validate(); err != nil {
		return err
	}

	fl, ok := c.inflight[id]
	if !ok {
		fl = &protocol.Stroke{
			Points: []protocol.Point{seg.From()},
			Color:  seg.Color,
			Width:  seg.Width,
		}
		c.inflight[id] = fl
	}
	if len(fl.Points) < protocol.MaxStrokePoints {
		fl.Points = append(fl.Points, seg.To())
	}

	c.broadcast(protocol.TypeDrawing, seg, id)
	return nil
}

func (c *Coordinator) finishStroke(id string, msg protocol.Envelope) error {
	fl, ok := c.inflight[id]
	if !ok {
		return errNotDrawing
	}
	delete(c.inflight, id)

	var st protocol.Stroke
	if err := decode(msg, &st); err != nil && !errors.Is(err, errEmptyPayload) {
		return err
	}
	if len(st.Points) == 0 {
		st = *fl
	}

	st.ID = c.strokeID()
	st.Author = id
	st.CreatedAt = c.now().UTC()
	if err := c.history.Append(st); err != nil {
		return err
	}
	c.logger.Debug("stroke committed", "peer", id, "stroke", st.ID, "points", len(st.Points), "strokes", c.history.Len())
	return nil
}

func (c *Coordinator) rename(id string, msg protocol.Envelope) error {
	var r protocol.Rename
	if err := decode(msg, &r); err != nil {
		return err
	}
	if _, ok := c.registry.Rename(id, r.Username); !ok {
		return nil
	}
	c.publishRoster()
	return nil
}

func (c *Coordinator) replay() {
	c.broadcast(protocol.TypeRedrawAll, c.history.History(), "")
}

func (c *Coordinator) publishRoster() {
	snap := c.registry.Snapshot()
	c.broadcast(protocol.TypeUpdateUsers, snap, "")
	if c.onRoster != nil {
		c.onRoster(snap)
	}
}

func (c *Coordinator) send(id, eventType string, payload interface{}) {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		c.logger.Error("encode message", "type", eventType, "err", err)
		return
	}
	c.transport.Send(id, data)
}

// broadcast fans out to registered participants only, so a connection
// never sees traffic ordered before its own welcome.
func (c *Coordinator) broadcast(eventType string, payload interface{}, skipID string) {
	data, err := protocol.Encode(eventType, payload)
	if err != nil {
		c.logger.Error("encode broadcast", "type", eventType, "err", err)
		return
	}
	for _, id := range c.registry.IDs() {
		if id != skipID {
			c.transport.Send(id, data)
		}
	}
}

func decode(msg protocol.Envelope, v interface{}) error {
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return errEmptyPayload
	}
	return json.Unmarshal(msg.Data, v)
}
