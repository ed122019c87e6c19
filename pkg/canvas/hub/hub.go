package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sketchboard/pkg/canvas/coordinator"
	"sketchboard/pkg/canvas/protocol"
)

const (
	defaultReadLimit   = 512 * 1024
	defaultSendBuffer  = 256
	pingInterval       = 40 * time.Second
	pongWait           = 60 * time.Second
	writeTimeout       = 10 * time.Second
	upgradeReadBuffer  = 1024
	upgradeWriteBuffer = 1024
)

// Options configures a Hub instance.
type Options struct {
	Logger   *slog.Logger
	Upgrader *websocket.Upgrader
	// SendBuffer is the per-connection outbound queue length. A client that
	// falls this far behind is disconnected.
	SendBuffer  int
	Coordinator coordinator.Options
}

// ConnOptions controls how a connection is registered.
type ConnOptions struct {
	// ID overrides the generated participant ID.
	ID string
	// Context lets the caller cancel the connection (defaults to Background).
	Context context.Context
}

// Hub manages the WebSocket connections of one canvas and relays their
// events into its coordinator.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*client
	coord      *coordinator.Coordinator
	upgrader   websocket.Upgrader
	logger     *slog.Logger
	sendBuffer int
}

type client struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds a Hub and its coordinator. Call Run to start processing.
func New(opts Options) *Hub {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  upgradeReadBuffer,
		WriteBufferSize: upgradeWriteBuffer,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
	if opts.Upgrader != nil {
		upgrader = *opts.Upgrader
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sendBuffer := opts.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}

	h := &Hub{
		clients:    make(map[string]*client),
		upgrader:   upgrader,
		logger:     logger,
		sendBuffer: sendBuffer,
	}
	copts := opts.Coordinator
	if copts.Logger == nil {
		copts.Logger = logger
	}
	h.coord = coordinator.New(h, copts)
	return h
}

// Run drives the coordinator until ctx is canceled, then drops every
// remaining connection.
func (h *Hub) Run(ctx context.Context) {
	h.coord.Run(ctx)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, cl := range h.clients {
		cl.cancel()
	}
}

// Coordinator exposes the canvas state owner, e.g. for read-only views.
func (h *Hub) Coordinator() *coordinator.Coordinator {
	return h.coord
}

// Len is the number of open connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HTTPHandler upgrades HTTP connections and registers them with the Hub.
func (h *Hub) HTTPHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Warn("upgrade error", "err", err)
			return
		}
		// Use a background context so the connection isn't canceled when the HTTP handler returns.
		if err := h.Accept(conn, ConnOptions{}); err != nil {
			h.logger.Warn("accept error", "err", err)
			conn.Close()
		}
	})
}

// Accept registers an already-upgraded WebSocket connection.
func (h *Hub) Accept(conn *websocket.Conn, opts ConnOptions) error {
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	c := &client{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, h.sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := h.register(ctx, c); err != nil {
		cancel()
		return err
	}

	go c.writePump()
	go c.readPump(h)
	return nil
}

func (h *Hub) register(ctx context.Context, c *client) error {
	h.mu.Lock()
	if _, exists := h.clients[c.id]; exists {
		h.mu.Unlock()
		return errors.New("duplicate participant id " + c.id)
	}
	h.clients[c.id] = c
	h.mu.Unlock()

	if err := h.coord.Connect(ctx, c.id); err != nil {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		return err
	}
	h.logger.Debug("ws: registered", "peer", c.id)
	return nil
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c.id)
	close(c.send)
	h.mu.Unlock()

	if err := h.coord.Disconnect(context.Background(), c.id); err != nil && !errors.Is(err, coordinator.ErrStopped) {
		h.logger.Warn("disconnect", "peer", c.id, "err", err)
	}
	h.logger.Debug("ws: unregistered", "peer", c.id)
}

// Send implements coordinator.Transport.
func (h *Hub) Send(id string, msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if cl := h.clients[id]; cl != nil {
		h.enqueue(cl, msg)
	}
}

// enqueue must be called with h.mu held. A client whose buffer is full is
// dropped; it rejoins with a full replay instead of silently diverging.
// Messages for a client already being dropped are discarded quietly.
func (h *Hub) enqueue(cl *client, msg []byte) {
	if cl.ctx.Err() != nil {
		return
	}
	select {
	case cl.send <- msg:
	default:
		h.logger.Warn("client send buffer full, disconnecting", "peer", cl.id)
		cl.cancel()
	}
}

func (c *client) readPump(h *Hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
		c.cancel()
	}()

	c.conn.SetReadLimit(defaultReadLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// ReadMessage doesn't observe ctx; closing the conn unblocks it.
	go func() {
		<-c.ctx.Done()
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) || c.ctx.Err() != nil {
				return
			}
			if !errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug("read error", "peer", c.id, "err", err)
			}
			return
		}

		var msg protocol.Envelope
		if err := json.Unmarshal(data, &msg); err != nil {
			h.logger.Debug("bad payload", "peer", c.id, "err", err)
			continue
		}
		if err := h.coord.Handle(c.ctx, c.id, msg); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.cancel()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				return
			}
		}
	}
}
