package boards

import (
	"context"
	"log/slog"
	"sync"

	"sketchboard/pkg/canvas/hub"
	"sketchboard/pkg/presence"
)

// PresenceFactory returns the roster mirror for one board.
type PresenceFactory func(code string) presence.Store

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Logger *slog.Logger
	// Presence defaults to an in-memory mirror per board.
	Presence PresenceFactory
	// Hub is the template applied to every board's hub.
	Hub hub.Options
}

// Manager owns one running hub per active board. Board state lives as long
// as the process (or until the board is closed).
type Manager struct {
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *slog.Logger
	presence PresenceFactory
	hubOpts  hub.Options

	mu   sync.Mutex
	hubs map[string]*running
	// closed holds deleted board codes so a late request cannot revive them.
	closed map[string]struct{}
	wg     sync.WaitGroup
}

type running struct {
	hub    *hub.Hub
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(ctx context.Context, opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	factory := opts.Presence
	if factory == nil {
		factory = func(string) presence.Store { return presence.NewMemoryStore() }
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		presence: factory,
		hubOpts:  opts.Hub,
		hubs:     make(map[string]*running),
		closed:   make(map[string]struct{}),
	}
}

// HubForBoard returns the board's hub, starting it on first use. It returns
// nil for a closed board and after Shutdown.
func (m *Manager) HubForBoard(code string) *hub.Hub {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.hubs[code]; ok {
		return r.hub
	}
	if _, ok := m.closed[code]; ok || m.ctx.Err() != nil {
		return nil
	}

	logger := m.logger.With("board", code)
	mirror := presence.NewMirror(m.presence(code), logger)

	opts := m.hubOpts
	opts.Logger = logger
	opts.Coordinator.Logger = logger
	opts.Coordinator.OnRoster = mirror.Publish
	h := hub.New(opts)

	ctx, cancel := context.WithCancel(m.ctx)
	r := &running{hub: h, cancel: cancel, done: make(chan struct{})}
	m.hubs[code] = r

	var board sync.WaitGroup
	board.Add(2)
	go func() {
		defer board.Done()
		h.Run(ctx)
	}()
	go func() {
		defer board.Done()
		mirror.Run(ctx)
	}()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		board.Wait()
		close(r.done)
	}()

	logger.Info("board started")
	return h
}

// Close stops a board's hub, dropping its connections, its history and its
// presence entries. The code cannot be started again afterwards.
func (m *Manager) Close(code string) {
	m.mu.Lock()
	r, ok := m.hubs[code]
	delete(m.hubs, code)
	if code != Lobby {
		m.closed[code] = struct{}{}
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	r.cancel()
	<-r.done
	m.logger.Info("board closed", "board", code)
}

// Active is the number of running boards.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hubs)
}

// Shutdown stops every board and waits for their goroutines.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.cancel()
	clear(m.hubs)
	m.mu.Unlock()
	m.wg.Wait()
}
