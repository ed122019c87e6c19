package presence

import (
	"context"
	"log/slog"
	"time"

	"sketchboard/pkg/canvas/protocol"
)

const writeTimeout = 3 * time.Second

// Mirror copies roster snapshots into a Store off the caller's goroutine.
// Only the newest pending snapshot is written.
type Mirror struct {
	store  Store
	latest chan map[string]protocol.Participant
	logger *slog.Logger
}

func NewMirror(store Store, logger *slog.Logger) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mirror{
		store:  store,
		latest: make(chan map[string]protocol.Participant, 1),
		logger: logger,
	}
}

// Publish never blocks. It must be called from a single goroutine.
func (m *Mirror) Publish(snapshot map[string]protocol.Participant) {
	for {
		select {
		case m.latest <- snapshot:
			return
		default:
		}
		select {
		case <-m.latest:
		default:
		}
	}
}

// Run resets the store, then writes published snapshots until ctx is done.
// The store is reset again on the way out so a stopped canvas leaves no
// stale roster behind.
func (m *Mirror) Run(ctx context.Context) {
	if err := m.write(ctx, nil); err != nil {
		m.logger.Warn("presence reset", "err", err)
	}
	for {
		select {
		case <-ctx.Done():
			if err := m.write(context.WithoutCancel(ctx), nil); err != nil {
				m.logger.Warn("presence reset on stop", "err", err)
			}
			return
		case snap := <-m.latest:
			if err := m.write(ctx, snap); err != nil {
				m.logger.Warn("presence mirror", "err", err)
			}
		}
	}
}

func (m *Mirror) write(ctx context.Context, snap map[string]protocol.Participant) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if snap == nil {
		return m.store.Reset(ctx)
	}
	return m.store.Replace(ctx, snap)
}
