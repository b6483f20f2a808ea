// Package session tracks one reconciler per open chat room and wires
// its change feed into the viewer hub.
package session

import (
	"context"
	"sync"

	"github.com/roomline/roomline/internal/backend"
	"github.com/roomline/roomline/internal/model"
	"github.com/roomline/roomline/internal/reconcile"
	"github.com/roomline/roomline/internal/ws"
	logger "github.com/roomline/roomline/middleware/log"
)

// Manager opens and closes room sessions. Each open room has exactly
// one reconciler owning its list and one channel subscription.
type Manager struct {
	querier  backend.Querier
	channel  backend.Channel
	writer   backend.DurableWriter
	identity backend.Identity
	hub      *ws.Hub
	log      *logger.Logger
	opts     reconcile.Options

	mu    sync.Mutex
	rooms map[string]*reconcile.Reconciler
}

func NewManager(
	querier backend.Querier,
	channel backend.Channel,
	writer backend.DurableWriter,
	identity backend.Identity,
	hub *ws.Hub,
	log *logger.Logger,
	opts reconcile.Options,
) *Manager {
	return &Manager{
		querier:  querier,
		channel:  channel,
		writer:   writer,
		identity: identity,
		hub:      hub,
		log:      log,
		opts:     opts,
		rooms:    make(map[string]*reconcile.Reconciler),
	}
}

// Open returns the room's reconciler, creating the session on first
// use: initial load, change feed into the hub, then the realtime
// subscription.
func (m *Manager) Open(ctx context.Context, topicID string) (*reconcile.Reconciler, error) {
	m.mu.Lock()
	if rec, ok := m.rooms[topicID]; ok {
		m.mu.Unlock()
		return rec, nil
	}
	m.mu.Unlock()

	rec := reconcile.New(m.querier, m.channel, m.writer, m.identity, m.log, m.opts)

	if _, err := rec.LoadInitial(ctx, topicID); err != nil {
		rec.Close()
		return nil, err
	}
	if m.hub != nil {
		rec.SetOnChange(func(messages []model.Message) {
			m.hub.Broadcast(topicID, messages)
		})
	}
	if err := rec.OpenChannel(ctx, topicID); err != nil {
		rec.Close()
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.rooms[topicID]; ok {
		// Lost the race to another opener.
		rec.Close()
		return existing, nil
	}
	m.rooms[topicID] = rec
	return rec, nil
}

// Get returns the reconciler of an already open room.
func (m *Manager) Get(topicID string) (*reconcile.Reconciler, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rooms[topicID]
	return rec, ok
}

// CloseRoom tears the room session down, releasing its subscription
// and discarding its list. Closing an unopened room is a no-op.
func (m *Manager) CloseRoom(topicID string) {
	m.mu.Lock()
	rec, ok := m.rooms[topicID]
	delete(m.rooms, topicID)
	m.mu.Unlock()

	if ok {
		rec.Close()
	}
}

// CloseAll tears down every open session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*reconcile.Reconciler)
	m.mu.Unlock()

	for _, rec := range rooms {
		rec.Close()
	}
}
