package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"legalease/internal/logging"
	"legalease/internal/redis"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Manager owns the live sessions of this portal instance, one per visitor.
type Manager struct {
	store  *Store
	asker  Asker
	cache  *stateRedis
	origin string

	mu        sync.Mutex
	sessions  map[string]*Session
	listeners []func(Snapshot)
}

func NewManager(store *Store, asker Asker, rdb *redis.Client) *Manager {
	return &Manager{
		store:    store,
		asker:    asker,
		cache:    newStateCache(rdb),
		origin:   uuid.NewString(),
		sessions: make(map[string]*Session),
	}
}

// Start listens for sessions reset on other instances until ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	return m.cache.startListener(ctx, func(msg invalidateMessage) {
		if msg.Origin == m.origin {
			return
		}
		m.Purge(msg.SessionID)
	})
}

// OnChange registers fn for every change of every session. Register before serving.
func (m *Manager) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Get returns the live session for id, restoring it from cache or storage.
func (m *Manager) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id is required")
	}
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s, err := m.restore(ctx, id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	listeners := make([]func(Snapshot), len(m.listeners))
	copy(listeners, m.listeners)
	s.Subscribe(func(snap Snapshot) {
		m.cache.cacheSnapshot(context.Background(), snap)
		for _, fn := range listeners {
			fn(snap)
		}
	})
	m.sessions[id] = s
	return s, nil
}

func (m *Manager) restore(ctx context.Context, id string) (*Session, error) {
	opts := []Option{WithRecorder(m.store)}
	if cached, ok := m.cache.loadSession(ctx, id); ok {
		// the row must exist for the recorder even when the log comes from cache
		if _, err := m.store.EnsureSession(ctx, id); err != nil {
			return nil, err
		}
		s := NewSession(id, m.asker, append(opts, WithHistory(cached.Title, cached.Messages))...)
		s.input = cached.Input
		return s, nil
	}

	if _, err := m.store.EnsureSession(ctx, id); err != nil {
		return nil, err
	}
	record, messages, err := m.store.LoadSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return NewSession(id, m.asker, append(opts, WithHistory(record.Title, messages))...), nil
}

// Purge drops the in-memory session; the next Get restores it.
func (m *Manager) Purge(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Reset deletes a conversation everywhere. A session with an outstanding
// exchange cannot be reset. The live session is retired before anything is deleted.
func (m *Manager) Reset(ctx context.Context, id string) error {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		if !s.retire() {
			m.mu.Unlock()
			return ErrInFlight
		}
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if err := m.store.DeleteSession(ctx, id); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	m.cache.invalidateSession(ctx, id)
	m.cache.publishInvalidation(ctx, invalidateMessage{SessionID: id, Origin: m.origin})
	logging.WithCtx(ctx).Info("conversation reset", zap.String("session_id", id))
	return nil
}
