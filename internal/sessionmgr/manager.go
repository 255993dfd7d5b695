// Package sessionmgr implements the Session Manager: a read-through cache of
// active sessions, agents, and recent turn history sitting in front of the
// persistent store, plus a background sweeper that evicts idle entries.
package sessionmgr

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxbridge/voxbridge/internal/domain"
	"github.com/voxbridge/voxbridge/internal/store"
)

const (
	defaultCacheTTL        = 15 * time.Minute
	defaultMaxTurns        = 20
	defaultCleanupInterval = 60 * time.Second
)

// entry is one session's cache slot. Its own mutex serializes turn-level
// mutations (append_turn, context reads during context build) independent
// of the manager's top-level map lock, so one session's store round trip
// never blocks another session's cache access.
type entry struct {
	mu         sync.Mutex
	session    domain.Session
	agent      domain.Agent
	turns      []domain.Turn
	lastActive time.Time
}

// Config tunes the Manager's cache behavior. Zero values fall back to
// defaults.
type Config struct {
	CacheTTL        time.Duration
	MaxTurns        int
	CleanupInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.MaxTurns <= 0 {
		c.MaxTurns = defaultMaxTurns
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = defaultCleanupInterval
	}
	return c
}

// Manager is the Session Manager. All exported methods are safe for
// concurrent use.
type Manager struct {
	store store.Store
	cfg   Config

	mu      sync.RWMutex
	entries map[string]*entry

	stopOnce sync.Once
	done     chan struct{}
}

// New returns a Manager backed by st and starts its background sweeper.
func New(ctx context.Context, st store.Store, cfg Config) *Manager {
	m := &Manager{
		store:   st,
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	go m.sweepLoop(ctx)
	return m
}

// GetOrCreate resolves an existing session by id, or creates a new one when
// sessionID is empty. A session already in the cache is returned as cached;
// otherwise its agent and recent turn history are loaded from the store into
// the cache.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, userID, agentID string, channel domain.ChannelType) (*domain.Session, error) {
	if sessionID == "" {
		return m.create(ctx, userID, agentID, channel)
	}

	if e, ok := m.lookup(sessionID); ok {
		e.mu.Lock()
		sess := e.session
		e.mu.Unlock()
		if sess.UserID != userID {
			return nil, domain.NewError(domain.KindOwnershipMismatch, "GetOrCreate", nil)
		}
		return &sess, nil
	}

	sess, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, domain.NewError(domain.KindSessionNotFound, "GetOrCreate", err)
		}
		return nil, domain.NewError(domain.KindStoreUnavailable, "GetOrCreate", err)
	}
	if sess.UserID != userID {
		return nil, domain.NewError(domain.KindOwnershipMismatch, "GetOrCreate", nil)
	}

	agent, err := m.store.GetAgent(ctx, sess.AgentID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, domain.NewError(domain.KindAgentNotFound, "GetOrCreate", err)
		}
		return nil, domain.NewError(domain.KindStoreUnavailable, "GetOrCreate", err)
	}

	turns, err := m.store.ListRecentTurns(ctx, sessionID, m.cfg.MaxTurns)
	if err != nil {
		slog.Warn("sessionmgr: turn history load failed, starting with empty context", "session_id", sessionID, "error", err)
		turns = nil
	}

	e := &entry{session: *sess, agent: *agent, turns: turns, lastActive: time.Now()}
	m.mu.Lock()
	m.entries[sessionID] = e
	m.mu.Unlock()

	return sess, nil
}

func (m *Manager) create(ctx context.Context, userID, agentID string, channel domain.ChannelType) (*domain.Session, error) {
	agent, err := m.store.GetAgent(ctx, agentID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, domain.NewError(domain.KindAgentNotFound, "GetOrCreate", err)
		}
		return nil, domain.NewError(domain.KindStoreUnavailable, "GetOrCreate", err)
	}

	now := time.Now()
	sess := &domain.Session{
		ID:          fmt.Sprintf("sess-%s-%d", userID, now.UnixNano()),
		UserID:      userID,
		AgentID:     agentID,
		ChannelType: channel,
		CreatedAt:   now,
		LastActive:  now,
		Active:      true,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, domain.NewError(domain.KindStoreUnavailable, "GetOrCreate", err)
	}

	e := &entry{session: *sess, agent: *agent, lastActive: now}
	m.mu.Lock()
	m.entries[sess.ID] = e
	m.mu.Unlock()

	return sess, nil
}

// GetAgent returns the agent owning sessionID, read-through from the cache.
func (m *Manager) GetAgent(ctx context.Context, sessionID string) (*domain.Agent, error) {
	e, ok := m.lookup(sessionID)
	if !ok {
		return nil, domain.NewError(domain.KindSessionNotFound, "GetAgent", nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	a := e.agent
	return &a, nil
}

// GetContext returns up to limit of the most recent turns for sessionID,
// oldest first.
func (m *Manager) GetContext(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	e, ok := m.lookup(sessionID)
	if !ok {
		return nil, domain.NewError(domain.KindSessionNotFound, "GetContext", nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	turns := e.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// AppendTurn appends t to sessionID's cache and persistent store. The store
// write happens while the entry's mutex is held, so context reads for the
// same session during the same turn observe a consistent view.
func (m *Manager) AppendTurn(ctx context.Context, sessionID string, t domain.Turn) (domain.Turn, error) {
	e, ok := m.lookup(sessionID)
	if !ok {
		return domain.Turn{}, domain.NewError(domain.KindSessionNotFound, "AppendTurn", nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	t.SessionID = sessionID
	if err := m.store.AppendTurn(ctx, &t); err != nil {
		return domain.Turn{}, domain.NewError(domain.KindStoreUnavailable, "AppendTurn", err)
	}
	e.turns = append(e.turns, t)
	if over := len(e.turns) - m.cfg.MaxTurns; over > 0 {
		e.turns = e.turns[over:]
	}
	e.lastActive = time.Now()
	return t, nil
}

// Touch refreshes sessionID's last-activity timestamp without a store round
// trip.
func (m *Manager) Touch(sessionID string) {
	if e, ok := m.lookup(sessionID); ok {
		e.mu.Lock()
		e.lastActive = time.Now()
		e.mu.Unlock()
	}
}

// End marks sessionID inactive and drops it from the cache. If persist is
// false, only the cache entry is dropped and the store is left untouched
// (used when the store write already happened, or the session never made it
// past an in-memory-only trial).
func (m *Manager) End(ctx context.Context, sessionID string, persist bool) error {
	m.mu.Lock()
	delete(m.entries, sessionID)
	m.mu.Unlock()

	if !persist {
		return nil
	}
	if err := m.store.MarkSessionInactive(ctx, sessionID); err != nil {
		if err == store.ErrNotFound {
			return domain.NewError(domain.KindSessionNotFound, "End", err)
		}
		return domain.NewError(domain.KindStoreUnavailable, "End", err)
	}
	return nil
}

// ListActive returns the session ids currently cached.
func (m *Manager) ListActive() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// Stop halts the background sweeper. Safe to call multiple times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.done) })
}

func (m *Manager) lookup(sessionID string) (*entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[sessionID]
	return e, ok
}

func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.cfg.CacheTTL)
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.entries {
		e.mu.Lock()
		idle := e.lastActive.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(m.entries, id)
		}
	}
}
