package store

import (
	"context"
	"sync"

	"github.com/voxbridge/voxbridge/internal/domain"
)

// MemStore is an in-memory [Store], safe for concurrent use. It backs local
// development and the test suite when POSTGRES_DSN is unset.
type MemStore struct {
	mu       sync.RWMutex
	agents   map[string]domain.Agent
	sessions map[string]domain.Session
	turns    map[string][]domain.Turn
	nextTurn map[string]int64
}

// NewMemStore returns an empty, ready-to-use [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		agents:   make(map[string]domain.Agent),
		sessions: make(map[string]domain.Session),
		turns:    make(map[string][]domain.Turn),
		nextTurn: make(map[string]int64),
	}
}

// PutAgent seeds or replaces an agent record. Used by AGENT_SEED_FILE loading
// and tests; not part of the [Store] interface since agent CRUD is out of
// scope for the core.
func (m *MemStore) PutAgent(a domain.Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
}

func (m *MemStore) GetAgent(_ context.Context, agentID string) (*domain.Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentID]
	if !ok {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *MemStore) GetSession(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (m *MemStore) CreateSession(_ context.Context, s *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[s.ID]; exists {
		// Idempotent create: mirror the Postgres duplicate-key behavior of
		// silently succeeding on a matching id rather than erroring.
		return nil
	}
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemStore) MarkSessionInactive(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	s.Active = false
	m.sessions[sessionID] = s
	return nil
}

func (m *MemStore) AppendTurn(_ context.Context, t *domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTurn[t.SessionID]++
	t.ID = m.nextTurn[t.SessionID]
	m.turns[t.SessionID] = append(m.turns[t.SessionID], *t)
	return nil
}

func (m *MemStore) ListRecentTurns(_ context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.turns[sessionID]
	if limit <= 0 || limit >= len(all) {
		out := make([]domain.Turn, len(all))
		copy(out, all)
		return out, nil
	}
	out := make([]domain.Turn, limit)
	copy(out, all[len(all)-limit:])
	return out, nil
}
