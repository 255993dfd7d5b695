// Package store defines the persistent state interface VoxBridge expects of
// its external store (SPEC_FULL.md §6 "Persistent state layout"), along with
// an in-memory implementation and a PostgreSQL implementation.
package store

import (
	"context"
	"errors"

	"github.com/voxbridge/voxbridge/internal/domain"
)

// ErrNotFound is returned by Get* methods when no record exists for the
// given id.
var ErrNotFound = errors.New("store: not found")

// Store is the abstract persistent state interface consumed by the core.
// No schema-specific details are exposed to callers.
type Store interface {
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	CreateSession(ctx context.Context, s *domain.Session) error
	MarkSessionInactive(ctx context.Context, sessionID string) error
	AppendTurn(ctx context.Context, t *domain.Turn) error
	ListRecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
}
