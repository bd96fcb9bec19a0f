package store

import (
	"context"

	"github.com/joescharf/xrev/internal/models"
)

// SessionFilter specifies filters for listing sessions.
type SessionFilter struct {
	State models.SessionState
	Limit int
}

// Store defines the persistence interface for xrev.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, s *models.ReviewSession) error
	GetSession(ctx context.Context, id string) (*models.ReviewSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]*models.ReviewSession, error)
	FinishSession(ctx context.Context, s *models.ReviewSession) error

	// Iterations
	AppendIteration(ctx context.Context, sessionID string, rec *models.IterationRecord) error
	ListIterations(ctx context.Context, sessionID string) ([]models.IterationRecord, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
