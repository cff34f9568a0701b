package repository

import (
	"context"
	"time"

	"training-lab-control-plane/internal/session/domain"
)

// ListFilter narrows admin session listings. Search substring-matches the
// user id and the session id.
type ListFilter struct {
	Status string
	Search string
	Limit  int
}

type Repository interface {
	// Create inserts the session only while the user holds fewer than
	// maxActive non-terminal sessions. Returns false when the cap is hit.
	Create(ctx context.Context, s *domain.Session, maxActive int) (bool, error)

	// GetByID returns the session, nil when it does not exist.
	GetByID(ctx context.Context, id string) (*domain.Session, error)

	// ListByUser returns the user's sessions, newest first. terminalOnly
	// restricts to finished sessions for history views.
	ListByUser(ctx context.Context, userID string, terminalOnly bool) ([]*domain.Session, error)

	// ListAdmin returns sessions across users per the filter.
	ListAdmin(ctx context.Context, f ListFilter) ([]*domain.Session, error)

	// ListExpired returns non-terminal sessions whose expiry has passed.
	ListExpired(ctx context.Context, now time.Time) ([]*domain.Session, error)

	// ListActive returns sessions in READY or ACTIVE, for idle checks.
	ListActive(ctx context.Context) ([]*domain.Session, error)

	// Each transition below applies only from its valid predecessor
	// states and reports whether it took effect.
	MarkProvisioning(ctx context.Context, id, instanceID, instanceIP, connectionID string) (bool, error)
	MarkReady(ctx context.Context, id string) (bool, error)
	MarkActive(ctx context.Context, id string) (bool, error)
	BeginTermination(ctx context.Context, id, reason string) (bool, error)
	FinalizeTermination(ctx context.Context, id string, at time.Time) (bool, error)
	MarkError(ctx context.Context, id, code, message string) (bool, error)

	// SetIdleWarning stamps the idle warning once; it reports false when
	// a warning is already set or the session left READY/ACTIVE.
	SetIdleWarning(ctx context.Context, id string, at time.Time) (bool, error)
}
