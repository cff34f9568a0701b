package repository

import (
	"context"
	"time"

	"training-lab-control-plane/internal/quota/domain"
)

// Repository defines persistence for usage periods and plans.
type Repository interface {
	// Latest returns the most recent usage period for the user, or nil if none.
	Latest(ctx context.Context, userID string) (*domain.UsagePeriod, error)
	// Start persists a fresh usage period. No-op if the period already exists
	// (another instance rolled over concurrently).
	Start(ctx context.Context, p *domain.UsagePeriod) error
	// AddConsumption applies minutes to the user's current period, keyed by
	// sessionID. Returns false without changing anything when the session has
	// already been accounted.
	AddConsumption(ctx context.Context, userID, sessionID string, periodStart time.Time, minutes int, at time.Time) (bool, error)
	// GetPlan returns the plan by name, or nil if unknown.
	GetPlan(ctx context.Context, name string) (*domain.Plan, error)
}
