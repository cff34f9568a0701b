package repository

import (
	"context"

	"training-lab-control-plane/internal/pool/domain"
)

type Repository interface {
	// GetConfig returns the pool configuration for a tier, nil when the
	// tier is unknown.
	GetConfig(ctx context.Context, tier string) (*domain.Config, error)
	ListConfigs(ctx context.Context) ([]*domain.Config, error)

	// ClaimWarm atomically moves one warm instance of the tier to
	// assigned and returns it. Returns nil when no warm instance exists.
	ClaimWarm(ctx context.Context, tier string) (*domain.Instance, error)

	// CountByStatus reports warm and assigned counts for a tier.
	CountByStatus(ctx context.Context, tier string) (warm, assigned int, err error)

	Insert(ctx context.Context, inst *domain.Instance) error

	// ReleaseToWarm moves an assigned instance back to warm. Returns
	// false when the instance was not in assigned state.
	ReleaseToWarm(ctx context.Context, instanceID string) (bool, error)

	// MarkTerminating moves an assigned instance to terminating. Returns
	// false when the instance was not in assigned state.
	MarkTerminating(ctx context.Context, instanceID string) (bool, error)

	Remove(ctx context.Context, instanceID string) error
	ListByTier(ctx context.Context, tier string) ([]*domain.Instance, error)
}
