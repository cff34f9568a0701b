package repository

import (
	"context"

	"training-lab-control-plane/internal/audit/domain"
)

type Repository interface {
	Create(ctx context.Context, entry *domain.AuditLog) error
	ListByActor(ctx context.Context, actor string, limit int) ([]*domain.AuditLog, error)
}
