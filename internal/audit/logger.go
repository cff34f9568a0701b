// Package audit records control-plane actions for later review. Recording is
// best-effort; audit failures never fail the action being recorded.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"training-lab-control-plane/internal/audit/domain"
	auditrepo "training-lab-control-plane/internal/audit/repository"
)

// AuditLogger writes a single audit event with explicit action/resource.
type AuditLogger interface {
	LogEvent(ctx context.Context, actor, action, resource, resourceID, metadata string)
}

// Logger implements AuditLogger against the audit repository.
type Logger struct {
	repo auditrepo.Repository
}

func NewLogger(repo auditrepo.Repository) *Logger {
	return &Logger{repo: repo}
}

// LogEvent writes one audit entry. Errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, actor, action, resource, resourceID, metadata string) {
	if l.repo == nil {
		return
	}
	entry := &domain.AuditLog{
		ID:         uuid.New().String(),
		Actor:      actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if err := l.repo.Create(ctx, entry); err != nil {
		log.Printf("audit: failed to log event %s/%s: %v", action, resource, err)
	}
}
