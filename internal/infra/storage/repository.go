package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tellerhq/teller/internal/core/domain"
)

var (
	// ErrAuditNotFound is returned when no audit record matches
	ErrAuditNotFound = errors.New("audit record not found")
)

// AuditRepository persists executed-transfer audit records
type AuditRepository interface {
	// Save stores an audit record
	Save(ctx context.Context, rec *domain.AuditRecord) error

	// GetBySession retrieves the audit record for a staging session
	GetBySession(ctx context.Context, sessionID string) (*domain.AuditRecord, error)

	// List retrieves the most recent audit records
	List(ctx context.Context, limit int) ([]*domain.AuditRecord, error)

	// DeleteOlderThan removes audit records submitted before cutoff
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
