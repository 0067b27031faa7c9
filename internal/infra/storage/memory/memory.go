package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tellerhq/teller/internal/core/domain"
	"github.com/tellerhq/teller/internal/infra/storage"
)

// AuditRepo is an in-memory storage.AuditRepository, used when no
// database is configured and in tests.
type AuditRepo struct {
	mu      sync.RWMutex
	records map[string]*domain.AuditRecord // keyed by session ID
}

// NewAuditRepo creates an empty in-memory audit repository.
func NewAuditRepo() *AuditRepo {
	return &AuditRepo{records: make(map[string]*domain.AuditRecord)}
}

func (r *AuditRepo) Save(ctx context.Context, rec *domain.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.records[rec.SessionID] = &cp
	return nil
}

func (r *AuditRepo) GetBySession(ctx context.Context, sessionID string) (*domain.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[sessionID]
	if !ok {
		return nil, storage.ErrAuditNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *AuditRepo) List(ctx context.Context, limit int) ([]*domain.AuditRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	records := make([]*domain.AuditRecord, 0, len(r.records))
	for _, rec := range r.records {
		cp := *rec
		records = append(records, &cp)
	}
	// Newest first
	sort.Slice(records, func(i, j int) bool {
		return records[i].SubmittedAt.After(records[j].SubmittedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (r *AuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for id, rec := range r.records {
		if rec.SubmittedAt.Before(cutoff) {
			delete(r.records, id)
			deleted++
		}
	}
	return deleted, nil
}
