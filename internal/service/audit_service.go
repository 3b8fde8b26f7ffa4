package service

import (
	"context"

	"github.com/unboundops/be-cmd-gateway/internal/platform/database"
	"github.com/unboundops/be-cmd-gateway/internal/repository"
)

// AuditService reads the audit trail. There is deliberately no write surface
// here: entries are appended by the services that perform the state changes,
// inside the same transactions.
type AuditService struct {
	db        *database.DB
	auditRepo *repository.AuditRepository
}

// NewAuditService creates a new audit service.
func NewAuditService(db *database.DB, auditRepo *repository.AuditRepository) *AuditService {
	return &AuditService{db: db, auditRepo: auditRepo}
}

// ListEntries returns audit entries newest-first.
func (s *AuditService) ListEntries(ctx context.Context, filter repository.AuditFilter) ([]*repository.AuditLogEntry, error) {
	return s.auditRepo.List(ctx, s.db, filter)
}

// GetEntry retrieves one audit entry.
func (s *AuditService) GetEntry(ctx context.Context, id string) (*repository.AuditLogEntry, error) {
	return s.auditRepo.GetByID(ctx, s.db, id)
}
