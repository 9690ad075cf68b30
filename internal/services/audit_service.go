package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/crowdlinkhq/crowdlink/internal/models"
)

// AuditEntry captures a single deletion-lifecycle event to persist.
type AuditEntry struct {
	RequestID string
	Action    string
	UserID    *string
	Metadata  map[string]any
}

// AuditService appends and reads deletion audit entries. Entries are
// append-only rows in their own table; nothing here updates or rewrites them.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Append stores an audit entry using the service's own handle.
func (s *AuditService) Append(ctx context.Context, entry AuditEntry) error {
	return s.AppendTx(s.db.WithContext(ensureContext(ctx)), entry)
}

// AppendTx stores an audit entry on the supplied handle, so callers can make
// the append part of a surrounding transaction.
func (s *AuditService) AppendTx(tx *gorm.DB, entry AuditEntry) error {
	if tx == nil {
		return errors.New("audit service: tx is required")
	}
	if strings.TrimSpace(entry.RequestID) == "" {
		return errors.New("audit service: request id is required")
	}
	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}

	record := models.DeletionAuditEntry{
		RequestID: strings.TrimSpace(entry.RequestID),
		Action:    strings.TrimSpace(entry.Action),
	}

	if entry.UserID != nil && strings.TrimSpace(*entry.UserID) != "" {
		id := strings.TrimSpace(*entry.UserID)
		record.UserID = &id
	}

	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		record.Metadata = datatypes.JSON(encoded)
	}

	return tx.Create(&record).Error
}

// List returns the audit trail for a request in append order.
func (s *AuditService) List(ctx context.Context, requestID string) ([]models.DeletionAuditEntry, error) {
	ctx = ensureContext(ctx)

	if strings.TrimSpace(requestID) == "" {
		return nil, errors.New("audit service: request id is required")
	}

	var entries []models.DeletionAuditEntry
	if err := s.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("audit service: list entries: %w", err)
	}
	return entries, nil
}
