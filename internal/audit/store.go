package audit

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// GormStore persists audit records to the relational database
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates the store and ensures the audit table exists
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("failed to migrate audit records: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Append inserts a batch of records. Records are append-only; there is no
// update or delete path.
func (s *GormStore) Append(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Create(records).Error; err != nil {
		return fmt.Errorf("failed to append audit records: %w", err)
	}
	return nil
}

// Recent returns the newest records for review tooling
func (s *GormStore) Recent(ctx context.Context, limit int) ([]*Record, error) {
	var records []*Record
	if err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return records, nil
}
