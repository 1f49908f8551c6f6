package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/salesloop/salesloop/pkg/model"
	"github.com/salesloop/salesloop/pkg/store"
)

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry *model.AuditEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *AuditRepository) Query(ctx context.Context, filter store.AuditFilter) ([]model.AuditEntry, error) {
	query := r.db.WithContext(ctx).Model(&model.AuditEntry{})

	if filter.WorkflowID != nil {
		query = query.Where("workflow_id = ?", *filter.WorkflowID)
	}
	if filter.RunID != nil {
		query = query.Where("run_id = ?", *filter.RunID)
	}
	if filter.Kind != nil {
		query = query.Where("kind = ?", *filter.Kind)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	var entries []model.AuditEntry
	err := query.
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}
