package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/salesloop/salesloop/pkg/model"
	"github.com/salesloop/salesloop/pkg/store"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// CreateForTrigger inserts the trigger receipt, the run, and the
// execution count bump in one transaction. The receipt's unique index
// on (workflow_id, event_id) is what makes event replay a no-op.
func (r *RunRepository) CreateForTrigger(ctx context.Context, run *model.WorkflowRun) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		receipt := model.TriggerReceipt{
			ID:         uuid.New(),
			WorkflowID: run.WorkflowID,
			EventID:    run.TriggeringEventID,
			RunID:      run.ID,
		}
		if err := tx.Create(&receipt).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return store.ErrDuplicateTrigger
			}
			return err
		}

		if err := tx.Create(run).Error; err != nil {
			return err
		}

		return tx.Model(&model.Workflow{}).
			Where("id = ?", run.WorkflowID).
			UpdateColumn("execution_count", gorm.Expr("execution_count + 1")).Error
	})
}

func (r *RunRepository) Get(ctx context.Context, id uuid.UUID) (*model.WorkflowRun, error) {
	var run model.WorkflowRun
	err := r.db.WithContext(ctx).First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *RunRepository) CompareAndSwap(ctx context.Context, run *model.WorkflowRun, expectedVersion int64, outbox *model.RunEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"cursor":              run.Cursor,
			"status":              run.Status,
			"scheduled_resume_at": run.ScheduledResumeAt,
			"step_results":        run.StepResults,
			"error_message":       run.ErrorMessage,
			"completed_at":        run.CompletedAt,
			"version":             expectedVersion + 1,
		}

		result := tx.Model(&model.WorkflowRun{}).
			Where("id = ? AND version = ?", run.ID, expectedVersion).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return store.ErrVersionConflict
		}
		run.Version = expectedVersion + 1

		if outbox != nil {
			if err := tx.Create(outbox).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *RunRepository) ListDueWaiting(ctx context.Context, now time.Time, limit int) ([]model.WorkflowRun, error) {
	if limit <= 0 {
		limit = 100
	}
	var runs []model.WorkflowRun
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_resume_at <= ?", model.RunWaiting, now).
		Order("scheduled_resume_at ASC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

func (r *RunRepository) List(ctx context.Context, workflowID uuid.UUID, status *model.RunStatus, limit, offset int) ([]model.WorkflowRun, int64, error) {
	var runs []model.WorkflowRun
	var total int64

	query := r.db.WithContext(ctx).Model(&model.WorkflowRun{})
	if workflowID != uuid.Nil {
		query = query.Where("workflow_id = ?", workflowID)
	}
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&runs).Error

	return runs, total, err
}
