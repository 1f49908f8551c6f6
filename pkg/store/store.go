package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/salesloop/salesloop/pkg/model"
)

var (
	ErrNotFound = errors.New("record not found")

	// ErrVersionConflict means another worker advanced the run between
	// our read and write. The step attempt is abandoned, never retried
	// against stale state.
	ErrVersionConflict = errors.New("run version conflict")

	// ErrDuplicateTrigger means the (workflow, event) pair already has a
	// trigger receipt. Replayed events land here.
	ErrDuplicateTrigger = errors.New("event already consumed by workflow")
)

type WorkflowStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Workflow, error)
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]model.Workflow, int64, error)
	ListActiveByTrigger(ctx context.Context, trigger model.TriggerType) ([]model.Workflow, error)
	Save(ctx context.Context, workflow *model.Workflow) error
	// SetActive flips only the active flag so a toggle never races a
	// concurrent edit of the other columns.
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type RunStore interface {
	// CreateForTrigger atomically records the trigger receipt, creates
	// the run, and increments the workflow's execution count. Returns
	// ErrDuplicateTrigger if the event was already consumed.
	CreateForTrigger(ctx context.Context, run *model.WorkflowRun) error
	Get(ctx context.Context, id uuid.UUID) (*model.WorkflowRun, error)
	// CompareAndSwap writes the run back only if its stored version
	// still equals expectedVersion, bumping the version on success. A
	// non-nil outbox row is written in the same transaction so external
	// consumers never see a state change without its event.
	CompareAndSwap(ctx context.Context, run *model.WorkflowRun, expectedVersion int64, outbox *model.RunEvent) error
	ListDueWaiting(ctx context.Context, now time.Time, limit int) ([]model.WorkflowRun, error)
	List(ctx context.Context, workflowID uuid.UUID, status *model.RunStatus, limit, offset int) ([]model.WorkflowRun, int64, error)
}

type AuditFilter struct {
	WorkflowID *uuid.UUID
	RunID      *uuid.UUID
	Kind       *model.AuditKind
	Since      *time.Time
	Limit      int
}

type AuditLog interface {
	Append(ctx context.Context, entry *model.AuditEntry) error
	Query(ctx context.Context, filter AuditFilter) ([]model.AuditEntry, error)
}
