package model

import (
	"time"

	"github.com/google/uuid"
)

type AuditKind string

const (
	AuditTriggerMatched AuditKind = "trigger_matched"
	AuditRunStarted     AuditKind = "run_started"
	AuditRunResumed     AuditKind = "run_resumed"
	AuditStepCompleted  AuditKind = "step_completed"
	AuditStepSuspended  AuditKind = "step_suspended"
	AuditStepFailed     AuditKind = "step_failed"
	AuditRunCompleted   AuditKind = "run_completed"
	AuditRunFailed      AuditKind = "run_failed"
	AuditRunCancelled   AuditKind = "run_cancelled"
)

// AuditEntry is the append-only record of everything the engine did and
// why. Entries are written before a transition is considered durable
// and are never deleted.
type AuditEntry struct {
	ID         uint64     `gorm:"primaryKey;autoIncrement"`
	Kind       AuditKind  `gorm:"type:varchar(50);not null;index"`
	WorkflowID uuid.UUID  `gorm:"type:uuid;not null;index:idx_audit_workflow_time"`
	RunID      *uuid.UUID `gorm:"type:uuid;index"`
	EventID    *uuid.UUID `gorm:"type:uuid"`
	StepIndex  *int
	Detail     string
	Payload    JSONB     `gorm:"type:jsonb"`
	CreatedAt  time.Time `gorm:"autoCreateTime;index:idx_audit_workflow_time"`
}

func (AuditEntry) TableName() string {
	return "audit_entries"
}

// TriggerReceipt records that a workflow has consumed an event. The
// composite unique index is what makes trigger matching idempotent: a
// replayed event hits the constraint instead of creating a second run.
type TriggerReceipt struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	WorkflowID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_trigger_workflow_event"`
	EventID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_trigger_workflow_event"`
	RunID      uuid.UUID `gorm:"type:uuid;not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

func (TriggerReceipt) TableName() string {
	return "trigger_receipts"
}
