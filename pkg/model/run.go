package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunWaiting   RunStatus = "WAITING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunCancelled RunStatus = "CANCELLED"
)

// Terminal reports whether the status never mutates again.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

type StepOutcome string

const (
	OutcomeSuccess StepOutcome = "success"
	OutcomeSuspend StepOutcome = "suspend"
	OutcomeFailure StepOutcome = "failure"
)

type StepResult struct {
	StepIndex    int         `json:"step_index"`
	ActionType   ActionType  `json:"action_type"`
	Outcome      StepOutcome `json:"outcome"`
	Detail       string      `json:"detail,omitempty"`
	Error        string      `json:"error,omitempty"`
	AttemptCount int         `json:"attempt_count"`
	CompletedAt  time.Time   `json:"completed_at"`
}

type StepResults []StepResult

func (r StepResults) Value() (driver.Value, error) {
	if r == nil {
		return json.Marshal(StepResults{})
	}
	return json.Marshal(r)
}

func (r *StepResults) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan step results: %v", value)
	}
	return json.Unmarshal(bytes, r)
}

func (StepResults) GormDataType() string {
	return "jsonb"
}

// WorkflowRun is one live execution of a workflow. StepsSnapshot is an
// immutable copy taken at trigger time; later workflow edits never
// affect a run in flight. Version backs the optimistic claim: a worker
// writes back only if the version it read is still current.
type WorkflowRun struct {
	ID                uuid.UUID   `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	WorkflowID        uuid.UUID   `gorm:"type:uuid;not null;index"`
	Workflow          *Workflow   `gorm:"foreignKey:WorkflowID"`
	SubjectEntityType string      `gorm:"not null"`
	SubjectEntityID   string      `gorm:"not null;index"`
	TriggeringEventID uuid.UUID   `gorm:"type:uuid;not null"`
	StepsSnapshot     Steps       `gorm:"type:jsonb;not null"`
	Cursor            int         `gorm:"default:0"`
	Status            RunStatus   `gorm:"type:varchar(50);default:'PENDING';index"`
	ScheduledResumeAt *time.Time  `gorm:"index"`
	StepResults       StepResults `gorm:"type:jsonb;default:'[]'"`
	ErrorMessage      string
	Version           int64 `gorm:"not null;default:1"`
	CreatedAt         time.Time
	CompletedAt       *time.Time
}

// CurrentStep returns the step the cursor points at.
func (r *WorkflowRun) CurrentStep() (Step, bool) {
	if r.Cursor < 0 || r.Cursor >= len(r.StepsSnapshot) {
		return Step{}, false
	}
	return r.StepsSnapshot[r.Cursor], true
}
