package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

type TriggerType string

const (
	TriggerStatusChange     TriggerType = "status_change"
	TriggerDateBased        TriggerType = "date_based"
	TriggerScoreThreshold   TriggerType = "score_threshold"
	TriggerInteractionAdded TriggerType = "interaction_added"
	TriggerTaskCompleted    TriggerType = "task_completed"
)

func ParseTriggerType(value string) (TriggerType, error) {
	switch TriggerType(value) {
	case TriggerStatusChange, TriggerDateBased, TriggerScoreThreshold, TriggerInteractionAdded, TriggerTaskCompleted:
		return TriggerType(value), nil
	}
	return "", fmt.Errorf("unknown trigger type %q", value)
}

type ActionType string

const (
	ActionCreateTask        ActionType = "create_task"
	ActionSendEmail         ActionType = "send_email"
	ActionUpdateField       ActionType = "update_prospect"
	ActionWaitDays          ActionType = "wait_days"
	ActionCreateInteraction ActionType = "create_interaction"
)

func ParseActionType(value string) (ActionType, error) {
	switch ActionType(value) {
	case ActionCreateTask, ActionSendEmail, ActionUpdateField, ActionWaitDays, ActionCreateInteraction:
		return ActionType(value), nil
	}
	return "", fmt.Errorf("unknown action type %q", value)
}

type Workflow struct {
	ID             uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	Name           string    `gorm:"not null"`
	Description    string
	Active         bool           `gorm:"default:false;index"`
	TriggerType    TriggerType    `gorm:"type:varchar(50);not null;index"`
	TriggerConfig  JSONB          `gorm:"type:jsonb;not null"`
	Steps          Steps          `gorm:"type:jsonb;not null"`
	ExecutionCount int64          `gorm:"default:0"`
	Tags           pq.StringArray `gorm:"type:text[]"`
	CreatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      gorm.DeletedAt `gorm:"index"`
}

type Step struct {
	ActionType   ActionType `json:"action_type"`
	ActionConfig JSONB      `json:"action_config"`
}

// Steps is the ordered action sequence, stored as a jsonb column so a
// run can snapshot it in one write.
type Steps []Step

func (s Steps) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal(Steps{})
	}
	return json.Marshal(s)
}

func (s *Steps) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan steps: %v", value)
	}
	return json.Unmarshal(bytes, s)
}

func (Steps) GormDataType() string {
	return "jsonb"
}

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("failed to scan JSONB: %v", value)
	}
	return json.Unmarshal(bytes, j)
}

func (j JSONB) GormDataType() string {
	return "jsonb"
}

// decodeConfig moves a loosely typed jsonb blob into its typed config
// struct. Unknown keys are ignored so stored configs stay forward
// compatible.
func decodeConfig(raw JSONB, out interface{}) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
