package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is a notification of a domain change published by the
// surrounding CRM services. Category maps 1:1 to a trigger type.
type Event struct {
	ID         uuid.UUID   `json:"id"`
	Category   TriggerType `json:"category"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Payload    JSONB       `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type StatusChangePayload struct {
	PreviousStatus string `json:"previous_status"`
	NewStatus      string `json:"new_status"`
}

type ScoreChangePayload struct {
	PreviousScore float64 `json:"previous_score"`
	NewScore      float64 `json:"new_score"`
}

// TypedPayload carries the discriminator for interaction_added and
// task_completed events.
type TypedPayload struct {
	Type string `json:"type"`
}

// DateReachedPayload is attached to the synthetic events emitted by the
// date_based sweep.
type DateReachedPayload struct {
	DateField string `json:"date_field"`
	DateValue string `json:"date_value"`
}

func (e Event) StatusChangePayload() (StatusChangePayload, error) {
	var p StatusChangePayload
	err := decodeConfig(e.Payload, &p)
	return p, err
}

func (e Event) ScoreChangePayload() (ScoreChangePayload, error) {
	var p ScoreChangePayload
	err := decodeConfig(e.Payload, &p)
	return p, err
}

func (e Event) TypedPayload() (TypedPayload, error) {
	var p TypedPayload
	err := decodeConfig(e.Payload, &p)
	return p, err
}
