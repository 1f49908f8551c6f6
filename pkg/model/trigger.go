package model

import (
	"errors"
	"fmt"
)

// Trigger configs form a tagged union keyed by Workflow.TriggerType.
// Each variant is validated when the workflow is saved so malformed
// configs never reach the engine at runtime.

type StatusChangeTrigger struct {
	ToStatus   string `json:"to_status"`
	FromStatus string `json:"from_status,omitempty"`
}

type ScoreThresholdTrigger struct {
	Threshold float64 `json:"threshold"`
}

type InteractionAddedTrigger struct {
	InteractionType string `json:"interaction_type,omitempty"`
}

type TaskCompletedTrigger struct {
	TaskType string `json:"task_type,omitempty"`
}

type DateBasedTrigger struct {
	EntityType string `json:"entity_type"`
	DateField  string `json:"date_field"`
}

func (w *Workflow) StatusChangeTrigger() (StatusChangeTrigger, error) {
	var cfg StatusChangeTrigger
	err := decodeConfig(w.TriggerConfig, &cfg)
	return cfg, err
}

func (w *Workflow) ScoreThresholdTrigger() (ScoreThresholdTrigger, error) {
	var cfg ScoreThresholdTrigger
	err := decodeConfig(w.TriggerConfig, &cfg)
	return cfg, err
}

func (w *Workflow) InteractionAddedTrigger() (InteractionAddedTrigger, error) {
	var cfg InteractionAddedTrigger
	err := decodeConfig(w.TriggerConfig, &cfg)
	return cfg, err
}

func (w *Workflow) TaskCompletedTrigger() (TaskCompletedTrigger, error) {
	var cfg TaskCompletedTrigger
	err := decodeConfig(w.TriggerConfig, &cfg)
	return cfg, err
}

func (w *Workflow) DateBasedTrigger() (DateBasedTrigger, error) {
	var cfg DateBasedTrigger
	err := decodeConfig(w.TriggerConfig, &cfg)
	return cfg, err
}

func (w *Workflow) validateTrigger() error {
	switch w.TriggerType {
	case TriggerStatusChange:
		cfg, err := w.StatusChangeTrigger()
		if err != nil {
			return err
		}
		if cfg.ToStatus == "" {
			return errors.New("status_change trigger requires to_status")
		}
	case TriggerScoreThreshold:
		cfg, err := w.ScoreThresholdTrigger()
		if err != nil {
			return err
		}
		if cfg.Threshold <= 0 {
			return errors.New("score_threshold trigger requires a positive threshold")
		}
	case TriggerInteractionAdded:
		if _, err := w.InteractionAddedTrigger(); err != nil {
			return err
		}
	case TriggerTaskCompleted:
		if _, err := w.TaskCompletedTrigger(); err != nil {
			return err
		}
	case TriggerDateBased:
		cfg, err := w.DateBasedTrigger()
		if err != nil {
			return err
		}
		if cfg.EntityType == "" || cfg.DateField == "" {
			return errors.New("date_based trigger requires entity_type and date_field")
		}
	default:
		return fmt.Errorf("unknown trigger type %q", w.TriggerType)
	}
	return nil
}
