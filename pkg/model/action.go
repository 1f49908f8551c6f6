package model

import (
	"errors"
	"fmt"
)

// Action configs mirror the trigger configs: one explicit variant per
// action type, decoded from the step's jsonb blob.

type CreateTaskConfig struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty"`
}

type SendEmailConfig struct {
	ToField string `json:"to_field,omitempty"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type UpdateFieldConfig struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type WaitDaysConfig struct {
	Days int `json:"days"`
}

type CreateInteractionConfig struct {
	InteractionType string `json:"interaction_type"`
	Notes           string `json:"notes,omitempty"`
}

func (s Step) CreateTaskConfig() (CreateTaskConfig, error) {
	var cfg CreateTaskConfig
	err := decodeConfig(s.ActionConfig, &cfg)
	return cfg, err
}

func (s Step) SendEmailConfig() (SendEmailConfig, error) {
	var cfg SendEmailConfig
	err := decodeConfig(s.ActionConfig, &cfg)
	return cfg, err
}

func (s Step) UpdateFieldConfig() (UpdateFieldConfig, error) {
	var cfg UpdateFieldConfig
	err := decodeConfig(s.ActionConfig, &cfg)
	return cfg, err
}

func (s Step) WaitDaysConfig() (WaitDaysConfig, error) {
	var cfg WaitDaysConfig
	err := decodeConfig(s.ActionConfig, &cfg)
	return cfg, err
}

func (s Step) CreateInteractionConfig() (CreateInteractionConfig, error) {
	var cfg CreateInteractionConfig
	err := decodeConfig(s.ActionConfig, &cfg)
	return cfg, err
}

func (s Step) validate(index int) error {
	switch s.ActionType {
	case ActionCreateTask:
		cfg, err := s.CreateTaskConfig()
		if err != nil {
			return err
		}
		if cfg.Title == "" {
			return fmt.Errorf("step %d: create_task requires a title", index)
		}
	case ActionSendEmail:
		cfg, err := s.SendEmailConfig()
		if err != nil {
			return err
		}
		if cfg.Subject == "" || cfg.Body == "" {
			return fmt.Errorf("step %d: send_email requires subject and body", index)
		}
	case ActionUpdateField:
		cfg, err := s.UpdateFieldConfig()
		if err != nil {
			return err
		}
		if cfg.Field == "" {
			return fmt.Errorf("step %d: update_prospect requires a field", index)
		}
	case ActionWaitDays:
		cfg, err := s.WaitDaysConfig()
		if err != nil {
			return err
		}
		if cfg.Days <= 0 {
			return fmt.Errorf("step %d: wait_days requires days >= 1", index)
		}
	case ActionCreateInteraction:
		cfg, err := s.CreateInteractionConfig()
		if err != nil {
			return err
		}
		if cfg.InteractionType == "" {
			return fmt.Errorf("step %d: create_interaction requires interaction_type", index)
		}
	default:
		return fmt.Errorf("step %d: unknown action type %q", index, s.ActionType)
	}
	return nil
}

// Validate rejects malformed workflows at save time. The engine assumes
// any workflow it loads has passed this.
func (w *Workflow) Validate() error {
	if w.Name == "" {
		return errors.New("workflow requires a name")
	}
	if err := w.validateTrigger(); err != nil {
		return err
	}
	if len(w.Steps) == 0 {
		return errors.New("workflow requires at least one step")
	}
	for i, step := range w.Steps {
		if err := step.validate(i); err != nil {
			return err
		}
	}
	return nil
}
