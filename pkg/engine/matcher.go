package engine

import (
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/model"
)

// Match pairs an event with one workflow it triggers. The matcher
// produces at most one match per (workflow, event).
type Match struct {
	Workflow *model.Workflow
	Event    model.Event
}

// Matcher evaluates events against workflow trigger configs. Matching
// is a pure function of the event payload and the config; run
// deduplication happens later at the trigger receipt.
type Matcher struct {
	logger *zap.Logger
}

func NewMatcher(logger *zap.Logger) *Matcher {
	return &Matcher{logger: logger}
}

func (m *Matcher) Match(event model.Event, candidates []model.Workflow) []Match {
	var matches []Match
	for i := range candidates {
		workflow := &candidates[i]
		if !workflow.Active || workflow.TriggerType != event.Category {
			continue
		}
		ok, err := m.matches(workflow, event)
		if err != nil {
			// Validation at save time should make this unreachable.
			m.logger.Warn("undecodable trigger config",
				zap.String("workflow_id", workflow.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if ok {
			matches = append(matches, Match{Workflow: workflow, Event: event})
		}
	}
	return matches
}

func (m *Matcher) matches(workflow *model.Workflow, event model.Event) (bool, error) {
	switch workflow.TriggerType {
	case model.TriggerStatusChange:
		cfg, err := workflow.StatusChangeTrigger()
		if err != nil {
			return false, err
		}
		payload, err := event.StatusChangePayload()
		if err != nil {
			return false, err
		}
		if payload.NewStatus != cfg.ToStatus {
			return false, nil
		}
		if cfg.FromStatus != "" && payload.PreviousStatus != cfg.FromStatus {
			return false, nil
		}
		return true, nil

	case model.TriggerScoreThreshold:
		cfg, err := workflow.ScoreThresholdTrigger()
		if err != nil {
			return false, err
		}
		payload, err := event.ScoreChangePayload()
		if err != nil {
			return false, err
		}
		// Crossing semantics: fire only when the score moves from below
		// the threshold to at or above it. A score that stays above
		// never re-fires until it has dropped back below in between.
		return payload.PreviousScore < cfg.Threshold && cfg.Threshold <= payload.NewScore, nil

	case model.TriggerInteractionAdded:
		cfg, err := workflow.InteractionAddedTrigger()
		if err != nil {
			return false, err
		}
		payload, err := event.TypedPayload()
		if err != nil {
			return false, err
		}
		return matchesType(cfg.InteractionType, payload.Type), nil

	case model.TriggerTaskCompleted:
		cfg, err := workflow.TaskCompletedTrigger()
		if err != nil {
			return false, err
		}
		payload, err := event.TypedPayload()
		if err != nil {
			return false, err
		}
		return matchesType(cfg.TaskType, payload.Type), nil

	case model.TriggerDateBased:
		// Date events are synthesized by the sweep from the workflow's
		// own config, so any event reaching here already matches.
		return true, nil
	}
	return false, nil
}

func matchesType(configured, actual string) bool {
	return configured == "" || configured == "any" || configured == actual
}
