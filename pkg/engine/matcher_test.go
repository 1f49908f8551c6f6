package engine

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/model"
)

func testWorkflow(trigger model.TriggerType, config model.JSONB) model.Workflow {
	return model.Workflow{
		ID:            uuid.New(),
		Name:          "test",
		Active:        true,
		TriggerType:   trigger,
		TriggerConfig: config,
		Steps: model.Steps{
			{ActionType: model.ActionCreateTask, ActionConfig: model.JSONB{"title": "t"}},
		},
	}
}

func testEvent(category model.TriggerType, payload model.JSONB) model.Event {
	return model.Event{
		ID:         uuid.New(),
		Category:   category,
		EntityType: "prospect",
		EntityID:   "p-1",
		Payload:    payload,
		OccurredAt: time.Now(),
	}
}

func TestMatchStatusChange(t *testing.T) {
	m := NewMatcher(zap.NewNop())

	tests := []struct {
		name    string
		config  model.JSONB
		payload model.JSONB
		want    bool
	}{
		{
			name:    "to_status matches",
			config:  model.JSONB{"to_status": "Qualified"},
			payload: model.JSONB{"previous_status": "Contacted", "new_status": "Qualified"},
			want:    true,
		},
		{
			name:    "to_status differs",
			config:  model.JSONB{"to_status": "Qualified"},
			payload: model.JSONB{"previous_status": "New", "new_status": "Contacted"},
			want:    false,
		},
		{
			name:    "from_status constrains",
			config:  model.JSONB{"to_status": "Qualified", "from_status": "Contacted"},
			payload: model.JSONB{"previous_status": "New", "new_status": "Qualified"},
			want:    false,
		},
		{
			name:    "from_status satisfied",
			config:  model.JSONB{"to_status": "Qualified", "from_status": "Contacted"},
			payload: model.JSONB{"previous_status": "Contacted", "new_status": "Qualified"},
			want:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := testWorkflow(model.TriggerStatusChange, tt.config)
			matches := m.Match(testEvent(model.TriggerStatusChange, tt.payload), []model.Workflow{wf})
			if got := len(matches) == 1; got != tt.want {
				t.Errorf("matched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchScoreThresholdCrossing(t *testing.T) {
	m := NewMatcher(zap.NewNop())
	wf := testWorkflow(model.TriggerScoreThreshold, model.JSONB{"threshold": float64(75)})
	candidates := []model.Workflow{wf}

	// 60 -> 75 -> 80 -> 65 -> 90: exactly the two upward crossings fire.
	scores := []struct {
		prev, next float64
		want       bool
	}{
		{60, 75, true},
		{75, 80, false},
		{80, 65, false},
		{65, 90, true},
	}

	fired := 0
	for _, s := range scores {
		event := testEvent(model.TriggerScoreThreshold, model.JSONB{
			"previous_score": s.prev,
			"new_score":      s.next,
		})
		matches := m.Match(event, candidates)
		if got := len(matches) == 1; got != s.want {
			t.Errorf("score %v -> %v: matched = %v, want %v", s.prev, s.next, got, s.want)
		}
		fired += len(matches)
	}
	if fired != 2 {
		t.Fatalf("expected exactly 2 matches across the sequence, got %d", fired)
	}
}

func TestMatchTypedTriggers(t *testing.T) {
	m := NewMatcher(zap.NewNop())

	tests := []struct {
		name    string
		trigger model.TriggerType
		config  model.JSONB
		payload model.JSONB
		want    bool
	}{
		{
			name:    "interaction type matches",
			trigger: model.TriggerInteractionAdded,
			config:  model.JSONB{"interaction_type": "email_reply"},
			payload: model.JSONB{"type": "email_reply"},
			want:    true,
		},
		{
			name:    "interaction type differs",
			trigger: model.TriggerInteractionAdded,
			config:  model.JSONB{"interaction_type": "email_reply"},
			payload: model.JSONB{"type": "call"},
			want:    false,
		},
		{
			name:    "empty config matches any interaction",
			trigger: model.TriggerInteractionAdded,
			config:  model.JSONB{},
			payload: model.JSONB{"type": "call"},
			want:    true,
		},
		{
			name:    "any wildcard matches all tasks",
			trigger: model.TriggerTaskCompleted,
			config:  model.JSONB{"task_type": "any"},
			payload: model.JSONB{"type": "follow_up"},
			want:    true,
		},
		{
			name:    "task type differs",
			trigger: model.TriggerTaskCompleted,
			config:  model.JSONB{"task_type": "demo"},
			payload: model.JSONB{"type": "follow_up"},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := testWorkflow(tt.trigger, tt.config)
			matches := m.Match(testEvent(tt.trigger, tt.payload), []model.Workflow{wf})
			if got := len(matches) == 1; got != tt.want {
				t.Errorf("matched = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchFiltersInactiveAndWrongCategory(t *testing.T) {
	m := NewMatcher(zap.NewNop())

	inactive := testWorkflow(model.TriggerStatusChange, model.JSONB{"to_status": "Qualified"})
	inactive.Active = false

	wrongCategory := testWorkflow(model.TriggerScoreThreshold, model.JSONB{"threshold": float64(10)})

	event := testEvent(model.TriggerStatusChange, model.JSONB{
		"previous_status": "Contacted",
		"new_status":      "Qualified",
	})
	matches := m.Match(event, []model.Workflow{inactive, wrongCategory})
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestMatchMultipleWorkflowsSameEvent(t *testing.T) {
	m := NewMatcher(zap.NewNop())

	first := testWorkflow(model.TriggerStatusChange, model.JSONB{"to_status": "Qualified"})
	second := testWorkflow(model.TriggerStatusChange, model.JSONB{"to_status": "Qualified", "from_status": "Contacted"})

	event := testEvent(model.TriggerStatusChange, model.JSONB{
		"previous_status": "Contacted",
		"new_status":      "Qualified",
	})
	matches := m.Match(event, []model.Workflow{first, second})
	if len(matches) != 2 {
		t.Fatalf("expected both workflows to match, got %d", len(matches))
	}
}
