package engine

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/model"
	"github.com/salesloop/salesloop/pkg/services"
)

// Outcome is the executor's verdict on one step.
type Outcome struct {
	Status   model.StepOutcome
	Detail   string
	Err      error
	Attempts int
	// ResumeAfter is set only for suspend outcomes.
	ResumeAfter time.Duration
}

type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	Factor         float64
	JitterFraction float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		BaseDelay:      2 * time.Second,
		Factor:         2,
		JitterFraction: 0.2,
	}
}

// Delay returns the backoff before the attempt after `attempt`, with
// ±JitterFraction of jitter.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Factor, float64(attempt-1))
	if p.JitterFraction > 0 {
		delay += (rand.Float64()*2 - 1) * p.JitterFraction * delay
	}
	return time.Duration(delay)
}

// Executor dispatches a single step to the right collaborator service.
// Transient failures are retried here with backoff and never surface
// past the executor unless retries are exhausted.
type Executor struct {
	tasks        services.TaskService
	email        services.EmailService
	entities     services.EntityService
	interactions services.InteractionService
	retry        RetryPolicy
	callTimeout  time.Duration
	logger       *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewExecutor(
	tasks services.TaskService,
	email services.EmailService,
	entities services.EntityService,
	interactions services.InteractionService,
	retry RetryPolicy,
	callTimeout time.Duration,
	logger *zap.Logger,
) *Executor {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryPolicy()
	}
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Executor{
		tasks:        tasks,
		email:        email,
		entities:     entities,
		interactions: interactions,
		retry:        retry,
		callTimeout:  callTimeout,
		logger:       logger,
		sleep:        sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// IdempotencyKey identifies one external side effect. It is derived
// from (run, step, attempt) so a crashed worker replaying a step hands
// the service a key it can deduplicate on.
func IdempotencyKey(runID uuid.UUID, stepIndex, attempt int) string {
	return fmt.Sprintf("run:%s:step:%d:attempt:%d", runID, stepIndex, attempt)
}

func (x *Executor) Execute(ctx context.Context, run *model.WorkflowRun, stepIndex int, step model.Step) Outcome {
	if step.ActionType == model.ActionWaitDays {
		cfg, err := step.WaitDaysConfig()
		if err != nil || cfg.Days <= 0 {
			return Outcome{
				Status:   model.OutcomeFailure,
				Err:      services.Permanent(fmt.Errorf("invalid wait_days config")),
				Attempts: 1,
			}
		}
		// A wait step is pure scheduling: no service call, ever.
		return Outcome{
			Status:      model.OutcomeSuspend,
			Detail:      fmt.Sprintf("waiting %d days", cfg.Days),
			Attempts:    1,
			ResumeAfter: time.Duration(cfg.Days) * 24 * time.Hour,
		}
	}

	var lastErr error
	for attempt := 1; attempt <= x.retry.MaxAttempts; attempt++ {
		key := IdempotencyKey(run.ID, stepIndex, attempt)
		detail, err := x.dispatch(ctx, run, step, key)
		if err == nil {
			return Outcome{Status: model.OutcomeSuccess, Detail: detail, Attempts: attempt}
		}
		if services.IsPermanent(err) {
			return Outcome{Status: model.OutcomeFailure, Err: err, Attempts: attempt}
		}

		lastErr = err
		x.logger.Warn("step attempt failed",
			zap.String("run_id", run.ID.String()),
			zap.Int("step_index", stepIndex),
			zap.String("action", string(step.ActionType)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == x.retry.MaxAttempts {
			break
		}
		if err := x.sleep(ctx, x.retry.Delay(attempt)); err != nil {
			return Outcome{Status: model.OutcomeFailure, Err: lastErr, Attempts: attempt}
		}
	}
	return Outcome{
		Status:   model.OutcomeFailure,
		Err:      fmt.Errorf("retries exhausted: %w", lastErr),
		Attempts: x.retry.MaxAttempts,
	}
}

func (x *Executor) dispatch(ctx context.Context, run *model.WorkflowRun, step model.Step, key string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, x.callTimeout)
	defer cancel()

	switch step.ActionType {
	case model.ActionCreateTask:
		cfg, err := step.CreateTaskConfig()
		if err != nil {
			return "", services.Permanent(err)
		}
		entity, err := x.entities.Get(callCtx, run.SubjectEntityType, run.SubjectEntityID)
		if err != nil {
			return "", err
		}
		fields := map[string]string{
			"title":       RenderTemplate(cfg.Title, entity.Fields),
			"description": RenderTemplate(cfg.Description, entity.Fields),
			"entity_type": run.SubjectEntityType,
			"entity_id":   run.SubjectEntityID,
		}
		if cfg.AssigneeID != "" {
			fields["assignee_id"] = cfg.AssigneeID
		}
		if cfg.DueInDays > 0 {
			fields["due_at"] = time.Now().UTC().AddDate(0, 0, cfg.DueInDays).Format(time.RFC3339)
		}
		taskID, err := x.tasks.Create(callCtx, key, fields)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("created task %s", taskID), nil

	case model.ActionSendEmail:
		cfg, err := step.SendEmailConfig()
		if err != nil {
			return "", services.Permanent(err)
		}
		entity, err := x.entities.Get(callCtx, run.SubjectEntityType, run.SubjectEntityID)
		if err != nil {
			return "", err
		}
		toField := cfg.ToField
		if toField == "" {
			toField = "email"
		}
		to := entity.Fields[toField]
		if to == "" {
			return "", services.Permanent(fmt.Errorf("entity %s/%s has no %s", run.SubjectEntityType, run.SubjectEntityID, toField))
		}
		subject := RenderTemplate(cfg.Subject, entity.Fields)
		body := RenderTemplate(cfg.Body, entity.Fields)
		if err := x.email.Send(callCtx, key, to, subject, body); err != nil {
			return "", err
		}
		return fmt.Sprintf("emailed %s", to), nil

	case model.ActionUpdateField:
		cfg, err := step.UpdateFieldConfig()
		if err != nil {
			return "", services.Permanent(err)
		}
		if !services.IsMutableField(run.SubjectEntityType, cfg.Field) {
			return "", services.Permanent(fmt.Errorf("field %q is not mutable for entity type %q", cfg.Field, run.SubjectEntityType))
		}
		if err := x.entities.UpdateField(callCtx, key, run.SubjectEntityType, run.SubjectEntityID, cfg.Field, cfg.Value); err != nil {
			return "", err
		}
		return fmt.Sprintf("set %s=%s", cfg.Field, cfg.Value), nil

	case model.ActionCreateInteraction:
		cfg, err := step.CreateInteractionConfig()
		if err != nil {
			return "", services.Permanent(err)
		}
		entity, err := x.entities.Get(callCtx, run.SubjectEntityType, run.SubjectEntityID)
		if err != nil {
			return "", err
		}
		fields := map[string]string{
			"type":        cfg.InteractionType,
			"notes":       RenderTemplate(cfg.Notes, entity.Fields),
			"entity_type": run.SubjectEntityType,
			"entity_id":   run.SubjectEntityID,
		}
		if err := x.interactions.Log(callCtx, key, fields); err != nil {
			return "", err
		}
		return fmt.Sprintf("logged %s interaction", cfg.InteractionType), nil
	}

	return "", services.Permanent(fmt.Errorf("unknown action type %q", step.ActionType))
}
