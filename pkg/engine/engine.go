package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/metrics"
	"github.com/salesloop/salesloop/pkg/model"
	"github.com/salesloop/salesloop/pkg/queue"
	"github.com/salesloop/salesloop/pkg/services"
	"github.com/salesloop/salesloop/pkg/store"
)

type Config struct {
	// Workers bounds the pool consuming the run queue.
	Workers int
	// StepLimit is the hard ceiling on step executions per run.
	StepLimit int
	// SweepBatch caps how many due runs one tick resumes.
	SweepBatch int
}

// Engine matches events to workflows, materializes runs, and drives
// each run through its steps until it reaches a terminal state exactly
// once. Waiting runs hold no worker and no queue slot; Tick rediscovers
// them when due.
type Engine struct {
	workflows store.WorkflowStore
	runs      store.RunStore
	audit     store.AuditLog
	queue     queue.RunQueue
	matcher   *Matcher
	executor  *Executor
	entities  services.EntityService
	logger    *zap.Logger
	cfg       Config

	now func() time.Time
}

func New(
	workflows store.WorkflowStore,
	runs store.RunStore,
	audit store.AuditLog,
	runQueue queue.RunQueue,
	executor *Executor,
	entities services.EntityService,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.StepLimit <= 0 {
		cfg.StepLimit = 50
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = 200
	}
	return &Engine{
		workflows: workflows,
		runs:      runs,
		audit:     audit,
		queue:     runQueue,
		matcher:   NewMatcher(logger),
		executor:  executor,
		entities:  entities,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Start launches the worker pool and blocks until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.worker(ctx)
		}()
	}
	wg.Wait()
}

func (e *Engine) worker(ctx context.Context) {
	for {
		runID, err := e.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			e.logger.Error("dequeue failed", zap.Error(err))
			continue
		}
		if err := e.Advance(ctx, runID); err != nil {
			e.logger.Error("run advance failed", zap.String("run_id", runID.String()), zap.Error(err))
		}
	}
}

// OnEvent is the entry point wired to the event bus. For every active
// workflow the event matches, it creates and enqueues a run. Replayed
// events are absorbed by the trigger receipt.
func (e *Engine) OnEvent(ctx context.Context, event model.Event) error {
	candidates, err := e.workflows.ListActiveByTrigger(ctx, event.Category)
	if err != nil {
		return fmt.Errorf("list candidate workflows: %w", err)
	}

	for _, match := range e.matcher.Match(event, candidates) {
		if err := e.startRun(ctx, match.Workflow, match.Event); err != nil {
			e.logger.Error("failed to start run",
				zap.String("workflow_id", match.Workflow.ID.String()),
				zap.String("event_id", event.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (e *Engine) startRun(ctx context.Context, workflow *model.Workflow, event model.Event) error {
	snapshot := make(model.Steps, len(workflow.Steps))
	copy(snapshot, workflow.Steps)

	run := &model.WorkflowRun{
		ID:                uuid.New(),
		WorkflowID:        workflow.ID,
		SubjectEntityType: event.EntityType,
		SubjectEntityID:   event.EntityID,
		TriggeringEventID: event.ID,
		StepsSnapshot:     snapshot,
		Cursor:            0,
		Status:            model.RunRunning,
		Version:           1,
		CreatedAt:         e.now(),
	}

	if err := e.runs.CreateForTrigger(ctx, run); err != nil {
		if errors.Is(err, store.ErrDuplicateTrigger) {
			e.logger.Debug("event already consumed",
				zap.String("workflow_id", workflow.ID.String()),
				zap.String("event_id", event.ID.String()),
			)
			return nil
		}
		return err
	}

	eventID := event.ID
	e.appendAudit(ctx, &model.AuditEntry{
		Kind:       model.AuditTriggerMatched,
		WorkflowID: workflow.ID,
		RunID:      &run.ID,
		EventID:    &eventID,
		Detail:     fmt.Sprintf("%s on %s/%s", workflow.TriggerType, event.EntityType, event.EntityID),
	})
	e.appendAudit(ctx, &model.AuditEntry{
		Kind:       model.AuditRunStarted,
		WorkflowID: workflow.ID,
		RunID:      &run.ID,
		EventID:    &eventID,
	})
	metrics.RunsStarted.WithLabelValues(workflow.ID.String(), string(workflow.TriggerType)).Inc()

	return e.queue.Enqueue(ctx, run.ID)
}

// Advance executes exactly one step of the run and writes the result
// back under optimistic concurrency. Still-running runs are re-enqueued
// so steps execute back to back without hogging a worker.
func (e *Engine) Advance(ctx context.Context, runID uuid.UUID) error {
	run, err := e.runs.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			e.logger.Warn("queued run no longer exists", zap.String("run_id", runID.String()))
			return nil
		}
		return err
	}

	// Cancellation is cooperative: checked here, before claiming the
	// next step. Waiting and terminal runs were enqueued stale.
	if run.Status != model.RunRunning {
		return nil
	}

	expected := run.Version

	if len(run.StepResults) >= e.cfg.StepLimit {
		return e.failRun(ctx, run, expected, run.Cursor, 0, ErrStepLimitExceeded)
	}

	step, ok := run.CurrentStep()
	if !ok {
		if run.Cursor == len(run.StepsSnapshot) {
			// Resumed past a trailing wait step.
			return e.completeRun(ctx, run, expected)
		}
		return e.failRun(ctx, run, expected, run.Cursor, 0, &InvariantError{
			RunID:  run.ID,
			Reason: fmt.Sprintf("cursor %d outside snapshot of %d steps", run.Cursor, len(run.StepsSnapshot)),
		})
	}

	started := e.now()
	outcome := e.executor.Execute(ctx, run, run.Cursor, step)
	metrics.StepDuration.WithLabelValues(string(step.ActionType)).Observe(e.now().Sub(started).Seconds())
	metrics.StepsTotal.WithLabelValues(string(step.ActionType), string(outcome.Status)).Inc()
	if outcome.Attempts > 1 {
		metrics.StepRetries.WithLabelValues(string(step.ActionType)).Add(float64(outcome.Attempts - 1))
	}

	switch outcome.Status {
	case model.OutcomeSuspend:
		return e.suspendRun(ctx, run, expected, step, outcome)
	case model.OutcomeSuccess:
		return e.recordSuccess(ctx, run, expected, step, outcome)
	default:
		run.StepResults = append(run.StepResults, model.StepResult{
			StepIndex:    run.Cursor,
			ActionType:   step.ActionType,
			Outcome:      model.OutcomeFailure,
			Error:        outcome.Err.Error(),
			AttemptCount: outcome.Attempts,
			CompletedAt:  e.now(),
		})
		return e.failRun(ctx, run, expected, run.Cursor, outcome.Attempts, outcome.Err)
	}
}

func (e *Engine) recordSuccess(ctx context.Context, run *model.WorkflowRun, expected int64, step model.Step, outcome Outcome) error {
	stepIndex := run.Cursor
	run.StepResults = append(run.StepResults, model.StepResult{
		StepIndex:    stepIndex,
		ActionType:   step.ActionType,
		Outcome:      model.OutcomeSuccess,
		Detail:       outcome.Detail,
		AttemptCount: outcome.Attempts,
		CompletedAt:  e.now(),
	})
	run.Cursor++

	e.appendAudit(ctx, &model.AuditEntry{
		Kind:       model.AuditStepCompleted,
		WorkflowID: run.WorkflowID,
		RunID:      &run.ID,
		StepIndex:  &stepIndex,
		Detail:     outcome.Detail,
	})

	if run.Cursor >= len(run.StepsSnapshot) {
		return e.completeRun(ctx, run, expected)
	}

	requeued, err := e.swap(ctx, run, expected, nil)
	if err != nil {
		return err
	}
	if requeued {
		// The conflicted attempt already put the run back on the queue.
		return nil
	}
	return e.queue.Enqueue(ctx, run.ID)
}

func (e *Engine) suspendRun(ctx context.Context, run *model.WorkflowRun, expected int64, step model.Step, outcome Outcome) error {
	stepIndex := run.Cursor
	resumeAt := e.now().Add(outcome.ResumeAfter)
	run.StepResults = append(run.StepResults, model.StepResult{
		StepIndex:    stepIndex,
		ActionType:   step.ActionType,
		Outcome:      model.OutcomeSuspend,
		Detail:       outcome.Detail,
		AttemptCount: outcome.Attempts,
		CompletedAt:  e.now(),
	})
	// The cursor moves past the wait step now; resumption picks up at
	// the step after it.
	run.Cursor++
	run.Status = model.RunWaiting
	run.ScheduledResumeAt = &resumeAt

	e.appendAudit(ctx, &model.AuditEntry{
		Kind:       model.AuditStepSuspended,
		WorkflowID: run.WorkflowID,
		RunID:      &run.ID,
		StepIndex:  &stepIndex,
		Detail:     fmt.Sprintf("resume at %s", resumeAt.UTC().Format(time.RFC3339)),
	})
	metrics.RunsWaiting.Inc()

	// No re-enqueue: a waiting run holds no worker and no queue slot.
	_, err := e.swap(ctx, run, expected, newRunEvent(run, "run_waiting"))
	return err
}

func (e *Engine) completeRun(ctx context.Context, run *model.WorkflowRun, expected int64) error {
	now := e.now()
	run.Status = model.RunCompleted
	run.CompletedAt = &now
	run.ScheduledResumeAt = nil

	e.appendAudit(ctx, &model.AuditEntry{
		Kind:       model.AuditRunCompleted,
		WorkflowID: run.WorkflowID,
		RunID:      &run.ID,
	})
	metrics.RunsFinished.WithLabelValues(string(model.RunCompleted)).Inc()

	_, err := e.swap(ctx, run, expected, newRunEvent(run, "run_completed"))
	return err
}

func (e *Engine) failRun(ctx context.Context, run *model.WorkflowRun, expected int64, stepIndex, attempts int, cause error) error {
	now := e.now()
	run.Status = model.RunFailed
	run.CompletedAt = &now
	run.ScheduledResumeAt = nil
	run.ErrorMessage = cause.Error()

	stepDetail := cause.Error()
	if attempts > 0 {
		stepDetail = fmt.Sprintf("%s (attempts: %d)", cause.Error(), attempts)
	}
	e.appendAudit(ctx, &model.AuditEntry{
		Kind:       model.AuditStepFailed,
		WorkflowID: run.WorkflowID,
		RunID:      &run.ID,
		StepIndex:  &stepIndex,
		Detail:     stepDetail,
	})
	e.appendAudit(ctx, &model.AuditEntry{
		Kind:       model.AuditRunFailed,
		WorkflowID: run.WorkflowID,
		RunID:      &run.ID,
		Detail:     cause.Error(),
	})
	metrics.RunsFinished.WithLabelValues(string(model.RunFailed)).Inc()

	var invariant *InvariantError
	if errors.As(cause, &invariant) {
		// Operator-visible: invariant breaks are never silent.
		e.logger.Error("run failed on invariant violation", zap.String("run_id", run.ID.String()), zap.Error(cause))
	}

	_, err := e.swap(ctx, run, expected, newRunEvent(run, "run_failed"))
	return err
}

// swap writes the run back; on a version conflict the attempt is
// abandoned and the run requeued so the next worker sees fresh state.
// requeued tells the caller the run is already back on the queue, so it
// must not enqueue it again.
func (e *Engine) swap(ctx context.Context, run *model.WorkflowRun, expected int64, outbox *model.RunEvent) (requeued bool, err error) {
	err = e.runs.CompareAndSwap(ctx, run, expected, outbox)
	if errors.Is(err, store.ErrVersionConflict) {
		metrics.VersionConflicts.Inc()
		e.logger.Warn("run version conflict, requeueing", zap.String("run_id", run.ID.String()))
		return true, e.queue.Enqueue(ctx, run.ID)
	}
	return false, err
}

// Tick is invoked periodically by an external scheduler. It resumes due
// waiting runs and sweeps date_based triggers; the sweep interval is
// the only bound on suspension-to-resumption latency.
func (e *Engine) Tick(ctx context.Context) error {
	started := e.now()
	defer func() {
		metrics.TickDuration.Observe(e.now().Sub(started).Seconds())
	}()

	e.resumeDueRuns(ctx)
	e.sweepDateTriggers(ctx)
	return ctx.Err()
}

func (e *Engine) resumeDueRuns(ctx context.Context) {
	due, err := e.runs.ListDueWaiting(ctx, e.now(), e.cfg.SweepBatch)
	if err != nil {
		e.logger.Error("failed to list due waiting runs", zap.Error(err))
		return
	}

	for i := range due {
		run := due[i]
		expected := run.Version
		run.Status = model.RunRunning
		run.ScheduledResumeAt = nil

		e.appendAudit(ctx, &model.AuditEntry{
			Kind:       model.AuditRunResumed,
			WorkflowID: run.WorkflowID,
			RunID:      &run.ID,
		})

		if err := e.runs.CompareAndSwap(ctx, &run, expected, newRunEvent(&run, "run_resumed")); err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				// Cancelled or claimed since the list; leave it alone.
				continue
			}
			e.logger.Error("failed to resume run", zap.String("run_id", run.ID.String()), zap.Error(err))
			continue
		}
		metrics.RunsWaiting.Dec()

		if err := e.queue.Enqueue(ctx, run.ID); err != nil {
			e.logger.Error("failed to enqueue resumed run", zap.String("run_id", run.ID.String()), zap.Error(err))
		}
	}
}

func (e *Engine) sweepDateTriggers(ctx context.Context) {
	workflows, err := e.workflows.ListActiveByTrigger(ctx, model.TriggerDateBased)
	if err != nil {
		e.logger.Error("failed to list date_based workflows", zap.Error(err))
		return
	}

	now := e.now()
	for i := range workflows {
		workflow := &workflows[i]
		cfg, err := workflow.DateBasedTrigger()
		if err != nil {
			e.logger.Warn("undecodable date_based config", zap.String("workflow_id", workflow.ID.String()), zap.Error(err))
			continue
		}

		entities, err := e.entities.ListDateFieldDue(ctx, cfg.EntityType, cfg.DateField, now)
		if err != nil {
			e.logger.Error("date sweep query failed",
				zap.String("workflow_id", workflow.ID.String()),
				zap.String("entity_type", cfg.EntityType),
				zap.Error(err),
			)
			continue
		}

		for _, entity := range entities {
			dateValue := entity.Fields[cfg.DateField]
			event := model.Event{
				// Deterministic ID: the same (workflow, entity, date
				// value) tuple always synthesizes the same event, so the
				// trigger receipt dedupes repeat sweeps.
				ID: uuid.NewSHA1(uuid.NameSpaceURL, []byte(
					"salesloop://date-sweep/"+workflow.ID.String()+"/"+entity.ID+"/"+dateValue,
				)),
				Category:   model.TriggerDateBased,
				EntityType: entity.Type,
				EntityID:   entity.ID,
				Payload: model.JSONB{
					"date_field": cfg.DateField,
					"date_value": dateValue,
				},
				OccurredAt: now,
			}
			if err := e.startRun(ctx, workflow, event); err != nil {
				e.logger.Error("date sweep failed to start run",
					zap.String("workflow_id", workflow.ID.String()),
					zap.String("entity_id", entity.ID),
					zap.Error(err),
				)
			}
		}
	}
}

// Cancel moves a non-terminal run to Cancelled. A step already in
// flight finishes and records its result, but the run never advances
// past it.
func (e *Engine) Cancel(ctx context.Context, runID uuid.UUID) error {
	for attempt := 0; attempt < 3; attempt++ {
		run, err := e.runs.Get(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.Terminal() {
			return fmt.Errorf("cancel run %s: %w", runID, ErrRunTerminal)
		}

		expected := run.Version
		now := e.now()
		run.Status = model.RunCancelled
		run.CompletedAt = &now
		run.ScheduledResumeAt = nil

		e.appendAudit(ctx, &model.AuditEntry{
			Kind:       model.AuditRunCancelled,
			WorkflowID: run.WorkflowID,
			RunID:      &run.ID,
		})

		err = e.runs.CompareAndSwap(ctx, run, expected, newRunEvent(run, "run_cancelled"))
		if errors.Is(err, store.ErrVersionConflict) {
			continue
		}
		if err == nil {
			metrics.RunsFinished.WithLabelValues(string(model.RunCancelled)).Inc()
		}
		return err
	}
	return fmt.Errorf("cancel run %s: version conflict budget exhausted", runID)
}

func (e *Engine) ListRuns(ctx context.Context, workflowID uuid.UUID, status *model.RunStatus, limit, offset int) ([]model.WorkflowRun, int64, error) {
	return e.runs.List(ctx, workflowID, status, limit, offset)
}

func (e *Engine) appendAudit(ctx context.Context, entry *model.AuditEntry) {
	if err := e.audit.Append(ctx, entry); err != nil {
		e.logger.Error("failed to append audit entry",
			zap.String("kind", string(entry.Kind)),
			zap.String("workflow_id", entry.WorkflowID.String()),
			zap.Error(err),
		)
	}
}

func newRunEvent(run *model.WorkflowRun, eventType string) *model.RunEvent {
	return &model.RunEvent{
		EventID:   uuid.New(),
		EventType: eventType,
		Payload: model.JSONB{
			"run_id":      run.ID.String(),
			"workflow_id": run.WorkflowID.String(),
			"status":      string(run.Status),
			"cursor":      run.Cursor,
		},
		Status: model.OutboxStatusPending,
	}
}
