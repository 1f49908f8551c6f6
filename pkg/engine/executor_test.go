package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salesloop/salesloop/pkg/model"
	"github.com/salesloop/salesloop/pkg/services"
)

// fakeServices implements all four collaborator interfaces with
// scriptable failures. Errors are consumed in order; once the script is
// exhausted calls succeed.
type fakeServices struct {
	entity *services.Entity

	errs []error

	taskCalls        int
	emailCalls       int
	updateCalls      int
	interactionCalls int

	keys      []string
	lastTo    string
	lastBody  string
	lastField string
	lastValue string

	dueEntities []services.Entity
}

func newFakeServices() *fakeServices {
	return &fakeServices{
		entity: &services.Entity{
			Type: "prospect",
			ID:   "p-1",
			Fields: map[string]string{
				"first_name": "Ada",
				"email":      "ada@acme.test",
				"status":     "Qualified",
			},
		},
	}
}

func (f *fakeServices) nextErr() error {
	if len(f.errs) == 0 {
		return nil
	}
	err := f.errs[0]
	f.errs = f.errs[1:]
	return err
}

func (f *fakeServices) Create(ctx context.Context, key string, fields map[string]string) (string, error) {
	f.taskCalls++
	f.keys = append(f.keys, key)
	if err := f.nextErr(); err != nil {
		return "", err
	}
	return "task-1", nil
}

func (f *fakeServices) Send(ctx context.Context, key, to, subject, body string) error {
	f.emailCalls++
	f.keys = append(f.keys, key)
	f.lastTo = to
	f.lastBody = body
	return f.nextErr()
}

func (f *fakeServices) Get(ctx context.Context, entityType, id string) (*services.Entity, error) {
	return f.entity, nil
}

func (f *fakeServices) UpdateField(ctx context.Context, key, entityType, id, field, value string) error {
	f.updateCalls++
	f.keys = append(f.keys, key)
	f.lastField = field
	f.lastValue = value
	return f.nextErr()
}

func (f *fakeServices) ListDateFieldDue(ctx context.Context, entityType, dateField string, now time.Time) ([]services.Entity, error) {
	return f.dueEntities, nil
}

func (f *fakeServices) Log(ctx context.Context, key string, fields map[string]string) error {
	f.interactionCalls++
	f.keys = append(f.keys, key)
	return f.nextErr()
}

func testExecutor(svc *fakeServices, maxAttempts int) *Executor {
	x := NewExecutor(svc, svc, svc, svc, RetryPolicy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		Factor:      2,
	}, time.Second, zap.NewNop())
	// No real backoff in tests.
	x.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return x
}

func testRun() *model.WorkflowRun {
	return &model.WorkflowRun{
		ID:                uuid.New(),
		WorkflowID:        uuid.New(),
		SubjectEntityType: "prospect",
		SubjectEntityID:   "p-1",
		Status:            model.RunRunning,
		Version:           1,
	}
}

func TestExecuteCreateTaskRendersTemplate(t *testing.T) {
	svc := newFakeServices()
	x := testExecutor(svc, 5)

	step := model.Step{ActionType: model.ActionCreateTask, ActionConfig: model.JSONB{"title": "Call {{first_name}}"}}
	outcome := x.Execute(context.Background(), testRun(), 0, step)

	if outcome.Status != model.OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", outcome.Status, outcome.Err)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", outcome.Attempts)
	}
	if svc.taskCalls != 1 {
		t.Fatalf("expected 1 task call, got %d", svc.taskCalls)
	}
}

func TestExecuteSendEmailUsesEntityAddress(t *testing.T) {
	svc := newFakeServices()
	x := testExecutor(svc, 5)

	step := model.Step{ActionType: model.ActionSendEmail, ActionConfig: model.JSONB{
		"subject": "Hello {{first_name}}",
		"body":    "Status is {{status}}, {{unknown_token}} stays",
	}}
	outcome := x.Execute(context.Background(), testRun(), 0, step)

	if outcome.Status != model.OutcomeSuccess {
		t.Fatalf("expected success, got %v (%v)", outcome.Status, outcome.Err)
	}
	if svc.lastTo != "ada@acme.test" {
		t.Fatalf("expected default email field, got %q", svc.lastTo)
	}
	if !strings.Contains(svc.lastBody, "Qualified") || !strings.Contains(svc.lastBody, "{{unknown_token}}") {
		t.Fatalf("unexpected rendered body %q", svc.lastBody)
	}
}

func TestExecuteSendEmailMissingRecipientIsPermanent(t *testing.T) {
	svc := newFakeServices()
	delete(svc.entity.Fields, "email")
	x := testExecutor(svc, 5)

	step := model.Step{ActionType: model.ActionSendEmail, ActionConfig: model.JSONB{"subject": "s", "body": "b"}}
	outcome := x.Execute(context.Background(), testRun(), 0, step)

	if outcome.Status != model.OutcomeFailure {
		t.Fatalf("expected failure, got %v", outcome.Status)
	}
	if !services.IsPermanent(outcome.Err) {
		t.Fatalf("expected permanent error, got %v", outcome.Err)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("permanent failure must not retry, got %d attempts", outcome.Attempts)
	}
	if svc.emailCalls != 0 {
		t.Fatalf("expected no email sent, got %d", svc.emailCalls)
	}
}

func TestExecuteUpdateFieldAllowList(t *testing.T) {
	svc := newFakeServices()
	x := testExecutor(svc, 5)

	allowed := model.Step{ActionType: model.ActionUpdateField, ActionConfig: model.JSONB{"field": "stage", "value": "negotiation"}}
	outcome := x.Execute(context.Background(), testRun(), 0, allowed)
	if outcome.Status != model.OutcomeSuccess {
		t.Fatalf("expected success for allowed field, got %v (%v)", outcome.Status, outcome.Err)
	}
	if svc.lastField != "stage" || svc.lastValue != "negotiation" {
		t.Fatalf("unexpected update %s=%s", svc.lastField, svc.lastValue)
	}

	denied := model.Step{ActionType: model.ActionUpdateField, ActionConfig: model.JSONB{"field": "id", "value": "hacked"}}
	outcome = x.Execute(context.Background(), testRun(), 0, denied)
	if outcome.Status != model.OutcomeFailure || !services.IsPermanent(outcome.Err) {
		t.Fatalf("expected permanent failure for disallowed field, got %v (%v)", outcome.Status, outcome.Err)
	}
	if svc.updateCalls != 1 {
		t.Fatalf("disallowed field must not reach the service, got %d calls", svc.updateCalls)
	}
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	svc := newFakeServices()
	svc.errs = []error{
		services.Transient(errors.New("timeout")),
		services.Transient(errors.New("timeout")),
	}
	x := testExecutor(svc, 5)

	step := model.Step{ActionType: model.ActionCreateTask, ActionConfig: model.JSONB{"title": "t"}}
	outcome := x.Execute(context.Background(), testRun(), 0, step)

	if outcome.Status != model.OutcomeSuccess {
		t.Fatalf("expected eventual success, got %v (%v)", outcome.Status, outcome.Err)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", outcome.Attempts)
	}
}

func TestExecuteTransientExhaustion(t *testing.T) {
	svc := newFakeServices()
	for i := 0; i < 10; i++ {
		svc.errs = append(svc.errs, services.Transient(errors.New("unavailable")))
	}
	x := testExecutor(svc, 3)

	step := model.Step{ActionType: model.ActionCreateTask, ActionConfig: model.JSONB{"title": "t"}}
	outcome := x.Execute(context.Background(), testRun(), 0, step)

	if outcome.Status != model.OutcomeFailure {
		t.Fatalf("expected failure, got %v", outcome.Status)
	}
	if outcome.Attempts != 3 {
		t.Fatalf("expected attempts == max, got %d", outcome.Attempts)
	}
	if svc.taskCalls != 3 {
		t.Fatalf("expected 3 service calls, got %d", svc.taskCalls)
	}
}

func TestExecutePermanentFailsImmediately(t *testing.T) {
	svc := newFakeServices()
	svc.errs = []error{services.Permanent(errors.New("rejected"))}
	x := testExecutor(svc, 5)

	step := model.Step{ActionType: model.ActionCreateTask, ActionConfig: model.JSONB{"title": "t"}}
	outcome := x.Execute(context.Background(), testRun(), 0, step)

	if outcome.Status != model.OutcomeFailure {
		t.Fatalf("expected failure, got %v", outcome.Status)
	}
	if outcome.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", outcome.Attempts)
	}
	if svc.taskCalls != 1 {
		t.Fatalf("expected 1 service call, got %d", svc.taskCalls)
	}
}

func TestExecuteWaitDaysSuspendsWithoutServiceCall(t *testing.T) {
	svc := newFakeServices()
	x := testExecutor(svc, 5)

	step := model.Step{ActionType: model.ActionWaitDays, ActionConfig: model.JSONB{"days": 3}}
	outcome := x.Execute(context.Background(), testRun(), 0, step)

	if outcome.Status != model.OutcomeSuspend {
		t.Fatalf("expected suspend, got %v", outcome.Status)
	}
	if outcome.ResumeAfter != 3*24*time.Hour {
		t.Fatalf("expected 72h resume, got %v", outcome.ResumeAfter)
	}
	if svc.taskCalls+svc.emailCalls+svc.updateCalls+svc.interactionCalls != 0 {
		t.Fatal("wait_days must not call any service")
	}
}

func TestExecuteIdempotencyKeyPerAttempt(t *testing.T) {
	svc := newFakeServices()
	svc.errs = []error{services.Transient(errors.New("timeout"))}
	x := testExecutor(svc, 5)

	run := testRun()
	step := model.Step{ActionType: model.ActionCreateTask, ActionConfig: model.JSONB{"title": "t"}}
	outcome := x.Execute(context.Background(), run, 2, step)
	if outcome.Status != model.OutcomeSuccess {
		t.Fatalf("expected success, got %v", outcome.Status)
	}

	want := []string{
		IdempotencyKey(run.ID, 2, 1),
		IdempotencyKey(run.ID, 2, 2),
	}
	if len(svc.keys) != 2 || svc.keys[0] != want[0] || svc.keys[1] != want[1] {
		t.Fatalf("unexpected idempotency keys %v, want %v", svc.keys, want)
	}
}

func TestExecuteUnknownActionIsPermanent(t *testing.T) {
	svc := newFakeServices()
	x := testExecutor(svc, 5)

	step := model.Step{ActionType: model.ActionType("launch_rocket"), ActionConfig: model.JSONB{}}
	outcome := x.Execute(context.Background(), testRun(), 0, step)

	if outcome.Status != model.OutcomeFailure || !services.IsPermanent(outcome.Err) {
		t.Fatalf("expected permanent failure, got %v (%v)", outcome.Status, outcome.Err)
	}
}

func TestRetryPolicyDelayGrows(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, BaseDelay: 2 * time.Second, Factor: 2}

	for attempt, want := range map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
	} {
		if got := p.Delay(attempt); got != want {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, want)
		}
	}
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	p := DefaultRetryPolicy()
	for i := 0; i < 50; i++ {
		d := p.Delay(2)
		lo := time.Duration(float64(4*time.Second) * 0.8)
		hi := time.Duration(float64(4*time.Second) * 1.2)
		if d < lo || d > hi {
			t.Fatalf("Delay(2) = %v outside [%v, %v]", d, lo, hi)
		}
	}
}
