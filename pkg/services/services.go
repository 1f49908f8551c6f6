package services

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Entity is a flattened view of a CRM record (prospect, project,
// proposal). Fields feed template rendering and the update allow-list.
type Entity struct {
	Type   string            `json:"type"`
	ID     string            `json:"id"`
	Fields map[string]string `json:"fields"`
}

// TransientError marks a failure worth retrying: network errors,
// service unavailability, timeouts.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError marks a failure retries cannot fix: validation
// rejections, unknown records, disallowed operations.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// The collaborator services are implemented by the surrounding CRM
// application. Every mutating call carries an idempotency key derived
// from (run, step, attempt) so at-least-once delivery stays safe.

type TaskService interface {
	Create(ctx context.Context, idempotencyKey string, fields map[string]string) (string, error)
}

type EmailService interface {
	Send(ctx context.Context, idempotencyKey, to, subject, body string) error
}

type EntityService interface {
	Get(ctx context.Context, entityType, id string) (*Entity, error)
	UpdateField(ctx context.Context, idempotencyKey, entityType, id, field, value string) error
	// ListDateFieldDue returns entities whose dateField has passed,
	// feeding the date_based trigger sweep.
	ListDateFieldDue(ctx context.Context, entityType, dateField string, now time.Time) ([]Entity, error)
}

type InteractionService interface {
	Log(ctx context.Context, idempotencyKey string, fields map[string]string) error
}

// mutableFields is the allow-list of fields a workflow may write, per
// entity type. Anything else is a permanent execution error.
var mutableFields = map[string]map[string]struct{}{
	"prospect": {
		"status":            {},
		"stage":             {},
		"owner_id":          {},
		"score":             {},
		"next_follow_up_at": {},
		"notes":             {},
	},
	"project": {
		"status":   {},
		"owner_id": {},
		"notes":    {},
	},
	"proposal": {
		"status": {},
		"notes":  {},
	},
}

func IsMutableField(entityType, field string) bool {
	fields, ok := mutableFields[entityType]
	if !ok {
		return false
	}
	_, ok = fields[field]
	return ok
}
