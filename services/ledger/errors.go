package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Kind is the stable, transport independent class of a failure.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindConflict        Kind = "conflict"
	KindNotFound        Kind = "not_found"
	KindForbidden       Kind = "forbidden"
	KindUnauthenticated Kind = "unauthenticated"
	KindTransient       Kind = "transient"
	KindNotification    Kind = "notification"
	KindInternal        Kind = "internal"
)

// FieldViolation describes one rejected input field.
type FieldViolation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is the only error type that leaves the ledger package. Message is
// safe to show to callers; Err keeps the underlying cause for logs.
type Error struct {
	Kind    Kind
	Message string
	Fields  []FieldViolation
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so callers can use the sentinels
// below with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrValidation      = &Error{Kind: KindValidation, Message: "invalid input"}
	ErrConflict        = &Error{Kind: KindConflict, Message: "conflict"}
	ErrNotFound        = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden       = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Message: "unauthenticated"}
	ErrTransient       = &Error{Kind: KindTransient, Message: "temporarily unavailable"}
	ErrNotification    = &Error{Kind: KindNotification, Message: "notification failed"}
	ErrInternal        = &Error{Kind: KindInternal, Message: "internal error"}
)

// KindOf reports the kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind
	}
	return KindInternal
}

func invalid(fields ...FieldViolation) error {
	return &Error{Kind: KindValidation, Message: "invalid input", Fields: fields}
}

func conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func notFound(entity string) error {
	return &Error{Kind: KindNotFound, Message: entity + " not found"}
}

func forbidden(msg string) error {
	return &Error{Kind: KindForbidden, Message: msg}
}

func unauthenticated(msg string) error {
	return &Error{Kind: KindUnauthenticated, Message: msg}
}

// violations accumulates field errors during input validation.
type violations []FieldViolation

func (v *violations) add(field, msg string) {
	*v = append(*v, FieldViolation{Field: field, Message: msg})
}

func (v violations) err() error {
	if len(v) == 0 {
		return nil
	}
	return invalid(v...)
}

var uniqueMessages = map[string]string{
	"idx_users_email":              "email already exists",
	"idx_donation_categories_name": "category name already exists",
}

// classify maps store and driver errors onto the taxonomy. Errors that are
// already classified pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var le *Error
	if errors.As(err, &le) {
		return err
	}

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &Error{Kind: KindNotFound, Message: "record not found", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTransient, Message: "store operation timed out", Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			msg, ok := uniqueMessages[pgErr.ConstraintName]
			if !ok {
				msg = "duplicate value"
			}
			return &Error{Kind: KindConflict, Message: msg, Err: err}
		case "23503":
			return &Error{Kind: KindConflict, Message: "record is still referenced", Err: err}
		case "23514":
			return &Error{Kind: KindValidation, Message: "value violates a store constraint", Err: err}
		case "40001", "40P01", "55P03", "57014", "53300":
			return &Error{Kind: KindTransient, Message: "store temporarily unavailable", Err: err}
		}
		if strings.HasPrefix(pgErr.Code, "08") {
			return &Error{Kind: KindTransient, Message: "store connection lost", Err: err}
		}
		return &Error{Kind: KindInternal, Message: "internal store error", Err: err}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return &Error{Kind: KindTransient, Message: "store unavailable", Err: err}
	}

	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}
