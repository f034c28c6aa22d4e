// Package dberr defines the error taxonomy shared by the table access engine
// and maps PostgreSQL driver errors onto it.
package dberr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/puddle/v2"
)

// Kind classifies a failure for callers that need to pick a response.
type Kind int

const (
	Unknown Kind = iota
	Validation
	Conflict
	NotFound
	Unauthorized
	Forbidden
	Transient
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Conflict:
		return "conflict"
	case NotFound:
		return "not_found"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

// Error is a classified failure. Msg is safe to show to an operator.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Msg)
	if e.Err != nil && e.Err.Error() != e.Msg {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so errors.Is(err, &Error{Kind: NotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Msg == ""
}

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Validationf(format string, args ...any) *Error { return newf(Validation, format, args...) }
func Conflictf(format string, args ...any) *Error   { return newf(Conflict, format, args...) }
func NotFoundf(format string, args ...any) *Error   { return newf(NotFound, format, args...) }
func Forbiddenf(format string, args ...any) *Error  { return newf(Forbidden, format, args...) }
func Transientf(format string, args ...any) *Error  { return newf(Transient, format, args...) }

// KindOf returns the kind of err, classifying driver errors on the way.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Classify("", err).Kind
}

// Is reports whether err is of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the operator-facing message for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Msg
	}
	return err.Error()
}

// Classify wraps err as an *Error. Errors that are already classified keep
// their kind and gain op if they have none.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if e.Op == "" && op != "" {
			return &Error{Kind: e.Kind, Op: op, Msg: e.Msg, Err: e.Err}
		}
		return e
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: Transient, Op: op, Msg: "database call timed out", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: Transient, Op: op, Msg: "request cancelled", Err: err}
	}

	if errors.Is(err, puddle.ErrClosedPool) {
		return &Error{Kind: Transient, Op: op, Msg: "connection was switched while the request ran; retry", Err: err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &Error{Kind: kindForSQLState(pgErr.Code), Op: op, Msg: pgMessage(pgErr), Err: err}
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return &Error{Kind: Transient, Op: op, Msg: "cannot reach database", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &Error{Kind: Transient, Op: op, Msg: "database connection lost", Err: err}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return &Error{Kind: Transient, Op: op, Msg: "database temporarily unavailable", Err: err}
	}

	return &Error{Kind: Unknown, Op: op, Msg: err.Error(), Err: err}
}

// SQLState returns the SQLSTATE code carried by err, or "".
func SQLState(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func pgMessage(pgErr *pgconn.PgError) string {
	if pgErr.Detail != "" {
		return pgErr.Message + " (" + pgErr.Detail + ")"
	}
	return pgErr.Message
}

// kindForSQLState maps a SQLSTATE code onto a Kind.
func kindForSQLState(code string) Kind {
	switch code {
	case "23505", "42P07", "2BP01", "23503", "42710":
		return Conflict
	case "42P01", "3F000":
		return NotFound
	case "23502", "23514", "42703":
		return Validation
	case "28000", "28P01":
		return Unauthorized
	case "25006", "42501":
		return Forbidden
	case "57P01", "57P02", "57P03", "53300", "40001", "40P01":
		return Transient
	}
	switch {
	case strings.HasPrefix(code, "22"):
		return Validation
	case strings.HasPrefix(code, "08"):
		return Transient
	}
	return Unknown
}
