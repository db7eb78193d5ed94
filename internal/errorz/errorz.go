// Package errorz defines the error kinds used across the auth subsystem.
//
// Every failure the service raises carries a short human-readable message
// that the consuming UI displays verbatim. The kind is what callers and
// tests branch on, the message is what end users see.
package errorz

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
)

// Kind classifies an error.
type Kind string

const (
	// KindValidation indicates malformed input, like a bad email address
	// or a too-short password.
	KindValidation Kind = "validation"
	// KindConflict indicates a uniqueness conflict, like registering an
	// email that already has an account.
	KindConflict Kind = "conflict"
	// KindAuth indicates failed authentication or authorization.
	KindAuth Kind = "auth"
	// KindNotFound indicates a missing record.
	KindNotFound Kind = "not_found"
	// KindExpired indicates a record that exists but is past its expiry.
	KindExpired Kind = "expired"
)

// ErrConstraintViolated indicates a database constraint was violated.
var ErrConstraintViolated = errors.New("constraint violated")

// Error is an error with a kind and a user-visible message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New creates a new Error with the provided kind and message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// KindOf returns the kind of err, or the empty string if err does not
// carry a kind.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the provided kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// MapDBErr maps database errors to appropriate errorz errors.
// If err is nil, MapDBErr returns nil.
func MapDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return New(KindNotFound, "not found")
	}

	sErr := sqlite3.Error{}
	if errors.As(err, &sErr) {
		if sErr.Code == sqlite3.ErrConstraint {
			return ErrConstraintViolated
		}
	}

	return err
}
