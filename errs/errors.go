// Package errs defines the failure kinds surfaced by the recall pipeline.
// Callers discriminate outcomes with errors.As or KindOf, never by message.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindSession     Kind = "session"
	KindTransport   Kind = "transport"
	KindDecode      Kind = "decode"
	KindPersistence Kind = "persistence"
	KindUnknown     Kind = "unknown"
)

// ValidationError reports a malformed request. It is always raised before any I/O.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// SessionError reports that no bearer token could be obtained.
type SessionError struct {
	Err error
}

func (e *SessionError) Error() string {
	if e.Err == nil {
		return "session: no valid session"
	}
	return "session: " + e.Err.Error()
}

func (e *SessionError) Unwrap() error { return e.Err }

// TransportError covers network failures and non-2xx responses.
type TransportError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	switch {
	case e.Status != 0 && e.Body != "":
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.Status, e.Body)
	case e.Status != 0:
		return fmt.Sprintf("%s: status %d", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": transport failure"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports a response body that does not match the expected schema.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("%s: decode: %v", e.Op, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }

// PersistenceError reports a failed artifact save after a successful synthesis.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persist artifact: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func Session(err error) error {
	var se *SessionError
	if errors.As(err, &se) {
		return err
	}
	return &SessionError{Err: err}
}

func Transport(op string, err error) error {
	return &TransportError{Op: op, Err: err}
}

func Status(op string, status int, body string) error {
	return &TransportError{Op: op, Status: status, Body: body}
}

func Decode(op string, err error) error {
	return &DecodeError{Op: op, Err: err}
}

func Persistence(err error) error {
	return &PersistenceError{Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var (
		ve *ValidationError
		se *SessionError
		te *TransportError
		de *DecodeError
		pe *PersistenceError
	)
	switch {
	case errors.As(err, &pe):
		return KindPersistence
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &se):
		return KindSession
	case errors.As(err, &de):
		return KindDecode
	case errors.As(err, &te):
		return KindTransport
	default:
		return KindUnknown
	}
}
