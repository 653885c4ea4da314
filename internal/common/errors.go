// Package common defines the error kinds shared by the account stores, the
// gateway and the HTTP layer. Callers match kinds with errors.Is.
package common

import (
	"errors"
	"net/http"
)

var (
	ErrValidation         = errors.New("validation error")
	ErrReserved           = errors.New("username reserved")
	ErrConflict           = errors.New("username taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrCannotDeleteAdmin  = errors.New("cannot delete admin")

	// ErrStoreUnreachable marks failures that should send the operation to the
	// fallback store.
	ErrStoreUnreachable = errors.New("store unreachable")
	ErrInternal         = errors.New("internal error")
)

// User-facing messages. The web client matches on some of these.
const (
	MsgRequiredFields     = "Please fill required fields."
	MsgPasswordMismatch   = "Passwords do not match."
	MsgUsernameTaken      = "Username already taken"
	MsgDeletedUsername    = "Deleted usernames cannot be re-created"
	MsgMissingCredentials = "Missing credentials"
	MsgInvalidCredentials = "Invalid username or password"
	MsgMissingUsername    = "Missing username"
	MsgCannotDeleteAdmin  = "Cannot delete admin"
	MsgUserNotFound       = "User not found or already deleted"
	MsgForbidden          = "Forbidden"
	MsgServerError        = "Server error"
)

var kinds = []struct {
	kind    error
	name    string
	message string
}{
	{ErrValidation, "validation", MsgRequiredFields},
	{ErrReserved, "reserved", MsgUsernameTaken},
	{ErrConflict, "conflict", MsgUsernameTaken},
	{ErrInvalidCredentials, "invalid_credentials", MsgInvalidCredentials},
	{ErrForbidden, "forbidden", MsgForbidden},
	{ErrNotFound, "not_found", MsgUserNotFound},
	{ErrCannotDeleteAdmin, "cannot_delete_admin", MsgCannotDeleteAdmin},
	{ErrStoreUnreachable, "unreachable", MsgServerError},
	{ErrInternal, "internal", MsgServerError},
}

// Error is a classified failure carrying the message shown to the end user.
// Cause is kept for logs and errors.Is/As but never rendered.
type Error struct {
	Kind    error
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Kind, e.Cause}
	}
	return []error{e.Kind}
}

// New returns an error of the given kind with a user-facing message.
func New(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

// Wrap is New with an underlying cause.
func Wrap(kind error, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Unreachable wraps cause as ErrStoreUnreachable.
func Unreachable(cause error) error {
	return Wrap(ErrStoreUnreachable, MsgServerError, cause)
}

// Internal wraps cause as ErrInternal with the generic message.
func Internal(cause error) error {
	return Wrap(ErrInternal, MsgServerError, cause)
}

// Kind returns the sentinel err is classified under. Unclassified errors are
// ErrInternal.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k.kind) {
			return k.kind
		}
	}
	return ErrInternal
}

// KindName is a short label for metrics and logs; "ok" for nil.
func KindName(err error) string {
	if err == nil {
		return "ok"
	}
	kind := Kind(err)
	for _, k := range kinds {
		if k.kind == kind {
			return k.name
		}
	}
	return "internal"
}

// Message returns the text safe to show to the end user.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	kind := Kind(err)
	for _, k := range kinds {
		if k.kind == kind {
			return k.message
		}
	}
	return MsgServerError
}

var messageKinds = map[string]error{
	MsgRequiredFields:     ErrValidation,
	MsgPasswordMismatch:   ErrValidation,
	MsgMissingCredentials: ErrValidation,
	MsgMissingUsername:    ErrValidation,
	MsgUsernameTaken:      ErrConflict,
	MsgDeletedUsername:    ErrConflict,
	MsgInvalidCredentials: ErrInvalidCredentials,
	MsgCannotDeleteAdmin:  ErrCannotDeleteAdmin,
	MsgUserNotFound:       ErrNotFound,
	MsgForbidden:          ErrForbidden,
	MsgServerError:        ErrInternal,
}

// FromMessage rebuilds a classified error from a message received over the
// wire. Unknown messages are treated as validation failures. A reserved
// username shares MsgUsernameTaken with a taken one, so it comes back as
// ErrConflict, not ErrReserved.
func FromMessage(message string) error {
	if kind, ok := messageKinds[message]; ok {
		return New(kind, message)
	}
	return New(ErrValidation, message)
}

// HTTPStatus maps an error to the status code the HTTP surface answers with.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrValidation, ErrReserved, ErrConflict, ErrInvalidCredentials, ErrCannotDeleteAdmin:
		return http.StatusBadRequest
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}
