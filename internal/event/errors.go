package event

import (
	"errors"
	"fmt"
	"net/http"
)

// Machine-readable error codes returned by the Service.
const (
	CodeNotFound            = "EVENT_NOT_FOUND"
	CodeNotFamilyMember     = "NOT_FAMILY_MEMBER"
	CodeNotEventCreator     = "NOT_EVENT_CREATOR"
	CodeNotAuthorized       = "NOT_AUTHORIZED"
	CodeCrossUserNotAllowed = "CROSS_USER_EVENT_NOT_ALLOWED"
	CodeValidation          = "VALIDATION_FAILED"
	CodeInvalidRecurrence   = "INVALID_RECURRENCE_RULE"
	CodeEventLimitExceeded  = "EVENT_LIMIT_EXCEEDED"
	CodeRecurrenceDisabled  = "RECURRENCE_DISABLED"
	CodeInvalidSort         = "INVALID_SORT"
	CodeInternal            = "INTERNAL"
)

// Error is the only error shape the Service returns. Status is the HTTP
// status the failure should surface as. Err, when set, is the underlying
// cause and is never shown to clients.
type Error struct {
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same code, so callers can write
// errors.Is(err, event.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrNotFamilyMember = &Error{Code: CodeNotFamilyMember}
	ErrNotEventCreator = &Error{Code: CodeNotEventCreator}
	ErrNotAuthorized   = &Error{Code: CodeNotAuthorized}
	ErrInternal        = &Error{Code: CodeInternal}
)

func notFound(id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("event %s not found", id), Status: http.StatusNotFound}
}

func notFamilyMember() *Error {
	return &Error{Code: CodeNotFamilyMember, Message: "user is not a member of this family", Status: http.StatusForbidden}
}

func notEventCreator() *Error {
	return &Error{Code: CodeNotEventCreator, Message: "only the event creator can update this event", Status: http.StatusForbidden}
}

func notAuthorized() *Error {
	return &Error{Code: CodeNotAuthorized, Message: "not authorized to delete this event", Status: http.StatusForbidden}
}

func crossUserNotAllowed() *Error {
	return &Error{Code: CodeCrossUserNotAllowed, Message: "creating events for other users is disabled", Status: http.StatusForbidden}
}

// Validation reports a malformed request. The HTTP layer uses it for
// payload failures caught before the Service is called.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg, Status: http.StatusBadRequest}
}

// InvalidRecurrence reports an unparsable recurrence rule.
func InvalidRecurrence(rule string, err error) *Error {
	return &Error{
		Code:    CodeInvalidRecurrence,
		Message: fmt.Sprintf("invalid recurrence rule: %s", rule),
		Status:  http.StatusBadRequest,
		Err:     err,
	}
}

func limitExceeded(limit int) *Error {
	return &Error{
		Code:    CodeEventLimitExceeded,
		Message: fmt.Sprintf("family already has the maximum of %d events", limit),
		Status:  http.StatusBadRequest,
	}
}

func recurrenceDisabled() *Error {
	return &Error{Code: CodeRecurrenceDisabled, Message: "recurring events are disabled", Status: http.StatusBadRequest}
}

func invalidSort(field string) *Error {
	return &Error{Code: CodeInvalidSort, Message: fmt.Sprintf("cannot sort by %q", field), Status: http.StatusBadRequest}
}

func invalidSortOrder(order string) *Error {
	return &Error{Code: CodeInvalidSort, Message: fmt.Sprintf("sortOrder %q must be asc or desc", order), Status: http.StatusBadRequest}
}

func internal(err error) *Error {
	return &Error{Code: CodeInternal, Message: "internal server error", Status: http.StatusInternalServerError, Err: err}
}

// StatusOf maps any error to its HTTP status and client message. Errors
// that are not an *Error, or carry an unknown code, are internal.
func StatusOf(err error) (int, string) {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError, "internal server error"
	}
	status, ok := statusByCode[e.Code]
	if !ok || e.Code == CodeInternal {
		return http.StatusInternalServerError, "internal server error"
	}
	return status, e.Message
}

var statusByCode = map[string]int{
	CodeNotFound:            http.StatusNotFound,
	CodeNotFamilyMember:     http.StatusForbidden,
	CodeNotEventCreator:     http.StatusForbidden,
	CodeNotAuthorized:       http.StatusForbidden,
	CodeCrossUserNotAllowed: http.StatusForbidden,
	CodeValidation:          http.StatusBadRequest,
	CodeInvalidRecurrence:   http.StatusBadRequest,
	CodeEventLimitExceeded:  http.StatusBadRequest,
	CodeRecurrenceDisabled:  http.StatusBadRequest,
	CodeInvalidSort:         http.StatusBadRequest,
	CodeInternal:            http.StatusInternalServerError,
}
