package ws

import "fmt"

// Error codes surfaced in the error outbound event.
const (
	CodeUnauthenticated = "unauthenticated"
	CodeValidation      = "validation_error"
	CodeNotFound        = "not_found"
	CodeForbidden       = "forbidden"
	CodeNoMessages      = "no_messages"
	CodeInternal        = "internal_error"
)

// eventError is a failure of a single inbound event. It is converted to an
// error outbound event at the dispatch boundary; only CodeUnauthenticated
// additionally terminates the connection.
type eventError struct {
	Code    string
	Message string
	Cause   error
}

func (e *eventError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *eventError) Unwrap() error {
	return e.Cause
}

func eventErr(code, message string) *eventError {
	return &eventError{Code: code, Message: message}
}

func internalErr(err error) *eventError {
	return &eventError{Code: CodeInternal, Message: "internal error", Cause: err}
}

// payload renders the error for the wire. Internal errors include the
// underlying detail; this is deliberate diagnostic exposure.
func (e *eventError) payload() ErrorPayload {
	msg := e.Message
	if e.Code == CodeInternal && e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return ErrorPayload{Code: e.Code, Message: msg}
}
