package pipeline

import (
	"fmt"
)

type Kind int

const (
	InternalError Kind = iota
	InvalidRequest
	FetchFailed
	TransformFailed
	RegistrationFailed
	NotFound
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case FetchFailed:
		return "fetch_failed"
	case TransformFailed:
		return "transform_failed"
	case RegistrationFailed:
		return "registration_failed"
	case NotFound:
		return "not_found"
	default:
		return "internal_error"
	}
}

// Error is the only error type Run returns. Two Errors match under
// errors.Is when their kinds are equal, so the sentinels below can be used
// as targets.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

var (
	ErrInvalidRequest     = &Error{Kind: InvalidRequest}
	ErrFetchFailed        = &Error{Kind: FetchFailed}
	ErrTransformFailed    = &Error{Kind: TransformFailed}
	ErrRegistrationFailed = &Error{Kind: RegistrationFailed}
	ErrNotFound           = &Error{Kind: NotFound}
	ErrInternal           = &Error{Kind: InternalError}
)

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
