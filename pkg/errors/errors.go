package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"time"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeTransient     Code = "TRANSIENT_NETWORK_ERROR"
	CodeRejected      Code = "REJECTED_REQUEST"
	CodeSecurity      Code = "SECURITY_INVARIANT_VIOLATION"
	CodeCancelled     Code = "REQUEST_CANCELLED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeNotFound: {
		HTTPStatus:     http.StatusNotFound,
		Retryable:      false,
		PublicMessage:  "resource not found",
		DetailsAllowed: false,
	},
	CodeConflict: {
		HTTPStatus:     http.StatusConflict,
		Retryable:      false,
		PublicMessage:  "conflict detected",
		DetailsAllowed: false,
	},
	CodeStateConflict: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "state transition disallowed",
		DetailsAllowed: true,
	},
	CodeRateLimit: {
		HTTPStatus:     http.StatusTooManyRequests,
		Retryable:      false,
		PublicMessage:  "too many attempts, please wait a moment",
		DetailsAllowed: true,
	},
	CodeTransient: {
		HTTPStatus:     http.StatusBadGateway,
		Retryable:      true,
		PublicMessage:  "connection problem, check your internet",
		DetailsAllowed: false,
	},
	CodeRejected: {
		HTTPStatus:     http.StatusUnprocessableEntity,
		Retryable:      false,
		PublicMessage:  "request rejected",
		DetailsAllowed: true,
	},
	CodeSecurity: {
		HTTPStatus:     http.StatusBadRequest,
		Retryable:      false,
		PublicMessage:  "invalid order data",
		DetailsAllowed: false,
	},
	CodeCancelled: {
		HTTPStatus:     499,
		Retryable:      false,
		PublicMessage:  "request cancelled",
		DetailsAllowed: false,
	},
	CodeInternal: {
		HTTPStatus:     http.StatusInternalServerError,
		Retryable:      true,
		PublicMessage:  "internal server error",
		DetailsAllowed: false,
	},
	CodeDependency: {
		HTTPStatus:     http.StatusServiceUnavailable,
		Retryable:      true,
		PublicMessage:  "dependency unavailable",
		DetailsAllowed: true,
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// RateLimitDetails is attached to CodeRateLimit errors.
type RateLimitDetails struct {
	RetryAfter        time.Duration `json:"-"`
	RetryAfterSeconds int           `json:"retry_after_seconds"`
}

// UpstreamDetails is attached to errors derived from a backend response.
type UpstreamDetails struct {
	Status int    `json:"status"`
	Body   string `json:"body,omitempty"`
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

// RateLimited builds a rate limit error carrying the suggested wait.
func RateLimited(retryAfter time.Duration) *Error {
	secs := int((retryAfter + time.Second - 1) / time.Second)
	return New(CodeRateLimit, fmt.Sprintf("rate limit exceeded, try again in %ds", secs)).
		WithDetails(RateLimitDetails{RetryAfter: retryAfter, RetryAfterSeconds: secs})
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// CodeOf returns the code of the outermost typed error, or CodeInternal.
func CodeOf(err error) Code {
	if typed := As(err); typed != nil {
		return typed.Code()
	}
	return CodeInternal
}

func IsCancelled(err error) bool {
	return err != nil && CodeOf(err) == CodeCancelled
}

func IsTransient(err error) bool {
	return err != nil && CodeOf(err) == CodeTransient
}

func IsRateLimited(err error) bool {
	return err != nil && CodeOf(err) == CodeRateLimit
}

// RetryAfter extracts the suggested wait from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	typed := As(err)
	if typed == nil || typed.Code() != CodeRateLimit {
		return 0, false
	}
	if details, ok := typed.Details().(RateLimitDetails); ok {
		return details.RetryAfter, true
	}
	return 0, false
}
