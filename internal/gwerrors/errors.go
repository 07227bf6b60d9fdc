// Package gwerrors classifies gateway failures against the HTTP status
// taxonomy CashFlow402 exposes to its callers.
package gwerrors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Kind categorizes a GatewayError against a stable HTTP status.
type Kind int

const (
	// BadRequest indicates a missing or invalid request field.
	BadRequest Kind = iota
	// PaymentRequired indicates no token, an unknown token, an inactive
	// subscription, exhausted balance, or failed payment verification.
	PaymentRequired
	// Forbidden indicates the bound plan forbids the requested path.
	Forbidden
	// NotFound indicates an unknown contract or plan.
	NotFound
	// Conflict indicates a state-machine violation.
	Conflict
	// Unauthorized indicates a webhook secret mismatch.
	Unauthorized
	// ServerError indicates misconfiguration or an unhandled builder
	// failure.
	ServerError
)

func (k Kind) String() string {
	switch k {
	case BadRequest:
		return "BadRequest"
	case PaymentRequired:
		return "PaymentRequired"
	case Forbidden:
		return "Forbidden"
	case NotFound:
		return "NotFound"
	case Conflict:
		return "Conflict"
	case Unauthorized:
		return "Unauthorized"
	case ServerError:
		return "ServerError"
	default:
		return "Unknown"
	}
}

// StatusCode returns the HTTP status this Kind maps to.
func (k Kind) StatusCode() int {
	switch k {
	case BadRequest:
		return http.StatusBadRequest
	case PaymentRequired:
		return http.StatusPaymentRequired
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case Conflict:
		return http.StatusConflict
	case Unauthorized:
		return http.StatusUnauthorized
	case ServerError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// GatewayError is the error type every gateway operation returns when
// it needs to communicate a classified failure to an HTTP caller.
type GatewayError struct {
	Kind      Kind
	Message   string
	Detail    string
	Hint      string
	RequestID string
	Cause     error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// envelope is the wire shape written to HTTP callers.
type envelope struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Hint      string `json:"hint,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Write serializes the error as the standard JSON envelope and sets
// the response status to the Kind's mapped HTTP status.
func (e *GatewayError) Write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Kind.StatusCode())
	_ = json.NewEncoder(w).Encode(envelope{
		Error:     e.Message,
		Detail:    e.Detail,
		Hint:      e.Hint,
		RequestID: e.RequestID,
	})
}

// New builds a GatewayError of the given kind.
func New(kind Kind, message string) *GatewayError {
	return &GatewayError{Kind: kind, Message: message}
}

// Newf builds a GatewayError with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *GatewayError {
	return &GatewayError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds a GatewayError carrying an underlying cause.
func Wrap(kind Kind, message string, cause error) *GatewayError {
	return &GatewayError{Kind: kind, Message: message, Cause: cause}
}

// WithDetail returns a copy of e carrying the given detail string.
func (e *GatewayError) WithDetail(detail string) *GatewayError {
	cp := *e
	cp.Detail = detail
	return &cp
}

// WithHint returns a copy of e carrying the given hint string.
func (e *GatewayError) WithHint(hint string) *GatewayError {
	cp := *e
	cp.Hint = hint
	return &cp
}

// WithRequestID returns a copy of e stamped with the given request id.
func (e *GatewayError) WithRequestID(id string) *GatewayError {
	cp := *e
	cp.RequestID = id
	return &cp
}

// Is* helpers mirror the teacher's IsRetryable/IsNonRetryable
// predicates, generalized from retry classification to HTTP-status
// classification.

// IsKind reports whether err is a *GatewayError of the given Kind.
func IsKind(err error, kind Kind) bool {
	if gerr, ok := err.(*GatewayError); ok {
		return gerr.Kind == kind
	}
	return false
}

// As extracts a *GatewayError from err, if it is one.
func As(err error) (*GatewayError, bool) {
	gerr, ok := err.(*GatewayError)
	return gerr, ok
}
