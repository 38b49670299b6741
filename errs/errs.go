// Package errs provides structured error types and helpers for rmpay services.
package errs

import (
	"errors"
	"strconv"
	"strings"
)

// Code identifies an error category produced by the payment stack.
type Code string

const (
	// CodeAuth indicates that the client-credential exchange failed.
	CodeAuth Code = "auth"
	// CodeSigning indicates a missing or malformed signing key.
	CodeSigning Code = "signing"
	// CodeNetwork indicates a network transport failure, including timeouts.
	CodeNetwork Code = "network"
	// CodeEmptyResponse indicates that the provider returned no body.
	CodeEmptyResponse Code = "empty_response"
	// CodeProvider indicates a structured error returned by the provider.
	CodeProvider Code = "provider_error"
	// CodeInvalid indicates invalid input provided by the caller.
	CodeInvalid Code = "invalid_request"
	// CodeConflict indicates an attempt to overwrite a terminal transaction state.
	CodeConflict Code = "conflict"
	// CodeNotFound indicates a missing local record.
	CodeNotFound Code = "not_found"
)

// CanonicalCode captures provider-agnostic error categories consumed by the
// reconciliation policy.
type CanonicalCode string

const (
	// CanonicalUnknown captures uncategorized failures.
	CanonicalUnknown CanonicalCode = "unknown"
	// CanonicalTransactionNotFound indicates that the referenced transaction
	// does not exist on the provider side.
	CanonicalTransactionNotFound CanonicalCode = "transaction_not_found"
)

// E captures structured error information produced across the rmpay stack.
type E struct {
	Op        string
	Code      Code
	HTTP      int
	RawCode   string
	RawMsg    string
	Message   string
	Canonical CanonicalCode

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the failing operation and error code.
func New(op string, code Code, opts ...Option) *E {
	e := &E{
		Op:        strings.TrimSpace(op),
		Code:      code,
		Canonical: CanonicalUnknown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message to the error.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw provider error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw provider error message.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithCanonicalCode sets the canonical code describing the failure category.
func WithCanonicalCode(code CanonicalCode) Option {
	trimmed := strings.TrimSpace(string(code))
	return func(e *E) {
		if trimmed == "" {
			e.Canonical = CanonicalUnknown
			return
		}
		e.Canonical = CanonicalCode(trimmed)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	op := strings.TrimSpace(e.Op)
	if op == "" {
		op = "unknown"
	}
	parts = append(parts, "op="+op)

	code := strings.TrimSpace(string(e.Code))
	if code == "" {
		code = "unknown"
	}
	parts = append(parts, "code="+code)

	if cc := strings.TrimSpace(string(e.Canonical)); cc != "" && cc != string(CanonicalUnknown) {
		parts = append(parts, "canonical="+cc)
	}

	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// CodeOf extracts the error code from err, or an empty code when err is not
// an envelope.
func CodeOf(err error) Code {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given error code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsTransactionNotFound reports whether err represents a provider-side
// missing transaction.
func IsTransactionNotFound(err error) bool {
	var e *E
	if errors.As(err, &e) && e != nil {
		return e.Canonical == CanonicalTransactionNotFound
	}
	return false
}

// NotFound returns a standardized error for a missing local record.
func NotFound(ref string) *E {
	return New("ledger.get", CodeNotFound,
		WithMessage("transaction record not found"), WithRawMessage(ref))
}

// Conflict returns a standardized error for a refused terminal overwrite.
func Conflict(ref, currentStatus string) *E {
	return New("ledger.update_status", CodeConflict,
		WithMessage("terminal status must not be overwritten"),
		WithRawMessage(ref+" status="+currentStatus))
}
