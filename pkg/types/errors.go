package types

import (
	"errors"
	"fmt"
)

// Step names the phase of the swap flow an error came from
type Step string

const (
	StepConnecting Step = "connecting"
	StepQuoting    Step = "quoting"
	StepConfirming Step = "confirming"
	StepSubmitting Step = "submitting"
	StepTracking   Step = "tracking"
)

// Code classifies a failure
type Code string

const (
	CodeInvalidRequest        Code = "invalid_request"
	CodeGaslessUnsupported    Code = "gasless_unsupported"
	CodeAttemptInProgress     Code = "attempt_in_progress"
	CodeQuoteExpired          Code = "quote_expired"
	CodeSessionMismatch       Code = "session_mismatch"
	CodeNotConnected          Code = "not_connected"
	CodeProviderUnavailable   Code = "provider_unavailable"
	CodeUserRejected          Code = "user_rejected"
	CodeUnsupportedChain      Code = "unsupported_chain"
	CodeNoLiquidity           Code = "no_liquidity"
	CodeAggregatorUnavailable Code = "aggregator_unavailable"
	CodeSubmissionFailed      Code = "submission_failed"
	CodeRelayRejected         Code = "relay_rejected"
)

// Category groups codes by how callers should react
type Category string

const (
	CategoryLocal     Category = "local"
	CategoryProvider  Category = "provider"
	CategoryTransient Category = "transient"
	CategoryExecution Category = "execution"
)

// Category returns the handling category of the code
func (c Code) Category() Category {
	switch c {
	case CodeProviderUnavailable, CodeUserRejected, CodeUnsupportedChain, CodeNotConnected, CodeSessionMismatch:
		return CategoryProvider
	case CodeAggregatorUnavailable:
		return CategoryTransient
	case CodeSubmissionFailed, CodeRelayRejected, CodeNoLiquidity:
		return CategoryExecution
	default:
		return CategoryLocal
	}
}

// Action is the remedy a UI should offer for an error
type Action string

const (
	ActionNone           Action = "none"
	ActionInstall        Action = "install"
	ActionRetryQuote     Action = "retry_quote"
	ActionReconnect      Action = "reconnect"
	ActionRetry          Action = "retry"
	ActionSwitchManually Action = "switch_manually"
	ActionWait           Action = "wait"
)

// Action returns the suggested remedy for the code
func (c Code) Action() Action {
	switch c {
	case CodeProviderUnavailable:
		return ActionInstall
	case CodeUserRejected:
		return ActionRetry
	case CodeUnsupportedChain:
		return ActionSwitchManually
	case CodeNotConnected, CodeSessionMismatch:
		return ActionReconnect
	case CodeAttemptInProgress:
		return ActionWait
	case CodeQuoteExpired, CodeNoLiquidity, CodeAggregatorUnavailable, CodeSubmissionFailed, CodeRelayRejected:
		return ActionRetryQuote
	default:
		return ActionNone
	}
}

// Error is a classified failure carrying the step it happened in
type Error struct {
	Step    Step
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Step == "" {
		return msg
	}
	return fmt.Sprintf("%s: %s", e.Step, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, and by step when the target names one
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Step == "" || t.Step == e.Step
}

// Sentinels for errors.Is checks. They match any step.
var (
	ErrInvalidRequest        = &Error{Code: CodeInvalidRequest}
	ErrGaslessUnsupported    = &Error{Code: CodeGaslessUnsupported}
	ErrAttemptInProgress     = &Error{Code: CodeAttemptInProgress}
	ErrQuoteExpired          = &Error{Code: CodeQuoteExpired}
	ErrSessionMismatch       = &Error{Code: CodeSessionMismatch}
	ErrNotConnected          = &Error{Code: CodeNotConnected}
	ErrProviderUnavailable   = &Error{Code: CodeProviderUnavailable}
	ErrUserRejected          = &Error{Code: CodeUserRejected}
	ErrUnsupportedChain      = &Error{Code: CodeUnsupportedChain}
	ErrNoLiquidity           = &Error{Code: CodeNoLiquidity}
	ErrAggregatorUnavailable = &Error{Code: CodeAggregatorUnavailable}
	ErrSubmissionFailed      = &Error{Code: CodeSubmissionFailed}
	ErrRelayRejected         = &Error{Code: CodeRelayRejected}
)

// NewError builds a classified error with a formatted message
func NewError(step Step, code Code, format string, args ...any) *Error {
	return &Error{Step: step, Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError classifies an underlying error
func WrapError(step Step, code Code, err error, message string) *Error {
	return &Error{Step: step, Code: code, Message: message, Err: err}
}

// WithStep returns err re-labelled with step when it is a classified error that has no step yet
func WithStep(err error, step Step) error {
	var e *Error
	if !errors.As(err, &e) || e.Step != "" {
		return err
	}
	cp := *e
	cp.Step = step
	return &cp
}

// CodeOf extracts the code of a classified error, or "" when err is not classified
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// StepOf extracts the step of a classified error
func StepOf(err error) Step {
	var e *Error
	if errors.As(err, &e) {
		return e.Step
	}
	return ""
}

// IsRetryable reports whether err may be retried silently
func IsRetryable(err error) bool {
	return CodeOf(err).Category() == CategoryTransient
}
