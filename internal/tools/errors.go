package tools

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")
)

// ErrorType categorizes tool execution errors for retry logic.
type ErrorType string

const (
	ErrorTimeout   ErrorType = "timeout"
	ErrorNetwork   ErrorType = "network"
	ErrorRateLimit ErrorType = "rate_limit"
	ErrorExecution ErrorType = "execution"
	ErrorPanic     ErrorType = "panic"
	ErrorUnknown   ErrorType = "unknown"
)

// IsRetryable reports whether retrying an error of this type may succeed.
func (t ErrorType) IsRetryable() bool {
	switch t {
	case ErrorTimeout, ErrorNetwork, ErrorRateLimit:
		return true
	default:
		return false
	}
}

// Error is a structured tool execution failure.
type Error struct {
	Type       ErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))
	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError wraps cause with a type inferred from its message.
func NewError(toolName string, cause error) *Error {
	err := &Error{
		ToolName: toolName,
		Cause:    cause,
		Type:     ErrorUnknown,
	}
	if cause == nil {
		return err
	}

	msg := strings.ToLower(cause.Error())
	switch {
	case errors.Is(cause, ErrToolTimeout) || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		err.Type = ErrorTimeout
	case errors.Is(cause, ErrToolPanic) || strings.Contains(msg, "panic"):
		err.Type = ErrorPanic
	case strings.Contains(msg, "rate limit") || strings.Contains(msg, "429"):
		err.Type = ErrorRateLimit
	case strings.Contains(msg, "connection") || strings.Contains(msg, "network") || strings.Contains(msg, "no such host"):
		err.Type = ErrorNetwork
	default:
		err.Type = ErrorExecution
	}
	return err
}

// IsRetryable reports whether err is a retryable tool error.
func IsRetryable(err error) bool {
	var toolErr *Error
	if errors.As(err, &toolErr) {
		return toolErr.Type.IsRetryable()
	}
	return false
}
