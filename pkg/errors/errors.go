// Package errors provides a structured error system for sshfs with error codes, categories, and context.
package errors

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a structured error code for sshfs operations.
type ErrorCode string

const (
	// Configuration errors
	ErrCodeInvalidConfig    ErrorCode = "INVALID_CONFIG"
	ErrCodeMissingConfig    ErrorCode = "MISSING_CONFIG"
	ErrCodeConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrCodeConfigLoad       ErrorCode = "CONFIG_LOAD"

	// Connection errors
	ErrCodeConnectionFailed  ErrorCode = "CONNECTION_FAILED"
	ErrCodeConnectionTimeout ErrorCode = "CONNECTION_TIMEOUT"
	ErrCodeNetworkError      ErrorCode = "NETWORK_ERROR"
	ErrCodeHostKeyMismatch   ErrorCode = "CONNECTION_HOST_KEY"

	// Remote backend errors
	ErrCodeRemoteNotFound     ErrorCode = "REMOTE_NOT_FOUND"
	ErrCodeRemotePermission   ErrorCode = "REMOTE_PERMISSION"
	ErrCodeRemoteNotSupported ErrorCode = "REMOTE_NOT_SUPPORTED"
	ErrCodeRemoteFailure      ErrorCode = "REMOTE_FAILURE"
	ErrCodeCommandFailed      ErrorCode = "REMOTE_COMMAND_FAILED"

	// Filesystem errors
	ErrCodeMountFailed   ErrorCode = "MOUNT_FAILED"
	ErrCodeUnmountFailed ErrorCode = "UNMOUNT_FAILED"
	ErrCodeMountInUse    ErrorCode = "MOUNT_IN_USE"
	ErrCodePathInvalid   ErrorCode = "PATH_INVALID"

	// State errors
	ErrCodeAlreadyStarted ErrorCode = "ALREADY_STARTED"
	ErrCodeInvalidState   ErrorCode = "INVALID_STATE"
	ErrCodeClosed         ErrorCode = "COMPONENT_CLOSED"

	// Operation errors
	ErrCodeOperationTimeout  ErrorCode = "OPERATION_TIMEOUT"
	ErrCodeOperationCanceled ErrorCode = "OPERATION_CANCELED"
	ErrCodeRetryExhausted    ErrorCode = "RETRY_EXHAUSTED"

	// Lock service errors
	ErrCodeLockRejected    ErrorCode = "LOCK_REJECTED"
	ErrCodeLockUnavailable ErrorCode = "LOCK_UNAVAILABLE"

	// Authentication errors
	ErrCodeAuthenticationFailed ErrorCode = "AUTHENTICATION_FAILED"
	ErrCodeCredentialsMissing   ErrorCode = "CREDENTIALS_MISSING"

	// Internal errors
	ErrCodeInternalError  ErrorCode = "INTERNAL_ERROR"
	ErrCodePanicRecovered ErrorCode = "PANIC_RECOVERED"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryConnection    ErrorCategory = "connection"
	CategoryRemote        ErrorCategory = "remote"
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryState         ErrorCategory = "state"
	CategoryOperation     ErrorCategory = "operation"
	CategoryLock          ErrorCategory = "lock"
	CategoryAuth          ErrorCategory = "auth"
	CategoryInternal      ErrorCategory = "internal"
)

// SSHFSError represents a structured error with context and metadata.
type SSHFSError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Context   map[string]string `json:"context,omitempty"`
	Cause     error             `json:"-"`
	Timestamp time.Time         `json:"timestamp"`

	Component string `json:"component"`
	Operation string `json:"operation,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *SSHFSError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Component != "" {
		if e.Operation != "" {
			msg = fmt.Sprintf("[%s:%s] %s", e.Component, e.Operation, msg)
		} else {
			msg = fmt.Sprintf("[%s] %s", e.Component, msg)
		}
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *SSHFSError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an SSHFSError with the same code.
func (e *SSHFSError) Is(target error) bool {
	if other, ok := target.(*SSHFSError); ok {
		return e.Code == other.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *SSHFSError) String() string {
	parts := []string{
		fmt.Sprintf("Code=%s", e.Code),
		fmt.Sprintf("Category=%s", e.Category),
		fmt.Sprintf("Message=%q", e.Message),
	}
	if e.Component != "" {
		parts = append(parts, fmt.Sprintf("Component=%s", e.Component))
	}
	if e.Operation != "" {
		parts = append(parts, fmt.Sprintf("Operation=%s", e.Operation))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		details, _ := json.Marshal(e.Details)
		parts = append(parts, fmt.Sprintf("Details=%s", details))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("SSHFSError{%s}", strings.Join(parts, ", "))
}

// NewError creates a new error with defaults derived from the code.
func NewError(code ErrorCode, message string) *SSHFSError {
	return &SSHFSError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
		Context:   make(map[string]string),
		Retryable: IsRetryableByDefault(code),
	}
}

// Wrap creates a new error with the given cause.
func Wrap(code ErrorCode, message string, cause error) *SSHFSError {
	return NewError(code, message).WithCause(cause)
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	s := string(code)
	switch {
	case strings.HasPrefix(s, "INVALID_CONFIG") || strings.HasPrefix(s, "MISSING_CONFIG") ||
		strings.HasPrefix(s, "CONFIG_"):
		return CategoryConfiguration
	case strings.HasPrefix(s, "CONNECTION_") || strings.HasPrefix(s, "NETWORK_"):
		return CategoryConnection
	case strings.HasPrefix(s, "REMOTE_"):
		return CategoryRemote
	case strings.HasPrefix(s, "MOUNT_") || strings.HasPrefix(s, "UNMOUNT_") ||
		strings.HasPrefix(s, "PATH_"):
		return CategoryFilesystem
	case strings.HasPrefix(s, "ALREADY_") || strings.HasPrefix(s, "INVALID_STATE") ||
		strings.HasPrefix(s, "COMPONENT_"):
		return CategoryState
	case strings.HasPrefix(s, "OPERATION_") || strings.HasPrefix(s, "RETRY_"):
		return CategoryOperation
	case strings.HasPrefix(s, "LOCK_"):
		return CategoryLock
	case strings.HasPrefix(s, "AUTHENTICATION_") || strings.HasPrefix(s, "CREDENTIALS_"):
		return CategoryAuth
	default:
		return CategoryInternal
	}
}

// IsRetryableByDefault determines if an error is retryable by default.
func IsRetryableByDefault(code ErrorCode) bool {
	switch code {
	case ErrCodeConnectionTimeout,
		ErrCodeConnectionFailed,
		ErrCodeNetworkError,
		ErrCodeOperationTimeout,
		ErrCodeRemoteFailure,
		ErrCodeLockRejected,
		ErrCodeLockUnavailable:
		return true
	}
	return false
}

// WithContext adds contextual information to an error
func (e *SSHFSError) WithContext(key, value string) *SSHFSError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithDetail adds detailed information to an error
func (e *SSHFSError) WithDetail(key string, value interface{}) *SSHFSError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *SSHFSError) WithComponent(component string) *SSHFSError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *SSHFSError) WithOperation(operation string) *SSHFSError {
	e.Operation = operation
	return e
}

// WithCause sets the underlying cause
func (e *SSHFSError) WithCause(cause error) *SSHFSError {
	e.Cause = cause
	return e
}

// WithRetryable overrides the default retry hint
func (e *SSHFSError) WithRetryable(retryable bool) *SSHFSError {
	e.Retryable = retryable
	return e
}
