// Package errors provides the structured error taxonomy used across fusekv and
// its mapping onto filesystem error numbers.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"syscall"
	"time"
)

// ErrorCode identifies the failure class of a fusekv operation.
type ErrorCode string

const (
	// Filesystem errors
	ErrCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	ErrCodeReadOnly         ErrorCode = "READ_ONLY"
	ErrCodeInvalidPath      ErrorCode = "INVALID_PATH"

	// Store errors
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeStoreError       ErrorCode = "STORE_ERROR"

	// Configuration errors
	ErrCodeInvalidConfig ErrorCode = "INVALID_CONFIG"
	ErrCodeConfigLoad    ErrorCode = "CONFIG_LOAD"

	// Internal errors
	ErrCodeInternalError ErrorCode = "INTERNAL_ERROR"
)

// ErrorCategory represents the general category of an error.
type ErrorCategory string

const (
	CategoryFilesystem    ErrorCategory = "filesystem"
	CategoryStore         ErrorCategory = "store"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryInternal      ErrorCategory = "internal"
)

// KVError is a structured error carrying the code, the component that
// raised it and the path it concerns.
type KVError struct {
	Code     ErrorCode              `json:"code"`
	Category ErrorCategory          `json:"category"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`

	Cause     error     `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Component string `json:"component,omitempty"`
	Operation string `json:"operation,omitempty"`
	Path      string `json:"path,omitempty"`

	Retryable bool `json:"retryable"`
}

// Error implements the error interface.
func (e *KVError) Error() string {
	var sb strings.Builder
	if e.Component != "" {
		sb.WriteString("[")
		sb.WriteString(e.Component)
		if e.Operation != "" {
			sb.WriteString(":")
			sb.WriteString(e.Operation)
		}
		sb.WriteString("] ")
	}
	sb.WriteString(string(e.Code))
	sb.WriteString(": ")
	sb.WriteString(e.Message)
	if e.Path != "" {
		sb.WriteString(" (")
		sb.WriteString(e.Path)
		sb.WriteString(")")
	}
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

// Unwrap returns the underlying cause error for error wrapping compatibility.
func (e *KVError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *KVError with the same code.
func (e *KVError) Is(target error) bool {
	if kvErr, ok := target.(*KVError); ok {
		return e.Code == kvErr.Code
	}
	return false
}

// String returns a detailed representation for logging.
func (e *KVError) String() string {
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
	if e.Path != "" {
		parts = append(parts, fmt.Sprintf("Path=%s", e.Path))
	}
	if e.Retryable {
		parts = append(parts, "Retryable=true")
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		details := make([]string, 0, len(keys))
		for _, k := range keys {
			details = append(details, fmt.Sprintf("%s:%v", k, e.Details[k]))
		}
		parts = append(parts, fmt.Sprintf("Details={%s}", strings.Join(details, " ")))
	}
	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("Cause=%q", e.Cause.Error()))
	}
	return fmt.Sprintf("KVError{%s}", strings.Join(parts, ", "))
}

// JSON returns the error as a JSON string.
func (e *KVError) JSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal error: %s"}`, err.Error())
	}
	return string(data)
}

// NewError creates a new error with defaults derived from the code.
func NewError(code ErrorCode, message string) *KVError {
	return &KVError{
		Code:      code,
		Category:  GetCategory(code),
		Message:   message,
		Timestamp: time.Now(),
		Retryable: code == ErrCodeStoreUnavailable,
	}
}

// GetCategory determines the category based on the error code.
func GetCategory(code ErrorCode) ErrorCategory {
	switch code {
	case ErrCodeNotFound, ErrCodePermissionDenied, ErrCodeReadOnly, ErrCodeInvalidPath:
		return CategoryFilesystem
	case ErrCodeStoreUnavailable, ErrCodeStoreError:
		return CategoryStore
	case ErrCodeInvalidConfig, ErrCodeConfigLoad:
		return CategoryConfiguration
	default:
		return CategoryInternal
	}
}

// WithDetail adds detailed information to an error
func (e *KVError) WithDetail(key string, value interface{}) *KVError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithComponent sets the component for an error
func (e *KVError) WithComponent(component string) *KVError {
	e.Component = component
	return e
}

// WithOperation sets the operation for an error
func (e *KVError) WithOperation(operation string) *KVError {
	e.Operation = operation
	return e
}

// WithPath sets the filesystem path the error concerns
func (e *KVError) WithPath(path string) *KVError {
	e.Path = path
	return e
}

// WithCause sets the underlying cause
func (e *KVError) WithCause(cause error) *KVError {
	e.Cause = cause
	return e
}

// Convenience constructors for the codes raised on the request path.

func NotFound(path string) *KVError {
	return NewError(ErrCodeNotFound, "no such file or directory").WithPath(path)
}

func PermissionDenied(path string) *KVError {
	return NewError(ErrCodePermissionDenied, "permission denied").WithPath(path)
}

func ReadOnly(path string) *KVError {
	return NewError(ErrCodeReadOnly, "read-only file system").WithPath(path)
}

func InvalidPath(path string) *KVError {
	return NewError(ErrCodeInvalidPath, "invalid path").WithPath(path)
}

func StoreUnavailable(message string, cause error) *KVError {
	return NewError(ErrCodeStoreUnavailable, message).WithCause(cause)
}

func StoreError(message string, cause error) *KVError {
	return NewError(ErrCodeStoreError, message).WithCause(cause)
}

// CodeOf returns the code of the first *KVError in err's chain, or
// ErrCodeInternalError when there is none.
func CodeOf(err error) ErrorCode {
	var kvErr *KVError
	if stderrors.As(err, &kvErr) {
		return kvErr.Code
	}
	return ErrCodeInternalError
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// Errno maps an error onto the errno returned to the kernel. Only the
// standard categories cross the filesystem boundary.
func Errno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var kvErr *KVError
	if !stderrors.As(err, &kvErr) {
		var errno syscall.Errno
		if stderrors.As(err, &errno) {
			return errno
		}
		return syscall.EIO
	}
	switch kvErr.Code {
	case ErrCodeNotFound, ErrCodeInvalidPath:
		return syscall.ENOENT
	case ErrCodePermissionDenied:
		return syscall.EACCES
	case ErrCodeReadOnly:
		return syscall.EROFS
	default:
		return syscall.EIO
	}
}
