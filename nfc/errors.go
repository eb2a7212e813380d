package nfc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorCode represents a specific type of NFC error for programmatic handling.
type ErrorCode int

const (
	// Session errors (100-199)
	ErrCodeNotSupported ErrorCode = iota + 100
	ErrCodeRegistrationFailed
	ErrCodeTagRemoved
	ErrCodeReadFailed
	ErrCodeWriteFailed
	ErrCodeInvalidData
)

// Reasons reported when the adapter cannot serve a request.
const (
	ReasonNFCUnsupported  = "NFC is not supported on this device"
	ReasonPushUnsupported = "NFC push is not supported on this device"
)

// NFCError provides structured error information for programmatic handling.
type NFCError struct {
	Code    ErrorCode
	Op      string // Operation that failed (e.g., "AddTextTypeFilter", "ShareTag")
	TagUID  string // Optional: UID of tag involved
	Message string // Human-readable reason
	Cause   error  // Underlying error
}

func (e *NFCError) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	sb.WriteString(e.Message)
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *NFCError) Unwrap() error {
	return e.Cause
}

func (e *NFCError) Is(target error) bool {
	if t, ok := target.(*NFCError); ok {
		return e.Code == t.Code
	}
	return false
}

// ErrNotSupported matches any not-supported error with errors.Is.
var ErrNotSupported = &NFCError{Code: ErrCodeNotSupported, Message: "operation not supported"}

// NewNotSupportedError creates an error for operations the adapter cannot serve.
// An empty reason falls back to a generic message.
func NewNotSupportedError(op, reason string) *NFCError {
	if reason == "" {
		reason = "operation not supported"
	}
	return &NFCError{
		Code:    ErrCodeNotSupported,
		Op:      op,
		Message: reason,
	}
}

// NewRegistrationError creates an error for a discovery source that refused a handler.
func NewRegistrationError(op string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeRegistrationFailed,
		Op:      op,
		Message: "discovery registration failed",
		Cause:   cause,
	}
}

// NewTagRemovedError creates an error for when a tag is removed mid-operation.
func NewTagRemovedError(op, tagUID string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeTagRemoved,
		Op:      op,
		TagUID:  tagUID,
		Message: "tag removed during operation",
		Cause:   cause,
	}
}

// NewReadError creates an error for read failures.
func NewReadError(op, tagUID string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeReadFailed,
		Op:      op,
		TagUID:  tagUID,
		Message: "read failed",
		Cause:   cause,
	}
}

// NewWriteError creates an error for write failures.
func NewWriteError(op, tagUID string, cause error) *NFCError {
	return &NFCError{
		Code:    ErrCodeWriteFailed,
		Op:      op,
		TagUID:  tagUID,
		Message: "write failed",
		Cause:   cause,
	}
}

// IsNotSupportedError checks if an error indicates an unsupported operation.
func IsNotSupportedError(err error) bool {
	return GetErrorCode(err) == ErrCodeNotSupported
}

// IsRegistrationError checks if an error came from discovery registration.
func IsRegistrationError(err error) bool {
	return GetErrorCode(err) == ErrCodeRegistrationFailed
}

// GetErrorCode extracts the ErrorCode from an error if it's an NFCError.
// Returns 0 if the error is not an NFCError.
func GetErrorCode(err error) ErrorCode {
	var nfcErr *NFCError
	if errors.As(err, &nfcErr) {
		return nfcErr.Code
	}
	return 0
}

// WrapError wraps an existing error with NFC context.
func WrapError(code ErrorCode, op, message string, cause error) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: message,
		Cause:   cause,
	}
}

// Errorf creates an NFCError with a formatted message.
func Errorf(code ErrorCode, op, format string, args ...any) *NFCError {
	return &NFCError{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}
