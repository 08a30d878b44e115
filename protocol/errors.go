package protocol

import (
	"encoding/json"
	"fmt"
)

// ErrorCode represents standardized error codes across drivers
type ErrorCode int

const (
	// Connection errors (1000-1099)
	ErrorCodeConnectionRefused ErrorCode = 1001
	ErrorCodeTimeout           ErrorCode = 1002
	ErrorCodeAuthFailed        ErrorCode = 1003
	ErrorCodeClosed            ErrorCode = 1004

	// Protocol errors (2000-2099)
	ErrorCodeProtocolError ErrorCode = 2001

	// Bulk copy errors (3000-3099)
	ErrorCodeBulkInit     ErrorCode = 3001
	ErrorCodeBulkBind     ErrorCode = 3002
	ErrorCodeBulkSend     ErrorCode = 3003
	ErrorCodeBulkBatch    ErrorCode = 3004
	ErrorCodeBulkDone     ErrorCode = 3005
	ErrorCodeNoBulkActive ErrorCode = 3006

	// Library errors (9000-9999)
	ErrorCodeLibraryInitFailed ErrorCode = 9999
)

// TransportError represents a driver failure with a structured error code
type TransportError struct {
	Code        ErrorCode              `json:"code"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	IsRetryable bool                   `json:"isRetryable"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface
func (e *TransportError) Error() string {
	msg := fmt.Sprintf("[%d] %s", e.Code, e.Message)
	if len(e.Details) > 0 {
		detailsJSON, _ := json.Marshal(e.Details)
		msg = fmt.Sprintf("%s (details: %s)", msg, string(detailsJSON))
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Cause.Error())
	}
	return msg
}

// Unwrap returns the underlying driver error
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a new transport error
func NewTransportError(code ErrorCode, message string, details map[string]interface{}) *TransportError {
	return &TransportError{
		Code:        code,
		Message:     message,
		Details:     details,
		IsRetryable: isRetryable(code),
	}
}

// WrapTransportError creates a transport error around a driver error
func WrapTransportError(code ErrorCode, message string, cause error) *TransportError {
	err := NewTransportError(code, message, nil)
	err.Cause = cause
	return err
}

// isRetryable determines if an error code represents a retryable error
func isRetryable(code ErrorCode) bool {
	switch code {
	case ErrorCodeTimeout, ErrorCodeConnectionRefused:
		return true
	default:
		return false
	}
}

// BulkError creates a bulk copy transport error for the given column
func BulkError(code ErrorCode, message string, column int) *TransportError {
	return NewTransportError(code, message, map[string]interface{}{
		"column": column,
	})
}

// NoBulkActiveError reports a bulk operation issued before bulk copy was initialized
func NoBulkActiveError(operation string) *TransportError {
	return NewTransportError(ErrorCodeNoBulkActive, "no bulk copy in progress", map[string]interface{}{
		"operation": operation,
	})
}

// ClosedError reports use of a released handle
func ClosedError() *TransportError {
	return NewTransportError(ErrorCodeClosed, "handle is closed", nil)
}

// LibraryInitError creates a library initialization error
func LibraryInitError(message string) *TransportError {
	return NewTransportError(ErrorCodeLibraryInitFailed, message, nil)
}

// ToJSON serializes the error to JSON, used by the CLI's machine-readable output
func (e *TransportError) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}
