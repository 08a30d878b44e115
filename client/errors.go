package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Error codes carried in the Code field of the client error types.
const (
	CodeInitFailed   = "E_INIT_FAILED"
	CodeParameter    = "E_PARAMETER"
	CodeLogin        = "E_LOGIN"
	CodeDatabase     = "E_DATABASE"
	CodeSessionOpen  = "E_SESSION_OPEN"
	CodeSessionInit  = "E_SESSION_INIT"
	CodeSessionOpt   = "E_SESSION_OPTION"
	CodeNoSession    = "E_NO_SESSION"
	CodeRowWidth     = "E_ROW_WIDTH"
	CodeBind         = "E_BIND"
	CodeSend         = "E_SEND"
	CodeBatch        = "E_BATCH"
	CodeDone         = "E_DONE"
	CodeConversion   = "E_CONVERSION"
	CodeProtocol     = "E_PROTOCOL"
	CodeInvalidState = "INVALID_STATE"
)

// baseError holds the fields shared by every client error type.
type baseError struct {
	Code       string                 `json:"code"`
	Type       string                 `json:"type"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"cause,omitempty"`
	StackTrace []string               `json:"stack_trace,omitempty"`
	Timestamp  time.Time              `json:"timestamp,omitempty"`
}

func newBase(code, typ, message string, details map[string]interface{}, cause error) baseError {
	return baseError{
		Code:       code,
		Type:       typ,
		Message:    message,
		Details:    details,
		Cause:      cause,
		StackTrace: captureStackTrace(),
		Timestamp:  time.Now(),
	}
}

// Error implements the error interface.
// Returns JSON format for backward compatibility.
// Use FormatError() for flexible formatting based on debug mode.
func (e *baseError) Error() string {
	b, _ := json.Marshal(e.fields(false))
	return string(b)
}

// FormatError formats the error based on debug mode setting.
// When debugMode=false: returns simple "CODE: message" format.
// When debugMode=true: returns indented JSON with stack trace and timestamp.
func (e *baseError) FormatError(debugMode bool) string {
	if !debugMode {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %s (caused by: %s)", e.Code, e.Message, causeMessage(e.Cause))
		}
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}

	b, _ := json.MarshalIndent(e.fields(true), "", "  ")
	return string(b)
}

// Unwrap returns the underlying cause error for errors.Is and errors.As compatibility.
func (e *baseError) Unwrap() error {
	return e.Cause
}

// ErrorCode returns the code of the error
func (e *baseError) ErrorCode() string {
	return e.Code
}

func (e *baseError) fields(debugMode bool) map[string]interface{} {
	errorData := map[string]interface{}{
		"code":    e.Code,
		"type":    e.Type,
		"message": e.Message,
	}

	if len(e.Details) > 0 {
		errorData["details"] = e.Details
	}

	if e.Cause != nil {
		var coded interface {
			ErrorCode() string
		}
		if errors.As(e.Cause, &coded) {
			errorData["cause"] = map[string]interface{}{
				"code":    coded.ErrorCode(),
				"message": causeMessage(e.Cause),
			}
		} else {
			errorData["cause"] = map[string]interface{}{
				"message": e.Cause.Error(),
			}
		}
	}

	if debugMode {
		if len(e.StackTrace) > 0 {
			errorData["stack_trace"] = e.StackTrace
		}
		if !e.Timestamp.IsZero() {
			errorData["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
		}
	}

	return errorData
}

// causeMessage returns the plain message of client errors and Error() of
// anything else.
func causeMessage(err error) string {
	type messager interface {
		plainMessage() string
	}
	if m, ok := err.(messager); ok {
		return m.plainMessage()
	}
	return err.Error()
}

func (e *baseError) plainMessage() string {
	return e.Message
}

// InitializeError reports a failed process-wide driver initialization.
type InitializeError struct {
	baseError
}

// ParameterError reports an invalid argument.
type ParameterError struct {
	baseError
}

// LoginError reports a failed login.
type LoginError struct {
	baseError
}

// SessionError reports a bulk-copy session misuse or a rejected Init.
type SessionError struct {
	baseError
}

// DataError reports a row that could not be marshaled, sent or committed.
type DataError struct {
	baseError
}

// ProtocolError is a structured server message or library error
// captured from the driver callbacks.
type ProtocolError struct {
	baseError

	// Severity is the server class or library severity.
	Severity int `json:"severity"`

	// Number is the server message number, or the library error code.
	Number int `json:"number"`
}

// StateError represents invalid state for an operation.
type StateError struct {
	baseError
}

// ErrInitialize wraps a driver initialization failure.
func ErrInitialize(driver string, cause error) *InitializeError {
	return &InitializeError{newBase(CodeInitFailed, "INITIALIZE_ERROR", "could not initialize the bulk copy library", map[string]interface{}{
		"driver": driver,
	}, cause)}
}

// ErrParameter creates a ParameterError for an invalid argument.
func ErrParameter(param, message string) *ParameterError {
	return &ParameterError{newBase(CodeParameter, "PARAMETER_ERROR", message, map[string]interface{}{
		"parameter": param,
	}, nil)}
}

// ErrLogin creates a LoginError for server.
func ErrLogin(server, user string, cause error) *LoginError {
	return &LoginError{newBase(CodeLogin, "LOGIN_ERROR", fmt.Sprintf("could not log in to %s", server), map[string]interface{}{
		"server": server,
		"user":   user,
	}, cause)}
}

// ErrDatabase reports that the server rejected the database selection.
func ErrDatabase(database string, cause error) *LoginError {
	return &LoginError{newBase(CodeDatabase, "LOGIN_ERROR", fmt.Sprintf("could not use database %s", database), map[string]interface{}{
		"database": database,
	}, cause)}
}

// ErrSessionOption reports a rejected session option.
func ErrSessionOption(option string, cause error) *SessionError {
	return &SessionError{newBase(CodeSessionOpt, "SESSION_ERROR", "session option rejected", map[string]interface{}{
		"option": option,
	}, cause)}
}

// ErrSessionOpen reports Init on a connection whose session is still open.
func ErrSessionOpen(table string) *SessionError {
	return &SessionError{newBase(CodeSessionOpen, "SESSION_ERROR", "a bulk copy session is already open; call Done first", map[string]interface{}{
		"table": table,
	}, nil)}
}

// ErrSessionInit reports that the transport rejected Init for table.
func ErrSessionInit(table string, cause error) *SessionError {
	return &SessionError{newBase(CodeSessionInit, "SESSION_ERROR", fmt.Sprintf("bulk copy init failed for table %s", table), map[string]interface{}{
		"table": table,
	}, cause)}
}

// ErrNoSession reports a session operation without an open session.
func ErrNoSession(operation string) *SessionError {
	return &SessionError{newBase(CodeNoSession, "SESSION_ERROR", fmt.Sprintf("%s requires an open bulk copy session", operation), map[string]interface{}{
		"operation": operation,
	}, nil)}
}

// ErrRowWidth reports a row with fewer fields than the session's width.
func ErrRowWidth(expected, actual int) *DataError {
	return &DataError{newBase(CodeRowWidth, "DATA_ERROR", fmt.Sprintf("row has %d fields, expected at least %d", actual, expected), map[string]interface{}{
		"expected": expected,
		"actual":   actual,
	}, nil)}
}

// ErrData creates a DataError for a failed row operation.
func ErrData(code, message string, details map[string]interface{}, cause error) *DataError {
	return &DataError{newBase(code, "DATA_ERROR", message, details, cause)}
}

// ErrConversion reports a value that has no text form.
func ErrConversion(column int, value interface{}, cause error) *DataError {
	return &DataError{newBase(CodeConversion, "DATA_ERROR", fmt.Sprintf("cannot convert %T in column %d to text", value, column), map[string]interface{}{
		"column": column,
		"type":   fmt.Sprintf("%T", value),
	}, cause)}
}

// NewProtocolError builds the error recorded for a server message or
// library failure. The message reads "(Severity N) text".
func NewProtocolError(severity, number int, text string, details map[string]interface{}) *ProtocolError {
	if details == nil {
		details = make(map[string]interface{})
	}
	details["severity"] = severity
	details["number"] = number
	return &ProtocolError{
		baseError: newBase(CodeProtocol, "PROTOCOL_ERROR", fmt.Sprintf("(Severity %d) %s", severity, text), details, nil),
		Severity:  severity,
		Number:    number,
	}
}

// ErrInvalidState creates a StateError for operations attempted in wrong state.
func ErrInvalidState(operation string, required, actual ConnectionState) error {
	return &StateError{newBase(CodeInvalidState, "STATE_ERROR", fmt.Sprintf("%s requires %s state, currently %s", operation, required, actual), map[string]interface{}{
		"operation":     operation,
		"requiredState": required.String(),
		"currentState":  actual.String(),
	}, nil)}
}

// Helper functions

// captureStackTrace captures the current stack trace for error reporting.
func captureStackTrace() []string {
	const maxDepth = 32
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(4, pcs) // Skip Callers, captureStackTrace, newBase and the error constructor

	frames := make([]string, 0, n)
	callersFrames := runtime.CallersFrames(pcs[:n])

	for {
		frame, more := callersFrames.Next()
		frames = append(frames, fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line))
		if !more {
			break
		}
	}

	return frames
}

// Code returns the client error code carried by err, or "".
func Code(err error) string {
	var coded interface {
		ErrorCode() string
	}
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}

// FormatError is a helper to format any error with debug mode support.
func FormatError(err error, debugMode bool) string {
	if err == nil {
		return ""
	}

	type debugFormatter interface {
		FormatError(bool) string
	}

	var formatter debugFormatter
	if errors.As(err, &formatter) {
		return formatter.FormatError(debugMode)
	}

	return err.Error()
}
