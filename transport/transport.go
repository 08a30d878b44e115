// Package transport defines the driver contract the bulk-copy client calls into.
//
// A Driver performs the process-wide library setup and logs in; a Handle is
// one logged-in session that accepts the bulk-copy primitives (bind, repoint,
// send, batch, done). Drivers report server messages and library errors
// through the handlers registered with SetMessageHandler and SetErrorHandler.
// Handlers run synchronously on the goroutine that issued the failing call.
package transport

import (
	"context"
	"time"
)

// Action tells the driver how to continue after an error callback.
type Action int

const (
	// Cancel aborts the current protocol operation.
	Cancel Action = iota
	// Continue lets the driver keep waiting (timeouts only).
	Continue
)

// Message is a server message delivered through the message callback.
type Message struct {
	// ConnID identifies the login the message belongs to.
	ConnID   string
	Number   int32
	State    int
	Severity int
	Text     string
	Server   string
	Proc     string
	Line     int
}

// Failure is a library-level error delivered through the error callback.
type Failure struct {
	ConnID   string
	Severity int
	Code     int
	OSCode   int
	Text     string
	OSText   string
}

// MessageHandler receives server messages.
type MessageHandler func(Message)

// ErrorHandler receives library errors and decides how the driver proceeds.
type ErrorHandler func(Failure) Action

// Login carries the credentials and login-time settings for Open.
type Login struct {
	// ConnID tags every callback raised for this login.
	ConnID   string
	User     string
	Password string
	Database string
	AppName  string
	Timeout  time.Duration
}

// Driver is the process-wide side of a transport library.
type Driver interface {
	// Name returns the registry name of the driver.
	Name() string

	// Init performs the library's process-wide startup.
	Init() error

	// SetMessageHandler installs h and returns the previous handler.
	SetMessageHandler(h MessageHandler) MessageHandler

	// SetErrorHandler installs h and returns the previous handler.
	// A nil handler disables error callbacks.
	SetErrorHandler(h ErrorHandler) ErrorHandler

	// UseInterfaces selects the server address lookup file.
	UseInterfaces(path string) error

	// OpenDump starts writing protocol diagnostics to path.
	OpenDump(path string) error

	// Open logs in to server and returns a session handle.
	Open(ctx context.Context, login Login, server string) (Handle, error)
}

// Handle is one logged-in session.
//
// Column data passed to Bind and ColPtr is read when SendRow is called and
// copied by the handle; callers may reuse the buffers once SendRow returns.
type Handle interface {
	// Use selects the current database.
	Use(ctx context.Context, database string) error

	// Exec runs a command that returns no rows (session options).
	Exec(ctx context.Context, command string) error

	// Init starts bulk copy into table.
	Init(ctx context.Context, table string) error

	// Bind registers the buffer and length for a 1-indexed column.
	Bind(column int, data []byte, length int) error

	// ColPtr repoints a bound column at a new buffer.
	ColPtr(column int, data []byte) error

	// ColLen sets the current length of a bound column. protocol.NullLength
	// marks the value NULL.
	ColLen(column int, length int) error

	// SendRow transmits the current column values as one row.
	SendRow(ctx context.Context) error

	// Batch commits the rows sent since the last batch and returns their count.
	Batch(ctx context.Context) (int64, error)

	// Done flushes outstanding rows, ends bulk copy and returns the count
	// committed by the final flush.
	Done(ctx context.Context) (int64, error)

	// Control sets a bulk-copy control parameter.
	Control(field, value int) error

	// Close releases the session. Safe to call more than once.
	Close() error

	// Metrics returns handle counters.
	Metrics() Metrics
}

// Metrics contains bulk copy counters for one handle
type Metrics struct {
	// RowsSent is the number of rows accepted by SendRow
	RowsSent int64

	// RowsCommitted is the number of rows confirmed by Batch and Done
	RowsCommitted int64

	// Batches is the number of successful Batch calls
	Batches int64

	// BytesSent is the total column bytes sent
	BytesSent int64

	// TotalErrors is the total number of errors encountered
	TotalErrors int64

	// LastError is the most recent error encountered
	LastError error

	// LastErrorTime is when the last error occurred
	LastErrorTime time.Time
}

// Factory creates new driver instances
type Factory func() Driver
