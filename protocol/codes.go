// Package protocol holds the constants and small codecs shared by the
// bulk-copy drivers and the client session layer.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Server message numbers that report a context change rather than a failure.
const (
	MsgDatabaseChanged int32 = 5701
	MsgLanguageChanged int32 = 5703
)

// Client-library error codes delivered through the error callback.
const (
	ErrNone = 0

	// ErrInformational is raised alongside informational server output.
	ErrInformational = 156

	ErrUnknown       = 20000
	ErrTimeout       = 20003
	ErrRead          = 20004
	ErrWrite         = 20006
	ErrConnect       = 20009
	ErrLogin         = 20014
	ErrServerMessage = 20018 // details arrive through the message callback
	ErrBulkCopy      = 20070
)

// Error callback severities. Server messages use the server's own class
// (0-25) instead.
const (
	SeverityInfo       = 0
	SeverityUser       = 2
	SeverityNonFatal   = 3
	SeverityConversion = 4
	SeverityServer     = 5
	SeverityTimeout    = 6
	SeverityProgram    = 7
	SeverityResource   = 8
	SeverityComm       = 9
	SeverityFatal      = 10
)

// Bulk-copy control fields accepted by Handle.Control.
const (
	ControlMaxErrors        = 1
	ControlFirst            = 2
	ControlLast             = 3
	ControlBatch            = 4
	ControlKeepNulls        = 5
	ControlAbort            = 6
	ControlKeepIdentity     = 8
	ControlTablock          = 9
	ControlCheckConstraints = 10
	ControlFireTriggers     = 11
)

// NullLength is the column length that marks the bound value as SQL NULL
// for the current row. A zero length is an empty, non-null value.
const NullLength = -1

// DefaultTextSize is the text size applied to new connections (16 MiB).
const DefaultTextSize = 16777216

const textSizePrefix = "set textsize "

// TextSizeOption builds the session option that caps text/image column size.
func TextSizeOption(size int) string {
	return fmt.Sprintf("%s%d", textSizePrefix, size)
}

// ParseTextSizeOption reports the size carried by a text size option.
func ParseTextSizeOption(option string) (int, bool) {
	option = strings.TrimSpace(option)
	if len(option) <= len(textSizePrefix) || !strings.EqualFold(option[:len(textSizePrefix)], textSizePrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(option[len(textSizePrefix):]))
	if err != nil {
		return 0, false
	}
	return n, true
}

// ControlName returns a readable name for a control field, used in logs.
func ControlName(field int) string {
	switch field {
	case ControlMaxErrors:
		return "MAXERRS"
	case ControlFirst:
		return "FIRST"
	case ControlLast:
		return "LAST"
	case ControlBatch:
		return "BATCH"
	case ControlKeepNulls:
		return "KEEPNULLS"
	case ControlAbort:
		return "ABORT"
	case ControlKeepIdentity:
		return "KEEPIDENTITY"
	case ControlTablock:
		return "TABLOCK"
	case ControlCheckConstraints:
		return "CHECK_CONSTRAINTS"
	case ControlFireTriggers:
		return "FIRE_TRIGGERS"
	default:
		return fmt.Sprintf("FIELD_%d", field)
	}
}
