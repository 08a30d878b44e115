package client

import (
	"time"

	"github.com/dan-strohschein/bcp-driver/bridge"
	"github.com/dan-strohschein/bcp-driver/protocol"
)

// Options configures a bulk copy connection.
type Options struct {
	// BatchSize is the number of rows sent between automatic batch commits.
	// 0 disables automatic commits; rows are committed by Done.
	// Default: 0
	BatchSize int

	// TextSize caps text and image column values, applied with
	// "set textsize N" after login.
	// Default: 16777216 (16 MiB)
	TextSize int

	// Bridge is the protocol bridge used to reach the server.
	// If nil, DefaultBridge() is used.
	Bridge *bridge.Bridge

	// AppName is reported to the server at login.
	// Default: "bcp-driver"
	AppName string

	// LoginTimeout bounds the login handshake.
	// Default: 30s
	LoginTimeout time.Duration

	// DebugMode makes logged errors include stack traces and timestamps.
	// Default: false
	DebugMode bool

	// Logger is the logger implementation to use.
	// If nil, a logger at LogLevel writing to stdout is used.
	Logger Logger

	// LogLevel sets the minimum log level (DEBUG, INFO, WARN, ERROR).
	// Default: "INFO"
	LogLevel string

	// Hooks are registered on the connection in order at Connect.
	Hooks []Hook

	// OnConnected is called when the connection is established.
	OnConnected func(StateTransition)

	// OnDisconnected is called when the connection is released.
	OnDisconnected func(StateTransition)
}

// DefaultOptions returns Options with default values.
func DefaultOptions() Options {
	return Options{
		BatchSize:    0,
		TextSize:     protocol.DefaultTextSize,
		AppName:      "bcp-driver",
		LoginTimeout: 30 * time.Second,
		DebugMode:    false,
		LogLevel:     "INFO",
	}
}

// validate checks the numeric settings.
func (o *Options) validate() error {
	if o.BatchSize < 0 {
		return ErrParameter("BatchSize", "batch size must be 0 or greater")
	}
	if o.TextSize < 0 {
		return ErrParameter("TextSize", "text size must be 0 or greater")
	}
	return nil
}
