package client

import (
	"sync"

	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
)

// errorBridge turns the driver's asynchronous message and error callbacks
// into at most one pending ProtocolError per connection. It is Clear until
// a qualifying callback arrives, then Pending until take consumes it. The
// first qualifying callback wins.
type errorBridge struct {
	mu      sync.Mutex
	pending *ProtocolError

	// suspend stops the bridge from routing this connection's error
	// callbacks while a failure is being handled and returns the function
	// restoring them.
	suspend func() (restore func())
	logger  Logger
}

func newErrorBridge(suspend func() func(), logger Logger) *errorBridge {
	return &errorBridge{suspend: suspend, logger: logger}
}

// HandleMessage implements bridge.Sink
func (e *errorBridge) HandleMessage(m transport.Message) {
	if m.Number == protocol.MsgDatabaseChanged || m.Number == protocol.MsgLanguageChanged {
		e.logger.Debug("server context changed", Int("number", int(m.Number)), String("text", m.Text))
		return
	}
	if m.Severity < 1 {
		e.logger.Debug("server message", Int("number", int(m.Number)), String("text", m.Text))
		return
	}

	e.record(NewProtocolError(m.Severity, int(m.Number), m.Text, map[string]interface{}{
		"state":  m.State,
		"server": m.Server,
		"proc":   m.Proc,
		"line":   m.Line,
	}))
}

// HandleFailure implements bridge.Sink. It always cancels the operation.
func (e *errorBridge) HandleFailure(f transport.Failure) transport.Action {
	if e.suspend != nil {
		restore := e.suspend()
		defer restore()
	}

	switch f.Code {
	case protocol.ErrServerMessage, protocol.ErrNone, protocol.ErrInformational:
		return transport.Cancel
	}
	if f.Severity < 1 {
		return transport.Cancel
	}

	details := map[string]interface{}{}
	if f.OSCode != 0 || f.OSText != "" {
		details["os_code"] = f.OSCode
		details["os_text"] = f.OSText
	}
	e.record(NewProtocolError(f.Severity, f.Code, f.Text, details))
	return transport.Cancel
}

func (e *errorBridge) record(err *ProtocolError) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending != nil {
		e.logger.Debug("protocol error ignored, one is already pending", String("message", err.Message))
		return
	}
	e.pending = err
}

// take consumes the pending error. It returns a nil error when Clear.
func (e *errorBridge) take() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pending == nil {
		return nil
	}
	err := e.pending
	e.pending = nil
	return err
}

// isPending reports whether an error is waiting to be taken.
func (e *errorBridge) isPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending != nil
}

// resolve picks the error an operation returns after a transport call:
// the pending protocol error if one was recorded, otherwise wrap(callErr)
// when the call failed, otherwise nil.
func (e *errorBridge) resolve(callErr error, wrap func(error) error) error {
	if pending := e.take(); pending != nil {
		return pending
	}
	if callErr != nil {
		return wrap(callErr)
	}
	return nil
}
