package client

import (
	"fmt"
	"sync"
	"time"
)

// ConnectionState is the lifecycle state of a Connection.
type ConnectionState int

const (
	// DISCONNECTED indicates no transport handle is held.
	DISCONNECTED ConnectionState = iota
	// CONNECTING indicates login and session setup are in progress.
	CONNECTING
	// CONNECTED indicates a logged-in handle ready for bulk copy.
	CONNECTED
	// DISCONNECTING indicates the handle is being released.
	DISCONNECTING
)

// String returns the string representation of the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case DISCONNECTED:
		return "DISCONNECTED"
	case CONNECTING:
		return "CONNECTING"
	case CONNECTED:
		return "CONNECTED"
	case DISCONNECTING:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// StateTransition describes one change of connection state.
//
// Metadata keys set by Connection:
//   - connID: string - connection id
//   - server: string - server name passed to Connect
//   - reason: string - "user_initiated" | "login_failed" | "setup_failed"
type StateTransition struct {
	// From is the previous state.
	From ConnectionState

	// To is the new current state.
	To ConnectionState

	// Timestamp is when the transition occurred.
	Timestamp time.Time

	// Error is the error that caused the transition (if any).
	Error error

	// Duration is how long the previous state was held.
	Duration time.Duration

	// Metadata contains additional context about the transition.
	Metadata map[string]interface{}
}

// StateChangeHandler is called when the connection state changes.
type StateChangeHandler func(transition StateTransition)

// StateManager enforces legal connection state transitions and notifies
// handlers.
type StateManager struct {
	current  ConnectionState
	last     StateTransition
	handlers []StateChangeHandler
	mu       sync.RWMutex
}

// NewStateManager creates a new state manager in DISCONNECTED state.
func NewStateManager() *StateManager {
	return &StateManager{
		current: DISCONNECTED,
		last: StateTransition{
			From:      DISCONNECTED,
			To:        DISCONNECTED,
			Timestamp: time.Now(),
		},
	}
}

// TransitionTo moves to newState and runs the handlers outside the lock.
//
// Legal transitions:
//   - DISCONNECTED → CONNECTING
//   - CONNECTING → CONNECTED
//   - CONNECTING → DISCONNECTED (failed login or setup)
//   - CONNECTED → DISCONNECTING
//   - DISCONNECTING → DISCONNECTED
func (sm *StateManager) TransitionTo(newState ConnectionState, err error, metadata map[string]interface{}) error {
	sm.mu.Lock()
	if !legalTransition(sm.current, newState) {
		from := sm.current
		sm.mu.Unlock()
		return fmt.Errorf("illegal state transition: %s → %s", from, newState)
	}

	now := time.Now()
	transition := StateTransition{
		From:      sm.current,
		To:        newState,
		Timestamp: now,
		Error:     err,
		Duration:  now.Sub(sm.last.Timestamp),
		Metadata:  metadata,
	}
	sm.current = newState
	sm.last = transition

	handlers := make([]StateChangeHandler, len(sm.handlers))
	copy(handlers, sm.handlers)
	sm.mu.Unlock()

	for _, handler := range handlers {
		handler(transition)
	}
	return nil
}

func legalTransition(from, to ConnectionState) bool {
	switch from {
	case DISCONNECTED:
		return to == CONNECTING
	case CONNECTING:
		return to == CONNECTED || to == DISCONNECTED
	case CONNECTED:
		return to == DISCONNECTING
	case DISCONNECTING:
		return to == DISCONNECTED
	default:
		return false
	}
}

// OnStateChange registers a handler to be called on state transitions.
func (sm *StateManager) OnStateChange(handler StateChangeHandler) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.handlers = append(sm.handlers, handler)
}

// GetState returns the current connection state.
func (sm *StateManager) GetState() ConnectionState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// GetLastTransition returns the most recent state transition.
func (sm *StateManager) GetLastTransition() StateTransition {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.last
}
