package client

import (
	"context"
	"time"
)

// Operations reported to hooks.
const (
	OpInit  = "init"
	OpBatch = "batch"
	OpDone  = "done"
)

// HookContext describes one session operation.
type HookContext struct {
	// Operation is OpInit, OpBatch or OpDone.
	Operation string

	// Table is the session's destination table.
	Table string

	// SessionID identifies the session across its operations.
	SessionID string

	// StartTime is when the operation began
	StartTime time.Time

	// Metadata allows hooks to store arbitrary data for passing between Before/After
	Metadata map[string]interface{}

	// Rows is the number of rows the operation committed (available in After hook).
	// For OpDone it is the session total.
	Rows int64

	// Error stores any error that occurred (available in After hook)
	Error error

	// Duration is the execution time (available in After hook)
	Duration time.Duration
}

// Hook observes session operations. Hooks run while the connection is busy
// and must not call its methods.
type Hook interface {
	// Name returns the unique name of this hook
	Name() string

	// Before is called before the operation.
	// Returning an error aborts the operation and returns the error.
	Before(ctx context.Context, hookCtx *HookContext) error

	// After is called after the operation, even if it failed. Errors are
	// logged and otherwise ignored.
	After(ctx context.Context, hookCtx *HookContext) error
}

// RegisterHook adds a hook to the connection's hook chain.
// Hooks are executed in FIFO order (first registered, first executed).
// If a hook with the same name already exists, it is replaced.
func (c *Connection) RegisterHook(hook Hook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()

	for i, h := range c.hooks {
		if h.Name() == hook.Name() {
			c.hooks[i] = hook
			c.logger.Debug("hook replaced", String("hook", hook.Name()))
			return
		}
	}

	c.hooks = append(c.hooks, hook)
	c.logger.Debug("hook registered", String("hook", hook.Name()), Int("order", len(c.hooks)-1))
}

// UnregisterHook removes a hook by name.
// Returns true if the hook was found and removed, false otherwise.
func (c *Connection) UnregisterHook(name string) bool {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()

	for i, h := range c.hooks {
		if h.Name() == name {
			c.hooks = append(c.hooks[:i], c.hooks[i+1:]...)
			c.logger.Debug("hook unregistered", String("hook", name))
			return true
		}
	}
	return false
}

// GetHooks returns the names of all registered hooks in execution order.
func (c *Connection) GetHooks() []string {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()

	names := make([]string, len(c.hooks))
	for i, h := range c.hooks {
		names[i] = h.Name()
	}
	return names
}

func (c *Connection) snapshotHooks() []Hook {
	c.hooksMu.RLock()
	defer c.hooksMu.RUnlock()
	if len(c.hooks) == 0 {
		return nil
	}
	hooks := make([]Hook, len(c.hooks))
	copy(hooks, c.hooks)
	return hooks
}

// beginHooks runs the Before hooks and returns the context to pass to
// endHooks. A nil context means no hooks are registered.
func (c *Connection) beginHooks(ctx context.Context, op, table, sessionID string) (*HookContext, error) {
	hooks := c.snapshotHooks()
	if hooks == nil {
		return nil, nil
	}

	hookCtx := &HookContext{
		Operation: op,
		Table:     table,
		SessionID: sessionID,
		StartTime: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
	for _, hook := range hooks {
		if err := hook.Before(ctx, hookCtx); err != nil {
			c.logger.Debug("hook aborted operation",
				String("hook", hook.Name()),
				String("operation", op),
				Error("error", err))
			return hookCtx, err
		}
	}
	return hookCtx, nil
}

func (c *Connection) endHooks(ctx context.Context, hookCtx *HookContext, rows int64, err error) {
	if hookCtx == nil {
		return
	}
	hookCtx.Rows = rows
	hookCtx.Error = err
	hookCtx.Duration = time.Since(hookCtx.StartTime)

	for _, hook := range c.snapshotHooks() {
		if hookErr := hook.After(ctx, hookCtx); hookErr != nil {
			c.logger.Debug("hook returned error in After",
				String("hook", hook.Name()),
				String("operation", hookCtx.Operation),
				Error("error", hookErr))
		}
	}
}
