package client

import (
	"context"

	"github.com/google/uuid"
)

// session is the bulk copy state bound to one destination table between
// Init and Done.
type session struct {
	id     string
	table  string
	width  int
	binder binder

	// sinceCommit counts rows sent since the last successful batch commit.
	sinceCommit int

	// committed counts rows confirmed by automatic batch commits.
	committed int64
}

// Init starts a bulk copy session into table.
func (c *Connection) Init(ctx context.Context, table string) error {
	if table == "" {
		return ErrParameter("table", "table name is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if state := c.stateMgr.GetState(); state != CONNECTED {
		return ErrInvalidState("Init", CONNECTED, state)
	}
	if c.session != nil {
		return ErrSessionOpen(c.session.table)
	}

	id := uuid.NewString()
	hookCtx, err := c.beginHooks(ctx, OpInit, table, id)
	if err != nil {
		c.endHooks(ctx, hookCtx, 0, err)
		return err
	}

	err = c.handle.Init(ctx, table)
	if pending := c.errs.take(); pending != nil || err != nil {
		cause := err
		if pending != nil {
			cause = pending
		}
		initErr := ErrSessionInit(table, cause)
		c.logger.Error("bulk copy init failed", String("table", table), String("error", FormatError(initErr, c.opts.DebugMode)))
		c.endHooks(ctx, hookCtx, 0, initErr)
		return initErr
	}

	c.session = &session{id: id, table: table}
	c.rowCount = 0
	c.logger.Debug("bulk copy session started", String("table", table), String("sessionID", c.session.id))
	c.endHooks(ctx, hookCtx, 0, nil)
	return nil
}

// Control sets a bulk copy control parameter on the open session. Errors
// reported by the transport are logged, not returned.
func (c *Connection) Control(ctx context.Context, field, value int) error {
	if field <= 0 {
		return ErrParameter("field", "control field must be greater than 0")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil {
		return ErrNoSession("Control")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.handle.Control(field, value)
	pending := c.errs.take()
	if err != nil || pending != nil {
		if pending != nil {
			err = pending
		}
		c.logger.Warn("bulk copy control rejected",
			Int("field", field), Int("value", value), String("error", FormatError(err, c.opts.DebugMode)))
	}
	return nil
}

// Done flushes the rows sent since the last batch commit and ends the
// session. It returns the number of rows committed over the whole session.
// The session is closed even when the flush fails.
func (c *Connection) Done(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return 0, ErrNoSession("Done")
	}

	hookCtx, err := c.beginHooks(ctx, OpDone, s.table, s.id)
	if err != nil {
		c.endHooks(ctx, hookCtx, 0, err)
		return 0, err
	}
	c.session = nil

	n, err := c.handle.Done(ctx)
	if err = c.errs.resolve(err, func(cause error) error {
		return ErrData(CodeDone, "bulk copy done failed", map[string]interface{}{
			"table":       s.table,
			"uncommitted": s.sinceCommit,
		}, cause)
	}); err != nil {
		c.logger.Error("bulk copy done failed", String("table", s.table), String("error", FormatError(err, c.opts.DebugMode)))
		c.endHooks(ctx, hookCtx, 0, err)
		return 0, err
	}

	total := s.committed + n
	c.logger.Info("bulk copy session finished",
		String("table", s.table), Int64("rows", c.rowCount), Int64("committed", total))
	c.endHooks(ctx, hookCtx, total, nil)
	return total, nil
}

// Commit is Done under its other name.
func (c *Connection) Commit(ctx context.Context) (int64, error) {
	return c.Done(ctx)
}

// InSession reports whether a bulk copy session is open.
func (c *Connection) InSession() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Table returns the destination table of the open session, or "".
func (c *Connection) Table() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.table
}
