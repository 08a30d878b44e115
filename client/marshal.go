package client

import (
	"context"
)

// Send marshals row into column buffers and submits it to the open
// session. The first row fixes the session's width and binds every column;
// later rows must have at least that many fields and repoint the bound
// columns. Fields past the width are ignored.
func (c *Connection) Send(ctx context.Context, row Row) error {
	if row == nil {
		return ErrParameter("row", "row must not be nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil {
		return ErrNoSession("Send")
	}

	width := s.width
	if width == 0 {
		width = len(row)
		if width == 0 {
			return ErrRowWidth(1, 0)
		}
	}
	if len(row) < width {
		return ErrRowWidth(width, len(row))
	}
	row = row[:width]

	a := acquireArena()
	defer a.release()
	cols := a.copyRow(row)

	if err := s.binder.apply(c.handle, cols); err != nil {
		return c.errs.resolve(err, func(cause error) error {
			return ErrData(CodeBind, "could not bind row", map[string]interface{}{
				"table": s.table,
				"row":   c.rowCount,
			}, cause)
		})
	}

	if err := c.handle.SendRow(ctx); err != nil {
		return c.errs.resolve(err, func(cause error) error {
			return ErrData(CodeSend, "could not send row", map[string]interface{}{
				"table": s.table,
				"row":   c.rowCount,
			}, cause)
		})
	}

	s.binder.markBound()
	s.width = width
	s.sinceCommit++
	c.rowCount++
	c.totalRows++

	if pending := c.errs.take(); pending != nil {
		return pending
	}
	return c.batchLocked(ctx, s)
}
