package client

import (
	"context"
)

// batchLocked commits the rows sent since the last commit once the batch
// size is reached. A failed commit leaves the counter as is, so the next
// row tries again. Caller holds c.mu.
func (c *Connection) batchLocked(ctx context.Context, s *session) error {
	if c.batchSize == 0 || s.sinceCommit < c.batchSize {
		return nil
	}

	hookCtx, err := c.beginHooks(ctx, OpBatch, s.table, s.id)
	if err != nil {
		c.endHooks(ctx, hookCtx, 0, err)
		return err
	}

	n, err := c.handle.Batch(ctx)
	if err = c.errs.resolve(err, func(cause error) error {
		return ErrData(CodeBatch, "batch commit failed", map[string]interface{}{
			"table":     s.table,
			"batchSize": c.batchSize,
			"rows":      s.sinceCommit,
		}, cause)
	}); err != nil {
		c.logger.Error("batch commit failed", String("table", s.table), String("error", FormatError(err, c.opts.DebugMode)))
		c.endHooks(ctx, hookCtx, 0, err)
		return err
	}

	s.sinceCommit = 0
	s.committed += n
	c.batches++
	c.logger.Debug("batch committed", String("table", s.table), Int64("rows", n), Int64("batches", c.batches))
	c.endHooks(ctx, hookCtx, n, nil)
	return nil
}
