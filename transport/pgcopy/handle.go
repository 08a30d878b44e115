package pgcopy

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
)

// Handle implements transport.Handle over one pgconn connection. Rows are
// encoded in COPY text format into a buffer; Batch and Done stream the
// buffer with a single COPY FROM STDIN.
type Handle struct {
	driver   *Driver
	connID   string
	conn     *pgconn.PgConn
	database string

	mu      sync.Mutex
	closed  bool
	active  bool
	table   pgx.Identifier
	schema  []string
	columns transport.Columns
	buf     bytes.Buffer
	width   int
	pending int64

	rowsSent      atomic.Int64
	rowsCommitted atomic.Int64
	batches       atomic.Int64
	bytesSent     atomic.Int64
	totalErrors   atomic.Int64
	lastErr       error
	lastErrTime   time.Time
}

// Use implements transport.Handle. A PostgreSQL session is bound to the
// database it logged in to.
func (h *Handle) Use(ctx context.Context, database string) error {
	if err := h.check(); err != nil {
		return err
	}
	if database != h.database {
		return h.fail(protocol.ErrUnknown, protocol.NewTransportError(protocol.ErrorCodeProtocolError, "cannot change database on an open connection", map[string]interface{}{
			"current":   h.database,
			"requested": database,
		}))
	}
	return nil
}

// Exec implements transport.Handle. The text size option has no
// PostgreSQL equivalent and is skipped.
func (h *Handle) Exec(ctx context.Context, command string) error {
	if err := h.check(); err != nil {
		return err
	}
	if _, ok := protocol.ParseTextSizeOption(command); ok {
		return nil
	}
	if _, err := h.conn.Exec(ctx, command).ReadAll(); err != nil {
		return h.fail(protocol.ErrUnknown, protocol.WrapTransportError(protocol.ErrorCodeProtocolError, "command failed", err))
	}
	return nil
}

// Init implements transport.Handle
func (h *Handle) Init(ctx context.Context, table string) error {
	if err := h.check(); err != nil {
		return err
	}

	ident := ParseIdentifier(table)
	results, err := h.conn.Exec(ctx, "SELECT * FROM "+ident.Sanitize()+" LIMIT 0").ReadAll()
	if err != nil {
		return h.fail(protocol.ErrBulkCopy, protocol.WrapTransportError(protocol.ErrorCodeBulkInit, "failed to start bulk copy", err))
	}

	var schema []string
	if len(results) > 0 {
		for _, fd := range results[0].FieldDescriptions {
			schema = append(schema, fd.Name)
		}
	}

	h.mu.Lock()
	h.table = ident
	h.schema = schema
	h.active = true
	h.columns.Reset()
	h.buf.Reset()
	h.width = 0
	h.pending = 0
	h.mu.Unlock()
	return nil
}

// Bind implements transport.Handle
func (h *Handle) Bind(column int, data []byte, length int) error {
	return h.step("bind", func() error { return h.columns.Bind(column, data, length) })
}

// ColPtr implements transport.Handle
func (h *Handle) ColPtr(column int, data []byte) error {
	return h.step("colptr", func() error { return h.columns.SetPtr(column, data) })
}

// ColLen implements transport.Handle
func (h *Handle) ColLen(column int, length int) error {
	return h.step("collen", func() error { return h.columns.SetLen(column, length) })
}

// Control implements transport.Handle. COPY has no per-load options
// matching the control fields; BATCH is accepted since batching is driven
// by the caller.
func (h *Handle) Control(field, value int) error {
	return h.step("control", func() error {
		if field == protocol.ControlBatch {
			return nil
		}
		return protocol.NewTransportError(protocol.ErrorCodeBulkInit, "unsupported control field", map[string]interface{}{
			"field": protocol.ControlName(field),
		})
	})
}

// SendRow implements transport.Handle
func (h *Handle) SendRow(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return h.step("sendrow", func() error {
		row, err := h.columns.Snapshot()
		if err != nil {
			return protocol.WrapTransportError(protocol.ErrorCodeBulkSend, "row rejected", err)
		}
		if h.pending == 0 {
			if len(row) > len(h.schema) {
				return protocol.NewTransportError(protocol.ErrorCodeBulkSend, "more columns bound than the table has", map[string]interface{}{
					"bound":   len(row),
					"columns": len(h.schema),
				})
			}
			h.width = len(row)
		}
		if len(row) != h.width {
			return protocol.NewTransportError(protocol.ErrorCodeBulkSend, "row width changed within a batch", map[string]interface{}{
				"expected": h.width,
				"actual":   len(row),
			})
		}

		before := h.buf.Len()
		h.buf.Write(protocol.AppendCopyRow(h.buf.AvailableBuffer(), row))
		h.pending++
		h.rowsSent.Add(1)
		h.bytesSent.Add(int64(h.buf.Len() - before))
		return nil
	})
}

// Batch implements transport.Handle
func (h *Handle) Batch(ctx context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.activeLocked("batch"); err != nil {
		return -1, h.failLocked(protocol.ErrBulkCopy, err)
	}
	n, err := h.flushLocked(ctx)
	if err != nil {
		return -1, h.failLocked(protocol.ErrBulkCopy, protocol.WrapTransportError(protocol.ErrorCodeBulkBatch, "batch commit failed", err))
	}
	h.batches.Add(1)
	return n, nil
}

// Done implements transport.Handle
func (h *Handle) Done(ctx context.Context) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.activeLocked("done"); err != nil {
		return -1, h.failLocked(protocol.ErrBulkCopy, err)
	}
	n, err := h.flushLocked(ctx)

	h.active = false
	h.columns.Reset()
	h.schema = nil

	if err != nil {
		return -1, h.failLocked(protocol.ErrBulkCopy, protocol.WrapTransportError(protocol.ErrorCodeBulkDone, "failed to finish bulk copy", err))
	}
	return n, nil
}

// flushLocked streams the buffered rows. Caller holds h.mu.
func (h *Handle) flushLocked(ctx context.Context) (int64, error) {
	if h.pending == 0 {
		return 0, nil
	}

	sql := CopyStatement(h.table, h.schema[:h.width])
	data := bytes.NewReader(h.buf.Bytes())
	h.pending = 0
	defer h.buf.Reset()

	tag, err := h.conn.CopyFrom(ctx, data, sql)
	if err != nil {
		return -1, err
	}
	n := tag.RowsAffected()
	h.rowsCommitted.Add(n)
	return n, nil
}

// Close implements transport.Handle
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.active = false
	h.buf.Reset()
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	return h.conn.Close(ctx)
}

// Metrics implements transport.Handle
func (h *Handle) Metrics() transport.Metrics {
	h.mu.Lock()
	defer h.mu.Unlock()

	return transport.Metrics{
		RowsSent:      h.rowsSent.Load(),
		RowsCommitted: h.rowsCommitted.Load(),
		Batches:       h.batches.Load(),
		BytesSent:     h.bytesSent.Load(),
		TotalErrors:   h.totalErrors.Load(),
		LastError:     h.lastErr,
		LastErrorTime: h.lastErrTime,
	}
}

func (h *Handle) check() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return protocol.ClosedError()
	}
	return nil
}

func (h *Handle) activeLocked(op string) error {
	if h.closed {
		return protocol.ClosedError()
	}
	if !h.active {
		return protocol.NoBulkActiveError(op)
	}
	return nil
}

func (h *Handle) step(op string, fn func() error) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.activeLocked(op); err != nil {
		return h.failLocked(protocol.ErrBulkCopy, err)
	}
	if err := fn(); err != nil {
		return h.failLocked(protocol.ErrBulkCopy, err)
	}
	return nil
}

func (h *Handle) fail(code int, err error) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.failLocked(code, err)
}

func (h *Handle) failLocked(code int, err error) error {
	h.totalErrors.Add(1)
	h.lastErr = err
	h.lastErrTime = time.Now()
	h.driver.report(h.connID, code, err)
	return err
}

// ParseIdentifier splits a dotted table name, dropping double quotes.
func ParseIdentifier(table string) pgx.Identifier {
	parts := strings.Split(table, ".")
	ident := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if len(p) >= 2 && p[0] == '"' && p[len(p)-1] == '"' {
			p = strings.ReplaceAll(p[1:len(p)-1], `""`, `"`)
		}
		ident = append(ident, p)
	}
	return ident
}

// CopyStatement builds COPY table (columns) FROM STDIN.
func CopyStatement(table pgx.Identifier, columns []string) string {
	quoted := make([]string, len(columns))
	for i, c := range columns {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return fmt.Sprintf("COPY %s (%s) FROM STDIN", table.Sanitize(), strings.Join(quoted, ", "))
}
