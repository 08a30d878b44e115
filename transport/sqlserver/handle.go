package sqlserver

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mssql "github.com/microsoft/go-mssqldb"

	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
)

// Handle implements transport.Handle over one go-mssqldb session.
//
// Each batch is one CopyIn statement: the first row after Init or Batch
// prepares it with the bound column count, and Batch or Done runs the empty
// Exec that finishes the underlying bulk load.
type Handle struct {
	driver *Driver
	connID string
	db     *sql.DB
	conn   *sql.Conn

	mu      sync.Mutex
	closed  bool
	table   string
	active  bool
	schema  []ColumnInfo
	columns transport.Columns
	options mssql.BulkOptions
	stmt    *sql.Stmt
	width   int
	pending int64

	metrics handleMetrics
}

// handleMetrics tracks bulk copy counters
type handleMetrics struct {
	rowsSent      atomic.Int64
	rowsCommitted atomic.Int64
	batches       atomic.Int64
	bytesSent     atomic.Int64
	totalErrors   atomic.Int64
	lastError     error
	lastErrorTime time.Time
	mu            sync.RWMutex
}

// Use implements transport.Handle
func (h *Handle) Use(ctx context.Context, database string) error {
	if err := h.check(); err != nil {
		return err
	}
	if _, err := h.conn.ExecContext(ctx, "USE "+QuoteIdentifier(database)); err != nil {
		return h.fail(protocol.ErrUnknown, protocol.WrapTransportError(protocol.ErrorCodeProtocolError, "failed to select database", err))
	}
	return nil
}

// Exec implements transport.Handle
func (h *Handle) Exec(ctx context.Context, command string) error {
	if err := h.check(); err != nil {
		return err
	}
	if _, err := h.conn.ExecContext(ctx, command); err != nil {
		return h.fail(protocol.ErrUnknown, protocol.WrapTransportError(protocol.ErrorCodeProtocolError, "command failed", err))
	}
	return nil
}

// Init implements transport.Handle
func (h *Handle) Init(ctx context.Context, table string) error {
	if err := h.check(); err != nil {
		return err
	}

	schema, err := h.describe(ctx, table)
	if err != nil {
		return h.fail(protocol.ErrBulkCopy, protocol.WrapTransportError(protocol.ErrorCodeBulkInit, "failed to start bulk copy", err))
	}

	h.mu.Lock()
	h.table = QuoteTableName(table)
	h.schema = schema
	h.active = true
	h.columns.Reset()
	h.options = mssql.BulkOptions{}
	h.width = 0
	h.pending = 0
	h.mu.Unlock()
	return nil
}

// describe reads the destination column names and types.
func (h *Handle) describe(ctx context.Context, table string) ([]ColumnInfo, error) {
	rows, err := h.conn.QueryContext(ctx, "SELECT TOP 0 * FROM "+QuoteTableName(table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	schema := make([]ColumnInfo, len(types))
	for i, ct := range types {
		schema[i] = ColumnInfo{Name: ct.Name(), Type: strings.ToUpper(ct.DatabaseTypeName())}
	}
	return schema, rows.Err()
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

// Control implements transport.Handle. Fields map onto go-mssqldb's
// BulkOptions and take effect when the next batch starts. MAXERRS, FIRST,
// LAST, ABORT and KEEPIDENTITY have no bulk option and are rejected.
func (h *Handle) Control(field, value int) error {
	return h.step("control", func() error {
		switch field {
		case protocol.ControlBatch:
			h.options.RowsPerBatch = value
		case protocol.ControlKeepNulls:
			h.options.KeepNulls = value != 0
		case protocol.ControlTablock:
			h.options.Tablock = value != 0
		case protocol.ControlCheckConstraints:
			h.options.CheckConstraints = value != 0
		case protocol.ControlFireTriggers:
			h.options.FireTriggers = value != 0
		default:
			return protocol.NewTransportError(protocol.ErrorCodeBulkInit, "unsupported control field", map[string]interface{}{
				"field": protocol.ControlName(field),
			})
		}
		return nil
	})
}

// SendRow implements transport.Handle
func (h *Handle) SendRow(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.activeLocked("sendrow"); err != nil {
		return h.failLocked(protocol.ErrBulkCopy, err)
	}

	row, err := h.columns.Snapshot()
	if err != nil {
		return h.failLocked(protocol.ErrBulkCopy, protocol.WrapTransportError(protocol.ErrorCodeBulkSend, "row rejected", err))
	}

	if h.stmt == nil {
		if len(row) > len(h.schema) {
			return h.failLocked(protocol.ErrBulkCopy, protocol.NewTransportError(protocol.ErrorCodeBulkSend, "more columns bound than the table has", map[string]interface{}{
				"bound":   len(row),
				"columns": len(h.schema),
			}))
		}
		names := make([]string, len(row))
		for i := range row {
			names[i] = h.schema[i].Name
		}
		stmt, err := h.conn.PrepareContext(ctx, mssql.CopyIn(h.table, h.options, names...))
		if err != nil {
			return h.failLocked(protocol.ErrBulkCopy, protocol.WrapTransportError(protocol.ErrorCodeBulkSend, "failed to start bulk load", err))
		}
		h.stmt = stmt
		h.width = len(row)
	}
	if len(row) != h.width {
		return h.failLocked(protocol.ErrBulkCopy, protocol.NewTransportError(protocol.ErrorCodeBulkSend, "row width changed within a batch", map[string]interface{}{
			"expected": h.width,
			"actual":   len(row),
		}))
	}

	args, size, err := convertRow(row, h.schema)
	if err != nil {
		return h.failLocked(protocol.ErrBulkCopy, protocol.WrapTransportError(protocol.ErrorCodeBulkSend, "value conversion failed", err))
	}
	if _, err := h.stmt.ExecContext(ctx, args...); err != nil {
		return h.failLocked(protocol.ErrBulkCopy, protocol.WrapTransportError(protocol.ErrorCodeBulkSend, "failed to send row", err))
	}

	h.pending++
	h.metrics.rowsSent.Add(1)
	h.metrics.bytesSent.Add(int64(size))
	return nil
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
	h.metrics.batches.Add(1)
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
	h.width = 0

	if err != nil {
		return -1, h.failLocked(protocol.ErrBulkCopy, protocol.WrapTransportError(protocol.ErrorCodeBulkDone, "failed to finish bulk copy", err))
	}
	return n, nil
}

// flushLocked finishes the current CopyIn statement. Caller holds h.mu.
func (h *Handle) flushLocked(ctx context.Context) (int64, error) {
	if h.stmt == nil {
		return 0, nil
	}

	stmt := h.stmt
	h.stmt = nil
	h.pending = 0
	defer stmt.Close()

	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return -1, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return -1, err
	}
	h.metrics.rowsCommitted.Add(n)
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
	stmt := h.stmt
	h.stmt = nil
	h.active = false
	h.mu.Unlock()

	var errs []string
	if stmt != nil {
		if err := stmt.Close(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if err := h.conn.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := h.db.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	if len(errs) > 0 {
		return fmt.Errorf("close: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Metrics implements transport.Handle
func (h *Handle) Metrics() transport.Metrics {
	h.metrics.mu.RLock()
	lastErr := h.metrics.lastError
	lastErrTime := h.metrics.lastErrorTime
	h.metrics.mu.RUnlock()

	return transport.Metrics{
		RowsSent:      h.metrics.rowsSent.Load(),
		RowsCommitted: h.metrics.rowsCommitted.Load(),
		Batches:       h.metrics.batches.Load(),
		BytesSent:     h.metrics.bytesSent.Load(),
		TotalErrors:   h.metrics.totalErrors.Load(),
		LastError:     lastErr,
		LastErrorTime: lastErrTime,
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

// failLocked records err and raises the driver callbacks. Callbacks run
// with h.mu held; they must not call back into the handle.
func (h *Handle) failLocked(code int, err error) error {
	h.metrics.totalErrors.Add(1)
	h.metrics.mu.Lock()
	h.metrics.lastError = err
	h.metrics.lastErrorTime = time.Now()
	h.metrics.mu.Unlock()

	h.driver.report(h.connID, code, err)
	return err
}

// QuoteIdentifier brackets a SQL Server identifier.
func QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// ParseIdentifier splits a dotted name such as server.db.schema.table into
// its parts, dropping [brackets], "double quotes" and unquoted blanks.
// Dots and blanks inside quoted parts are kept.
func ParseIdentifier(name string) []string {
	var (
		parts []string
		part  strings.Builder
		quote rune
	)
	runes := []rune(name)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case quote != 0:
			if r == quote {
				if i+1 < len(runes) && runes[i+1] == quote {
					part.WriteRune(r)
					i++
					continue
				}
				quote = 0
				continue
			}
			part.WriteRune(r)
		case r == '[':
			quote = ']'
		case r == '"':
			quote = '"'
		case r == '.':
			parts = append(parts, part.String())
			part.Reset()
		case r == ' ' || r == '\t':
		default:
			part.WriteRune(r)
		}
	}
	return append(parts, part.String())
}

// QuoteTableName brackets every part of a dotted table name. Empty parts,
// as in db..table, stay empty.
func QuoteTableName(table string) string {
	parts := ParseIdentifier(table)
	for i, p := range parts {
		if p != "" {
			parts[i] = QuoteIdentifier(p)
		}
	}
	return strings.Join(parts, ".")
}
