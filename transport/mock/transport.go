package mock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
)

// DriverName is the registry name of the in-memory driver.
const DriverName = "mock"

func init() {
	transport.Register(DriverName, func() transport.Driver { return NewMockDriver() })
}

// Op names a driver or handle primitive.
type Op string

const (
	OpInit    Op = "init"
	OpOpen    Op = "open"
	OpUse     Op = "use"
	OpExec    Op = "exec"
	OpBcpInit Op = "bcp_init"
	OpBind    Op = "bind"
	OpColPtr  Op = "colptr"
	OpColLen  Op = "collen"
	OpSendRow Op = "sendrow"
	OpBatch   Op = "batch"
	OpDone    Op = "done"
	OpControl Op = "control"
	OpClose   Op = "close"
)

// Fault describes an injected failure. When it fires, Message and Failure
// are raised through the registered callbacks (in that order) before the
// primitive returns Err.
type Fault struct {
	// Err is returned by the primitive. If nil and a callback is raised, a
	// generic transport error is returned.
	Err error

	// Message is raised through the message callback.
	Message *transport.Message

	// Failure is raised through the error callback.
	Failure *transport.Failure

	// After is the number of successful calls before the fault fires.
	After int

	// Sticky keeps the fault armed after it fires.
	Sticky bool

	// Silent raises the callbacks but lets the primitive succeed.
	Silent bool

	seen int
}

// Call records one primitive invocation.
type Call struct {
	Op      Op
	ConnID  string
	Column  int
	Length  int
	Data    string
	Field   int
	Value   int
	Target  string
	Failed  bool
	Elapsed time.Duration
}

// MockDriver implements transport.Driver in memory for testing
type MockDriver struct {
	transport.Callbacks

	mu         sync.RWMutex
	faults     map[Op]*Fault
	tables     map[string]*Table
	anyTable   bool
	calls      []Call
	handles    []*MockHandle
	interfaces string
	dump       string
	delay      time.Duration

	initCalls atomic.Int32
}

// NewMockDriver creates a new in-memory driver that accepts any table
func NewMockDriver() *MockDriver {
	return &MockDriver{
		faults:   make(map[Op]*Fault),
		tables:   make(map[string]*Table),
		anyTable: true,
		calls:    make([]Call, 0),
	}
}

// WithTable declares a table. Once a table is declared, bulk copy into
// undeclared tables is rejected.
func (m *MockDriver) WithTable(name string) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.anyTable = false
	m.tables[normalizeTable(name)] = newTable(name)
	return m
}

// WithFault arms a fault for op
func (m *MockDriver) WithFault(op Op, f Fault) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	fault := f
	m.faults[op] = &fault
	return m
}

// WithError makes the next call of op return err
func (m *MockDriver) WithError(op Op, err error) *MockDriver {
	return m.WithFault(op, Fault{Err: err})
}

// WithMessage raises msg through the message callback on the next call of op
// and makes the call fail
func (m *MockDriver) WithMessage(op Op, msg transport.Message) *MockDriver {
	return m.WithFault(op, Fault{Message: &msg})
}

// WithFailure raises f through the error callback on the next call of op
// and makes the call fail
func (m *MockDriver) WithFailure(op Op, f transport.Failure) *MockDriver {
	return m.WithFault(op, Fault{Failure: &f})
}

// WithDelay adds a delay to SendRow, Batch and Done
func (m *MockDriver) WithDelay(delay time.Duration) *MockDriver {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
	return m
}

// Name implements transport.Driver
func (m *MockDriver) Name() string {
	return DriverName
}

// Init implements transport.Driver
func (m *MockDriver) Init() error {
	m.initCalls.Add(1)
	start := time.Now()
	err := m.fire(OpInit, "")
	m.record(Call{Op: OpInit, Failed: err != nil, Elapsed: time.Since(start)})
	return err
}

// UseInterfaces implements transport.Driver
func (m *MockDriver) UseInterfaces(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interfaces = path
	return nil
}

// OpenDump implements transport.Driver
func (m *MockDriver) OpenDump(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dump = path
	return nil
}

// Open implements transport.Driver
func (m *MockDriver) Open(ctx context.Context, login transport.Login, server string) (transport.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err := m.fire(OpOpen, login.ConnID)
	m.record(Call{Op: OpOpen, ConnID: login.ConnID, Target: server, Failed: err != nil})
	if err != nil {
		return nil, err
	}

	h := &MockHandle{
		driver:   m,
		connID:   login.ConnID,
		server:   server,
		user:     login.User,
		database: login.Database,
	}

	m.mu.Lock()
	m.handles = append(m.handles, h)
	m.mu.Unlock()
	return h, nil
}

// fire applies the armed fault for op, raising callbacks outside the lock.
func (m *MockDriver) fire(op Op, connID string) error {
	m.mu.Lock()
	f, ok := m.faults[op]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if f.seen < f.After {
		f.seen++
		m.mu.Unlock()
		return nil
	}
	if !f.Sticky {
		delete(m.faults, op)
	}
	fault := *f
	m.mu.Unlock()

	if fault.Message != nil {
		msg := *fault.Message
		msg.ConnID = connID
		m.RaiseMessage(msg)
	}
	if fault.Failure != nil {
		failure := *fault.Failure
		failure.ConnID = connID
		m.RaiseFailure(failure)
	}

	if fault.Silent {
		return nil
	}
	if fault.Err != nil {
		return fault.Err
	}
	return protocol.NewTransportError(protocol.ErrorCodeProtocolError, fmt.Sprintf("%s failed", op), nil)
}

func (m *MockDriver) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

func (m *MockDriver) table(name string) (*Table, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := normalizeTable(name)
	if t, ok := m.tables[key]; ok {
		return t, true
	}
	if !m.anyTable {
		return nil, false
	}
	t := newTable(name)
	m.tables[key] = t
	return t, true
}

// Calls returns every recorded call in order
func (m *MockDriver) Calls() []Call {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a copy to prevent external modifications
	calls := make([]Call, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallsOf returns the recorded calls of op
func (m *MockDriver) CallsOf(op Op) []Call {
	var out []Call
	for _, c := range m.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// CountOf returns the number of recorded calls of op
func (m *MockDriver) CountOf(op Op) int {
	return len(m.CallsOf(op))
}

// GetInitCallCount returns the number of times Init was called
func (m *MockDriver) GetInitCallCount() int {
	return int(m.initCalls.Load())
}

// Table returns a table by name
func (m *MockDriver) Table(name string) *Table {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tables[normalizeTable(name)]
}

// Handles returns every handle opened so far
func (m *MockDriver) Handles() []*MockHandle {
	m.mu.RLock()
	defer m.mu.RUnlock()

	handles := make([]*MockHandle, len(m.handles))
	copy(handles, m.handles)
	return handles
}

// Interfaces returns the interfaces file path passed to UseInterfaces
func (m *MockDriver) Interfaces() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.interfaces
}

// Dump returns the dump file path passed to OpenDump
func (m *MockDriver) Dump() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dump
}

// Reset clears faults, calls and tables
func (m *MockDriver) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.faults = make(map[Op]*Fault)
	m.tables = make(map[string]*Table)
	m.anyTable = true
	m.calls = make([]Call, 0)
	m.handles = nil
	m.delay = 0
	m.initCalls.Store(0)
}

// MockHandle implements transport.Handle against a MockDriver
type MockHandle struct {
	driver   *MockDriver
	connID   string
	server   string
	user     string
	database string

	mu      sync.Mutex
	closed  bool
	options []string
	control map[int]int
	columns transport.Columns
	table   *Table
	pending [][][]byte

	rowsSent      atomic.Int64
	rowsCommitted atomic.Int64
	batches       atomic.Int64
	bytesSent     atomic.Int64
	totalErrors   atomic.Int64
	lastErr       error
	lastErrTime   time.Time
}

// Use implements transport.Handle
func (h *MockHandle) Use(ctx context.Context, database string) error {
	if err := h.begin(ctx); err != nil {
		return err
	}
	err := h.driver.fire(OpUse, h.connID)
	h.driver.record(Call{Op: OpUse, ConnID: h.connID, Target: database, Failed: err != nil})
	if err != nil {
		return h.fail(err)
	}
	h.mu.Lock()
	h.database = database
	h.mu.Unlock()
	return nil
}

// Exec implements transport.Handle
func (h *MockHandle) Exec(ctx context.Context, command string) error {
	if err := h.begin(ctx); err != nil {
		return err
	}
	err := h.driver.fire(OpExec, h.connID)
	h.driver.record(Call{Op: OpExec, ConnID: h.connID, Target: command, Failed: err != nil})
	if err != nil {
		return h.fail(err)
	}
	h.mu.Lock()
	h.options = append(h.options, command)
	h.mu.Unlock()
	return nil
}

// Init implements transport.Handle
func (h *MockHandle) Init(ctx context.Context, table string) error {
	if err := h.begin(ctx); err != nil {
		return err
	}
	err := h.driver.fire(OpBcpInit, h.connID)
	if err == nil {
		t, ok := h.driver.table(table)
		if !ok {
			h.driver.RaiseMessage(transport.Message{
				ConnID:   h.connID,
				Number:   208,
				Severity: 16,
				Text:     fmt.Sprintf("Invalid object name '%s'.", table),
				Server:   h.server,
			})
			err = protocol.NewTransportError(protocol.ErrorCodeBulkInit, "table not found", map[string]interface{}{
				"table": table,
			})
		} else {
			h.mu.Lock()
			h.table = t
			h.columns.Reset()
			h.pending = nil
			h.mu.Unlock()
		}
	}
	h.driver.record(Call{Op: OpBcpInit, ConnID: h.connID, Target: table, Failed: err != nil})
	if err != nil {
		return h.fail(err)
	}
	return nil
}

// Bind implements transport.Handle
func (h *MockHandle) Bind(column int, data []byte, length int) error {
	call := Call{Op: OpBind, ConnID: h.connID, Column: column, Length: length, Data: preview(data, length)}
	err := h.bulkStep(OpBind, func() error { return h.columns.Bind(column, data, length) })
	call.Failed = err != nil
	h.driver.record(call)
	return err
}

// ColPtr implements transport.Handle
func (h *MockHandle) ColPtr(column int, data []byte) error {
	call := Call{Op: OpColPtr, ConnID: h.connID, Column: column, Data: string(data)}
	err := h.bulkStep(OpColPtr, func() error { return h.columns.SetPtr(column, data) })
	call.Failed = err != nil
	h.driver.record(call)
	return err
}

// ColLen implements transport.Handle
func (h *MockHandle) ColLen(column int, length int) error {
	call := Call{Op: OpColLen, ConnID: h.connID, Column: column, Length: length}
	err := h.bulkStep(OpColLen, func() error { return h.columns.SetLen(column, length) })
	call.Failed = err != nil
	h.driver.record(call)
	return err
}

// SendRow implements transport.Handle
func (h *MockHandle) SendRow(ctx context.Context) error {
	if err := h.begin(ctx); err != nil {
		return err
	}
	h.wait(ctx)

	var size int
	err := h.bulkStep(OpSendRow, func() error {
		row, err := h.columns.Snapshot()
		if err != nil {
			return protocol.WrapTransportError(protocol.ErrorCodeBulkSend, "row rejected", err)
		}
		for _, v := range row {
			size += len(v)
		}
		h.pending = append(h.pending, row)
		return nil
	})
	h.driver.record(Call{Op: OpSendRow, ConnID: h.connID, Length: size, Failed: err != nil})
	if err != nil {
		return err
	}

	h.rowsSent.Add(1)
	h.bytesSent.Add(int64(size))
	return nil
}

// Batch implements transport.Handle
func (h *MockHandle) Batch(ctx context.Context) (int64, error) {
	if err := h.begin(ctx); err != nil {
		return -1, err
	}
	h.wait(ctx)

	var n int64
	err := h.bulkStep(OpBatch, func() error {
		n = h.commitLocked()
		return nil
	})
	h.driver.record(Call{Op: OpBatch, ConnID: h.connID, Length: int(n), Failed: err != nil})
	if err != nil {
		return -1, err
	}

	h.batches.Add(1)
	return n, nil
}

// Done implements transport.Handle
func (h *MockHandle) Done(ctx context.Context) (int64, error) {
	if err := h.begin(ctx); err != nil {
		return -1, err
	}
	h.wait(ctx)

	var n int64
	err := h.bulkStep(OpDone, func() error {
		n = h.commitLocked()
		h.table = nil
		h.columns.Reset()
		return nil
	})
	h.driver.record(Call{Op: OpDone, ConnID: h.connID, Length: int(n), Failed: err != nil})
	if err != nil {
		return -1, err
	}
	return n, nil
}

// Control implements transport.Handle
func (h *MockHandle) Control(field, value int) error {
	err := h.bulkStep(OpControl, func() error {
		if h.control == nil {
			h.control = make(map[int]int)
		}
		h.control[field] = value
		return nil
	})
	h.driver.record(Call{Op: OpControl, ConnID: h.connID, Field: field, Value: value, Failed: err != nil})
	return err
}

// Close implements transport.Handle
func (h *MockHandle) Close() error {
	h.mu.Lock()
	wasClosed := h.closed
	h.closed = true
	h.pending = nil
	h.table = nil
	h.mu.Unlock()

	if !wasClosed {
		h.driver.record(Call{Op: OpClose, ConnID: h.connID})
	}
	return nil
}

// Metrics implements transport.Handle
func (h *MockHandle) Metrics() transport.Metrics {
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

// IsClosed returns whether the handle has been closed
func (h *MockHandle) IsClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Database returns the database selected with Use or at login
func (h *MockHandle) Database() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.database
}

// Options returns the commands passed to Exec
func (h *MockHandle) Options() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.options...)
}

// ControlValue returns the value set for a control field
func (h *MockHandle) ControlValue(field int) (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.control[field]
	return v, ok
}

// Pending returns the number of rows sent but not yet committed
func (h *MockHandle) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.pending)
}

// ConnID returns the connection id the handle was opened with
func (h *MockHandle) ConnID() string {
	return h.connID
}

func (h *MockHandle) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return protocol.ClosedError()
	}
	return nil
}

// bulkStep fires the fault for op and then runs fn under the handle lock,
// failing when no bulk copy is active.
func (h *MockHandle) bulkStep(op Op, fn func() error) error {
	if err := h.driver.fire(op, h.connID); err != nil {
		return h.fail(err)
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return h.fail(protocol.ClosedError())
	}
	if h.table == nil {
		h.mu.Unlock()
		return h.fail(protocol.NoBulkActiveError(string(op)))
	}
	err := fn()
	h.mu.Unlock()

	if err != nil {
		return h.fail(err)
	}
	return nil
}

// commitLocked moves pending rows into the table. Caller holds h.mu.
func (h *MockHandle) commitLocked() int64 {
	n := int64(len(h.pending))
	if n > 0 {
		h.table.append(h.pending)
		h.pending = nil
	}
	h.rowsCommitted.Add(n)
	return n
}

func (h *MockHandle) wait(ctx context.Context) {
	h.driver.mu.RLock()
	delay := h.driver.delay
	h.driver.mu.RUnlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
}

func (h *MockHandle) fail(err error) error {
	h.totalErrors.Add(1)
	h.mu.Lock()
	h.lastErr = err
	h.lastErrTime = time.Now()
	h.mu.Unlock()
	return err
}

// Table is an in-memory bulk copy destination
type Table struct {
	Name string

	mu      sync.RWMutex
	rows    [][][]byte
	commits []int
}

func newTable(name string) *Table {
	return &Table{Name: name}
}

func (t *Table) append(rows [][][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rows = append(t.rows, rows...)
	t.commits = append(t.commits, len(rows))
}

// Rows returns the committed rows. NULL values are nil.
func (t *Table) Rows() [][][]byte {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rows := make([][][]byte, len(t.rows))
	copy(rows, t.rows)
	return rows
}

// Len returns the number of committed rows
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// Commits returns the row count of every commit in order
func (t *Table) Commits() []int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]int(nil), t.commits...)
}

// Value returns the text at a 0-indexed row and 1-indexed column. ok is
// false for NULL or out-of-range positions.
func (t *Table) Value(row, column int) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if row < 0 || row >= len(t.rows) || column < 1 || column > len(t.rows[row]) {
		return "", false
	}
	v := t.rows[row][column-1]
	if v == nil {
		return "", false
	}
	return string(v), true
}

// IsNull reports whether a committed value is SQL NULL
func (t *Table) IsNull(row, column int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if row < 0 || row >= len(t.rows) || column < 1 || column > len(t.rows[row]) {
		return false
	}
	return t.rows[row][column-1] == nil
}

// ErrInjected is a convenience error for fault injection in tests
var ErrInjected = errors.New("injected failure")

func preview(data []byte, length int) string {
	if length < 0 || length > len(data) {
		return ""
	}
	return string(data[:length])
}

func normalizeTable(name string) string {
	return strings.ToLower(strings.NewReplacer("[", "", "]", "", `"`, "").Replace(name))
}
