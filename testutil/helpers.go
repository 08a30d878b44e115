package testutil

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dan-strohschein/bcp-driver/bridge"
	"github.com/dan-strohschein/bcp-driver/client"
	"github.com/dan-strohschein/bcp-driver/transport"
	"github.com/dan-strohschein/bcp-driver/transport/mock"
	_ "github.com/dan-strohschein/bcp-driver/transport/pgcopy"
	_ "github.com/dan-strohschein/bcp-driver/transport/sqlserver"
)

var tableCounter uint64

// NewMockConnection connects to a fresh mock driver and disconnects on
// cleanup. opts may be nil; its Bridge is replaced.
func NewMockConnection(t testing.TB, opts *client.Options) (*client.Connection, *mock.MockDriver) {
	t.Helper()
	return NewMockConnectionWith(t, mock.NewMockDriver(), opts)
}

// NewMockConnectionWith connects to m.
func NewMockConnectionWith(t testing.TB, m *mock.MockDriver, opts *client.Options) (*client.Connection, *mock.MockDriver) {
	t.Helper()

	o := client.DefaultOptions()
	if opts != nil {
		o = *opts
	}
	o.Bridge = bridge.New(m)
	if o.Logger == nil {
		o.Logger = client.NewNoopLogger()
	}

	conn, err := client.Connect(context.Background(), "mock", "sa", "", "", &o)
	if err != nil {
		t.Fatalf("failed to connect to mock driver: %v", err)
	}
	t.Cleanup(func() { conn.Disconnect() })
	return conn, m
}

// NewTestConnection connects to the server named by BCP_TEST_SERVER with
// the driver named by BCP_TEST_DRIVER (default mssql). The test is skipped
// when BCP_TEST_SERVER is not set.
//
// Example:
//
//	export BCP_TEST_SERVER="localhost:1433"
//	export BCP_TEST_USER=sa BCP_TEST_PASSWORD=secret BCP_TEST_DATABASE=tempdb
//	conn := testutil.NewTestConnection(t)
func NewTestConnection(t *testing.T) *client.Connection {
	t.Helper()

	server := os.Getenv("BCP_TEST_SERVER")
	if server == "" {
		t.Skip("BCP_TEST_SERVER not set, skipping integration test")
		return nil
	}

	name := os.Getenv("BCP_TEST_DRIVER")
	if name == "" {
		name = "mssql"
	}
	drv, err := transport.Lookup(name)
	if err != nil {
		t.Fatalf("failed to load driver: %v", err)
	}

	opts := client.DefaultOptions()
	opts.Bridge = bridge.New(drv)
	opts.DebugMode = testing.Verbose()
	opts.Logger = client.NewNoopLogger()

	ctx, _ := WithTimeout(t, 30*time.Second)
	conn, err := client.Connect(ctx, server,
		os.Getenv("BCP_TEST_USER"), os.Getenv("BCP_TEST_PASSWORD"), os.Getenv("BCP_TEST_DATABASE"), &opts)
	if err != nil {
		t.Fatalf("failed to connect to test server: %s", client.FormatError(err, true))
	}

	t.Cleanup(func() {
		if err := conn.Disconnect(); err != nil {
			t.Logf("warning: failed to disconnect: %v", err)
		}
	})
	return conn
}

// TestTableName generates a unique table name for testing.
// Format: <prefix>_<timestamp>_<counter>
func TestTableName(prefix string) string {
	if prefix == "" {
		prefix = "bcp_test"
	}
	n := atomic.AddUint64(&tableCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().Unix(), n)
}

// WithTimeout creates a context with timeout for tests.
// Default timeout is 10 seconds.
func WithTimeout(t testing.TB, timeout ...time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()

	duration := 10 * time.Second
	if len(timeout) > 0 {
		duration = timeout[0]
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	t.Cleanup(cancel)

	return ctx, cancel
}

// SendAll sends rows in order and stops at the first error.
func SendAll(ctx context.Context, conn *client.Connection, rows []client.Row) error {
	for i, row := range rows {
		if err := conn.Send(ctx, row); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}
	return nil
}

// AssertErrorCode fails the test unless err carries code.
func AssertErrorCode(t testing.TB, err error, code string) {
	t.Helper()
	if got := client.Code(err); got != code {
		t.Errorf("expected error code %s, got %q (%v)", code, got, err)
	}
}

// AssertTableRows checks the committed rows of a mock table. A nil
// expected value means NULL.
func AssertTableRows(t testing.TB, m *mock.MockDriver, table string, want [][]*string) {
	t.Helper()

	tbl := m.Table(table)
	if tbl == nil {
		t.Fatalf("table %s was never used", table)
	}
	rows := tbl.Rows()
	if len(rows) != len(want) {
		t.Fatalf("expected %d rows in %s, got %d", len(want), table, len(rows))
	}
	for r, row := range rows {
		if len(row) != len(want[r]) {
			t.Errorf("row %d: expected %d columns, got %d", r, len(want[r]), len(row))
			continue
		}
		for c, v := range row {
			exp := want[r][c]
			switch {
			case exp == nil && v != nil:
				t.Errorf("row %d column %d: expected NULL, got %q", r, c+1, v)
			case exp != nil && v == nil:
				t.Errorf("row %d column %d: expected %q, got NULL", r, c+1, *exp)
			case exp != nil && string(v) != *exp:
				t.Errorf("row %d column %d: expected %q, got %q", r, c+1, *exp, v)
			}
		}
	}
}

// Str returns a pointer to s, for expected rows.
func Str(s string) *string {
	return &s
}

// WaitFor polls condition until it holds or timeout elapses.
func WaitFor(t testing.TB, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(interval)
	}

	t.Errorf("condition not met within timeout %v", timeout)
	return false
}

// SkipUnless skips the test unless the condition is true.
func SkipUnless(t *testing.T, condition bool, reason string) {
	t.Helper()
	if !condition {
		t.Skip(reason)
	}
}
