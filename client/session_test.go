package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/bcp-driver/bridge"
	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
	"github.com/dan-strohschein/bcp-driver/transport/mock"
)

func strptr(s string) *string { return &s }

func TestSession_BatchScenario(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 2)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "dbo.pairs"))
	require.NoError(t, conn.Send(ctx, TextRow("a", "b")))
	require.NoError(t, conn.Send(ctx, NullableRow(nil, strptr("d"))))
	assert.Equal(t, 1, m.CountOf(mock.OpBatch))
	require.NoError(t, conn.Send(ctx, TextRow("e", "f")))

	n, err := conn.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, int64(3), conn.RowCount())
	assert.Equal(t, int64(1), conn.Batches())

	table := m.Table("dbo.pairs")
	assert.Equal(t, []int{2, 1}, table.Commits())
	assert.True(t, table.IsNull(1, 1))
	v, ok := table.Value(1, 2)
	assert.True(t, ok)
	assert.Equal(t, "d", v)
	assert.False(t, conn.InSession())
}

func TestSession_BatchCommitCounts(t *testing.T) {
	tests := []struct {
		rows      int
		batchSize int
		commits   []int
	}{
		{rows: 5, batchSize: 0, commits: []int{5}},
		{rows: 4, batchSize: 2, commits: []int{2, 2}},
		{rows: 7, batchSize: 3, commits: []int{3, 3, 1}},
		{rows: 3, batchSize: 1, commits: []int{1, 1, 1}},
		{rows: 2, batchSize: 10, commits: []int{2}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d rows batch %d", tt.rows, tt.batchSize), func(t *testing.T) {
			m := mock.NewMockDriver()
			conn := connectMock(t, m, tt.batchSize)
			ctx := context.Background()

			require.NoError(t, conn.Init(ctx, "t"))
			for i := 0; i < tt.rows; i++ {
				require.NoError(t, conn.Send(ctx, TextRow(fmt.Sprint(i))))
			}

			wantBatches := 0
			if tt.batchSize > 0 {
				wantBatches = tt.rows / tt.batchSize
			}
			assert.Equal(t, wantBatches, m.CountOf(mock.OpBatch))

			n, err := conn.Done(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(tt.rows), n)
			assert.Equal(t, tt.commits, m.Table("t").Commits())
		})
	}
}

func TestSession_BatchSizeChangeMidSession(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 3)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, TextRow("1")))
	require.NoError(t, conn.Send(ctx, TextRow("2")))
	require.NoError(t, conn.SetBatchSize(2))
	require.NoError(t, conn.Send(ctx, TextRow("3")))
	require.NoError(t, conn.Send(ctx, TextRow("4")))

	assert.Equal(t, []int{3}, m.Table("t").Commits())
	require.NoError(t, conn.Send(ctx, TextRow("5")))
	assert.Equal(t, []int{3, 2}, m.Table("t").Commits())
}

func TestSend_BindsFirstRowAndRepointsLater(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, TextRow("a", "bb", "ccc")))
	assert.Equal(t, 3, m.CountOf(mock.OpBind))
	assert.Equal(t, 0, m.CountOf(mock.OpColPtr))

	require.NoError(t, conn.Send(ctx, TextRow("dddd", "e", "")))
	require.NoError(t, conn.Send(ctx, TextRow("f", "g", "h")))
	assert.Equal(t, 3, m.CountOf(mock.OpBind))
	assert.Equal(t, 6, m.CountOf(mock.OpColPtr))
	assert.Equal(t, 6, m.CountOf(mock.OpColLen))

	lengths := []int{}
	for _, c := range m.CallsOf(mock.OpColLen)[:3] {
		lengths = append(lengths, c.Length)
	}
	assert.Equal(t, []int{4, 1, 0}, lengths)
}

func TestSend_NullIsNotEmpty(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, Row{Null(), Text(""), Bytes(nil)}))
	require.NoError(t, conn.Send(ctx, Row{Text(""), Null(), Bytes([]byte("x"))}))
	_, err := conn.Done(ctx)
	require.NoError(t, err)

	binds := m.CallsOf(mock.OpBind)
	require.Len(t, binds, 3)
	assert.Equal(t, protocol.NullLength, binds[0].Length)
	assert.Equal(t, 0, binds[1].Length)
	assert.Equal(t, 0, binds[2].Length)

	table := m.Table("t")
	assert.True(t, table.IsNull(0, 1))
	assert.False(t, table.IsNull(0, 2))
	assert.False(t, table.IsNull(0, 3))
	assert.False(t, table.IsNull(1, 1))
	assert.True(t, table.IsNull(1, 2))
	v, ok := table.Value(0, 2)
	assert.True(t, ok)
	assert.Equal(t, "", v)
}

func TestSend_ShorterRowRejected(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, TextRow("a", "b", "c")))
	calls := len(m.Calls())

	err := conn.Send(ctx, TextRow("d", "e"))
	var dataErr *DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, CodeRowWidth, dataErr.Code)
	assert.Equal(t, 3, dataErr.Details["expected"])
	assert.Equal(t, 2, dataErr.Details["actual"])

	assert.Equal(t, int64(1), conn.RowCount())
	assert.Equal(t, calls, len(m.Calls()))
	assert.Equal(t, int64(0), arenasInUse.Load())

	require.NoError(t, conn.Send(ctx, TextRow("g", "h", "i")))
	assert.Equal(t, int64(2), conn.RowCount())
}

func TestSend_ExtraFieldsIgnored(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, TextRow("a", "b")))
	require.NoError(t, conn.Send(ctx, TextRow("c", "d", "extra")))
	_, err := conn.Done(ctx)
	require.NoError(t, err)

	rows := m.Table("t").Rows()
	require.Len(t, rows, 2)
	assert.Len(t, rows[1], 2)
	assert.Equal(t, 4, m.CountOf(mock.OpColPtr)+m.CountOf(mock.OpBind))
}

func TestSend_Validation(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	assert.Equal(t, CodeNoSession, Code(conn.Send(ctx, TextRow("a"))))

	require.NoError(t, conn.Init(ctx, "t"))
	assert.Equal(t, CodeParameter, Code(conn.Send(ctx, nil)))
	assert.Equal(t, CodeRowWidth, Code(conn.Send(ctx, Row{})))
	assert.Equal(t, int64(0), conn.RowCount())
	assert.Equal(t, 0, m.CountOf(mock.OpSendRow))
}

func TestSend_TransportFailure(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	m.WithError(mock.OpSendRow, mock.ErrInjected)

	err := conn.Send(ctx, TextRow("a"))
	assert.Equal(t, CodeSend, Code(err))
	assert.ErrorIs(t, err, mock.ErrInjected)
	assert.Equal(t, int64(0), conn.RowCount())
	assert.Equal(t, int64(0), arenasInUse.Load())

	require.NoError(t, conn.Send(ctx, TextRow("b")))
	assert.Equal(t, int64(1), conn.RowCount())
}

func TestSend_FailedFirstRowDoesNotFixLayout(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	m.WithError(mock.OpSendRow, mock.ErrInjected)
	require.Error(t, conn.Send(ctx, TextRow("a", "b", "c")))

	require.NoError(t, conn.Send(ctx, TextRow("x")))
	require.NoError(t, conn.Send(ctx, TextRow("y", "ignored")))
	n, err := conn.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	rows := m.Table("t").Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, [][]byte{[]byte("x")}, rows[0])
	assert.Equal(t, [][]byte{[]byte("y")}, rows[1])
}

func TestSend_PendingFailureWins(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	m.WithFault(mock.OpSendRow, mock.Fault{
		Failure: &transport.Failure{Severity: protocol.SeverityComm, Code: 20006, Text: "Write to the server failed"},
	})

	err := conn.Send(ctx, TextRow("a"))
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, 20006, protoErr.Number)
	assert.Equal(t, "(Severity 9) Write to the server failed", protoErr.Message)
	assert.Equal(t, int64(0), conn.RowCount())
}

func TestSend_FailuresOnSharedBridgeStillRouted(t *testing.T) {
	m := mock.NewMockDriver()
	b := bridge.New(m)
	ctx := context.Background()

	connect := func() *Connection {
		conn, err := Connect(ctx, "local", "sa", "secret", "", testOptions(b))
		require.NoError(t, err)
		t.Cleanup(func() { conn.Disconnect() })
		require.NoError(t, conn.Init(ctx, "t"))
		return conn
	}
	first, second := connect(), connect()

	for _, conn := range []*Connection{first, second, first} {
		m.WithFault(mock.OpSendRow, mock.Fault{
			Failure: &transport.Failure{Severity: protocol.SeverityComm, Code: 20006, Text: "Write to the server failed"},
		})
		err := conn.Send(ctx, TextRow("a"))
		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
		assert.Equal(t, 20006, protoErr.Number)
		assert.False(t, b.Suspended(conn.ID()))
	}
}

func TestSend_PendingMessageAfterSuccessfulSend(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 1)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	m.WithFault(mock.OpSendRow, mock.Fault{
		Message: &transport.Message{Number: 4815, Severity: 16, Text: "Received an invalid column length"},
		Silent:  true,
	})

	err := conn.Send(ctx, TextRow("a"))
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	assert.Equal(t, 4815, protoErr.Number)
	assert.Equal(t, int64(1), conn.RowCount())
	assert.Equal(t, 0, m.CountOf(mock.OpBatch))

	require.NoError(t, conn.Send(ctx, TextRow("b")))
	assert.Equal(t, 1, m.CountOf(mock.OpBatch))
	assert.Equal(t, []int{2}, m.Table("t").Commits())
}

func TestSend_BatchFailure(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 1)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	m.WithError(mock.OpBatch, mock.ErrInjected)

	err := conn.Send(ctx, TextRow("a"))
	var dataErr *DataError
	require.ErrorAs(t, err, &dataErr)
	assert.Equal(t, CodeBatch, dataErr.Code)
	assert.Equal(t, int64(1), conn.RowCount())
	assert.Equal(t, int64(0), conn.Batches())

	require.NoError(t, conn.Send(ctx, TextRow("b")))
	assert.Equal(t, int64(1), conn.Batches())
	assert.Equal(t, []int{2}, m.Table("t").Commits())
}

func TestSend_WidthScenario(t *testing.T) {
	conn := connectMock(t, mock.NewMockDriver(), 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, TextRow("1", "2", "3")))

	var dataErr *DataError
	require.ErrorAs(t, conn.Send(ctx, TextRow("1", "2")), &dataErr)
	assert.Equal(t, int64(1), conn.RowCount())
}

func TestSend_ContextCanceled(t *testing.T) {
	conn := connectMock(t, mock.NewMockDriver(), 0)
	require.NoError(t, conn.Init(context.Background(), "t"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := conn.Send(ctx, TextRow("a"))
	assert.Equal(t, CodeSend, Code(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(0), arenasInUse.Load())
}

func TestSend_ArenasReleased(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 2)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	for i := 0; i < 10; i++ {
		require.NoError(t, conn.Send(ctx, Row{Text(fmt.Sprint(i)), Null(), Bytes([]byte("payload"))}))
	}
	m.WithError(mock.OpColPtr, mock.ErrInjected)
	assert.Equal(t, CodeBind, Code(conn.Send(ctx, TextRow("x", "y", "z"))))
	assert.Equal(t, int64(0), arenasInUse.Load())
}

func TestInit_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("empty table", func(t *testing.T) {
		conn := connectMock(t, mock.NewMockDriver(), 0)
		assert.Equal(t, CodeParameter, Code(conn.Init(ctx, "")))
	})

	t.Run("session already open", func(t *testing.T) {
		conn := connectMock(t, mock.NewMockDriver(), 0)
		require.NoError(t, conn.Init(ctx, "t"))
		err := conn.Init(ctx, "u")
		assert.Equal(t, CodeSessionOpen, Code(err))
		assert.Equal(t, "t", conn.Table())
	})

	t.Run("not connected", func(t *testing.T) {
		conn := connectMock(t, mock.NewMockDriver(), 0)
		require.NoError(t, conn.Disconnect())

		var stateErr *StateError
		require.ErrorAs(t, conn.Init(ctx, "t"), &stateErr)
	})

	t.Run("unknown table", func(t *testing.T) {
		m := mock.NewMockDriver().WithTable("dbo.known")
		conn := connectMock(t, m, 0)

		err := conn.Init(ctx, "dbo.missing")
		var sessionErr *SessionError
		require.ErrorAs(t, err, &sessionErr)
		assert.Equal(t, CodeSessionInit, sessionErr.Code)

		var protoErr *ProtocolError
		require.ErrorAs(t, err, &protoErr)
		assert.Equal(t, 208, protoErr.Number)
		assert.False(t, conn.InSession())

		require.NoError(t, conn.Init(ctx, "[dbo].[known]"))
	})
}

func TestInit_ResetsRowCount(t *testing.T) {
	conn := connectMock(t, mock.NewMockDriver(), 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, TextRow("a")))
	_, err := conn.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), conn.RowCount())

	require.NoError(t, conn.Init(ctx, "t"))
	assert.Equal(t, int64(0), conn.RowCount())
	require.NoError(t, conn.Send(ctx, TextRow("a", "b")))
	assert.Equal(t, int64(2), conn.TotalRows())
}

func TestControl(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	assert.Equal(t, CodeParameter, Code(conn.Control(ctx, 0, 1)))
	assert.Equal(t, CodeNoSession, Code(conn.Control(ctx, protocol.ControlBatch, 10)))

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Control(ctx, protocol.ControlBatch, 10))
	v, ok := lastHandle(t, m).ControlValue(protocol.ControlBatch)
	assert.True(t, ok)
	assert.Equal(t, 10, v)
}

func TestControl_TransportErrorIsLogged(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	m.WithFault(mock.OpControl, mock.Fault{
		Failure: &transport.Failure{Severity: protocol.SeverityProgram, Code: 20076, Text: "Unknown bcp control field"},
	})

	assert.NoError(t, conn.Control(ctx, 99, 1))
	require.NoError(t, conn.Send(ctx, TextRow("a")))
}

func TestDone_Errors(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	_, err := conn.Done(ctx)
	assert.Equal(t, CodeNoSession, Code(err))

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, TextRow("a")))
	m.WithError(mock.OpDone, mock.ErrInjected)

	_, err = conn.Done(ctx)
	assert.Equal(t, CodeDone, Code(err))
	assert.ErrorIs(t, err, mock.ErrInjected)
	assert.False(t, conn.InSession())
}

func TestCommitIsDone(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, TextRow("a")))
	n, err := conn.Commit(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, m.CountOf(mock.OpDone))
}

func TestSession_NewSessionRebinds(t *testing.T) {
	m := mock.NewMockDriver()
	conn := connectMock(t, m, 0)
	ctx := context.Background()

	require.NoError(t, conn.Init(ctx, "t"))
	require.NoError(t, conn.Send(ctx, TextRow("a", "b")))
	_, err := conn.Done(ctx)
	require.NoError(t, err)

	require.NoError(t, conn.Init(ctx, "u"))
	require.NoError(t, conn.Send(ctx, TextRow("x")))
	assert.Equal(t, 3, m.CountOf(mock.OpBind))

	metrics := conn.TransportMetrics()
	assert.Equal(t, int64(2), metrics.RowsSent)
}
