package bcpdriver_test

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/bcp-driver/client"
	"github.com/dan-strohschein/bcp-driver/mapper"
	"github.com/dan-strohschein/bcp-driver/testutil"
)

// TestIntegration_Load loads rows into BCP_TEST_TABLE on a live server. The
// table must have an int column, a varchar column and a nullable varchar
// column. Skipped unless BCP_TEST_SERVER is set.
func TestIntegration_Load(t *testing.T) {
	table := os.Getenv("BCP_TEST_TABLE")
	testutil.SkipUnless(t, os.Getenv("BCP_TEST_SERVER") != "" && table != "", "BCP_TEST_SERVER and BCP_TEST_TABLE not set")

	conn := testutil.NewTestConnection(t)
	ctx, _ := testutil.WithTimeout(t)

	require.NoError(t, conn.SetBatchSize(2))
	require.NoError(t, conn.Init(ctx, table))
	for i := 0; i < 5; i++ {
		var note interface{}
		if i%2 == 0 {
			note = fmt.Sprintf("note %d", i)
		}
		require.NoError(t, mapper.SendValues(ctx, conn, i, fmt.Sprintf("row %d", i), note))
	}

	n, err := conn.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	assert.Equal(t, int64(2), conn.Batches())
}

// TestIntegration_MissingTable checks that a missing table surfaces as a
// SessionError carrying the server message.
func TestIntegration_MissingTable(t *testing.T) {
	conn := testutil.NewTestConnection(t)
	ctx, _ := testutil.WithTimeout(t)

	err := conn.Init(ctx, testutil.TestTableName("missing"))
	var sessionErr *client.SessionError
	require.ErrorAs(t, err, &sessionErr)
	assert.Equal(t, client.CodeSessionInit, sessionErr.Code)
}
