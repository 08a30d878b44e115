package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/bcp-driver/client"
	"github.com/dan-strohschein/bcp-driver/testutil"
	"github.com/dan-strohschein/bcp-driver/transport/mock"
)

var defaultConfig = loadConfig{Delimiter: ',', NullMarker: `\N`}

func TestLoadRows(t *testing.T) {
	opts := client.DefaultOptions()
	opts.BatchSize = 2
	conn, m := testutil.NewMockConnection(t, &opts)
	ctx := context.Background()
	require.NoError(t, conn.Init(ctx, "people"))

	input := "id,name\n1,ada\n2,\\N\n3,\"lovelace, ada\"\n"
	stats, err := loadRows(ctx, conn, strings.NewReader(input), loadConfig{Delimiter: ',', NullMarker: `\N`, SkipHeader: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Rows)
	assert.Equal(t, int64(1), stats.Nulls)
	assert.NotZero(t, stats.Checksum)

	n, err := conn.Done(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	testutil.AssertTableRows(t, m, "people", [][]*string{
		{testutil.Str("1"), testutil.Str("ada")},
		{testutil.Str("2"), nil},
		{testutil.Str("3"), testutil.Str("lovelace, ada")},
	})
	assert.Equal(t, []int{2, 1}, m.Table("people").Commits())
}

func TestLoadRows_ChecksumDistinguishesNull(t *testing.T) {
	ctx := context.Background()
	checksum := func(input string) uint64 {
		conn, _ := testutil.NewMockConnection(t, nil)
		require.NoError(t, conn.Init(ctx, "t"))
		stats, err := loadRows(ctx, conn, strings.NewReader(input), defaultConfig)
		require.NoError(t, err)
		return stats.Checksum
	}

	assert.Equal(t, checksum("a,b\n"), checksum("a,b\n"))
	assert.NotEqual(t, checksum("a,\\N\n"), checksum("a,\n"))
	assert.NotEqual(t, checksum("ab,c\n"), checksum("a,bc\n"))
}

func TestLoadRows_ShortLine(t *testing.T) {
	conn, m := testutil.NewMockConnection(t, nil)
	ctx := context.Background()
	require.NoError(t, conn.Init(ctx, "t"))

	stats, err := loadRows(ctx, conn, strings.NewReader("a,b\nc\nd,e\n"), defaultConfig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
	testutil.AssertErrorCode(t, err, client.CodeRowWidth)
	assert.Equal(t, int64(1), stats.Rows)
	assert.Equal(t, 1, m.CountOf(mock.OpSendRow))
}

func TestLoadRows_TabDelimited(t *testing.T) {
	conn, m := testutil.NewMockConnection(t, nil)
	ctx := context.Background()
	require.NoError(t, conn.Init(ctx, "t"))

	_, err := loadRows(ctx, conn, strings.NewReader("x\t\ty\n"), loadConfig{Delimiter: '\t', NullMarker: "NULL"})
	require.NoError(t, err)
	_, err = conn.Done(ctx)
	require.NoError(t, err)

	testutil.AssertTableRows(t, m, "t", [][]*string{{testutil.Str("x"), testutil.Str(""), testutil.Str("y")}})
}

func TestParseControls(t *testing.T) {
	controls, err := parseControls([]string{"TABLOCK=1", "batch = 500", "11=1"})
	require.NoError(t, err)
	assert.Equal(t, []control{{9, 1}, {4, 500}, {11, 1}}, controls)

	for _, bad := range []string{"TABLOCK", "NOPE=1", "BATCH=x"} {
		_, err := parseControls([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestPrintTable(t *testing.T) {
	var buf bytes.Buffer
	orig, origColors := stdout, colorsEnabled
	stdout, colorsEnabled = &buf, false
	defer func() { stdout, colorsEnabled = orig, origColors }()

	printTable([]string{"Rows", "Table"}, [][]string{{"3", "people"}})

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Rows  Table   ", lines[0])
	assert.Equal(t, "3     people  ", lines[2])
}

func TestDriversCommand(t *testing.T) {
	var buf bytes.Buffer
	orig := stdout
	stdout = &buf
	defer func() { stdout = orig }()
	app := newApp()
	app.Writer = &buf

	require.NoError(t, app.Run([]string{"bcp", "drivers"}))
	assert.Contains(t, buf.String(), "mssql")
	assert.Contains(t, buf.String(), "postgres")
}

func TestLoadRows_ProgressHook(t *testing.T) {
	var buf bytes.Buffer
	orig, origColors := stderr, colorsEnabled
	stderr, colorsEnabled = &buf, false
	defer func() { stderr, colorsEnabled = orig, origColors }()

	opts := client.DefaultOptions()
	opts.BatchSize = 2
	opts.Hooks = []client.Hook{client.NewProgressHook(printProgress)}
	conn, _ := testutil.NewMockConnection(t, &opts)
	ctx := context.Background()
	require.NoError(t, conn.Init(ctx, "people"))

	_, err := loadRows(ctx, conn, strings.NewReader("1\n2\n3\n"), defaultConfig)
	require.NoError(t, err)
	_, err = conn.Done(ctx)
	require.NoError(t, err)

	assert.Equal(t, "  batch 2 rows committed\n  done 3 rows committed to people\n", buf.String())
}
