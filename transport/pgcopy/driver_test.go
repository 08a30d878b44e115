package pgcopy

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
)

func TestSeverity(t *testing.T) {
	tests := map[string]int{
		"ERROR":   16,
		"fatal":   20,
		"PANIC":   21,
		"WARNING": 0,
		"NOTICE":  0,
		"":        0,
	}
	for name, want := range tests {
		assert.Equal(t, want, Severity(name), name)
	}
}

func TestParseIdentifier(t *testing.T) {
	assert.Equal(t, pgx.Identifier{"public", "people"}, ParseIdentifier("public.people"))
	assert.Equal(t, pgx.Identifier{"Mixed Case"}, ParseIdentifier(`"Mixed Case"`))
	assert.Equal(t, pgx.Identifier{`a"b`}, ParseIdentifier(`"a""b"`))
}

func TestCopyStatement(t *testing.T) {
	got := CopyStatement(pgx.Identifier{"public", "people"}, []string{"id", "full name"})
	assert.Equal(t, `COPY "public"."people" ("id", "full name") FROM STDIN`, got)
}

func TestDriver_ConnString(t *testing.T) {
	d := NewDriver(Options{})
	s := d.connString(transport.Login{
		User:     "loader",
		Password: "secret",
		Database: "warehouse",
		AppName:  "bcp",
		Timeout:  time.Second,
	}, "db.local:5433")

	u, err := url.Parse(s)
	require.NoError(t, err)
	assert.Equal(t, "postgres", u.Scheme)
	assert.Equal(t, "db.local:5433", u.Host)
	assert.Equal(t, "/warehouse", u.Path)
	assert.Equal(t, "prefer", u.Query().Get("sslmode"))
	assert.Equal(t, "bcp", u.Query().Get("application_name"))

	config, err := pgconn.ParseConfig(s)
	require.NoError(t, err)
	assert.Equal(t, "warehouse", config.Database)
	assert.Equal(t, uint16(5433), config.Port)
}

func TestDriver_OpenRequiresInit(t *testing.T) {
	d := NewDriver(Options{})
	_, err := d.Open(context.Background(), transport.Login{}, "localhost")

	var te *protocol.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, protocol.ErrorCodeLibraryInitFailed, te.Code)
}

func TestDriver_OpenDumpUnsupported(t *testing.T) {
	d := NewDriver(Options{})
	assert.Error(t, d.OpenDump("/tmp/dump"))
	assert.NoError(t, d.UseInterfaces("/etc/freetds.conf"))
}

func TestDriver_ReportServerError(t *testing.T) {
	d := NewDriver(Options{})

	var messages []transport.Message
	var failures []transport.Failure
	d.SetMessageHandler(func(m transport.Message) { messages = append(messages, m) })
	d.SetErrorHandler(func(f transport.Failure) transport.Action {
		failures = append(failures, f)
		return transport.Cancel
	})

	pgErr := &pgconn.PgError{Severity: "ERROR", Code: "22P02", Message: "invalid input syntax for type integer"}
	d.report("c1", protocol.ErrBulkCopy, protocol.WrapTransportError(protocol.ErrorCodeBulkBatch, "batch commit failed", pgErr))

	require.Len(t, messages, 1)
	assert.Equal(t, 16, messages[0].Severity)
	assert.Contains(t, messages[0].Text, "22P02")
	assert.Equal(t, "c1", messages[0].ConnID)

	require.Len(t, failures, 1)
	assert.Equal(t, protocol.ErrServerMessage, failures[0].Code)
}
