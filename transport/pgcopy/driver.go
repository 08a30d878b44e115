// Package pgcopy implements the bulk-copy transport for PostgreSQL using
// COPY ... FROM STDIN in text format over github.com/jackc/pgx/v5/pgconn.
package pgcopy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
)

// DriverName is the registry name of the PostgreSQL driver.
const DriverName = "postgres"

func init() {
	transport.Register(DriverName, func() transport.Driver { return NewDriver(Options{}) })
}

// Options configures the PostgreSQL driver
type Options struct {
	// SSLMode is passed through as sslmode. Defaults to "prefer".
	SSLMode string
}

// Driver implements transport.Driver for PostgreSQL
type Driver struct {
	transport.Callbacks

	opts   Options
	mu     sync.RWMutex
	hosts  map[string]string
	inited atomic.Bool
}

// NewDriver creates a PostgreSQL driver
func NewDriver(opts Options) *Driver {
	if opts.SSLMode == "" {
		opts.SSLMode = "prefer"
	}
	return &Driver{opts: opts}
}

// Name implements transport.Driver
func (d *Driver) Name() string {
	return DriverName
}

// Init implements transport.Driver
func (d *Driver) Init() error {
	d.inited.Store(true)
	return nil
}

// UseInterfaces implements transport.Driver. PostgreSQL has no interfaces
// file; the call is accepted so callers can stay driver agnostic.
func (d *Driver) UseInterfaces(path string) error {
	return nil
}

// OpenDump implements transport.Driver. pgconn has no protocol tracer
// that writes to a file, so dumps are not supported.
func (d *Driver) OpenDump(path string) error {
	return protocol.NewTransportError(protocol.ErrorCodeLibraryInitFailed, "dump files are not supported by the postgres driver", map[string]interface{}{
		"path": path,
	})
}

// Open implements transport.Driver
func (d *Driver) Open(ctx context.Context, login transport.Login, server string) (transport.Handle, error) {
	if !d.inited.Load() {
		return nil, protocol.LibraryInitError("driver not initialized")
	}

	config, err := pgconn.ParseConfig(d.connString(login, server))
	if err != nil {
		d.raiseFailure(login.ConnID, protocol.SeverityUser, protocol.ErrConnect, err)
		return nil, protocol.WrapTransportError(protocol.ErrorCodeConnectionRefused, "invalid connection settings", err)
	}
	if login.Timeout > 0 {
		config.ConnectTimeout = login.Timeout
	}
	connID := login.ConnID
	config.OnNotice = func(_ *pgconn.PgConn, n *pgconn.Notice) {
		d.RaiseMessage(noticeMessage(connID, (*pgconn.PgError)(n)))
	}

	conn, err := pgconn.ConnectConfig(ctx, config)
	if err != nil {
		code := protocol.ErrorCodeConnectionRefused
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			code = protocol.ErrorCodeAuthFailed
		}
		d.report(connID, protocol.ErrConnect, err)
		return nil, protocol.WrapTransportError(code, fmt.Sprintf("failed to connect to %s", server), err)
	}

	return &Handle{
		driver:   d,
		connID:   connID,
		conn:     conn,
		database: config.Database,
	}, nil
}

// connString renders a postgres:// URL from the login and a host[:port]
// server name.
func (d *Driver) connString(login transport.Login, server string) string {
	q := url.Values{}
	q.Set("sslmode", d.opts.SSLMode)
	if login.AppName != "" {
		q.Set("application_name", login.AppName)
	}

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(login.User, login.Password),
		Host:     server,
		RawQuery: q.Encode(),
	}
	if login.Database != "" {
		u.Path = "/" + login.Database
	}
	return u.String()
}

// report raises callbacks for a pgconn error. Server errors go through
// the message callback first, like the SQL Server driver.
func (d *Driver) report(connID string, fallback int, err error) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		d.RaiseMessage(noticeMessage(connID, pgErr))
		d.raiseFailure(connID, protocol.SeverityServer, protocol.ErrServerMessage, err)
		return
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
		d.raiseFailure(connID, protocol.SeverityTimeout, protocol.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		d.raiseFailure(connID, protocol.SeverityInfo, protocol.ErrNone, err)
	default:
		var nerr net.Error
		if errors.As(err, &nerr) {
			d.raiseFailure(connID, protocol.SeverityComm, fallback, err)
			return
		}
		d.raiseFailure(connID, protocol.SeverityProgram, fallback, err)
	}
}

func (d *Driver) raiseFailure(connID string, severity, code int, err error) {
	d.RaiseFailure(transport.Failure{
		ConnID:   connID,
		Severity: severity,
		Code:     code,
		Text:     err.Error(),
	})
}

// noticeMessage converts a PostgreSQL error or notice into a server
// message. SQLSTATE travels in the text since it is not numeric.
func noticeMessage(connID string, e *pgconn.PgError) transport.Message {
	return transport.Message{
		ConnID:   connID,
		Severity: Severity(e.Severity),
		Text:     fmt.Sprintf("%s (SQLSTATE %s)", e.Message, e.Code),
		Proc:     e.Routine,
		Line:     int(e.Line),
	}
}

// Severity maps a PostgreSQL severity name to the server severity scale.
// Notices and warnings map to 0 (informational).
func Severity(name string) int {
	switch strings.ToUpper(name) {
	case "ERROR":
		return 16
	case "FATAL":
		return 20
	case "PANIC":
		return 21
	default:
		return 0
	}
}

// closeTimeout bounds the terminate message sent on Close.
const closeTimeout = 5 * time.Second
