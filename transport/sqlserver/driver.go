// Package sqlserver implements the bulk-copy transport on top of
// github.com/microsoft/go-mssqldb.
package sqlserver

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
)

// DriverName is the registry name of the SQL Server driver.
const DriverName = "mssql"

// DefaultPort is the SQL Server listener port used when none is given.
const DefaultPort = 1433

func init() {
	transport.Register(DriverName, func() transport.Driver { return NewDriver(Options{}) })
}

// Options configures the SQL Server driver
type Options struct {
	// DialTimeout bounds the TCP dial. Defaults to 15 seconds.
	DialTimeout time.Duration

	// TLS configuration
	Encrypt    bool
	SkipVerify bool
	CertPath   string

	// LogFlags is the go-mssqldb log mask used while a dump file is open.
	// Defaults to LogErrors | LogMessages | LogSQL.
	LogFlags int
}

// go-mssqldb log mask bits, as accepted by the "log" connection parameter.
const (
	LogErrors      = 1
	LogMessages    = 2
	LogRows        = 4
	LogSQL         = 8
	LogParams      = 16
	LogTransaction = 32
	LogDebug       = 64
)

// DefaultLogFlags is the log mask used when Options.LogFlags is zero.
const DefaultLogFlags = LogErrors | LogMessages | LogSQL

// Driver implements transport.Driver for SQL Server
type Driver struct {
	transport.Callbacks

	opts       Options
	mu         sync.RWMutex
	interfaces map[string]string
	dump       *os.File
	inited     atomic.Bool
}

// NewDriver creates a SQL Server driver
func NewDriver(opts Options) *Driver {
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 15 * time.Second
	}
	if opts.LogFlags == 0 {
		opts.LogFlags = DefaultLogFlags
	}
	return &Driver{opts: opts}
}

// Name implements transport.Driver
func (d *Driver) Name() string {
	return DriverName
}

// Init implements transport.Driver. go-mssqldb needs no process-wide
// setup beyond registering itself, so Init only records that it ran.
func (d *Driver) Init() error {
	d.inited.Store(true)
	return nil
}

// UseInterfaces implements transport.Driver
func (d *Driver) UseInterfaces(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return protocol.WrapTransportError(protocol.ErrorCodeLibraryInitFailed, "failed to open interfaces file", err)
	}
	defer f.Close()

	entries, err := ParseInterfaces(f)
	if err != nil {
		return protocol.WrapTransportError(protocol.ErrorCodeLibraryInitFailed, "failed to parse interfaces file", err)
	}

	d.mu.Lock()
	d.interfaces = entries
	d.mu.Unlock()
	return nil
}

// OpenDump implements transport.Driver
func (d *Driver) OpenDump(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return protocol.WrapTransportError(protocol.ErrorCodeLibraryInitFailed, "failed to open dump file", err)
	}

	d.mu.Lock()
	prev := d.dump
	d.dump = f
	d.mu.Unlock()

	if prev != nil {
		prev.Close()
	}
	mssql.SetLogger(&dumpLogger{w: f})
	return nil
}

// Open implements transport.Driver
func (d *Driver) Open(ctx context.Context, login transport.Login, server string) (transport.Handle, error) {
	if !d.inited.Load() {
		return nil, protocol.LibraryInitError("driver not initialized")
	}

	dsn, err := d.buildDSN(login, server)
	if err != nil {
		d.raiseFailure(login.ConnID, protocol.SeverityUser, protocol.ErrConnect, err)
		return nil, err
	}

	connector, err := mssql.NewConnector(dsn)
	if err != nil {
		d.raiseFailure(login.ConnID, protocol.SeverityUser, protocol.ErrConnect, err)
		return nil, protocol.WrapTransportError(protocol.ErrorCodeConnectionRefused, "invalid connection settings", err)
	}

	db := sql.OpenDB(connector)
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		code := protocol.ErrorCodeConnectionRefused
		var serr mssql.Error
		if errors.As(err, &serr) {
			code = protocol.ErrorCodeAuthFailed
		}
		d.report(login.ConnID, protocol.ErrConnect, err)
		return nil, protocol.WrapTransportError(code, fmt.Sprintf("failed to connect to %s", server), err)
	}

	return &Handle{
		driver: d,
		connID: login.ConnID,
		db:     db,
		conn:   conn,
	}, nil
}

// buildDSN resolves server through the interfaces file and renders a
// sqlserver:// URL.
func (d *Driver) buildDSN(login transport.Login, server string) (string, error) {
	host, instance := d.resolve(server)

	q := url.Values{}
	if login.Database != "" {
		q.Set("database", login.Database)
	}
	if login.AppName != "" {
		q.Set("app name", login.AppName)
	}
	if login.Timeout > 0 {
		q.Set("connection timeout", strconv.Itoa(int(login.Timeout.Seconds())))
	}
	q.Set("dial timeout", strconv.Itoa(int(d.opts.DialTimeout.Seconds())))
	if d.opts.Encrypt {
		q.Set("encrypt", "true")
	} else {
		q.Set("encrypt", "disable")
	}
	if d.opts.SkipVerify {
		q.Set("TrustServerCertificate", "true")
	}
	if d.opts.CertPath != "" {
		q.Set("certificate", d.opts.CertPath)
	}

	d.mu.RLock()
	dumping := d.dump != nil
	d.mu.RUnlock()
	if dumping {
		q.Set("log", strconv.Itoa(d.opts.LogFlags))
	}

	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(login.User, login.Password),
		Host:     host,
		RawQuery: q.Encode(),
	}
	if instance != "" {
		u.Path = instance
	}

	dsn := u.String()
	if _, err := msdsn.Parse(dsn); err != nil {
		return "", protocol.WrapTransportError(protocol.ErrorCodeConnectionRefused, "invalid server name", err)
	}
	return dsn, nil
}

// resolve maps a server name to host[:port] and an optional instance name.
func (d *Driver) resolve(server string) (host, instance string) {
	d.mu.RLock()
	if addr, ok := d.interfaces[strings.ToLower(server)]; ok {
		server = addr
	}
	d.mu.RUnlock()

	if i := strings.IndexByte(server, '\\'); i >= 0 {
		server, instance = server[:i], server[i+1:]
	}
	if strings.IndexByte(server, ',') >= 0 {
		// host,port form
		parts := strings.SplitN(server, ",", 2)
		server = net.JoinHostPort(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
	return server, instance
}

// report raises the callbacks for a driver error. Server errors surface
// each message through the message callback followed by an
// ErrServerMessage failure; everything else becomes a single failure
// with code fallback.
func (d *Driver) report(connID string, fallback int, err error) {
	var serr mssql.Error
	if errors.As(err, &serr) {
		all := serr.All
		if len(all) == 0 {
			all = []mssql.Error{serr}
		}
		for _, e := range all {
			d.RaiseMessage(transport.Message{
				ConnID:   connID,
				Number:   e.Number,
				State:    int(e.State),
				Severity: int(e.Class),
				Text:     e.Message,
				Server:   e.ServerName,
				Proc:     e.ProcName,
				Line:     int(e.LineNo),
			})
		}
		d.raiseFailure(connID, protocol.SeverityServer, protocol.ErrServerMessage, err)
		return
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
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
	f := transport.Failure{
		ConnID:   connID,
		Severity: severity,
		Code:     code,
		Text:     err.Error(),
	}
	var nerr *net.OpError
	if errors.As(err, &nerr) && nerr.Err != nil {
		f.OSText = nerr.Err.Error()
	}
	d.RaiseFailure(f)
}

// dumpLogger adapts a file to the go-mssqldb logger.
type dumpLogger struct {
	mu sync.Mutex
	w  *os.File
}

func (l *dumpLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, "%s "+format+"\n", append([]interface{}{time.Now().Format(time.RFC3339Nano)}, v...)...)
}

func (l *dumpLogger) Println(v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.w, append([]interface{}{time.Now().Format(time.RFC3339Nano)}, v...)...)
}
