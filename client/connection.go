package client

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dan-strohschein/bcp-driver/bridge"
	"github.com/dan-strohschein/bcp-driver/protocol"
	"github.com/dan-strohschein/bcp-driver/transport"
	"github.com/dan-strohschein/bcp-driver/transport/sqlserver"
)

var (
	defaultBridgeOnce sync.Once
	defaultBridge     *bridge.Bridge
)

// DefaultBridge returns the process-wide bridge over the SQL Server driver.
func DefaultBridge() *bridge.Bridge {
	defaultBridgeOnce.Do(func() {
		defaultBridge = bridge.New(sqlserver.NewDriver(sqlserver.Options{}))
	})
	return defaultBridge
}

// UseInterfaces selects the server lookup file used by DefaultBridge.
func UseInterfaces(path string) error {
	if path == "" {
		return ErrParameter("path", "interfaces file name is required")
	}
	return DefaultBridge().UseInterfaces(path)
}

// Logging writes protocol diagnostics of DefaultBridge to path. An empty
// path leaves logging unchanged.
func Logging(path string) error {
	if path == "" {
		return nil
	}
	return DefaultBridge().OpenDump(path)
}

// Connection is one logged-in bulk copy connection. Its methods are safe
// for concurrent use; operations are serialized.
type Connection struct {
	id       string
	server   string
	user     string
	database string
	opts     Options
	bridge   *bridge.Bridge
	logger   Logger
	stateMgr *StateManager
	errs     *errorBridge

	mu        sync.Mutex
	handle    transport.Handle
	batchSize int
	textSize  int
	session   *session
	rowCount  int64
	totalRows int64
	batches   int64

	hooksMu sync.RWMutex
	hooks   []Hook
}

// Connect logs in to server, selects database when it is not empty and
// applies the text size. opts may be nil.
func Connect(ctx context.Context, server, username, password, database string, opts *Options) (*Connection, error) {
	if opts == nil {
		defaultOpts := DefaultOptions()
		opts = &defaultOpts
	}
	o := *opts
	if err := o.validate(); err != nil {
		return nil, err
	}
	if server == "" {
		return nil, ErrParameter("server", "server name is required")
	}

	defaults := DefaultOptions()
	if o.TextSize == 0 {
		o.TextSize = defaults.TextSize
	}
	if o.AppName == "" {
		o.AppName = defaults.AppName
	}
	if o.LoginTimeout == 0 {
		o.LoginTimeout = defaults.LoginTimeout
	}
	if o.Bridge == nil {
		o.Bridge = DefaultBridge()
	}

	logger := o.Logger
	if logger == nil {
		logger = NewLogger(o.LogLevel, nil)
	}

	id := uuid.NewString()
	c := &Connection{
		id:        id,
		server:    server,
		user:      username,
		database:  database,
		opts:      o,
		bridge:    o.Bridge,
		logger:    logger.WithFields(String("connID", id), String("server", server)),
		stateMgr:  NewStateManager(),
		batchSize: o.BatchSize,
		textSize:  o.TextSize,
	}
	c.errs = newErrorBridge(func() func() { return c.bridge.SuspendErrors(id) }, c.logger)
	for _, hook := range o.Hooks {
		c.RegisterHook(hook)
	}

	if o.OnConnected != nil || o.OnDisconnected != nil {
		c.stateMgr.OnStateChange(func(transition StateTransition) {
			switch {
			case transition.To == CONNECTED && o.OnConnected != nil:
				o.OnConnected(transition)
			case transition.To == DISCONNECTED && transition.From == DISCONNECTING && o.OnDisconnected != nil:
				o.OnDisconnected(transition)
			}
		})
	}

	if err := c.open(ctx, password); err != nil {
		return nil, err
	}
	return c, nil
}

// open runs the login sequence.
func (c *Connection) open(ctx context.Context, password string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.logger.Info("connecting", String("user", c.user), String("database", c.database))
	if err := c.stateMgr.TransitionTo(CONNECTING, nil, c.metadata("user_initiated")); err != nil {
		return err
	}

	if err := c.bridge.Initialize(); err != nil {
		initErr := ErrInitialize(c.bridge.Driver().Name(), err)
		c.abortLocked(initErr, "init_failed")
		return initErr
	}

	login := transport.Login{
		ConnID:   c.id,
		User:     c.user,
		Password: password,
		Database: c.database,
		AppName:  c.opts.AppName,
		Timeout:  c.opts.LoginTimeout,
	}
	h, err := c.bridge.Open(ctx, login, c.server, c.errs)
	if err != nil || h == nil {
		loginErr := c.errs.resolve(err, func(cause error) error {
			return ErrLogin(c.server, c.user, cause)
		})
		if loginErr == nil {
			loginErr = ErrLogin(c.server, c.user, nil)
		}
		c.abortLocked(loginErr, "login_failed")
		return loginErr
	}
	c.handle = h

	if c.database != "" {
		err := c.bridge.SelectDatabase(ctx, h, c.database)
		if err = c.errs.resolve(err, func(cause error) error {
			return ErrDatabase(c.database, cause)
		}); err != nil {
			c.abortLocked(err, "setup_failed")
			return err
		}
	}

	if err := c.applyTextSizeLocked(ctx, c.textSize); err != nil {
		c.abortLocked(err, "setup_failed")
		return err
	}

	if err := c.stateMgr.TransitionTo(CONNECTED, nil, c.metadata("user_initiated")); err != nil {
		c.abortLocked(err, "setup_failed")
		return err
	}
	c.logger.Info("connected", Int("batchSize", c.batchSize), Int("textSize", c.textSize))
	return nil
}

// abortLocked releases whatever open acquired and returns to DISCONNECTED.
func (c *Connection) abortLocked(err error, reason string) {
	c.logger.Error("connect failed", String("reason", reason), String("error", FormatError(err, c.opts.DebugMode)))
	if c.handle != nil {
		if closeErr := c.handle.Close(); closeErr != nil {
			c.logger.Warn("failed to close handle", Error("error", closeErr))
		}
		c.handle = nil
	}
	c.bridge.Release(c.id)
	c.errs.take()
	c.stateMgr.TransitionTo(DISCONNECTED, err, c.metadata(reason))
}

// Disconnect releases the transport handle. An open session is abandoned
// without committing. Calling Disconnect more than once is a no-op; it
// always returns nil.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stateMgr.GetState() != CONNECTED {
		return nil
	}
	c.stateMgr.TransitionTo(DISCONNECTING, nil, c.metadata("user_initiated"))

	if c.session != nil {
		c.logger.Warn("disconnecting with an open session; uncommitted rows are discarded",
			String("table", c.session.table), Int("uncommitted", c.session.sinceCommit))
		c.session = nil
	}

	if c.handle != nil {
		if err := c.handle.Close(); err != nil {
			c.logger.Warn("failed to close handle", Error("error", err))
		}
		c.handle = nil
	}
	c.bridge.Release(c.id)
	c.errs.take()

	c.stateMgr.TransitionTo(DISCONNECTED, nil, c.metadata("user_initiated"))
	c.logger.Info("disconnected", Int64("totalRows", c.totalRows), Int64("batches", c.batches))
	return nil
}

// SetBatchSize changes the number of rows between automatic commits. It
// applies to the next row sent.
func (c *Connection) SetBatchSize(n int) error {
	if n < 0 {
		return ErrParameter("batchSize", "batch size must be 0 or greater")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchSize = n
	return nil
}

// BatchSize returns the number of rows between automatic commits.
func (c *Connection) BatchSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchSize
}

// SetTextSize changes the text size and applies it to the live connection.
func (c *Connection) SetTextSize(ctx context.Context, n int) error {
	if n < 0 {
		return ErrParameter("textSize", "text size must be 0 or greater")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stateMgr.GetState() == CONNECTED {
		if err := c.applyTextSizeLocked(ctx, n); err != nil {
			return err
		}
	}
	c.textSize = n
	return nil
}

// TextSize returns the current text size.
func (c *Connection) TextSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.textSize
}

func (c *Connection) applyTextSizeLocked(ctx context.Context, n int) error {
	option := protocol.TextSizeOption(n)
	err := c.bridge.SetSessionOption(ctx, c.handle, option)
	return c.errs.resolve(err, func(cause error) error {
		return ErrSessionOption(option, cause)
	})
}

// RowCount returns the number of rows sent in the current or most recent
// session.
func (c *Connection) RowCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rowCount
}

// TotalRows returns the number of rows sent over the life of the connection.
func (c *Connection) TotalRows() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalRows
}

// Batches returns the number of successful automatic batch commits.
func (c *Connection) Batches() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

// TransportMetrics returns the handle's counters, or zero values when
// disconnected.
func (c *Connection) TransportMetrics() transport.Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return transport.Metrics{}
	}
	return c.handle.Metrics()
}

// ID returns the connection id used to route driver callbacks.
func (c *Connection) ID() string {
	return c.id
}

// Server returns the server name passed to Connect.
func (c *Connection) Server() string {
	return c.server
}

// State returns the connection state.
func (c *Connection) State() ConnectionState {
	return c.stateMgr.GetState()
}

// OnStateChange registers a handler for connection state transitions.
// Handlers run while the connection is busy and may only call State and ID.
func (c *Connection) OnStateChange(handler StateChangeHandler) {
	c.stateMgr.OnStateChange(handler)
}

func (c *Connection) metadata(reason string) map[string]interface{} {
	return map[string]interface{}{
		"connID": c.id,
		"server": c.server,
		"reason": reason,
	}
}
