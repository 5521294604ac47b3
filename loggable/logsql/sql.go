// Package logsql logs database statements at the driver level. Wrapping a
// driver.Connector interposes on every connection; each query, exec, and
// prepare logs one record whose message is the SQL text, with the statement
// kind, duration fields, and argument count attached. Argument values are
// never logged.
//
// Long statements flow through the handler's message-truncation policy, so
// bulk inserts and generated SQL stay bounded.
package logsql

import (
	"context"
	"database/sql/driver"
	"errors"
	"log/slog"
	"time"

	"github.com/lithictech/appydays/loggable"
)

// Connector returns a driver.Connector that opens dsn through drv and logs
// statements on the resulting connections.
func Connector(drv driver.Driver, dsn string, opts ...Option) driver.Connector {
	return WrapConnector(dsnConnector{dsn: dsn, driver: drv}, opts...)
}

// WrapConnector decorates c so its connections log their statements.
func WrapConnector(c driver.Connector, opts ...Option) driver.Connector {
	return &connector{base: c, cfg: applyOptions(opts)}
}

type dsnConnector struct {
	dsn    string
	driver driver.Driver
}

func (c dsnConnector) Connect(context.Context) (driver.Conn, error) {
	return c.driver.Open(c.dsn)
}

func (c dsnConnector) Driver() driver.Driver { return c.driver }

type connector struct {
	base driver.Connector
	cfg  *config
}

// Connect opens a connection through the base connector and wraps it.
func (c *connector) Connect(ctx context.Context) (driver.Conn, error) {
	conn, err := c.base.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggedConn{conn: conn, cfg: c.cfg}, nil
}

// Driver returns the base connector's driver.
func (c *connector) Driver() driver.Driver { return c.base.Driver() }

// loggedConn wraps a driver connection, forwarding the optional interfaces
// database/sql probes for. Interfaces the underlying connection does not
// implement stay transparent through driver.ErrSkip or emulation of the
// sql package's own fallbacks.
type loggedConn struct {
	conn driver.Conn
	cfg  *config
}

var (
	_ driver.Conn               = (*loggedConn)(nil)
	_ driver.QueryerContext     = (*loggedConn)(nil)
	_ driver.ExecerContext      = (*loggedConn)(nil)
	_ driver.ConnPrepareContext = (*loggedConn)(nil)
	_ driver.ConnBeginTx        = (*loggedConn)(nil)
	_ driver.Pinger             = (*loggedConn)(nil)
	_ driver.SessionResetter    = (*loggedConn)(nil)
	_ driver.Validator          = (*loggedConn)(nil)
	_ driver.NamedValueChecker  = (*loggedConn)(nil)
)

// Prepare forwards without logging; database/sql prefers PrepareContext,
// which logs.
func (c *loggedConn) Prepare(query string) (driver.Stmt, error) {
	return c.conn.Prepare(query)
}

func (c *loggedConn) Close() error { return c.conn.Close() }

// Begin forwards the deprecated context-free transaction start.
func (c *loggedConn) Begin() (driver.Tx, error) {
	return c.conn.Begin()
}

// QueryContext logs the query and forwards to the underlying connection.
func (c *loggedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q, ok := c.conn.(driver.QueryerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	rows, err := q.QueryContext(ctx, query, args)
	if errors.Is(err, driver.ErrSkip) {
		return nil, driver.ErrSkip
	}
	c.log(ctx, "query", query, len(args), time.Since(start), err)
	return rows, err
}

// ExecContext logs the statement and forwards to the underlying connection.
func (c *loggedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	e, ok := c.conn.(driver.ExecerContext)
	if !ok {
		return nil, driver.ErrSkip
	}
	start := time.Now()
	res, err := e.ExecContext(ctx, query, args)
	if errors.Is(err, driver.ErrSkip) {
		return nil, driver.ErrSkip
	}
	c.log(ctx, "exec", query, len(args), time.Since(start), err)
	return res, err
}

// PrepareContext logs the preparation and forwards, falling back to the
// context-free Prepare like database/sql does.
func (c *loggedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	start := time.Now()
	var stmt driver.Stmt
	var err error
	if p, ok := c.conn.(driver.ConnPrepareContext); ok {
		stmt, err = p.PrepareContext(ctx, query)
	} else {
		stmt, err = c.conn.Prepare(query)
	}
	c.log(ctx, "prepare", query, -1, time.Since(start), err)
	return stmt, err
}

// BeginTx forwards transaction starts without logging them; they carry no
// statement text. Connections without ConnBeginTx fall back to Begin when
// the options are defaults, matching the sql package.
func (c *loggedConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if b, ok := c.conn.(driver.ConnBeginTx); ok {
		return b.BeginTx(ctx, opts)
	}
	if opts != (driver.TxOptions{}) {
		return nil, errors.New("logsql: driver does not support non-default transaction options")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.conn.Begin()
}

// Ping forwards when supported; drivers without Pinger report success, as
// database/sql would.
func (c *loggedConn) Ping(ctx context.Context) error {
	if p, ok := c.conn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// ResetSession forwards when supported.
func (c *loggedConn) ResetSession(ctx context.Context) error {
	if r, ok := c.conn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

// IsValid forwards when supported; unknown connections stay poolable.
func (c *loggedConn) IsValid() bool {
	if v, ok := c.conn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

// CheckNamedValue forwards when supported; driver.ErrSkip keeps the sql
// package's default argument conversion.
func (c *loggedConn) CheckNamedValue(nv *driver.NamedValue) error {
	if nvc, ok := c.conn.(driver.NamedValueChecker); ok {
		return nvc.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

// log emits one record for a completed statement. The SQL text is the
// message; the context logger wins over the configured one so statements
// inside a request inherit its correlation fields.
func (c *loggedConn) log(ctx context.Context, kind, query string, argCount int, elapsed time.Duration, err error) {
	logger := c.statementLogger(ctx)
	level := c.cfg.level
	attrs := make([]slog.Attr, 0, 5)
	attrs = append(attrs,
		slog.String("statement_kind", kind),
		slog.Duration(loggable.DurationKey, elapsed),
		slog.Float64(loggable.DurationMSKey, durationMS(elapsed)),
	)
	if argCount >= 0 {
		attrs = append(attrs, slog.Int("arg_count", argCount))
	}
	if err != nil {
		level = loggable.LevelError
		attrs = append(attrs, slog.Any("error", err))
	}
	logger.LogAttrs(ctx, level, query, attrs...)
}

func (c *loggedConn) statementLogger(ctx context.Context) *slog.Logger {
	if logger, ok := loggable.LoggerFromContext(ctx); ok {
		return logger
	}
	if c.cfg.logger != nil {
		return c.cfg.logger
	}
	return slog.Default()
}

func durationMS(d time.Duration) float64 {
	return float64(d.Nanoseconds()) / float64(time.Millisecond)
}
