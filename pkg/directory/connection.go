package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"github.com/platinummonkey/redback/pkg/observability"
)

// Conn is the subset of *ldap.Conn the RBAC layer uses
type Conn interface {
	Bind(username, password string) error
	Search(request *ldap.SearchRequest) (*ldap.SearchResult, error)
	Add(request *ldap.AddRequest) error
	Modify(request *ldap.ModifyRequest) error
	Del(request *ldap.DelRequest) error
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// ConnectionError reports a failure to open or authenticate a directory connection
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("directory %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Connection is one bound directory session. It is never pooled: acquire one
// per logical operation and Close it when done.
type Connection struct {
	conn     Conn
	config   Config
	metrics  *observability.Metrics
	once     sync.Once
	closeErr error
}

// NewConnection wraps an already bound Conn
func NewConnection(conn Conn, config Config, metrics *observability.Metrics) *Connection {
	metrics.ConnectionOpened()
	return &Connection{conn: conn, config: config, metrics: metrics}
}

// Conn returns the underlying session
func (c *Connection) Conn() Conn { return c.conn }

// Config returns the directory layout the connection was opened with
func (c *Connection) Config() Config { return c.config }

// Close releases the session. Calling it more than once is safe.
func (c *Connection) Close() error {
	c.once.Do(func() {
		c.closeErr = c.conn.Close()
		c.metrics.ConnectionClosed()
	})
	return c.closeErr
}

// ConnectionFactory opens bound directory connections
type ConnectionFactory interface {
	GetConnection(ctx context.Context) (*Connection, error)
}

// DialFunc opens an unbound session to the directory
type DialFunc func(ctx context.Context, cfg Config) (Conn, error)

// Factory dials and binds a fresh connection on every call
type Factory struct {
	config  Config
	dial    DialFunc
	logger  *observability.Logger
	metrics *observability.Metrics
}

// FactoryOption customizes a Factory
type FactoryOption func(*Factory)

// WithDialer replaces the network dialer
func WithDialer(dial DialFunc) FactoryOption {
	return func(f *Factory) { f.dial = dial }
}

// WithLogger sets the factory logger
func WithLogger(logger *observability.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// WithMetrics records connection open/close counts
func WithMetrics(metrics *observability.Metrics) FactoryOption {
	return func(f *Factory) { f.metrics = metrics }
}

// NewFactory validates cfg and returns a connection factory
func NewFactory(cfg Config, opts ...FactoryOption) (*Factory, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	f := &Factory{config: cfg, dial: DialLDAP, logger: observability.NopLogger()}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Config returns the effective configuration
func (f *Factory) Config() Config { return f.config }

// GetConnection dials and, when a bind DN is configured, binds
func (f *Factory) GetConnection(ctx context.Context) (*Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ConnectionError{Op: "dial", URL: redactURL(f.config.URL), Err: err}
	}

	conn, err := f.dial(ctx, f.config)
	if err != nil {
		f.logger.WithError(err).WithField("url", redactURL(f.config.URL)).Error("Failed to dial directory")
		return nil, &ConnectionError{Op: "dial", URL: redactURL(f.config.URL), Err: err}
	}

	if f.config.BindDN != "" {
		if err := conn.Bind(f.config.BindDN, f.config.BindPassword); err != nil {
			conn.Close()
			f.logger.WithError(err).WithField("bind_dn", f.config.BindDN).Error("Failed to bind to directory")
			return nil, &ConnectionError{Op: "bind", URL: redactURL(f.config.URL), Err: err}
		}
	}

	return NewConnection(conn, f.config, f.metrics), nil
}

// Ping opens and closes a connection, proving the directory is reachable and
// the bind credentials work
func (f *Factory) Ping(ctx context.Context) error {
	conn, err := f.GetConnection(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// WithConnection acquires a connection, runs fn and always closes the
// connection, including when fn panics
func WithConnection(ctx context.Context, factory ConnectionFactory, fn func(*Connection) error) error {
	conn, err := factory.GetConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	return fn(conn)
}

// DialLDAP is the default DialFunc backed by go-ldap
func DialLDAP(ctx context.Context, cfg Config) (Conn, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify} // #nosec G402 -- opt-in via config
	if u, err := url.Parse(cfg.URL); err == nil {
		tlsConfig.ServerName = u.Hostname()
	}

	dialer := &net.Dialer{Timeout: cfg.DialTimeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	conn, err := ldap.DialURL(cfg.URL, ldap.DialWithDialer(dialer), ldap.DialWithTLSConfig(tlsConfig))
	if err != nil {
		return nil, err
	}
	conn.SetTimeout(cfg.DialTimeout)

	if cfg.StartTLS {
		if err := conn.StartTLS(tlsConfig); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	return conn, nil
}

// redactURL strips credentials from a URL before it is logged
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.User == nil {
		return raw
	}
	u.User = nil
	return u.String()
}
