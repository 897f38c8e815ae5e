package reql

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/creasty/defaults"

	"github.com/andreyvit/reql/internal/wire"
)

// ConnectOpts configures Connect. Zero fields take the defaults in the tags.
type ConnectOpts struct {
	// Address is "host:port". When empty, Host and Port are used.
	Address  string
	Host     string `default:"localhost"`
	Port     int    `default:"28015"`
	Database string `default:"test"`
	Username string `default:"admin"`
	Password string

	// Timeout bounds dialing and the handshake.
	Timeout time.Duration `default:"20s"`

	TLSConfig *tls.Config
	// CACertPath names a PEM bundle of trusted roots. Setting it enables TLS.
	CACertPath string

	Logger *slog.Logger

	// RunOpts are applied to every query run on the connection; options
	// passed to Run take precedence.
	RunOpts RunOpts
}

func (o ConnectOpts) address() string {
	if o.Address != "" {
		return o.Address
	}
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o ConnectOpts) tlsConfig() (*tls.Config, error) {
	if o.TLSConfig == nil && o.CACertPath == "" {
		return nil, nil
	}
	var cfg *tls.Config
	if o.TLSConfig != nil {
		cfg = o.TLSConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if o.CACertPath != "" {
		pem, err := os.ReadFile(o.CACertPath)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in %s", o.CACertPath)
		}
		cfg.RootCAs = pool
	}
	return cfg, nil
}

// CloseOpts controls Connection.Close and Connection.Reconnect.
type CloseOpts struct {
	// NoReplyWait waits for outstanding noreply queries before closing.
	NoReplyWait bool
}

func closeWaits(opts []CloseOpts) bool {
	if len(opts) == 0 {
		return true
	}
	return opts[0].NoReplyWait
}

// Connection is a client connection to a ReQL server. It is safe for
// concurrent use: queries from many goroutines are multiplexed by token.
type Connection struct {
	opts ConnectOpts
	addr string
	log  *slog.Logger

	mu   sync.Mutex
	db   string
	sess *session
}

// Connect dials the server and authenticates.
func Connect(ctx context.Context, opts ConnectOpts) (*Connection, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("reql: connect options: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}
	c := &Connection{
		opts: opts,
		addr: opts.address(),
		log:  opts.Logger,
		db:   opts.Database,
	}
	s, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	c.sess = s
	return c, nil
}

func (c *Connection) dial(ctx context.Context) (*session, error) {
	s, err := dial(ctx, c.opts, c.addr, c.log)
	if err != nil {
		connectionsTotal.WithLabelValues("failed").Inc()
		c.log.Debug("reql: connect failed", "addr", c.addr, "err", err)
		return nil, err
	}
	connectionsTotal.WithLabelValues("ok").Inc()
	c.log.Debug("reql: connected", "addr", c.addr, "server_version", s.serverVersion)
	return s, nil
}

func dial(ctx context.Context, opts ConnectOpts, addr string, log *slog.Logger) (*session, error) {
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	tlsCfg, err := opts.tlsConfig()
	if err != nil {
		return nil, connErrf(ConnErrTransport, addr, err, "TLS configuration")
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, dialErr(ctx, addr, err)
	}
	if tlsCfg != nil {
		if tlsCfg.ServerName == "" {
			host, _, _ := net.SplitHostPort(addr)
			tlsCfg.ServerName = host
		}
		tc := tls.Client(conn, tlsCfg)
		if err := tc.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, dialErr(ctx, addr, err)
		}
		conn = tc
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	r, version, err := handshake(conn, opts.Username, opts.Password, addr)
	stop()
	if err != nil {
		conn.Close()
		if ctx.Err() != nil && !IsAuthError(err) {
			return nil, connErrf(ConnErrTimeout, addr, ctx.Err(), "handshake")
		}
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return newSession(conn, r, addr, version, log), nil
}

func dialErr(ctx context.Context, addr string, err error) error {
	var ne net.Error
	if ctx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
		return connErrf(ConnErrTimeout, addr, err, "dial")
	}
	return connErrf(ConnErrTransport, addr, err, "dial")
}

func (c *Connection) current() (*session, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess, c.db
}

// Use changes the default database of subsequent queries.
func (c *Connection) Use(db string) {
	c.mu.Lock()
	c.db = db
	c.mu.Unlock()
}

// Database returns the current default database.
func (c *Connection) Database() string {
	_, db := c.current()
	return db
}

func (c *Connection) IsOpen() bool {
	s, _ := c.current()
	return s != nil && s.isOpen()
}

// ServerVersion is the version string the server announced in its hello.
func (c *Connection) ServerVersion() string {
	s, _ := c.current()
	return s.serverVersion
}

// Run starts t and returns a cursor over its result. Single values come back
// as an atom cursor. With NoReply set, Run returns (nil, nil) once the query
// is written.
func (c *Connection) Run(ctx context.Context, t Term, opts ...RunOpts) (*Cursor, error) {
	s, db := c.current()
	ro := c.opts.RunOpts
	for _, o := range opts {
		ro = ro.Merge(o)
	}

	body, err := encodeStart(t, ro, db)
	if err != nil {
		return nil, err
	}

	if ro.noReply() {
		if !s.isOpen() {
			return nil, connErrf(ConnErrClosed, s.addr, nil, "")
		}
		return nil, s.send(QueryStart, s.nextToken(), body)
	}

	started := time.Now()
	p, err := s.query(QueryStart, body)
	if err != nil {
		return nil, err
	}
	resp, err := s.await(ctx, p)
	if err != nil {
		if ctx.Err() != nil {
			// The server may already be streaming; tell it to stop.
			s.sendStop(p.token)
		}
		return nil, err
	}
	queryDuration.Observe(time.Since(started).Seconds())

	if resp.Type.IsError() {
		queryErrorsTotal.WithLabelValues(resp.Type.String()).Inc()
		err := newResponseError(resp, t)
		c.log.Debug("reql: query failed", "token", p.token, "err", err)
		return nil, err
	}
	cur := newCursor(s, p, t, ro.formats(), c.log)
	if err := cur.apply(resp); err != nil {
		cur.Close()
		return nil, err
	}
	return cur, nil
}

func encodeStart(t Term, ro RunOpts, db string) ([]byte, error) {
	wt, err := Build(t)
	if err != nil {
		return nil, err
	}
	global, err := ro.globalOptArgs(db)
	if err != nil {
		return nil, err
	}
	return wire.EncodeQuery(int(QueryStart), wt, global)
}

// RunAtom runs t and returns its whole result as one datum. Streams are
// collected into an Array; changefeeds never end, so do not use RunAtom on
// them.
func (c *Connection) RunAtom(ctx context.Context, t Term, opts ...RunOpts) (Datum, error) {
	cur, err := c.Run(ctx, t, opts...)
	if err != nil || cur == nil {
		return nil, err
	}
	defer cur.Close()
	if atom, ok := cur.Atom(); ok {
		return atom, nil
	}
	return cur.All(ctx)
}

// RunWrite runs a write query and decodes its summary. A summary that
// reports errors is returned along with a *WriteError.
func (c *Connection) RunWrite(ctx context.Context, t Term, opts ...RunOpts) (WriteResponse, error) {
	d, err := c.RunAtom(ctx, t, opts...)
	if err != nil {
		return WriteResponse{}, err
	}
	wr, err := DecodeWriteResponse(d)
	if err != nil {
		return wr, err
	}
	if wr.Errors > 0 {
		return wr, &WriteError{wr}
	}
	return wr, nil
}

// Exec runs t for its side effects. Streams are closed after the first batch.
func (c *Connection) Exec(ctx context.Context, t Term, opts ...RunOpts) error {
	cur, err := c.Run(ctx, t, opts...)
	if err != nil || cur == nil {
		return err
	}
	return cur.Close()
}

// NoReplyWait blocks until every noreply query sent so far has completed.
func (c *Connection) NoReplyWait(ctx context.Context) error {
	s, _ := c.current()
	return s.noReplyWait(ctx)
}

// Server describes the server this connection is attached to.
func (c *Connection) Server(ctx context.Context) (ServerInfo, error) {
	s, _ := c.current()
	return s.serverInfo(ctx)
}

// Close closes the connection, by default after waiting for outstanding
// noreply queries. Every waiting query fails with ErrConnectionClosed.
// Closing a closed connection does nothing.
func (c *Connection) Close(opts ...CloseOpts) error {
	s, _ := c.current()
	if !s.isOpen() {
		return nil
	}
	var err error
	if closeWaits(opts) {
		ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
		err = s.noReplyWait(ctx)
		cancel()
	}
	s.close()
	c.log.Debug("reql: closed", "addr", c.addr)
	return err
}

// Reconnect closes the current transport and establishes a new one.
// Cursors of the old transport fail with ErrConnectionClosed.
func (c *Connection) Reconnect(ctx context.Context, opts ...CloseOpts) error {
	s, _ := c.current()
	if s.isOpen() && closeWaits(opts) {
		if err := s.noReplyWait(ctx); err != nil && !errors.Is(err, ErrConnectionClosed) {
			return err
		}
	}
	s.close()
	ns, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.sess = ns
	c.mu.Unlock()
	return nil
}

// Run is shorthand for c.Run(ctx, t, opts...).
func (t Term) Run(ctx context.Context, c *Connection, opts ...RunOpts) (*Cursor, error) {
	return c.Run(ctx, t, opts...)
}

// RunAtom is shorthand for c.RunAtom(ctx, t, opts...).
func (t Term) RunAtom(ctx context.Context, c *Connection, opts ...RunOpts) (Datum, error) {
	return c.RunAtom(ctx, t, opts...)
}

// RunWrite is shorthand for c.RunWrite(ctx, t, opts...).
func (t Term) RunWrite(ctx context.Context, c *Connection, opts ...RunOpts) (WriteResponse, error) {
	return c.RunWrite(ctx, t, opts...)
}

// Exec is shorthand for c.Exec(ctx, t, opts...).
func (t Term) Exec(ctx context.Context, c *Connection, opts ...RunOpts) error {
	return c.Exec(ctx, t, opts...)
}
