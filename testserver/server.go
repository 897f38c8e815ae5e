// Package testserver is an embedded ReQL server for tests. It speaks the V1_0
// wire protocol, authenticates with SCRAM-SHA-256, and evaluates queries
// against an in-memory or bbolt-backed store. Queries are evaluated one at a
// time.
package testserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"github.com/creasty/defaults"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	slogzerolog "github.com/samber/slog-zerolog/v2"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/reql"
	"github.com/andreyvit/reql/internal/changefeed"
	"github.com/andreyvit/reql/internal/scram"
)

var ErrServerClosed = errors.New("testserver: server closed")

type Options struct {
	Logger *slog.Logger

	// Addr is where Start listens.
	Addr string `default:"127.0.0.1:0"`

	// Path is a bbolt database file. Data lives in memory when it is empty.
	Path string

	// ChangelogPath, when set, gets a record of every committed write.
	ChangelogPath string

	Name    string `default:"reql_testserver"`
	Version string `default:"2.4.4-testserver"`

	// AdminPassword is the password of the built-in admin user.
	AdminPassword string

	// ScramIterations is the PBKDF2 cost of stored credentials.
	ScramIterations int `default:"4096"`
}

type Server struct {
	opts Options
	log  *slog.Logger
	id   string
	name string

	store storage
	clog  *changelog

	// execMu serializes evaluation; cat is only read or swapped under it.
	execMu sync.Mutex
	cat    *catalog

	usersMu sync.RWMutex
	users   map[string]scram.Credentials

	feedMu sync.Mutex
	feeds  map[*subscription]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	connMu sync.Mutex
	ln     net.Listener
	conns  map[*conn]struct{}
	closed bool
}

func defaultLogger() *slog.Logger {
	zl := zerolog.New(os.Stderr).With().Timestamp().Str("component", "reql-testserver").Logger()
	return slog.New(slogzerolog.Option{Level: slog.LevelWarn, Logger: &zl}.NewZerologHandler())
}

// New opens the store and prepares a server that is not yet listening.
func New(opts Options) (*Server, error) {
	if err := defaults.Set(&opts); err != nil {
		return nil, fmt.Errorf("testserver: options: %w", err)
	}
	if opts.Logger == nil {
		opts.Logger = defaultLogger()
	}

	var store storage
	if opts.Path != "" {
		var err error
		if store, err = openBoltStorage(opts.Path); err != nil {
			return nil, err
		}
	} else {
		store = newMemStorage()
	}
	cat, err := readCatalog(store)
	if err != nil {
		store.Close()
		return nil, err
	}
	var clog *changelog
	if opts.ChangelogPath != "" {
		if clog, err = openChangelog(opts.ChangelogPath); err != nil {
			store.Close()
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)
	s := &Server{
		opts:   opts,
		log:    opts.Logger,
		id:     uuid.NewString(),
		name:   opts.Name,
		store:  store,
		clog:   clog,
		cat:    cat,
		users:  make(map[string]scram.Credentials),
		feeds:  make(map[*subscription]struct{}),
		ctx:    ctx,
		cancel: cancel,
		group:  group,
		conns:  make(map[*conn]struct{}),
	}
	if err := s.AddUser("admin", opts.AdminPassword); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func readCatalog(store storage) (*catalog, error) {
	tx, err := store.BeginTx(false)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	return loadCatalog(tx)
}

// Start creates a server and listens on opts.Addr.
func Start(opts Options) (*Server, error) {
	s, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := s.Listen(s.opts.Addr); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Listen starts accepting connections on addr in the background.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("testserver: %w", err)
	}
	s.connMu.Lock()
	if s.closed {
		s.connMu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.ln = ln
	s.connMu.Unlock()

	s.log.Info("testserver: listening", "addr", ln.Addr().String())
	s.group.Go(func() error {
		return s.serve(ln)
	})
	return nil
}

func (s *Server) serve(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			return fmt.Errorf("testserver: accept: %w", err)
		}
		c := newConn(s, nc)
		if !s.track(c) {
			nc.Close()
			return nil
		}
		s.group.Go(func() error {
			defer s.untrack(c)
			c.serve(s.ctx)
			return nil
		})
	}
}

func (s *Server) isClosed() bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.closed
}

func (s *Server) track(c *conn) bool {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c] = struct{}{}
	activeConns.Inc()
	return true
}

func (s *Server) untrack(c *conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if _, ok := s.conns[c]; ok {
		delete(s.conns, c)
		activeConns.Dec()
	}
}

// Addr is the listening address, empty before Listen.
func (s *Server) Addr() string {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Name() string {
	return s.name
}

// Close stops listening, drops every connection, ends all feeds and closes
// the store. Calling it again is a no-op.
func (s *Server) Close() error {
	s.connMu.Lock()
	if s.closed {
		s.connMu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.ln
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.connMu.Unlock()

	s.cancel()
	if ln != nil {
		ln.Close()
	}
	for _, c := range conns {
		c.nc.Close()
	}
	s.closeFeeds(ErrServerClosed)
	err := s.group.Wait()

	s.execMu.Lock()
	defer s.execMu.Unlock()
	if s.clog != nil {
		err = errors.Join(err, s.clog.Close())
	}
	return errors.Join(err, s.store.Close())
}

// AddUser creates or updates a user that may log in with password.
func (s *Server) AddUser(name, password string) error {
	creds, err := scram.NewCredentials(password, s.opts.ScramIterations)
	if err != nil {
		return fmt.Errorf("testserver: user %s: %w", name, err)
	}
	s.usersMu.Lock()
	defer s.usersMu.Unlock()
	s.users[name] = creds
	return nil
}

func (s *Server) credentials(name string) (scram.Credentials, bool) {
	s.usersMu.RLock()
	defer s.usersMu.RUnlock()
	creds, ok := s.users[name]
	return creds, ok
}

func (s *Server) hasUser(name string) bool {
	_, ok := s.credentials(name)
	return ok
}

func (s *Server) info() reql.ServerInfo {
	return reql.ServerInfo{ID: s.id, Name: s.name}
}

func (s *Server) newEvaluator(ctx context.Context, tx storageTx, db string) *evaluator {
	return &evaluator{
		s:    s,
		ctx:  ctx,
		tx:   tx,
		cat:  s.cat,
		db:   db,
		vars: make(map[int64]reql.Datum),
		now:  reql.NewTime(time.Now()),
	}
}

// result is the outcome of a START query: an atom, a sequence of rows, or a
// changefeed.
type result struct {
	atom    reql.Datum
	rows    []reql.Datum
	isSeq   bool
	feed    *feedCursor
	notes   []reql.ResponseNote
	profile reql.Datum
	batch   batchConfig
}

// exec evaluates a query and commits its writes. Changes are published and a
// resulting feed subscribed before execMu is released.
func (s *Server) exec(ctx context.Context, term reql.Term, globals map[string]reql.Term) (res result, err error) {
	started := time.Now()
	s.execMu.Lock()
	defer s.execMu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = panicked{reason: r, stack: string(debug.Stack())}
		}
		execDuration.Observe(time.Since(started).Seconds())
	}()

	writable := needsWrite(term)
	tx, err := s.store.BeginTx(writable)
	if err != nil {
		return res, err
	}
	defer tx.Rollback()

	e := s.newEvaluator(ctx, tx, "test")
	opts, err := e.globalOptions(globals)
	if err != nil {
		return res, err
	}
	if res.batch, err = parseBatchConfig(opts); err != nil {
		return res, err
	}

	v, err := e.eval(term)
	if err != nil {
		return res, err
	}
	switch v := v.(type) {
	case *feedVal:
		if res.feed, err = e.openFeed(v); err != nil {
			return res, err
		}
		res.notes = append(res.notes, v.note)
		if v.flags.Contains(changefeed.FlagIncludeStates) {
			res.notes = append(res.notes, reql.NoteIncludesStates)
		}
	case *seqVal:
		if v.stream || v.table != nil {
			res.rows, res.isSeq = v.items, true
		} else {
			res.atom = reql.Array(v.items)
		}
	case *tableVal:
		seq, err := e.toSeq(v)
		if err != nil {
			return res, err
		}
		res.rows, res.isSeq = seq.items, true
	case *rowVal, reql.Datum:
		if res.atom, err = e.toDatum(v); err != nil {
			return res, err
		}
	default:
		return res, logicErrf("Query result must be of type DATUM, GROUPED_DATA, or STREAM (got %s).", typeName(v))
	}

	if e.wrote || e.catDirty {
		if e.catDirty {
			if err := saveCatalog(tx, e.cat); err != nil {
				return res, err
			}
		}
		if err := tx.Commit(); err != nil {
			return res, err
		}
		s.cat = e.cat
		if s.clog != nil {
			if err := s.clog.append(time.Now(), e.changes); err != nil {
				s.log.Error("testserver: changelog append failed", "err", err)
			}
		}
		s.publish(ctx, e.changes, e.dropped)
	}
	if res.feed != nil {
		s.subscribe(res.feed.sub)
	}
	if on, ok := opts["profile"].(reql.Bool); ok && bool(on) {
		res.profile = reql.Array{reql.Object{
			"description":  reql.String("Evaluating " + term.Kind().String() + "."),
			"duration(ms)": reql.Number(float64(time.Since(started).Microseconds()) / 1000),
			"sub_tasks":    reql.Array{},
		}}
	}
	return res, nil
}

// globalOptions evaluates the global optargs of a query; db selects the
// default database.
func (e *evaluator) globalOptions(globals map[string]reql.Term) (map[string]reql.Datum, error) {
	opts := make(map[string]reql.Datum, len(globals))
	for name, t := range globals {
		v, err := e.eval(t)
		if err != nil {
			return nil, withFrame(err, name)
		}
		if name == "db" {
			db, ok := v.(*dbVal)
			if !ok {
				return nil, withFrame(logicErrf("Expected type DATABASE but found %s.", typeName(v)), name)
			}
			e.db = db.name
			continue
		}
		if opts[name], err = e.toDatum(v); err != nil {
			return nil, withFrame(err, name)
		}
	}
	if d, ok := opts["read_mode"]; ok {
		if s, ok := d.(reql.String); !ok || (s != "single" && s != "majority" && s != "outdated") {
			return nil, withFrame(logicErrf("Read mode `%s` unrecognized (options are \"majority\", \"single\", and \"outdated\").", printDatum(d)), "read_mode")
		}
	}
	return opts, nil
}

var writeKinds = map[reql.TermKind]bool{
	reql.TermInsert:      true,
	reql.TermUpdate:      true,
	reql.TermReplace:     true,
	reql.TermDelete:      true,
	reql.TermForEach:     true,
	reql.TermDBCreate:    true,
	reql.TermDBDrop:      true,
	reql.TermTableCreate: true,
	reql.TermTableDrop:   true,
	reql.TermIndexCreate: true,
	reql.TermIndexDrop:   true,
	reql.TermIndexRename: true,
}

// needsWrite reports whether evaluating t may write, so reads can run on a
// read-only transaction.
func needsWrite(t reql.Term) bool {
	if writeKinds[t.Kind()] {
		return true
	}
	for _, a := range t.Args() {
		if needsWrite(a) {
			return true
		}
	}
	for _, name := range t.OptArgNames() {
		if o, ok := t.OptArg(name); ok && needsWrite(o) {
			return true
		}
	}
	return false
}
