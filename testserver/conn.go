package testserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/andreyvit/reql"
	"github.com/andreyvit/reql/internal/scram"
	"github.com/andreyvit/reql/internal/wire"
)

// Handshake error codes; 10 to 20 are authentication failures.
const (
	errCodeProtocol = 3
	errCodeAuth     = 12
)

// conn serves one client connection. Frames are read and answered in order
// by serve; only CONTINUE on a changefeed waits in its own goroutine.
type conn struct {
	s   *Server
	nc  net.Conn
	r   *bufio.Reader
	log *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	cursors map[uint64]*serverCursor
	waiters sync.WaitGroup
}

// serverCursor is the state of a query that has more to send.
type serverCursor struct {
	token   uint64
	rows    []reql.Datum
	batch   *batcher
	feed    *feedCursor
	notes   []reql.ResponseNote
	profile reql.Datum

	// cancel is set while a CONTINUE waits for changes.
	cancel context.CancelFunc
}

func newConn(s *Server, nc net.Conn) *conn {
	return &conn{
		s:       s,
		nc:      nc,
		r:       bufio.NewReader(nc),
		log:     s.log.With("remote", nc.RemoteAddr().String()),
		cursors: make(map[uint64]*serverCursor),
	}
}

func (c *conn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.nc.Close()
		c.waiters.Wait()
		c.closeCursors()
	}()
	go func() {
		<-ctx.Done()
		c.nc.Close()
	}()

	user, err := c.handshake()
	if err != nil {
		if !isClosedErr(err) {
			c.log.Debug("testserver: handshake failed", "err", err)
		}
		return
	}
	c.log.Debug("testserver: client authenticated", "user", user)

	for {
		token, body, err := wire.ReadFrame(c.r)
		if err != nil {
			if !isClosedErr(err) {
				c.log.Debug("testserver: read failed", "err", err)
			}
			return
		}
		if err := c.handle(ctx, token, body); err != nil {
			c.log.Debug("testserver: write failed", "token", token, "err", err)
			return
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}

func (c *conn) handshake() (string, error) {
	magic, err := wire.ReadMagic(c.r)
	if err != nil {
		return "", err
	}
	if magic != reql.ProtocolV1_0 {
		// Older clients expect a plain-text answer.
		msg := "ERROR: Received an unsupported protocol version. This port is for RethinkDB queries."
		c.nc.Write(append([]byte(msg), 0))
		return "", fmt.Errorf("unsupported protocol magic %#x", magic)
	}
	hello := wire.ServerHello{
		Success:            true,
		MinProtocolVersion: wire.ProtocolVersion,
		MaxProtocolVersion: wire.ProtocolVersion,
		ServerVersion:      c.s.opts.Version,
	}
	if err := wire.WriteMessage(c.nc, hello); err != nil {
		return "", err
	}

	var first wire.ClientFirst
	if err := wire.ReadMessage(c.r, &first); err != nil {
		return "", err
	}
	if first.ProtocolVersion != wire.ProtocolVersion || first.AuthenticationMethod != wire.AuthMethodSCRAM {
		return "", c.rejectAuth(errCodeProtocol, fmt.Sprintf("Unsupported protocol version %d or authentication method %q.", first.ProtocolVersion, first.AuthenticationMethod))
	}
	sess, serverFirst, err := scram.StartServer(first.Authentication, c.s.credentials)
	if err != nil {
		if errors.Is(err, scram.ErrUnknownUser) {
			return "", c.rejectAuth(errCodeAuth, "Unknown user")
		}
		return "", c.rejectAuth(errCodeProtocol, err.Error())
	}
	if err := wire.WriteMessage(c.nc, wire.AuthReply{Success: true, Authentication: serverFirst}); err != nil {
		return "", err
	}

	var final wire.ClientFinal
	if err := wire.ReadMessage(c.r, &final); err != nil {
		return "", err
	}
	serverFinal, err := sess.Finish(final.Authentication)
	if err != nil {
		if errors.Is(err, scram.ErrAuthFailed) {
			return "", c.rejectAuth(errCodeAuth, "Wrong password")
		}
		return "", c.rejectAuth(errCodeProtocol, err.Error())
	}
	if err := wire.WriteMessage(c.nc, wire.AuthReply{Success: true, Authentication: serverFinal}); err != nil {
		return "", err
	}
	return sess.User, nil
}

func (c *conn) rejectAuth(code int, msg string) error {
	wire.WriteMessage(c.nc, wire.AuthReply{Success: false, Error: msg, ErrorCode: code})
	return errors.New(msg)
}

func (c *conn) handle(ctx context.Context, token uint64, body []byte) error {
	q, err := wire.DecodeQuery(body)
	if err != nil {
		queriesServed.WithLabelValues("malformed").Inc()
		return c.sendError(token, clientErrf("%v", err))
	}
	qt := reql.QueryType(q.Type)
	queriesServed.WithLabelValues(queryTypeLabel(qt)).Inc()
	switch qt {
	case reql.QueryStart:
		return c.start(ctx, token, q)
	case reql.QueryContinue:
		return c.resume(ctx, token)
	case reql.QueryStop:
		return c.stop(token)
	case reql.QueryNoReplyWait:
		// Queries run in arrival order, so every earlier noreply query is done.
		return c.send(&reql.Response{Token: token, Type: reql.ResponseWaitComplete, Results: []any{}})
	case reql.QueryServerInfo:
		return c.send(&reql.Response{Token: token, Type: reql.ResponseServerInfo, Results: []any{c.s.info()}})
	default:
		return c.sendError(token, clientErrf("Unrecognized QueryType %d.", q.Type))
	}
}

func queryTypeLabel(qt reql.QueryType) string {
	switch qt {
	case reql.QueryStart:
		return "start"
	case reql.QueryContinue:
		return "continue"
	case reql.QueryStop:
		return "stop"
	case reql.QueryNoReplyWait:
		return "noreply_wait"
	case reql.QueryServerInfo:
		return "server_info"
	default:
		return "unknown"
	}
}

func (c *conn) start(ctx context.Context, token uint64, q *wire.Query) error {
	term, err := reql.TermFromWire(q.Term)
	if err == nil {
		err = term.Err()
	}
	if err != nil {
		return c.sendError(token, compileErrf("%v", err))
	}
	globals := make(map[string]reql.Term, len(q.Opts))
	for name, raw := range q.Opts {
		t, err := reql.TermFromWire(raw)
		if err == nil {
			err = t.Err()
		}
		if err != nil {
			return c.sendError(token, compileErrf("global optarg %s: %v", name, err))
		}
		globals[name] = t
	}
	noreply := isTrue(globals["noreply"])

	res, err := c.s.exec(ctx, term, globals)
	if err != nil {
		var p panicked
		if errors.As(err, &p) {
			c.log.Error("testserver: query panicked", "token", token, "query", term.String(), "err", err)
		}
		if noreply {
			if res.feed != nil {
				res.feed.close()
			}
			return nil
		}
		return c.sendError(token, err)
	}
	if noreply {
		if res.feed != nil {
			res.feed.close()
		}
		return nil
	}

	if !res.isSeq && res.feed == nil {
		return c.send(&reql.Response{Token: token, Type: reql.ResponseSuccessAtom, Results: []any{reql.EncodeDatum(res.atom)}, Profile: encodeProfile(res.profile)})
	}
	sc := &serverCursor{
		token:   token,
		rows:    res.rows,
		batch:   newBatcher(res.batch),
		feed:    res.feed,
		notes:   res.notes,
		profile: res.profile,
	}
	if sc.feed != nil {
		items, done, err := sc.feed.next(ctx)
		if err != nil {
			return c.sendError(token, err)
		}
		sc.rows = items
		if done {
			sc.feed = nil
		}
	}
	return c.sendBatch(sc, true)
}

func isTrue(t reql.Term) bool {
	d, ok := t.Datum()
	if !ok {
		return false
	}
	b, ok := d.(reql.Bool)
	return ok && bool(b)
}

func encodeProfile(p reql.Datum) any {
	if p == nil {
		return nil
	}
	return reql.EncodeDatum(p)
}

// sendBatch sends the next batch of buffered rows and keeps the cursor when
// more may follow.
func (c *conn) sendBatch(sc *serverCursor, first bool) error {
	batch, rest := sc.batch.take(sc.rows, time.Now())
	sc.rows = rest
	resp := &reql.Response{Token: sc.token, Type: reql.ResponseSuccessPartial, Notes: sc.notes, Results: encodeRows(batch)}
	if first {
		resp.Profile = encodeProfile(sc.profile)
	}
	if len(rest) == 0 && sc.feed == nil {
		resp.Type = reql.ResponseSuccessSequence
		c.forget(sc.token)
	} else {
		c.remember(sc)
	}
	return c.send(resp)
}

func encodeRows(rows []reql.Datum) []any {
	out := make([]any, len(rows))
	for i, d := range rows {
		out[i] = reql.EncodeDatum(d)
	}
	return out
}

func (c *conn) remember(sc *serverCursor) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cursors[sc.token] = sc
}

func (c *conn) forget(token uint64) *serverCursor {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc := c.cursors[token]
	delete(c.cursors, token)
	return sc
}

func (c *conn) resume(ctx context.Context, token uint64) error {
	c.mu.Lock()
	sc := c.cursors[token]
	busy := sc != nil && sc.cancel != nil
	c.mu.Unlock()
	switch {
	case sc == nil:
		return c.sendError(token, clientErrf("Token %d not in stream cache.", token))
	case busy:
		return c.sendError(token, clientErrf("Token %d already has a CONTINUE in progress.", token))
	case len(sc.rows) > 0 || sc.feed == nil:
		return c.sendBatch(sc, false)
	}

	fctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	sc.cancel = cancel
	c.mu.Unlock()
	c.waiters.Add(1)
	go func() {
		defer c.waiters.Done()
		defer cancel()
		items, done, err := sc.feed.next(fctx)

		c.mu.Lock()
		sc.cancel = nil
		_, live := c.cursors[token]
		c.mu.Unlock()
		if !live || (err != nil && fctx.Err() != nil) {
			// Stopped while waiting: this reply ends the token.
			c.forget(token)
			sc.feed.close()
			c.send(&reql.Response{Token: token, Type: reql.ResponseSuccessSequence, Notes: sc.notes, Results: []any{}})
			return
		}
		if err != nil {
			c.forget(token)
			c.sendError(token, err)
			return
		}
		sc.rows = items
		if done {
			sc.feed = nil
		}
		c.sendBatch(sc, false)
	}()
	return nil
}

func (c *conn) stop(token uint64) error {
	c.mu.Lock()
	sc := c.cursors[token]
	delete(c.cursors, token)
	var waiting context.CancelFunc
	if sc != nil {
		waiting = sc.cancel
	}
	c.mu.Unlock()
	if waiting != nil {
		// The waiting CONTINUE answers for the stopped token.
		waiting()
		return nil
	}
	if sc != nil && sc.feed != nil {
		sc.feed.close()
	}
	return c.send(&reql.Response{Token: token, Type: reql.ResponseSuccessSequence, Results: []any{}})
}

func (c *conn) closeCursors() {
	c.mu.Lock()
	cursors := c.cursors
	c.cursors = make(map[uint64]*serverCursor)
	c.mu.Unlock()
	for _, sc := range cursors {
		if sc.feed != nil {
			sc.feed.close()
		}
	}
}

func (c *conn) sendError(token uint64, err error) error {
	qe := asQueryError(err)
	var p panicked
	if errors.As(err, &p) {
		qe = &queryError{Type: reql.ResponseRuntimeError, ErrType: reql.ErrorInternal, Msg: fmt.Sprintf("%v", p.reason)}
	}
	queryErrors.WithLabelValues(qe.Type.String()).Inc()
	resp := &reql.Response{Token: token, Type: qe.Type, Results: []any{qe.Msg}, Backtrace: qe.Frames}
	if qe.Type == reql.ResponseRuntimeError {
		resp.ErrType = qe.ErrType
	}
	if resp.Backtrace == nil {
		resp.Backtrace = []any{}
	}
	c.log.Debug("testserver: query failed", "token", token, "type", qe.Type.String(), "err", qe.Msg)
	return c.send(resp)
}

func (c *conn) send(resp *reql.Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return wire.WriteFrame(c.nc, resp.Token, body)
}
