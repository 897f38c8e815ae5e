package reql

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/goccy/go-json"

	"github.com/andreyvit/reql/internal/wire"
)

// session is one established transport. A single reader goroutine routes
// response frames to the waiter registered for their token.
type session struct {
	addr          string
	log           *slog.Logger
	conn          net.Conn
	r             *bufio.Reader
	serverVersion string

	writeMu   sync.Mutex
	lastToken atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pending
	closing bool
	closed  bool

	closeOnce sync.Once
	done      chan struct{}
}

// pending is the waiter of one token. Responses arrive on responses in the
// order the server sent them; failed is closed when the session dies first.
type pending struct {
	token     uint64
	responses chan *Response
	failed    chan struct{}
	err       error
}

func newSession(conn net.Conn, r *bufio.Reader, addr, version string, log *slog.Logger) *session {
	s := &session{
		addr:          addr,
		log:           log,
		conn:          conn,
		r:             r,
		serverVersion: version,
		pending:       make(map[uint64]*pending),
		done:          make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *session) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && !s.closing
}

func (s *session) nextToken() uint64 {
	return s.lastToken.Add(1)
}

func (s *session) register(token uint64) (*pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.closing {
		return nil, connErrf(ConnErrClosed, s.addr, nil, "")
	}
	p := &pending{
		token:     token,
		responses: make(chan *Response, 4),
		failed:    make(chan struct{}),
	}
	s.pending[token] = p
	inflightQueries.Inc()
	return p, nil
}

func (s *session) unregister(token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pending[token]; ok {
		delete(s.pending, token)
		inflightQueries.Dec()
	}
}

// send writes one query frame. A failed write kills the session, since the
// stream position is no longer known.
func (s *session) send(qt QueryType, token uint64, body []byte) error {
	s.writeMu.Lock()
	err := wire.WriteFrame(s.conn, token, body)
	s.writeMu.Unlock()
	if err != nil {
		s.shutdown(err)
		return connErrf(ConnErrClosed, s.addr, err, "")
	}
	queriesTotal.WithLabelValues(queryTypeLabel(qt)).Inc()
	return nil
}

// query registers a waiter for a fresh token and sends the frame.
func (s *session) query(qt QueryType, body []byte) (*pending, error) {
	token := s.nextToken()
	p, err := s.register(token)
	if err != nil {
		return nil, err
	}
	if err := s.send(qt, token, body); err != nil {
		s.unregister(token)
		return nil, err
	}
	return p, nil
}

func (s *session) sendContinue(token uint64) error {
	body, _ := wire.EncodeQuery(int(QueryContinue), nil, nil)
	return s.send(QueryContinue, token, body)
}

func (s *session) sendStop(token uint64) error {
	body, _ := wire.EncodeQuery(int(QueryStop), nil, nil)
	return s.send(QueryStop, token, body)
}

func (s *session) readLoop() {
	defer close(s.done)
	for {
		token, body, err := wire.ReadFrame(s.r)
		if err != nil {
			s.shutdown(err)
			return
		}
		resp := new(Response)
		if err := json.Unmarshal(body, resp); err != nil {
			s.shutdown(fmt.Errorf("token %d: malformed response: %w", token, err))
			return
		}
		resp.Token = token
		s.deliver(resp)
	}
}

func (s *session) deliver(resp *Response) {
	s.mu.Lock()
	p, ok := s.pending[resp.Token]
	if ok && resp.Type != ResponseSuccessPartial {
		delete(s.pending, resp.Token)
		inflightQueries.Dec()
	}
	s.mu.Unlock()

	if !ok {
		s.log.Debug("reql: response for unknown token", "token", resp.Token, "type", resp.Type.String())
		return
	}
	select {
	case p.responses <- resp:
	default:
		// A waiter never has more than one CONTINUE and one STOP outstanding.
		s.log.Error("reql: response dropped, waiter is not reading", "token", resp.Token)
	}
}

// shutdown marks the session dead and fails every waiter. Only the first
// cause is kept.
func (s *session) shutdown(cause error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var err error
	if s.closing {
		err = connErrf(ConnErrClosed, s.addr, nil, "")
	} else {
		err = connErrf(ConnErrClosed, s.addr, cause, "")
		s.log.Warn("reql: connection lost", "addr", s.addr, "err", cause)
	}
	waiters := s.pending
	s.pending = make(map[uint64]*pending)
	s.mu.Unlock()

	for _, p := range waiters {
		p.err = err
		close(p.failed)
		inflightQueries.Dec()
	}
	s.conn.Close()
}

// close closes the transport exactly once and waits for the reader to exit.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()
		s.conn.Close()
		<-s.done
	})
}

func (s *session) noReplyWait(ctx context.Context) error {
	body, _ := wire.EncodeQuery(int(QueryNoReplyWait), nil, nil)
	p, err := s.query(QueryNoReplyWait, body)
	if err != nil {
		return err
	}
	resp, err := s.await(ctx, p)
	if err != nil {
		return err
	}
	if resp.Type.IsError() {
		return newResponseError(resp, Term{})
	}
	if resp.Type != ResponseWaitComplete {
		return fmt.Errorf("reql: unexpected %v response to NOREPLY_WAIT", resp.Type)
	}
	return nil
}

func (s *session) serverInfo(ctx context.Context) (ServerInfo, error) {
	body, _ := wire.EncodeQuery(int(QueryServerInfo), nil, nil)
	p, err := s.query(QueryServerInfo, body)
	if err != nil {
		return ServerInfo{}, err
	}
	resp, err := s.await(ctx, p)
	if err != nil {
		return ServerInfo{}, err
	}
	if resp.Type.IsError() {
		return ServerInfo{}, newResponseError(resp, Term{})
	}
	if resp.Type != ResponseServerInfo || len(resp.Results) != 1 {
		return ServerInfo{}, fmt.Errorf("reql: unexpected %v response to SERVER_INFO", resp.Type)
	}
	var info ServerInfo
	raw, err := json.Marshal(resp.Results[0])
	if err == nil {
		err = json.Unmarshal(raw, &info)
	}
	return info, err
}

// await waits for the next response of p. When ctx ends first, the token is
// abandoned: its later responses are discarded by the reader.
func (s *session) await(ctx context.Context, p *pending) (*Response, error) {
	resp, err := p.wait(ctx, nil)
	if err != nil && ctx.Err() != nil {
		s.unregister(p.token)
	}
	return resp, err
}

// wait returns the next response. Queued responses win over a dead session,
// a cancelled ctx, and a closed cursor.
func (p *pending) wait(ctx context.Context, cancel <-chan struct{}) (*Response, error) {
	select {
	case r := <-p.responses:
		return r, nil
	default:
	}
	select {
	case r := <-p.responses:
		return r, nil
	case <-p.failed:
		select {
		case r := <-p.responses:
			return r, nil
		default:
			return nil, p.err
		}
	case <-cancel:
		return nil, ErrCursorClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
