// SPDX-License-Identifier: Apache-2.0 OR EPL-2.0

// Package fakesession implements session.Session entirely in-process, with
// no network I/O: a minimal in-memory broker good enough to exercise the
// advanced pub/sub core in tests and in the cmd/example demo. The real
// scout/open/close session machinery and wire codec are out of scope for
// this module (spec.md §1); this stands in for that external collaborator.
package fakesession

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/zenoh-io/advanced-pubsub-go/session"
)

// Session is an in-memory session.Session implementation. All operations
// are delivered synchronously (inline with Put/Delete/Get), which keeps
// tests deterministic; a single broker-wide lock guards the routing tables
// and is released before any callback or handler runs. It does not model the
// "read thread vs lease thread" concurrency spec.md §5 describes for a
// real session, only the pub/sub/query/liveliness semantics the core
// builds on.
type Session struct {
	zid session.ZenohId

	mu          sync.Mutex
	subs        []*subEntry
	queryables  []*queryableEntry
	liveTokens  map[string]bool
	liveSubs    []*subEntry
	closed      bool

	clock atomic.Uint64 // fraction counter for NewTimestamp
}

type subEntry struct {
	keyExpr string
	cb      func(*session.Sample)
}

type queryableEntry struct {
	keyExpr string
	handler func(context.Context, session.QueryableQuery, session.Queryable)
}

// New builds a fake session identifying itself as zid.
func New(zid session.ZenohId) *Session {
	return &Session{
		zid:        zid,
		liveTokens: make(map[string]bool),
	}
}

func (s *Session) ZID() session.ZenohId { return s.zid }

// NewTimestamp returns a session-monotonic timestamp: each call advances
// the fractional component, wrapping into the seconds field on overflow.
func (s *Session) NewTimestamp() session.Timestamp {
	n := s.clock.Add(1)
	return session.Timestamp{
		Seconds:  uint32(n >> 32),
		Fraction: uint32(n),
		Zid:      s.zid,
	}
}

func (s *Session) checkClosed() error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return session.ErrSessionClosed
	}
	return nil
}

// Close marks the session closed; every subsequent API call fails fast
// with session.ErrSessionClosed (spec.md §4.9 "Session closed").
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

type publisher struct {
	s       *Session
	keyExpr string
}

func (s *Session) DeclarePublisher(ctx context.Context, keyExpr string, opts session.PublishOptions) (session.Publisher, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	return &publisher{s: s, keyExpr: keyExpr}, nil
}

func (p *publisher) dispatch(ctx context.Context, sample *session.Sample) error {
	if err := p.s.checkClosed(); err != nil {
		return err
	}
	p.s.mu.Lock()
	targets := make([]*subEntry, 0, len(p.s.subs))
	for _, sub := range p.s.subs {
		if keyExprIntersects(sub.keyExpr, sample.KeyExpr) {
			targets = append(targets, sub)
		}
	}
	p.s.mu.Unlock()

	for _, sub := range targets {
		sub.cb(sample)
	}
	return nil
}

func (p *publisher) Put(ctx context.Context, payload []byte, opts session.PublishOptions, sample *session.Sample) error {
	sample.KeyExpr = p.keyExpr
	sample.Kind = session.KindPut
	sample.Payload = payload
	return p.dispatch(ctx, sample)
}

func (p *publisher) Delete(ctx context.Context, opts session.PublishOptions, sample *session.Sample) error {
	sample.KeyExpr = p.keyExpr
	sample.Kind = session.KindDelete
	return p.dispatch(ctx, sample)
}

func (p *publisher) Undeclare(ctx context.Context) error {
	return p.s.checkClosed()
}

type subscription struct {
	s     *Session
	entry *subEntry
	live  bool
}

func (sub *subscription) Undeclare(ctx context.Context) error {
	if err := sub.s.checkClosed(); err != nil {
		return err
	}
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()
	list := &sub.s.subs
	if sub.live {
		list = &sub.s.liveSubs
	}
	for i, e := range *list {
		if e == sub.entry {
			*list = append((*list)[:i], (*list)[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Session) DeclareSubscriber(ctx context.Context, keyExpr string, cb func(*session.Sample)) (session.Subscription, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	e := &subEntry{keyExpr: keyExpr, cb: cb}
	s.mu.Lock()
	s.subs = append(s.subs, e)
	s.mu.Unlock()
	return &subscription{s: s, entry: e}, nil
}

type queryableHandle struct {
	s     *Session
	entry *queryableEntry
}

func (q *queryableHandle) Undeclare(ctx context.Context) error {
	if err := q.s.checkClosed(); err != nil {
		return err
	}
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	for i, e := range q.s.queryables {
		if e == q.entry {
			q.s.queryables = append(q.s.queryables[:i], q.s.queryables[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Session) DeclareQueryable(ctx context.Context, keyExpr string, handler func(context.Context, session.QueryableQuery, session.Queryable)) (session.QueryableHandle, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	e := &queryableEntry{keyExpr: keyExpr, handler: handler}
	s.mu.Lock()
	s.queryables = append(s.queryables, e)
	s.mu.Unlock()
	return &queryableHandle{s: s, entry: e}, nil
}

type livelinessToken struct {
	s       *Session
	keyExpr string
}

func (t *livelinessToken) Undeclare(ctx context.Context) error {
	if err := t.s.checkClosed(); err != nil {
		return err
	}
	t.s.mu.Lock()
	delete(t.s.liveTokens, t.keyExpr)
	targets := make([]*subEntry, 0, len(t.s.liveSubs))
	for _, sub := range t.s.liveSubs {
		if keyExprIntersects(sub.keyExpr, t.keyExpr) {
			targets = append(targets, sub)
		}
	}
	t.s.mu.Unlock()

	for _, sub := range targets {
		sub.cb(&session.Sample{KeyExpr: t.keyExpr, Kind: session.KindDelete})
	}
	return nil
}

func (s *Session) DeclareLivelinessToken(ctx context.Context, keyExpr string) (session.LivelinessToken, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.liveTokens[keyExpr] = true
	targets := make([]*subEntry, 0, len(s.liveSubs))
	for _, sub := range s.liveSubs {
		if keyExprIntersects(sub.keyExpr, keyExpr) {
			targets = append(targets, sub)
		}
	}
	s.mu.Unlock()

	tok := &livelinessToken{s: s, keyExpr: keyExpr}
	for _, sub := range targets {
		sub.cb(&session.Sample{KeyExpr: keyExpr, Kind: session.KindPut})
	}
	return tok, nil
}

func (s *Session) DeclareLivelinessSubscriber(ctx context.Context, keyExpr string, cb func(*session.Sample)) (session.Subscription, error) {
	if err := s.checkClosed(); err != nil {
		return nil, err
	}
	e := &subEntry{keyExpr: keyExpr, cb: cb}
	s.mu.Lock()
	s.liveSubs = append(s.liveSubs, e)
	existing := make([]string, 0, len(s.liveTokens))
	for k := range s.liveTokens {
		if keyExprIntersects(keyExpr, k) {
			existing = append(existing, k)
		}
	}
	s.mu.Unlock()

	for _, k := range existing {
		cb(&session.Sample{KeyExpr: k, Kind: session.KindPut})
	}
	return &subscription{s: s, entry: e, live: true}, nil
}

type queryReplier struct {
	ctx     context.Context
	cb      func(session.QueryReply)
}

func (r *queryReplier) Reply(ctx context.Context, sample *session.Sample, opts session.PublishOptions) error {
	r.cb(session.QueryReply{Sample: sample})
	return nil
}

func (r *queryReplier) ReplyErr(ctx context.Context, err error) error {
	r.cb(session.QueryReply{Err: err})
	return nil
}

func (r *queryReplier) Finalize() error { return nil }

func (s *Session) Get(ctx context.Context, keyExpr string, opts session.GetOptions, cb func(session.QueryReply)) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	s.mu.Lock()
	targets := make([]*queryableEntry, 0, len(s.queryables))
	for _, q := range s.queryables {
		if keyExprIntersects(q.keyExpr, keyExpr) {
			targets = append(targets, q)
		}
	}
	s.mu.Unlock()

	if len(targets) == 0 {
		return nil
	}

	query := session.QueryableQuery{KeyExpr: keyExpr, Parameters: opts.Parameters}
	for _, q := range targets {
		q.handler(ctx, query, &queryReplier{ctx: ctx, cb: cb})
	}
	return nil
}

var _ session.Session = (*Session)(nil)
