package coretest

import (
	"context"
	"sync"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

var (
	_ core.Broker      = (*Broker)(nil)
	_ core.Session     = (*Session)(nil)
	_ core.CallHandle  = (*Call)(nil)
	_ core.Environment = Env{}
	_ core.Clipboard   = (*Clipboard)(nil)
)

// Broker hands out a new Session for every registration.
type Broker struct {
	mu         sync.Mutex
	Err        error
	candidates []domain.Identity
	sessions   []*Session
}

func (b *Broker) Register(_ context.Context, candidate domain.Identity) (core.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.candidates = append(b.candidates, candidate)
	if b.Err != nil {
		return nil, b.Err
	}
	s := NewSession(candidate)
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *Broker) Candidates() []domain.Identity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Identity(nil), b.candidates...)
}

func (b *Broker) Sessions() []*Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Session(nil), b.sessions...)
}

// Last returns the most recently registered session, or nil.
func (b *Broker) Last() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sessions) == 0 {
		return nil
	}
	return b.sessions[len(b.sessions)-1]
}

type Session struct {
	mu           sync.Mutex
	id           domain.Identity
	listeners    map[int]core.SessionListener
	next         int
	destroyed    bool
	disconnected bool
	reconnects   int
	calls        []*Call

	// CallErr makes Call fail.
	CallErr error
}

func NewSession(id domain.Identity) *Session {
	return &Session{id: id, listeners: make(map[int]core.SessionListener)}
}

func (s *Session) Listen(l core.SessionListener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) ID() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) Call(_ context.Context, remote domain.Identity, local core.MediaStream) (core.CallHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CallErr != nil {
		return nil, s.CallErr
	}
	if s.destroyed {
		return nil, domain.ErrSessionLost
	}
	c := NewCall(remote)
	c.local = local
	s.calls = append(s.calls, c)
	return c, nil
}

func (s *Session) Reconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	s.disconnected = false
	return nil
}

func (s *Session) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}

func (s *Session) Destroyed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroyed
}

func (s *Session) Disconnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disconnected
}

func (s *Session) Reconnects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconnects
}

func (s *Session) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func (s *Session) Calls() []*Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Call(nil), s.calls...)
}

func (s *Session) snapshot() []core.SessionListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.SessionListener, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l)
	}
	return out
}

func (s *Session) EmitReady(id domain.Identity) {
	s.mu.Lock()
	s.id = id
	s.mu.Unlock()
	for _, l := range s.snapshot() {
		l.SessionReady(id)
	}
}

func (s *Session) EmitError(err error) {
	for _, l := range s.snapshot() {
		l.SessionError(err)
	}
}

func (s *Session) EmitDisconnected() {
	s.mu.Lock()
	s.disconnected = true
	s.mu.Unlock()
	for _, l := range s.snapshot() {
		l.SessionDisconnected()
	}
}

func (s *Session) EmitIncoming(c core.CallHandle) {
	for _, l := range s.snapshot() {
		l.IncomingCall(c)
	}
}

// Call is a fake call handle. Close notifies current listeners once.
type Call struct {
	mu        sync.Mutex
	peer      domain.Identity
	listeners map[int]core.CallListener
	next      int
	open      bool
	closed    bool
	closes    int
	local     core.MediaStream
	answered  core.MediaStream

	// AnswerErr makes Answer fail.
	AnswerErr error
}

func NewCall(peer domain.Identity) *Call {
	return &Call{peer: peer, listeners: make(map[int]core.CallListener)}
}

func (c *Call) Peer() domain.Identity { return c.peer }

func (c *Call) Listen(l core.CallListener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.next
	c.next++
	c.listeners[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Call) Answer(local core.MediaStream) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.AnswerErr != nil {
		return c.AnswerErr
	}
	if c.closed {
		return domain.ErrNoActiveCall
	}
	c.answered = local
	c.open = true
	return nil
}

func (c *Call) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Call) Close() {
	c.mu.Lock()
	c.closes++
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	c.mu.Unlock()
	for _, l := range c.snapshot() {
		l.CallClosed()
	}
}

func (c *Call) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseCalls counts Close invocations, including no-op repeats.
func (c *Call) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *Call) Local() core.MediaStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Call) Answered() core.MediaStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.answered
}

func (c *Call) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

func (c *Call) snapshot() []core.CallListener {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.CallListener, 0, len(c.listeners))
	for _, l := range c.listeners {
		out = append(out, l)
	}
	return out
}

func (c *Call) EmitOpen() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
	for _, l := range c.snapshot() {
		l.CallOpened()
	}
}

func (c *Call) EmitStream(r core.RemoteStream) {
	for _, l := range c.snapshot() {
		l.CallStream(r)
	}
}

// EmitRemoteClose simulates the remote side hanging up.
func (c *Call) EmitRemoteClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.open = false
	c.mu.Unlock()
	for _, l := range c.snapshot() {
		l.CallClosed()
	}
}

func (c *Call) EmitError(err error) {
	for _, l := range c.snapshot() {
		l.CallFailed(err)
	}
}

type Env struct {
	Realtime bool
	Secure   bool
}

func (e Env) SupportsRealtimeMedia() bool { return e.Realtime }
func (e Env) IsSecureContext() bool       { return e.Secure }

type Clipboard struct {
	mu   sync.Mutex
	Err  error
	text string
}

func (c *Clipboard) WriteText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.text = text
	return nil
}

func (c *Clipboard) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text
}
