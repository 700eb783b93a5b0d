// Package peer is the client side of the broker: a websocket signaling
// session plus one peer connection per call.
package peer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/adapters/rtc"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/protocol"
)

const (
	writeWait      = 5 * time.Second
	reconnectWait  = 10 * time.Second
	negotiateWait  = 15 * time.Second
	sendBufferSize = 32
)

var ErrBackpressure = errors.New("backpressure")

// Broker dials the brokering service.
type Broker struct {
	url        string
	rtcConfig  webrtc.Configuration
	dialer     *websocket.Dialer
	pingPeriod time.Duration
}

func NewBroker(brokerURL string, rtcConfig webrtc.Configuration, pingPeriod time.Duration) *Broker {
	if pingPeriod <= 0 {
		pingPeriod = 25 * time.Second
	}
	return &Broker{url: brokerURL, rtcConfig: rtcConfig, dialer: websocket.DefaultDialer, pingPeriod: pingPeriod}
}

// Register dials the broker under candidate. The outcome arrives as
// SessionReady or SessionError.
func (b *Broker) Register(ctx context.Context, candidate domain.Identity) (core.Session, error) {
	s := &Session{
		broker: b,
		id:     candidate,
		calls:  make(map[string]*call),
		events: newDispatcher[core.SessionListener](),
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Broker) endpoint(id domain.Identity) (string, error) {
	u, err := url.Parse(b.url)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = protocol.SignalPath
	}
	q := u.Query()
	q.Set(protocol.QueryID, id.String())
	u.RawQuery = q.Encode()
	return u.String(), nil
}

type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return domain.ErrSessionLost
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

// Session is a registered identity on the broker.
type Session struct {
	broker *Broker
	events *dispatcher[core.SessionListener]

	mu           sync.Mutex
	id           domain.Identity
	conn         *wsConn
	rejected     bool
	disconnected bool
	destroyed    bool
	calls        map[string]*call
}

var _ core.Session = (*Session)(nil)

func (s *Session) connect(ctx context.Context) error {
	endpoint, err := s.broker.endpoint(s.ID())
	if err != nil {
		return fmt.Errorf("broker url: %w", err)
	}
	ws, _, err := s.broker.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}
	c := &wsConn{conn: ws, send: make(chan core.Frame, sendBufferSize)}

	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		c.Close()
		return domain.ErrSessionLost
	}
	s.conn = c
	s.disconnected = false
	s.rejected = false
	s.mu.Unlock()

	log.Info().Str("module", "adapters.peer").Str("id", s.ID().String()).Msg("connected to broker")
	go s.writePump(c)
	go s.readPump(c)
	return nil
}

func (s *Session) writePump(c *wsConn) {
	ticker := time.NewTicker(s.broker.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "adapters.peer").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "adapters.peer").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := s.sendMessage(c, protocol.Message{Type: protocol.TypePing}); err != nil {
				return
			}
		}
	}
}

func (s *Session) readPump(c *wsConn) {
	defer s.lost(c)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("module", "adapters.peer").Msg("readPump read error")
			return
		}
		m, err := protocol.Decode(data)
		if err != nil {
			log.Error().Err(err).Str("module", "adapters.peer").Msg("bad frame")
			continue
		}
		s.handle(c, m)
	}
}

func (s *Session) handle(c *wsConn, m protocol.Message) {
	switch m.Type {
	case protocol.TypeOpen:
		id := domain.Identity(m.ID)
		s.mu.Lock()
		s.id = id
		s.mu.Unlock()
		log.Info().Str("module", "adapters.peer").Str("id", m.ID).Msg("identity assigned")
		s.events.emit(func(l core.SessionListener) { l.SessionReady(id) })
	case protocol.TypeIDTaken:
		s.reject(fmt.Errorf("%w: %s", domain.ErrIdentityTaken, m.ID))
	case protocol.TypeInvalidID:
		s.reject(fmt.Errorf("%w: %s", domain.ErrInvalidIdentity, m.ID))
	case protocol.TypeError:
		err := errors.New(m.Error)
		// Errors naming a call fail that call only.
		if m.CallID != "" {
			if cl, ok := s.lookup(m.CallID); ok {
				cl.end(false, err)
			}
			return
		}
		s.events.emit(func(l core.SessionListener) { l.SessionError(err) })
	case protocol.TypeOffer:
		s.incoming(m)
	case protocol.TypeAnswer:
		if cl, ok := s.lookup(m.CallID); ok {
			cl.remoteAnswer(m.SDP)
		}
	case protocol.TypeLeave:
		if cl, ok := s.lookup(m.CallID); ok {
			cl.end(false, nil)
		}
	case protocol.TypeExpire:
		if cl, ok := s.lookup(m.CallID); ok {
			cl.end(false, fmt.Errorf("%w: %s", domain.ErrPeerUnavailable, m.Dst))
		}
	case protocol.TypePing:
		_ = s.sendMessage(c, protocol.Message{Type: protocol.TypePong})
	case protocol.TypePong:
	default:
		log.Warn().Str("module", "adapters.peer").Str("type", string(m.Type)).Msg("unknown signal")
	}
}

func (s *Session) reject(err error) {
	s.mu.Lock()
	s.rejected = true
	s.mu.Unlock()
	log.Warn().Err(err).Str("module", "adapters.peer").Msg("registration rejected")
	s.events.emit(func(l core.SessionListener) { l.SessionError(err) })
}

// lost runs when the socket dies. A rejected or destroyed session does not
// report a disconnect.
func (s *Session) lost(c *wsConn) {
	c.Close()

	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	quiet := s.destroyed || s.rejected
	if !quiet {
		s.disconnected = true
	}
	s.mu.Unlock()

	if !quiet {
		log.Warn().Str("module", "adapters.peer").Str("id", s.ID().String()).Msg("disconnected from broker")
		s.events.emit(func(l core.SessionListener) { l.SessionDisconnected() })
	}
}

func (s *Session) incoming(m protocol.Message) {
	conn, err := rtc.NewConnection(s.broker.rtcConfig, m.CallID)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.peer").Msg("new peer connection")
		_ = s.send(protocol.Message{Type: protocol.TypeLeave, Dst: m.Src, CallID: m.CallID})
		return
	}
	cl := newCall(s, m.CallID, domain.Identity(m.Src), conn, m.SDP)
	if !s.track(cl) {
		conn.Close()
		return
	}
	log.Info().Str("module", "adapters.peer").Str("peer", m.Src).Str("call_id", m.CallID).Msg("incoming offer")
	s.events.emit(func(l core.SessionListener) { l.IncomingCall(cl) })
}

func (s *Session) track(cl *call) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}
	s.calls[cl.id] = cl
	return true
}

func (s *Session) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, id)
}

func (s *Session) lookup(id string) (*call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cl, ok := s.calls[id]
	return cl, ok
}

func (s *Session) send(m protocol.Message) error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return domain.ErrSessionLost
	}
	return s.sendMessage(c, m)
}

func (s *Session) sendMessage(c *wsConn, m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := c.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "adapters.peer").Str("type", string(m.Type)).Msg("send")
		return err
	}
	return nil
}

func (s *Session) Listen(l core.SessionListener) func() { return s.events.listen(l) }

func (s *Session) ID() domain.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Call offers a call to remote carrying local.
func (s *Session) Call(ctx context.Context, remote domain.Identity, local core.MediaStream) (core.CallHandle, error) {
	s.mu.Lock()
	live := !s.destroyed && s.conn != nil
	s.mu.Unlock()
	if !live {
		return nil, domain.ErrSessionLost
	}

	id := uuid.NewString()
	conn, err := rtc.NewConnection(s.broker.rtcConfig, id)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	cl := newCall(s, id, remote, conn, "")
	if err := conn.AddLocalAudio(local); err != nil {
		conn.Close()
		return nil, fmt.Errorf("add local audio: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, negotiateWait)
	defer cancel()
	offer, err := conn.CreateOffer(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create offer: %w", err)
	}
	if !s.track(cl) {
		conn.Close()
		return nil, domain.ErrSessionLost
	}
	if err := s.send(protocol.Message{Type: protocol.TypeOffer, Dst: remote.String(), CallID: id, SDP: offer.SDP}); err != nil {
		s.untrack(id)
		conn.Close()
		return nil, err
	}
	log.Info().Str("module", "adapters.peer").Str("peer", remote.String()).Str("call_id", id).Msg("offer sent")
	return cl, nil
}

// Reconnect redials under the current identity.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	switch {
	case s.destroyed:
		s.mu.Unlock()
		return domain.ErrSessionLost
	case s.conn != nil:
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), reconnectWait)
	defer cancel()
	return s.connect(ctx)
}

func (s *Session) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	calls := make([]*call, 0, len(s.calls))
	for _, cl := range s.calls {
		calls = append(calls, cl)
	}
	s.mu.Unlock()

	for _, cl := range calls {
		cl.Close()
	}

	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	if c != nil {
		c.Close()
	}
	s.events.close()
	log.Info().Str("module", "adapters.peer").Str("id", s.ID().String()).Msg("session destroyed")
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
