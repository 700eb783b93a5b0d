// Package broker keeps the identity table of the brokering service and
// routes signal frames between registered peers.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/protocol"
)

// ErrClosed is returned by connections that were shut down.
var ErrClosed = errors.New("connection closed")

type entry struct {
	Conn   core.SignalConnection
	Token  string
	Cancel context.CancelFunc
	Since  time.Time
}

// Peer is a read-only view of a registration.
type Peer struct {
	ID    domain.Identity `json:"id"`
	Since time.Time       `json:"since"`
}

type Switchboard struct {
	policy  Policy
	metrics *Metrics

	mu    sync.RWMutex
	peers map[domain.Identity]*entry
}

func NewSwitchboard(policy Policy, metrics *Metrics) *Switchboard {
	return &Switchboard{
		policy:  policy,
		metrics: metrics,
		peers:   make(map[domain.Identity]*entry),
	}
}

func (s *Switchboard) Metrics() *Metrics { return s.metrics }

// Register binds id to conn. An identity already held by another
// connection is refused with domain.ErrIdentityTaken.
func (s *Switchboard) Register(id domain.Identity, conn core.SignalConnection, token string, cancel context.CancelFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.peers[id]; ok && e.Conn != conn {
		s.metrics.Rejected("taken")
		log.Info().Str("module", "app.broker").Str("id", id.String()).Msg("identity taken")
		return domain.ErrIdentityTaken
	}
	s.peers[id] = &entry{Conn: conn, Token: token, Cancel: cancel, Since: time.Now()}
	if s.metrics != nil {
		s.metrics.peers.Set(float64(len(s.peers)))
	}
	log.Info().Str("module", "app.broker").Str("id", id.String()).Str("token", token).Msg("registered")
	return nil
}

// Unregister drops id if it is still bound to conn.
func (s *Switchboard) Unregister(id domain.Identity, conn core.SignalConnection) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.peers[id]
	if !ok || e.Conn != conn {
		return false
	}
	delete(s.peers, id)
	if s.metrics != nil {
		s.metrics.peers.Set(float64(len(s.peers)))
	}
	log.Info().Str("module", "app.broker").Str("id", id.String()).Msg("unregistered")
	return true
}

func (s *Switchboard) Lookup(id domain.Identity) (core.SignalConnection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.peers[id]
	if !ok {
		return nil, false
	}
	return e.Conn, true
}

func (s *Switchboard) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *Switchboard) Peers() []Peer {
	s.mu.RLock()
	out := make([]Peer, 0, len(s.peers))
	for id, e := range s.peers {
		out = append(out, Peer{ID: id, Since: e.Since})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Relay stamps m with src and forwards it to m.Dst. It returns
// domain.ErrPeerUnavailable when the destination is not registered.
func (s *Switchboard) Relay(src domain.Identity, m protocol.Message) error {
	dst := domain.Identity(m.Dst)
	conn, ok := s.Lookup(dst)
	if !ok {
		if s.metrics != nil {
			s.metrics.expired.Inc()
		}
		return fmt.Errorf("%w: %s", domain.ErrPeerUnavailable, dst)
	}
	m.Src = src.String()
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	if err := conn.TrySend(data); err != nil {
		if s.metrics != nil {
			s.metrics.dropped.Inc()
		}
		s.onBackpressure(dst, conn, err)
		return err
	}
	if s.metrics != nil {
		s.metrics.relayed.WithLabelValues(string(m.Type)).Inc()
	}
	return nil
}

func (s *Switchboard) onBackpressure(id domain.Identity, conn core.SignalConnection, err error) {
	if s.policy == nil {
		return
	}
	switch s.policy.OnBackPressure(id) {
	case KickPeer:
		log.Warn().Err(err).Str("module", "app.broker").Str("id", id.String()).Msg("evicting slow peer")
		s.Evict(id, conn)
	case DropFrame, NoAction:
	}
}

// Evict closes conn and forgets id.
func (s *Switchboard) Evict(id domain.Identity, conn core.SignalConnection) {
	s.mu.RLock()
	e, ok := s.peers[id]
	s.mu.RUnlock()
	if !ok || e.Conn != conn {
		return
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	s.Unregister(id, conn)
	conn.Close()
}
