// Package signaling keeps this endpoint registered with the broker.
package signaling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

const (
	DefaultRetryDelay     = 300 * time.Millisecond
	DefaultReconnectDelay = time.Second
)

type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithRetryDelay(d time.Duration) Option { return func(m *Manager) { m.retryDelay = d } }

func WithReconnectDelay(d time.Duration) Option { return func(m *Manager) { m.reconnectDelay = d } }

func WithStatusSink(s core.StatusSink) Option { return func(m *Manager) { m.status = s } }

// Manager owns the signaling session: identity assignment, collision retries
// and reconnection. It forwards inbound calls to a single handler.
type Manager struct {
	broker         core.Broker
	env            core.Environment
	clock          clock.Clock
	retryDelay     time.Duration
	reconnectDelay time.Duration
	status         core.StatusSink

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	session    core.Session
	stopListen func()
	candidate  domain.Identity
	identity   domain.Identity
	ready      bool
	retry      *clock.Timer
	reconnect  *clock.Timer
	onIncoming func(core.CallHandle)
	onReady    func(domain.Identity)
}

func NewManager(broker core.Broker, env core.Environment, opts ...Option) *Manager {
	m := &Manager{
		broker:         broker,
		env:            env,
		clock:          clock.New(),
		retryDelay:     DefaultRetryDelay,
		reconnectDelay: DefaultReconnectDelay,
	}
	for _, o := range opts {
		o(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// OnIncomingCall sets the handler for inbound calls. Without a handler
// inbound calls are closed.
func (m *Manager) OnIncomingCall(fn func(core.CallHandle)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onIncoming = fn
}

func (m *Manager) OnReady(fn func(domain.Identity)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReady = fn
}

// Initialize checks the environment and registers a fresh candidate identity.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.ctx.Err() != nil {
		return domain.ErrSessionLost
	}
	if !m.env.SupportsRealtimeMedia() {
		m.setStatus(domain.StatusUnsupported)
		return fmt.Errorf("%w: realtime media unavailable", domain.ErrEnvironment)
	}
	if !m.env.IsSecureContext() {
		m.setStatus(domain.StatusInsecure)
		return fmt.Errorf("%w: insecure context", domain.ErrEnvironment)
	}
	m.setStatus(domain.StatusInitializing)
	return m.register(ctx, domain.NewCandidate())
}

func (m *Manager) register(ctx context.Context, candidate domain.Identity) error {
	log.Info().Str("module", "app.signaling").Str("candidate", candidate.String()).Msg("registering")
	session, err := m.broker.Register(ctx, candidate)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityTaken) {
			m.mu.Lock()
			if m.ctx.Err() != nil {
				m.mu.Unlock()
				return domain.ErrSessionLost
			}
			m.candidate = candidate
			m.scheduleRetryLocked()
			m.mu.Unlock()
			m.setStatus(domain.StatusIDTaken)
			return nil
		}
		log.Error().Err(err).Str("module", "app.signaling").Msg("register")
		m.setStatus(domain.StatusSignalError(err))
		return fmt.Errorf("register %s: %w", candidate, err)
	}

	m.mu.Lock()
	if m.ctx.Err() != nil {
		m.mu.Unlock()
		session.Destroy()
		return domain.ErrSessionLost
	}
	m.session = session
	m.candidate = candidate
	m.stopListen = session.Listen(&sessionWatcher{m: m, session: session})
	m.mu.Unlock()
	return nil
}

type sessionWatcher struct {
	m       *Manager
	session core.Session
}

func (w *sessionWatcher) SessionReady(id domain.Identity) { w.m.sessionReady(w.session, id) }
func (w *sessionWatcher) SessionError(err error)          { w.m.sessionError(w.session, err) }
func (w *sessionWatcher) SessionDisconnected()            { w.m.sessionDisconnected(w.session) }
func (w *sessionWatcher) IncomingCall(c core.CallHandle)  { w.m.incomingCall(w.session, c) }

func (m *Manager) sessionReady(session core.Session, id domain.Identity) {
	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}
	m.identity = id
	m.ready = true
	fn := m.onReady
	m.mu.Unlock()

	log.Info().Str("module", "app.signaling").Str("id", id.String()).Msg("identity assigned")
	m.setStatus(domain.StatusReady)
	if fn != nil {
		fn(id)
	}
}

func (m *Manager) sessionError(session core.Session, err error) {
	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}
	if !errors.Is(err, domain.ErrIdentityTaken) {
		m.mu.Unlock()
		log.Error().Err(err).Str("module", "app.signaling").Msg("session error")
		m.setStatus(domain.StatusSignalError(err))
		return
	}

	stop := m.stopListen
	m.session, m.stopListen = nil, nil
	m.ready = false
	m.scheduleRetryLocked()
	m.mu.Unlock()

	log.Warn().Str("module", "app.signaling").Str("candidate", m.Candidate().String()).Msg("identity taken")
	if stop != nil {
		stop()
	}
	session.Destroy()
	m.setStatus(domain.StatusIDTaken)
}

func (m *Manager) scheduleRetryLocked() {
	if m.retry != nil {
		m.retry.Stop()
	}
	prev := m.candidate
	m.retry = m.clock.AfterFunc(m.retryDelay, func() {
		m.mu.Lock()
		m.retry = nil
		m.mu.Unlock()
		if m.ctx.Err() != nil {
			return
		}
		_ = m.register(m.ctx, domain.NextCandidate(prev))
	})
}

func (m *Manager) sessionDisconnected(session core.Session) {
	m.mu.Lock()
	if m.session != session || m.reconnect != nil {
		m.mu.Unlock()
		return
	}
	m.ready = false
	m.reconnect = m.clock.AfterFunc(m.reconnectDelay, func() { m.resume(session) })
	m.mu.Unlock()

	log.Warn().Str("module", "app.signaling").Msg("session disconnected")
	m.setStatus(domain.StatusReconnecting)
}

func (m *Manager) resume(session core.Session) {
	m.mu.Lock()
	m.reconnect = nil
	stale := m.session != session || m.ctx.Err() != nil
	m.mu.Unlock()
	if stale || session.Destroyed() {
		return
	}

	if err := session.Reconnect(); err != nil {
		log.Error().Err(err).Str("module", "app.signaling").Msg("reconnect")
		m.setStatus(domain.StatusSignalError(err))
		return
	}
	log.Info().Str("module", "app.signaling").Msg("reconnecting session")
}

func (m *Manager) incomingCall(session core.Session, call core.CallHandle) {
	m.mu.Lock()
	fn := m.onIncoming
	stale := m.session != session
	m.mu.Unlock()

	if stale || fn == nil {
		call.Close()
		return
	}
	log.Info().Str("module", "app.signaling").Str("peer", call.Peer().String()).Msg("incoming call")
	fn(call)
}

func (m *Manager) setStatus(s string) {
	if m.status != nil {
		m.status.SetStatus(s)
	}
}

// Close destroys the session and cancels pending retries. Idempotent.
func (m *Manager) Close() {
	m.cancel()

	m.mu.Lock()
	session, stop := m.session, m.stopListen
	m.session, m.stopListen = nil, nil
	m.ready = false
	for _, t := range []*clock.Timer{m.retry, m.reconnect} {
		if t != nil {
			t.Stop()
		}
	}
	m.retry, m.reconnect = nil, nil
	m.mu.Unlock()

	if stop != nil {
		stop()
	}
	if session != nil {
		session.Destroy()
		log.Info().Str("module", "app.signaling").Msg("session closed")
	}
}

// Session returns the live session, or nil before registration.
func (m *Manager) Session() core.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

func (m *Manager) Identity() domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity
}

func (m *Manager) Candidate() domain.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.candidate
}

func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ready
}
