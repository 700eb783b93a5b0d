// Package call drives the single-call lifecycle: placing, auto-answering,
// connecting and tearing down calls.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/app/media"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
)

const (
	DefaultAutoAnswerDelay = 2 * time.Second
	DefaultStatusHold      = 2 * time.Second
	DefaultPlayRetryDelay  = 500 * time.Millisecond
)

// MediaSource is the local capture stream holder.
type MediaSource interface {
	Acquire(ctx context.Context) (core.MediaStream, error)
	Release()
	StopLevels()
	ToggleMute() (bool, error)
	OnLevel(fn media.LevelFunc)
}

// SessionSource exposes the current signaling session.
type SessionSource interface {
	Session() core.Session
	Identity() domain.Identity
}

// Listener observes the controller. Callbacks run outside the controller
// lock, in order, and must not call back into the controller synchronously.
type Listener interface {
	StateChanged(state domain.CallState)
	StatusChanged(status string)
	LevelChanged(level float64)
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

func WithAutoAnswerDelay(d time.Duration) Option {
	return func(ctl *Controller) { ctl.autoAnswerDelay = d }
}

func WithStatusHold(d time.Duration) Option { return func(ctl *Controller) { ctl.statusHold = d } }

func WithClipboard(cb core.Clipboard) Option { return func(ctl *Controller) { ctl.clipboard = cb } }

type Controller struct {
	media           MediaSource
	sessions        SessionSource
	playback        core.PlaybackSink
	clipboard       core.Clipboard
	clock           clock.Clock
	autoAnswerDelay time.Duration
	statusHold      time.Duration
	playRetryDelay  time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	state       domain.CallState
	status      string
	statusSeq   uint64
	statusTimer *clock.Timer
	level       float64

	// gen changes on every new attempt and every teardown; suspended steps
	// compare it when they resume.
	gen         uint64
	call        core.CallHandle
	stopCall    func()
	pending     core.CallHandle
	stopPending func()
	answerTimer *clock.Timer
	remote      core.RemoteStream
	playing     core.RemoteStream
	playTimer   *clock.Timer

	listeners    map[int]Listener
	nextListener int
	events       []func(Listener)
	dmu          sync.Mutex
}

func NewController(m MediaSource, sessions SessionSource, playback core.PlaybackSink, opts ...Option) *Controller {
	c := &Controller{
		media:           m,
		sessions:        sessions,
		playback:        playback,
		clock:           clock.New(),
		autoAnswerDelay: DefaultAutoAnswerDelay,
		statusHold:      DefaultStatusHold,
		playRetryDelay:  DefaultPlayRetryDelay,
		status:          domain.StatusInitializing,
		listeners:       make(map[int]Listener),
	}
	for _, o := range opts {
		o(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	m.OnLevel(c.levelSample)
	return c
}

// Listen subscribes l to state, status and level updates.
func (c *Controller) Listen(l Listener) (stop func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

// unlock releases c.mu and delivers the events queued while it was held.
func (c *Controller) unlock() {
	events := c.events
	c.events = nil
	var ls []Listener
	if len(events) > 0 {
		ls = make([]Listener, 0, len(c.listeners))
		for _, l := range c.listeners {
			ls = append(ls, l)
		}
	}
	c.dmu.Lock()
	c.mu.Unlock()
	defer c.dmu.Unlock()
	for _, e := range events {
		for _, l := range ls {
			e(l)
		}
	}
}

func (c *Controller) setStateLocked(s domain.CallState) {
	if !s.Consistent() {
		log.Error().Str("module", "app.call").Interface("state", s).Msg("inconsistent call state")
	}
	if s == c.state {
		return
	}
	c.state = s
	c.events = append(c.events, func(l Listener) { l.StateChanged(s) })
}

func (c *Controller) setStatusLocked(s string) {
	c.statusSeq++
	if c.statusTimer != nil {
		c.statusTimer.Stop()
		c.statusTimer = nil
	}
	c.status = s
	c.events = append(c.events, func(l Listener) { l.StatusChanged(s) })
}

// holdStatusLocked shows s, then falls back to the resting status unless
// another status was set meanwhile.
func (c *Controller) holdStatusLocked(s string) {
	c.setStatusLocked(s)
	seq := c.statusSeq
	c.statusTimer = c.clock.AfterFunc(c.statusHold, func() {
		c.mu.Lock()
		if c.statusSeq == seq && !c.closed {
			c.setStatusLocked(c.restingStatusLocked())
		}
		c.unlock()
	})
}

func (c *Controller) restingStatusLocked() string {
	if c.state.IsConnected {
		return domain.StatusConnected
	}
	return domain.StatusReady
}

func (c *Controller) setLevelLocked(level float64) {
	if level == c.level {
		return
	}
	c.level = level
	c.events = append(c.events, func(l Listener) { l.LevelChanged(level) })
}

// SetStatus shows a status line. It lets the signaling manager share the
// controller's status feed.
func (c *Controller) SetStatus(s string) {
	c.mu.Lock()
	c.setStatusLocked(s)
	c.unlock()
}

func (c *Controller) levelSample(level float64) {
	c.mu.Lock()
	if c.state.IsMuted || c.closed {
		level = 0
	}
	c.setLevelLocked(level)
	c.unlock()
}

// StartCall places an outgoing call to raw. It returns once the call is
// placed; the connection completes asynchronously.
func (c *Controller) StartCall(ctx context.Context, raw string) error {
	remote, err := domain.ParseIdentity(raw)

	c.mu.Lock()
	if err != nil {
		if errors.Is(err, domain.ErrEmptyIdentity) {
			c.setStatusLocked(domain.StatusEnterRemoteID)
		}
		c.unlock()
		return err
	}
	if c.closed {
		c.unlock()
		return domain.ErrSessionLost
	}
	if !sessionLive(c.sessions.Session()) {
		c.setStatusLocked(domain.StatusNotReady)
		c.unlock()
		return domain.ErrSessionNotReady
	}
	if c.state.Phase() != domain.PhaseIdle {
		c.unlock()
		return domain.ErrCallInProgress
	}
	c.gen++
	gen := c.gen
	c.setStateLocked(domain.CallState{IsCalling: true})
	c.setStatusLocked(domain.StatusRequestingMic)
	c.unlock()

	log.Info().Str("module", "app.call").Str("remote", remote.String()).Msg("placing call")
	stream, err := c.media.Acquire(ctx)

	c.mu.Lock()
	if c.gen != gen {
		c.releaseIfIdleLocked()
		c.unlock()
		return domain.ErrCallCancelled
	}
	if err != nil {
		closers := c.teardownLocked()
		c.setStatusLocked(mediaMessage(err))
		c.unlock()
		closeAll(closers)
		return err
	}
	session := c.sessions.Session()
	if !sessionLive(session) {
		closers := c.teardownLocked()
		c.setStatusLocked(domain.StatusNotReady)
		c.unlock()
		closeAll(closers)
		return domain.ErrSessionNotReady
	}
	c.setStatusLocked(domain.StatusConnecting)
	c.unlock()

	call, err := session.Call(ctx, remote, stream)

	c.mu.Lock()
	if c.gen != gen {
		c.releaseIfIdleLocked()
		c.unlock()
		if call != nil {
			call.Close()
		}
		return domain.ErrCallCancelled
	}
	if err != nil {
		closers := c.teardownLocked()
		if errors.Is(err, domain.ErrPeerUnavailable) {
			c.holdStatusLocked(domain.StatusPeerUnavailable)
		} else {
			c.setStatusLocked(domain.StatusSignalError(err))
		}
		c.unlock()
		closeAll(closers)
		log.Warn().Err(err).Str("module", "app.call").Str("remote", remote.String()).Msg("call rejected")
		return fmt.Errorf("call %s: %w", remote, err)
	}
	c.call = call
	c.stopCall = call.Listen(&callWatcher{c: c, call: call})
	if call.Open() {
		c.connectedLocked()
	}
	c.unlock()
	return nil
}

func sessionLive(s core.Session) bool { return s != nil && !s.Destroyed() }

func mediaMessage(err error) string {
	var me *domain.MediaError
	if errors.As(err, &me) {
		return me.UserMessage()
	}
	return domain.NewMediaError(domain.CauseDeviceError, err).UserMessage()
}

// HandleIncoming takes an inbound call announced by the signaling session.
// The call is answered automatically after the auto-answer delay.
func (c *Controller) HandleIncoming(call core.CallHandle) {
	if call == nil {
		return
	}
	peer := call.Peer()

	c.mu.Lock()
	if peer == "" || c.closed || c.state.Phase() != domain.PhaseIdle || c.call != nil || c.pending != nil {
		c.unlock()
		log.Info().Str("module", "app.call").Str("peer", peer.String()).Msg("busy, closing inbound call")
		call.Close()
		return
	}
	c.gen++
	gen := c.gen
	c.pending = call
	c.stopPending = call.Listen(&callWatcher{c: c, call: call})
	c.setStateLocked(domain.CallState{IsReceivingCall: true, IncomingCallID: peer})
	c.setStatusLocked(domain.StatusIncoming(peer))
	c.answerTimer = c.clock.AfterFunc(c.autoAnswerDelay, func() { c.autoAnswer(call, gen) })
	c.unlock()

	log.Info().Str("module", "app.call").Str("peer", peer.String()).Msg("incoming call")
}

func (c *Controller) autoAnswer(call core.CallHandle, gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.pending != call {
		c.unlock()
		return
	}
	c.answerTimer = nil
	c.setStatusLocked(domain.StatusRequestingMic)
	c.unlock()

	stream, err := c.media.Acquire(c.ctx)

	c.mu.Lock()
	if c.gen != gen || c.pending != call {
		c.releaseIfIdleLocked()
		c.unlock()
		return
	}
	if err != nil {
		closers := c.teardownLocked()
		c.setStatusLocked(mediaMessage(err))
		c.unlock()
		closeAll(closers)
		return
	}
	c.setStatusLocked(domain.StatusConnecting)
	c.unlock()

	err = call.Answer(stream)

	c.mu.Lock()
	if c.gen != gen || c.pending != call {
		c.releaseIfIdleLocked()
		c.unlock()
		return
	}
	if err != nil {
		closers := c.teardownLocked()
		c.setStatusLocked(domain.StatusSignalError(err))
		c.unlock()
		closeAll(closers)
		log.Warn().Err(err).Str("module", "app.call").Msg("answer")
		return
	}
	c.call, c.stopCall = c.pending, c.stopPending
	c.pending, c.stopPending = nil, nil
	c.connectedLocked()
	c.unlock()

	log.Info().Str("module", "app.call").Str("peer", call.Peer().String()).Msg("call answered")
}

type callWatcher struct {
	c    *Controller
	call core.CallHandle
}

func (w *callWatcher) CallOpened()                    { w.c.connected(w.call, nil) }
func (w *callWatcher) CallStream(r core.RemoteStream) { w.c.connected(w.call, r) }
func (w *callWatcher) CallClosed()                    { w.c.remoteEnded(w.call, nil) }
func (w *callWatcher) CallFailed(err error)           { w.c.remoteEnded(w.call, err) }

func (c *Controller) connected(call core.CallHandle, remote core.RemoteStream) {
	c.mu.Lock()
	switch call {
	case c.call:
		if remote != nil {
			c.remote = remote
		}
		c.connectedLocked()
	case c.pending:
		// Answer is still in flight; playback starts once it completes.
		if remote != nil {
			c.remote = remote
		}
	}
	c.unlock()
}

func (c *Controller) connectedLocked() {
	if c.remote != nil && c.playing != c.remote {
		c.playing = c.remote
		c.startPlaybackLocked(c.remote)
	}
	if c.state.IsConnected {
		return
	}
	c.setStateLocked(domain.CallState{IsConnected: true, IsMuted: c.state.IsMuted})
	c.setStatusLocked(domain.StatusConnected)
	log.Info().Str("module", "app.call").Msg("call connected")
}

func (c *Controller) startPlaybackLocked(remote core.RemoteStream) {
	err := c.playback.Play(remote)
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("module", "app.call").Msg("playback start, retrying")
	gen := c.gen
	c.playTimer = c.clock.AfterFunc(c.playRetryDelay, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.gen != gen || c.remote != remote {
			return
		}
		if err := c.playback.Play(remote); err != nil {
			log.Error().Err(err).Str("module", "app.call").Msg("playback start")
		}
	})
}

func (c *Controller) remoteEnded(call core.CallHandle, err error) {
	c.mu.Lock()
	if call != c.call && call != c.pending {
		c.unlock()
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("module", "app.call").Msg("call failed")
	} else {
		log.Info().Str("module", "app.call").Msg("remote closed call")
	}
	closers := c.endCallLocked()
	if errors.Is(err, domain.ErrPeerUnavailable) {
		c.holdStatusLocked(domain.StatusPeerUnavailable)
	}
	c.unlock()
	closeAll(closers)
}

// Hangup ends the outgoing attempt or the connected call.
func (c *Controller) Hangup() error {
	c.mu.Lock()
	switch c.state.Phase() {
	case domain.PhaseCalling, domain.PhaseConnected:
	default:
		c.unlock()
		return domain.ErrNoActiveCall
	}
	closers := c.endCallLocked()
	c.unlock()
	closeAll(closers)
	log.Info().Str("module", "app.call").Msg("hung up")
	return nil
}

func (c *Controller) endCallLocked() []core.CallHandle {
	if c.state.Phase() == domain.PhaseIdle && c.call == nil && c.pending == nil {
		return nil
	}
	closers := c.teardownLocked()
	c.holdStatusLocked(domain.StatusCallEnded)
	return closers
}

// teardownLocked releases everything the current attempt holds and resets
// the state. The returned handles must be closed after unlocking.
func (c *Controller) teardownLocked() []core.CallHandle {
	c.gen++
	for _, t := range []*clock.Timer{c.answerTimer, c.playTimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.answerTimer, c.playTimer = nil, nil
	c.media.StopLevels()

	var closers []core.CallHandle
	if c.stopCall != nil {
		c.stopCall()
	}
	if c.call != nil {
		closers = append(closers, c.call)
	}
	if c.stopPending != nil {
		c.stopPending()
	}
	if c.pending != nil {
		closers = append(closers, c.pending)
	}
	c.call, c.stopCall = nil, nil
	c.pending, c.stopPending = nil, nil
	c.remote, c.playing = nil, nil

	c.media.Release()
	c.playback.Clear()
	c.setLevelLocked(0)
	c.setStateLocked(domain.CallState{})
	return closers
}

// releaseIfIdleLocked drops a stream acquired by an attempt that was torn
// down while the acquisition was in flight.
func (c *Controller) releaseIfIdleLocked() {
	if c.state.Phase() == domain.PhaseIdle {
		c.media.Release()
	}
}

func closeAll(calls []core.CallHandle) {
	for _, call := range calls {
		call.Close()
	}
}

// ToggleMute flips the local track while a call is active.
func (c *Controller) ToggleMute() (bool, error) {
	c.mu.Lock()
	switch c.state.Phase() {
	case domain.PhaseCalling, domain.PhaseConnected:
	default:
		c.unlock()
		return false, domain.ErrNoActiveCall
	}
	muted, err := c.media.ToggleMute()
	if err != nil {
		c.unlock()
		return false, err
	}
	s := c.state
	s.IsMuted = muted
	c.setStateLocked(s)
	if muted {
		c.setLevelLocked(0)
	}
	c.unlock()
	return muted, nil
}

// CopyIdentity puts the local identity on the clipboard.
func (c *Controller) CopyIdentity() error {
	id := c.sessions.Identity()
	if id == "" {
		return domain.ErrSessionNotReady
	}
	err := errors.New("clipboard unavailable")
	if c.clipboard != nil {
		err = c.clipboard.WriteText(id.String())
	}

	c.mu.Lock()
	if err != nil {
		c.holdStatusLocked(domain.StatusCopyFailed)
	} else {
		c.holdStatusLocked(domain.StatusIDCopied)
	}
	c.unlock()
	if err != nil {
		log.Warn().Err(err).Str("module", "app.call").Msg("copy identity")
		return fmt.Errorf("copy identity: %w", err)
	}
	return nil
}

// Close tears down any call and stops all timers. Idempotent.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.unlock()
		return
	}
	c.closed = true
	c.cancel()
	closers := c.teardownLocked()
	if c.statusTimer != nil {
		c.statusTimer.Stop()
		c.statusTimer = nil
	}
	c.unlock()
	closeAll(closers)
}

func (c *Controller) State() domain.CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}
