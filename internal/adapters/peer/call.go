package peer

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/adapters/rtc"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/protocol"
)

var (
	ErrNotInbound       = errors.New("call was not offered by the peer")
	ErrConnectionFailed = errors.New("peer connection failed")
)

type call struct {
	session *Session
	id      string
	peer    domain.Identity
	conn    *rtc.Connection
	offer   string
	events  *dispatcher[core.CallListener]

	mu       sync.Mutex
	open     bool
	streamed bool
	answered bool
	ended    bool
}

var _ core.CallHandle = (*call)(nil)

func newCall(s *Session, id string, peer domain.Identity, conn *rtc.Connection, offer string) *call {
	cl := &call{
		session: s,
		id:      id,
		peer:    peer,
		conn:    conn,
		offer:   offer,
		events:  newDispatcher[core.CallListener](),
	}
	conn.OnTrack(func(_ context.Context, track *webrtc.TrackRemote) {
		cl.stream(&rtc.RemoteAudio{Track: track})
	})
	conn.OnStateChange(func(st webrtc.PeerConnectionState) {
		switch st {
		case webrtc.PeerConnectionStateConnected:
			cl.opened()
		case webrtc.PeerConnectionStateFailed:
			cl.end(true, ErrConnectionFailed)
		case webrtc.PeerConnectionStateClosed:
			cl.end(false, nil)
		}
	})
	return cl
}

func (c *call) Peer() domain.Identity { return c.peer }

func (c *call) Listen(l core.CallListener) func() { return c.events.listen(l) }

// Answer accepts the offered call with the local stream.
func (c *call) Answer(local core.MediaStream) error {
	if c.offer == "" {
		return ErrNotInbound
	}
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return domain.ErrNoActiveCall
	}
	if c.answered {
		c.mu.Unlock()
		return nil
	}
	c.answered = true
	c.mu.Unlock()

	if err := c.conn.AddLocalAudio(local); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), negotiateWait)
	defer cancel()
	answer, err := c.conn.ApplyOfferAndCreateAnswer(ctx, webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: c.offer})
	if err != nil {
		return err
	}
	if err := c.session.send(protocol.Message{Type: protocol.TypeAnswer, Dst: c.peer.String(), CallID: c.id, SDP: answer.SDP}); err != nil {
		return err
	}
	log.Info().Str("module", "adapters.peer").Str("call_id", c.id).Msg("answer sent")
	return nil
}

func (c *call) remoteAnswer(sdp string) {
	if err := c.conn.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		log.Error().Err(err).Str("module", "adapters.peer").Str("call_id", c.id).Msg("apply answer")
		c.end(true, err)
	}
}

func (c *call) opened() {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return
	}
	c.open = true
	c.mu.Unlock()
	c.events.emit(func(l core.CallListener) { l.CallOpened() })
}

func (c *call) stream(r core.RemoteStream) {
	c.mu.Lock()
	if c.streamed {
		c.mu.Unlock()
		return
	}
	c.streamed = true
	c.mu.Unlock()
	c.events.emit(func(l core.CallListener) { l.CallStream(r) })
}

func (c *call) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Close hangs up and tells the peer. Idempotent.
func (c *call) Close() { c.end(true, nil) }

// end releases the call once. notify sends a leave to the peer; a non-nil
// err is reported as CallFailed instead of CallClosed.
func (c *call) end(notify bool, err error) {
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		return
	}
	c.ended = true
	c.open = false
	c.mu.Unlock()

	if notify {
		_ = c.session.send(protocol.Message{Type: protocol.TypeLeave, Dst: c.peer.String(), CallID: c.id})
	}
	c.session.untrack(c.id)
	c.conn.Close()

	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.peer").Str("call_id", c.id).Msg("call failed")
		c.events.emit(func(l core.CallListener) { l.CallFailed(err) })
	} else {
		log.Info().Str("module", "adapters.peer").Str("call_id", c.id).Msg("call closed")
		c.events.emit(func(l core.CallListener) { l.CallClosed() })
	}
	c.events.close()
}
