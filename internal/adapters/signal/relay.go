package signal

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/protocol"
)

// handleRelay forwards offer, answer and leave frames. A sender addressing
// an unknown identity gets an expire frame back.
func (ctl *SignalWSController) handleRelay(src domain.Identity, conn *WsSignalConn, m protocol.Message) {
	if m.Type == protocol.TypeOffer && !ctl.limiter.Allow(src) {
		log.Warn().Str("module", "signal").Str("src", src.String()).Msg("offer rate limited")
		ctl.sendJSON(conn, protocol.Message{Type: protocol.TypeError, CallID: m.CallID, Error: "rate_limited"})
		return
	}

	err := ctl.Board.Relay(src, m)
	switch {
	case err == nil:
		log.Debug().Str("module", "signal").Str("src", src.String()).Str("dst", m.Dst).Str("type", string(m.Type)).Msg("relayed")
	case errors.Is(err, domain.ErrPeerUnavailable):
		log.Info().Str("module", "signal").Str("src", src.String()).Str("dst", m.Dst).Msg("destination not registered")
		if m.Type != protocol.TypeLeave {
			ctl.sendJSON(conn, protocol.Message{Type: protocol.TypeExpire, Dst: m.Dst, CallID: m.CallID})
		}
	default:
		log.Warn().Err(err).Str("module", "signal").Str("dst", m.Dst).Msg("relay")
		if m.Type != protocol.TypeLeave {
			ctl.sendJSON(conn, protocol.Message{Type: protocol.TypeError, CallID: m.CallID, Error: "relay_failed"})
		}
	}
}
