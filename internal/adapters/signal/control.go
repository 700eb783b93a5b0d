package signal

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/domain"
	"github.com/dkeye/voicecall/internal/protocol"
)

func (ctl *SignalWSController) register(
	raw string,
	conn *WsSignalConn,
	token string,
	cancel context.CancelFunc,
) (domain.Identity, bool) {
	id, err := domain.ParseIdentity(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("id", raw).Msg("invalid identity")
		ctl.Board.Metrics().Rejected("invalid")
		ctl.sendJSON(conn, protocol.Message{Type: protocol.TypeInvalidID, ID: raw, Error: err.Error()})
		return "", false
	}
	if err := ctl.Board.Register(id, conn, token, cancel); err != nil {
		if errors.Is(err, domain.ErrIdentityTaken) {
			ctl.sendJSON(conn, protocol.Message{Type: protocol.TypeIDTaken, ID: raw})
		} else {
			ctl.sendJSON(conn, protocol.Message{Type: protocol.TypeError, Error: err.Error()})
		}
		return "", false
	}
	ctl.sendJSON(conn, protocol.Message{Type: protocol.TypeOpen, ID: id.String()})
	return id, true
}

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, protocol.Message{Type: protocol.TypePong})
}
