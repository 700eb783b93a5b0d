// Package signal is the broker's websocket endpoint.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicecall/internal/app/broker"
	"github.com/dkeye/voicecall/internal/core"
	"github.com/dkeye/voicecall/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	SendBuffer   int
	RateLimit    int
	RateInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.RateLimit <= 0 {
		o.RateLimit = 10
	}
	if o.RateInterval <= 0 {
		o.RateInterval = 10 * time.Second
	}
	return o
}

type SignalWSController struct {
	Board   *broker.Switchboard
	opts    Options
	limiter *RateLimiter
}

func NewSignalWSController(board *broker.Switchboard, opts Options) *SignalWSController {
	opts = opts.withDefaults()
	return &SignalWSController{
		Board:   board,
		opts:    opts,
		limiter: NewRateLimiter(opts.RateLimit, opts.RateInterval, nil),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return broker.ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and registers the identity from the
// id query parameter.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	raw := c.Query(protocol.QueryID)
	log.Info().Str("module", "signal").Str("token", token).Str("id", raw).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	ctx, cancel := context.WithCancel(ctx)

	id, ok := ctl.register(raw, conn, token, cancel)
	if !ok {
		cancel()
		ctl.reject(conn)
		return
	}
	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, id, conn)
}
