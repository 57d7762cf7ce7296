// Package ws relays signaling between remote browser clients and the
// per-room channels.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/app/rooms"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/core"
	"github.com/ZangenehTr/replit-meta-lingua-sub014/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

// Controller owns the signaling websocket surface. One Conn per socket; the
// client token from the cookie middleware doubles as the participant id.
type Controller struct {
	Registry  *rooms.Registry
	Limiter   *JoinRateLimiter
	ReadLimit int64
}

func NewController(registry *rooms.Registry, limiter *JoinRateLimiter, readLimit int64) *Controller {
	return &Controller{Registry: registry, Limiter: limiter, ReadLimit: readLimit}
}

// Conn wraps one websocket with a bounded outbound queue. TrySend never
// blocks; a full queue means the client stopped reading and loses the frame.
type Conn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *Conn) TrySend(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Conn) Close() {
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

// client is the per-socket state: which room the socket joined and its end
// of that room's signaling channel.
type client struct {
	conn *Conn
	id   domain.ParticipantID

	mu        sync.Mutex
	roomID    domain.RoomID
	endpoint  core.Endpoint
	stopRelay context.CancelFunc
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the socket until either side
// hangs up.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	pid := domain.ParticipantID(c.GetString("client_token"))
	log.Info().Str("module", "ws").Str("participant", string(pid)).Msg("new WS connection")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		conn.SetReadLimit(ctl.ReadLimit)
	}

	cl := &client{
		conn: &Conn{conn: conn, send: make(chan []byte, 32)},
		id:   pid,
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, cl.conn)
	go func() {
		ctl.readPump(ctx, cl)
		cancel()
	}()
}
