// Package signal is the realtime transport: one websocket per client,
// flat JSON events in, three broadcast shapes out (room-wide,
// room-exclude-sender, targeted).
package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/musicflow/server/internal/config"
	"github.com/musicflow/server/internal/presence"
	"github.com/musicflow/server/internal/room"
)

var ErrBackpressure = errors.New("backpressure")

// peer is the transport-facing side of one connected client. The ws
// Conn implements it; tests substitute their own.
type peer interface {
	TrySend(data []byte) error
	Close()
}

type Controller struct {
	Registry *room.Registry
	Presence *presence.Tracker
	Chat     *ChatRateLimiter

	readLimit  int64
	pingPeriod time.Duration

	mu     sync.RWMutex
	peers  map[peer]string
	byUser map[string]peer
}

func NewController(cfg *config.Config, reg *room.Registry, pres *presence.Tracker) *Controller {
	return &Controller{
		Registry:   reg,
		Presence:   pres,
		Chat:       NewChatRateLimiter(cfg.ChatRateLimit, cfg.ChatRateWindow),
		readLimit:  cfg.ReadLimit,
		pingPeriod: cfg.PingPeriod,
		peers:      make(map[peer]string),
		byUser:     make(map[string]peer),
	}
}

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

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	log.Info().Str("module", "signal").Str("token", c.GetString("client_token")).Msg("new WS connection")

	conn := &Conn{
		conn: ws,
		send: make(chan []byte, 256),
	}
	ctl.register(conn)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, conn)
}

func (ctl *Controller) register(p peer) {
	ctl.mu.Lock()
	ctl.peers[p] = ""
	ctl.mu.Unlock()
}

// bind ties the connection to a caller-supplied identity. A reconnect
// simply takes over the mapping; the stale connection's disconnect is
// then a no-op for this user.
func (ctl *Controller) bind(p peer, userID string) {
	ctl.mu.Lock()
	ctl.peers[p] = userID
	ctl.byUser[userID] = p
	ctl.mu.Unlock()
}

// disconnect runs the exact same membership cleanup as an explicit
// leave_room, so abrupt drops never leave ghost members behind.
func (ctl *Controller) disconnect(p peer) {
	ctl.mu.Lock()
	userID, known := ctl.peers[p]
	delete(ctl.peers, p)
	current := userID != "" && ctl.byUser[userID] == p
	if current {
		delete(ctl.byUser, userID)
	}
	ctl.mu.Unlock()

	p.Close()
	if !known || !current {
		return
	}

	log.Info().Str("module", "signal").Str("user", userID).Msg("connection lost")
	ctl.leaveCurrentRoom(userID)
	ctl.Presence.Disconnect(userID)
	ctl.broadcastAll(map[string]any{"type": "user_disconnected", "userId": userID})
}

func (ctl *Controller) peerFor(userID string) (peer, bool) {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	p, ok := ctl.byUser[userID]
	return p, ok
}

func (ctl *Controller) sendJSON(p peer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := p.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("targeted send failed")
	}
}

// broadcastRoom fans an event out to every member of the room that has
// a live connection. except skips the sender for echo-free events. Slow
// consumers with a full send buffer are kicked; their read pump exit
// drives the normal disconnect cleanup.
func (ctl *Controller) broadcastRoom(code string, v any, except peer) {
	rm, ok := ctl.Registry.Room(code)
	if !ok {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}

	ctl.mu.RLock()
	targets := make([]peer, 0, len(rm.Members))
	for _, m := range rm.Members {
		if p, ok := ctl.byUser[m.ID]; ok && p != except {
			targets = append(targets, p)
		}
	}
	ctl.mu.RUnlock()

	for _, p := range targets {
		if err := p.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("room", code).Msg("kicking slow consumer")
			p.Close()
		}
	}
}

func (ctl *Controller) broadcastAll(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("broadcast marshal")
		return
	}

	ctl.mu.RLock()
	targets := make([]peer, 0, len(ctl.peers))
	for p := range ctl.peers {
		targets = append(targets, p)
	}
	ctl.mu.RUnlock()

	for _, p := range targets {
		if err := p.TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("kicking slow consumer")
			p.Close()
		}
	}
}

// ConnCount reports live connections for /stats.
func (ctl *Controller) ConnCount() int {
	ctl.mu.RLock()
	defer ctl.mu.RUnlock()
	return len(ctl.peers)
}
