package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 10 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *Conn) {
	ticker := time.NewTicker(ctl.pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, c *Conn) {
	defer func() {
		log.Info().Str("module", "signal").Msg("readPump closing")
		ctl.disconnect(c)
	}()

	pongWait := ctl.pingPeriod * 10 / 9
	c.conn.SetReadLimit(ctl.readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
					log.Error().Err(err).Str("module", "signal").Msg("readPump read error")
				}
				return
			}
			ctl.handleEvent(c, data)
		}
	}
}

// handleEvent dispatches one inbound event. Anything malformed is a
// no-op: the connection stays up and no error crosses room boundaries.
func (ctl *Controller) handleEvent(p peer, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad json")
		return
	}

	switch env.Type {
	case "ping":
		ctl.handlePing(p)
	case "user_connected":
		ctl.handleUserConnected(p, data)
	case "update_activity":
		ctl.handleUpdateActivity(p, data)
	case "send_message":
		ctl.handleSendMessage(p, data)
	case "create_room":
		ctl.handleCreateRoom(p, data)
	case "join_room":
		ctl.handleJoinRoom(p, data)
	case "leave_room":
		ctl.handleLeaveRoom(p, data)
	case "room_play_song":
		ctl.handlePlaySong(p, data)
	case "room_sync_playback":
		ctl.handleSyncPlayback(p, data)
	case "room_chat":
		ctl.handleChat(p, data)
	case "get_room_info":
		ctl.handleRoomInfo(p, data)
	default:
		log.Warn().Str("module", "signal").Str("type", env.Type).Msg("unknown event")
	}
}

func (ctl *Controller) handlePing(p peer) {
	ctl.sendJSON(p, map[string]any{"type": "pong"})
}
