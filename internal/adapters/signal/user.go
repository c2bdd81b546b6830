package signal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) handleUserConnected(p peer, data []byte) {
	var pl struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &pl); err != nil || pl.UserID == "" {
		log.Warn().Str("module", "signal").Msg("bad user_connected payload")
		return
	}

	ctl.bind(p, pl.UserID)
	ctl.Presence.Connect(pl.UserID)

	ctl.broadcastAll(map[string]any{"type": "user_connected", "userId": pl.UserID})
	ctl.sendJSON(p, struct {
		Type  string   `json:"type"`
		Users []string `json:"users"`
	}{"users_online", ctl.Presence.Online()})
	ctl.broadcastAll(struct {
		Type       string      `json:"type"`
		Activities [][2]string `json:"activities"`
	}{"activities", ctl.Presence.Activities()})
}

func (ctl *Controller) handleUpdateActivity(p peer, data []byte) {
	var pl struct {
		UserID   string `json:"userId"`
		Activity string `json:"activity"`
	}
	if err := json.Unmarshal(data, &pl); err != nil || pl.UserID == "" {
		log.Warn().Str("module", "signal").Msg("bad update_activity payload")
		return
	}

	ctl.Presence.UpdateActivity(pl.UserID, pl.Activity)
	ctl.broadcastAll(map[string]any{
		"type":     "activity_updated",
		"userId":   pl.UserID,
		"activity": pl.Activity,
	})
}

// DirectMessage is relayed between two online users. Nothing is stored;
// an offline receiver simply misses it.
type DirectMessage struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
	Timestamp  int64  `json:"timestamp"`
}

func (ctl *Controller) handleSendMessage(p peer, data []byte) {
	var pl struct {
		SenderID   string `json:"senderId"`
		ReceiverID string `json:"receiverId"`
		Content    string `json:"content"`
	}
	if err := json.Unmarshal(data, &pl); err != nil || pl.SenderID == "" || pl.ReceiverID == "" || pl.Content == "" {
		log.Warn().Str("module", "signal").Msg("bad send_message payload")
		return
	}

	msg := DirectMessage{
		ID:         uuid.NewString(),
		SenderID:   pl.SenderID,
		ReceiverID: pl.ReceiverID,
		Content:    pl.Content,
		Timestamp:  time.Now().UnixMilli(),
	}

	if rp, ok := ctl.peerFor(pl.ReceiverID); ok {
		ctl.sendJSON(rp, struct {
			Type    string        `json:"type"`
			Message DirectMessage `json:"message"`
		}{"receive_message", msg})
	}
	ctl.sendJSON(p, struct {
		Type    string        `json:"type"`
		Message DirectMessage `json:"message"`
	}{"message_sent", msg})
}
