package signal

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/musicflow/server/internal/domain"
	"github.com/musicflow/server/internal/room"
)

func (ctl *Controller) handleCreateRoom(p peer, data []byte) {
	var pl struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
	}
	if err := json.Unmarshal(data, &pl); err != nil || pl.UserID == "" {
		log.Warn().Str("module", "signal").Msg("bad create_room payload")
		return
	}
	if pl.Username == "" {
		pl.Username = "DJ"
	}
	ctl.bind(p, pl.UserID)

	// One room per participant: creating while in a room leaves it first.
	ctl.leaveCurrentRoom(pl.UserID)

	rm, err := ctl.Registry.CreateRoom(pl.UserID, pl.Username)
	if err != nil {
		ctl.sendJSON(p, map[string]any{"type": "room_error", "message": "Could not create room, try again."})
		return
	}

	ctl.sendJSON(p, struct {
		Type     string       `json:"type"`
		RoomCode string       `json:"roomCode"`
		Room     *domain.Room `json:"room"`
	}{"room_created", rm.Code, rm})
}

func (ctl *Controller) handleJoinRoom(p peer, data []byte) {
	var pl struct {
		UserID   string `json:"userId"`
		Username string `json:"username"`
		RoomCode string `json:"roomCode"`
	}
	if err := json.Unmarshal(data, &pl); err != nil || pl.UserID == "" || pl.RoomCode == "" {
		log.Warn().Str("module", "signal").Msg("bad join_room payload")
		return
	}
	if pl.Username == "" {
		pl.Username = "Guest"
	}
	ctl.bind(p, pl.UserID)

	if cur, ok := ctl.Registry.RoomCodeFor(pl.UserID); ok && cur != pl.RoomCode {
		ctl.leaveCurrentRoom(pl.UserID)
	}

	rm, err := ctl.Registry.AddParticipant(pl.RoomCode, pl.UserID, pl.Username)
	if errors.Is(err, room.ErrRoomNotFound) {
		ctl.sendJSON(p, map[string]any{"type": "room_error", "message": "Room not found! Check the code."})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", pl.RoomCode).Msg("join failed")
		return
	}

	ctl.broadcastRoom(rm.Code, struct {
		Type        string          `json:"type"`
		UserID      string          `json:"userId"`
		Username    string          `json:"username"`
		Members     []domain.Member `json:"members"`
		CurrentSong json.RawMessage `json:"currentSong"`
		IsPlaying   bool            `json:"isPlaying"`
		CurrentTime float64         `json:"currentTime"`
	}{"member_joined", pl.UserID, pl.Username, rm.Members, rm.CurrentSong, rm.IsPlaying, rm.CurrentTime}, nil)

	ctl.sendJSON(p, struct {
		Type     string       `json:"type"`
		RoomCode string       `json:"roomCode"`
		Room     *domain.Room `json:"room"`
	}{"room_joined", rm.Code, rm})
}

func (ctl *Controller) handleLeaveRoom(p peer, data []byte) {
	var pl struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &pl); err != nil || pl.UserID == "" {
		log.Warn().Str("module", "signal").Msg("bad leave_room payload")
		return
	}
	ctl.leaveCurrentRoom(pl.UserID)
}

// leaveCurrentRoom is the single membership-removal path, shared by
// explicit leave, implicit leave on create/join, and disconnect.
func (ctl *Controller) leaveCurrentRoom(userID string) {
	code, ok := ctl.Registry.RoomCodeFor(userID)
	if !ok {
		return
	}
	res := ctl.Registry.RemoveParticipant(code, userID)
	if !res.Removed || res.RoomDeleted {
		return
	}

	if res.NewHost != nil {
		ctl.broadcastRoom(code, struct {
			Type    string        `json:"type"`
			NewHost domain.Member `json:"newHost"`
		}{"host_changed", *res.NewHost}, nil)
	}

	ctl.broadcastRoom(code, struct {
		Type    string          `json:"type"`
		UserID  string          `json:"userId"`
		Members []domain.Member `json:"members"`
	}{"member_left", userID, res.Room.Members}, nil)
}

func (ctl *Controller) handlePlaySong(p peer, data []byte) {
	var pl struct {
		RoomCode string          `json:"roomCode"`
		Song     json.RawMessage `json:"song"`
		UserID   string          `json:"userId"`
	}
	if err := json.Unmarshal(data, &pl); err != nil || pl.RoomCode == "" || pl.UserID == "" || len(pl.Song) == 0 {
		log.Warn().Str("module", "signal").Msg("bad room_play_song payload")
		return
	}

	rm, ok := ctl.Registry.SetSong(pl.RoomCode, pl.Song, pl.UserID)
	if !ok {
		// Non-host or unknown room: dropped without an error event.
		return
	}

	ctl.broadcastRoom(rm.Code, struct {
		Type        string          `json:"type"`
		Song        json.RawMessage `json:"song"`
		IsPlaying   bool            `json:"isPlaying"`
		CurrentTime float64         `json:"currentTime"`
	}{"room_song_changed", rm.CurrentSong, true, 0}, nil)
}

func (ctl *Controller) handleSyncPlayback(p peer, data []byte) {
	var pl struct {
		RoomCode    string  `json:"roomCode"`
		IsPlaying   bool    `json:"isPlaying"`
		CurrentTime float64 `json:"currentTime"`
		UserID      string  `json:"userId"`
	}
	if err := json.Unmarshal(data, &pl); err != nil || pl.RoomCode == "" || pl.UserID == "" {
		log.Warn().Str("module", "signal").Msg("bad room_sync_playback payload")
		return
	}

	if !ctl.Registry.SyncPlayback(pl.RoomCode, pl.IsPlaying, pl.CurrentTime, pl.UserID) {
		return
	}

	// The host already has this state locally; echoing it back would
	// make its player jitter.
	ctl.broadcastRoom(pl.RoomCode, struct {
		Type        string  `json:"type"`
		IsPlaying   bool    `json:"isPlaying"`
		CurrentTime float64 `json:"currentTime"`
	}{"room_playback_sync", pl.IsPlaying, pl.CurrentTime}, p)
}

func (ctl *Controller) handleChat(p peer, data []byte) {
	var pl struct {
		RoomCode string `json:"roomCode"`
		UserID   string `json:"userId"`
		Username string `json:"username"`
		Message  string `json:"message"`
	}
	if err := json.Unmarshal(data, &pl); err != nil || pl.RoomCode == "" || pl.UserID == "" || pl.Message == "" {
		log.Warn().Str("module", "signal").Msg("bad room_chat payload")
		return
	}
	if !ctl.Chat.Allow(pl.UserID) {
		log.Warn().Str("module", "signal").Str("user", pl.UserID).Msg("chat rate limit exceeded")
		return
	}

	ctl.broadcastRoom(pl.RoomCode, struct {
		Type      string `json:"type"`
		UserID    string `json:"userId"`
		Username  string `json:"username"`
		Message   string `json:"message"`
		Timestamp int64  `json:"timestamp"`
	}{"room_chat_message", pl.UserID, pl.Username, pl.Message, time.Now().UnixMilli()}, nil)
}

func (ctl *Controller) handleRoomInfo(p peer, data []byte) {
	var pl struct {
		RoomCode string `json:"roomCode"`
	}
	if err := json.Unmarshal(data, &pl); err != nil || pl.RoomCode == "" {
		log.Warn().Str("module", "signal").Msg("bad get_room_info payload")
		return
	}

	rm, ok := ctl.Registry.Room(pl.RoomCode)
	if !ok {
		ctl.sendJSON(p, map[string]any{"type": "room_error", "message": "Room not found"})
		return
	}
	ctl.sendJSON(p, struct {
		Type     string       `json:"type"`
		RoomCode string       `json:"roomCode"`
		Room     *domain.Room `json:"room"`
	}{"room_info", rm.Code, rm})
}
