// Package room owns all live session state: the room map and the
// participant reverse index. It is the only shared mutable resource in
// the process and everything here runs under a single RWMutex.
package room

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/musicflow/server/internal/domain"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrCodeSpace    = errors.New("could not allocate a free room code")
)

const createRetries = 10

// RemovalResult tells the caller what to broadcast after a departure.
// Room is a post-removal snapshot, nil when the room was deleted.
type RemovalResult struct {
	Removed     bool
	RoomDeleted bool
	Room        *domain.Room
	NewHost     *domain.Member
}

type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*domain.Room
	userRooms map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:     make(map[string]*domain.Room),
		userRooms: make(map[string]string),
	}
}

// CreateRoom builds a room with the caller as sole member and host.
func (r *Registry) CreateRoom(hostID, hostName string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	code := ""
	for i := 0; i < createRetries; i++ {
		c := domain.GenerateRoomCode()
		if _, taken := r.rooms[c]; !taken {
			code = c
			break
		}
	}
	if code == "" {
		log.Error().Str("module", "room.registry").Msg("room code space exhausted")
		return nil, ErrCodeSpace
	}

	rm := &domain.Room{
		Code:      code,
		HostID:    hostID,
		HostName:  hostName,
		Members:   []domain.Member{{ID: hostID, Name: hostName, IsHost: true}},
		CreatedAt: time.Now().UnixMilli(),
	}
	r.rooms[code] = rm
	r.userRooms[hostID] = code

	log.Info().Str("module", "room.registry").Str("code", code).Str("host", hostID).Msg("room created")
	return rm.Clone(), nil
}

// Room returns a snapshot of the room, if it exists.
func (r *Registry) Room(code string) (*domain.Room, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[code]
	if !ok {
		return nil, false
	}
	return rm.Clone(), true
}

// RoomCodeFor resolves the participant reverse index.
func (r *Registry) RoomCodeFor(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code, ok := r.userRooms[userID]
	return code, ok
}

// AddParticipant appends the participant as a guest. Joining a room you
// are already a member of is a no-op (reconnects), not a duplicate entry.
func (r *Registry) AddParticipant(code, userID, name string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		return nil, ErrRoomNotFound
	}

	exists := false
	for _, m := range rm.Members {
		if m.ID == userID {
			exists = true
			break
		}
	}
	if !exists {
		rm.Members = append(rm.Members, domain.Member{ID: userID, Name: name})
	}
	r.userRooms[userID] = code

	log.Info().Str("module", "room.registry").Str("code", code).Str("user", userID).Bool("rejoin", exists).Msg("participant joined")
	return rm.Clone(), nil
}

// RemoveParticipant drops the participant from the room and the reverse
// index. If the host left and members remain, the earliest-joined member
// still present is promoted. The last departure deletes the room.
func (r *Registry) RemoveParticipant(code, userID string) RemovalResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok {
		delete(r.userRooms, userID)
		return RemovalResult{}
	}

	idx := -1
	for i, m := range rm.Members {
		if m.ID == userID {
			idx = i
			break
		}
	}
	if r.userRooms[userID] == code {
		delete(r.userRooms, userID)
	}
	if idx == -1 {
		return RemovalResult{}
	}
	rm.Members = append(rm.Members[:idx], rm.Members[idx+1:]...)

	res := RemovalResult{Removed: true}

	if len(rm.Members) == 0 {
		delete(r.rooms, code)
		res.RoomDeleted = true
		log.Info().Str("module", "room.registry").Str("code", code).Msg("room deleted, no members left")
		return res
	}

	if rm.HostID == userID {
		rm.Members[0].IsHost = true
		rm.HostID = rm.Members[0].ID
		rm.HostName = rm.Members[0].Name
		promoted := rm.Members[0]
		res.NewHost = &promoted
		log.Info().Str("module", "room.registry").Str("code", code).Str("new_host", promoted.ID).Msg("host promoted")
	}

	res.Room = rm.Clone()
	return res
}

// SetSong applies the host's track selection: playback restarts from
// zero. Non-host requests are dropped without error, tolerating stale
// client state during host handoff.
func (r *Registry) SetSong(code string, song json.RawMessage, requesterID string) (*domain.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok || rm.HostID != requesterID {
		return nil, false
	}

	rm.CurrentSong = song
	rm.IsPlaying = true
	rm.CurrentTime = 0

	log.Info().Str("module", "room.registry").Str("code", code).Msg("song changed")
	return rm.Clone(), true
}

// SyncPlayback records the host's play/pause flag and position verbatim.
// Same host gate and silent drop as SetSong.
func (r *Registry) SyncPlayback(code string, isPlaying bool, currentTime float64, requesterID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[code]
	if !ok || rm.HostID != requesterID {
		return false
	}

	rm.IsPlaying = isPlaying
	rm.CurrentTime = currentTime
	return true
}

// Stats reports live room and member counts.
func (r *Registry) Stats() (rooms, members int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rooms = len(r.rooms)
	for _, rm := range r.rooms {
		members += len(rm.Members)
	}
	return rooms, members
}
