// Package domain contains entity without logic, just meta-data
package domain

import "encoding/json"

// Member is one participant of a listening room. IsHost is denormalized
// from Room.HostID; the registry keeps the two consistent.
type Member struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"isHost"`
}

// Room is a group listening session. CurrentSong is whatever track object
// the host's client selected; the server stores and re-emits it verbatim.
// CurrentTime is advisory, trusted to the host's own player.
type Room struct {
	Code        string          `json:"-"`
	HostID      string          `json:"host"`
	HostName    string          `json:"hostName"`
	Members     []Member        `json:"members"`
	CurrentSong json.RawMessage `json:"currentSong"`
	IsPlaying   bool            `json:"isPlaying"`
	CurrentTime float64         `json:"currentTime"`
	CreatedAt   int64           `json:"createdAt"`
}

// Clone returns a copy safe to hand outside the registry lock.
func (r *Room) Clone() *Room {
	cp := *r
	cp.Members = make([]Member, len(r.Members))
	copy(cp.Members, r.Members)
	return &cp
}

// HostMember returns the member entry matching HostID, if present.
func (r *Room) HostMember() (Member, bool) {
	for _, m := range r.Members {
		if m.ID == r.HostID {
			return m, true
		}
	}
	return Member{}, false
}
