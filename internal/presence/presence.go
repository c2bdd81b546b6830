// Package presence tracks which users are online and what they are
// doing, for the social sidebar. Independent of room membership.
package presence

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const defaultActivity = "Idle"

type Tracker struct {
	mu         sync.RWMutex
	online     map[string]struct{}
	activities map[string]string
}

func NewTracker() *Tracker {
	return &Tracker{
		online:     make(map[string]struct{}),
		activities: make(map[string]string),
	}
}

func (t *Tracker) Connect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.online[userID] = struct{}{}
	t.activities[userID] = defaultActivity
	log.Info().Str("module", "presence").Str("user", userID).Msg("user connected")
}

func (t *Tracker) Disconnect(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.online, userID)
	delete(t.activities, userID)
	log.Info().Str("module", "presence").Str("user", userID).Msg("user disconnected")
}

func (t *Tracker) UpdateActivity(userID, activity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.online[userID]; !ok {
		return
	}
	t.activities[userID] = activity
}

func (t *Tracker) Online() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.online))
	for id := range t.online {
		out = append(out, id)
	}
	return out
}

// Activities returns [userId, activity] pairs, the shape clients render.
func (t *Tracker) Activities() [][2]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([][2]string, 0, len(t.activities))
	for id, act := range t.activities {
		out = append(out, [2]string{id, act})
	}
	return out
}

func (t *Tracker) CountOnline() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.online)
}
