package signal

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/musicflow/server/internal/config"
	"github.com/musicflow/server/internal/domain"
	"github.com/musicflow/server/internal/presence"
	"github.com/musicflow/server/internal/room"
)

type mockPeer struct {
	mu      sync.Mutex
	msgs    [][]byte
	closed  bool
	sendErr error
}

func (m *mockPeer) TrySend(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.msgs = append(m.msgs, data)
	return nil
}

func (m *mockPeer) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
}

func (m *mockPeer) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// envelope covers every outbound event shape for decoding in tests.
type envelope struct {
	Type        string          `json:"type"`
	RoomCode    string          `json:"roomCode"`
	Room        *roomView       `json:"room"`
	UserID      string          `json:"userId"`
	Username    string          `json:"username"`
	Members     []domain.Member `json:"members"`
	NewHost     *domain.Member  `json:"newHost"`
	Song        json.RawMessage `json:"song"`
	IsPlaying   bool            `json:"isPlaying"`
	CurrentTime float64         `json:"currentTime"`
	Message     json.RawMessage `json:"message"`
	Timestamp   int64           `json:"timestamp"`
	Users       []string        `json:"users"`
	Activity    string          `json:"activity"`
	Activities  [][2]string     `json:"activities"`
}

type roomView struct {
	Host        string          `json:"host"`
	HostName    string          `json:"hostName"`
	Members     []domain.Member `json:"members"`
	CurrentSong json.RawMessage `json:"currentSong"`
	IsPlaying   bool            `json:"isPlaying"`
	CurrentTime float64         `json:"currentTime"`
	CreatedAt   int64           `json:"createdAt"`
}

func (m *mockPeer) drain(t *testing.T) []envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]envelope, 0, len(m.msgs))
	for _, raw := range m.msgs {
		var env envelope
		require.NoError(t, json.Unmarshal(raw, &env))
		out = append(out, env)
	}
	m.msgs = nil
	return out
}

func types(evs []envelope) []string {
	out := make([]string, len(evs))
	for i, e := range evs {
		out[i] = e.Type
	}
	return out
}

func newTestController() *Controller {
	cfg := &config.Config{
		ReadLimit:      32768,
		PingPeriod:     time.Minute,
		ChatRateLimit:  100,
		ChatRateWindow: time.Minute,
	}
	return NewController(cfg, room.NewRegistry(), presence.NewTracker())
}

func (ctl *Controller) connect(p *mockPeer) {
	ctl.register(p)
}

func send(ctl *Controller, p *mockPeer, raw string) {
	ctl.handleEvent(p, []byte(raw))
}

func TestCreateRoom(t *testing.T) {
	ctl := newTestController()
	a := &mockPeer{}
	ctl.connect(a)

	send(ctl, a, `{"type":"create_room","userId":"a","username":"Alice"}`)

	evs := a.drain(t)
	require.Len(t, evs, 1)
	assert.Equal(t, "room_created", evs[0].Type)
	assert.Len(t, evs[0].RoomCode, domain.RoomCodeLength)
	require.NotNil(t, evs[0].Room)
	assert.Equal(t, "a", evs[0].Room.Host)
	require.Len(t, evs[0].Room.Members, 1)
	assert.True(t, evs[0].Room.Members[0].IsHost)
}

func createRoom(t *testing.T, ctl *Controller, p *mockPeer, userID, name string) string {
	t.Helper()
	send(ctl, p, `{"type":"create_room","userId":"`+userID+`","username":"`+name+`"}`)
	evs := p.drain(t)
	require.Len(t, evs, 1)
	require.Equal(t, "room_created", evs[0].Type)
	return evs[0].RoomCode
}

func TestJoinRoom(t *testing.T) {
	ctl := newTestController()
	a, b := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)
	code := createRoom(t, ctl, a, "a", "Alice")

	send(ctl, b, `{"type":"join_room","userId":"b","username":"Bob","roomCode":"`+code+`"}`)

	bEvs := b.drain(t)
	require.Equal(t, []string{"member_joined", "room_joined"}, types(bEvs))
	joined := bEvs[1]
	assert.Equal(t, code, joined.RoomCode)
	assert.Equal(t, "a", joined.Room.Host)
	assert.Nil(t, joined.Room.CurrentSong)
	assert.False(t, joined.Room.IsPlaying)

	aEvs := a.drain(t)
	require.Equal(t, []string{"member_joined"}, types(aEvs))
	require.Len(t, aEvs[0].Members, 2)
	assert.Equal(t, "b", aEvs[0].Members[1].ID)
	assert.False(t, aEvs[0].Members[1].IsHost)
}

func TestJoinUnknownRoom(t *testing.T) {
	ctl := newTestController()
	c := &mockPeer{}
	ctl.connect(c)

	send(ctl, c, `{"type":"join_room","userId":"c","username":"Carol","roomCode":"ZZZZZZ"}`)

	evs := c.drain(t)
	require.Len(t, evs, 1)
	assert.Equal(t, "room_error", evs[0].Type)
	assert.JSONEq(t, `"Room not found! Check the code."`, string(evs[0].Message))
}

func TestHostPlaysSong(t *testing.T) {
	ctl := newTestController()
	a, b := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)
	code := createRoom(t, ctl, a, "a", "Alice")
	send(ctl, b, `{"type":"join_room","userId":"b","username":"Bob","roomCode":"`+code+`"}`)
	a.drain(t)
	b.drain(t)

	send(ctl, a, `{"type":"room_play_song","roomCode":"`+code+`","userId":"a","song":{"id":"s1","title":"Midnight City"}}`)

	for _, p := range []*mockPeer{a, b} {
		evs := p.drain(t)
		require.Equal(t, []string{"room_song_changed"}, types(evs))
		assert.JSONEq(t, `{"id":"s1","title":"Midnight City"}`, string(evs[0].Song))
		assert.True(t, evs[0].IsPlaying)
		assert.Zero(t, evs[0].CurrentTime)
	}
}

func TestGuestPlaySongSilentlyDropped(t *testing.T) {
	ctl := newTestController()
	a, b := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)
	code := createRoom(t, ctl, a, "a", "Alice")
	send(ctl, b, `{"type":"join_room","userId":"b","username":"Bob","roomCode":"`+code+`"}`)
	a.drain(t)
	b.drain(t)

	send(ctl, b, `{"type":"room_play_song","roomCode":"`+code+`","userId":"b","song":{"id":"s2"}}`)

	assert.Empty(t, a.drain(t))
	assert.Empty(t, b.drain(t))

	rm, ok := ctl.Registry.Room(code)
	require.True(t, ok)
	assert.Nil(t, rm.CurrentSong)
	assert.False(t, rm.IsPlaying)
}

func TestPlaybackSyncExcludesSender(t *testing.T) {
	ctl := newTestController()
	a, b := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)
	code := createRoom(t, ctl, a, "a", "Alice")
	send(ctl, b, `{"type":"join_room","userId":"b","username":"Bob","roomCode":"`+code+`"}`)
	a.drain(t)
	b.drain(t)

	send(ctl, a, `{"type":"room_sync_playback","roomCode":"`+code+`","userId":"a","isPlaying":true,"currentTime":42.5}`)

	assert.Empty(t, a.drain(t), "host must not receive its own sync echo")
	evs := b.drain(t)
	require.Equal(t, []string{"room_playback_sync"}, types(evs))
	assert.True(t, evs[0].IsPlaying)
	assert.Equal(t, 42.5, evs[0].CurrentTime)
}

func TestHostDisconnectHandsOff(t *testing.T) {
	ctl := newTestController()
	a, b := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)
	code := createRoom(t, ctl, a, "a", "Alice")
	send(ctl, b, `{"type":"join_room","userId":"b","username":"Bob","roomCode":"`+code+`"}`)
	a.drain(t)
	b.drain(t)

	// No leave_room was sent: the transport drop drives the same path.
	ctl.disconnect(a)

	evs := b.drain(t)
	require.Equal(t, []string{"host_changed", "member_left", "user_disconnected"}, types(evs))
	require.NotNil(t, evs[0].NewHost)
	assert.Equal(t, "b", evs[0].NewHost.ID)
	assert.True(t, evs[0].NewHost.IsHost)
	assert.Equal(t, "a", evs[1].UserID)
	require.Len(t, evs[1].Members, 1)

	// The promoted host's playback mutations now go through.
	send(ctl, b, `{"type":"room_sync_playback","roomCode":"`+code+`","userId":"b","isPlaying":true,"currentTime":7}`)
	rm, ok := ctl.Registry.Room(code)
	require.True(t, ok)
	assert.True(t, rm.IsPlaying)
	assert.Equal(t, 7.0, rm.CurrentTime)
}

func TestLastMemberDisconnectDeletesRoom(t *testing.T) {
	ctl := newTestController()
	a := &mockPeer{}
	ctl.connect(a)
	code := createRoom(t, ctl, a, "a", "Alice")

	ctl.disconnect(a)

	_, ok := ctl.Registry.Room(code)
	assert.False(t, ok)

	c := &mockPeer{}
	ctl.connect(c)
	send(ctl, c, `{"type":"join_room","userId":"c","username":"Carol","roomCode":"`+code+`"}`)
	evs := c.drain(t)
	require.Len(t, evs, 1)
	assert.Equal(t, "room_error", evs[0].Type)
}

func TestExplicitLeave(t *testing.T) {
	ctl := newTestController()
	a, b := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)
	code := createRoom(t, ctl, a, "a", "Alice")
	send(ctl, b, `{"type":"join_room","userId":"b","username":"Bob","roomCode":"`+code+`"}`)
	a.drain(t)
	b.drain(t)

	send(ctl, b, `{"type":"leave_room","userId":"b"}`)

	evs := a.drain(t)
	require.Equal(t, []string{"member_left"}, types(evs))
	assert.Equal(t, "b", evs[0].UserID)
	require.Len(t, evs[0].Members, 1)
	assert.Equal(t, "a", evs[0].Members[0].ID)

	_, ok := ctl.Registry.RoomCodeFor("b")
	assert.False(t, ok)
}

func TestJoinSecondRoomLeavesFirst(t *testing.T) {
	ctl := newTestController()
	a, b, g := &mockPeer{}, &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)
	ctl.connect(g)
	first := createRoom(t, ctl, a, "a", "Alice")
	second := createRoom(t, ctl, b, "b", "Bob")

	send(ctl, g, `{"type":"join_room","userId":"g","username":"Gil","roomCode":"`+first+`"}`)
	a.drain(t)
	g.drain(t)

	send(ctl, g, `{"type":"join_room","userId":"g","username":"Gil","roomCode":"`+second+`"}`)

	evs := a.drain(t)
	require.Equal(t, []string{"member_left"}, types(evs))
	rm, ok := ctl.Registry.Room(first)
	require.True(t, ok)
	assert.Len(t, rm.Members, 1)

	code, ok := ctl.Registry.RoomCodeFor("g")
	require.True(t, ok)
	assert.Equal(t, second, code)
}

func TestRoomChat(t *testing.T) {
	ctl := newTestController()
	a, b := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)
	code := createRoom(t, ctl, a, "a", "Alice")
	send(ctl, b, `{"type":"join_room","userId":"b","username":"Bob","roomCode":"`+code+`"}`)
	a.drain(t)
	b.drain(t)

	before := time.Now().UnixMilli()
	send(ctl, b, `{"type":"room_chat","roomCode":"`+code+`","userId":"b","username":"Bob","message":"tune!"}`)

	// Chat echoes to the sender too.
	for _, p := range []*mockPeer{a, b} {
		evs := p.drain(t)
		require.Equal(t, []string{"room_chat_message"}, types(evs))
		assert.Equal(t, "b", evs[0].UserID)
		assert.JSONEq(t, `"tune!"`, string(evs[0].Message))
		assert.GreaterOrEqual(t, evs[0].Timestamp, before)
	}
}

func TestGetRoomInfo(t *testing.T) {
	ctl := newTestController()
	a, c := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(c)
	code := createRoom(t, ctl, a, "a", "Alice")

	send(ctl, c, `{"type":"get_room_info","roomCode":"`+code+`"}`)
	evs := c.drain(t)
	require.Equal(t, []string{"room_info"}, types(evs))
	assert.Equal(t, code, evs[0].RoomCode)
	assert.Equal(t, "a", evs[0].Room.Host)

	send(ctl, c, `{"type":"get_room_info","roomCode":"NOPE42"}`)
	evs = c.drain(t)
	require.Equal(t, []string{"room_error"}, types(evs))
}

func TestMalformedPayloadsAreNoOps(t *testing.T) {
	ctl := newTestController()
	a := &mockPeer{}
	ctl.connect(a)
	code := createRoom(t, ctl, a, "a", "Alice")

	for _, raw := range []string{
		`not json at all`,
		`{"type":"join_room"}`,
		`{"type":"create_room"}`,
		`{"type":"room_play_song","roomCode":"` + code + `","userId":"a"}`,
		`{"type":"room_sync_playback"}`,
		`{"type":"room_chat","roomCode":"` + code + `"}`,
		`{"type":"get_room_info"}`,
		`{"type":"leave_room"}`,
		`{"type":"some_future_event","x":1}`,
	} {
		send(ctl, a, raw)
	}

	assert.Empty(t, a.drain(t))
	rm, ok := ctl.Registry.Room(code)
	require.True(t, ok)
	assert.Len(t, rm.Members, 1)
}

func TestPresenceFlow(t *testing.T) {
	ctl := newTestController()
	a, b := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)

	send(ctl, a, `{"type":"user_connected","userId":"a"}`)
	evs := a.drain(t)
	require.Equal(t, []string{"user_connected", "users_online", "activities"}, types(evs))
	assert.Equal(t, []string{"a"}, evs[1].Users)
	b.drain(t)

	send(ctl, b, `{"type":"user_connected","userId":"b"}`)
	bEvs := b.drain(t)
	require.Equal(t, []string{"user_connected", "users_online", "activities"}, types(bEvs))
	assert.ElementsMatch(t, []string{"a", "b"}, bEvs[1].Users)

	send(ctl, a, `{"type":"update_activity","userId":"a","activity":"Listening to Jazz"}`)
	bEvs = b.drain(t)
	require.NotEmpty(t, bEvs)
	last := bEvs[len(bEvs)-1]
	assert.Equal(t, "activity_updated", last.Type)
	assert.Equal(t, "Listening to Jazz", last.Activity)

	ctl.disconnect(a)
	bEvs = b.drain(t)
	require.NotEmpty(t, bEvs)
	assert.Equal(t, "user_disconnected", bEvs[len(bEvs)-1].Type)
	assert.Equal(t, 1, ctl.Presence.CountOnline())
}

func TestDirectMessage(t *testing.T) {
	ctl := newTestController()
	a, b := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)
	send(ctl, a, `{"type":"user_connected","userId":"a"}`)
	send(ctl, b, `{"type":"user_connected","userId":"b"}`)
	a.drain(t)
	b.drain(t)

	send(ctl, a, `{"type":"send_message","senderId":"a","receiverId":"b","content":"yo"}`)

	bEvs := b.drain(t)
	require.Equal(t, []string{"receive_message"}, types(bEvs))
	var got DirectMessage
	require.NoError(t, json.Unmarshal(bEvs[0].Message, &got))
	assert.Equal(t, "yo", got.Content)
	assert.NotEmpty(t, got.ID)

	aEvs := a.drain(t)
	require.Equal(t, []string{"message_sent"}, types(aEvs))
}

func TestStaleConnectionDisconnectIsNoOp(t *testing.T) {
	ctl := newTestController()
	p1 := &mockPeer{}
	ctl.connect(p1)
	createRoom(t, ctl, p1, "a", "Alice")

	// Reconnect: same user binds a fresh connection.
	p2 := &mockPeer{}
	ctl.connect(p2)
	send(ctl, p2, `{"type":"user_connected","userId":"a"}`)
	p2.drain(t)

	// The old connection dying must not evict the user.
	ctl.disconnect(p1)

	rmCode, ok := ctl.Registry.RoomCodeFor("a")
	require.True(t, ok)
	rm, ok := ctl.Registry.Room(rmCode)
	require.True(t, ok)
	assert.Len(t, rm.Members, 1)
	assert.Empty(t, p2.drain(t))
}

func TestSlowConsumerKicked(t *testing.T) {
	ctl := newTestController()
	a, b := &mockPeer{}, &mockPeer{}
	ctl.connect(a)
	ctl.connect(b)
	code := createRoom(t, ctl, a, "a", "Alice")
	send(ctl, b, `{"type":"join_room","userId":"b","username":"Bob","roomCode":"`+code+`"}`)
	a.drain(t)
	b.drain(t)

	b.mu.Lock()
	b.sendErr = ErrBackpressure
	b.mu.Unlock()

	send(ctl, a, `{"type":"room_play_song","roomCode":"`+code+`","userId":"a","song":{"id":"s1"}}`)

	assert.True(t, b.isClosed())
	assert.NotEmpty(t, a.drain(t))
}
