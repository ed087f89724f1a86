package server

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomrelay/internal/room"
)

func fixedIDs(ids ...room.ID) room.IDGenerator {
	i := 0
	return func() room.ID {
		id := ids[i%len(ids)]
		i++
		return id
	}
}

// newTestClient registers a connectionless client with the hub. Its send
// channel is read directly by the test.
func newTestClient(h *Hub, id string, buffer int) *Client {
	c := &Client{
		id:   room.ConnID(id),
		send: make(chan []byte, buffer),
		hub:  h,
		addr: id,
	}
	h.addClient(c)
	return c
}

func frameOf(t *testing.T, event string, ackID int64, data any) Frame {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Frame{Event: event, AckID: ackID, Data: raw}
}

func nextFrame(t *testing.T, c *Client) Frame {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var f Frame
		require.NoError(t, json.Unmarshal(msg, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame queued for %s", c.id)
		return Frame{}
	}
}

func drain(c *Client) []Frame {
	var frames []Frame
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return frames
			}
			var f Frame
			if json.Unmarshal(msg, &f) == nil {
				frames = append(frames, f)
			}
		default:
			return frames
		}
	}
}

func decodeData[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Data, &v))
	return v
}

func TestDispatchCreateRoom(t *testing.T) {
	h := NewHub(room.WithIDGenerator(fixedIDs("123456")))
	alice := newTestClient(h, "alice", 16)

	h.dispatch(alice, frameOf(t, EventCreateRoom, 7, CreateRoomRequest{Name: "Alice"}))

	list := nextFrame(t, alice)
	assert.Equal(t, room.EventPlayerList, list.Event)
	assert.Equal(t, []room.Member{{ConnID: "alice", Name: "Alice"}}, decodeData[[]room.Member](t, list))

	ack := nextFrame(t, alice)
	assert.Equal(t, EventAck, ack.Event)
	assert.Equal(t, int64(7), ack.AckID)
	assert.Equal(t, CreateRoomAck{RoomID: "123456"}, decodeData[CreateRoomAck](t, ack))
	assert.Equal(t, 1, h.RoomCount())
}

func TestDispatchJoinRoom(t *testing.T) {
	h := NewHub(room.WithIDGenerator(fixedIDs("123456")))
	alice := newTestClient(h, "alice", 16)
	bob := newTestClient(h, "bob", 16)

	h.dispatch(alice, frameOf(t, EventCreateRoom, 1, CreateRoomRequest{Name: "Alice"}))
	drain(alice)

	h.dispatch(bob, frameOf(t, EventJoinRoom, 2, JoinRoomRequest{RoomID: "123456", Name: "Bob"}))

	want := []room.Member{{ConnID: "alice", Name: "Alice"}, {ConnID: "bob", Name: "Bob"}}
	for _, c := range []*Client{alice, bob} {
		list := nextFrame(t, c)
		assert.Equal(t, room.EventPlayerList, list.Event)
		assert.Equal(t, want, decodeData[[]room.Member](t, list))

		notice := nextFrame(t, c)
		assert.Equal(t, room.EventChatMessage, notice.Event)
		assert.Equal(t, room.ChatPayload{Sender: room.SystemSender, Message: "Bob joined the room."},
			decodeData[room.ChatPayload](t, notice))
	}

	ack := nextFrame(t, bob)
	assert.Equal(t, int64(2), ack.AckID)
	assert.Equal(t, JoinRoomAck{Success: true, Message: MsgJoinedRoom, RoomID: "123456"}, decodeData[JoinRoomAck](t, ack))
	assert.Empty(t, drain(alice))
}

func TestDispatchJoinUnknownRoom(t *testing.T) {
	h := NewHub()
	carol := newTestClient(h, "carol", 16)

	h.dispatch(carol, frameOf(t, EventJoinRoom, 3, JoinRoomRequest{RoomID: "000000", Name: "Carol"}))

	ack := nextFrame(t, carol)
	assert.Equal(t, EventAck, ack.Event)
	assert.Equal(t, JoinRoomAck{Success: false, Message: MsgRoomNotFound}, decodeData[JoinRoomAck](t, ack))
	assert.Empty(t, drain(carol))
	assert.Equal(t, 0, h.RoomCount())
}

func TestDispatchLeaveRoom(t *testing.T) {
	h := NewHub(room.WithIDGenerator(fixedIDs("123456")))
	alice := newTestClient(h, "alice", 16)
	bob := newTestClient(h, "bob", 16)

	h.dispatch(alice, frameOf(t, EventCreateRoom, 1, CreateRoomRequest{Name: "Alice"}))
	h.dispatch(bob, frameOf(t, EventJoinRoom, 2, JoinRoomRequest{RoomID: "123456", Name: "Bob"}))
	drain(alice)
	drain(bob)

	h.dispatch(bob, frameOf(t, EventLeaveRoom, 3, LeaveRoomRequest{RoomID: "123456", Name: "Bob"}))

	list := nextFrame(t, alice)
	assert.Equal(t, []room.Member{{ConnID: "alice", Name: "Alice"}}, decodeData[[]room.Member](t, list))
	notice := nextFrame(t, alice)
	assert.Equal(t, "Bob left the room.", decodeData[room.ChatPayload](t, notice).Message)

	ack := nextFrame(t, bob)
	assert.Equal(t, LeaveRoomAck{Success: true, Message: MsgLeftRoom}, decodeData[LeaveRoomAck](t, ack))
	assert.Empty(t, drain(bob), "the leaver is unsubscribed before the broadcast")

	h.dispatch(alice, frameOf(t, EventLeaveRoom, 4, LeaveRoomRequest{RoomID: "123456", Name: "Alice"}))
	assert.Equal(t, 0, h.RoomCount())

	h.dispatch(alice, frameOf(t, EventLeaveRoom, 5, LeaveRoomRequest{RoomID: "123456", Name: "Alice"}))
	frames := drain(alice)
	require.NotEmpty(t, frames)
	last := frames[len(frames)-1]
	assert.Equal(t, int64(5), last.AckID)
	assert.Equal(t, LeaveRoomAck{Success: false, Message: MsgRoomNotFound}, decodeData[LeaveRoomAck](t, last))
}

func TestDispatchChatMessage(t *testing.T) {
	h := NewHub(room.WithIDGenerator(fixedIDs("111111", "222222")))
	alice := newTestClient(h, "alice", 16)
	bob := newTestClient(h, "bob", 16)
	outsider := newTestClient(h, "outsider", 16)

	h.dispatch(alice, frameOf(t, EventCreateRoom, 0, CreateRoomRequest{Name: "Alice"}))
	h.dispatch(bob, frameOf(t, EventJoinRoom, 0, JoinRoomRequest{RoomID: "111111", Name: "Bob"}))
	h.dispatch(outsider, frameOf(t, EventCreateRoom, 0, CreateRoomRequest{Name: "Olive"}))
	drain(alice)
	drain(bob)
	drain(outsider)

	h.dispatch(outsider, frameOf(t, EventChatMessage, 0, ChatMessageRequest{RoomID: "111111", Sender: "Olive", Message: "hi"}))

	want := room.ChatPayload{Sender: "Olive", Message: "hi"}
	for _, c := range []*Client{alice, bob} {
		f := nextFrame(t, c)
		assert.Equal(t, room.EventChatMessage, f.Event)
		assert.Equal(t, want, decodeData[room.ChatPayload](t, f))
	}
	assert.Empty(t, drain(outsider), "non-members are not subscribed to the room")

	h.dispatch(alice, frameOf(t, EventChatMessage, 9, ChatMessageRequest{RoomID: "999999", Sender: "Alice", Message: "lost"}))
	assert.Empty(t, drain(alice), "chat to an unknown room is dropped without an answer")
}

func TestDispatchRejectsInvalidFrames(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
	}{
		{"unknown event", Frame{Event: "launch-rocket", AckID: 1, Data: json.RawMessage(`{}`)}},
		{"missing data", Frame{Event: EventCreateRoom, AckID: 2}},
		{"missing name", Frame{Event: EventCreateRoom, AckID: 3, Data: json.RawMessage(`{"name":"  "}`)}},
		{"missing room id", Frame{Event: EventJoinRoom, AckID: 4, Data: json.RawMessage(`{"name":"Bob"}`)}},
		{"wrong type", Frame{Event: EventLeaveRoom, AckID: 5, Data: json.RawMessage(`{"roomId":5,"name":"Bob"}`)}},
		{"chat without room", Frame{Event: EventChatMessage, AckID: 6, Data: json.RawMessage(`{"sender":"a","message":"b"}`)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHub()
			c := newTestClient(h, "client", 4)

			h.dispatch(c, tt.frame)

			f := nextFrame(t, c)
			assert.Equal(t, EventError, f.Event)
			assert.Equal(t, tt.frame.AckID, f.AckID)
			assert.NotEmpty(t, decodeData[ErrorData](t, f).Message)
			assert.Equal(t, 0, h.RoomCount())
		})
	}
}

func TestUnregisterDisconnectsFromRoom(t *testing.T) {
	h := NewHub(room.WithIDGenerator(fixedIDs("123456")))
	alice := newTestClient(h, "alice", 16)
	bob := newTestClient(h, "bob", 16)

	h.dispatch(alice, frameOf(t, EventCreateRoom, 0, CreateRoomRequest{Name: "Alice"}))
	h.dispatch(bob, frameOf(t, EventJoinRoom, 0, JoinRoomRequest{RoomID: "123456", Name: "Bob"}))
	drain(alice)
	drain(bob)

	h.handleUnregister(bob)

	list := nextFrame(t, alice)
	assert.Equal(t, []room.Member{{ConnID: "alice", Name: "Alice"}}, decodeData[[]room.Member](t, list))
	notice := nextFrame(t, alice)
	assert.Equal(t, "Bob disconnected.", decodeData[room.ChatPayload](t, notice).Message)

	_, open := <-bob.send
	assert.False(t, open, "unregister closes the send channel")
	assert.Equal(t, 1, h.ClientCount())

	h.handleUnregister(alice)
	assert.Equal(t, 0, h.RoomCount())
	assert.Equal(t, 0, h.ClientCount())

	// A second unregister is ignored.
	h.handleUnregister(alice)
}

func TestStalledClientIsEvictedThenDisconnected(t *testing.T) {
	h := NewHub(room.WithIDGenerator(fixedIDs("123456")))
	alice := newTestClient(h, "alice", 64)
	slow := newTestClient(h, "slow", 2)

	h.dispatch(alice, frameOf(t, EventCreateRoom, 0, CreateRoomRequest{Name: "Alice"}))
	h.dispatch(slow, frameOf(t, EventJoinRoom, 0, JoinRoomRequest{RoomID: "123456", Name: "Slow"}))

	for i := 0; i < 4; i++ {
		h.dispatch(alice, frameOf(t, EventChatMessage, 0, ChatMessageRequest{RoomID: "123456", Sender: "Alice", Message: "spam"}))
	}

	h.mutex.RLock()
	closed := slow.closed
	h.mutex.RUnlock()
	assert.True(t, closed, "a client with a full buffer is dropped")

	members, ok := h.RoomMembers("123456")
	require.True(t, ok)
	assert.Len(t, members, 2, "eviction alone does not change membership")

	// The connection loss that follows eviction removes the member.
	h.handleUnregister(slow)
	members, ok = h.RoomMembers("123456")
	require.True(t, ok)
	assert.Equal(t, []room.Member{{ConnID: "alice", Name: "Alice"}}, members)
}

func TestSafeSendSkipsClosedClient(t *testing.T) {
	h := NewHub()
	c := newTestClient(h, "client", 1)

	assert.True(t, h.safeSend(c, []byte("one")))
	assert.False(t, h.safeSend(c, []byte("two")), "buffer full")

	h.evict([]*Client{c})
	assert.False(t, h.safeSend(c, []byte("three")), "evicted client")
}

func TestHubShutdown(t *testing.T) {
	h := NewHub()
	go h.Run()

	c := &Client{id: "late", send: make(chan []byte, 1), hub: h, addr: "late"}
	h.addClient(c)

	require.NoError(t, h.Shutdown(5*time.Second))

	_, open := <-c.send
	assert.False(t, open, "shutdown closes client send channels")
	assert.False(t, h.Register(c), "register after shutdown is refused")
	assert.False(t, h.submit(c, Frame{Event: EventCreateRoom}))
}

func TestHubShutdownWithoutClients(t *testing.T) {
	h := NewHub()
	go h.Run()

	err := h.Shutdown(5 * time.Second)
	assert.NoError(t, err)
}
