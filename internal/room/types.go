package room

import (
	"errors"
	"time"
)

// ConnID identifies one live transport connection. It is assigned by the
// transport and stays valid until the connection is reported as lost.
type ConnID string

// ID identifies a room. IDs are six-digit decimal strings.
type ID string

// Member is one participant of a room.
type Member struct {
	ConnID ConnID `json:"id"`
	Name   string `json:"name"`
}

// Room is a named group of members kept in join order.
type Room struct {
	ID      ID
	Members []Member
}

// ChatPayload is the body of a chat-message broadcast.
type ChatPayload struct {
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// Outbound event names.
const (
	EventPlayerList  = "player-list"
	EventChatMessage = "chat-message"
)

// SystemSender authors the join, leave and disconnect notices.
const SystemSender = "System"

// ErrRoomNotFound is returned by JoinRoom and LeaveRoom when the room does not exist.
var ErrRoomNotFound = errors.New("room not found")

// Transport delivers events to the connections associated with a room.
// Implementations must not block and must not call back into the Coordinator.
type Transport interface {
	Subscribe(cid ConnID, id ID)
	Unsubscribe(cid ConnID, id ID)
	Broadcast(id ID, event string, payload any)
}

// ActivityKind names a room lifecycle change.
type ActivityKind string

const (
	ActivityRoomCreated        ActivityKind = "room.created"
	ActivityMemberJoined       ActivityKind = "member.joined"
	ActivityMemberLeft         ActivityKind = "member.left"
	ActivityMemberDisconnected ActivityKind = "member.disconnected"
	ActivityRoomDeleted        ActivityKind = "room.deleted"
)

// Activity describes a single room lifecycle change.
type Activity struct {
	Kind    ActivityKind `json:"kind"`
	RoomID  ID           `json:"roomId"`
	ConnID  ConnID       `json:"connectionId,omitempty"`
	Name    string       `json:"name,omitempty"`
	Members int          `json:"members"`
	At      time.Time    `json:"at"`
}

// Observer receives room activity. RoomActivity is called with the
// coordinator lock held, so it must return quickly.
type Observer interface {
	RoomActivity(a Activity)
}
