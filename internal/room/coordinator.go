package room

import (
	"fmt"
	"log"
	"slices"
	"sync"
	"time"
)

// Coordinator owns the room registry. All operations are serialized by a
// single mutex so that a room lookup and the mutation that depends on it can
// never interleave with another operation.
type Coordinator struct {
	mu        sync.Mutex
	rooms     map[ID]*Room
	memberOf  map[ConnID]ID
	transport Transport
	observer  Observer
	newID     IDGenerator
	now       func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithIDGenerator replaces the random room ID source.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *Coordinator) {
		if gen != nil {
			c.newID = gen
		}
	}
}

// WithObserver registers an observer for room activity.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// NewCoordinator creates a Coordinator that broadcasts through t.
func NewCoordinator(t Transport, opts ...Option) *Coordinator {
	if t == nil {
		panic("room: transport is nil")
	}
	c := &Coordinator{
		rooms:     make(map[ID]*Room),
		memberOf:  make(map[ConnID]ID),
		transport: t,
		newID:     RandomID,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRoom creates a room with cid as its only member and returns its ID.
// A connection that already belongs to another room leaves it first.
func (c *Coordinator) CreateRoom(cid ConnID, name string) ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current, ok := c.memberOf[cid]; ok {
		c.leaveLocked(cid, current, name)
	}

	id := c.newID()
	for c.rooms[id] != nil {
		id = c.newID()
	}

	r := &Room{ID: id, Members: []Member{{ConnID: cid, Name: name}}}
	c.rooms[id] = r
	c.memberOf[cid] = id
	c.transport.Subscribe(cid, id)

	log.Printf("Room created: %s by %s", id, name)
	c.broadcastMembers(r)
	c.notify(ActivityRoomCreated, r, cid, name)
	return id
}

// JoinRoom appends cid to the room's members and announces the arrival.
func (c *Coordinator) JoinRoom(cid ConnID, id ID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms[id]
	if !ok {
		return fmt.Errorf("join %s: %w", id, ErrRoomNotFound)
	}

	if current, ok := c.memberOf[cid]; ok {
		if current == id {
			return nil
		}
		c.leaveLocked(cid, current, name)
	}

	c.transport.Subscribe(cid, id)
	r.Members = append(r.Members, Member{ConnID: cid, Name: name})
	c.memberOf[cid] = id

	c.broadcastMembers(r)
	c.broadcastNotice(id, name+" joined the room.")
	c.notify(ActivityMemberJoined, r, cid, name)
	return nil
}

// LeaveRoom removes every entry for cid from the room, announces the
// departure to the remaining members and deletes the room once it is empty.
func (c *Coordinator) LeaveRoom(cid ConnID, id ID, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rooms[id]; !ok {
		return fmt.Errorf("leave %s: %w", id, ErrRoomNotFound)
	}
	c.leaveLocked(cid, id, name)
	return nil
}

// ChatMessage relays a message to every member of the room. Messages for
// unknown rooms are dropped and false is returned.
func (c *Coordinator) ChatMessage(id ID, sender, message string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.rooms[id]; !ok {
		return false
	}
	c.transport.Broadcast(id, EventChatMessage, ChatPayload{Sender: sender, Message: message})
	return true
}

// Disconnect removes cid from whichever room holds it. It is a no-op for
// connections that are not in a room.
func (c *Coordinator) Disconnect(cid ConnID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.memberOf[cid]
	if !ok {
		return
	}
	r := c.rooms[id]

	var name string
	if i := slices.IndexFunc(r.Members, func(m Member) bool { return m.ConnID == cid }); i >= 0 {
		name = r.Members[i].Name
	}

	c.removeMember(r, cid)
	c.broadcastMembers(r)
	c.broadcastNotice(id, name+" disconnected.")
	c.notify(ActivityMemberDisconnected, r, cid, name)
	c.deleteIfEmpty(r)
}

// Members returns a copy of the room's member list.
func (c *Coordinator) Members(id ID) ([]Member, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.rooms[id]
	if !ok {
		return nil, false
	}
	return slices.Clone(r.Members), true
}

// RoomOf reports the room cid currently belongs to.
func (c *Coordinator) RoomOf(cid ConnID) (ID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, ok := c.memberOf[cid]
	return id, ok
}

// RoomCount returns the number of live rooms.
func (c *Coordinator) RoomCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// leaveLocked performs a voluntary leave of an existing room.
func (c *Coordinator) leaveLocked(cid ConnID, id ID, name string) {
	r := c.rooms[id]
	c.removeMember(r, cid)
	c.broadcastMembers(r)
	c.broadcastNotice(id, name+" left the room.")
	c.notify(ActivityMemberLeft, r, cid, name)
	c.deleteIfEmpty(r)
}

// removeMember drops all entries for cid and detaches it from the room's
// transport group in the same step.
func (c *Coordinator) removeMember(r *Room, cid ConnID) {
	r.Members = slices.DeleteFunc(r.Members, func(m Member) bool { return m.ConnID == cid })
	if c.memberOf[cid] == r.ID {
		delete(c.memberOf, cid)
	}
	c.transport.Unsubscribe(cid, r.ID)
}

func (c *Coordinator) deleteIfEmpty(r *Room) {
	if len(r.Members) > 0 {
		return
	}
	delete(c.rooms, r.ID)
	log.Printf("Room deleted: %s", r.ID)
	c.notify(ActivityRoomDeleted, r, "", "")
}

func (c *Coordinator) broadcastMembers(r *Room) {
	c.transport.Broadcast(r.ID, EventPlayerList, slices.Clone(r.Members))
}

func (c *Coordinator) broadcastNotice(id ID, text string) {
	c.transport.Broadcast(id, EventChatMessage, ChatPayload{Sender: SystemSender, Message: text})
}

func (c *Coordinator) notify(kind ActivityKind, r *Room, cid ConnID, name string) {
	if c.observer == nil {
		return
	}
	c.observer.RoomActivity(Activity{
		Kind:    kind,
		RoomID:  r.ID,
		ConnID:  cid,
		Name:    name,
		Members: len(r.Members),
		At:      c.now(),
	})
}
