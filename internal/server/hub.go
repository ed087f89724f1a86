// Package server coordinates client registration, inbound room events and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Tyrowin/roomrelay/internal/room"
)

type inboundFrame struct {
	client *Client
	frame  Frame
}

// Hub owns every live WebSocket client and the transport-level room groups.
// Its Run loop is the only caller of the room coordinator, so inbound events
// from all connections are handled one at a time in arrival order.
type Hub struct {
	clients    map[room.ConnID]*Client
	groups     map[room.ID]map[room.ConnID]*Client
	rooms      *room.Coordinator
	inbound    chan inboundFrame
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub and its room coordinator. The options are passed to
// the coordinator.
func NewHub(opts ...room.Option) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:    make(map[room.ConnID]*Client),
		groups:     make(map[room.ID]map[room.ConnID]*Client),
		inbound:    make(chan inboundFrame),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
	h.rooms = room.NewCoordinator(groupTransport{h: h}, opts...)
	return h
}

// Register hands a new client to the hub, which starts its pumps. It returns
// false if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// submit queues an inbound frame for the event loop.
func (h *Hub) submit(client *Client, frame Frame) bool {
	select {
	case h.inbound <- inboundFrame{client: client, frame: frame}:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Run starts the hub's main event loop. It should be called in a separate
// goroutine and returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case in := <-h.inbound:
			if h.isRegistered(in.client) {
				h.dispatch(in.client, in.frame)
			}
		}
	}
}

func (h *Hub) handleRegister(client *Client) {
	if client == nil {
		log.Printf("Received nil client registration; skipping")
		return
	}

	count := h.addClient(client)
	log.Printf("Client %s registered from %s. Total clients: %d", client.id, client.addr, count)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

func (h *Hub) addClient(client *Client) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client.closed = false
	h.clients[client.id] = client
	return len(h.clients)
}

// handleUnregister is the transport's connection-loss notification: the
// client leaves its room before it is forgotten.
func (h *Hub) handleUnregister(client *Client) {
	if !h.isRegistered(client) {
		return
	}

	h.rooms.Disconnect(client.id)

	h.mutex.Lock()
	delete(h.clients, client.id)
	alreadyClosed := client.closed
	client.closed = true
	count := len(h.clients)
	h.mutex.Unlock()

	if !alreadyClosed {
		close(client.send)
	}
	log.Printf("Client %s unregistered from %s. Total clients: %d", client.id, client.addr, count)
}

func (h *Hub) isRegistered(client *Client) bool {
	if client == nil {
		return false
	}
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	registered, ok := h.clients[client.id]
	return ok && registered == client
}

// dispatch runs one inbound event against the coordinator and answers the
// sender. Protocol errors never reach the coordinator.
func (h *Hub) dispatch(client *Client, frame Frame) {
	switch frame.Event {
	case EventCreateRoom:
		req, err := decodeRequest[CreateRoomRequest](frame)
		if err != nil {
			h.sendError(client, frame.AckID, err)
			return
		}
		id := h.rooms.CreateRoom(client.id, req.Name)
		h.sendAck(client, frame.AckID, CreateRoomAck{RoomID: string(id)})

	case EventJoinRoom:
		req, err := decodeRequest[JoinRoomRequest](frame)
		if err != nil {
			h.sendError(client, frame.AckID, err)
			return
		}
		if err := h.rooms.JoinRoom(client.id, room.ID(req.RoomID), req.Name); err != nil {
			h.sendAck(client, frame.AckID, JoinRoomAck{Success: false, Message: ackMessage(err)})
			return
		}
		h.sendAck(client, frame.AckID, JoinRoomAck{Success: true, Message: MsgJoinedRoom, RoomID: req.RoomID})

	case EventLeaveRoom:
		req, err := decodeRequest[LeaveRoomRequest](frame)
		if err != nil {
			h.sendError(client, frame.AckID, err)
			return
		}
		if err := h.rooms.LeaveRoom(client.id, room.ID(req.RoomID), req.Name); err != nil {
			h.sendAck(client, frame.AckID, LeaveRoomAck{Success: false, Message: ackMessage(err)})
			return
		}
		h.sendAck(client, frame.AckID, LeaveRoomAck{Success: true, Message: MsgLeftRoom})

	case EventChatMessage:
		req, err := decodeRequest[ChatMessageRequest](frame)
		if err != nil {
			h.sendError(client, frame.AckID, err)
			return
		}
		h.rooms.ChatMessage(room.ID(req.RoomID), req.Sender, req.Message)

	default:
		h.sendError(client, frame.AckID, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Event))
	}
}

func ackMessage(err error) string {
	if errors.Is(err, room.ErrRoomNotFound) {
		return MsgRoomNotFound
	}
	return err.Error()
}

func (h *Hub) sendAck(client *Client, ackID int64, data any) {
	payload, err := encodeFrame(EventAck, ackID, data)
	if err != nil {
		log.Printf("Error encoding ack for %s: %v", client.addr, err)
		return
	}
	h.deliver(client, payload)
}

func (h *Hub) sendError(client *Client, ackID int64, cause error) {
	log.Printf("Rejected frame from %s: %v", client.addr, cause)
	payload, err := encodeFrame(EventError, ackID, ErrorData{Message: cause.Error()})
	if err != nil {
		log.Printf("Error encoding error frame for %s: %v", client.addr, err)
		return
	}
	h.deliver(client, payload)
}

// deliver queues payload for one client, evicting it if its buffer is full.
func (h *Hub) deliver(client *Client, payload []byte) {
	if !h.safeSend(client, payload) {
		h.evict([]*Client{client})
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send so the channel cannot be closed underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client.id]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// evict closes the send channel of clients that cannot keep up. Their write
// pump then closes the connection, the read pump fails and the resulting
// unregister removes them from their room.
func (h *Hub) evict(clients []*Client) {
	if len(clients) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clients {
		if _, exists := h.clients[client.id]; exists && !client.closed {
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			log.Printf("Client %s from %s dropped due to full send buffer", client.id, client.addr)
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

// groupSnapshot returns the clients currently associated with a room.
func (h *Hub) groupSnapshot(id room.ID) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	group := h.groups[id]
	clients := make([]*Client, 0, len(group))
	for _, client := range group {
		clients = append(clients, client)
	}
	return clients
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	return h.rooms.RoomCount()
}

// RoomMembers returns the members of a live room in join order.
func (h *Hub) RoomMembers(id room.ID) ([]room.Member, bool) {
	return h.rooms.Members(id)
}

func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	var channelsToClose []chan []byte
	for _, client := range h.clients {
		clients = append(clients, client)
		if !client.closed {
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
		}
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing client connection from %s: %v", client.addr, err)
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown stops the event loop, closes every client connection and waits
// for the client goroutines to finish or the timeout to pass.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

// groupTransport exposes the hub's room groups to the coordinator. It is
// only invoked from inside coordinator operations, which the hub runs on its
// event loop.
type groupTransport struct {
	h *Hub
}

func (t groupTransport) Subscribe(cid room.ConnID, id room.ID) {
	h := t.h
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client, ok := h.clients[cid]
	if !ok {
		return
	}
	group := h.groups[id]
	if group == nil {
		group = make(map[room.ConnID]*Client)
		h.groups[id] = group
	}
	group[cid] = client
}

func (t groupTransport) Unsubscribe(cid room.ConnID, id room.ID) {
	h := t.h
	h.mutex.Lock()
	defer h.mutex.Unlock()

	group, ok := h.groups[id]
	if !ok {
		return
	}
	delete(group, cid)
	if len(group) == 0 {
		delete(h.groups, id)
	}
}

func (t groupTransport) Broadcast(id room.ID, event string, payload any) {
	h := t.h
	message, err := encodeFrame(event, 0, payload)
	if err != nil {
		log.Printf("Error encoding %s for room %s: %v", event, id, err)
		return
	}

	clients := h.groupSnapshot(id)
	var failed []*Client
	for _, client := range clients {
		if !h.safeSend(client, message) {
			failed = append(failed, client)
		}
	}
	h.evict(failed)
}
