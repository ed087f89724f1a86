// Package server defines the wire protocol exchanged with WebSocket clients
// and utility helpers that are reused across client and hub logic.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Tyrowin/roomrelay/internal/room"
)

// Inbound event names.
const (
	EventCreateRoom  = "create-room"
	EventJoinRoom    = "join-room"
	EventLeaveRoom   = "leave-room"
	EventChatMessage = room.EventChatMessage
)

// Outbound event names not produced by the coordinator.
const (
	EventAck   = "ack"
	EventError = "error"
)

// Acknowledgement messages.
const (
	MsgJoinedRoom   = "Joined room"
	MsgLeftRoom     = "Left room"
	MsgRoomNotFound = "Room not found"
)

var (
	// ErrInvalidPayload marks a frame whose data is malformed or incomplete.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnknownEvent marks a frame naming an event the server does not handle.
	ErrUnknownEvent = errors.New("unknown event")
)

// Frame is the JSON envelope of every WebSocket message. AckID is chosen by
// the client and echoed on the matching ack or error frame.
type Frame struct {
	Event string          `json:"event"`
	AckID int64           `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CreateRoomRequest is the data of a create-room frame.
type CreateRoomRequest struct {
	Name string `json:"name"`
}

// JoinRoomRequest is the data of a join-room frame.
type JoinRoomRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// LeaveRoomRequest is the data of a leave-room frame.
type LeaveRoomRequest struct {
	RoomID string `json:"roomId"`
	Name   string `json:"name"`
}

// ChatMessageRequest is the data of an inbound chat-message frame.
type ChatMessageRequest struct {
	RoomID  string `json:"roomId"`
	Sender  string `json:"sender"`
	Message string `json:"message"`
}

// CreateRoomAck answers create-room.
type CreateRoomAck struct {
	RoomID string `json:"roomId"`
}

// JoinRoomAck answers join-room.
type JoinRoomAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	RoomID  string `json:"roomId,omitempty"`
}

// LeaveRoomAck answers leave-room.
type LeaveRoomAck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ErrorData is the data of an error frame.
type ErrorData struct {
	Message string `json:"message"`
}

type validator interface {
	validate() error
}

func (r CreateRoomRequest) validate() error {
	return requireFields("name", r.Name)
}

func (r JoinRoomRequest) validate() error {
	return requireFields("roomId", r.RoomID, "name", r.Name)
}

func (r LeaveRoomRequest) validate() error {
	return requireFields("roomId", r.RoomID, "name", r.Name)
}

func (r ChatMessageRequest) validate() error {
	return requireFields("roomId", r.RoomID)
}

// requireFields takes alternating field names and values and reports the
// first value that is empty.
func requireFields(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidPayload, pairs[i])
		}
	}
	return nil
}

// decodeRequest unmarshals and validates the frame data into T.
func decodeRequest[T validator](f Frame) (T, error) {
	var req T
	if len(f.Data) == 0 {
		return req, fmt.Errorf("%w: %s requires data", ErrInvalidPayload, f.Event)
	}
	if err := json.Unmarshal(f.Data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := req.validate(); err != nil {
		return req, err
	}
	return req, nil
}

// encodeFrame renders an outbound frame.
func encodeFrame(event string, ackID int64, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, AckID: ackID, Data: raw})
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
