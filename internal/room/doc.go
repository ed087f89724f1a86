// Package room implements the room registry and broadcast coordinator.
//
// A Coordinator owns every live room, mediates each membership change and
// chat message, and pushes the resulting player-list and chat-message events
// through the Transport it was constructed with. Rooms exist only while they
// have members; the last departure deletes the room in the same step.
package room
