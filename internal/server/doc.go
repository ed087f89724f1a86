// Package server implements the HTTP and WebSocket surface of the room relay.
//
// A single Hub owns every connection. It decodes inbound frames, runs them
// one at a time against the room coordinator and fans the resulting events
// out to the room groups it keeps for the coordinator. Configuration, origin
// checks, rate limiting and the HTTP routes live in their own files.
package server
