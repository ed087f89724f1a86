// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/Tyrowin/roomrelay/internal/room"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Client represents one WebSocket connection. Its id is the connection
// identity the room coordinator sees.
type Client struct {
	id             room.ConnID
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	addr           string
	closed         bool
	maxMessageSize int64
	rateLimiter    *rate.Limiter
	rateLimit      RateLimitConfig
}

// NewClient creates a new Client with a fresh connection identity. The
// client's send channel is buffered to handle message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, addr string) *Client {
	cfg := CurrentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		id:             room.ConnID(uuid.NewString()),
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
	}
}

// ID returns the client's connection identity.
func (c *Client) ID() room.ConnID {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// handleReadError logs the read failure and reports whether the read loop
// must stop. Every read error is terminal for a gorilla connection.
func (c *Client) handleReadError(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Message from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Printf("Client %s connection closed: %v", c.addr, err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
	default:
		log.Printf("WebSocket read error from %s: %v", c.addr, err)
	}
	return true
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter != nil && !c.rateLimiter.Allow() {
		log.Printf("Rate limit exceeded for %s (%d messages per %s); discarding message", c.addr, c.rateLimit.Burst, c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage decodes the envelope and hands it to the hub. Frames that
// are not valid JSON are answered with an error frame.
func (c *Client) processMessage(rawMessage []byte) bool {
	var frame Frame
	if err := json.Unmarshal(rawMessage, &frame); err != nil {
		log.Printf("Invalid frame from %s: %v", c.addr, err)
		c.hub.sendError(c, 0, ErrInvalidPayload)
		return false
	}
	return c.hub.submit(c, frame)
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		if err := c.conn.Close(); err != nil {
			if !isExpectedCloseError(err) {
				log.Printf("Error closing connection in readPump: %v", err)
			}
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if c.handleReadError(err) {
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}
}

// handleMessage writes one outgoing frame and returns false if the connection
// should be closed. A closed send channel means the hub dropped the client.
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for %s: %v", c.addr, err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing message to %s: %v", c.addr, err)
		}
		return false
	}
	return true
}

func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
		if !isExpectedCloseError(err) {
			log.Printf("Error writing close message to %s: %v", c.addr, err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		log.Printf("Error writing ping message to %s: %v", c.addr, err)
		return false
	}
	return true
}
