package ws

import (
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/doodledock/backend/internal/models"
	"github.com/manpreetbhatti/doodledock/backend/internal/protocol"
	"github.com/manpreetbhatti/doodledock/backend/internal/ratelimit"
)

const maxRateLimitViolations = 1000

// Cursor is the last reported pointer position of a client.
type Cursor struct {
	X float64
	Y float64
}

// Client is one authenticated connection session.
type Client struct {
	id        string
	hub       *Hub
	transport Transport
	user      *models.User
	limiter   *ratelimit.Limiter

	// Owned by the hub loop. roomID and cursor are written under hub.mu.
	roomID        string
	cursor        *Cursor
	throttleEpoch map[string]uint64
	joinSeq       uint64

	// alive is set by pongs and cleared by each heartbeat sweep.
	alive atomic.Bool
}

func newClient(hub *Hub, transport Transport, user *models.User) *Client {
	return &Client{
		id:        uuid.NewString(),
		hub:       hub,
		transport: transport,
		user:      user,
		limiter:   hub.limiters.Get(user.ID),

		throttleEpoch: make(map[string]uint64),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) User() *models.User { return c.user }

func (c *Client) markAlive() { c.alive.Store(true) }

// send queues an encoded frame, counting drops.
func (c *Client) send(data []byte) bool {
	if c.transport.Send(data) {
		c.hub.metrics.FrameSent()
		return true
	}
	c.hub.metrics.SendDropped()
	return false
}

func (c *Client) sendFrame(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.hub.logger.Error("encode frame", "client", c.id, "error", err)
		return
	}
	c.send(data)
}

func (c *Client) sendError(message string) {
	c.send(protocol.ErrorFrame(message))
}

func (c *Client) readPump(conn *websocket.Conn, maxMessageSize int64) {
	defer func() {
		c.hub.Unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		c.markAlive()
		return nil
	})

	violations := 0

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "client", c.id, "user", c.user.ID, "error", err)
			}
			return
		}

		if !c.limiter.Allow() {
			violations++
			if violations%100 == 1 {
				c.hub.logger.Warn("rate limit exceeded", "client", c.id, "user", c.user.ID, "violations", violations)
			}
			if violations > maxRateLimitViolations {
				c.hub.logger.Warn("disconnecting client for rate limit violations", "client", c.id, "user", c.user.ID)
				return
			}
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.hub.logger.Debug("invalid message", "client", c.id, "error", err)
			c.sendError(errorText(err))
			continue
		}

		c.hub.Dispatch(c, msg)
	}
}

func errorText(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownType):
		return "Unknown message type"
	case errors.Is(err, protocol.ErrMalformed):
		return "Invalid message format: " + err.Error()
	default:
		return "Invalid message format"
	}
}
