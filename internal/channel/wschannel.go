package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// wsMessage is the envelope every push uses, adapted from the same
// "adapt a transport connection behind a stable interface" idea as
// Aeolun-superchat's WebSocketConn, but at the message level instead
// of the net.Conn level since pushes here are discrete typed events
// rather than a byte stream.
type wsMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	msgNotifyJoin           = "notify_join"
	msgQueuePositionChanged  = "queue_position_changed"
	msgRemovedFromQueue      = "removed_from_queue"
	msgMatchFound            = "match_found"
	msgMatchmakingFailed     = "matchmaking_failed"
)

// WSChannel adapts a *websocket.Conn into a Channel, mirroring the
// teacher pack's only live transport wrapper (Aeolun-superchat's
// WebSocketConn) but exposing typed pushes instead of a net.Conn byte
// stream, since the Client Channel contract is message-oriented.
type WSChannel struct {
	id string
	ws *websocket.Conn

	writeMu sync.Mutex
}

// NewWSChannel wraps ws with a freshly generated opaque channel id.
func NewWSChannel(ws *websocket.Conn) *WSChannel {
	return &WSChannel{id: uuid.NewString(), ws: ws}
}

func (c *WSChannel) ID() string { return c.id }

func (c *WSChannel) send(ctx context.Context, msgType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", msgType, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	} else {
		_ = c.ws.SetWriteDeadline(time.Time{})
	}

	return c.ws.WriteJSON(wsMessage{Type: msgType, Payload: body})
}

func (c *WSChannel) NotifyJoin(ctx context.Context, ip string, port int) (bool, error) {
	err := c.send(ctx, msgNotifyJoin, struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
	}{ip, port})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *WSChannel) QueuePositionChanged(ctx context.Context, position, length int) error {
	return c.send(ctx, msgQueuePositionChanged, struct {
		Position int `json:"position"`
		Length   int `json:"length"`
	}{position, length})
}

func (c *WSChannel) RemovedFromQueue(ctx context.Context, reason DequeueReason) error {
	return c.send(ctx, msgRemovedFromQueue, struct {
		Reason DequeueReason `json:"reason"`
	}{reason})
}

func (c *WSChannel) MatchFound(ctx context.Context, ip string, port int) error {
	return c.send(ctx, msgMatchFound, struct {
		IP   string `json:"ip"`
		Port int    `json:"port"`
	}{ip, port})
}

func (c *WSChannel) MatchmakingFailed(ctx context.Context, reason string) error {
	return c.send(ctx, msgMatchmakingFailed, struct {
		Reason string `json:"reason"`
	}{reason})
}
