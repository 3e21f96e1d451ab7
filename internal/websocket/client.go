package websocket

import (
	"context"
	"sync"
	"time"

	wstypes "membership-service/internal/domain/websocket"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 64 * 1024
	outboxSize     = 256
)

// ClientAuth is the identity a connection was opened with.
type ClientAuth struct {
	UserID   int64
	Username string
	TokenID  string
	Roles    []string
}

// channelSet is the set of channels a connection listens on.
type channelSet struct {
	mu  sync.RWMutex
	set map[wstypes.ChannelType]struct{}
}

func newChannelSet(initial ...wstypes.ChannelType) *channelSet {
	s := &channelSet{set: make(map[wstypes.ChannelType]struct{}, len(initial))}
	for _, ch := range initial {
		s.set[ch] = struct{}{}
	}
	return s
}

func (s *channelSet) add(ch wstypes.ChannelType) {
	s.mu.Lock()
	s.set[ch] = struct{}{}
	s.mu.Unlock()
}

func (s *channelSet) remove(ch wstypes.ChannelType) {
	s.mu.Lock()
	delete(s.set, ch)
	s.mu.Unlock()
}

func (s *channelSet) has(ch wstypes.ChannelType) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.set[ch]
	return ok
}

func knownChannel(ch wstypes.ChannelType) bool {
	return ch == wstypes.ChannelMembership || ch == wstypes.ChannelSystem
}

// Client is one member connection. New connections listen on every channel.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	outbox chan []byte

	userID   int64
	username string
	tokenID  string
	roles    []string
	channels *channelSet

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	dropOnce  sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, auth *ClientAuth) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:      hub,
		conn:     conn,
		outbox:   make(chan []byte, outboxSize),
		userID:   auth.UserID,
		username: auth.Username,
		tokenID:  auth.TokenID,
		roles:    auth.Roles,
		channels: newChannelSet(wstypes.ChannelMembership, wstypes.ChannelSystem),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Client) UserID() int64 { return c.userID }

func (c *Client) IsSubscribed(ch wstypes.ChannelType) bool { return c.channels.has(ch) }

// ReadPump decodes client commands until the connection fails, then hands the
// client back to the hub.
func (c *Client) ReadPump() {
	defer func() {
		c.drop()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.extendReadDeadline()
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", zap.Int64("user_id", c.userID), zap.Error(err))
			}
			return
		}
		c.dispatch(frame)
	}
}

func (c *Client) extendReadDeadline() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
}

// WritePump drains the outbox and keeps the connection alive with pings.
func (c *Client) WritePump() {
	keepalive := time.NewTicker(pingPeriod)
	defer func() {
		keepalive.Stop()
		c.conn.Close()
	}()

	for {
		var err error
		select {
		case <-c.ctx.Done():
			_ = c.write(websocket.CloseMessage, nil)
			return
		case frame := <-c.outbox:
			err = c.write(websocket.TextMessage, frame)
		case <-keepalive.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) write(kind int, payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, payload)
}

type command func(c *Client, msg *wstypes.WSMessage)

var builtinCommands = map[wstypes.EventType]command{
	wstypes.EventTypePing:        (*Client).pong,
	wstypes.EventTypeSubscribe:   (*Client).subscribe,
	wstypes.EventTypeUnsubscribe: (*Client).unsubscribe,
}

// dispatch routes one frame. Hub handlers win over the built-in commands.
func (c *Client) dispatch(frame []byte) {
	msg, err := wstypes.ParseMessage(frame)
	if err != nil {
		c.SendError("invalid_message", "Failed to parse message", err.Error())
		return
	}

	handled, err := c.hub.HandleClientMessage(c.ctx, c, msg)
	switch {
	case err != nil:
		c.SendError("handler_error", "Failed to process message", err.Error())
	case handled:
	default:
		if run, ok := builtinCommands[msg.Type]; ok {
			run(c, msg)
			return
		}
		c.SendError("unknown_event", "Unsupported event type", string(msg.Type))
	}
}

func (c *Client) pong(*wstypes.WSMessage) {
	c.SendMessage(wstypes.NewMessage(wstypes.EventTypePong, nil))
}

func (c *Client) subscribe(msg *wstypes.WSMessage) {
	var req wstypes.SubscribeRequest
	if err := decodePayload(msg.Data, &req); err != nil {
		c.SendError("invalid_subscribe", "Invalid subscribe request", err.Error())
		return
	}

	accepted := make([]wstypes.ChannelType, 0, len(req.Channels))
	for _, ch := range req.Channels {
		if knownChannel(ch) {
			c.channels.add(ch)
			accepted = append(accepted, ch)
		}
	}
	c.SendMessage(wstypes.NewMessage(wstypes.EventTypeSubscribe, map[string]interface{}{
		"channels": accepted,
		"status":   "subscribed",
	}))
}

func (c *Client) unsubscribe(msg *wstypes.WSMessage) {
	var req wstypes.UnsubscribeRequest
	if err := decodePayload(msg.Data, &req); err != nil {
		c.SendError("invalid_unsubscribe", "Invalid unsubscribe request", err.Error())
		return
	}

	for _, ch := range req.Channels {
		c.channels.remove(ch)
	}
	c.SendMessage(wstypes.NewMessage(wstypes.EventTypeUnsubscribe, map[string]interface{}{
		"channels": req.Channels,
		"status":   "unsubscribed",
	}))
}

// SendMessage queues msg for the write pump. A client that cannot keep up is
// dropped rather than blocking the hub.
func (c *Client) SendMessage(msg *wstypes.WSMessage) {
	frame, err := msg.ToJSON()
	if err != nil {
		c.hub.logger.Error("failed to marshal websocket message", zap.Error(err))
		return
	}

	select {
	case <-c.ctx.Done():
	case c.outbox <- frame:
	default:
		c.hub.logger.Warn("websocket outbox full, dropping client", zap.Int64("user_id", c.userID))
		go c.drop()
	}
}

func (c *Client) SendError(code, message, details string) {
	c.SendMessage(wstypes.NewMessage(wstypes.EventTypeError, wstypes.ErrorData{
		Code:    code,
		Message: message,
		Details: details,
	}))
}

func (c *Client) drop() {
	c.dropOnce.Do(func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
	})
}

// Close stops both pumps; repeated calls are no-ops.
func (c *Client) Close() {
	c.closeOnce.Do(c.cancel)
}
