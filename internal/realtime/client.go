package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

// Client is one websocket connection. username and room are only touched by
// the read pump goroutine (room also under the hub lock).
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	log  *zap.Logger

	username string
	room     string
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		id:   id,
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		log:  h.log.With(zap.String("client_id", id)),
	}
}

// serve runs the pumps; it returns when the connection is gone.
func (c *Client) serve() {
	if !c.hub.register(c) {
		_ = c.conn.Close()
		return
	}
	go c.writePump()
	c.emit(EventServerStatus, ServerStatus{Status: "connected", Msg: msgConnected, ClientID: c.id, Timestamp: timestamp()})
	c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		room, username := c.room, c.username
		c.hub.unregister(c)
		_ = c.conn.Close()
		if room != "" {
			c.hub.broadcast(room, EventStatus, Status{Msg: fmt.Sprintf(statusDisconnectFmt, username), Timestamp: timestamp()}, c.id)
		}
		c.log.Debug("client disconnected", zap.String("room", room))
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			c.log.Debug("undecodable frame", zap.Error(err))
			c.emit(EventMessageError, MessageError{Msg: msgBadData})
			continue
		}
		c.handle(env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// emit queues an event for this client only. Called from the read pump.
func (c *Client) emit(event string, data any) {
	payload, err := encode(event, data)
	if err != nil {
		c.log.Error("encode event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case c.send <- payload:
	default:
		c.log.Warn("client send buffer full, dropping", zap.String("event", event))
		_ = c.conn.Close()
	}
}

func (c *Client) handle(env Envelope) {
	switch env.Event {
	case EventJoin:
		c.onJoin(env.Data)
	case EventLeave:
		c.onLeave()
	case EventMessage:
		c.onMessage(env.Data)
	default:
		c.log.Debug("unknown event", zap.String("event", env.Event))
	}
}

func (c *Client) onJoin(raw json.RawMessage) {
	var data joinData
	if len(raw) == 0 || json.Unmarshal(raw, &data) != nil {
		c.emit(EventJoinResponse, JoinResponse{Msg: msgBadData})
		return
	}
	username, err := cleanUsername(data.Username)
	if err != nil {
		c.emit(EventJoinResponse, JoinResponse{Msg: msgBadUsername})
		return
	}
	room := strings.TrimSpace(data.Room)
	if room == "" {
		room = DefaultRoom
	}

	if c.room != "" && c.room != room {
		c.onLeave()
	}
	c.username = username
	c.hub.join(c, room)
	c.log.Info("client joined room", zap.String("room", room), zap.String("username", username))

	c.emit(EventJoinResponse, JoinResponse{Success: true, Username: username, Room: room, Msg: msgJoined})
	c.hub.broadcast(room, EventStatus, Status{Msg: fmt.Sprintf(statusJoinedFmt, username), Timestamp: timestamp()}, "")
}

// onLeave uses the joined identity; names sent with the event are ignored.
func (c *Client) onLeave() {
	room := c.room
	if room == "" {
		return
	}
	c.hub.leave(c)
	c.hub.broadcast(room, EventStatus, Status{Msg: fmt.Sprintf(statusLeftFmt, c.username), Timestamp: timestamp()}, c.id)
}

func (c *Client) onMessage(raw json.RawMessage) {
	var data messageData
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &data)
	}
	if c.room == "" || strings.TrimSpace(data.Message) == "" {
		c.emit(EventMessageError, MessageError{Msg: msgEmptyMessage})
		return
	}
	room := c.room
	c.hub.broadcast(room, EventMessage, ChatMessage{
		Username:  c.username,
		Message:   html.EscapeString(data.Message),
		Timestamp: timestamp(),
	}, c.id)

	prompt, ok := strings.CutPrefix(strings.TrimSpace(data.Message), BotMention)
	if !ok || c.hub.bot == nil || c.hub.jobs == nil {
		return
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return
	}
	if err := c.hub.ask(room, prompt); err != nil {
		c.log.Warn("bot request rejected", zap.String("room", room), zap.Error(err))
		c.emit(EventMessageError, MessageError{Msg: msgSendFailed})
	}
}

// ask schedules a bot reply; the answer goes to the whole room, sender included.
func (h *Hub) ask(room, prompt string) error {
	return h.jobs.Submit(room, func(ctx context.Context) {
		res := h.bot.Reply(ctx, prompt)
		if res.Err != nil {
			h.log.Warn("room bot degraded", zap.String("room", room), zap.String("outcome", string(res.Outcome)), zap.Error(res.Err))
		}
		h.broadcast(room, EventMessage, ChatMessage{
			Username:  BotName,
			Message:   html.EscapeString(res.Text),
			Timestamp: timestamp(),
		}, "")
	})
}

var errBadUsername = errors.New("invalid username")

func cleanUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" || utf8.RuneCountInString(name) > maxUsernameRunes {
		return "", errBadUsername
	}
	return html.EscapeString(name), nil
}
