// Package realtime implements ephemeral multi-user chat rooms over WebSocket.
// Membership lives only in memory; when a bridge is configured, room traffic is
// also fanned out to other instances over redis pub/sub.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"yasmin/internal/resolver"
)

// FanoutChannel carries room broadcasts between instances.
const FanoutChannel = "realtime:rooms"

// Bridge publishes and receives raw frames across instances. *redis.Client satisfies it.
type Bridge interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string, handler func([]byte)) error
}

// Responder answers a single bot mention without history.
type Responder interface {
	Reply(ctx context.Context, message string) resolver.Result
}

// Scheduler runs bot work off the connection goroutine, keyed by room.
type Scheduler interface {
	Submit(key string, job func(ctx context.Context)) error
}

type fanout struct {
	Origin  string          `json:"origin"`
	Room    string          `json:"room"`
	Exclude string          `json:"exclude,omitempty"`
	Payload json.RawMessage `json:"payload"`
}

type Hub struct {
	id     string
	bridge Bridge
	bot    Responder
	jobs   Scheduler
	log    *zap.Logger

	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	clients map[*Client]struct{}
	closed  bool
}

// NewHub builds a hub. bridge, bot and jobs may be nil; without bot or jobs
// mentions are broadcast as plain messages.
func NewHub(bridge Bridge, bot Responder, jobs Scheduler, log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		id:      uuid.NewString(),
		bridge:  bridge,
		bot:     bot,
		jobs:    jobs,
		log:     log,
		rooms:   make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]struct{}),
	}
}

// Start subscribes to the fan-out channel until ctx is done. It is a no-op without a bridge.
func (h *Hub) Start(ctx context.Context) error {
	if h.bridge == nil {
		return nil
	}
	if err := h.bridge.Subscribe(ctx, FanoutChannel, h.receive); err != nil {
		return fmt.Errorf("subscribe %s: %w", FanoutChannel, err)
	}
	return nil
}

// Close disconnects every client. Their read pumps then unregister them.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		_ = c.conn.Close()
	}
}

func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

// unregister drops c from the hub and closes its send channel.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	h.removeLocked(c)
	close(c.send)
}

func (h *Hub) join(c *Client, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.room = room
}

func (h *Hub) leave(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if c.room == "" {
		return
	}
	if members := h.rooms[c.room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, c.room)
		}
	}
	c.room = ""
}

// Members returns the number of local connections in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// broadcast delivers an event to every local member of room except the client
// with id exclude, then publishes it for other instances.
func (h *Hub) broadcast(room, event string, data any, exclude string) {
	payload, err := encode(event, data)
	if err != nil {
		h.log.Error("encode room event", zap.String("event", event), zap.Error(err))
		return
	}
	h.deliver(room, payload, exclude)

	if h.bridge == nil {
		return
	}
	msg, err := json.Marshal(fanout{Origin: h.id, Room: room, Exclude: exclude, Payload: payload})
	if err != nil {
		h.log.Error("encode fanout", zap.Error(err))
		return
	}
	if err := h.bridge.Publish(context.Background(), FanoutChannel, msg); err != nil {
		h.log.Warn("publish room event", zap.String("room", room), zap.Error(err))
	}
}

func (h *Hub) deliver(room string, payload []byte, exclude string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		if c.id == exclude {
			continue
		}
		select {
		case c.send <- payload:
		default:
			// Slow consumer; its read pump unregisters it once the conn is closed.
			h.log.Warn("client send buffer full, dropping", zap.String("client_id", c.id), zap.String("room", room))
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) receive(raw []byte) {
	var msg fanout
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.log.Warn("decode fanout", zap.Error(err))
		return
	}
	if msg.Origin == h.id || msg.Room == "" {
		return
	}
	h.deliver(msg.Room, msg.Payload, msg.Exclude)
}
