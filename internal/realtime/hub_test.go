package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yasmin/internal/config"
	"yasmin/internal/resolver"
	"yasmin/internal/worker"
)

func newTestServer(t *testing.T, h *Hub) string {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/room"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	expect(t, conn, EventServerStatus)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Data: raw}))
}

func expect(t *testing.T, conn *websocket.Conn, event string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, event, env.Event, string(env.Data))
	return env.Data
}

// expectSilence leaves conn unusable for further reads.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	var env Envelope
	err := conn.ReadJSON(&env)
	var ne net.Error
	require.Error(t, err, "unexpected frame %s", env.Event)
	assert.True(t, errors.As(err, &ne) && ne.Timeout(), "expected read timeout, got %v", err)
}

func join(t *testing.T, conn *websocket.Conn, username, room string) JoinResponse {
	t.Helper()
	send(t, conn, EventJoin, joinData{Username: username, Room: room})
	var resp JoinResponse
	require.NoError(t, json.Unmarshal(expect(t, conn, EventJoinResponse), &resp))
	return resp
}

func decodeMessage(t *testing.T, raw json.RawMessage) ChatMessage {
	t.Helper()
	var m ChatMessage
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func decodeStatus(t *testing.T, raw json.RawMessage) Status {
	t.Helper()
	var s Status
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func TestRoomMessageReachesOthersButNotSender(t *testing.T) {
	url := newTestServer(t, NewHub(nil, nil, nil, nil))

	sara := dial(t, url)
	resp := join(t, sara, "Sara", "r1")
	assert.True(t, resp.Success)
	assert.Equal(t, "r1", resp.Room)
	assert.Equal(t, "Sara انضم إلى الغرفة.", decodeStatus(t, expect(t, sara, EventStatus)).Msg)

	omar := dial(t, url)
	require.True(t, join(t, omar, "Omar", "r1").Success)
	expect(t, omar, EventStatus)
	assert.Equal(t, "Omar انضم إلى الغرفة.", decodeStatus(t, expect(t, sara, EventStatus)).Msg)

	outsider := dial(t, url)
	require.True(t, join(t, outsider, "Lina", "r2").Success)
	expect(t, outsider, EventStatus)

	send(t, sara, EventMessage, messageData{Message: "hello"})

	msg := decodeMessage(t, expect(t, omar, EventMessage))
	assert.Equal(t, "Sara", msg.Username)
	assert.Equal(t, "hello", msg.Message)
	assert.NotEmpty(t, msg.Timestamp)

	expectSilence(t, sara)
	expectSilence(t, outsider)
}

func TestJoinDefaultsAndValidation(t *testing.T) {
	url := newTestServer(t, NewHub(nil, nil, nil, nil))
	conn := dial(t, url)

	resp := join(t, conn, "   ", "r1")
	assert.False(t, resp.Success)
	assert.Equal(t, msgBadUsername, resp.Msg)

	resp = join(t, conn, strings.Repeat("س", maxUsernameRunes+1), "r1")
	assert.False(t, resp.Success)

	resp = join(t, conn, " <b>Sara</b> ", "")
	assert.True(t, resp.Success)
	assert.Equal(t, DefaultRoom, resp.Room)
	assert.Equal(t, "&lt;b&gt;Sara&lt;/b&gt;", resp.Username)
}

func TestMessageValidation(t *testing.T) {
	url := newTestServer(t, NewHub(nil, nil, nil, nil))
	conn := dial(t, url)

	send(t, conn, EventMessage, messageData{Message: "hello"})
	var e MessageError
	require.NoError(t, json.Unmarshal(expect(t, conn, EventMessageError), &e))
	assert.Equal(t, msgEmptyMessage, e.Msg)

	join(t, conn, "Sara", "r1")
	expect(t, conn, EventStatus)
	send(t, conn, EventMessage, messageData{Message: "   "})
	expect(t, conn, EventMessageError)
}

func TestMessageIsEscaped(t *testing.T) {
	url := newTestServer(t, NewHub(nil, nil, nil, nil))
	a, b := dial(t, url), dial(t, url)
	join(t, a, "Sara", "r1")
	expect(t, a, EventStatus)
	join(t, b, "Omar", "r1")
	expect(t, b, EventStatus)
	expect(t, a, EventStatus)

	send(t, a, EventMessage, messageData{Message: `<script>alert("x")</script>`})
	msg := decodeMessage(t, expect(t, b, EventMessage))
	assert.Equal(t, "&lt;script&gt;alert(&#34;x&#34;)&lt;/script&gt;", msg.Message)
}

func TestLeaveAndDisconnectNotifyRoom(t *testing.T) {
	h := NewHub(nil, nil, nil, nil)
	url := newTestServer(t, h)
	a, b := dial(t, url), dial(t, url)
	join(t, a, "Sara", "r1")
	expect(t, a, EventStatus)
	join(t, b, "Omar", "r1")
	expect(t, b, EventStatus)
	expect(t, a, EventStatus)

	send(t, b, EventLeave, joinData{Username: "spoofed", Room: "r1"})
	assert.Equal(t, "Omar غادر الغرفة.", decodeStatus(t, expect(t, a, EventStatus)).Msg)
	assert.Eventually(t, func() bool { return h.Members("r1") == 1 }, time.Second, 10*time.Millisecond)

	join(t, b, "Omar", "r1")
	expect(t, b, EventStatus)
	expect(t, a, EventStatus)

	require.NoError(t, a.Close())
	assert.Equal(t, "Sara غادر الغرفة (انقطاع الاتصال).", decodeStatus(t, expect(t, b, EventStatus)).Msg)
	assert.Eventually(t, func() bool { return h.Members("r1") == 1 }, time.Second, 10*time.Millisecond)
}

func TestSwitchingRoomsLeavesPrevious(t *testing.T) {
	h := NewHub(nil, nil, nil, nil)
	url := newTestServer(t, h)
	a, b := dial(t, url), dial(t, url)
	join(t, a, "Sara", "r1")
	expect(t, a, EventStatus)
	join(t, b, "Omar", "r1")
	expect(t, b, EventStatus)
	expect(t, a, EventStatus)

	join(t, a, "Sara", "r2")
	assert.Equal(t, "Sara غادر الغرفة.", decodeStatus(t, expect(t, b, EventStatus)).Msg)
	expect(t, a, EventStatus)
	assert.Equal(t, 1, h.Members("r1"))
	assert.Equal(t, 1, h.Members("r2"))
}

type stubResponder struct {
	mu      sync.Mutex
	prompts []string
	text    string
}

func (s *stubResponder) Reply(_ context.Context, message string) resolver.Result {
	s.mu.Lock()
	s.prompts = append(s.prompts, message)
	s.mu.Unlock()
	return resolver.Result{Outcome: resolver.Delivered, Text: s.text}
}

func TestBotMentionRepliesToWholeRoom(t *testing.T) {
	bot := &stubResponder{text: "أهلاً <3"}
	jobs := worker.NewDispatcher(config.BotConfig{MinWorkers: 1, MaxWorkers: 2, QueueSize: 8}, nil)
	t.Cleanup(jobs.Close)
	url := newTestServer(t, NewHub(nil, bot, jobs, nil))

	a, b := dial(t, url), dial(t, url)
	join(t, a, "Sara", "r1")
	expect(t, a, EventStatus)
	join(t, b, "Omar", "r1")
	expect(t, b, EventStatus)
	expect(t, a, EventStatus)

	send(t, a, EventMessage, messageData{Message: "@ياسمين ما هو الطقس؟"})

	assert.Equal(t, "Sara", decodeMessage(t, expect(t, b, EventMessage)).Username)
	for _, conn := range []*websocket.Conn{a, b} {
		msg := decodeMessage(t, expect(t, conn, EventMessage))
		assert.Equal(t, BotName, msg.Username)
		assert.Equal(t, "أهلاً &lt;3", msg.Message)
	}
	bot.mu.Lock()
	assert.Equal(t, []string{"ما هو الطقس؟"}, bot.prompts)
	bot.mu.Unlock()
}

type busyScheduler struct{}

func (busyScheduler) Submit(string, func(context.Context)) error { return worker.ErrDispatcherBusy }

func TestBotBusyReportsError(t *testing.T) {
	url := newTestServer(t, NewHub(nil, &stubResponder{}, busyScheduler{}, nil))
	a := dial(t, url)
	join(t, a, "Sara", "r1")
	expect(t, a, EventStatus)

	send(t, a, EventMessage, messageData{Message: "@ياسمين مرحبا"})
	var e MessageError
	require.NoError(t, json.Unmarshal(expect(t, a, EventMessageError), &e))
	assert.Equal(t, msgSendFailed, e.Msg)
}

// memBridge links hubs in-process the way redis pub/sub links instances.
type memBridge struct {
	mu       sync.Mutex
	handlers []func([]byte)
}

func (m *memBridge) Publish(_ context.Context, _ string, payload []byte) error {
	m.mu.Lock()
	handlers := append([]func([]byte){}, m.handlers...)
	m.mu.Unlock()
	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (m *memBridge) Subscribe(_ context.Context, _ string, handler func([]byte)) error {
	m.mu.Lock()
	m.handlers = append(m.handlers, handler)
	m.mu.Unlock()
	return nil
}

func TestBroadcastCrossesInstances(t *testing.T) {
	bridge := &memBridge{}
	h1, h2 := NewHub(bridge, nil, nil, nil), NewHub(bridge, nil, nil, nil)
	require.NoError(t, h1.Start(context.Background()))
	require.NoError(t, h2.Start(context.Background()))
	url1, url2 := newTestServer(t, h1), newTestServer(t, h2)

	sara := dial(t, url1)
	join(t, sara, "Sara", "r1")
	expect(t, sara, EventStatus)

	omar := dial(t, url2)
	join(t, omar, "Omar", "r1")
	expect(t, omar, EventStatus)
	assert.Equal(t, "Omar انضم إلى الغرفة.", decodeStatus(t, expect(t, sara, EventStatus)).Msg)

	send(t, sara, EventMessage, messageData{Message: "hello"})
	assert.Equal(t, "Sara", decodeMessage(t, expect(t, omar, EventMessage)).Username)
	expectSilence(t, sara)
}

func TestReceiveIgnoresOwnOriginAndGarbage(t *testing.T) {
	h := NewHub(nil, nil, nil, nil)
	c := &Client{id: "c1", hub: h, send: make(chan []byte, 4)}
	h.register(c)
	h.join(c, "r1")

	payload, err := encode(EventStatus, Status{Msg: "x"})
	require.NoError(t, err)
	own, _ := json.Marshal(fanout{Origin: h.id, Room: "r1", Payload: payload})
	h.receive(own)
	h.receive([]byte("not json"))
	assert.Len(t, c.send, 0)

	other, _ := json.Marshal(fanout{Origin: "other", Room: "r1", Payload: payload})
	h.receive(other)
	assert.Len(t, c.send, 1)

	excluded, _ := json.Marshal(fanout{Origin: "other", Room: "r1", Exclude: "c1", Payload: payload})
	h.receive(excluded)
	assert.Len(t, c.send, 1)
}
