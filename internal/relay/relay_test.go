package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/drop/internal/config"
	"github.com/1ureka/drop/internal/protocol"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const readTimeout = 2 * time.Second

func startRelay(t *testing.T, mutate func(*config.RelayConfig)) (*Server, string) {
	t.Helper()

	cfg := config.DefaultRelayConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s := NewServer(cfg)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

type testClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

// dialRaw opens a WebSocket without consuming anything.
func dialRaw(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// dial connects and consumes the welcome message.
func dial(t *testing.T, url string) *testClient {
	t.Helper()
	c := &testClient{t: t, conn: dialRaw(t, url, nil)}
	welcome := c.expect(protocol.MsgTypeWelcome)
	require.NotEmpty(t, welcome.EndpointID)
	c.id = welcome.EndpointID
	return c
}

func (c *testClient) sendRaw(raw string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(raw)))
}

func (c *testClient) send(msg protocol.Message) {
	c.t.Helper()
	data, err := json.Marshal(msg)
	require.NoError(c.t, err)
	c.sendRaw(string(data))
}

func (c *testClient) readRaw() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)
	return string(data)
}

func (c *testClient) read() protocol.Message {
	c.t.Helper()
	var msg protocol.Message
	require.NoError(c.t, json.Unmarshal([]byte(c.readRaw()), &msg))
	return msg
}

func (c *testClient) expect(typ protocol.MessageType) protocol.Message {
	c.t.Helper()
	msg := c.read()
	require.Equal(c.t, typ, msg.Type, "unexpected message: %+v", msg)
	return msg
}

// roundTrip proves nothing else is queued for c: the next message must be pong.
func (c *testClient) roundTrip() {
	c.t.Helper()
	c.send(protocol.Message{Type: protocol.MsgTypePing})
	c.expect(protocol.MsgTypePong)
}

// pair registers a and joins b, returning the session id.
func pair(t *testing.T, a, b *testClient) string {
	t.Helper()
	a.send(protocol.Message{Type: protocol.MsgTypeRegister})
	id := a.expect(protocol.MsgTypeRegistered).ConnectionID
	require.Len(t, id, 10)

	b.send(protocol.Message{Type: protocol.MsgTypeJoin, ConnectionID: id})
	assert.Equal(t, id, b.expect(protocol.MsgTypeJoined).ConnectionID)
	assert.Equal(t, id, a.expect(protocol.MsgTypePeerJoined).ConnectionID)
	return id
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	var ce *websocket.CloseError
	require.True(t, errors.As(err, &ce), "expected close error, got %v", err)
	return ce.Code
}

// ---------------------------------------------------------------------------
// Routing
// ---------------------------------------------------------------------------

func TestRegisterJoinRelaysNegotiation(t *testing.T) {
	_, url := startRelay(t, nil)
	a, b := dial(t, url), dial(t, url)
	assert.NotEqual(t, a.id, b.id)

	id := pair(t, a, b)

	offer := `{"type":"offer","connectionId":"` + id + `","payload":{"type":"offer","sdp":"v=0\r\no=- 1 2 IN IP4 0.0.0.0\r\n"}}`
	a.sendRaw(offer)
	assert.Equal(t, offer, b.readRaw(), "offer must be forwarded byte-for-byte")

	answer := `{"type":"answer","connectionId":"` + id + `","payload":{"type":"answer","sdp":"v=0"}}`
	b.sendRaw(answer)
	assert.Equal(t, answer, a.readRaw())

	candA := `{"type":"candidate","connectionId":"` + id + `","payload":{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}}`
	candB := `{"type":"candidate","connectionId":"` + id + `","payload":{"candidate":"candidate:2 1 udp 1 10.0.0.2 5001 typ host"}}`
	a.sendRaw(candA)
	b.sendRaw(candB)
	assert.Equal(t, candA, b.readRaw())
	assert.Equal(t, candB, a.readRaw())

	// Neither side got its own messages back.
	a.roundTrip()
	b.roundTrip()
}

func TestJoinBeforeRegister(t *testing.T) {
	_, url := startRelay(t, nil)
	a, b := dial(t, url), dial(t, url)

	b.send(protocol.Message{Type: protocol.MsgTypeJoin, ConnectionID: "late000001"})
	b.expect(protocol.MsgTypeJoined)

	// Nobody to deliver to yet; not an error.
	b.send(protocol.Message{Type: protocol.MsgTypeCandidate, ConnectionID: "late000001", Payload: json.RawMessage(`{}`)})
	b.roundTrip()

	a.send(protocol.Message{Type: protocol.MsgTypeRegister, ConnectionID: "late000001"})
	assert.Equal(t, "late000001", a.expect(protocol.MsgTypeRegistered).ConnectionID)
	a.expect(protocol.MsgTypePeerJoined)

	a.send(protocol.Message{Type: protocol.MsgTypeOffer, ConnectionID: "late000001", Payload: json.RawMessage(`{"sdp":"x"}`)})
	assert.Equal(t, protocol.MsgTypeOffer, b.read().Type)
}

func TestThirdEndpointIsRejected(t *testing.T) {
	s, url := startRelay(t, nil)
	a, b, c := dial(t, url), dial(t, url), dial(t, url)
	id := pair(t, a, b)

	c.send(protocol.Message{Type: protocol.MsgTypeJoin, ConnectionID: id})
	assert.Contains(t, c.expect(protocol.MsgTypeError).Message, "session is full")

	c.send(protocol.Message{Type: protocol.MsgTypeRegister, ConnectionID: id})
	assert.Contains(t, c.expect(protocol.MsgTypeError).Message, "already in use")

	assert.Len(t, s.sessions.Members(id), 2)

	// Existing members are untouched.
	a.send(protocol.Message{Type: protocol.MsgTypeOffer, ConnectionID: id, Payload: json.RawMessage(`{}`)})
	b.expect(protocol.MsgTypeOffer)
	c.roundTrip()
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestMissingConnectionID(t *testing.T) {
	_, url := startRelay(t, nil)
	c := dial(t, url)

	for _, typ := range []protocol.MessageType{
		protocol.MsgTypeJoin,
		protocol.MsgTypeOffer,
		protocol.MsgTypeAnswer,
		protocol.MsgTypeCandidate,
	} {
		c.send(protocol.Message{Type: typ})
		msg := c.expect(protocol.MsgTypeError)
		assert.Equal(t, ErrMissingSessionID.Error(), msg.Message, "type %s", typ)
	}

	// Errors never close the connection.
	c.roundTrip()
}

func TestMalformedMessages(t *testing.T) {
	_, url := startRelay(t, nil)
	c := dial(t, url)

	for _, raw := range []string{"not json", `{"connectionId":"x"}`, `{"type":"shout"}`} {
		c.sendRaw(raw)
		msg := c.expect(protocol.MsgTypeError)
		assert.Contains(t, msg.Message, protocol.ErrMetadataParse.Error(), "input %q", raw)
	}

	require.NoError(t, c.conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	c.expect(protocol.MsgTypeError)

	c.roundTrip()
}

func TestMessageRateLimit(t *testing.T) {
	_, url := startRelay(t, func(cfg *config.RelayConfig) {
		cfg.MessageRate = 0.01
		cfg.MessageBurst = 2
	})
	c := dial(t, url)

	c.roundTrip()
	c.roundTrip()

	c.send(protocol.Message{Type: protocol.MsgTypePing})
	assert.Equal(t, ErrRateLimitExceeded.Error(), c.expect(protocol.MsgTypeError).Message)
}

// ---------------------------------------------------------------------------
// Disconnects
// ---------------------------------------------------------------------------

func TestPeerDisconnectedNotification(t *testing.T) {
	s, url := startRelay(t, nil)
	a, b := dial(t, url), dial(t, url)
	id := pair(t, a, b)

	require.NoError(t, b.conn.Close())

	msg := a.expect(protocol.MsgTypePeerDisconnected)
	assert.Equal(t, id, msg.ConnectionID)

	// Exactly one notification.
	a.roundTrip()

	members := s.sessions.Members(id)
	require.Len(t, members, 1)
	assert.Equal(t, a.id, members[0].Endpoint.ID())

	require.NoError(t, a.conn.Close())
	require.Eventually(t, func() bool { return s.sessions.Len() == 0 }, readTimeout, 10*time.Millisecond)
}

func TestMovingToAnotherSessionNotifiesOldPeer(t *testing.T) {
	s, url := startRelay(t, nil)
	a, b := dial(t, url), dial(t, url)
	id := pair(t, a, b)

	// b abandons the session by joining a different one.
	b.send(protocol.Message{Type: protocol.MsgTypeJoin, ConnectionID: "elsewhere1"})
	assert.Equal(t, "elsewhere1", b.expect(protocol.MsgTypeJoined).ConnectionID)

	msg := a.expect(protocol.MsgTypePeerDisconnected)
	assert.Equal(t, id, msg.ConnectionID)
	a.roundTrip()
	b.roundTrip()

	members := s.sessions.Members(id)
	require.Len(t, members, 1)
	assert.Equal(t, a.id, members[0].Endpoint.ID())
}

// ---------------------------------------------------------------------------
// Admission
// ---------------------------------------------------------------------------

func TestAdmissionControl(t *testing.T) {
	s, url := startRelay(t, func(cfg *config.RelayConfig) {
		cfg.MaxConnectionsPerIP = 2
	})

	first := dial(t, url)
	second := dial(t, url)

	third := dialRaw(t, url, nil)
	assert.Equal(t, CloseRateLimited, closeCode(t, third))

	first.roundTrip()
	second.roundTrip()

	require.NoError(t, first.conn.Close())
	require.Eventually(t, func() bool { return s.admission.count("127.0.0.1") == 1 }, readTimeout, 10*time.Millisecond)

	dial(t, url).roundTrip()
}

func TestAdmissionCounterFloorsAtZero(t *testing.T) {
	a := newAdmission(1)
	a.release("10.0.0.1")
	assert.Equal(t, 0, a.count("10.0.0.1"))

	assert.True(t, a.acquire("10.0.0.1"))
	assert.False(t, a.acquire("10.0.0.1"))
	assert.True(t, a.acquire("10.0.0.2"))

	a.release("10.0.0.1")
	a.release("10.0.0.1")
	assert.Equal(t, 0, a.count("10.0.0.1"))
	assert.True(t, a.acquire("10.0.0.1"))
}

func TestOriginPolicy(t *testing.T) {
	_, url := startRelay(t, func(cfg *config.RelayConfig) {
		cfg.DevMode = false
		cfg.AllowedOrigins = []string{"https://drop.example"}
	})

	bad := dialRaw(t, url, http.Header{"Origin": {"https://evil.example"}})
	assert.Equal(t, CloseUnauthorizedOrigin, closeCode(t, bad))

	none := dialRaw(t, url, nil)
	assert.Equal(t, CloseUnauthorizedOrigin, closeCode(t, none))

	good := &testClient{t: t, conn: dialRaw(t, url, http.Header{"Origin": {"https://drop.example/app"}})}
	good.expect(protocol.MsgTypeWelcome)
	good.roundTrip()
}

func TestOriginPolicyPermissive(t *testing.T) {
	p := originPolicy{permissive: true}
	assert.True(t, p.allows(""))
	assert.True(t, p.allows("https://anything"))

	p = originPolicy{allowed: []string{"http://localhost", "https://drop.example"}}
	assert.True(t, p.allows("http://localhost:3000"))
	assert.False(t, p.allows("https://evil.example"))
	assert.False(t, p.allows(""))
}

// ---------------------------------------------------------------------------
// Liveness
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := NewServer(config.DefaultRelayConfig())
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	a, b := dial(t, url), dial(t, url)
	pair(t, a, b)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var h Health
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&h))
	assert.Equal(t, "ok", h.Status)
	assert.EqualValues(t, 2, h.Connections)
	assert.Equal(t, 1, h.Sessions)
	assert.GreaterOrEqual(t, h.UptimeSeconds, int64(0))
}
