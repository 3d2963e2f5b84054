package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/chatbubble/pkg/backend/threadstore"
	"github.com/go-go-golems/chatbubble/pkg/bubble/codec"
	"github.com/go-go-golems/chatbubble/pkg/bubble/delivery"
)

func newTestServer(t *testing.T, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	srv, err := NewServer(opts...)
	require.NoError(t, err)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		_ = srv.Close()
	})
	return srv, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	return resp
}

func TestAskEndpoint(t *testing.T) {
	srv, ts := newTestServer(t, WithResponder(EchoResponder{Prefix: "echo: "}))

	resp := postJSON(t, ts.URL+"/chat/ask/", map[string]string{
		"thread_id":       "t1",
		"collection_name": "",
		"message":         "hi",
	})
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Response string `json:"response"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "echo: hi", out.Response)

	msgs, err := srv.store.List(context.Background(), "t1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, threadstore.ChannelHTTP, msgs[0].Channel)
}

func TestAskEndpointRejectsBadInput(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/chat/ask/", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/chat/ask/", map[string]string{"thread_id": "t", "message": "  "})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAskEndpointResponderFailure(t *testing.T) {
	_, ts := newTestServer(t, WithResponder(ResponderFunc(func(context.Context, Request) (string, error) {
		return "", errors.New("model offline")
	})))
	resp := postJSON(t, ts.URL+"/chat/ask/", map[string]string{"thread_id": "t", "message": "x"})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestWebSocketRequiresSession(t *testing.T) {
	_, ts := newTestServer(t)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketFrames(t *testing.T) {
	_, ts := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?session_id=s1&collection_name=docs", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, codec.Encode("hello", codec.Session{ID: "s1"})))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, codec.KindResponse, f.Type)
	require.Equal(t, "[docs] hello", f.Content)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("garbage")))
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, codec.KindError, f.Type)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ping"}`)))
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, codec.KindError, f.Type)
}

func TestNotifyReachesAttachedSockets(t *testing.T) {
	srv, ts := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?session_id=s1", nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.Eventually(t, func() bool { return srv.Hub().SocketCount("s1") == 1 }, 2*time.Second, 10*time.Millisecond)

	resp := postJSON(t, ts.URL+"/notify/s1", map[string]string{"content": "heads up"})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	require.Equal(t, codec.KindNotification, f.Type)
	require.Equal(t, "heads up", f.Content)

	resp = postJSON(t, ts.URL+"/notify/s1", map[string]string{"content": ""})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIdleSessionIsEvicted(t *testing.T) {
	srv, ts := newTestServer(t, WithIdleTimeout(20*time.Millisecond))
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts)+"?session_id=s1", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Hub().SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	_ = conn.Close()
	require.Eventually(t, func() bool { return srv.Hub().SessionCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestThreadEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp := postJSON(t, ts.URL+"/chat/ask/", map[string]string{"thread_id": "t9", "message": "q"})
	_ = resp.Body.Close()

	resp, err := http.Get(ts.URL + "/threads/t9")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	var out []threadMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 2)
	require.Equal(t, "user", out[0].Role)
	require.Equal(t, "assistant", out[1].Role)
}

// The delivery manager against the reference backend, over both transports.
func TestDeliveryManagerEndToEnd(t *testing.T) {
	srv, ts := newTestServer(t)

	m, err := delivery.New(delivery.Config{
		SocketURL:          wsURL(ts),
		UseSocketTransport: true,
		HTTPBaseURL:        ts.URL,
		SessionID:          "e2e",
		CollectionName:     "docs",
	}, delivery.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	defer m.Teardown()

	// Before the socket opens the message goes over HTTP.
	route, err := m.SendUserMessage(context.Background(), "over http")
	require.NoError(t, err)
	require.Equal(t, delivery.RouteHTTP, route)

	require.NoError(t, m.Start())
	require.Eventually(t, func() bool { return m.State() == delivery.Connected }, 2*time.Second, 10*time.Millisecond)

	route, err = m.SendUserMessage(context.Background(), "over socket")
	require.NoError(t, err)
	require.Equal(t, delivery.RouteSocket, route)
	require.Eventually(t, func() bool { return !m.AwaitingReply() }, 2*time.Second, 10*time.Millisecond)

	resp := postJSON(t, ts.URL+"/notify/e2e", map[string]string{"content": "pushed"})
	_ = resp.Body.Close()
	require.Eventually(t, func() bool { return len(m.Turns()) == 5 }, 2*time.Second, 10*time.Millisecond)

	got := m.Turns()
	require.Equal(t, "[docs] over http", got[1].Content)
	require.Equal(t, "[docs] over socket", got[3].Content)
	require.Equal(t, delivery.TurnNotification, got[4].Kind)
	require.Equal(t, "pushed", got[4].Content)

	msgs, err := srv.store.List(context.Background(), "e2e", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	require.Equal(t, threadstore.ChannelSocket, msgs[2].Channel)
}
