package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsherman999/roomrelay/internal/message"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSend_PostsMessage(t *testing.T) {
	var got message.Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/send", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"status":"queued"}`))
	}))
	defer srv.Close()

	out, err := run(t, "--server", srv.URL, "send",
		"--room", "room_1", "--id", "T", "--type", message.RoleTeacher,
		"--command", "START", "--payload", `{"n":1}`,
		"--scope", "ids", "--target-id", "A,B")
	require.NoError(t, err)
	assert.Equal(t, "{\"status\":\"queued\"}\n", out)

	assert.Equal(t, "room_1", got.RoomID)
	assert.Equal(t, message.Sender{ID: "T", Type: message.RoleTeacher}, got.Sender)
	require.NotNil(t, got.Target)
	assert.Equal(t, []string{"A", "B"}, got.Target.IDs)
	assert.JSONEq(t, `{"n":1}`, string(got.Payload))
}

func TestSend_RejectsBadInput(t *testing.T) {
	_, err := run(t, "--server", "http://127.0.0.1:1", "send", "--id", "A", "--command", "X", "--type", "pirate")
	assert.ErrorIs(t, err, message.ErrInvalid)

	_, err = run(t, "--server", "http://127.0.0.1:1", "send", "--id", "A", "--command", "X", "--payload", "{nope")
	assert.ErrorContains(t, err, "payload")
}

func TestSend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := run(t, "--server", srv.URL, "send", "--id", "A", "--command", "X")
	assert.ErrorContains(t, err, "429")
}

func TestStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stats", r.URL.Path)
		_, _ = w.Write([]byte(`{"ws":2,"sse":1,"long_polling":3}`))
	}))
	defer srv.Close()

	out, err := run(t, "--server", srv.URL+"/", "stats")
	require.NoError(t, err)
	assert.Equal(t, "ws=2 sse=1 long_polling=3\n", out)
}

func TestListen_SkipsHeartbeats(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws", r.URL.Path)
		assert.Equal(t, "L", r.URL.Query().Get("id"))
		ws, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer ws.Close()

		hb, _ := json.Marshal(message.Heartbeat("room_1"))
		_ = ws.WriteMessage(websocket.TextMessage, hb)
		_ = ws.WriteMessage(websocket.TextMessage, []byte(`{"room_id":"room_1","sender":{"id":"A","type":"ученик"},"command":"X"}`))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}))
	defer srv.Close()

	out, err := run(t, "--server", srv.URL, "listen", "--id", "L")
	require.NoError(t, err)
	assert.NotContains(t, out, message.CommandPing)
	assert.Contains(t, out, `"command":"X"`)
}

func TestWSURL(t *testing.T) {
	u, err := wsURL("http://127.0.0.1:7070", "")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:7070/ws", u)

	u, err = wsURL("https://relay.example/base/", "a b")
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example/base/ws?id=a+b", u)
}
