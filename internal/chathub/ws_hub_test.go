package chathub_test

import (
	"anonchat/backend/internal/chathub"
	"anonchat/backend/internal/localization"
	"anonchat/backend/internal/models"
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveHub exposes hub on a test server; the session id comes from ?id=.
func serveHub(t *testing.T, hub *chathub.WebHub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		chathub.NewWebSocketClient(id, conn, hub).Run(r.Context())
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string, id int64) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?id="+strconv.FormatInt(id, 10), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) models.Outbound {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	var out models.Outbound
	require.NoError(t, conn.ReadJSON(&out))
	return out
}

func newWebEngine(t *testing.T, f *fixture) *chathub.WebHub {
	t.Helper()
	loc, err := localization.NewDefaultLocalizer()
	require.NoError(t, err)
	hub := chathub.NewWebHub(f.store, loc, "en")
	hub.SetHandler(f.hub)
	f.hub.Transport = hub
	return hub
}

func TestWebHub_CommandRoundTrip(t *testing.T) {
	f := newFixture(t)
	hub := newWebEngine(t, f)
	conn := dial(t, serveHub(t, hub), -5)

	require.NoError(t, conn.WriteJSON(models.Inbound{Kind: models.KindText, Text: "/help"}))
	out := readFrame(t, conn)
	assert.Equal(t, "help", out.Key)
	assert.Contains(t, out.Text, "/createroom")
}

func TestWebHub_PairedSessionsChat(t *testing.T) {
	f := newFixture(t)
	hub := newWebEngine(t, f)
	url := serveHub(t, hub)
	a, b := dial(t, url, -1), dial(t, url, -2)

	require.NoError(t, a.WriteJSON(models.Inbound{Kind: models.KindText, Text: "/find"}))
	assert.Equal(t, "searching", readFrame(t, a).Key)

	require.NoError(t, b.WriteJSON(models.Inbound{Kind: models.KindText, Text: "/find"}))
	assert.Equal(t, "match_found", readFrame(t, b).Key)
	assert.Equal(t, "match_found", readFrame(t, a).Key)

	require.NoError(t, b.WriteJSON(models.Inbound{Text: "hello from b"}))
	out := readFrame(t, a)
	assert.Equal(t, models.KindText, out.Kind)
	assert.Equal(t, "hello from b", out.Text)
}

func TestWebHub_DeliversAcrossInstances(t *testing.T) {
	f := newFixture(t)
	loc, err := localization.NewDefaultLocalizer()
	require.NoError(t, err)

	local := chathub.NewWebHub(f.store, loc, "en")
	remote := chathub.NewWebHub(f.store, loc, "en")
	conn := dial(t, serveHub(t, remote), -9)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = remote.Run(ctx) }()
	select {
	case <-remote.Ready():
	case <-time.After(3 * time.Second):
		t.Fatal("remote hub did not subscribe")
	}

	// the dial returns before the server side registers the client
	require.Eventually(t, func() bool { return remote.Connected(-9) }, 3*time.Second, 10*time.Millisecond)
	assert.False(t, local.Connected(-9))

	require.NoError(t, local.Deliver(ctx, models.Notice(-9, "partner_left")))
	out := readFrame(t, conn)
	assert.Equal(t, "partner_left", out.Key)
	assert.Contains(t, out.Text, "partner has left")
}
