package live

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"legalease/internal/auth"
	"legalease/internal/chat"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySessions struct {
	mu       sync.Mutex
	sessions map[string]*chat.Session
}

func (m *memorySessions) Get(ctx context.Context, id string) (*chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	s := chat.NewSession(id, nil)
	m.sessions[id] = s
	return s, nil
}

func newTestServer(t *testing.T) (*Hub, *memorySessions, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sessions := &memorySessions{sessions: make(map[string]*chat.Session)}
	hub := NewHub(nil, sessions)
	authSvc := auth.NewService("test-secret", nil, time.Hour)

	router := gin.New()
	router.Use(authSvc.Visitor())
	router.GET("/api/live", hub.HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, sessions, "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
}

func readSnapshot(t *testing.T, conn *websocket.Conn) chat.Snapshot {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var snap chat.Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	return snap
}

func TestHubSendsCurrentSnapshotOnConnect(t *testing.T) {
	_, _, url := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	snap := readSnapshot(t, conn)
	assert.NotEmpty(t, snap.ID)
	assert.Empty(t, snap.Messages)
	assert.False(t, snap.Loading)
}

func TestHubUpgradeCarriesVisitorCookies(t *testing.T) {
	_, _, url := newTestServer(t)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	snap := readSnapshot(t, conn)

	names := make(map[string]bool)
	for _, ck := range resp.Cookies() {
		names[ck.Name] = true
	}
	authSvc := auth.NewService("test-secret", nil, time.Hour)
	assert.True(t, names[authSvc.AuthCookieName()], "session cookie missing from upgrade response")
	assert.True(t, names[authSvc.CSRFCookieName()], "csrf cookie missing from upgrade response")

	// reconnecting with those cookies resumes the same session
	header := make(map[string][]string)
	for _, ck := range resp.Cookies() {
		header["Cookie"] = append(header["Cookie"], ck.Name+"="+ck.Value)
	}
	again, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, snap.ID, readSnapshot(t, again).ID)
}

func TestHubPublishReachesEveryTab(t *testing.T) {
	hub, sessions, url := newTestServer(t)

	first, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer first.Close()
	initial := readSnapshot(t, first)

	// the second tab reuses the visitor cookies of the first
	header := make(map[string][]string)
	for _, ck := range resp.Cookies() {
		header["Cookie"] = append(header["Cookie"], ck.Name+"="+ck.Value)
	}
	second, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer second.Close()
	assert.Equal(t, initial.ID, readSnapshot(t, second).ID)

	require.Eventually(t, func() bool { return hub.Connections(initial.ID) == 2 }, time.Second, 10*time.Millisecond)

	session, err := sessions.Get(context.Background(), initial.ID)
	require.NoError(t, err)
	hub.Publish(session.SetInput("draft question"))

	for _, conn := range []*websocket.Conn{first, second} {
		snap := readSnapshot(t, conn)
		assert.Equal(t, "draft question", snap.Input)
	}
}

func TestHubForgetsClosedConnections(t *testing.T) {
	hub, _, url := newTestServer(t)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	snap := readSnapshot(t, conn)
	require.Eventually(t, func() bool { return hub.Connections(snap.ID) == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Connections(snap.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}
