package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kilnstudio/internal/pkg/events"
	"kilnstudio/internal/pkg/jwt"
)

func newServer(t *testing.T) (*Hub, *jwt.Service, *httptest.Server) {
	gin.SetMode(gin.TestMode)
	hub := NewHub()
	tokens := jwt.New("secret", time.Hour, "kilnstudio")

	r := gin.New()
	NewHandler(hub, tokens, nil).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return hub, tokens, srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHub_DeliversToSessionWatchers(t *testing.T) {
	hub, tokens, srv := newServer(t)
	token, err := tokens.GenerateToken(1, 7, "customer")
	require.NoError(t, err)

	conn := dial(t, srv, "/ws/sessions/42?token="+token)
	require.Eventually(t, func() bool { return hub.Count(7, 42) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), events.New(events.BookingCreated, 7, 99, nil)))
	require.NoError(t, hub.Publish(context.Background(), events.New(events.BookingCreated, 8, 42, nil)))
	require.NoError(t, hub.Publish(context.Background(), events.New(events.BookingCancelled, 7, 42, map[string]any{"booking_id": 5})))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.BookingCancelled, got.Type)
	assert.Equal(t, int64(7), got.TenantID)
	assert.Equal(t, int64(42), got.SessionID)

	_ = conn.Close()
	assert.Eventually(t, func() bool { return hub.Count(7, 42) == 0 }, time.Second, 10*time.Millisecond)
}

func TestHandler_RequiresToken(t *testing.T) {
	_, _, srv := newServer(t)

	resp, err := http.Get(srv.URL + "/ws/sessions/1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp2, err := http.Get(srv.URL + "/ws/sessions/1?token=garbage")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestHub_PublishWithoutWatchers(t *testing.T) {
	hub := NewHub()
	assert.NoError(t, hub.Publish(context.Background(), events.New(events.WaitlistJoined, 1, 1, nil)))
	assert.Zero(t, hub.Count(1, 1))
}
