package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reach/reach-api/internal/domain/ownership"
	"github.com/reach/reach-api/internal/middleware"
	"github.com/reach/reach-api/internal/pkg/events"
	"github.com/reach/reach-api/internal/pkg/jwt"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	go hub.Run()
	t.Cleanup(hub.Shutdown)
	return hub
}

func TestHubDeliversOnlyToWatchersOfChild(t *testing.T) {
	hub := startHub(t)
	childA, childB := uuid.New(), uuid.New()

	watcherA := &Connection{ChildID: childA, Send: make(chan []byte, 4)}
	watcherB := &Connection{ChildID: childB, Send: make(chan []byte, 4)}
	require.True(t, hub.Register(watcherA))
	require.True(t, hub.Register(watcherB))

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 2 }, time.Second, 10*time.Millisecond)

	err := hub.Publish(context.Background(), events.Event{
		Type:    events.TypeTransactionCreated,
		ChildID: childA,
		Balance: 15,
	})
	require.NoError(t, err)

	select {
	case raw := <-watcherA.Send:
		var got events.Event
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, events.TypeTransactionCreated, got.Type)
		assert.Equal(t, int64(15), got.Balance)
	case <-time.After(time.Second):
		t.Fatal("watcher of child A got nothing")
	}

	select {
	case <-watcherB.Send:
		t.Fatal("watcher of child B must not receive child A events")
	default:
	}

	hub.Unregister(watcherA)
	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHubAfterShutdownDoesNotBlock(t *testing.T) {
	hub := NewHub(nil)
	hub.Shutdown()

	done := make(chan bool, 1)
	go func() {
		conn := &Connection{ChildID: uuid.New(), Send: make(chan []byte, 1)}
		registered := hub.Register(conn)
		hub.Unregister(conn)
		done <- registered
	}()

	select {
	case registered := <-done:
		assert.False(t, registered)
	case <-time.After(time.Second):
		t.Fatal("Register or Unregister blocked after Shutdown")
	}
	assert.Zero(t, hub.ConnectionCount())
}

func TestWebSocketFeed(t *testing.T) {
	hub := startHub(t)
	jwtSvc := jwt.NewService("ws-secret", time.Hour)
	owners := ownership.NewStatic()

	parent, child := uuid.New(), uuid.New()
	owners.Link(parent, child)

	h := NewHandler(hub, owners, nil)
	r := chi.NewRouter()
	r.With(middleware.Auth(jwtSvc)).Get("/ws", h.WebSocket)
	srv := httptest.NewServer(r)
	defer srv.Close()

	token, err := jwtSvc.GenerateAccessToken(parent, jwt.RoleParent)
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?child_id=" + child.String() + "&token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), events.Event{
		Type:    events.TypeRedemptionUpdated,
		ChildID: child,
		Balance: 3,
	}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var got events.Event
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, events.TypeRedemptionUpdated, got.Type)
	assert.Equal(t, child, got.ChildID)
}

func TestWebSocketRejectsStranger(t *testing.T) {
	hub := startHub(t)
	jwtSvc := jwt.NewService("ws-secret", time.Hour)
	owners := ownership.NewStatic()
	owners.Link(uuid.New(), uuid.New())

	h := NewHandler(hub, owners, nil)
	r := chi.NewRouter()
	r.With(middleware.Auth(jwtSvc)).Get("/ws", h.WebSocket)

	token, err := jwtSvc.GenerateAccessToken(uuid.New(), jwt.RoleParent)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/ws?child_id="+uuid.NewString(), nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
}
