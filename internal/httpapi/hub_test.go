package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duisenbekovayan/order_live/internal/bridge"
	"github.com/duisenbekovayan/order_live/internal/models"
)

func dialHub(t *testing.T, f *fixture, page string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?url=" + page
	conn, resp, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })

	hello := readCommand(t, conn)
	require.Equal(t, CommandHello, hello.Type)
	require.NotEmpty(t, hello.ClientID)
	require.Eventually(t, func() bool { return f.hub.ClientCount() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func readCommand(t *testing.T, conn *websocket.Conn) Command {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var cmd Command
	require.NoError(t, conn.ReadJSON(&cmd))
	return cmd
}

func TestHub_ShowNotificationReplacesByTag(t *testing.T) {
	h := NewHub(nop())
	ctx := context.Background()

	require.NoError(t, h.ShowNotification(ctx, models.NotificationPayload{Tag: "order-A1", Body: "one"}))
	require.NoError(t, h.ShowNotification(ctx, models.NotificationPayload{Tag: "order-B2", Body: "two"}))
	require.NoError(t, h.ShowNotification(ctx, models.NotificationPayload{Tag: "order-A1", Body: "three"}))

	var bodies []string
	for _, n := range h.Notifications() {
		bodies = append(bodies, n.Body)
	}
	assert.Equal(t, []string{"two", "three"}, bodies)

	require.NoError(t, h.CloseNotification(ctx, "order-B2"))
	require.NoError(t, h.CloseNotification(ctx, "order-B2"))
	assert.Len(t, h.Notifications(), 1)
}

func TestHub_OldestNotificationEvictedOverCap(t *testing.T) {
	h := NewHub(nop())
	h.maxShown = 2
	f := &fixture{hub: h, srv: newHubServer(t, h)}
	conn := dialHub(t, f, "/customer/menu.html")
	ctx := context.Background()

	for _, tag := range []string{"order-A1", "order-B2", "order-C3"} {
		require.NoError(t, h.ShowNotification(ctx, models.NotificationPayload{Tag: tag}))
	}

	var tags []string
	for _, n := range h.Notifications() {
		tags = append(tags, n.Tag)
	}
	assert.Equal(t, []string{"order-B2", "order-C3"}, tags)

	var got []string
	for i := 0; i < 4; i++ {
		cmd := readCommand(t, conn)
		got = append(got, cmd.Type+" "+cmd.Tag)
	}
	assert.Equal(t, []string{
		"show_notification order-A1",
		"show_notification order-B2",
		"close_notification order-A1",
		"show_notification order-C3",
	}, got)
}

func TestHub_UnknownClient(t *testing.T) {
	h := NewHub(nop())
	ctx := context.Background()
	assert.ErrorIs(t, h.Focus(ctx, "nope"), ErrUnknownClient)
	assert.ErrorIs(t, h.Navigate(ctx, "nope", "/x"), ErrUnknownClient)
	assert.NoError(t, h.OpenWindow(ctx, "/customer/order-tracking.html"))
}

func TestHub_ClickFocusesAndNavigatesCustomerClient(t *testing.T) {
	f := newFixture(t, Options{})
	conn := dialHub(t, f, "/customer/menu.html")

	resp := f.do(t, http.MethodPost, "/notifications/click", `{"action":"view","notification":{"tag":"order-A1","data":{"orderId":"A1"}}}`)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	focus := readCommand(t, conn)
	assert.Equal(t, CommandFocus, focus.Type)
	nav := readCommand(t, conn)
	assert.Equal(t, CommandNavigate, nav.Type)
	assert.Equal(t, "/customer/order-tracking.html?orderId=A1", nav.URL)

	clients, err := f.hub.Clients(context.Background())
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.Equal(t, nav.URL, clients[0].URL)
}

func TestHub_ClientFramesUpdateStateAndForwardMessages(t *testing.T) {
	f := newFixture(t, Options{})
	conn := dialHub(t, f, "/")

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "location", "url": "/customer/cart.html"}))
	require.NoError(t, conn.WriteJSON(map[string]any{"type": "focus", "focused": true}))
	require.Eventually(t, func() bool {
		cs, _ := f.hub.Clients(context.Background())
		return len(cs) == 1 && cs[0].Focused && cs[0].URL == "/customer/cart.html"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "message",
		"message": bridge.Message{Type: bridge.MessageOrderUpdate, OrderID: "A1", Status: models.StatusReady, Message: "Pick it up"},
	}))

	show := readCommand(t, conn)
	require.Equal(t, CommandShowNotification, show.Type)
	require.NotNil(t, show.Notification)
	assert.Equal(t, "order-A1", show.Tag)
	assert.True(t, show.Notification.RequireInteraction)
}

func TestHub_LastClientGonePromotesWaitingVersion(t *testing.T) {
	h := NewHub(nop())
	gone := make(chan struct{}, 1)
	h.Bind(nil, func(context.Context) error {
		gone <- struct{}{}
		return nil
	})
	f := &fixture{hub: h, srv: newHubServer(t, h)}

	a := dialHub(t, f, "/customer/menu.html")
	b := dialHub(t, f, "/customer/cart.html")
	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	select {
	case <-gone:
		t.Fatal("promoted while a client is still open")
	default:
	}

	require.NoError(t, b.Close())
	select {
	case <-gone:
	case <-time.After(2 * time.Second):
		t.Fatal("last client disconnect not reported")
	}
}

func newHubServer(t *testing.T, h *Hub) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.Handle("/ws", h)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return srv
}
