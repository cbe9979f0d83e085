package notifyhub

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moyoez/localswap/types"
)

func TestHubBroadcastsToClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	hub := New()
	connected := make(chan struct{}, 1)
	engine := gin.New()
	engine.GET("/ws", HandleNotifyWS(hub, func() { connected <- struct{}{} }))
	srv := httptest.NewServer(engine)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("client never registered")
	}
	assert.Equal(t, 1, hub.Len())

	require.NoError(t, hub.Send(&types.Notification{Type: types.NotifyTypeSessionState, Title: "selectApps"}))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var n types.Notification
	require.NoError(t, sonic.Unmarshal(data, &n))
	assert.Equal(t, "selectApps", n.Title)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
