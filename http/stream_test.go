package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carprice/monitoring"
)

func TestPredictionStreamThroughMiddleware(t *testing.T) {
	hub := monitoring.NewHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(NewHandler(DefaultServerConfig(), &Handlers{
		Service: loadedService(t, hub),
		Stream:  http.HandlerFunc(hub.HandleWebSocket),
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/predictions", nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients() == 1 },
		2*time.Second, 10*time.Millisecond, "client never registered")

	read := func() monitoring.Message {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg monitoring.Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	}
	assert.Equal(t, monitoring.SystemStatus, read().Type)

	resp, err := http.PostForm(srv.URL+"/api/predict", validForm())
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	msg := read()
	assert.Equal(t, monitoring.PredictionEvent, msg.Type)
	assert.Contains(t, string(msg.Data), `"prediction":11500.00`)
	assert.Equal(t, "1", msg.ID)
}
