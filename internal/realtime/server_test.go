package realtime_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/canvas-sync/internal/realtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoEndpoint 把收到的訊息包一層後回傳，並記錄生命週期事件
type echoEndpoint struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (e *echoEndpoint) Connect(c realtime.Client) {
	e.mu.Lock()
	e.connected = append(e.connected, c.ID())
	e.mu.Unlock()
	c.Send(map[string]string{"type": "connected"})
}

func (e *echoEndpoint) Receive(c realtime.Client, data []byte) {
	c.Send(map[string]any{"type": "echo", "payload": json.RawMessage(data)})
}

func (e *echoEndpoint) Disconnect(c realtime.Client) {
	e.mu.Lock()
	e.disconnected = append(e.disconnected, c.ID())
	e.mu.Unlock()
}

func (e *echoEndpoint) disconnectedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.disconnected)
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readJSON(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

// TestServer_ConnectEchoDisconnect 測試完整連接生命週期
func TestServer_ConnectEchoDisconnect(t *testing.T) {
	ep := &echoEndpoint{}
	server := realtime.NewServer(realtime.DefaultOptions(), testLogger())
	srv := httptest.NewServer(server.Serve(ep))
	defer srv.Close()

	ws := dial(t, srv, "/")

	// 第一則訊息一定是 Connect 送出的握手
	hello := readJSON(t, ws)
	assert.Equal(t, "connected", hello["type"])
	assert.Equal(t, 1, server.ConnectionCount())

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"n":1}`)))
	echo := readJSON(t, ws)
	assert.Equal(t, "echo", echo["type"])
	assert.Equal(t, map[string]any{"n": float64(1)}, echo["payload"])

	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		return ep.disconnectedCount() == 1 && server.ConnectionCount() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestServer_Stop 測試停止時關閉所有連接並觸發斷線流程
func TestServer_Stop(t *testing.T) {
	ep := &echoEndpoint{}
	server := realtime.NewServer(realtime.DefaultOptions(), testLogger())
	srv := httptest.NewServer(server.Serve(ep))
	defer srv.Close()

	for i := 0; i < 3; i++ {
		ws := dial(t, srv, "/")
		readJSON(t, ws)
	}
	require.Equal(t, 3, server.ConnectionCount())

	server.Stop()

	require.Eventually(t, func() bool {
		return ep.disconnectedCount() == 3
	}, 2*time.Second, 10*time.Millisecond)
}
