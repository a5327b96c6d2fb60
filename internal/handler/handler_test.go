package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/system-design/canvas-sync/internal/auth"
	"github.com/koopa0/system-design/canvas-sync/internal/canvas"
	"github.com/koopa0/system-design/canvas-sync/internal/game/tictactoe"
	"github.com/koopa0/system-design/canvas-sync/internal/game/typing"
	"github.com/koopa0/system-design/canvas-sync/internal/handler"
	"github.com/koopa0/system-design/canvas-sync/internal/realtime"
	"github.com/koopa0/system-design/canvas-sync/internal/results"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type fakeResults struct {
	results []results.Result
	err     error
}

func (f *fakeResults) Recent(ctx context.Context, limit int) ([]results.Result, error) {
	return f.results, f.err
}

func setupServer(t *testing.T, lister handler.ResultLister) *httptest.Server {
	t.Helper()
	logger := testLogger()

	cm := canvas.NewManager(canvas.Options{Validator: auth.StaticValidator{}}, logger)
	tm := tictactoe.NewManager(nil, logger)
	ym := typing.NewManager(typing.Options{TickInterval: 10 * time.Millisecond}, logger)
	rs := realtime.NewServer(realtime.DefaultOptions(), logger)

	h := handler.NewHandler(handler.Deps{
		Server:    rs,
		Canvas:    cm,
		TicTacToe: tm,
		Typing:    ym,
		Results:   lister,
	}, logger)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(func() {
		rs.Stop()
		srv.Close()
		cm.Close()
		tm.Close()
		ym.Close()
	})
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func read(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg map[string]any
	require.NoError(t, ws.ReadJSON(&msg))
	return msg
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	srv := setupServer(t, nil)

	var h handler.Health
	getJSON(t, srv.URL+"/health", &h)
	assert.Equal(t, "ok", h.Status)
	assert.Zero(t, h.TotalActiveGames)

	ttt := dial(t, srv, "/")
	require.NoError(t, ttt.WriteJSON(map[string]any{"type": "join", "gameId": "g1", "playerId": "A"}))
	assert.Equal(t, "playerJoined", read(t, ttt)["type"])

	typ := dial(t, srv, handler.PathTyping)
	require.NoError(t, typ.WriteJSON(map[string]any{"type": "join", "gameId": "t1", "playerId": "A"}))
	assert.Equal(t, "gameState", read(t, typ)["type"])

	getJSON(t, srv.URL+"/health", &h)
	assert.Equal(t, 1, h.ActiveGames)
	assert.Equal(t, 1, h.ActiveSpeedTypingGames)
	assert.Equal(t, 2, h.TotalActiveGames)
	assert.Equal(t, 2, h.TotalConnections)
}

func TestRouting(t *testing.T) {
	srv := setupServer(t, nil)

	t.Run("canvas handshake", func(t *testing.T) {
		ws := dial(t, srv, handler.PathCanvas)
		msg := read(t, ws)
		assert.Equal(t, "connected", msg["type"])
		assert.NotEmpty(t, msg["color"])
		assert.NotEmpty(t, msg["connectionId"])
	})

	t.Run("canvas prefix", func(t *testing.T) {
		ws := dial(t, srv, handler.PathCanvas+"/room-42")
		assert.Equal(t, "connected", read(t, ws)["type"])
	})

	t.Run("typing", func(t *testing.T) {
		ws := dial(t, srv, handler.PathTyping)
		require.NoError(t, ws.WriteJSON(map[string]any{"type": "start", "gameId": "x", "playerId": "A"}))
		msg := read(t, ws)
		assert.Equal(t, "error", msg["type"])
		assert.Equal(t, "Game room not found", msg["message"])
	})

	t.Run("any other path is tic-tac-toe", func(t *testing.T) {
		for _, path := range []string{"/", "/ws/tic-tac-toe", "/whatever"} {
			ws := dial(t, srv, path)
			require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`not json`)))
			msg := read(t, ws)
			assert.Equal(t, "error", msg["type"], path)
			assert.Equal(t, "Invalid message format", msg["message"], path)
		}
	})
}

func TestStats(t *testing.T) {
	t.Run("canvas rooms", func(t *testing.T) {
		srv := setupServer(t, nil)

		ws := dial(t, srv, handler.PathCanvas)
		read(t, ws) // connected
		require.NoError(t, ws.WriteJSON(map[string]any{"type": "user_info", "userId": "u1", "token": "t"}))
		assert.Equal(t, "user_authenticated", read(t, ws)["type"])
		require.NoError(t, ws.WriteJSON(map[string]any{"type": "join_room", "roomId": "r1"}))
		assert.Equal(t, "room_joined", read(t, ws)["type"])

		var resp struct {
			Canvas        canvas.Stats     `json:"canvas"`
			RecentResults []results.Result `json:"recentResults"`
		}
		getJSON(t, srv.URL+"/stats", &resp)
		assert.Equal(t, 1, resp.Canvas.TotalRooms)
		require.Len(t, resp.Canvas.Rooms, 1)
		assert.Equal(t, "r1", resp.Canvas.Rooms[0].RoomID)
		assert.Equal(t, 1, resp.Canvas.Rooms[0].UserCount)
		assert.Nil(t, resp.RecentResults)
	})

	t.Run("recent results", func(t *testing.T) {
		srv := setupServer(t, &fakeResults{results: []results.Result{
			{ID: 1, Namespace: "tictactoe", RoomID: "g1", Winner: "alice"},
		}})

		var resp struct {
			RecentResults []results.Result `json:"recentResults"`
		}
		getJSON(t, srv.URL+"/stats", &resp)
		require.Len(t, resp.RecentResults, 1)
		assert.Equal(t, "alice", resp.RecentResults[0].Winner)
	})

	t.Run("results failure still returns stats", func(t *testing.T) {
		srv := setupServer(t, &fakeResults{err: errors.New("db down")})

		var resp map[string]any
		getJSON(t, srv.URL+"/stats", &resp)
		assert.Contains(t, resp, "canvas")
		assert.NotContains(t, resp, "recentResults")
	})
}
