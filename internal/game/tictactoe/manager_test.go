package tictactoe_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/koopa0/system-design/canvas-sync/internal/events"
	"github.com/koopa0/system-design/canvas-sync/internal/game/tictactoe"
	"github.com/koopa0/system-design/canvas-sync/internal/realtime/realtimetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

type emitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *emitter) Emit(ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *emitter) ofKind(kind events.Kind) []events.Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []events.Event
	for _, ev := range e.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func newManager(t *testing.T) (*tictactoe.Manager, *emitter) {
	t.Helper()
	rec := &emitter{}
	m := tictactoe.NewManager(rec, testLogger())
	t.Cleanup(m.Close)
	return m, rec
}

func send(m *tictactoe.Manager, c *realtimetest.Client, raw string) {
	m.Receive(c, []byte(raw))
}

func join(t *testing.T, m *tictactoe.Manager, connID, gameID, playerID string) *realtimetest.Client {
	t.Helper()
	c := realtimetest.NewClient(connID)
	m.Connect(c)
	send(m, c, `{"type":"join","gameId":"`+gameID+`","playerId":"`+playerID+`"}`)
	return c
}

// lastState 最後一則 gameState
func lastState(t *testing.T, c *realtimetest.Client) tictactoe.State {
	t.Helper()
	msgs := c.OfType(tictactoe.TypeGameState)
	require.NotEmpty(t, msgs)

	var env struct {
		GameState tictactoe.State `json:"gameState"`
	}
	realtimetest.Decode(t, msgs[len(msgs)-1], &env)
	return env.GameState
}

// TestManager_Scenario g1：A 取得 X、B 取得 O，佔用的格子被拒絕
func TestManager_Scenario(t *testing.T) {
	m, _ := newManager(t)

	a := join(t, m, "ca", "g1", "A")
	joinedA := a.OfType(tictactoe.TypePlayerJoined)
	require.Len(t, joinedA, 1)
	assert.Equal(t, "X", joinedA[0]["player"])

	b := join(t, m, "cb", "g1", "B")
	joinedB := b.OfType(tictactoe.TypePlayerJoined)
	require.Len(t, joinedB, 1)
	assert.Equal(t, "O", joinedB[0]["player"])
	assert.Len(t, a.OfType(tictactoe.TypePlayerJoined), 2, "A 也收到 B 加入")

	send(m, a, `{"type":"move","gameId":"g1","playerId":"A","position":0}`)
	for _, c := range []*realtimetest.Client{a, b} {
		msgs := c.OfType(tictactoe.TypeGameState)
		gs := msgs[len(msgs)-1]["gameState"].(map[string]any)
		assert.Equal(t, []any{"X", nil, nil, nil, nil, nil, nil, nil, nil}, gs["board"])
		assert.Equal(t, "O", gs["currentPlayer"])
	}

	send(m, b, `{"type":"move","gameId":"g1","playerId":"B","position":0}`)
	errMsg := b.Last()
	assert.Equal(t, tictactoe.TypeError, errMsg.Type())
	assert.Equal(t, "Invalid move", errMsg["message"])
	assert.Equal(t, "g1", errMsg["gameId"])
	assert.Equal(t, tictactoe.X, lastState(t, a).Board[0])
	assert.Equal(t, tictactoe.None, lastState(t, a).Board[4])

	send(m, b, `{"type":"move","gameId":"g1","playerId":"B","position":4}`)
	st := lastState(t, a)
	assert.Equal(t, tictactoe.O, st.Board[4])
	assert.Equal(t, tictactoe.X, st.CurrentPlayer)
}

func TestManager_RoomFull(t *testing.T) {
	m, _ := newManager(t)

	join(t, m, "ca", "g1", "A")
	join(t, m, "cb", "g1", "B")
	c := join(t, m, "cc", "g1", "C")

	last := c.Last()
	assert.Equal(t, tictactoe.TypeError, last.Type())
	assert.Equal(t, "Game room is full", last["message"])
}

func TestManager_Rejoin(t *testing.T) {
	m, _ := newManager(t)

	old := join(t, m, "ca-1", "g1", "A")
	b := join(t, m, "cb", "g1", "B")

	// A 從新連接回來，角色不變，不再廣播 playerJoined
	fresh := join(t, m, "ca-2", "g1", "A")
	assert.Empty(t, fresh.OfType(tictactoe.TypePlayerJoined))
	st := lastState(t, fresh)
	id, _ := st.Players.Get(tictactoe.X)
	assert.Equal(t, "A", id)
	assert.Len(t, b.OfType(tictactoe.TypePlayerJoined), 1)

	// 舊連接已解除綁定，關閉時不影響遊戲
	m.Disconnect(old)
	assert.Empty(t, b.OfType(tictactoe.TypePlayerLeft))

	// 舊連接不能再替 A 下棋
	send(m, old, `{"type":"move","gameId":"g1","playerId":"A","position":0}`)
	assert.Equal(t, "Player not found in game", old.Last()["message"])

	send(m, fresh, `{"type":"move","gameId":"g1","playerId":"A","position":0}`)
	assert.Equal(t, tictactoe.X, lastState(t, b).Board[0])
}

// TestManager_DisconnectFreesSlot X 離開後新玩家可以取得 X，O 不受影響
func TestManager_DisconnectFreesSlot(t *testing.T) {
	m, _ := newManager(t)

	a := join(t, m, "ca", "g1", "A")
	b := join(t, m, "cb", "g1", "B")
	send(m, a, `{"type":"move","gameId":"g1","playerId":"A","position":0}`)

	m.Disconnect(a)

	left := b.OfType(tictactoe.TypePlayerLeft)
	require.Len(t, left, 1)
	assert.Equal(t, "A", left[0]["playerId"])

	c := join(t, m, "cc", "g1", "C")
	joined := c.OfType(tictactoe.TypePlayerJoined)
	require.Len(t, joined, 1)
	assert.Equal(t, "X", joined[0]["player"])

	st := lastState(t, c)
	x, _ := st.Players.Get(tictactoe.X)
	o, _ := st.Players.Get(tictactoe.O)
	assert.Equal(t, "C", x)
	assert.Equal(t, "B", o)
}

func TestManager_Teardown(t *testing.T) {
	m, rec := newManager(t)

	a := join(t, m, "ca", "g1", "A")
	b := join(t, m, "cb", "g1", "B")
	assert.Equal(t, 1, m.ActiveGames())

	m.Disconnect(a)
	m.Disconnect(b)
	assert.Equal(t, 0, m.ActiveGames())
	assert.Len(t, rec.ofKind(events.KindRoomClosed), 1)

	// 同一個 gameId 重新開始是全新的棋盤
	c := join(t, m, "cc", "g1", "C")
	assert.Equal(t, tictactoe.Board{}, lastState(t, c).Board)
}

func TestManager_ResetKeepsRoles(t *testing.T) {
	m, _ := newManager(t)

	a := join(t, m, "ca", "g1", "A")
	b := join(t, m, "cb", "g1", "B")
	send(m, a, `{"type":"move","gameId":"g1","playerId":"A","position":0}`)
	send(m, b, `{"type":"move","gameId":"g1","playerId":"B","position":4}`)

	send(m, b, `{"type":"reset","gameId":"g1","playerId":"B"}`)

	st := lastState(t, a)
	assert.Equal(t, tictactoe.Board{}, st.Board)
	assert.Equal(t, tictactoe.X, st.CurrentPlayer)
	x, _ := st.Players.Get(tictactoe.X)
	assert.Equal(t, "A", x)

	// reset 之後 A 仍然先手
	send(m, a, `{"type":"move","gameId":"g1","playerId":"A","position":8}`)
	assert.Equal(t, tictactoe.X, lastState(t, b).Board[8])
}

func TestManager_GameFinishedEvent(t *testing.T) {
	m, rec := newManager(t)

	a := join(t, m, "ca", "g1", "A")
	b := join(t, m, "cb", "g1", "B")
	moves := []struct {
		c   *realtimetest.Client
		raw string
	}{
		{a, `{"type":"move","gameId":"g1","playerId":"A","position":0}`},
		{b, `{"type":"move","gameId":"g1","playerId":"B","position":3}`},
		{a, `{"type":"move","gameId":"g1","playerId":"A","position":1}`},
		{b, `{"type":"move","gameId":"g1","playerId":"B","position":4}`},
		{a, `{"type":"move","gameId":"g1","playerId":"A","position":2}`},
	}
	for _, mv := range moves {
		send(m, mv.c, mv.raw)
	}

	st := lastState(t, b)
	assert.Equal(t, tictactoe.X, st.Winner)

	finished := rec.ofKind(events.KindGameFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, "A", finished[0].Winner)
	assert.Equal(t, "g1", finished[0].RoomID)

	send(m, b, `{"type":"move","gameId":"g1","playerId":"B","position":8}`)
	assert.Equal(t, "Invalid move", b.Last()["message"])
}

func TestManager_Errors(t *testing.T) {
	m, _ := newManager(t)
	a := join(t, m, "ca", "g1", "A")

	tests := []struct {
		name    string
		raw     string
		message string
	}{
		{"bad json", `{oops`, "Invalid message format"},
		{"unknown type", `{"type":"dance","gameId":"g1"}`, "Unknown message type"},
		{"join missing ids", `{"type":"join","gameId":"g1"}`, "Game ID and Player ID are required"},
		{"move missing position", `{"type":"move","gameId":"g1","playerId":"A"}`, "Invalid move data"},
		{"move unknown game", `{"type":"move","gameId":"nope","playerId":"A","position":1}`, "Game room not found"},
		{"move unknown player", `{"type":"move","gameId":"g1","playerId":"Z","position":1}`, "Player not found in game"},
		{"reset unknown game", `{"type":"reset","gameId":"nope","playerId":"A"}`, "Game room not found"},
		{"second role on same connection", `{"type":"join","gameId":"g1","playerId":"A2"}`, "Already joined this game"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(m, a, tt.raw)
			last := a.Last()
			assert.Equal(t, tictactoe.TypeError, last.Type())
			assert.Equal(t, tt.message, last["message"])
		})
	}

	assert.Equal(t, 1, m.ActiveGames())
}

// TestManager_CannotTakeOverOtherPlayer 已綁定玩家的連接不能改用別人的 playerId 加入
func TestManager_CannotTakeOverOtherPlayer(t *testing.T) {
	m, rec := newManager(t)

	a := join(t, m, "ca", "g1", "A")
	b := join(t, m, "cb", "g1", "B")

	send(m, a, `{"type":"join","gameId":"g1","playerId":"B"}`)
	last := a.Last()
	assert.Equal(t, tictactoe.TypeError, last.Type())
	assert.Equal(t, "Already joined this game", last["message"])

	// B 仍然綁定在自己的連接上
	send(m, b, `{"type":"move","gameId":"g1","playerId":"B","position":4}`)
	assert.Equal(t, "Invalid move", b.Last()["message"], "輪到 X，B 的連接仍可操作 B")

	m.Disconnect(a)
	m.Disconnect(b)
	assert.Equal(t, 0, m.ActiveGames(), "兩個連接都關閉後房間必須刪除")
	assert.Len(t, rec.ofKind(events.KindRoomClosed), 1)

	c := join(t, m, "cc", "g1", "C")
	st := lastState(t, c)
	x, _ := st.Players.Get(tictactoe.X)
	assert.Equal(t, "C", x, "X 已經釋放")
}

func TestManager_ResetRequiresOwnConnection(t *testing.T) {
	m, _ := newManager(t)

	a := join(t, m, "ca", "g1", "A")
	join(t, m, "cb", "g1", "B")
	send(m, a, `{"type":"move","gameId":"g1","playerId":"A","position":0}`)

	stranger := realtimetest.NewClient("cx")
	m.Connect(stranger)
	send(m, stranger, `{"type":"reset","gameId":"g1","playerId":"A"}`)

	last := stranger.Last()
	assert.Equal(t, tictactoe.TypeError, last.Type())
	assert.Equal(t, "Player not found in game", last["message"])
	assert.Equal(t, tictactoe.X, lastState(t, a).Board[0], "棋盤沒有被重置")
}
