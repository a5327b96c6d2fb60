package typing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/koopa0/system-design/canvas-sync/internal/events"
	"github.com/koopa0/system-design/canvas-sync/internal/realtime"
	apperrors "github.com/koopa0/system-design/canvas-sync/pkg/errors"
	"github.com/koopa0/system-design/canvas-sync/pkg/logger"
)

// 訊息類型
const (
	TypeJoin         = "join"
	TypeStart        = "start"
	TypeTyping       = "typing"
	TypeReset        = "reset"
	TypeGameState    = "gameState"
	TypeCountdown    = "countdown"
	TypePlayerJoined = "playerJoined"
	TypePlayerLeft   = "playerLeft"
	TypeError        = "error"
)

type inbound struct {
	Type       string   `json:"type"`
	GameID     string   `json:"gameId"`
	PlayerID   string   `json:"playerId"`
	Progress   *float64 `json:"progress"`
	WPM        *float64 `json:"wpm"`
	Finished   bool     `json:"finished"`
	FinishTime *int64   `json:"finishTime"`
}

type stateMsg struct {
	Type      string `json:"type"`
	GameID    string `json:"gameId"`
	GameState State  `json:"gameState"`
}

type playerMsg struct {
	Type     string `json:"type"`
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
}

type errorMsg struct {
	Type    string `json:"type"`
	GameID  string `json:"gameId"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// countdown 一次倒數
//
// gen 全域遞增；計時器投遞的 tick 只有在 gen 仍是房間目前的倒數時才生效，
// 被取消的倒數即使已經把 tick 排進佇列也不會修改房間。
type countdown struct {
	gen  uint64
	stop chan struct{}
}

type room struct {
	id      string
	state   *State
	players map[string]realtime.Client // playerId → 連接
	timer   *countdown
}

// Options Manager 參數
type Options struct {
	CountdownFrom int
	TickInterval  time.Duration
	Events        events.Emitter
}

// Manager 打字競速管理器，實作 realtime.Endpoint
type Manager struct {
	loop   *realtime.Loop
	rooms  map[string]*room
	conns  map[string]map[string]string // 連接 ID → gameId → playerId
	opts   Options
	gen    uint64
	logger *slog.Logger
}

// NewManager 創建打字競速管理器
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if opts.CountdownFrom <= 0 {
		opts.CountdownFrom = 3
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Second
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}

	return &Manager{
		loop:   realtime.NewLoop("typing", 0, logger),
		rooms:  make(map[string]*room),
		conns:  make(map[string]map[string]string),
		opts:   opts,
		logger: logger,
	}
}

// Close 取消所有倒數並停止事件迴圈
func (m *Manager) Close() {
	m.loop.Do(func() {
		for _, r := range m.rooms {
			m.cancelCountdown(r)
		}
	})
	m.loop.Stop()
}

// Connect 實現 realtime.Endpoint
func (m *Manager) Connect(c realtime.Client) {
	m.logger.Debug("打字競速連接建立", "conn_id", c.ID())
}

// Receive 處理一則客戶端訊息
func (m *Manager) Receive(c realtime.Client, data []byte) {
	m.loop.Do(func() {
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			m.reject(c, "", apperrors.Invalid("Invalid message format"))
			return
		}

		if err := m.dispatch(c, &msg); err != nil {
			m.reject(c, msg.GameID, err)
		}
	})
}

func (m *Manager) dispatch(c realtime.Client, msg *inbound) error {
	switch msg.Type {
	case TypeJoin:
		return m.handleJoin(c, msg)
	case TypeStart:
		return m.handleStart(c, msg)
	case TypeTyping:
		return m.handleTyping(c, msg)
	case TypeReset:
		return m.handleReset(c, msg)
	default:
		return apperrors.New(apperrors.ErrCodeUnknownType, "Unknown message type")
	}
}

func (m *Manager) reject(c realtime.Client, gameID string, err error) {
	ctx := logger.WithConnID(context.Background(), c.ID())
	m.logger.DebugContext(ctx, "拒絕打字競速訊息", "game_id", gameID, "error", err)

	c.Send(errorMsg{
		Type:    TypeError,
		GameID:  gameID,
		Message: apperrors.Message(err),
		Code:    apperrors.Code(err),
	})
}

// lookup 找到房間並確認 playerId 綁定在這個連接上
func (m *Manager) lookup(c realtime.Client, msg *inbound) (*room, error) {
	if msg.GameID == "" || msg.PlayerID == "" {
		return nil, apperrors.Invalid("Game ID and Player ID are required")
	}

	r, ok := m.rooms[msg.GameID]
	if !ok {
		return nil, apperrors.ErrRoomNotFound
	}

	if bound, ok := r.players[msg.PlayerID]; !ok || bound.ID() != c.ID() {
		return nil, apperrors.New(apperrors.ErrCodeNotFound, "Player not found in game")
	}
	return r, nil
}

// handleJoin 加入遊戲，同一個 playerId 重新加入時只換連接
func (m *Manager) handleJoin(c realtime.Client, msg *inbound) error {
	if msg.GameID == "" || msg.PlayerID == "" {
		return apperrors.Invalid("Game ID and Player ID are required")
	}

	r, ok := m.rooms[msg.GameID]
	if !ok {
		r = &room{
			id:      msg.GameID,
			state:   NewState(msg.GameID),
			players: make(map[string]realtime.Client),
		}
	}

	// 一個連接在同一局只能代表一位玩家
	if other, bound := m.conns[c.ID()][r.id]; bound && other != msg.PlayerID {
		return apperrors.Illegal("Already joined this game").WithDetails(other)
	}

	if old, exists := r.players[msg.PlayerID]; exists {
		m.unbind(old.ID(), r.id)
		r.players[msg.PlayerID] = c
		m.bind(c.ID(), r.id, msg.PlayerID)
		m.logger.Info("玩家重新連線", "game_id", r.id, "player_id", msg.PlayerID)
	} else {
		if err := r.state.AddPlayer(msg.PlayerID); err != nil {
			return err
		}

		if !ok {
			m.rooms[r.id] = r
			m.logger.Info("創建打字競速遊戲", "game_id", r.id)
			m.opts.Events.Emit(events.New(events.KindRoomCreated, events.NamespaceTyping, r.id, nil))
		}

		r.players[msg.PlayerID] = c
		m.bind(c.ID(), r.id, msg.PlayerID)

		m.broadcast(r, playerMsg{
			Type:     TypePlayerJoined,
			GameID:   r.id,
			PlayerID: msg.PlayerID,
		}, c)

		m.logger.Info("玩家加入", "game_id", r.id, "player_id", msg.PlayerID, "players", len(r.players))
	}

	m.broadcastState(r, TypeGameState)
	return nil
}

// handleStart 開始倒數
func (m *Manager) handleStart(c realtime.Client, msg *inbound) error {
	r, err := m.lookup(c, msg)
	if err != nil {
		return err
	}

	if err := r.state.StartCountdown(m.opts.CountdownFrom); err != nil {
		return err
	}

	m.logger.Info("開始倒數", "game_id", r.id, "from", m.opts.CountdownFrom)
	m.broadcastState(r, TypeCountdown)
	m.startCountdown(r)
	return nil
}

// startCountdown 啟動計時器
//
// 計時器 goroutine 不碰房間狀態，只把 tick 投遞回事件迴圈。
func (m *Manager) startCountdown(r *room) {
	m.cancelCountdown(r)

	m.gen++
	cd := &countdown{gen: m.gen, stop: make(chan struct{})}
	r.timer = cd

	gameID := r.id
	go func() {
		ticker := time.NewTicker(m.opts.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if !m.loop.Post(func() { m.tick(gameID, cd.gen) }) {
					return
				}
			case <-cd.stop:
				return
			}
		}
	}()
}

// cancelCountdown 取消房間目前的倒數
func (m *Manager) cancelCountdown(r *room) {
	if r.timer == nil {
		return
	}
	close(r.timer.stop)
	r.timer = nil
}

// tick 在迴圈中處理一次倒數
func (m *Manager) tick(gameID string, gen uint64) {
	r, ok := m.rooms[gameID]
	if !ok || r.timer == nil || r.timer.gen != gen {
		return
	}

	remaining := r.state.Tick()
	m.broadcastState(r, TypeCountdown)

	if remaining > 0 {
		return
	}

	m.cancelCountdown(r)
	r.state.Begin(time.Now())
	m.logger.Info("遊戲開始", "game_id", r.id)
	m.broadcastState(r, TypeGameState)
}

// handleTyping 更新進度，遊戲未進行時忽略
func (m *Manager) handleTyping(c realtime.Client, msg *inbound) error {
	r, err := m.lookup(c, msg)
	if err != nil {
		return err
	}
	if r.state.GameStatus != StatusActive {
		return nil
	}

	var progress, wpm float64
	if msg.Progress != nil {
		progress = *msg.Progress
	}
	if msg.WPM != nil {
		wpm = *msg.WPM
	}

	won := r.state.UpdateProgress(msg.PlayerID, progress, wpm, msg.Finished, msg.FinishTime)
	snapshot := r.state.Snapshot()
	m.broadcast(r, stateMsg{Type: TypeGameState, GameID: r.id, GameState: snapshot}, nil)

	if won {
		m.logger.Info("打字競速結束", "game_id", r.id, "winner", msg.PlayerID)
		e := events.New(events.KindGameFinished, events.NamespaceTyping, r.id, snapshot)
		e.Winner = msg.PlayerID
		m.opts.Events.Emit(e)
	}
	return nil
}

// handleReset 取消倒數、換文章、清空成績
func (m *Manager) handleReset(c realtime.Client, msg *inbound) error {
	r, err := m.lookup(c, msg)
	if err != nil {
		return err
	}

	m.cancelCountdown(r)
	r.state.Reset()
	m.broadcastState(r, TypeGameState)
	return nil
}

// Disconnect 移除連接綁定的所有玩家
func (m *Manager) Disconnect(c realtime.Client) {
	m.loop.Do(func() {
		games := m.conns[c.ID()]
		delete(m.conns, c.ID())

		for gameID, playerID := range games {
			r, ok := m.rooms[gameID]
			if !ok {
				continue
			}

			delete(r.players, playerID)
			r.state.RemovePlayer(playerID)
			if r.timer != nil {
				m.cancelCountdown(r)
				m.logger.Info("玩家離開，取消倒數", "game_id", gameID)
			}

			m.broadcast(r, playerMsg{
				Type:     TypePlayerLeft,
				GameID:   gameID,
				PlayerID: playerID,
			}, nil)

			m.logger.Info("玩家離開", "game_id", gameID, "player_id", playerID)

			if len(r.players) == 0 {
				delete(m.rooms, gameID)
				m.logger.Info("刪除打字競速遊戲（無玩家）", "game_id", gameID)
				m.opts.Events.Emit(events.New(events.KindRoomClosed, events.NamespaceTyping, gameID, nil))
				continue
			}

			m.broadcastState(r, TypeGameState)
		}
	})
}

func (m *Manager) bind(connID, gameID, playerID string) {
	games, ok := m.conns[connID]
	if !ok {
		games = make(map[string]string)
		m.conns[connID] = games
	}
	games[gameID] = playerID
}

func (m *Manager) unbind(connID, gameID string) {
	games, ok := m.conns[connID]
	if !ok {
		return
	}
	delete(games, gameID)
	if len(games) == 0 {
		delete(m.conns, connID)
	}
}

func (m *Manager) broadcastState(r *room, typ string) {
	m.broadcast(r, stateMsg{Type: typ, GameID: r.id, GameState: r.state.Snapshot()}, nil)
}

// broadcast 廣播給房間內的玩家，except 不為 nil 時跳過
func (m *Manager) broadcast(r *room, msg any, except realtime.Client) {
	clients := make([]realtime.Client, 0, len(r.players))
	for _, c := range r.players {
		clients = append(clients, c)
	}
	realtime.Broadcast(clients, msg, except, m.logger)
}

// ActiveGames 進行中的遊戲數
func (m *Manager) ActiveGames() int {
	n := 0
	m.loop.Do(func() { n = len(m.rooms) })
	return n
}
