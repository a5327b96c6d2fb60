package tictactoe

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/koopa0/system-design/canvas-sync/internal/events"
	"github.com/koopa0/system-design/canvas-sync/internal/realtime"
	apperrors "github.com/koopa0/system-design/canvas-sync/pkg/errors"
	"github.com/koopa0/system-design/canvas-sync/pkg/logger"
)

// 訊息類型
const (
	TypeJoin         = "join"
	TypeMove         = "move"
	TypeReset        = "reset"
	TypeGameState    = "gameState"
	TypePlayerJoined = "playerJoined"
	TypePlayerLeft   = "playerLeft"
	TypeError        = "error"
)

// MaxPlayers 每局玩家上限
const MaxPlayers = 2

type inbound struct {
	Type     string `json:"type"`
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Position *int   `json:"position"`
}

type gameStateMsg struct {
	Type      string `json:"type"`
	GameID    string `json:"gameId"`
	GameState State  `json:"gameState"`
}

type playerJoinedMsg struct {
	Type     string `json:"type"`
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Player   Mark   `json:"player"`
}

type playerLeftMsg struct {
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

// player 玩家與目前綁定的連接
type player struct {
	id     string
	mark   Mark
	client realtime.Client
}

// room 一局遊戲
type room struct {
	id      string
	state   *State
	players map[string]*player
}

// Manager 井字遊戲管理器，實作 realtime.Endpoint
//
// 玩家角色先到先得（X 再 O），同一個 playerId 從新連接加入時只重新綁定連接。
type Manager struct {
	loop   *realtime.Loop
	rooms  map[string]*room
	conns  map[string]map[string]string // 連接 ID → gameId → playerId
	events events.Emitter
	logger *slog.Logger
}

// NewManager 創建井字遊戲管理器
func NewManager(emitter events.Emitter, logger *slog.Logger) *Manager {
	if emitter == nil {
		emitter = events.Nop{}
	}

	return &Manager{
		loop:   realtime.NewLoop("tictactoe", 0, logger),
		rooms:  make(map[string]*room),
		conns:  make(map[string]map[string]string),
		events: emitter,
		logger: logger,
	}
}

// Close 停止事件迴圈
func (m *Manager) Close() {
	m.loop.Stop()
}

// Connect 實現 realtime.Endpoint，井字遊戲沒有握手訊息
func (m *Manager) Connect(c realtime.Client) {
	m.logger.Debug("井字遊戲連接建立", "conn_id", c.ID())
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
	case TypeMove:
		return m.handleMove(c, msg)
	case TypeReset:
		return m.handleReset(c, msg)
	default:
		return apperrors.New(apperrors.ErrCodeUnknownType, "Unknown message type")
	}
}

func (m *Manager) reject(c realtime.Client, gameID string, err error) {
	ctx := logger.WithConnID(context.Background(), c.ID())
	m.logger.DebugContext(ctx, "拒絕井字遊戲訊息", "game_id", gameID, "error", err)

	c.Send(errorMsg{
		Type:    TypeError,
		GameID:  gameID,
		Message: apperrors.Message(err),
		Code:    apperrors.Code(err),
	})
}

// handleJoin 加入遊戲
func (m *Manager) handleJoin(c realtime.Client, msg *inbound) error {
	if msg.GameID == "" || msg.PlayerID == "" {
		return apperrors.Invalid("Game ID and Player ID are required")
	}

	r, ok := m.rooms[msg.GameID]
	if !ok {
		r = &room{
			id:      msg.GameID,
			state:   NewState(msg.GameID),
			players: make(map[string]*player),
		}
	}

	// 一個連接在同一局只能代表一位玩家
	if other, bound := m.conns[c.ID()][r.id]; bound && other != msg.PlayerID {
		return apperrors.Illegal("Already joined this game").WithDetails(other)
	}

	if p, exists := r.players[msg.PlayerID]; exists {
		// 重新連線：只換連接，角色不變
		m.unbind(p.client.ID(), r.id)
		p.client = c
		m.bind(c.ID(), r.id, p.id)
		m.logger.Info("玩家重新連線", "game_id", r.id, "player_id", p.id, "player", p.mark)
	} else {
		if len(r.players) >= MaxPlayers {
			return apperrors.ErrRoomFull
		}

		mark := freeMark(r.state)
		if mark == None {
			return apperrors.ErrRoomFull
		}

		if !ok {
			m.rooms[r.id] = r
			m.logger.Info("創建井字遊戲", "game_id", r.id)
			m.events.Emit(events.New(events.KindRoomCreated, events.NamespaceTicTacToe, r.id, nil))
		}

		p := &player{id: msg.PlayerID, mark: mark, client: c}
		r.players[p.id] = p
		r.state.Players.Set(mark, p.id)
		m.bind(c.ID(), r.id, p.id)

		m.broadcast(r, playerJoinedMsg{
			Type:     TypePlayerJoined,
			GameID:   r.id,
			PlayerID: p.id,
			Player:   mark,
		})

		m.logger.Info("玩家加入", "game_id", r.id, "player_id", p.id, "player", mark)
	}

	c.Send(gameStateMsg{
		Type:      TypeGameState,
		GameID:    r.id,
		GameState: r.state.Snapshot(),
	})
	return nil
}

// freeMark 第一個空出的角色，X 優先
func freeMark(s *State) Mark {
	if _, taken := s.Players.Get(X); !taken {
		return X
	}
	if _, taken := s.Players.Get(O); !taken {
		return O
	}
	return None
}

// handleMove 下棋
//
// playerId 必須綁定在發送的連接上，不能替別人下棋。
func (m *Manager) handleMove(c realtime.Client, msg *inbound) error {
	if msg.GameID == "" || msg.PlayerID == "" || msg.Position == nil {
		return apperrors.Invalid("Invalid move data")
	}

	r, ok := m.rooms[msg.GameID]
	if !ok {
		return apperrors.ErrRoomNotFound
	}

	p, ok := r.players[msg.PlayerID]
	if !ok || p.client.ID() != c.ID() {
		return apperrors.New(apperrors.ErrCodeNotFound, "Player not found in game")
	}

	if err := r.state.Move(*msg.Position, p.mark); err != nil {
		return err
	}

	snapshot := r.state.Snapshot()
	m.broadcast(r, gameStateMsg{
		Type:      TypeGameState,
		GameID:    r.id,
		GameState: snapshot,
	})

	if snapshot.Finished() {
		e := events.New(events.KindGameFinished, events.NamespaceTicTacToe, r.id, snapshot)
		if winner, ok := snapshot.Players.Get(snapshot.Winner); ok {
			e.Winner = winner
		}
		e.Draw = snapshot.IsDraw
		m.events.Emit(e)

		m.logger.Info("井字遊戲結束", "game_id", r.id, "winner", snapshot.Winner, "draw", snapshot.IsDraw)
	}

	return nil
}

// handleReset 重新開局，玩家角色不變
func (m *Manager) handleReset(c realtime.Client, msg *inbound) error {
	if msg.GameID == "" || msg.PlayerID == "" {
		return apperrors.Invalid("Game ID and Player ID are required")
	}

	r, ok := m.rooms[msg.GameID]
	if !ok {
		return apperrors.ErrRoomNotFound
	}
	p, ok := r.players[msg.PlayerID]
	if !ok || p.client.ID() != c.ID() {
		return apperrors.New(apperrors.ErrCodeNotFound, "Player not found in game")
	}

	r.state.Reset()

	m.broadcast(r, gameStateMsg{
		Type:      TypeGameState,
		GameID:    r.id,
		GameState: r.state.Snapshot(),
	})
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
			p, ok := r.players[playerID]
			if !ok {
				continue
			}

			delete(r.players, playerID)
			r.state.Players.Set(p.mark, "")

			m.broadcast(r, playerLeftMsg{
				Type:     TypePlayerLeft,
				GameID:   gameID,
				PlayerID: playerID,
			})

			m.logger.Info("玩家離開", "game_id", gameID, "player_id", playerID, "player", p.mark)

			if len(r.players) == 0 {
				delete(m.rooms, gameID)
				m.logger.Info("刪除井字遊戲（無玩家）", "game_id", gameID)
				m.events.Emit(events.New(events.KindRoomClosed, events.NamespaceTicTacToe, gameID, nil))
			}
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

func (m *Manager) broadcast(r *room, msg any) {
	clients := make([]realtime.Client, 0, len(r.players))
	for _, p := range r.players {
		clients = append(clients, p.client)
	}
	realtime.Broadcast(clients, msg, nil, m.logger)
}

// ActiveGames 進行中的遊戲數
func (m *Manager) ActiveGames() int {
	n := 0
	m.loop.Do(func() { n = len(m.rooms) })
	return n
}
