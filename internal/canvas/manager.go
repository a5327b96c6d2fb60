// Package canvas 實作多人共享畫布的即時同步
//
// 系統設計問題：
// 多個客戶端同時編輯同一張畫布，如何讓新加入的人看到一致的狀態？
//
// 核心挑戰：
//  1. 房間狀態：誰在房間裡、畫布上有哪些圖形
//  2. 廣播：更新要送給房間內的其他人，但不回送給發送者
//  3. 清理：最後一人離開時房間與圖形一併丟棄
//
// 設計方案：
//   - ✅ 伺服器持有權威的圖形列表
//   - ✅ canvas_update 整份取代（最後寫入者勝），shape_update / shape_delete 單一圖形操作
//   - ✅ 所有狀態修改都在 Loop 中串行執行，房間與 session 不需要鎖
//
// 已知限制：
// 兩個客戶端同時送出 canvas_update 時，後到的整份覆蓋先到的，
// 先到者尚未同步的圖形會遺失。沒有合併，也沒有版本號。
package canvas

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/koopa0/system-design/canvas-sync/internal/auth"
	"github.com/koopa0/system-design/canvas-sync/internal/events"
	"github.com/koopa0/system-design/canvas-sync/internal/realtime"
	apperrors "github.com/koopa0/system-design/canvas-sync/pkg/errors"
	"github.com/koopa0/system-design/canvas-sync/pkg/logger"
)

// Options Manager 參數
type Options struct {
	Palette     []string
	Validator   auth.Validator
	AuthTimeout time.Duration
	Events      events.Emitter
	LoopBuffer  int
}

// Manager 畫布同步管理器，實作 realtime.Endpoint
type Manager struct {
	loop        *realtime.Loop
	rooms       *Registry
	sessions    map[string]*Session // 連接 ID → session
	palette     *Palette
	validator   auth.Validator
	authTimeout time.Duration
	events      events.Emitter
	logger      *slog.Logger
}

// NewManager 創建畫布同步管理器
func NewManager(opts Options, logger *slog.Logger) *Manager {
	if opts.Validator == nil {
		opts.Validator = auth.StaticValidator{}
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = 2 * time.Second
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}

	return &Manager{
		loop:        realtime.NewLoop("canvas", opts.LoopBuffer, logger),
		rooms:       NewRegistry(),
		sessions:    make(map[string]*Session),
		palette:     NewPalette(opts.Palette),
		validator:   opts.Validator,
		authTimeout: opts.AuthTimeout,
		events:      opts.Events,
		logger:      logger,
	}
}

// Close 停止事件迴圈
func (m *Manager) Close() {
	m.loop.Stop()
}

// Connect 新連接：分配顏色並送出 connected
func (m *Manager) Connect(c realtime.Client) {
	m.loop.Do(func() {
		s := newSession(c, m.palette.Next())
		m.sessions[c.ID()] = s

		c.Send(connectedMsg{
			Type:         TypeConnected,
			Color:        s.user.Color,
			ConnectionID: c.ID(),
		})
	})
}

// Receive 處理一則客戶端訊息
func (m *Manager) Receive(c realtime.Client, data []byte) {
	m.loop.Do(func() {
		m.handle(c, data)
	})
}

// Disconnect 連接關閉：離開房間並移除 session
//
// 斷線是正常的生命週期事件，不送出任何錯誤。
func (m *Manager) Disconnect(c realtime.Client) {
	m.loop.Do(func() {
		s, ok := m.sessions[c.ID()]
		if !ok {
			return
		}
		if s.room != nil {
			m.leave(s)
		}
		delete(m.sessions, c.ID())

		m.logger.DebugContext(s.logContext(), "畫布連接關閉")
	})
}

// handle 解析並分派訊息，錯誤只回給發送者
func (m *Manager) handle(c realtime.Client, data []byte) {
	s, ok := m.sessions[c.ID()]
	if !ok {
		return
	}

	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		m.reject(s, msg.Type, apperrors.ErrInvalidJSON)
		return
	}

	if err := m.dispatch(s, &msg); err != nil {
		m.reject(s, msg.Type, err)
	}
}

func (m *Manager) dispatch(s *Session, msg *inbound) error {
	switch msg.Type {
	case TypeUserInfo:
		return m.handleUserInfo(s, msg)
	case TypeJoinRoom:
		return m.handleJoinRoom(s, msg)
	case TypeLeaveRoom:
		return m.handleLeaveRoom(s)
	case TypeCanvasUpdate:
		return m.handleCanvasUpdate(s, msg)
	case TypeShapeUpdate:
		return m.handleShapeUpdate(s, msg)
	case TypeShapeDelete:
		return m.handleShapeDelete(s, msg)
	case TypeCursorMove:
		return m.handleCursorMove(s, msg)
	case TypeUserSelection:
		return m.handleUserSelection(s, msg)
	default:
		return apperrors.New(apperrors.ErrCodeUnknownType, "Unknown message type: "+msg.Type)
	}
}

// reject 回傳錯誤給發送者
func (m *Manager) reject(s *Session, msgType string, err error) {
	if apperrors.Code(err) == apperrors.ErrCodeInternal {
		m.logger.ErrorContext(s.logContext(), "處理畫布訊息失敗", "type", msgType, "error", err)
	} else {
		m.logger.DebugContext(s.logContext(), "拒絕畫布訊息", "type", msgType, "error", err)
	}

	s.client.Send(errorMsg{
		Type:    TypeError,
		Message: apperrors.Message(err),
		Code:    apperrors.Code(err),
	})
}

// handleUserInfo 驗證身分
//
// 欄位檢查同步完成；token 查核在迴圈外進行，結果再以 Post 回到迴圈。
// 每個連接同時只有一個查核在進行，查核期間再送 user_info 會被拒絕。
func (m *Manager) handleUserInfo(s *Session, msg *inbound) error {
	if msg.UserID == "" || msg.Token == "" {
		return apperrors.Invalid("User ID and token are required")
	}
	if s.room != nil {
		return apperrors.Illegal("Leave the room before changing user")
	}
	if s.authPending {
		return apperrors.Illegal("Authentication already in progress")
	}

	s.authPending = true
	connID := s.ID()
	userID, userName, token := msg.UserID, msg.UserName, msg.Token

	go func() {
		logCtx := logger.WithUserID(logger.WithConnID(context.Background(), connID), userID)
		ctx, cancel := context.WithTimeout(logCtx, m.authTimeout)
		defer cancel()

		err := m.validator.Validate(ctx, userID, token)
		if err != nil {
			m.logger.DebugContext(logCtx, "token 驗證失敗", "error", err)
		}

		m.loop.Post(func() {
			m.finishAuth(connID, userID, userName, err)
		})
	}()

	return nil
}

// finishAuth 在迴圈中套用驗證結果
func (m *Manager) finishAuth(connID string, userID, userName string, err error) {
	s, ok := m.sessions[connID]
	if !ok || !s.authPending {
		return
	}
	s.authPending = false

	if err != nil {
		m.reject(s, TypeUserInfo, err)
		return
	}

	s.user.UserID = userID
	s.user.UserName = userName
	s.authenticated = true

	m.logger.InfoContext(s.logContext(), "使用者已驗證")

	s.client.Send(userAuthenticatedMsg{
		Type:     TypeUserAuthenticated,
		UserID:   userID,
		UserName: userName,
		Color:    s.user.Color,
	})
}

// handleJoinRoom 加入房間，不存在時創建
func (m *Manager) handleJoinRoom(s *Session, msg *inbound) error {
	if !s.authenticated {
		return apperrors.ErrAuthRequired
	}
	if msg.RoomID == "" {
		return apperrors.Invalid("Room ID is required")
	}

	if s.room != nil {
		if s.room.Key() == msg.RoomID {
			s.client.Send(m.roomJoined(s, s.room))
			return nil
		}
		m.leave(s)
	}

	room, created := m.rooms.GetOrCreate(msg.RoomID)
	if created {
		m.logger.Info("創建畫布房間", "room_id", msg.RoomID)
		m.events.Emit(events.New(events.KindRoomCreated, events.NamespaceCanvas, msg.RoomID, nil))
	}

	room.addMember(s)
	s.room = room

	s.client.Send(m.roomJoined(s, room))

	m.broadcast(room, userJoinedMsg{
		Type:      TypeUserJoined,
		User:      s.User(),
		UserCount: room.UserCount(),
	}, s)

	m.logger.Info("使用者加入房間",
		"room_id", room.Key(),
		"user_id", s.user.UserID,
		"user_count", room.UserCount())

	return nil
}

// roomJoined 給加入者的完整快照：所有圖形與房間內的其他人
func (m *Manager) roomJoined(s *Session, room *Room) roomJoinedMsg {
	users := make([]User, 0, room.UserCount())
	for _, member := range room.members {
		if member != s {
			users = append(users, member.User())
		}
	}

	return roomJoinedMsg{
		Type:      TypeRoomJoined,
		RoomID:    room.Key(),
		UserID:    s.user.UserID,
		Shapes:    room.Shapes(),
		Users:     users,
		UserCount: room.UserCount(),
	}
}

func (m *Manager) handleLeaveRoom(s *Session) error {
	if s.room == nil {
		return apperrors.ErrNotInRoom
	}
	m.leave(s)
	return nil
}

// leave 離開目前的房間，最後一人離開時刪除房間
func (m *Manager) leave(s *Session) {
	room := s.room
	s.room = nil
	s.user.Cursor = nil
	s.user.SelectedShapeIDs = nil

	remaining := room.removeMember(s)
	if remaining == 0 {
		m.rooms.Delete(room.Key())
		m.logger.Info("刪除畫布房間（無使用者）", "room_id", room.Key())
		m.events.Emit(events.New(events.KindRoomClosed, events.NamespaceCanvas, room.Key(),
			map[string]int{"shapeCount": room.ShapeCount()}))
		return
	}

	m.broadcast(room, userLeftMsg{
		Type:      TypeUserLeft,
		UserID:    s.user.UserID,
		UserCount: remaining,
	}, nil)

	m.logger.Info("使用者離開房間",
		"room_id", room.Key(),
		"user_id", s.user.UserID,
		"user_count", remaining)
}

// handleCanvasUpdate 整份取代圖形列表
func (m *Manager) handleCanvasUpdate(s *Session, msg *inbound) error {
	if s.room == nil {
		return apperrors.ErrNotInRoom
	}
	if len(msg.Shapes) == 0 || string(msg.Shapes) == "null" {
		return apperrors.Invalid("Shapes are required")
	}

	var shapes []Shape
	if err := json.Unmarshal(msg.Shapes, &shapes); err != nil {
		return apperrors.Invalid("Invalid shape data").WithDetails(err.Error())
	}

	// 沒有 timestamp 的圖形以伺服器時間補上，
	// 所以重送一份不含時間戳的列表時，兩次轉發只差在 timestamp。
	now := time.Now().UnixMilli()
	for i := range shapes {
		if shapes[i].UserID == "" {
			shapes[i].UserID = s.user.UserID
		}
		if shapes[i].Timestamp == 0 {
			shapes[i].Timestamp = now
		}
	}

	if err := s.room.ReplaceShapes(shapes); err != nil {
		return err
	}

	m.broadcast(s.room, canvasUpdatedMsg{
		Type:      TypeCanvasUpdated,
		Shapes:    s.room.Shapes(),
		UpdatedBy: s.user.UserID,
		Timestamp: now,
	}, s)

	return nil
}

// handleShapeUpdate 新增或取代單一圖形
//
// 沒有 id 的圖形視為新建，由伺服器分配 id。
func (m *Manager) handleShapeUpdate(s *Session, msg *inbound) error {
	if s.room == nil {
		return apperrors.ErrNotInRoom
	}
	if len(msg.Shape) == 0 || string(msg.Shape) == "null" {
		return apperrors.Invalid("Shape is required")
	}

	var shape Shape
	if err := json.Unmarshal(msg.Shape, &shape); err != nil {
		return apperrors.Invalid("Invalid shape data").WithDetails(err.Error())
	}
	if shape.ID == "" {
		shape.ID = NewShapeID()
	}
	shape.UserID = s.user.UserID
	shape.Timestamp = time.Now().UnixMilli()

	if err := s.room.UpsertShape(shape); err != nil {
		return err
	}

	m.broadcast(s.room, shapeUpdatedMsg{
		Type:      TypeShapeUpdated,
		Shape:     shape,
		UpdatedBy: s.user.UserID,
	}, s)

	return nil
}

// handleShapeDelete 刪除單一圖形，不存在時不廣播
func (m *Manager) handleShapeDelete(s *Session, msg *inbound) error {
	if s.room == nil {
		return apperrors.ErrNotInRoom
	}
	if msg.ShapeID == "" {
		return apperrors.Invalid("Shape ID is required")
	}

	if !s.room.DeleteShape(msg.ShapeID) {
		m.logger.Debug("刪除不存在的圖形", "room_id", s.room.Key(), "shape_id", msg.ShapeID)
		return nil
	}

	m.broadcast(s.room, shapeDeletedMsg{
		Type:      TypeShapeDeleted,
		ShapeID:   msg.ShapeID,
		DeletedBy: s.user.UserID,
	}, s)

	return nil
}

// handleCursorMove 轉發游標位置
func (m *Manager) handleCursorMove(s *Session, msg *inbound) error {
	if s.room == nil {
		return apperrors.ErrNotInRoom
	}
	if msg.Position == nil {
		return apperrors.Invalid("Position is required")
	}

	pos := *msg.Position
	s.user.Cursor = &pos

	m.broadcast(s.room, cursorMovedMsg{
		Type:     TypeCursorMoved,
		UserID:   s.user.UserID,
		Position: pos,
	}, s)

	return nil
}

// handleUserSelection 更新並轉發選取的圖形
func (m *Manager) handleUserSelection(s *Session, msg *inbound) error {
	if s.room == nil {
		return apperrors.ErrNotInRoom
	}

	selected := msg.SelectedShapeIDs
	if selected == nil {
		selected = []string{}
	}
	s.user.SelectedShapeIDs = append([]string(nil), selected...)

	m.broadcast(s.room, selectionChangedMsg{
		Type:             TypeUserSelectionChanged,
		UserID:           s.user.UserID,
		SelectedShapeIDs: selected,
		UserColor:        s.user.Color,
	}, s)

	return nil
}

// broadcast 廣播給房間成員，except 不為 nil 時跳過
func (m *Manager) broadcast(room *Room, msg any, except *Session) {
	clients := make([]realtime.Client, 0, len(room.members))
	for _, member := range room.members {
		if member != except {
			clients = append(clients, member.client)
		}
	}
	realtime.Broadcast(clients, msg, nil, m.logger)
}

// RoomStats 單一房間統計
type RoomStats struct {
	RoomID     string `json:"roomId"`
	UserCount  int    `json:"userCount"`
	ShapeCount int    `json:"shapeCount"`
	Users      []User `json:"users"`
}

// Stats 畫布統計
type Stats struct {
	TotalRooms       int         `json:"totalRooms"`
	TotalConnections int         `json:"totalConnections"`
	Rooms            []RoomStats `json:"rooms"`
}

// Stats 取得統計資料
func (m *Manager) Stats() Stats {
	stats := Stats{Rooms: []RoomStats{}}

	m.loop.Do(func() {
		stats.TotalRooms = m.rooms.Len()
		stats.TotalConnections = len(m.sessions)

		for _, room := range m.rooms.Rooms() {
			rs := RoomStats{
				RoomID:     room.Key(),
				UserCount:  room.UserCount(),
				ShapeCount: room.ShapeCount(),
				Users:      make([]User, 0, room.UserCount()),
			}
			for _, member := range room.members {
				rs.Users = append(rs.Users, member.User())
			}
			stats.Rooms = append(stats.Rooms, rs)
		}
	})

	return stats
}

// RoomCount 房間數量
func (m *Manager) RoomCount() int {
	return m.Stats().TotalRooms
}
