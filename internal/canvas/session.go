package canvas

import (
	"context"

	"github.com/koopa0/system-design/canvas-sync/internal/realtime"
	"github.com/koopa0/system-design/canvas-sync/pkg/logger"
)

// DefaultPalette 預設使用者顏色
var DefaultPalette = []string{
	"#ff6b6b", "#4ecdc4", "#45b7d1", "#96ceb4", "#ffeaa7",
	"#dda0dd", "#98d8c8", "#f7dc6f", "#bb8fce", "#85c1e9",
}

// Palette 依序循環分配顏色
type Palette struct {
	colors []string
	next   int
}

// NewPalette 創建調色盤，colors 為空時使用 DefaultPalette
func NewPalette(colors []string) *Palette {
	if len(colors) == 0 {
		colors = DefaultPalette
	}
	return &Palette{colors: append([]string(nil), colors...)}
}

// Next 下一個顏色
func (p *Palette) Next() string {
	c := p.colors[p.next%len(p.colors)]
	p.next++
	return c
}

// Point 游標位置
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// User 房間內其他人看到的使用者描述
type User struct {
	UserID           string   `json:"userId"`
	UserName         string   `json:"userName,omitempty"`
	Color            string   `json:"color"`
	Cursor           *Point   `json:"cursor,omitempty"`
	SelectedShapeIDs []string `json:"selectedShapeIds,omitempty"`
}

// Session 單一連接的狀態
type Session struct {
	client        realtime.Client
	user          User
	authenticated bool
	authPending   bool // token 查核進行中
	room          *Room
}

func newSession(c realtime.Client, color string) *Session {
	return &Session{
		client: c,
		user:   User{Color: color},
	}
}

// ID 連接 ID
func (s *Session) ID() string {
	return s.client.ID()
}

// logContext 帶有連接與使用者 ID 的日誌上下文
func (s *Session) logContext() context.Context {
	ctx := logger.WithConnID(context.Background(), s.ID())
	if s.authenticated {
		ctx = logger.WithUserID(ctx, s.user.UserID)
	}
	return ctx
}

// User 使用者描述的副本
func (s *Session) User() User {
	u := s.user
	if s.user.Cursor != nil {
		p := *s.user.Cursor
		u.Cursor = &p
	}
	u.SelectedShapeIDs = append([]string(nil), s.user.SelectedShapeIDs...)
	return u
}
