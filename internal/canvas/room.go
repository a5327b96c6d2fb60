package canvas

import (
	"sort"
	"time"

	apperrors "github.com/koopa0/system-design/canvas-sync/pkg/errors"
)

// Room 畫布房間
//
// 只在 Manager 的事件迴圈中被讀寫，不需要鎖。
type Room struct {
	key       string
	shapes    []Shape
	members   []*Session // 依加入順序
	createdAt time.Time
}

func newRoom(key string) *Room {
	return &Room{
		key:       key,
		shapes:    []Shape{},
		createdAt: time.Now(),
	}
}

// Key 房間 key
func (r *Room) Key() string {
	return r.key
}

// Shapes 返回圖形列表的副本
func (r *Room) Shapes() []Shape {
	out := make([]Shape, len(r.shapes))
	for i, s := range r.shapes {
		out[i] = s.Clone()
	}
	return out
}

// ShapeCount 圖形數量
func (r *Room) ShapeCount() int {
	return len(r.shapes)
}

// ReplaceShapes 以整份列表取代房間狀態（最後寫入者勝）
//
// 列表內 id 重複、或改變既有圖形的類型時拒絕，狀態不變。
func (r *Room) ReplaceShapes(shapes []Shape) error {
	existing := make(map[string]Kind, len(r.shapes))
	for _, s := range r.shapes {
		existing[s.ID] = s.Kind()
	}

	seen := make(map[string]struct{}, len(shapes))
	for _, s := range shapes {
		if err := s.Validate(); err != nil {
			return apperrors.Invalid("Invalid shape data").WithDetails(err.Error())
		}
		if _, dup := seen[s.ID]; dup {
			return apperrors.Invalid("Duplicate shape id").WithDetails(s.ID)
		}
		seen[s.ID] = struct{}{}

		if kind, ok := existing[s.ID]; ok && kind != s.Kind() {
			return apperrors.Illegal("Shape type cannot change").WithDetails(s.ID)
		}
	}

	next := make([]Shape, len(shapes))
	for i, s := range shapes {
		next[i] = s.Clone()
	}
	r.shapes = next
	return nil
}

// UpsertShape 依 id 取代或附加單一圖形
func (r *Room) UpsertShape(shape Shape) error {
	if err := shape.Validate(); err != nil {
		return apperrors.Invalid("Invalid shape data").WithDetails(err.Error())
	}

	for i, s := range r.shapes {
		if s.ID != shape.ID {
			continue
		}
		if s.Kind() != shape.Kind() {
			return apperrors.Illegal("Shape type cannot change").WithDetails(shape.ID)
		}
		r.shapes[i] = shape.Clone()
		return nil
	}

	r.shapes = append(r.shapes, shape.Clone())
	return nil
}

// DeleteShape 移除圖形，返回是否存在
func (r *Room) DeleteShape(id string) bool {
	for i, s := range r.shapes {
		if s.ID == id {
			r.shapes = append(r.shapes[:i], r.shapes[i+1:]...)
			return true
		}
	}
	return false
}

// addMember 加入成員
func (r *Room) addMember(s *Session) {
	r.members = append(r.members, s)
}

// removeMember 移除成員，返回剩餘人數
func (r *Room) removeMember(s *Session) int {
	for i, m := range r.members {
		if m == s {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	return len(r.members)
}

// UserCount 連接數
func (r *Room) UserCount() int {
	return len(r.members)
}

// Registry 房間註冊表
//
// 由單一 Manager 擁有，房間在最後一位成員離開時明確刪除。
type Registry struct {
	rooms map[string]*Room
}

// NewRegistry 創建房間註冊表
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// Get 取得房間
func (g *Registry) Get(key string) (*Room, bool) {
	r, ok := g.rooms[key]
	return r, ok
}

// GetOrCreate 取得或創建房間，created 表示是否新建
func (g *Registry) GetOrCreate(key string) (room *Room, created bool) {
	if r, ok := g.rooms[key]; ok {
		return r, false
	}
	r := newRoom(key)
	g.rooms[key] = r
	return r, true
}

// Delete 刪除房間
func (g *Registry) Delete(key string) {
	delete(g.rooms, key)
}

// Len 房間數量
func (g *Registry) Len() int {
	return len(g.rooms)
}

// Rooms 依 key 排序的房間列表
func (g *Registry) Rooms() []*Room {
	out := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].key < out[j].key })
	return out
}
