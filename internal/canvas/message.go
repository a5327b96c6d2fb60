package canvas

import "encoding/json"

// 客戶端 → 伺服器
const (
	TypeUserInfo      = "user_info"
	TypeJoinRoom      = "join_room"
	TypeLeaveRoom     = "leave_room"
	TypeCanvasUpdate  = "canvas_update"
	TypeShapeUpdate   = "shape_update"
	TypeShapeDelete   = "shape_delete"
	TypeCursorMove    = "cursor_move"
	TypeUserSelection = "user_selection"
)

// 伺服器 → 客戶端
const (
	TypeConnected            = "connected"
	TypeUserAuthenticated    = "user_authenticated"
	TypeRoomJoined           = "room_joined"
	TypeUserJoined           = "user_joined"
	TypeUserLeft             = "user_left"
	TypeCanvasUpdated        = "canvas_updated"
	TypeShapeUpdated         = "shape_updated"
	TypeShapeDeleted         = "shape_deleted"
	TypeCursorMoved          = "cursor_moved"
	TypeUserSelectionChanged = "user_selection_changed"
	TypeError                = "error"
)

// inbound 客戶端訊息信封
//
// 圖形保留原始 JSON，由各處理函數解析，
// 這樣一個壞掉的圖形只會得到 "Invalid shape data"，而不是整則訊息無法解析。
type inbound struct {
	Type             string          `json:"type"`
	RoomID           string          `json:"roomId"`
	UserID           string          `json:"userId"`
	UserName         string          `json:"userName"`
	Token            string          `json:"token"`
	Shapes           json.RawMessage `json:"shapes"`
	Shape            json.RawMessage `json:"shape"`
	ShapeID          string          `json:"shapeId"`
	Position         *Point          `json:"position"`
	SelectedShapeIDs []string        `json:"selectedShapeIds"`
}

type connectedMsg struct {
	Type         string `json:"type"`
	Color        string `json:"color"`
	ConnectionID string `json:"connectionId"`
}

type userAuthenticatedMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	Color    string `json:"color"`
}

type roomJoinedMsg struct {
	Type      string  `json:"type"`
	RoomID    string  `json:"roomId"`
	UserID    string  `json:"userId"`
	Shapes    []Shape `json:"shapes"`
	Users     []User  `json:"users"`
	UserCount int     `json:"userCount"`
}

type userJoinedMsg struct {
	Type      string `json:"type"`
	User      User   `json:"user"`
	UserCount int    `json:"userCount"`
}

type userLeftMsg struct {
	Type      string `json:"type"`
	UserID    string `json:"userId"`
	UserCount int    `json:"userCount"`
}

type canvasUpdatedMsg struct {
	Type      string  `json:"type"`
	Shapes    []Shape `json:"shapes"`
	UpdatedBy string  `json:"updatedBy"`
	Timestamp int64   `json:"timestamp"`
}

type shapeUpdatedMsg struct {
	Type      string `json:"type"`
	Shape     Shape  `json:"shape"`
	UpdatedBy string `json:"updatedBy"`
}

type shapeDeletedMsg struct {
	Type      string `json:"type"`
	ShapeID   string `json:"shapeId"`
	DeletedBy string `json:"deletedBy"`
}

type cursorMovedMsg struct {
	Type     string `json:"type"`
	UserID   string `json:"userId"`
	Position Point  `json:"position"`
}

type selectionChangedMsg struct {
	Type             string   `json:"type"`
	UserID           string   `json:"userId"`
	SelectedShapeIDs []string `json:"selectedShapeIds"`
	UserColor        string   `json:"userColor"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
