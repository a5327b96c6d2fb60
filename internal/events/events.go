// Package events 把房間生命週期與對局結果送往外部系統
//
// 系統設計問題：
// 房間狀態在事件迴圈中修改，迴圈內不能做阻塞 I/O，
// 但對局結果需要送到 NATS、寫入 PostgreSQL。
//
// 設計方案：
//   - ✅ 迴圈內只把事件放進有緩衝的 channel（Bus.Emit，永不阻塞）
//   - ✅ 背景 worker 逐一交給 Publisher
//   - ✅ 緩衝區滿時丟棄並記錄警告，即時同步優先於事件完整性
package events

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Kind 事件類型
type Kind string

const (
	KindRoomCreated  Kind = "room_created"
	KindRoomClosed   Kind = "room_closed"
	KindGameFinished Kind = "game_finished"
)

// 房間命名空間，三個 Manager 各自獨立
const (
	NamespaceCanvas    = "canvas"
	NamespaceTicTacToe = "tictactoe"
	NamespaceTyping    = "typing"
)

// Event 一個生命週期事件
type Event struct {
	Kind      Kind            `json:"kind"`
	Namespace string          `json:"namespace"`
	RoomID    string          `json:"roomId"`
	Winner    string          `json:"winner,omitempty"`
	Draw      bool            `json:"draw,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// New 建立事件
//
// payload 立即序列化，之後房間狀態再變動也不會影響已發出的事件。
func New(kind Kind, namespace, roomID string, payload any) Event {
	e := Event{
		Kind:      kind,
		Namespace: namespace,
		RoomID:    roomID,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Data = data
		}
	}
	return e
}

// Publisher 事件的最終去處
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Emitter Manager 使用的非阻塞介面
type Emitter interface {
	Emit(e Event)
}

// Nop 丟棄所有事件
type Nop struct{}

// Publish 實現 Publisher
func (Nop) Publish(context.Context, Event) error { return nil }

// Emit 實現 Emitter
func (Nop) Emit(Event) {}

// Multi 依序交給多個 Publisher，錯誤合併返回
type Multi []Publisher

// Publish 實現 Publisher
func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Bus 非阻塞事件匯流排
type Bus struct {
	pub     Publisher
	ch      chan Event
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewBus 創建並啟動事件匯流排
func NewBus(pub Publisher, buffer int, logger *slog.Logger) *Bus {
	if buffer <= 0 {
		buffer = 1024
	}

	b := &Bus{
		pub:     pub,
		ch:      make(chan Event, buffer),
		timeout: 5 * time.Second,
		logger:  logger,
	}

	b.wg.Add(1)
	go b.worker()

	return b
}

// Emit 放入事件，緩衝區滿或已關閉時丟棄
func (b *Bus) Emit(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	select {
	case b.ch <- e:
	default:
		b.logger.Warn("事件緩衝區滿，丟棄事件",
			"kind", e.Kind,
			"namespace", e.Namespace,
			"room_id", e.RoomID)
	}
}

// worker 逐一發布事件
func (b *Bus) worker() {
	defer b.wg.Done()

	for e := range b.ch {
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := b.pub.Publish(ctx, e); err != nil {
			b.logger.Error("發布事件失敗",
				"kind", e.Kind,
				"namespace", e.Namespace,
				"room_id", e.RoomID,
				"error", err)
		}
		cancel()
	}
}

// Close 停止接收事件，等待緩衝區內的事件發布完畢
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.ch)
	b.mu.Unlock()

	b.wg.Wait()
}
