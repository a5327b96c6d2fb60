package realtime

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// 系統設計問題：
//   多個連接同時修改同一個房間，如何避免資料競爭又不到處加鎖？
//
// 設計方案：
//   ✅ 單一 goroutine 串行執行（run-to-completion）
//   ✅ 客戶端訊息、連線/斷線、倒數計時、非同步驗證結果都是「事件」
//   ✅ 事件全部排進同一個佇列，房間狀態只在這個 goroutine 內被讀寫
//
// 代價：單一 Manager 的吞吐受限於一個核心。
// 需要水平擴展時按房間 key 分片到多個 Loop / 多個進程。

// Loop 串行事件執行器
type Loop struct {
	name   string
	tasks  chan func()
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewLoop 創建並啟動事件迴圈
func NewLoop(name string, buffer int, logger *slog.Logger) *Loop {
	if buffer <= 0 {
		buffer = 256
	}

	l := &Loop{
		name:   name,
		tasks:  make(chan func(), buffer),
		stopCh: make(chan struct{}),
		logger: logger,
	}

	l.wg.Add(1)
	go l.run()

	return l
}

// run 事件迴圈主體
func (l *Loop) run() {
	defer l.wg.Done()

	for {
		select {
		case fn := <-l.tasks:
			l.exec(fn)
		case <-l.stopCh:
			return
		}
	}
}

// exec 執行單一事件，panic 不會終止迴圈
func (l *Loop) exec(fn func()) {
	defer func() {
		if err := recover(); err != nil {
			l.logger.Error("事件處理時發生 panic",
				"loop", l.name,
				"error", err,
				"stack", string(debug.Stack()))
		}
	}()

	fn()
}

// Post 非同步投遞事件（FIFO）
//
// 迴圈已停止時返回 false。
// 不可在迴圈內部用 Do 等待自己，計時器與背景工作一律用 Post。
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stopCh:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.stopCh:
		return false
	}
}

// Do 投遞事件並等待執行完成
//
// 讀取 goroutine 使用 Do，保證同一連接的訊息依序處理（FIFO per connection）。
func (l *Loop) Do(fn func()) bool {
	done := make(chan struct{})
	ok := l.Post(func() {
		defer close(done)
		fn()
	})
	if !ok {
		return false
	}

	select {
	case <-done:
		return true
	case <-l.stopCh:
		return false
	}
}

// Stop 停止事件迴圈（可重複呼叫）
func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.stopCh)
	})
	l.wg.Wait()
}
