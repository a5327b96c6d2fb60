package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn WebSocket 連接
//
// 每個連接兩個 goroutine：
//   - readPump：讀取訊息並交給 Endpoint（經由 Manager 的事件迴圈）
//   - writePump：從 send 佇列寫出訊息並定期發送 Ping
type Conn struct {
	id     string
	ws     *websocket.Conn
	send   chan []byte
	server *Server
	mu     sync.Mutex
	closed bool
}

// ID 連接 ID
func (c *Conn) ID() string {
	return c.id
}

// Send 非阻塞發送
//
// 緩衝區滿時丟棄訊息，避免慢客戶端拖累整個房間。
func (c *Conn) Send(msg any) {
	var data []byte
	switch v := msg.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(msg)
		if err != nil {
			c.server.logger.Error("序列化訊息失敗", "conn_id", c.id, "error", err)
			return
		}
		data = b
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	select {
	case c.send <- data:
	default:
		c.server.logger.Warn("連接緩衝區滿，丟棄訊息", "conn_id", c.id)
	}
}

// close 關閉發送佇列（只執行一次）
func (c *Conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump 讀取客戶端消息
//
// 心跳機制（讀取端）：
//   - PongWait 內沒有收到任何訊息（包括 Pong）就關閉連接
//   - 收到 Pong → 重置讀取期限
//
// 結束時先通知 Endpoint 斷線，再關閉發送佇列。
// 順序很重要：Disconnect 處理完之後 Manager 不再持有這個連接，
// 之後才關閉 send，Send 永遠不會寫入已關閉的 channel。
func (c *Conn) readPump(ep Endpoint) {
	opts := c.server.opts

	defer func() {
		ep.Disconnect(c)
		c.server.unregister(c)
		c.close()
		c.ws.Close()
	}()

	c.ws.SetReadLimit(opts.MaxMessageSize)

	if err := c.ws.SetReadDeadline(time.Now().Add(opts.PongWait)); err != nil {
		c.server.logger.Error("設置讀取期限失敗", "error", err)
	}

	c.ws.SetPongHandler(func(string) error {
		if err := c.ws.SetReadDeadline(time.Now().Add(opts.PongWait)); err != nil {
			c.server.logger.Error("設置讀取期限失敗", "error", err)
		}
		return nil
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.server.logger.Debug("WebSocket 讀取結束", "conn_id", c.id, "error", err)
			}
			return
		}

		if messageType == websocket.TextMessage {
			ep.Receive(c, message)
		}
	}
}

// writePump 寫入消息到客戶端
//
// 心跳機制（發送端）：
//   - 每 PingPeriod 發送一次 Ping（預設 54 秒，小於 60 秒的讀取超時）
//   - 佇列中累積的訊息一次寫完，各自是獨立的 text frame
func (c *Conn) writePump() {
	opts := c.server.opts
	ticker := time.NewTicker(opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.ws.SetWriteDeadline(time.Now().Add(opts.WriteWait)); err != nil {
				c.server.logger.Error("設置寫入期限失敗", "error", err)
			}
			if !ok {
				// 佇列已關閉，嘗試優雅關閉連接，忽略錯誤（連接可能已關閉）
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					return
				}
				if err := c.ws.WriteMessage(websocket.TextMessage, next); err != nil {
					c.server.logger.Debug("發送消息失敗", "conn_id", c.id, "error", err)
					return
				}
			}

		case <-ticker.C:
			if err := c.ws.SetWriteDeadline(time.Now().Add(opts.WriteWait)); err != nil {
				c.server.logger.Error("設置寫入期限失敗", "error", err)
			}
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
