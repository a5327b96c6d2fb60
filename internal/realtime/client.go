package realtime

import (
	"encoding/json"
	"log/slog"
)

// Client 一個可以接收訊息的連接
//
// Send 必須是非阻塞的：Manager 在事件迴圈中呼叫它，
// 慢客戶端不能拖累整個房間。
type Client interface {
	ID() string
	Send(msg any)
}

// Endpoint 由各個 Manager 實作，Server 依路徑把連接交給對應的 Endpoint
type Endpoint interface {
	Connect(c Client)
	Receive(c Client, data []byte)
	Disconnect(c Client)
}

// Broadcast 廣播訊息給一組客戶端，except 不為 nil 時跳過該客戶端
//
// 只序列化一次，再以 RawMessage 分發。
func Broadcast(clients []Client, msg any, except Client, logger *slog.Logger) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("序列化廣播訊息失敗", "error", err)
		return
	}

	raw := json.RawMessage(data)
	for _, c := range clients {
		if except != nil && c.ID() == except.ID() {
			continue
		}
		c.Send(raw)
	}
}
