// Package realtimetest 提供測試 Manager 用的假連接
package realtimetest

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// Message 解析後的訊息
type Message map[string]any

// Type 訊息類型
func (m Message) Type() string {
	s, _ := m["type"].(string)
	return s
}

// Client 記錄所有收到的訊息，實作 realtime.Client
type Client struct {
	id   string
	mu   sync.Mutex
	msgs []Message
}

// NewClient 創建假連接
func NewClient(id string) *Client {
	return &Client{id: id}
}

// ID 連接 ID
func (c *Client) ID() string {
	return c.id
}

// Send 記錄訊息
func (c *Client) Send(msg any) {
	var data []byte
	switch v := msg.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(msg)
		if err != nil {
			panic(err)
		}
		data = b
	}

	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		panic(err)
	}

	c.mu.Lock()
	c.msgs = append(c.msgs, m)
	c.mu.Unlock()
}

// Messages 所有收到的訊息
func (c *Client) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.msgs...)
}

// OfType 指定類型的訊息
func (c *Client) OfType(typ string) []Message {
	var out []Message
	for _, m := range c.Messages() {
		if m.Type() == typ {
			out = append(out, m)
		}
	}
	return out
}

// Last 最後一則訊息，沒有訊息時返回 nil
func (c *Client) Last() Message {
	msgs := c.Messages()
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

// Reset 清空紀錄
func (c *Client) Reset() {
	c.mu.Lock()
	c.msgs = nil
	c.mu.Unlock()
}

// WaitFor 等待指定類型的訊息出現，返回最後一則
func (c *Client) WaitFor(t testing.TB, typ string) Message {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if msgs := c.OfType(typ); len(msgs) > 0 {
			return msgs[len(msgs)-1]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client %s: no %q message within 2s", c.id, typ)
	return nil
}

// Decode 把訊息轉成指定結構
func Decode(t testing.TB, m Message, v any) {
	t.Helper()

	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode message: %v", err)
	}
}
