// Package realtime 提供 WebSocket 傳輸層與串行事件迴圈
//
// Server 負責升級連接與管理連接生命週期，
// Manager 透過 Endpoint 介面接收連接事件，
// 所有房間狀態的修改都在各自 Manager 的 Loop 中串行執行。
package realtime

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Options 傳輸層參數
type Options struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	PingPeriod      time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	// CheckOrigin 為 nil 時接受所有來源
	CheckOrigin func(r *http.Request) bool
}

// DefaultOptions 預設參數
func DefaultOptions() Options {
	return Options{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		PingPeriod:      54 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageSize:  1 << 20,
	}
}

// Server WebSocket 連接中心
type Server struct {
	opts     Options
	upgrader websocket.Upgrader
	conns    map[string]*Conn
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewServer 創建 WebSocket Server
func NewServer(opts Options, logger *slog.Logger) *Server {
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		// 驗證由外部服務在握手訊息中完成，這裡不限制來源
		checkOrigin = func(r *http.Request) bool { return true }
	}

	return &Server{
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.ReadBufferSize,
			WriteBufferSize: opts.WriteBufferSize,
			CheckOrigin:     checkOrigin,
		},
		conns:  make(map[string]*Conn),
		logger: logger,
	}
}

// Serve 返回把連接交給 ep 的 HTTP 處理函數
func (s *Server) Serve(ep Endpoint) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ws, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Error("升級 WebSocket 失敗", "path", r.URL.Path, "error", err)
			return
		}

		c := &Conn{
			id:     uuid.NewString(),
			ws:     ws,
			send:   make(chan []byte, s.opts.SendBuffer),
			server: s,
		}

		s.register(c)

		go c.writePump()

		// 先完成 Connect（握手訊息），再開始讀取
		ep.Connect(c)
		go c.readPump(ep)

		s.logger.Debug("WebSocket 連接建立", "conn_id", c.id, "path", r.URL.Path)
	}
}

// register 註冊連接
func (s *Server) register(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.id] = c
}

// unregister 取消註冊連接
func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, c.id)
}

// ConnectionCount 當前連接數
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Stop 關閉所有連接
//
// 只關閉底層連接，readPump 會照常走完斷線流程。
func (s *Server) Stop() {
	s.mu.RLock()
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.ws.Close()
	}

	s.logger.Info("WebSocket Server 已停止", "closed", len(conns))
}
