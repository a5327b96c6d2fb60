// Package handler 組裝 HTTP 路由
package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/koopa0/system-design/canvas-sync/internal/canvas"
	"github.com/koopa0/system-design/canvas-sync/internal/game/tictactoe"
	"github.com/koopa0/system-design/canvas-sync/internal/game/typing"
	"github.com/koopa0/system-design/canvas-sync/internal/realtime"
	"github.com/koopa0/system-design/canvas-sync/internal/results"
)

// WebSocket 路徑
const (
	PathCanvas = "/ws/shared-canvas"
	PathTyping = "/ws/typing-game"
)

// ResultLister 最近對局結果的來源
type ResultLister interface {
	Recent(ctx context.Context, limit int) ([]results.Result, error)
}

// Deps Handler 依賴
type Deps struct {
	Server    *realtime.Server
	Canvas    *canvas.Manager
	TicTacToe *tictactoe.Manager
	Typing    *typing.Manager
	Results   ResultLister // 可選，未啟用 PostgreSQL 時為 nil
}

// Handler HTTP 請求處理器
type Handler struct {
	deps   Deps
	logger *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(deps Deps, logger *slog.Logger) *Handler {
	return &Handler{
		deps:   deps,
		logger: logger,
	}
}

// Routes 設定路由
//
// WebSocket 依路徑前綴分流，其他任何路徑都進入井字遊戲。
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(h.recoverer, h.loggerMiddleware)

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.stats).Methods(http.MethodGet)

	r.PathPrefix(PathCanvas).Handler(h.deps.Server.Serve(h.deps.Canvas))
	r.PathPrefix(PathTyping).Handler(h.deps.Server.Serve(h.deps.Typing))
	r.PathPrefix("/").Handler(h.deps.Server.Serve(h.deps.TicTacToe))

	return r
}

// Health 健康檢查資料
type Health struct {
	Status                 string `json:"status"`
	ActiveGames            int    `json:"activeGames"`
	ActiveSpeedTypingGames int    `json:"activeSpeedTypingGames"`
	TotalActiveGames       int    `json:"totalActiveGames"`
	CanvasRooms            int    `json:"canvasRooms"`
	TotalConnections       int    `json:"totalConnections"`
}

// HealthStats 收集各 Manager 的房間數，也用於定期統計日誌
func (h *Handler) HealthStats() Health {
	ttt := h.deps.TicTacToe.ActiveGames()
	typ := h.deps.Typing.ActiveGames()

	return Health{
		Status:                 "ok",
		ActiveGames:            ttt,
		ActiveSpeedTypingGames: typ,
		TotalActiveGames:       ttt + typ,
		CanvasRooms:            h.deps.Canvas.RoomCount(),
		TotalConnections:       h.deps.Server.ConnectionCount(),
	}
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.HealthStats(), http.StatusOK)
}

type statsResponse struct {
	Canvas  canvas.Stats     `json:"canvas"`
	Results []results.Result `json:"recentResults,omitempty"`
}

// stats 畫布房間統計與最近對局
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{Canvas: h.deps.Canvas.Stats()}

	if h.deps.Results != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		recent, err := h.deps.Results.Recent(ctx, results.DefaultRecentLimit)
		if err != nil {
			// 統計仍然返回，只是少了對局紀錄
			h.logger.Warn("查詢最近對局失敗", "error", err)
		} else {
			resp.Results = recent
		}
	}

	h.jsonResponse(w, resp, http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
func (h *Handler) errorResponse(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, map[string]any{
		"error": message,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(ww, r)

		// WebSocket 連接在升級後才返回，耗時沒有意義
		if ww.hijacked {
			h.logger.Debug("WebSocket 升級", "path", r.URL.Path)
			return
		}

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	})
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.errorResponse(w, "內部伺服器錯誤", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
//
// WebSocket 升級需要 Hijack，包裝後仍要能取得底層連接。
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	hijacked   bool
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	conn, rw, err := hj.Hijack()
	if err == nil {
		w.hijacked = true
		w.statusCode = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
