// Package results 把結束的對局寫入 PostgreSQL
//
// 系統設計問題：
// 遊戲狀態只存在記憶體，房間清空就消失，無法查詢歷史戰績。
//
// 設計方案：
//   - ✅ Store 實作 events.Publisher，只處理 game_finished，其他事件直接忽略
//   - ✅ 寫入在事件 Bus 的背景 worker 中進行，不會阻塞事件迴圈
//   - ✅ 對局快照以 JSONB 保存，資料表結構不必跟著遊戲狀態演進
package results

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/system-design/canvas-sync/internal/events"
)

// Result 一筆對局結果
type Result struct {
	ID         int64           `json:"id"`
	Namespace  string          `json:"namespace"`
	RoomID     string          `json:"roomId"`
	Winner     string          `json:"winner,omitempty"`
	IsDraw     bool            `json:"isDraw"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// DefaultRecentLimit Recent 的預設筆數
const DefaultRecentLimit = 20

// Store 對局結果存儲
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore 創建對局結果存儲
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{pool: pool, logger: logger}
}

const insertResult = `
INSERT INTO game_results (namespace, room_id, winner, is_draw, payload, finished_at)
VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6)`

// Publish 實現 events.Publisher
func (s *Store) Publish(ctx context.Context, e events.Event) error {
	if e.Kind != events.KindGameFinished {
		return nil
	}

	payload := []byte(e.Data)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	finishedAt := e.Timestamp
	if finishedAt.IsZero() {
		finishedAt = time.Now().UTC()
	}

	if _, err := s.pool.Exec(ctx, insertResult,
		e.Namespace, e.RoomID, e.Winner, e.Draw, payload, finishedAt,
	); err != nil {
		return fmt.Errorf("寫入對局結果失敗: %w", err)
	}

	s.logger.Debug("對局結果已保存", "namespace", e.Namespace, "room_id", e.RoomID, "winner", e.Winner)
	return nil
}

const selectRecent = `
SELECT id, namespace, room_id, COALESCE(winner, ''), is_draw, payload, finished_at
FROM game_results
ORDER BY finished_at DESC, id DESC
LIMIT $1`

// Recent 最近的對局結果，新的在前
func (s *Store) Recent(ctx context.Context, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := s.pool.Query(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("查詢對局結果失敗: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Result, error) {
		var (
			r       Result
			payload []byte
		)
		err := row.Scan(&r.ID, &r.Namespace, &r.RoomID, &r.Winner, &r.IsDraw, &payload, &r.FinishedAt)
		r.Payload = payload
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("讀取對局結果失敗: %w", err)
	}
	return out, nil
}

// Ping 檢查資料庫連線
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
