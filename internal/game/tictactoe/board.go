// Package tictactoe 實作雙人井字遊戲的房間協調
package tictactoe

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/koopa0/system-design/canvas-sync/pkg/errors"
)

// Mark 棋子，空字串表示空格
type Mark string

const (
	None Mark = ""
	X    Mark = "X"
	O    Mark = "O"
)

// Other 對手的棋子
func (m Mark) Other() Mark {
	if m == X {
		return O
	}
	return X
}

// MarshalJSON 空格輸出為 null
func (m Mark) MarshalJSON() ([]byte, error) {
	if m == None {
		return []byte("null"), nil
	}
	return json.Marshal(string(m))
}

// UnmarshalJSON 接受 null、"X"、"O"
func (m *Mark) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = None
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch Mark(s) {
	case X, O, None:
		*m = Mark(s)
		return nil
	}
	return fmt.Errorf("invalid mark %q", s)
}

// Board 9 格棋盤，索引 0-8 由左上到右下
type Board [9]Mark

// Lines 8 條勝利連線：3 橫、3 直、2 斜
var Lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// CheckWinner 返回第一條連成一線的棋子，沒有則返回 None
func CheckWinner(b Board) Mark {
	for _, line := range Lines {
		a := b[line[0]]
		if a != None && a == b[line[1]] && a == b[line[2]] {
			return a
		}
	}
	return None
}

// IsFull 棋盤是否已下滿
func (b Board) IsFull() bool {
	for _, c := range b {
		if c == None {
			return false
		}
	}
	return true
}

// Count 已下的棋子數
func (b Board) Count() int {
	n := 0
	for _, c := range b {
		if c != None {
			n++
		}
	}
	return n
}

// Players 兩個位置綁定的玩家 ID，空位輸出為 null
type Players struct {
	X *string `json:"X"`
	O *string `json:"O"`
}

// Get 取得位置上的玩家
func (p *Players) Get(m Mark) (string, bool) {
	slot := p.slot(m)
	if slot == nil || *slot == nil {
		return "", false
	}
	return **slot, true
}

// Set 綁定玩家，playerID 為空時清空位置
func (p *Players) Set(m Mark, playerID string) {
	slot := p.slot(m)
	if slot == nil {
		return
	}
	if playerID == "" {
		*slot = nil
		return
	}
	id := playerID
	*slot = &id
}

func (p *Players) slot(m Mark) **string {
	switch m {
	case X:
		return &p.X
	case O:
		return &p.O
	}
	return nil
}

// State 一局遊戲的權威狀態
type State struct {
	Board         Board   `json:"board"`
	CurrentPlayer Mark    `json:"currentPlayer"`
	Winner        Mark    `json:"winner"`
	IsDraw        bool    `json:"isDraw"`
	GameID        string  `json:"gameId"`
	Players       Players `json:"players"`
}

// NewState 空棋盤，X 先手
func NewState(gameID string) *State {
	return &State{
		CurrentPlayer: X,
		GameID:        gameID,
	}
}

// Finished 是否已分出勝負或平手
func (s *State) Finished() bool {
	return s.Winner != None || s.IsDraw
}

// Move 下一步棋
//
// 被拒絕時狀態不變。遊戲結束時不切換 currentPlayer。
func (s *State) Move(pos int, mark Mark) error {
	invalid := apperrors.Illegal("Invalid move")

	switch {
	case pos < 0 || pos >= len(s.Board):
		return invalid.WithDetails("position out of range")
	case s.Finished():
		return invalid.WithDetails("game is over")
	case s.CurrentPlayer != mark:
		return invalid.WithDetails("not your turn")
	case s.Board[pos] != None:
		return invalid.WithDetails("cell occupied")
	}

	s.Board[pos] = mark
	s.Winner = CheckWinner(s.Board)
	s.IsDraw = s.Winner == None && s.Board.IsFull()

	if !s.Finished() {
		s.CurrentPlayer = mark.Other()
	}
	return nil
}

// Reset 清空棋盤，保留玩家綁定
func (s *State) Reset() {
	s.Board = Board{}
	s.CurrentPlayer = X
	s.Winner = None
	s.IsDraw = false
}

// Snapshot 深拷貝，用於廣播與事件
func (s *State) Snapshot() State {
	cp := *s
	cp.Players = Players{}
	if id, ok := s.Players.Get(X); ok {
		cp.Players.Set(X, id)
	}
	if id, ok := s.Players.Get(O); ok {
		cp.Players.Set(O, id)
	}
	return cp
}
