// Package typing 實作雙人打字競速的房間協調
//
// 狀態機：waiting → countdown → active → finished，reset 從任何狀態回到 waiting。
// countdown → active 由伺服器計時器驅動，是唯一不需要客戶端訊息的狀態轉換。
package typing

import (
	"math/rand/v2"
	"time"

	apperrors "github.com/koopa0/system-design/canvas-sync/pkg/errors"
)

// Status 遊戲狀態
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCountdown Status = "countdown"
	StatusActive    Status = "active"
	StatusFinished  Status = "finished"
)

// MaxPlayers 每局玩家上限
const MaxPlayers = 2

// 固定文章庫
var passages = []string{
	"The quick brown fox jumps over the lazy dog. This pangram contains every letter of the alphabet and is perfect for typing practice.",
	"Technology has revolutionized the way we communicate, work, and live. From smartphones to artificial intelligence, innovation continues to shape our future.",
	"The art of programming requires patience, logic, and creativity. Every line of code tells a story and solves a problem in the digital world.",
	"Nature's beauty can be found in the smallest details: dewdrops on spider webs, colorful autumn leaves, and the gentle sound of flowing streams.",
	"Success is not final, failure is not fatal: it is the courage to continue that counts. Every challenge is an opportunity to grow and learn.",
	"The ocean waves crashed against the rocky shore as seagulls soared overhead. The salty breeze carried the scent of adventure and endless possibilities.",
	"Music has the power to transport us to different worlds and evoke emotions we never knew existed. Every melody tells a story without words.",
	"Science is built upon curiosity and the desire to understand the world around us. Each discovery opens new doors to knowledge and possibility.",
	"Books are windows to countless worlds, each page offering new adventures and perspectives that broaden our understanding of life itself.",
	"Friendship is one of life's greatest treasures. True friends support each other through both joyful celebrations and challenging times ahead.",
}

// Passages 文章庫的副本
func Passages() []string {
	return append([]string(nil), passages...)
}

// RandomPassage 隨機挑一篇
func RandomPassage() string {
	return passages[rand.IntN(len(passages))]
}

// 狀態轉換錯誤
var (
	ErrRoomFull       = apperrors.New(apperrors.ErrCodeRoomFull, "Game room is full (maximum 2 players)")
	ErrNotEnough      = apperrors.Illegal("Need at least 2 players to start")
	ErrAlreadyStarted = apperrors.Illegal("Game is already started or in progress")
)

// Player 玩家成績
type Player struct {
	ID         string  `json:"id"`
	WPM        float64 `json:"wpm"`
	Progress   float64 `json:"progress"`
	Finished   bool    `json:"finished"`
	FinishTime *int64  `json:"finishTime,omitempty"`
}

// State 一局遊戲的權威狀態
type State struct {
	Text           string             `json:"text"`
	Players        map[string]*Player `json:"players"`
	GameID         string             `json:"gameId"`
	IsActive       bool               `json:"isActive"`
	StartTime      *int64             `json:"startTime,omitempty"`
	Winner         string             `json:"winner,omitempty"`
	GameStatus     Status             `json:"gameStatus"`
	CountdownValue *int               `json:"countdownValue,omitempty"`
}

// NewState 等待中的新遊戲，文章隨機挑選
func NewState(gameID string) *State {
	return &State{
		Text:       RandomPassage(),
		Players:    make(map[string]*Player),
		GameID:     gameID,
		GameStatus: StatusWaiting,
	}
}

// AddPlayer 加入玩家，已存在時不變
func (s *State) AddPlayer(id string) error {
	if _, ok := s.Players[id]; ok {
		return nil
	}
	if len(s.Players) >= MaxPlayers {
		return ErrRoomFull
	}
	s.Players[id] = &Player{ID: id}
	return nil
}

// RemovePlayer 移除玩家
//
// 剩不到 2 人時，進行中或倒數中的遊戲退回 waiting，
// 留下的玩家不會卡在一場無法完成的遊戲裡。
func (s *State) RemovePlayer(id string) {
	delete(s.Players, id)

	if len(s.Players) >= MaxPlayers {
		return
	}
	if s.GameStatus == StatusActive || s.GameStatus == StatusCountdown {
		s.GameStatus = StatusWaiting
		s.IsActive = false
		s.CountdownValue = nil
		s.StartTime = nil
	}
}

// StartCountdown 開始倒數
func (s *State) StartCountdown(from int) error {
	if len(s.Players) < MaxPlayers {
		return ErrNotEnough
	}
	if s.GameStatus != StatusWaiting {
		return ErrAlreadyStarted
	}

	s.GameStatus = StatusCountdown
	s.CountdownValue = &from
	return nil
}

// Tick 倒數減一，返回剩餘值
func (s *State) Tick() int {
	if s.CountdownValue == nil {
		return 0
	}
	next := *s.CountdownValue - 1
	if next < 0 {
		next = 0
	}
	s.CountdownValue = &next
	return next
}

// Begin 倒數結束，遊戲開始
func (s *State) Begin(now time.Time) {
	start := now.UnixMilli()
	s.GameStatus = StatusActive
	s.IsActive = true
	s.StartTime = &start
	s.CountdownValue = nil
}

// UpdateProgress 更新玩家進度
//
// progress 夾在 0 到 100 之間。第一個 finished 的玩家成為勝者，勝者只設定一次。
// 返回值表示這次更新是否結束了遊戲。
func (s *State) UpdateProgress(id string, progress, wpm float64, finished bool, finishTime *int64) (won bool) {
	p, ok := s.Players[id]
	if !ok || s.GameStatus != StatusActive {
		return false
	}

	p.Progress = min(max(progress, 0), 100)
	p.WPM = wpm
	p.Finished = finished
	p.FinishTime = finishTime

	if finished && s.Winner == "" {
		s.Winner = id
		s.GameStatus = StatusFinished
		s.IsActive = false
		return true
	}
	return false
}

// Reset 換一篇文章，清空成績，回到 waiting
func (s *State) Reset() {
	for _, p := range s.Players {
		p.WPM = 0
		p.Progress = 0
		p.Finished = false
		p.FinishTime = nil
	}

	s.Text = RandomPassage()
	s.IsActive = false
	s.StartTime = nil
	s.Winner = ""
	s.GameStatus = StatusWaiting
	s.CountdownValue = nil
}

// Snapshot 深拷貝，用於廣播與事件
func (s *State) Snapshot() State {
	cp := *s
	cp.Players = make(map[string]*Player, len(s.Players))
	for id, p := range s.Players {
		v := *p
		cp.Players[id] = &v
	}
	return cp
}
