// Package errors 提供即時同步服務的錯誤分類
//
// 所有被拒絕的客戶端操作都以 AppError 表示，
// Manager 再把它轉成只送回給發送者的 error 訊息。
package errors

import (
	"errors"
	"fmt"
)

// 定義錯誤碼
const (
	// ErrCodeInvalidMessage 無法解析的 JSON 或缺少必要欄位
	ErrCodeInvalidMessage = "INVALID_MESSAGE"
	// ErrCodeUnknownType 未知的訊息類型
	ErrCodeUnknownType = "UNKNOWN_TYPE"
	// ErrCodeUnauthenticated 尚未通過驗證
	ErrCodeUnauthenticated = "UNAUTHENTICATED"
	// ErrCodeRoomFull 房間容量已滿
	ErrCodeRoomFull = "ROOM_FULL"
	// ErrCodeIllegalState 當前狀態不允許此操作
	ErrCodeIllegalState = "ILLEGAL_STATE"
	// ErrCodeNotFound 資源未找到
	ErrCodeNotFound = "NOT_FOUND"
	// ErrCodeInternal 內部錯誤
	ErrCodeInternal = "INTERNAL_ERROR"
)

// AppError 應用程式錯誤
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對，讓 errors.Is(err, ErrRoomFull) 可用
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New 創建新的應用程式錯誤
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包裝錯誤
func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithDetails 返回帶有詳細資訊的副本，預定義錯誤不會被修改
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// Invalid 建立 INVALID_MESSAGE 錯誤
func Invalid(message string) *AppError {
	return New(ErrCodeInvalidMessage, message)
}

// Illegal 建立 ILLEGAL_STATE 錯誤
func Illegal(message string) *AppError {
	return New(ErrCodeIllegalState, message)
}

// 預定義錯誤
var (
	// ErrInvalidJSON 無法解析的訊息
	ErrInvalidJSON = New(ErrCodeInvalidMessage, "Invalid JSON format")

	// ErrAuthRequired 加入房間前必須先驗證
	ErrAuthRequired = New(ErrCodeUnauthenticated, "Authentication required before joining room")

	// ErrInvalidToken token 驗證失敗
	ErrInvalidToken = New(ErrCodeUnauthenticated, "Invalid or expired token")

	// ErrRoomFull 房間已滿
	ErrRoomFull = New(ErrCodeRoomFull, "Game room is full")

	// ErrRoomNotFound 房間不存在
	ErrRoomNotFound = New(ErrCodeNotFound, "Game room not found")

	// ErrNotInRoom 需要先加入房間
	ErrNotInRoom = New(ErrCodeIllegalState, "Join a room first")
)

// Code 取出錯誤碼，非 AppError 一律視為內部錯誤
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// Message 取出可以回傳給客戶端的訊息
//
// 非 AppError 不外洩內部細節。
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "Internal server error"
}

// IsNotFound 檢查是否為未找到錯誤
func IsNotFound(err error) bool {
	return Code(err) == ErrCodeNotFound
}

// IsRoomFull 檢查是否為房間已滿錯誤
func IsRoomFull(err error) bool {
	return Code(err) == ErrCodeRoomFull
}

// IsIllegalState 檢查是否為非法狀態轉換
func IsIllegalState(err error) bool {
	return Code(err) == ErrCodeIllegalState
}

// IsUnauthenticated 檢查是否為驗證錯誤
func IsUnauthenticated(err error) bool {
	return Code(err) == ErrCodeUnauthenticated
}
