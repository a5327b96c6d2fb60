// Package auth 驗證客戶端在握手訊息中提供的 token
//
// token 的簽發屬於外部服務，這裡只負責查核。
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/koopa0/system-design/canvas-sync/pkg/errors"
)

// Validator 驗證 userID 與 token 是否匹配
type Validator interface {
	Validate(ctx context.Context, userID, token string) error
}

// StaticValidator 接受任何非空 token（開發模式）
type StaticValidator struct{}

// Validate 實現 Validator
func (StaticValidator) Validate(_ context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return apperrors.ErrInvalidToken
	}
	return nil
}

// RedisValidator 以 Redis 中的 session 驗證 token
//
// 外部登入服務寫入 <prefix><token> → userID，這裡只讀取。
type RedisValidator struct {
	client *redis.Client
	prefix string
}

// NewRedisValidator 創建 Redis 驗證器
func NewRedisValidator(client *redis.Client, prefix string) *RedisValidator {
	return &RedisValidator{
		client: client,
		prefix: prefix,
	}
}

// Validate 實現 Validator
func (v *RedisValidator) Validate(ctx context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return apperrors.ErrInvalidToken
	}

	owner, err := v.client.Get(ctx, v.prefix+token).Result()
	if errors.Is(err, redis.Nil) {
		return apperrors.ErrInvalidToken
	}
	if err != nil {
		return fmt.Errorf("lookup session: %w", err)
	}

	if owner != userID {
		return apperrors.ErrInvalidToken.WithDetails("token belongs to another user")
	}
	return nil
}

// Issue 寫入 session，供本地開發與測試使用
func (v *RedisValidator) Issue(ctx context.Context, userID, token string, ttl time.Duration) error {
	if err := v.client.Set(ctx, v.prefix+token, userID, ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}
