package auth

import (
	"context"
	"time"
)

// RevocationStore 记录被主动注销的令牌 (按 JTI)。
type RevocationStore interface {
	// Revoke 使 jti 在 until 之前一直处于吊销状态。
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// RevokeClaims 吊销 claims 对应的令牌，直到它原本的过期时间。
// 没有 exp 的令牌吊销 noExpiry 这么久。store 为 nil 或令牌没有 JTI 时什么也不做。
func RevokeClaims(ctx context.Context, store RevocationStore, claims *Claims, noExpiry time.Duration) error {
	if store == nil || claims == nil || claims.ID == "" {
		return nil
	}
	until := time.Now().Add(noExpiry)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	return store.Revoke(ctx, claims.ID, until)
}
