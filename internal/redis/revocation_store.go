package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chatline/internal/auth"
)

const revokedKeyPrefix = "chatline:revoked:"

// revocationStore 把吊销的 JTI 存成带 TTL 的键，令牌过期后键自动消失。
type revocationStore struct {
	client redis.UniversalClient
}

// NewRevocationStore 创建基于 Redis 的 auth.RevocationStore。
func NewRevocationStore(client redis.UniversalClient) auth.RevocationStore {
	return &revocationStore{client: client}
}

func (s *revocationStore) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		// 已过期的令牌过不了签名校验
		return nil
	}
	if err := s.client.Set(ctx, revokedKeyPrefix+jti, time.Now().Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("写入吊销记录失败 (jti=%s): %w", jti, err)
	}
	return nil
}

func (s *revocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("查询吊销记录失败 (jti=%s): %w", jti, err)
	}
	return n > 0, nil
}
