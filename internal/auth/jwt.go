package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"chatline/internal/config"
)

var (
	ErrTokenMalformed = errors.New("令牌格式无效")
	ErrTokenInvalid   = errors.New("令牌无效")
	ErrTokenRevoked   = errors.New("令牌已被吊销")
)

// Claims 是 JWT 中的自定义声明。
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// GenerateToken 为指定用户签发令牌。
// secret 是该用户当前的密码哈希：修改密码后所有旧令牌随之失效。
func GenerateToken(userID string, secret string, authCfg config.AuthConfig) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       uuid.NewString(),
			Subject:  userID,
			IssuedAt: jwt.NewNumericDate(now),
			Issuer:   authCfg.Issuer,
		},
	}
	if authCfg.JWTExpiry != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(authCfg.JWTExpiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", nil, fmt.Errorf("生成 JWT 失败: %w", err)
	}
	return signed, claims, nil
}

// DecodeUnverified 读取令牌中的声明但不校验签名，用于在取得用户密钥之前定位用户。
// 返回的声明不可信，必须随后调用 ValidateToken。
func DecodeUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if claims.UserID == "" {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

// ValidateToken 使用用户密钥校验令牌签名与有效期，并检查吊销表（revocations 可为 nil）。
func ValidateToken(ctx context.Context, tokenString string, secret string, revocations RevocationStore) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if revocations != nil && claims.ID != "" {
		revoked, err := revocations.IsRevoked(ctx, claims.ID)
		if err != nil {
			// 吊销表不可用时拒绝，而不是放行
			return nil, fmt.Errorf("检查令牌吊销状态失败: %w", err)
		}
		if revoked {
			return nil, ErrTokenRevoked
		}
	}
	return claims, nil
}
