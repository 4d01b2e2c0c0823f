package auth

import "golang.org/x/crypto/bcrypt"

// Hasher 负责密码哈希与比对。零值使用 bcrypt.DefaultCost。
type Hasher struct {
	Cost int
}

// NewHasher 创建一个使用给定 cost 的 Hasher。
func NewHasher(cost int) Hasher {
	return Hasher{Cost: cost}
}

// Hash 返回 plaintext 的 bcrypt 哈希。超过 72 字节的密码返回 bcrypt.ErrPasswordTooLong。
func (h Hasher) Hash(plaintext string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Matches reports whether plaintext hashes to hash. A corrupt hash never matches.
func (h Hasher) Matches(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
