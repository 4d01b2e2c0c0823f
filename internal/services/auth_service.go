package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"chatline/internal/apperr"
	"chatline/internal/auth"
	"chatline/internal/config"
	"chatline/internal/models"
	"chatline/internal/storage"
)

const (
	MinPasswordLength = 4
	// bcrypt 只使用前 72 字节
	MaxPasswordLength = 72
)

// revokeWithoutExpiry is how long a token without exp stays revoked.
const revokeWithoutExpiry = 10 * 365 * 24 * time.Hour

var usernamePattern = regexp.MustCompile(`^[a-z0-9]{3,20}$`)

// SignupInput 是注册请求体。
type SignupInput struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthService 定义了用户认证服务的接口。
type AuthService interface {
	Signup(ctx context.Context, input SignupInput) (*models.AuthResult, error)
	// Login accepts a username or an email as identifier.
	Login(ctx context.Context, identifier, password string) (*models.AuthResult, error)
	// Authenticate verifies a bearer token against its owner's current secret.
	Authenticate(ctx context.Context, token string) (*models.User, *auth.Claims, error)
	UpdatePassword(ctx context.Context, userID, current, next string) (*models.AuthResult, error)
	// Logout revokes the token until it would have expired. Without a revocation store it is a no-op.
	Logout(ctx context.Context, claims *auth.Claims) error
}

// authService 是 AuthService 的实现。
type authService struct {
	users       storage.UserRepository
	profiles    UserService
	revocations auth.RevocationStore
	hasher      auth.Hasher
	cfg         config.AuthConfig
	log         *zap.Logger
}

// NewAuthService 创建一个新的 AuthService 实例。revocations 可为 nil。
func NewAuthService(users storage.UserRepository, profiles UserService, revocations auth.RevocationStore, cfg config.AuthConfig, log *zap.Logger) AuthService {
	return &authService{
		users:       users,
		profiles:    profiles,
		revocations: revocations,
		hasher:      auth.NewHasher(cfg.BcryptCost),
		cfg:         cfg,
		log:         log.Named("auth"),
	}
}

func validatePassword(field, password string) *apperr.FieldError {
	switch {
	case len(password) < MinPasswordLength:
		return &apperr.FieldError{Field: field, Message: fmt.Sprintf("must be at least %d characters", MinPasswordLength)}
	case len(password) > MaxPasswordLength:
		return &apperr.FieldError{Field: field, Message: fmt.Sprintf("must be at most %d bytes", MaxPasswordLength)}
	}
	return nil
}

func validateSignup(input SignupInput) error {
	var fields []apperr.FieldError
	if addr, err := mail.ParseAddress(input.Email); err != nil || addr.Address != input.Email {
		fields = append(fields, apperr.FieldError{Field: "email", Message: "must be a valid email address"})
	}
	if !usernamePattern.MatchString(input.Username) {
		fields = append(fields, apperr.FieldError{Field: "username", Message: "must be 3-20 letters or digits"})
	}
	if fe := validatePassword("password", input.Password); fe != nil {
		fields = append(fields, *fe)
	}
	if len(fields) > 0 {
		return apperr.Validation(fields)
	}
	return nil
}

// Signup 处理用户注册逻辑。
func (s *authService) Signup(ctx context.Context, input SignupInput) (*models.AuthResult, error) {
	input.Email = strings.ToLower(strings.TrimSpace(input.Email))
	input.Username = strings.ToLower(strings.TrimSpace(input.Username))
	if err := validateSignup(input); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByEmailOrUsername(ctx, input.Email, input.Username)
	if err != nil {
		return nil, storeErr(err, nil, "检查用户名和邮箱失败")
	}
	if exists {
		return nil, ErrUserExists
	}

	hash, err := s.hashPassword("password", input.Password)
	if err != nil {
		return nil, err
	}
	user := &models.User{
		Email:          input.Email,
		Username:       input.Username,
		CredentialHash: hash,
	}
	if err := s.users.Create(ctx, user); err != nil {
		// 并发注册同名用户时由唯一索引兜底
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUserExists
		}
		return nil, storeErr(err, nil, "创建用户失败")
	}
	s.log.Info("新用户注册", zap.String("user", user.ID), zap.String("username", user.Username))
	return s.issue(ctx, user)
}

// Login 处理用户登录逻辑。
func (s *authService) Login(ctx context.Context, identifier, password string) (*models.AuthResult, error) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.FindByIdentifier(ctx, identifier)
	if err != nil {
		return nil, storeErr(err, nil, "查找用户失败")
	}
	// 用户不存在与密码错误返回同一个错误
	if user == nil || !s.hasher.Matches(password, user.CredentialHash) {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, user)
}

func (s *authService) Authenticate(ctx context.Context, token string) (*models.User, *auth.Claims, error) {
	unverified, err := auth.DecodeUnverified(token)
	if err != nil {
		return nil, nil, ErrInvalidToken
	}
	userID, ok := storage.NormalizeID(unverified.UserID)
	if !ok {
		return nil, nil, ErrInvalidToken
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, storeErr(err, nil, "加载令牌用户失败")
	}

	claims, err := auth.ValidateToken(ctx, token, user.CredentialHash, s.revocations)
	if err != nil {
		if errors.Is(err, auth.ErrTokenInvalid) || errors.Is(err, auth.ErrTokenRevoked) {
			return nil, nil, ErrInvalidToken
		}
		return nil, nil, apperr.Internal(err)
	}
	if claims.UserID != unverified.UserID {
		return nil, nil, ErrInvalidToken
	}
	return user, claims, nil
}

func (s *authService) UpdatePassword(ctx context.Context, userID, current, next string) (*models.AuthResult, error) {
	if fe := validatePassword("newPassword", next); fe != nil {
		return nil, apperr.Validation([]apperr.FieldError{*fe})
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, storeErr(err, ErrUserNotFound, "加载当前用户失败")
	}
	if !s.hasher.Matches(current, user.CredentialHash) {
		return nil, ErrInvalidCredentials
	}

	hash, err := s.hashPassword("newPassword", next)
	if err != nil {
		return nil, err
	}
	if err := s.users.UpdateCredentialHash(ctx, userID, hash); err != nil {
		return nil, storeErr(err, ErrUserNotFound, "更新密码失败")
	}
	user.CredentialHash = hash
	s.log.Info("用户已修改密码", zap.String("user", userID))
	return s.issue(ctx, user)
}

func (s *authService) Logout(ctx context.Context, claims *auth.Claims) error {
	if err := auth.RevokeClaims(ctx, s.revocations, claims, revokeWithoutExpiry); err != nil {
		return apperr.Internal(fmt.Errorf("吊销令牌失败: %w", err))
	}
	if s.revocations != nil && claims != nil {
		s.log.Debug("令牌已吊销", zap.String("user", claims.UserID), zap.String("jti", claims.ID))
	}
	return nil
}

// hashPassword 把 bcrypt 的长度限制报告为字段校验错误。
func (s *authService) hashPassword(field, password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return "", apperr.Validation([]apperr.FieldError{{Field: field, Message: fmt.Sprintf("must be at most %d bytes", MaxPasswordLength)}})
	}
	if err != nil {
		return "", apperr.Internal(fmt.Errorf("密码哈希失败: %w", err))
	}
	return hash, nil
}

func (s *authService) issue(ctx context.Context, user *models.User) (*models.AuthResult, error) {
	token, _, err := auth.GenerateToken(user.ID, user.CredentialHash, s.cfg)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	view, err := s.profiles.GetCurrentUser(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	return &models.AuthResult{Token: token, User: *view}, nil
}
