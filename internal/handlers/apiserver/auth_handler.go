package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"chatline/internal/middleware"
	"chatline/internal/services"
)

// AuthHandler 封装了认证相关的 HTTP 处理器方法。
type AuthHandler struct {
	authService services.AuthService
	userService services.UserService
	log         *zap.Logger
}

// NewAuthHandler 创建一个新的 AuthHandler 实例。
func NewAuthHandler(authService services.AuthService, userService services.UserService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, userService: userService, log: log}
}

// LoginRequest 是用户登录请求的结构体。identifier 可以是用户名或邮箱。
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// UpdatePasswordRequest 是修改密码请求的结构体。
type UpdatePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// Signup 处理用户注册请求。PUT /api/auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req services.SignupInput
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	result, err := h.authService.Signup(r.Context(), req)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, result)
}

// Login 处理用户登录请求。POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	result, err := h.authService.Login(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// TestToken 返回令牌所属用户的完整视图。GET /api/auth
func (h *AuthHandler) TestToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	view, err := h.userService.GetCurrentUser(r.Context(), userID)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// UpdatePassword 修改密码并签发新令牌。PUT /api/auth/password
func (h *AuthHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	var req UpdatePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	result, err := h.authService.UpdatePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// Logout 将当前令牌加入黑名单。POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetClaimsFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, errNoIdentity)
		return
	}
	if err := h.authService.Logout(r.Context(), claims); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messageResponse{Message: "logged out"})
}
