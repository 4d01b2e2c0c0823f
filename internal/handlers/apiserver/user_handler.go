package apiserver

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"chatline/internal/apperr"
	"chatline/internal/services"
)

// UserHandler 封装了用户资料、状态以及私信入口的 HTTP 处理器方法。
type UserHandler struct {
	userService    services.UserService
	channelService services.ChannelService
	log            *zap.Logger
}

// NewUserHandler 创建一个新的 UserHandler 实例。
func NewUserHandler(userService services.UserService, channelService services.ChannelService, log *zap.Logger) *UserHandler {
	return &UserHandler{userService: userService, channelService: channelService, log: log}
}

// UpdateStatusRequest 是设置在线状态的请求体。
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateSettingsRequest 是部分更新资料的请求体，缺省字段保持不变。
// birthday 使用 YYYY-MM-DD 或 RFC3339 格式。
type UpdateSettingsRequest struct {
	DisplayName *string `json:"displayName"`
	About       *string `json:"about"`
	Birthday    *string `json:"birthday"`
	AvatarURL   *string `json:"avatarUrl"`
}

// MessageUserRequest 是给用户发私信的请求体，content 可以为空。
type MessageUserRequest struct {
	Content string `json:"content"`
}

var errInvalidBirthday = apperr.Validation([]apperr.FieldError{{Field: "birthday", Message: "must be a date (YYYY-MM-DD)"}})

// GetCurrentUser 返回当前用户的完整视图。GET /api/users
func (h *UserHandler) GetCurrentUser(w http.ResponseWriter, r *http.Request) {
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

// GetUser 返回其他用户的公开资料。GET /api/users/{id}
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	if _, ok := actorID(w, r); !ok {
		return
	}
	view, err := h.userService.GetUser(r.Context(), pathVar(r, "id"))
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// UpdateStatus POST /api/users/status
func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	view, err := h.userService.UpdateStatus(r.Context(), userID, req.Status)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// UpdateSettings POST /api/users/settings
func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	var req UpdateSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	input := services.UpdateSettingsInput{
		DisplayName: req.DisplayName,
		About:       req.About,
		AvatarURL:   req.AvatarURL,
	}
	if req.Birthday != nil {
		birthday, err := parseBirthday(*req.Birthday)
		if err != nil {
			writeJSONError(h.log, w, r, errInvalidBirthday)
			return
		}
		input.Birthday = &birthday
	}
	view, err := h.userService.UpdateSettings(r.Context(), userID, input)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

func parseBirthday(raw string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, raw)
}

// MessageUser 打开（或复用）与对方的私信频道，content 非空时顺带发送。
// 新建频道返回 201，否则 200。POST /api/users/{id}/message
func (h *UserHandler) MessageUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	var req MessageUserRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	result, err := h.channelService.MessageUser(r.Context(), userID, pathVar(r, "id"), req.Content)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, result)
}
