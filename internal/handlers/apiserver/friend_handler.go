package apiserver

import (
	"net/http"

	"go.uber.org/zap"

	"chatline/internal/services"
)

// FriendHandler 处理好友请求、接受和删除。
type FriendHandler struct {
	friendshipService services.FriendshipService
	log               *zap.Logger
}

// NewFriendHandler 创建一个新的 FriendHandler 实例。
func NewFriendHandler(friendshipService services.FriendshipService, log *zap.Logger) *FriendHandler {
	return &FriendHandler{friendshipService: friendshipService, log: log}
}

// RequestOrAccept 向 {id}（id、用户名或邮箱）发送好友请求，
// 若对方已向自己发出请求则直接接受。POST /api/users/{id}/add
func (h *FriendHandler) RequestOrAccept(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	result, err := h.friendshipService.RequestOrAccept(r.Context(), userID, pathVar(r, "id"))
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	status := http.StatusCreated
	if result.Outcome == services.FriendshipAccepted {
		status = http.StatusOK
	}
	writeJSONResponse(w, status, result)
}

// Remove DELETE /api/users/{id}/remove
func (h *FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	if err := h.friendshipService.Remove(r.Context(), userID, pathVar(r, "id")); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messageResponse{Message: "friend removed"})
}

// List GET /api/users/friends
func (h *FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	friends, err := h.friendshipService.List(r.Context(), userID)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, friends)
}
