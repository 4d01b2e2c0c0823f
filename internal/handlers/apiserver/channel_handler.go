package apiserver

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"chatline/internal/services"
)

// ChannelHandler 处理频道和频道内消息的 HTTP 请求。
type ChannelHandler struct {
	channelService services.ChannelService
	messageService services.MessageService
	log            *zap.Logger
}

// NewChannelHandler 创建一个新的 ChannelHandler 实例。
func NewChannelHandler(channelService services.ChannelService, messageService services.MessageService, log *zap.Logger) *ChannelHandler {
	return &ChannelHandler{channelService: channelService, messageService: messageService, log: log}
}

// CreateChannelRequest 是创建群聊频道的请求体，participants 不需要包含创建者。
type CreateChannelRequest struct {
	Name         string   `json:"name"`
	Participants []string `json:"participants"`
}

// ParticipantRequest 指定要加入或移出频道的用户。
type ParticipantRequest struct {
	UserID string `json:"userId"`
}

// EditMessageRequest 是编辑消息的请求体。
type EditMessageRequest struct {
	Content string `json:"content"`
}

// Create POST /api/channels
func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	var req CreateChannelRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	view, err := h.channelService.CreateGroup(r.Context(), userID, req.Name, req.Participants)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, view)
}

// List GET /api/channels
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	channels, err := h.channelService.List(r.Context(), userID)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, channels)
}

// Get GET /api/channels/{id}
func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	view, err := h.channelService.Get(r.Context(), userID, pathVar(r, "id"))
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// Delete DELETE /api/channels/{id}
func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	if err := h.channelService.Delete(r.Context(), userID, pathVar(r, "id")); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messageResponse{Message: "channel deleted"})
}

// AddParticipant POST /api/channels/{id}/add
func (h *ChannelHandler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	var req ParticipantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	view, err := h.channelService.AddParticipant(r.Context(), userID, pathVar(r, "id"), req.UserID)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// RemoveParticipant POST /api/channels/{id}/remove
func (h *ChannelHandler) RemoveParticipant(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	var req ParticipantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	if err := h.channelService.RemoveParticipant(r.Context(), userID, pathVar(r, "id"), req.UserID); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messageResponse{Message: "participant removed"})
}

// PostMessage POST /api/channels/{id}
func (h *ChannelHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	var req services.PostMessageInput
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	view, err := h.messageService.Post(r.Context(), userID, pathVar(r, "id"), req)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, view)
}

// ListMessages 按创建时间倒序分页。GET /api/channels/{id}/messages?page=&limit=
// 非法或非正的 page/limit 由服务层回落到默认值。
func (h *ChannelHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	page, _ := strconv.Atoi(query.Get("page"))
	limit, _ := strconv.Atoi(query.Get("limit"))

	result, err := h.messageService.List(r.Context(), userID, pathVar(r, "id"), page, limit)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, result)
}

// EditMessage PUT /api/channels/{id}/messages/{messageId}
func (h *ChannelHandler) EditMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	var req EditMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	view, err := h.messageService.Edit(r.Context(), userID, pathVar(r, "id"), pathVar(r, "messageId"), req.Content)
	if err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, view)
}

// DeleteMessage DELETE /api/channels/{id}/messages/{messageId}
func (h *ChannelHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := actorID(w, r)
	if !ok {
		return
	}
	if err := h.messageService.Delete(r.Context(), userID, pathVar(r, "id"), pathVar(r, "messageId")); err != nil {
		writeJSONError(h.log, w, r, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, messageResponse{Message: "message deleted"})
}
