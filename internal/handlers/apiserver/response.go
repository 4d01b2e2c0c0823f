package apiserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatline/internal/apperr"
	"chatline/internal/middleware"
)

// maxBodyBytes 限制 JSON 请求体大小
const maxBodyBytes = 1 << 20

var (
	errInvalidBody = apperr.InvalidArgument("request body must be valid JSON")
	errNoIdentity  = apperr.Unauthenticated("request is not authenticated")
)

// writeJSONResponse 是一个辅助函数，用于发送 JSON 响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// writeJSONError 按错误类别写出 {"error","code","details"}，内部错误额外记日志。
func writeJSONError(log *zap.Logger, w http.ResponseWriter, r *http.Request, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		log.Error("请求处理失败", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	middleware.WriteError(w, err)
}

// decodeJSON reads one JSON document into dst. An empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperr.Wrap(errInvalidBody, err)
	}
	return nil
}

// actorID returns the authenticated user of the request.
func actorID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, errNoIdentity)
	}
	return userID, ok
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

// messageResponse 用于只返回提示信息的接口
type messageResponse struct {
	Message string `json:"message"`
}

var errRouteNotFound = apperr.NotFound("route not found")
