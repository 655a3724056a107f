package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/billbridge/internal/model"
)

// ErrorResponseBody はフロントエンドに返すエラーの形式。
// RequestIDはレスポンスヘッダーのX-Request-IDと同じ値で、ログとの突き合わせに使う。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
}

// NewErrorResponseBody はAPIErrorと採番済みのリクエストIDからレスポンスボディを組み立てる。
func NewErrorResponseBody(w http.ResponseWriter, apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: w.Header().Get(RequestIDHeader),
	}
}

// WriteErrorResponse はエラーをJSONで書き込む。
// PDFの成功応答はキャッシュ可能なため、エラー応答はno-storeにする。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	body := NewErrorResponseBody(w, apiErr)
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	h.Del("Content-Disposition")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// WriteInternalServerError は詳細を伏せた500応答を書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}
