package handler

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/billbridge/internal/logger"
	"github.com/hitoshi/billbridge/internal/middleware"
	"github.com/hitoshi/billbridge/internal/model"
	"github.com/hitoshi/billbridge/internal/portal"
)

// handleServiceError はサービス層のエラーを統一フォーマットのHTTPレスポンスに変換する。
// ポータル起因の失敗は502、入力不正は400、請求書未検出は404、それ以外は500とする。
func (h *BillsHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context(), h.logger)

	status, apiErr := mapError(err, chi.URLParam(r, "billId"))
	if status >= http.StatusInternalServerError {
		log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	middleware.WriteErrorResponse(w, status, apiErr)
}

// mapError はエラーをHTTPステータスとAPIErrorに対応付ける。
// billIDは未検出エラーのメッセージに使う。
func mapError(err error, billID string) (int, *model.APIError) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return mapAPIErrorToHTTPStatus(apiErr), apiErr
	}

	var statusErr *portal.StatusError
	var netErr net.Error

	switch {
	case errors.Is(err, model.ErrBillNotFound):
		return http.StatusNotFound, model.NewBillNotFoundError(billID)
	case errors.Is(err, model.ErrMissingCredentials),
		errors.Is(err, model.ErrLoginRejected),
		errors.Is(err, model.ErrUnauthorized):
		return http.StatusBadGateway, model.NewPortalAuthFailedError()
	case errors.Is(err, model.ErrPDFTooSmall):
		return http.StatusBadGateway, model.NewPDFUnavailableError("PDFのサイズが小さすぎます")
	case errors.Is(err, model.ErrUnexpectedPDF):
		return http.StatusBadGateway, model.NewPDFUnavailableError("想定外の応答形式です")
	case errors.Is(err, model.ErrResponseTooLarge):
		return http.StatusBadGateway, model.NewPortalFailedError("応答が大きすぎます")
	case errors.As(err, &statusErr):
		return http.StatusBadGateway, model.NewPortalFailedError(statusErr.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusBadGateway, model.NewPortalFailedError("タイムアウトしました")
	case errors.As(err, &netErr):
		return http.StatusBadGateway, model.NewPortalFailedError("通信に失敗しました")
	}

	return http.StatusInternalServerError, &model.APIError{
		Code:     model.ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidAccount:
		return http.StatusBadRequest
	case model.ErrCodeBillNotFound:
		return http.StatusNotFound
	case model.ErrCodePortalAuthFailed, model.ErrCodePortalFailed, model.ErrCodePDFUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
