package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/hitoshi/billbridge/internal/logger"
)

// NewRecoveryMiddleware はハンドラーのpanicを500応答に変換するミドルウェアを返す。
// チェーンの最外周に置くため、リクエストIDは内側のミドルウェアが設定したレスポンスヘッダーから読む。
func NewRecoveryMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer recoverPanic(w, r)
			next.ServeHTTP(w, r)
		})
	}
}

// recoverPanic はdeferで呼ばれ、panicを記録して500応答を書き込む。
// http.ErrAbortHandlerは応答の中断なので再送出する。
func recoverPanic(w http.ResponseWriter, r *http.Request) {
	rec := recover()
	if rec == nil {
		return
	}
	if rec == http.ErrAbortHandler {
		panic(rec)
	}

	logger.FromContext(r.Context(), nil).Error("panic recovered",
		slog.String("panic", fmt.Sprint(rec)),
		slog.String("request_id", w.Header().Get(RequestIDHeader)),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("stack", string(debug.Stack())),
	)
	WriteInternalServerError(w)
}
