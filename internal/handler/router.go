package handler

import (
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/billbridge/internal/middleware"
	"github.com/hitoshi/billbridge/internal/model"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Logger             *slog.Logger
	// X-Forwarded-Forを信用する接続元。空ならクライアントIPは常にRemoteAddr。
	TrustedProxies []netip.Prefix

	// 請求書
	BillsService BillsServiceInterface
	BillsConfig  BillsHandlerConfig

	// /metrics のハンドラー。nilの場合はルートを登録しない。
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → TrustedProxy → RequestID → Logging → SecurityHeaders → CORS → RateLimit(/api のみ)
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewTrustedProxyMiddleware(deps.TrustedProxies))
	r.Use(middleware.NewRequestIDMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))

	billsHandler := NewBillsHandler(deps.BillsService, deps.BillsConfig, deps.Logger)

	// --- 運用向けルート ---
	r.Get("/health", Health)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- フロントエンド向けAPI ---
	// ポータルへの呼び出しを伴うため、クライアントIP単位でレート制限する
	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.Middleware())
		}

		r.Get("/test", billsHandler.Test)
		r.Get("/recibos/{accountId}", billsHandler.ListBills)
		r.Get("/pdf/{accountId}/{billId}", billsHandler.GetPDF)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteErrorResponse(w, http.StatusNotFound, &model.APIError{
			Code:     "ROUTE_NOT_FOUND",
			Message:  "指定されたURLは存在しません。",
			Category: "validation",
			Action:   "URLを確認してください。",
		})
	})

	return r
}
