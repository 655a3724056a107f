package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/hitoshi/billbridge/internal/bills"
	"github.com/hitoshi/billbridge/internal/browserauth"
	"github.com/hitoshi/billbridge/internal/cache"
	"github.com/hitoshi/billbridge/internal/config"
	"github.com/hitoshi/billbridge/internal/handler"
	"github.com/hitoshi/billbridge/internal/logger"
	"github.com/hitoshi/billbridge/internal/metrics"
	"github.com/hitoshi/billbridge/internal/middleware"
	"github.com/hitoshi/billbridge/internal/portal"
	"github.com/hitoshi/billbridge/internal/security"
	"github.com/hitoshi/billbridge/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	serviceName       = "billbridge"
	redisKeyPrefix    = "billbridge:"
	cacheSweepPeriod  = time.Minute
	shutdownTimeout   = 30 * time.Second
	redisPingTimeout  = 5 * time.Second
	serverWriteBuffer = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数のConfigを読み込み、ログレベルを適用する。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。CLIサブコマンドの結果は標準出力に書き出す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(fmt.Sprintf("http://localhost:%s/health", port))
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("auth_mode", cfg.AuthMode),
		slog.String("cache_backend", cfg.CacheBackend),
		slog.String("portal", cfg.PortalBaseURL),
	)

	switch cmd {
	case CommandRecibos, CommandPDF:
		return runCLI(cfg, cmd, args[1:], os.Stdout)
	default:
		return runServe(cfg)
	}
}

// Components はワイヤリング済みのアプリケーション部品。
type Components struct {
	Service     *bills.Service
	Handler     http.Handler
	RateLimiter *middleware.RateLimiter
	Store       cache.Store
	Registry    *prometheus.Registry
}

// Close はバックグラウンド処理とキャッシュ接続を停止する。
func (c *Components) Close() error {
	c.RateLimiter.Stop()
	return c.Store.Close()
}

// Build は設定から全依存関係をワイヤリングする。
// httpClientがnilの場合はベースURLを検証し、公開アドレスにのみ接続できるクライアントを生成する。
func Build(cfg *config.Config, httpClient *http.Client, log *slog.Logger) (*Components, error) {
	if log == nil {
		log = slog.Default()
	}

	// 1. ポータル向けHTTPクライアント
	if httpClient == nil {
		guard := security.NewVendorGuard()
		if err := guard.ValidateBaseURL(cfg.PortalBaseURL); err != nil {
			return nil, fmt.Errorf("invalid SEDAPAL_BASE_URL: %w", err)
		}
		httpClient = telemetry.WrapClient(guard.NewSafeClient(cfg.PDFTimeout))
	}

	// 2. メトリクス
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mc := metrics.NewCollector(reg)

	// 3. キャッシュ
	store, err := newStore(cfg)
	if err != nil {
		return nil, err
	}

	// 4. 認証とポータルクライアント
	clientCfg := portal.ClientConfig{
		BaseURL:     cfg.PortalBaseURL,
		Origin:      cfg.PortalOrigin,
		Referer:     cfg.PortalReferer,
		UserAgent:   cfg.UserAgent,
		TokenHeader: cfg.TokenHeader,
		ListTimeout: cfg.PortalTimeout,
		PDFTimeout:  cfg.PDFTimeout,
		PDFMinBytes: cfg.PDFMinBytes,
	}

	var auth portal.Authenticator
	loginTimeout := cfg.PortalTimeout
	switch cfg.AuthMode {
	case config.AuthModeBrowser:
		auth = browserauth.New(cfg.Browser, cfg.PortalUser, cfg.PortalPassword, log)
		loginTimeout = cfg.Browser.NavigateTimeout + cfg.Browser.RedirectTimeout + cfg.PortalTimeout
	default:
		auth = portal.NewFormAuthenticator(httpClient, clientCfg, portal.Credentials{
			User:     cfg.PortalUser,
			Password: cfg.PortalPassword,
			AppAuth:  cfg.LoginAppAuth,
		}, log, mc)
	}

	session := portal.NewSession(auth, loginTimeout, log, mc)
	client := portal.NewClient(httpClient, session, clientCfg, log, mc)

	// 5. 請求書サービス
	svc := bills.NewService(client, store, security.NewTextSanitizer(), bills.Options{
		PageSize:   cfg.PageSize,
		PageBudget: cfg.PageBudget,
		TargetMax:  cfg.TargetMax,
		BillsTTL:   cfg.BillsCacheTTL,
		PDFTTL:     cfg.PDFCacheTTL,
		// 再ログインを含め、未払い・支払い済みの全ページ分を上限とする
		ListTimeout: loginTimeout + cfg.PortalTimeout*time.Duration(2*cfg.PageBudget),
		PDFTimeout:  loginTimeout + cfg.PDFTimeout*2,
	}, log, mc)

	// 6. ルーター
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral))
	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimiter:        rl,
		TrustedProxies:     cfg.TrustedProxies,
		Logger:             log,
		BillsService:       svc,
		BillsConfig: handler.BillsHandlerConfig{
			PageSize:  cfg.PageSize,
			TargetMax: cfg.TargetMax,
		},
		MetricsHandler: metrics.Handler(reg),
	})

	return &Components{
		Service:     svc,
		Handler:     telemetry.WrapHandler(router, serviceName),
		RateLimiter: rl,
		Store:       store,
		Registry:    reg,
	}, nil
}

// newStore はCACHE_BACKENDに応じたキャッシュを生成する。
func newStore(cfg *config.Config) (cache.Store, error) {
	if cfg.CacheBackend != config.CacheBackendRedis {
		return cache.NewMemoryStore(cacheSweepPeriod), nil
	}

	store, err := cache.NewRedisStore(cfg.RedisURL, redisKeyPrefix)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis cache connection established")
	return store, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint, cfg.OTelInsecure, slog.Default())
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("failed to flush traces", slog.String("error", err.Error()))
		}
	}()

	comps, err := Build(cfg, nil, slog.Default())
	if err != nil {
		return err
	}
	defer comps.Close()

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           comps.Handler,
		ReadHeaderTimeout: 15 * time.Second,
		// 一覧は複数ページを順に取得するため、ポータルのタイムアウトより長く取る
		WriteTimeout: cfg.PortalTimeout*2 + cfg.PDFTimeout + serverWriteBuffer,
		IdleTimeout:  60 * time.Second,
	}

	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	return serveUntil(ctx, server, ln)
}

// serveUntil はctxがキャンセルされるまでHTTPサーバーを稼働させ、その後グレースフルシャットダウンする。
func serveUntil(ctx context.Context, server *http.Server, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", ln.Addr().String()))
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(sctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runCLI は単発のCLIサブコマンドを実行する。
func runCLI(cfg *config.Config, cmd Command, args []string, out io.Writer) error {
	comps, err := Build(cfg, nil, slog.Default())
	if err != nil {
		return err
	}
	defer comps.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd == CommandPDF {
		return runPDF(ctx, comps.Service, args, out)
	}
	return runRecibos(ctx, comps.Service, args, out)
}

// runRecibos は請求書一覧を整形済みJSONで書き出す。
// 使い方: billbridge recibos <nis>
func runRecibos(ctx context.Context, svc *bills.Service, args []string, out io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: billbridge recibos <nis>")
	}

	listing, err := svc.ListBills(ctx, args[0])
	if err != nil {
		return fmt.Errorf("failed to list bills: %w", err)
	}

	var buf bytes.Buffer
	if err := json.Indent(&buf, listing.Raw, "", "  "); err != nil {
		return fmt.Errorf("failed to format bills: %w", err)
	}
	buf.WriteByte('\n')
	_, err = out.Write(buf.Bytes())
	return err
}

// runPDF は請求書PDFをファイルに保存し、保存先パスを書き出す。
// 使い方: billbridge pdf <nis> <recibo> [出力パス]
func runPDF(ctx context.Context, svc *bills.Service, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errors.New("usage: billbridge pdf <nis> <recibo> [out]")
	}

	pdf, err := svc.FetchPDF(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("failed to fetch pdf: %w", err)
	}

	path := fmt.Sprintf("SEDAPAL_%s.pdf", filepath.Base(args[1]))
	if len(args) >= 3 {
		path = args[2]
	}
	if err := os.WriteFile(path, pdf.Content, 0o644); err != nil {
		return fmt.Errorf("failed to write pdf: %w", err)
	}

	_, err = fmt.Fprintln(out, path)
	return err
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(url string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
