package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 認証モード
const (
	// AuthModeHTTP はフォームPOSTで直接ログインするモード。
	AuthModeHTTP = "http"
	// AuthModeBrowser はヘッドレスブラウザでログイン画面を操作するモード。
	AuthModeBrowser = "browser"
)

// キャッシュバックエンド
const (
	CacheBackendMemory = "memory"
	CacheBackendRedis  = "redis"
)

const (
	defaultPortalBaseURL = "https://webapp16.sedapal.com.pe/OficinaComercialVirtual/api"
	defaultPortalOrigin  = "https://webapp16.sedapal.com.pe"
	defaultPortalReferer = "https://webapp16.sedapal.com.pe/socv/"
	defaultLoginPageURL  = "https://webapp16.sedapal.com.pe/socv/#/iniciar-sesion"
	defaultUserAgent     = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/118 Safari/537.36"
)

// defaultCORSOrigins は既存のフロントエンド（PWA）の配信元。
var defaultCORSOrigins = []string{
	"http://localhost:8080",
	"https://hansdou.github.io",
	"https://hansdou.github.io/sedapal-pwa",
}

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Portal
	PortalBaseURL  string
	PortalOrigin   string
	PortalReferer  string
	PortalUser     string
	PortalPassword string
	LoginAppAuth   string
	TokenHeader    string
	UserAgent      string

	// Auth
	AuthMode string
	Browser  BrowserProfile

	// Bills
	PageSize      int
	PageBudget    int
	TargetMax     int
	PortalTimeout time.Duration
	PDFTimeout    time.Duration
	PDFMinBytes   int

	// Cache
	CacheBackend  string
	RedisURL      string
	BillsCacheTTL time.Duration
	PDFCacheTTL   time.Duration

	// Rate Limit
	RateLimitGeneral int
	// TrustedProxies はX-Forwarded-Forを信用する接続元（リバースプロキシ）。空なら常にRemoteAddrを使う。
	TrustedProxies []netip.Prefix

	// Logging / Tracing
	LogLevel     string
	OTelEndpoint string
	OTelInsecure bool

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigins []string
}

// BrowserProfile はブラウザログインの環境依存設定。
// コンテナ用フラグやブラウザの実行パスなど、デプロイ先ごとに異なる値をここに集約する。
// BRIDGE_CONFIG_FILE で指定したYAMLの browser セクションで上書きできる。
type BrowserProfile struct {
	Headless         bool          `yaml:"headless"`
	ExecutablePath   string        `yaml:"executable_path"`
	Args             []string      `yaml:"args"`
	UserAgent        string        `yaml:"user_agent"`
	LoginURL         string        `yaml:"login_url"`
	EmailSelector    string        `yaml:"email_selector"`
	PasswordSelector string        `yaml:"password_selector"`
	SubmitSelector   string        `yaml:"submit_selector"`
	LoginRoute       string        `yaml:"login_route"`
	TokenStorageKey  string        `yaml:"token_storage_key"`
	NavigateTimeout  time.Duration `yaml:"navigate_timeout"`
	RedirectTimeout  time.Duration `yaml:"redirect_timeout"`
}

// fileConfig はBRIDGE_CONFIG_FILEのYAML構造。
type fileConfig struct {
	Browser BrowserProfile `yaml:"browser"`
}

// DefaultBrowserProfile はコンテナ環境で動作するデフォルトのブラウザ設定を返す。
func DefaultBrowserProfile() BrowserProfile {
	return BrowserProfile{
		Headless: true,
		Args: []string{
			"--no-sandbox",
			"--disable-dev-shm-usage",
			"--disable-gpu",
			"--window-size=1920,1080",
		},
		UserAgent:        defaultUserAgent,
		LoginURL:         defaultLoginPageURL,
		EmailSelector:    "input[type='email']",
		PasswordSelector: "input[type='password']",
		SubmitSelector:   "button[type='submit']",
		LoginRoute:       "iniciar-sesion",
		TokenStorageKey:  "sedtoken",
		NavigateTimeout:  30 * time.Second,
		RedirectTimeout:  10 * time.Second,
	}
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに .env がある場合は先に読み込む（既存の環境変数は上書きしない）。
// ポータルの認証情報はログイン時に検証するため、ここでは必須としない。
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.PortalBaseURL = strings.TrimRight(getEnvString("SEDAPAL_BASE_URL", defaultPortalBaseURL), "/")
	cfg.PortalOrigin = getEnvString("SEDAPAL_ORIGIN", defaultPortalOrigin)
	cfg.PortalReferer = getEnvString("SEDAPAL_REFERER", defaultPortalReferer)
	cfg.PortalUser = os.Getenv("SEDAPAL_USER")
	cfg.PortalPassword = os.Getenv("SEDAPAL_PASS")
	cfg.LoginAppAuth = os.Getenv("SEDAPAL_LOGIN_APP_AUTH")
	cfg.UserAgent = getEnvString("SEDAPAL_USER_AGENT", defaultUserAgent)

	cfg.AuthMode = strings.ToLower(getEnvString("AUTH_MODE", AuthModeHTTP))
	if cfg.AuthMode != AuthModeHTTP && cfg.AuthMode != AuthModeBrowser {
		return nil, fmt.Errorf("invalid AUTH_MODE: %q (allowed: %s, %s)", cfg.AuthMode, AuthModeHTTP, AuthModeBrowser)
	}

	defaultHeader := "Authorization"
	if cfg.AuthMode == AuthModeBrowser {
		defaultHeader = "X-Auth-Token"
	}
	cfg.TokenHeader = getEnvString("SEDAPAL_TOKEN_HEADER", defaultHeader)

	cfg.PageSize = getEnvInt("SEDAPAL_PAGE_SIZE", 42)
	cfg.PageBudget = getEnvInt("SEDAPAL_PAGE_BUDGET", 10)
	cfg.TargetMax = getEnvInt("TARGET_MAX_RECIBOS", 30)
	cfg.PortalTimeout = getEnvDuration("PORTAL_TIMEOUT", 40*time.Second)
	cfg.PDFTimeout = getEnvDuration("PDF_TIMEOUT", 60*time.Second)
	cfg.PDFMinBytes = getEnvInt("PDF_MIN_BYTES", 5000)

	cfg.CacheBackend = strings.ToLower(getEnvString("CACHE_BACKEND", CacheBackendMemory))
	if cfg.CacheBackend != CacheBackendMemory && cfg.CacheBackend != CacheBackendRedis {
		return nil, fmt.Errorf("invalid CACHE_BACKEND: %q (allowed: %s, %s)", cfg.CacheBackend, CacheBackendMemory, CacheBackendRedis)
	}
	cfg.RedisURL = getEnvString("REDIS_URL", "redis://localhost:6379/0")
	cfg.BillsCacheTTL = getEnvDuration("BILLS_CACHE_TTL", 10*time.Minute)
	cfg.PDFCacheTTL = getEnvDuration("PDF_CACHE_TTL", 12*time.Hour)

	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	proxies, err := parsePrefixes(getEnvList("TRUSTED_PROXIES", nil))
	if err != nil {
		return nil, fmt.Errorf("invalid TRUSTED_PROXIES: %w", err)
	}
	cfg.TrustedProxies = proxies
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.OTelEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTelInsecure = strings.EqualFold(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE"), "true")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigins = getEnvList("CORS_ALLOWED_ORIGINS", defaultCORSOrigins)

	cfg.Browser = DefaultBrowserProfile()
	cfg.Browser.UserAgent = cfg.UserAgent
	if path := os.Getenv("BRIDGE_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadFile はYAML設定ファイルを読み込み、記載された項目だけをcfgに上書きする。
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	// デフォルト値を入れた状態でデコードし、未記載の項目はデフォルトのまま残す
	fc := fileConfig{Browser: cfg.Browser}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.Browser = fc.Browser

	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil || i <= 0 {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// parsePrefixes はCIDRまたは単一IPのリストを解釈する。単一IPはそのアドレスだけのプレフィックスになる。
func parsePrefixes(values []string) ([]netip.Prefix, error) {
	var out []netip.Prefix
	for _, v := range values {
		if strings.Contains(v, "/") {
			p, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, err
			}
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, err
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// getEnvList はカンマ区切りの環境変数をスライスとして返す。空要素は除外する。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return append([]string(nil), defaultVal...)
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), defaultVal...)
	}
	return out
}
