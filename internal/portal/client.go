// Package portal はSEDAPAL「Oficina Comercial Virtual」APIのクライアントを提供する。
// ログイン、請求書一覧の取得、請求書PDFの取得を含む。
package portal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/billbridge/internal/metrics"
	"github.com/hitoshi/billbridge/internal/model"
)

// defaultMaxResponseBytes はポータルのレスポンスボディの読み取り上限の既定値。
const defaultMaxResponseBytes = 32 << 20

// エンドポイント名。メトリクスとログのラベルに使う。
const (
	EndpointLogin   = "login"
	EndpointPending = "pending"
	EndpointPaid    = "paid"
	EndpointPDF     = "pdf"
)

var endpointPaths = map[string]string{
	EndpointLogin:   "/login",
	EndpointPending: "/recibos/lista-recibos-deudas-nis",
	EndpointPaid:    "/recibos/lista-recibos-pagados-nis",
	EndpointPDF:     "/recibos/recibo-pdf",
}

// ClientConfig はポータルクライアントの設定。
type ClientConfig struct {
	BaseURL     string
	Origin      string
	Referer     string
	UserAgent   string
	TokenHeader string
	ListTimeout time.Duration
	PDFTimeout  time.Duration
	PDFMinBytes int
	// MaxResponseBytes はレスポンスボディの上限。超えた応答はエラーにする。0なら既定値。
	MaxResponseBytes int64
}

// transport はポータルへのHTTP送信とメトリクス記録を担う。
// ClientとFormAuthenticatorが共有する。
type transport struct {
	httpClient *http.Client
	cfg        ClientConfig
	logger     *slog.Logger
	metrics    metrics.MetricsCollector
}

func newTransport(httpClient *http.Client, cfg ClientConfig, logger *slog.Logger, mc metrics.MetricsCollector) *transport {
	if mc == nil {
		mc = metrics.Nop{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxResponseBytes <= 0 {
		cfg.MaxResponseBytes = defaultMaxResponseBytes
	}
	return &transport{
		httpClient: httpClient,
		cfg:        cfg,
		logger:     logger,
		metrics:    mc,
	}
}

// Client はポータルAPIのクライアント。
// トークンの取得・更新はSessionに委譲し、401/403を受けた場合は1回だけ再ログインして再試行する。
type Client struct {
	*transport
	session *Session
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, session *Session, cfg ClientConfig, logger *slog.Logger, mc metrics.MetricsCollector) *Client {
	return &Client{
		transport: newTransport(httpClient, cfg, logger, mc),
		session:   session,
	}
}

// Mode は認証方式名を返す。
func (c *Client) Mode() string {
	return c.session.Mode()
}

// response はポータルのレスポンスを読み取った結果。
type response struct {
	statusCode  int
	contentType string
	body        []byte
}

// postJSON は認証付きでJSONをPOSTする。
// トークンが拒否された場合は再ログインして1回だけ再試行し、それでも拒否されればErrUnauthorizedを返す。
func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, timeout time.Duration) (*response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("リクエストのエンコードに失敗しました: %w", err)
	}

	token, err := c.session.Token(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, endpoint, body, token, timeout)
	if err != nil {
		return nil, err
	}

	if ClassifyStatus(resp.statusCode) == StatusReauth {
		c.logger.Info("トークンが拒否されたため再ログインします",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.statusCode),
		)
		token, err = c.session.Refresh(ctx, token)
		if err != nil {
			return nil, err
		}
		resp, err = c.send(ctx, endpoint, body, token, timeout)
		if err != nil {
			return nil, err
		}
	}

	switch ClassifyStatus(resp.statusCode) {
	case StatusOK:
		return resp, nil
	case StatusReauth:
		return nil, fmt.Errorf("%s: %w", endpoint, model.ErrUnauthorized)
	default:
		c.logger.Error("ポータルがエラーステータスを返しました",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.statusCode),
		)
		return nil, &StatusError{Endpoint: endpoint, StatusCode: resp.statusCode}
	}
}

// send はトークンを付けてJSONリクエストを1回送信する。
func (c *Client) send(ctx context.Context, endpoint string, body []byte, token string, timeout time.Duration) (*response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	c.setCommonHeaders(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(c.cfg.TokenHeader, token)
	if endpoint == EndpointPDF {
		req.Header.Set("Accept", "application/pdf, application/json, */*")
	}

	return c.do(req, endpoint)
}

// do はリクエストを実行し、ボディを読み取ってメトリクスを記録する。
func (c *transport) do(req *http.Request, endpoint string) (*response, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordVendorCall(endpoint, 0, time.Since(start))
		c.logger.Error("ポータルAPIの呼び出しに失敗しました",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("portal %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	// 上限を1バイト超えて読み、切り詰めずに超過を検出する
	limit := c.cfg.MaxResponseBytes
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	c.metrics.RecordVendorCall(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if int64(len(body)) > limit {
		c.logger.Error("ポータルのレスポンスが上限を超えました",
			slog.String("endpoint", endpoint),
			slog.Int64("limit_bytes", limit),
		)
		return nil, fmt.Errorf("portal %s response exceeds %d bytes: %w", endpoint, limit, model.ErrResponseTooLarge)
	}

	c.logger.Debug("ポータルAPIを呼び出しました",
		slog.String("endpoint", endpoint),
		slog.Int("http_status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("elapsed", time.Since(start)),
	)

	return &response{
		statusCode:  resp.StatusCode,
		contentType: resp.Header.Get("Content-Type"),
		body:        body,
	}, nil
}

func (c *transport) url(endpoint string) string {
	return c.cfg.BaseURL + endpointPaths[endpoint]
}

// setCommonHeaders はポータルのWebアプリと同じブラウザ相当のヘッダーを付ける。
func (c *transport) setCommonHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if c.cfg.Origin != "" {
		req.Header.Set("Origin", c.cfg.Origin)
	}
	if c.cfg.Referer != "" {
		req.Header.Set("Referer", c.cfg.Referer)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

// envelope はポータルの共通レスポンス形式。
// bRESPに本体、cRESP_SPにメッセージが入る。
type envelope struct {
	BRESP   json.RawMessage `json:"bRESP"`
	BRESPLo json.RawMessage `json:"bresp"`
	Message string          `json:"cRESP_SP"`
}

// payload はbRESP（なければbresp）を返す。nullは空として扱う。
func (e envelope) payload() json.RawMessage {
	for _, raw := range []json.RawMessage{e.BRESP, e.BRESPLo} {
		if len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return raw
		}
	}
	return nil
}

func decodeEnvelope(body []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return env, nil
}

// errNoPayload はbRESPが空であることを示す。
var errNoPayload = errors.New("response has no bRESP")
