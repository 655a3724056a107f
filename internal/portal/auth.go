package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/billbridge/internal/metrics"
	"github.com/hitoshi/billbridge/internal/model"
)

// ModeHTTP はフォームPOSTによるログインの方式名。
const ModeHTTP = "http"

// Credentials はポータルのログイン情報。
type Credentials struct {
	User     string
	Password string
	// AppAuth はログインAPIが要求するアプリケーション用のAuthorizationヘッダー値。
	AppAuth string
}

// FormAuthenticator はポータルのログインAPIにフォームをPOSTしてトークンを取得する。
type FormAuthenticator struct {
	client *transport
	creds  Credentials
}

// NewFormAuthenticator はFormAuthenticatorを生成する。
// 認証情報の検証はLogin時に行う。
func NewFormAuthenticator(httpClient *http.Client, cfg ClientConfig, creds Credentials, logger *slog.Logger, mc metrics.MetricsCollector) *FormAuthenticator {
	return &FormAuthenticator{
		client: newTransport(httpClient, cfg, logger, mc),
		creds:  creds,
	}
}

// Mode は認証方式名を返す。
func (a *FormAuthenticator) Mode() string {
	return ModeHTTP
}

type loginResult struct {
	Token string `json:"token"`
}

// Login はフォームログインを行い、bRESP.tokenを返す。
func (a *FormAuthenticator) Login(ctx context.Context) (string, error) {
	if a.creds.User == "" || a.creds.Password == "" || a.creds.AppAuth == "" {
		return "", model.ErrMissingCredentials
	}

	form := url.Values{}
	form.Set("username", a.creds.User)
	form.Set("password", a.creds.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.client.url(EndpointLogin), strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	a.client.setCommonHeaders(req)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", a.creds.AppAuth)

	resp, err := a.client.do(req, EndpointLogin)
	if err != nil {
		return "", err
	}
	if ClassifyStatus(resp.statusCode) != StatusOK {
		a.client.logger.Warn("ログインAPIがエラーステータスを返しました",
			slog.Int("http_status", resp.statusCode),
		)
		return "", fmt.Errorf("%w: status %d", model.ErrLoginRejected, resp.statusCode)
	}

	env, err := decodeEnvelope(resp.body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrLoginRejected, err)
	}

	var result loginResult
	if raw := env.payload(); raw != nil {
		if err := json.Unmarshal(raw, &result); err != nil {
			return "", fmt.Errorf("%w: unexpected bRESP: %v", model.ErrLoginRejected, err)
		}
	}
	if result.Token == "" {
		return "", fmt.Errorf("%w: response has no token", model.ErrLoginRejected)
	}

	return result.Token, nil
}
