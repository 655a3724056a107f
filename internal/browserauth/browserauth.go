// Package browserauth はヘッドレスブラウザでポータルのログイン画面を操作し、
// localStorageに保存されたトークンを取得する。
package browserauth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/billbridge/internal/config"
	"github.com/hitoshi/billbridge/internal/model"
)

// Mode はブラウザログインの方式名。
const Mode = "browser"

// defaultPollInterval はログイン後のリダイレクトを確認する間隔。
const defaultPollInterval = 250 * time.Millisecond

// Page はログイン操作に必要なブラウザページの操作。
type Page interface {
	Goto(url string, timeout time.Duration) error
	Fill(selector, value string) error
	Click(selector string) error
	URL() string
	LocalStorage(key string) (string, error)
	// Close はページとブラウザを閉じる。
	Close() error
}

// Launcher はブラウザを起動して新しいページを開く。
type Launcher interface {
	Launch(ctx context.Context, profile config.BrowserProfile) (Page, error)
}

// Authenticator はブラウザ操作でログインするportal.Authenticatorの実装。
type Authenticator struct {
	launcher     Launcher
	profile      config.BrowserProfile
	user         string
	password     string
	logger       *slog.Logger
	pollInterval time.Duration
}

// New はPlaywright（Chromium）を使うAuthenticatorを生成する。
func New(profile config.BrowserProfile, user, password string, logger *slog.Logger) *Authenticator {
	return NewWithLauncher(NewPlaywrightLauncher(logger), profile, user, password, logger)
}

// NewWithLauncher は任意のLauncherでAuthenticatorを生成する。
func NewWithLauncher(launcher Launcher, profile config.BrowserProfile, user, password string, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		launcher:     launcher,
		profile:      profile,
		user:         user,
		password:     password,
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

// Mode は認証方式名を返す。
func (a *Authenticator) Mode() string {
	return Mode
}

// Login はログイン画面にメールアドレスとパスワードを入力して送信し、
// 画面遷移後にlocalStorageからトークンを読み取る。ブラウザは必ず閉じる。
func (a *Authenticator) Login(ctx context.Context) (token string, err error) {
	if a.user == "" || a.password == "" {
		return "", model.ErrMissingCredentials
	}

	page, err := a.launcher.Launch(ctx, a.profile)
	if err != nil {
		return "", fmt.Errorf("ブラウザの起動に失敗しました: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			a.logger.Warn("ブラウザの終了に失敗しました", slog.String("error", cerr.Error()))
		}
	}()

	if err := page.Goto(a.profile.LoginURL, a.profile.NavigateTimeout); err != nil {
		return "", fmt.Errorf("ログイン画面を開けませんでした: %w", err)
	}
	if err := page.Fill(a.profile.EmailSelector, a.user); err != nil {
		return "", fmt.Errorf("メールアドレスを入力できませんでした: %w", err)
	}
	if err := page.Fill(a.profile.PasswordSelector, a.password); err != nil {
		return "", fmt.Errorf("パスワードを入力できませんでした: %w", err)
	}
	if err := page.Click(a.profile.SubmitSelector); err != nil {
		return "", fmt.Errorf("ログインボタンを押せませんでした: %w", err)
	}

	redirected, err := a.waitForRedirect(ctx, page)
	if err != nil {
		return "", err
	}
	if !redirected {
		a.logger.Warn("ログイン後に画面が遷移しませんでした",
			slog.String("url", page.URL()),
			slog.Duration("timeout", a.profile.RedirectTimeout),
		)
	}

	raw, err := page.LocalStorage(a.profile.TokenStorageKey)
	if err != nil {
		return "", fmt.Errorf("localStorageを読み取れませんでした: %w", err)
	}

	token = extractToken(raw)
	if token == "" {
		if !redirected {
			return "", fmt.Errorf("%w: still on login page", model.ErrLoginRejected)
		}
		return "", fmt.Errorf("%w: %s is empty", model.ErrLoginRejected, a.profile.TokenStorageKey)
	}
	return token, nil
}

// waitForRedirect はURLがログイン画面から離れるまで待つ。
// RedirectTimeout内に遷移しなかった場合はfalseを返す。
func (a *Authenticator) waitForRedirect(ctx context.Context, page Page) (bool, error) {
	deadline := time.NewTimer(a.profile.RedirectTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(a.pollInterval)
	defer ticker.Stop()

	for {
		if !strings.Contains(page.URL(), a.profile.LoginRoute) {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
		}
	}
}

// extractToken はlocalStorageの値からトークンを取り出す。
// 値は{"token": "..."}形式のJSON。JSONでない場合は値そのものをトークンとみなす。
func extractToken(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "{") {
		var stored struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			return ""
		}
		return stored.Token
	}
	return strings.Trim(raw, `"`)
}
