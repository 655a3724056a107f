package browserauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/billbridge/internal/config"
	pw "github.com/playwright-community/playwright-go"
)

// PlaywrightLauncher はPlaywrightでChromiumを起動するLauncher。
// ログインごとにドライバーとブラウザを起動し、Closeで全て停止する。
type PlaywrightLauncher struct {
	logger      *slog.Logger
	installOnce sync.Once
}

// NewPlaywrightLauncher はPlaywrightLauncherを生成する。
func NewPlaywrightLauncher(logger *slog.Logger) *PlaywrightLauncher {
	return &PlaywrightLauncher{logger: logger}
}

// install はPlaywrightドライバーを初回のみインストールする。
// ブラウザの実行パスが指定されている場合はブラウザのダウンロードを省く。
func (l *PlaywrightLauncher) install(profile config.BrowserProfile) {
	l.installOnce.Do(func() {
		err := pw.Install(&pw.RunOptions{
			Browsers:            []string{"chromium"},
			SkipInstallBrowsers: profile.ExecutablePath != "",
		})
		if err != nil {
			l.logger.Warn("Playwrightドライバーのインストールに失敗しました", slog.String("error", err.Error()))
		}
	})
}

// Launch はChromiumを起動して新しいページを開く。
func (l *PlaywrightLauncher) Launch(ctx context.Context, profile config.BrowserProfile) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.install(profile)

	instance, err := pw.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	opts := pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(profile.Headless),
		Args:     profile.Args,
	}
	if profile.ExecutablePath != "" {
		opts.ExecutablePath = pw.String(profile.ExecutablePath)
	}

	browser, err := instance.Chromium.Launch(opts)
	if err != nil {
		_ = instance.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	pageOpts := pw.BrowserNewPageOptions{}
	if profile.UserAgent != "" {
		pageOpts.UserAgent = pw.String(profile.UserAgent)
	}
	page, err := browser.NewPage(pageOpts)
	if err != nil {
		_ = browser.Close()
		_ = instance.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	if profile.NavigateTimeout > 0 {
		page.SetDefaultTimeout(millis(profile.NavigateTimeout))
	}

	return &playwrightPage{instance: instance, browser: browser, page: page}, nil
}

// playwrightPage はPlaywrightのページをPageとして扱うアダプター。
type playwrightPage struct {
	instance *pw.Playwright
	browser  pw.Browser
	page     pw.Page
}

func (p *playwrightPage) Goto(url string, timeout time.Duration) error {
	opts := pw.PageGotoOptions{WaitUntil: pw.WaitUntilStateNetworkidle}
	if timeout > 0 {
		opts.Timeout = pw.Float(millis(timeout))
	}
	_, err := p.page.Goto(url, opts)
	return err
}

func (p *playwrightPage) Fill(selector, value string) error {
	return p.page.Locator(selector).Fill(value)
}

func (p *playwrightPage) Click(selector string) error {
	return p.page.Locator(selector).Click()
}

func (p *playwrightPage) URL() string {
	return p.page.URL()
}

func (p *playwrightPage) LocalStorage(key string) (string, error) {
	v, err := p.page.Evaluate("key => localStorage.getItem(key) || ''", key)
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

func (p *playwrightPage) Close() error {
	return errors.Join(
		p.page.Close(),
		p.browser.Close(),
		p.instance.Stop(),
	)
}

func millis(d time.Duration) float64 {
	return float64(d / time.Millisecond)
}
