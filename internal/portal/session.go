package portal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/billbridge/internal/metrics"
	"golang.org/x/sync/singleflight"
)

// Authenticator はポータルにログインしてベアラートークンを取得する。
type Authenticator interface {
	// Login は新しいトークン文字列を返す。
	Login(ctx context.Context) (string, error)
	// Mode は認証方式名（http / browser）を返す。
	Mode() string
}

// Session はトークンを保持し、期限切れ時に再ログインする。
// 複数のゴルーチンから同時に呼ばれても、ログインは1回にまとめられる。
type Session struct {
	auth         Authenticator
	loginTimeout time.Duration
	logger       *slog.Logger
	metrics      metrics.MetricsCollector
	now          func() time.Time

	mu    sync.Mutex
	token Token

	group singleflight.Group
}

// NewSession は新しいSessionを生成する。
// loginTimeoutはログイン1回あたりの上限時間。
func NewSession(auth Authenticator, loginTimeout time.Duration, logger *slog.Logger, mc metrics.MetricsCollector) *Session {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Session{
		auth:         auth,
		loginTimeout: loginTimeout,
		logger:       logger,
		metrics:      mc,
		now:          time.Now,
	}
}

// Mode は認証方式名を返す。
func (s *Session) Mode() string {
	return s.auth.Mode()
}

// Token は有効なトークンを返す。保持しているトークンが期限切れの場合はログインする。
func (s *Session) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	tok := s.token
	s.mu.Unlock()

	if tok.Alive(s.now()) {
		return tok.Value, nil
	}
	return s.login(ctx)
}

// Refresh はポータルに拒否されたトークンを破棄して再ログインする。
// 他のゴルーチンが既に新しいトークンを取得済みの場合はそれを返す。
func (s *Session) Refresh(ctx context.Context, rejected string) (string, error) {
	s.mu.Lock()
	if s.token.Value == rejected {
		s.token = Token{}
	}
	tok := s.token
	s.mu.Unlock()

	if tok.Alive(s.now()) {
		return tok.Value, nil
	}
	return s.login(ctx)
}

// ExpiresAt は保持しているトークンの有効期限を返す。未ログインの場合はゼロ値。
func (s *Session) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token.ExpiresAt
}

// login は同時に発生したログイン要求を1回にまとめて実行する。
// ログイン自体は呼び出し元のキャンセルに影響されず、loginTimeoutで打ち切られる。
func (s *Session) login(ctx context.Context) (string, error) {
	ch := s.group.DoChan("login", func() (any, error) {
		loginCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loginTimeout)
		defer cancel()

		start := s.now()
		raw, err := s.auth.Login(loginCtx)
		s.metrics.RecordLogin(s.auth.Mode(), err == nil)
		if err != nil {
			s.logger.Warn("ポータルへのログインに失敗しました",
				slog.String("mode", s.auth.Mode()),
				slog.String("error", err.Error()),
			)
			return "", err
		}

		tok := ParseToken(raw, s.now())
		s.mu.Lock()
		s.token = tok
		s.mu.Unlock()

		s.logger.Info("ポータルにログインしました",
			slog.String("mode", s.auth.Mode()),
			slog.Time("expires_at", tok.ExpiresAt),
			slog.Duration("elapsed", s.now().Sub(start)),
		)
		return tok.Value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
