package portal

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// defaultTokenLifetime はトークンから有効期限を読み取れない場合の有効期間。
	defaultTokenLifetime = 30 * time.Minute
	// refreshMargin は有効期限のこの時間前からトークンを期限切れとみなす。
	refreshMargin = 2 * time.Minute
)

// Token はポータルが発行したベアラートークンと有効期限。
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Alive はnow時点でトークンを再利用できるかを返す。
func (t Token) Alive(now time.Time) bool {
	return t.Value != "" && now.Before(t.ExpiresAt.Add(-refreshMargin))
}

// ParseToken は生のトークン文字列から有効期限を求める。
// JWTであればexpクレームを署名検証なしで読み取る。JWTでない、
// またはexpがない場合はnowから30分後を有効期限とする。
func ParseToken(raw string, now time.Time) Token {
	tok := Token{Value: raw, ExpiresAt: now.Add(defaultTokenLifetime)}

	parsed, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return tok
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return tok
	}

	tok.ExpiresAt = exp.Time
	return tok
}
