package portal

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return s
}

func TestParseToken_ReadsExpClaim(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	exp := now.Add(45 * time.Minute)

	tok := ParseToken(signedToken(t, jwt.MapClaims{"exp": exp.Unix()}), now)

	if !tok.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, exp)
	}
}

func TestParseToken_FallsBackTo30Minutes(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	want := now.Add(30 * time.Minute)

	tests := []struct {
		name string
		raw  string
	}{
		{"JWTではない", "opaque-token"},
		{"expなし", signedToken(t, jwt.MapClaims{"sub": "user"})},
		{"壊れたJWT", "aaa.bbb.ccc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := ParseToken(tt.raw, now)
			if !tok.ExpiresAt.Equal(want) {
				t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, want)
			}
			if tok.Value != tt.raw {
				t.Errorf("Value = %q, want %q", tok.Value, tt.raw)
			}
		})
	}
}

func TestToken_Alive(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		tok  Token
		want bool
	}{
		{"十分な残り時間", Token{Value: "t", ExpiresAt: now.Add(10 * time.Minute)}, true},
		{"残り2分ちょうど", Token{Value: "t", ExpiresAt: now.Add(2 * time.Minute)}, false},
		{"期限切れ", Token{Value: "t", ExpiresAt: now.Add(-time.Minute)}, false},
		{"空トークン", Token{ExpiresAt: now.Add(time.Hour)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.tok.Alive(now); got != tt.want {
				t.Errorf("Alive() = %v, want %v", got, tt.want)
			}
		})
	}
}
