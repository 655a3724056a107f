package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fixedAuthenticator は常に同じトークンを返すAuthenticator。
type fixedAuthenticator struct{}

func (fixedAuthenticator) Login(context.Context) (string, error) { return "static", nil }
func (fixedAuthenticator) Mode() string                          { return "fixed" }

// newJSONServer は任意のパスに固定のJSONを返すサーバーを生成する。
func newJSONServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newAuthedJSONServer はトークン付きのリクエストにのみ固定のJSONを返すサーバーを生成する。
func newAuthedJSONServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "static" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newStatusServer(t *testing.T, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// newStaticTokenClient はログインAPIを使わずに固定トークンで動くClientを生成する。
func newStaticTokenClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	session := NewSession(fixedAuthenticator{}, time.Second, testLogger(), nil)
	return NewClient(srv.Client(), session, testClientConfig(srv.URL), testLogger(), nil)
}
