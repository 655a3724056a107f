package portal

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// fakeVendor はポータルAPIを模したテスト用サーバー。
// ログインのたびに新しいトークンを発行し、最後に発行したトークンのみを有効とする。
type fakeVendor struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	logins      int
	calls       map[string]int
	validToken  string
	tokenHeader string
	lastBodies  map[string]map[string]any

	// pages はエンドポイントごとのページ番号→bRESPの要素。
	pages map[string]map[int][]map[string]any
	// pdfHandler が設定されている場合、PDFエンドポイントの応答を差し替える。
	pdfHandler http.HandlerFunc
	// loginStatus が0以外の場合、ログインAPIはそのステータスを返す。
	loginStatus int
}

func newFakeVendor(t *testing.T) *fakeVendor {
	t.Helper()
	v := &fakeVendor{
		t:           t,
		calls:       make(map[string]int),
		lastBodies:  make(map[string]map[string]any),
		pages:       make(map[string]map[int][]map[string]any),
		tokenHeader: "Authorization",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/login", v.handleLogin)
	mux.HandleFunc("/api/recibos/lista-recibos-deudas-nis", v.handleList(EndpointPending))
	mux.HandleFunc("/api/recibos/lista-recibos-pagados-nis", v.handleList(EndpointPaid))
	mux.HandleFunc("/api/recibos/recibo-pdf", v.handlePDF)
	v.srv = httptest.NewServer(mux)
	t.Cleanup(v.srv.Close)
	return v
}

func (v *fakeVendor) baseURL() string {
	return v.srv.URL + "/api"
}

// expireToken は発行済みトークンを無効化する（ポータル側の失効を模す）。
func (v *fakeVendor) expireToken() {
	v.mu.Lock()
	v.validToken = ""
	v.mu.Unlock()
}

func (v *fakeVendor) loginCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.logins
}

func (v *fakeVendor) callCount(endpoint string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.calls[endpoint]
}

func (v *fakeVendor) lastBody(endpoint string) map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastBodies[endpoint]
}

func (v *fakeVendor) setPage(endpoint string, page int, items []map[string]any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pages[endpoint] == nil {
		v.pages[endpoint] = make(map[int][]map[string]any)
	}
	v.pages[endpoint][page] = items
}

func (v *fakeVendor) handleLogin(w http.ResponseWriter, r *http.Request) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.loginStatus != 0 {
		w.WriteHeader(v.loginStatus)
		return
	}
	if err := r.ParseForm(); err != nil || r.PostForm.Get("username") == "" || r.Header.Get("Authorization") != "app-auth" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	v.logins++
	v.validToken = fmt.Sprintf("tok-%d", v.logins)
	writeJSON(w, map[string]any{"bRESP": map[string]any{"token": v.validToken}})
}

// authorize はトークンを検証し、呼び出し回数とボディを記録する。
func (v *fakeVendor) authorize(w http.ResponseWriter, r *http.Request, endpoint string) (map[string]any, bool) {
	body, _ := io.ReadAll(r.Body)
	var decoded map[string]any
	_ = json.Unmarshal(body, &decoded)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls[endpoint]++
	v.lastBodies[endpoint] = decoded

	token := r.Header.Get(v.tokenHeader)
	if token == "" || token != v.validToken {
		w.WriteHeader(http.StatusUnauthorized)
		return nil, false
	}
	return decoded, true
}

func (v *fakeVendor) handleList(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := v.authorize(w, r, endpoint)
		if !ok {
			return
		}
		page := int(body["page_num"].(float64))

		v.mu.Lock()
		items := v.pages[endpoint][page]
		v.mu.Unlock()

		if items == nil {
			items = []map[string]any{}
		}
		writeJSON(w, map[string]any{"bRESP": items})
	}
}

func (v *fakeVendor) handlePDF(w http.ResponseWriter, r *http.Request) {
	if _, ok := v.authorize(w, r, EndpointPDF); !ok {
		return
	}
	v.mu.Lock()
	h := v.pdfHandler
	v.mu.Unlock()
	if h == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w, r)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:     baseURL,
		Origin:      "https://portal.example.com",
		Referer:     "https://portal.example.com/socv/",
		UserAgent:   "billbridge-test",
		TokenHeader: "Authorization",
		ListTimeout: 5 * time.Second,
		PDFTimeout:  5 * time.Second,
		PDFMinBytes: 5000,
	}
}

// newTestClient はfakeVendorに接続するClientを生成する。
func newTestClient(t *testing.T, v *fakeVendor) *Client {
	t.Helper()
	cfg := testClientConfig(v.baseURL())
	httpClient := v.srv.Client()
	logger := testLogger()

	auth := NewFormAuthenticator(httpClient, cfg, Credentials{User: "user@example.com", Password: "secret", AppAuth: "app-auth"}, logger, nil)
	session := NewSession(auth, 5*time.Second, logger, nil)
	return NewClient(httpClient, session, cfg, logger, nil)
}
