package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/billbridge/internal/bills"
	"github.com/hitoshi/billbridge/internal/middleware"
	"github.com/hitoshi/billbridge/internal/model"
)

// サービスのエラーがルーター経由でステータス・コード・カテゴリ・リクエストIDを持つJSONになること。
func TestRouter_ServiceErrorsBecomeErrorResponses(t *testing.T) {
	tests := []struct {
		name         string
		path         string
		err          error
		wantStatus   int
		wantCode     string
		wantCategory string
	}{
		{
			name:         "供給番号が不正",
			path:         "/api/recibos/12a",
			err:          model.NewInvalidAccountError("12a"),
			wantStatus:   http.StatusBadRequest,
			wantCode:     model.ErrCodeInvalidAccount,
			wantCategory: "validation",
		},
		{
			name:         "請求書が一覧にない",
			path:         "/api/pdf/2207655/R404",
			err:          fmt.Errorf("R404: %w", model.ErrBillNotFound),
			wantStatus:   http.StatusNotFound,
			wantCode:     model.ErrCodeBillNotFound,
			wantCategory: "portal",
		},
		{
			name:         "ポータルがログインを拒否",
			path:         "/api/recibos/2207655",
			err:          fmt.Errorf("login: %w", model.ErrLoginRejected),
			wantStatus:   http.StatusBadGateway,
			wantCode:     model.ErrCodePortalAuthFailed,
			wantCategory: "portal",
		},
		{
			name:         "PDFが小さすぎる",
			path:         "/api/pdf/2207655/R1",
			err:          model.ErrPDFTooSmall,
			wantStatus:   http.StatusBadGateway,
			wantCode:     model.ErrCodePDFUnavailable,
			wantCategory: "portal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockBillsService{
				listBillsFn: func(ctx context.Context, accountID string) (*bills.Listing, error) {
					return nil, tt.err
				},
				fetchPDFFn: func(ctx context.Context, accountID, billID string) (*bills.PDF, error) {
					return nil, tt.err
				},
			}
			router := newTestRouter(t, svc, nil)

			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set(middleware.RequestIDHeader, "req-"+tt.wantCode)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}
			var body middleware.ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != tt.wantCode || body.Category != tt.wantCategory {
				t.Errorf("body = %+v, want %s/%s", body, tt.wantCode, tt.wantCategory)
			}
			if body.Message == "" || body.Action == "" {
				t.Errorf("body = %+v, want message and action", body)
			}
			if body.RequestID != "req-"+tt.wantCode {
				t.Errorf("request_id = %q, want %q", body.RequestID, "req-"+tt.wantCode)
			}
		})
	}
}

// 未検出メッセージには要求されたbillIdが入る。
func TestRouter_BillNotFoundMentionsBillID(t *testing.T) {
	svc := &mockBillsService{
		fetchPDFFn: func(ctx context.Context, accountID, billID string) (*bills.PDF, error) {
			return nil, fmt.Errorf("%s: %w", billID, model.ErrBillNotFound)
		},
	}
	router := newTestRouter(t, svc, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/pdf/2207655/R777", nil))

	body := parseAPIErrorResponse(t, w)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if !strings.Contains(body["message"], "R777") {
		t.Errorf("message = %q, want it to mention R777", body["message"])
	}
}
