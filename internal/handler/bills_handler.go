package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/billbridge/internal/bills"
	"github.com/hitoshi/billbridge/internal/logger"
)

// モード表示名。既存のフロントエンドがこの文字列を参照する。
const (
	modeLabelHTTP      = "HTTP-DIRECT"
	modeLabelBrowser   = "BROWSER"
	sourceLabelHTTP    = "SEDAPAL_HTTP"
	sourceLabelBrowser = "SEDAPAL_BROWSER"
	browserMode        = "browser"
)

// BillsServiceInterface は請求書ハンドラーが必要とするサービスインターフェース。
type BillsServiceInterface interface {
	// Mode はポータルの認証方式名（http / browser）を返す。
	Mode() string
	// ListBills は供給番号の請求書一覧を返す。
	ListBills(ctx context.Context, accountID string) (*bills.Listing, error)
	// FetchPDF は請求書PDFを返す。
	FetchPDF(ctx context.Context, accountID, billID string) (*bills.PDF, error)
}

// BillsHandlerConfig は疎通確認レスポンスに載せる設定値。
type BillsHandlerConfig struct {
	PageSize  int
	TargetMax int
}

// BillsHandler は請求書一覧とPDFのHTTPハンドラー。
type BillsHandler struct {
	service BillsServiceInterface
	config  BillsHandlerConfig
	logger  *slog.Logger
}

// NewBillsHandler はBillsHandlerを生成する。
func NewBillsHandler(service BillsServiceInterface, config BillsHandlerConfig, logger *slog.Logger) *BillsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillsHandler{
		service: service,
		config:  config,
		logger:  logger,
	}
}

// testResponse は疎通確認のAPIレスポンス。
type testResponse struct {
	OK        bool   `json:"ok"`
	Mode      string `json:"mode"`
	PageSize  int    `json:"page_size"`
	TargetMax int    `json:"target_max"`
}

// listResponse は請求書一覧のAPIレスポンス。
// Itemsはサービスが返したJSONをそのまま載せる。
type listResponse struct {
	OK     bool            `json:"ok"`
	Total  int             `json:"total"`
	Items  json.RawMessage `json:"items"`
	Source string          `json:"source"`
}

// Test はサーバーとポータル設定の疎通確認を返す。ポータルは呼び出さない。
// GET /api/test
func (h *BillsHandler) Test(w http.ResponseWriter, r *http.Request) {
	mode := modeLabelHTTP
	if h.service.Mode() == browserMode {
		mode = modeLabelBrowser
	}

	writeJSON(w, http.StatusOK, testResponse{
		OK:        true,
		Mode:      mode,
		PageSize:  h.config.PageSize,
		TargetMax: h.config.TargetMax,
	})
}

// ListBills は供給番号の請求書一覧を返す。
// GET /api/recibos/{accountId}
func (h *BillsHandler) ListBills(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	listing, err := h.service.ListBills(r.Context(), accountID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	items := listing.Raw
	if len(items) == 0 {
		items = json.RawMessage("[]")
	}

	source := sourceLabelHTTP
	if h.service.Mode() == browserMode {
		source = sourceLabelBrowser
	}

	logger.FromContext(r.Context(), h.logger).Info("recibos served",
		slog.String("nis", accountID),
		slog.Int("total", len(listing.Items)),
		slog.Bool("from_cache", listing.FromCache),
	)

	writeJSON(w, http.StatusOK, listResponse{
		OK:     true,
		Total:  len(listing.Items),
		Items:  items,
		Source: source,
	})
}

// GetPDF は請求書PDFをinlineで返す。
// GET /api/pdf/{accountId}/{billId}
func (h *BillsHandler) GetPDF(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	billID := chi.URLParam(r, "billId")

	pdf, err := h.service.FetchPDF(r.Context(), accountID, billID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	filename := fmt.Sprintf("SEDAPAL_%s.pdf", sanitizeFilename(billID))

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Length", strconv.Itoa(len(pdf.Content)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filename))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(pdf.Content); err != nil {
		logger.FromContext(r.Context(), h.logger).Warn("failed to write pdf",
			slog.String("error", err.Error()),
		)
	}
}

// sanitizeFilename はファイル名に使えない文字を除いたrecibo番号を返す。
func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '-', r == '_':
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return "recibo"
	}
	return string(out)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
