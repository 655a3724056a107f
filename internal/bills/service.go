// Package bills は請求書一覧の取得（未払い・支払い済みの統合）と請求書PDFの取得を提供する。
package bills

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/hitoshi/billbridge/internal/cache"
	"github.com/hitoshi/billbridge/internal/metrics"
	"github.com/hitoshi/billbridge/internal/model"
	"github.com/hitoshi/billbridge/internal/portal"
	"github.com/hitoshi/billbridge/internal/security"
	"golang.org/x/sync/singleflight"
)

// maxAccountDigits は供給番号（NIS）として受け付ける最大桁数。
const maxAccountDigits = 18

// キャッシュ種別。メトリクスのラベルに使う。
const (
	cacheKindBills = "bills"
	cacheKindPDF   = "pdf"
)

// Portal はサービスが必要とするポータルAPIの操作。
type Portal interface {
	Mode() string
	ListPending(ctx context.Context, nis int64, page, pageSize int) ([]model.Bill, error)
	ListPaid(ctx context.Context, nis int64, page, pageSize int) ([]model.Bill, error)
	FetchPDF(ctx context.Context, req portal.PDFRequest) ([]byte, error)
}

// Options は一覧取得とキャッシュの設定。
// ListTimeoutとPDFTimeoutはまとめて実行するポータル呼び出し全体の上限で、0なら上限なし。
type Options struct {
	PageSize    int
	PageBudget  int
	TargetMax   int
	BillsTTL    time.Duration
	PDFTTL      time.Duration
	ListTimeout time.Duration
	PDFTimeout  time.Duration
}

// Listing は請求書一覧の取得結果。
// Itemsはポータルが返したままの請求書で、PDF取得の識別に使う。
// Rawは表示用にサニタイズしたItemsのJSONで、キャッシュヒット時も同一のバイト列になる。
type Listing struct {
	Items     []model.Bill
	Raw       json.RawMessage
	FromCache bool
}

// PDF は取得した請求書PDF。
type PDF struct {
	Bill      model.Bill
	Content   []byte
	FromCache bool
}

// Service は請求書一覧とPDFの取得を提供する。
type Service struct {
	portal    Portal
	store     cache.Store
	sanitizer *security.TextSanitizer
	opts      Options
	logger    *slog.Logger
	metrics   metrics.MetricsCollector

	group singleflight.Group
}

// NewService は新しいServiceを生成する。
func NewService(p Portal, store cache.Store, sanitizer *security.TextSanitizer, opts Options, logger *slog.Logger, mc metrics.MetricsCollector) *Service {
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		portal:    p,
		store:     store,
		sanitizer: sanitizer,
		opts:      opts,
		logger:    logger,
		metrics:   mc,
	}
}

// Mode はポータルの認証方式名を返す。
func (s *Service) Mode() string {
	return s.portal.Mode()
}

// ParseAccountID は供給番号（NIS）を検証して数値に変換する。
// 数字のみ（最大18桁）を受け付ける。
func ParseAccountID(accountID string) (int64, error) {
	if accountID == "" || len(accountID) > maxAccountDigits {
		return 0, model.NewInvalidAccountError(accountID)
	}
	for _, r := range accountID {
		if r < '0' || r > '9' {
			return 0, model.NewInvalidAccountError(accountID)
		}
	}
	nis, err := strconv.ParseInt(accountID, 10, 64)
	if err != nil {
		return 0, model.NewInvalidAccountError(accountID)
	}
	return nis, nil
}

// ListBills は供給番号の請求書一覧を返す。
// 未払い・支払い済みの一覧を統合して重複を除き、請求日の降順に並べて最大TargetMax件に切り詰める。
// 結果はBillsTTLの間キャッシュされる。
func (s *Service) ListBills(ctx context.Context, accountID string) (*Listing, error) {
	nis, err := ParseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("bills:%d", nis)
	if cached, ok := s.cacheGet(ctx, cacheKindBills, key); ok {
		listing, err := s.newListing(cached)
		if err == nil {
			listing.FromCache = true
			return listing, nil
		}
		s.logger.Warn("キャッシュされた請求書一覧を読み取れません",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}

	// 取得は最初の呼び出し元のキャンセルに影響されず、ListTimeoutで打ち切られる
	ch := s.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := detach(ctx, s.opts.ListTimeout)
		defer cancel()
		return s.fetchListing(fetchCtx, nis, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Listing), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// detach は呼び出し元のキャンセルを切り離し、timeoutが正ならその上限を付けたコンテキストを返す。
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// newListing はキャッシュ形式（ポータルの請求書のJSON）からListingを組み立てる。
func (s *Service) newListing(cached []byte) (*Listing, error) {
	var items []model.Bill
	if err := json.Unmarshal(cached, &items); err != nil {
		return nil, err
	}
	raw, err := s.displayJSON(items)
	if err != nil {
		return nil, err
	}
	return &Listing{Items: items, Raw: raw}, nil
}

// displayJSON はitemsの複製をサニタイズしてJSONにする。items自体は変更しない。
func (s *Service) displayJSON(items []model.Bill) (json.RawMessage, error) {
	display := make([]model.Bill, len(items))
	copy(display, items)
	if s.sanitizer != nil {
		for i := range display {
			s.sanitizer.SanitizeBill(&display[i])
		}
	}
	return json.Marshal(display)
}

// fetchListing はポータルから一覧を取得し、完全な結果のみキャッシュする。
// キャッシュにはサニタイズ前の請求書を保存する。
func (s *Service) fetchListing(ctx context.Context, nis int64, key string) (*Listing, error) {
	complete := true

	pending, err := s.collect(ctx, s.portal.ListPending, nis, 0)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		// 未払い一覧の失敗は許容し、支払い済み一覧だけで応答する
		complete = false
		s.logger.Warn("未払い請求書一覧の取得に失敗しました",
			slog.Int64("nis", nis),
			slog.String("error", err.Error()),
		)
	}

	paid, err := s.collect(ctx, s.portal.ListPaid, nis, len(pending))
	if err != nil {
		return nil, fmt.Errorf("支払い済み請求書一覧の取得に失敗しました: %w", err)
	}

	items := MergeBills(nis, pending, paid, s.opts.TargetMax)

	stored, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("請求書一覧のエンコードに失敗しました: %w", err)
	}
	listing, err := s.newListing(stored)
	if err != nil {
		return nil, fmt.Errorf("請求書一覧のエンコードに失敗しました: %w", err)
	}

	if complete {
		s.cacheSet(ctx, key, stored, s.opts.BillsTTL)
	}

	s.logger.Info("請求書一覧を取得しました",
		slog.Int64("nis", nis),
		slog.Int("pending", len(pending)),
		slog.Int("paid", len(paid)),
		slog.Int("total", len(items)),
		slog.Bool("complete", complete),
	)

	return listing, nil
}

type pageFunc func(ctx context.Context, nis int64, page, pageSize int) ([]model.Bill, error)

// collect は一覧APIをページ順に呼び出す。
// 件数がページサイズ未満のページ、ページ数の上限、または既存件数を含めてTargetMaxに達した時点で止める。
// エラー時はそれまでに取得した分とエラーを返す。
func (s *Service) collect(ctx context.Context, fetch pageFunc, nis int64, have int) ([]model.Bill, error) {
	var out []model.Bill
	for page := 1; page <= s.opts.PageBudget && have+len(out) < s.opts.TargetMax; page++ {
		items, err := fetch(ctx, nis, page, s.opts.PageSize)
		if err != nil {
			return out, err
		}
		out = append(out, items...)
		if len(items) < s.opts.PageSize {
			break
		}
	}
	return out, nil
}

// MergeBills は未払い・支払い済みの一覧を統合する。
// 各請求書に支払い状態を付け、nis_radを要求された供給番号に揃える。
// 重複はKey()で判定して先に現れたもの（未払い側）を残し、請求日の降順に安定ソートして最大max件を返す。
// 請求日を解釈できない請求書は末尾に並ぶ。
func MergeBills(nis int64, pending, paid []model.Bill, max int) []model.Bill {
	seen := make(map[string]struct{}, len(pending)+len(paid))
	merged := make([]model.Bill, 0, len(pending)+len(paid))

	add := func(b model.Bill, isPending bool) {
		if isPending {
			b.MarkPending()
		} else {
			b.MarkPaid()
		}
		b.NisRad = model.FlexInt(nis)

		k := b.Key()
		if _, dup := seen[k]; dup {
			return
		}
		seen[k] = struct{}{}
		merged = append(merged, b)
	}
	for _, b := range pending {
		add(b, true)
	}
	for _, b := range paid {
		add(b, false)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].InvoiceDate().After(merged[j].InvoiceDate())
	})

	if max > 0 && len(merged) > max {
		merged = merged[:max]
	}
	return merged
}

// FetchPDF は請求書一覧からbillID（recibo番号）の請求書を探し、そのPDFを返す。
// 一覧にない場合はmodel.ErrBillNotFoundを返す。PDFはPDFTTLの間キャッシュされる。
func (s *Service) FetchPDF(ctx context.Context, accountID, billID string) (*PDF, error) {
	listing, err := s.ListBills(ctx, accountID)
	if err != nil {
		return nil, err
	}

	bill, ok := findBill(listing.Items, billID)
	if !ok {
		return nil, fmt.Errorf("%s: %w", billID, model.ErrBillNotFound)
	}

	nis := bill.NisRad.Int64()
	req := portal.NewPDFRequest(nis, bill)
	key := fmt.Sprintf("pdf:%d:%s", nis, req.CacheKey())

	if content, ok := s.cacheGet(ctx, cacheKindPDF, key); ok {
		return &PDF{Bill: bill, Content: content, FromCache: true}, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		fetchCtx, cancel := detach(ctx, s.opts.PDFTimeout)
		defer cancel()
		content, err := s.portal.FetchPDF(fetchCtx, req)
		if err != nil {
			return nil, err
		}
		s.cacheSet(fetchCtx, key, content, s.opts.PDFTTL)
		return content, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		s.logger.Error("請求書PDFの取得に失敗しました",
			slog.Int64("nis", nis),
			slog.String("recibo", billID),
			slog.String("error", res.Err.Error()),
		)
		return nil, res.Err
	}

	return &PDF{Bill: bill, Content: res.Val.([]byte)}, nil
}

func findBill(items []model.Bill, billID string) (model.Bill, bool) {
	for _, b := range items {
		if string(b.Recibo) == billID {
			return b, true
		}
	}
	return model.Bill{}, false
}

// cacheGet はキャッシュを参照する。キャッシュの障害はミスとして扱う。
func (s *Service) cacheGet(ctx context.Context, kind, key string) ([]byte, bool) {
	if s.store == nil {
		return nil, false
	}
	v, ok, err := s.store.Get(ctx, key)
	if err != nil {
		s.logger.Warn("キャッシュの参照に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		ok = false
	}
	s.metrics.RecordCacheLookup(kind, ok)
	return v, ok
}

func (s *Service) cacheSet(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if s.store == nil {
		return
	}
	if err := s.store.Set(ctx, key, value, ttl); err != nil {
		s.logger.Warn("キャッシュの保存に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}
