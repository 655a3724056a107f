package portal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/billbridge/internal/model"
)

// listRequest は一覧APIのリクエストボディ。
type listRequest struct {
	NisRad   int64 `json:"nis_rad"`
	PageNum  int   `json:"page_num"`
	PageSize int   `json:"page_size"`
}

// ListPending は未払い請求書一覧の1ページを取得する。
func (c *Client) ListPending(ctx context.Context, nis int64, page, pageSize int) ([]model.Bill, error) {
	return c.listPage(ctx, EndpointPending, nis, page, pageSize)
}

// ListPaid は支払い済み請求書一覧の1ページを取得する。
func (c *Client) ListPaid(ctx context.Context, nis int64, page, pageSize int) ([]model.Bill, error) {
	return c.listPage(ctx, EndpointPaid, nis, page, pageSize)
}

func (c *Client) listPage(ctx context.Context, endpoint string, nis int64, page, pageSize int) ([]model.Bill, error) {
	resp, err := c.postJSON(ctx, endpoint, listRequest{NisRad: nis, PageNum: page, PageSize: pageSize}, c.cfg.ListTimeout)
	if err != nil {
		return nil, err
	}

	env, err := decodeEnvelope(resp.body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}

	raw := env.payload()
	if raw == nil {
		return nil, nil
	}

	var bills []model.Bill
	if err := json.Unmarshal(raw, &bills); err != nil {
		return nil, fmt.Errorf("%s: 請求書一覧のパースに失敗しました: %w", endpoint, err)
	}
	return bills, nil
}
