package portal

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hitoshi/billbridge/internal/model"
)

// pdfMagic はPDFファイルの先頭バイト列。
var pdfMagic = []byte("%PDF")

// PDFRequest はPDF取得APIに送る請求書の識別情報。
// ポータルのWebアプリが送るペイロードと同じ項目を持つ。
type PDFRequest struct {
	NisRad      int64  `json:"nis_rad"`
	SecNis      int64  `json:"sec_nis"`
	SecRec      int64  `json:"sec_rec"`
	CodCli      int64  `json:"cod_cli"`
	FFact       string `json:"f_fact"`
	Mes         string `json:"mes"`
	Recibo      string `json:"recibo"`
	NroFactura  string `json:"nro_factura"`
	TipRec      string `json:"tip_rec"`
	TipoRecibo  string `json:"tipo_recibo"`
	TotalFact   any    `json:"total_fact"`
	Deuda       any    `json:"deuda"`
	Vencimiento string `json:"vencimiento"`
	Volumen     any    `json:"volumen"`
	EstAct      string `json:"est_act"`
	ImpCta      any    `json:"imp_cta"`
	Select      bool   `json:"select"`
}

// NewPDFRequest は一覧で取得した請求書からPDF取得用のリクエストを組み立てる。
// nis_radは要求された供給番号で上書きする。
func NewPDFRequest(nis int64, b model.Bill) PDFRequest {
	mes := string(b.Mes)
	if mes == "" {
		mes = string(b.FFact)
	}
	return PDFRequest{
		NisRad:      nis,
		SecNis:      b.SecNis.Int64(),
		SecRec:      b.SecRec.Int64(),
		CodCli:      b.CodCli.Int64(),
		FFact:       b.InvoiceDateRaw(),
		Mes:         mes,
		Recibo:      string(b.Recibo),
		NroFactura:  string(b.NroFactura),
		TipRec:      string(b.TipRec),
		TipoRecibo:  string(b.TipoRecibo),
		TotalFact:   numeric(b.TotalFact),
		Deuda:       numeric(b.TotalFact),
		Vencimiento: string(b.Vencimiento),
		Volumen:     numeric(b.Volumen),
		EstAct:      string(b.EstAct),
		ImpCta:      numeric(b.ImpCta),
	}
}

// CacheKey はPDFキャッシュのキー（sec_nis-sec_rec-f_fact）を返す。
func (r PDFRequest) CacheKey() string {
	return fmt.Sprintf("%d-%d-%s", r.SecNis, r.SecRec, r.FFact)
}

// numeric は数値として解釈できる値をJSON数値として、それ以外を文字列として送る。
// 空の場合は0を送る。
func numeric(s model.FlexString) any {
	v := strings.TrimSpace(string(s))
	if v == "" {
		return json.Number("0")
	}
	if (v[0] == '-' || (v[0] >= '0' && v[0] <= '9')) && json.Valid([]byte(v)) {
		return json.Number(v)
	}
	return v
}

// FetchPDF は請求書PDFを取得する。
// レスポンスがPDF本体の場合はそのまま、JSONの場合はbRESP（文字列または{content}）を
// base64デコードして返す。デコード後のサイズがPDFMinBytes未満の場合はErrPDFTooSmallを返す。
func (c *Client) FetchPDF(ctx context.Context, r PDFRequest) ([]byte, error) {
	resp, err := c.postJSON(ctx, EndpointPDF, r, c.cfg.PDFTimeout)
	if err != nil {
		return nil, err
	}

	pdf, err := decodePDF(resp)
	if err != nil {
		return nil, err
	}

	if len(pdf) < c.cfg.PDFMinBytes {
		return nil, fmt.Errorf("%w: %d bytes (min %d)", model.ErrPDFTooSmall, len(pdf), c.cfg.PDFMinBytes)
	}

	c.metrics.RecordPDFBytes(len(pdf))
	return pdf, nil
}

// decodePDF はPDF本体またはbase64を埋め込んだJSONからPDFのバイト列を取り出す。
func decodePDF(resp *response) ([]byte, error) {
	if strings.Contains(strings.ToLower(resp.contentType), "application/pdf") || bytes.HasPrefix(resp.body, pdfMagic) {
		return resp.body, nil
	}

	env, err := decodeEnvelope(resp.body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrUnexpectedPDF, err)
	}

	raw := env.payload()
	if raw == nil {
		return nil, unexpectedPDF(env.Message, errNoPayload.Error())
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		var wrapped struct {
			Content string `json:"content"`
		}
		if err := json.Unmarshal(raw, &wrapped); err != nil || wrapped.Content == "" {
			return nil, unexpectedPDF(env.Message, "bRESP is neither base64 text nor {content}")
		}
		encoded = wrapped.Content
	}

	pdf, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", model.ErrUnexpectedPDF, err)
	}
	return pdf, nil
}

func unexpectedPDF(vendorMessage, reason string) error {
	if vendorMessage != "" {
		return fmt.Errorf("%w: %s (%s)", model.ErrUnexpectedPDF, reason, vendorMessage)
	}
	return fmt.Errorf("%w: %s", model.ErrUnexpectedPDF, reason)
}
