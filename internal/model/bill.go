// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// PaymentStatus は請求書の支払い状態を表す。
type PaymentStatus string

const (
	// PaymentStatusPending は未払い（ポータルの「deudas」一覧由来）。
	PaymentStatusPending PaymentStatus = "PENDIENTE"
	// PaymentStatusPaid は支払い済み（ポータルの「pagados」一覧由来）。
	PaymentStatusPaid PaymentStatus = "PAGADO"
)

// invoiceDateLayout は f_fact の日付部分のレイアウト。
const invoiceDateLayout = "2006-01-02"

// Bill はポータルから取得した請求書（recibo）1件を表す。
// ベンダーAPIのレスポンスから生成され、本システムでは読み取り専用として扱う。
// JSONタグはフロントエンドが参照するベンダーの項目名に合わせている。
type Bill struct {
	Recibo      FlexString `json:"recibo"`
	NisRad      FlexInt    `json:"nis_rad"`
	SecNis      FlexInt    `json:"sec_nis"`
	SecRec      FlexInt    `json:"sec_rec"`
	CodCli      FlexInt    `json:"cod_cli"`
	FFact       FlexString `json:"f_fact"`
	Mes         FlexString `json:"mes,omitempty"`
	Vencimiento FlexString `json:"vencimiento,omitempty"`
	TotalFact   FlexString `json:"total_fact"`
	NroFactura  FlexString `json:"nro_factura,omitempty"`
	TipRec      FlexString `json:"tip_rec,omitempty"`
	TipoRecibo  FlexString `json:"tipo_recibo,omitempty"`
	Volumen     FlexString `json:"volumen,omitempty"`
	EstAct      FlexString `json:"est_act,omitempty"`
	ImpCta      FlexString `json:"imp_cta,omitempty"`

	Status  PaymentStatus `json:"estado_pago"`
	EsDeuda bool          `json:"es_deuda"`
}

// Key は重複排除に使う請求書の識別子を返す。
// recibo番号が空の場合はsec_nisとsec_recの組を使う。
func (b Bill) Key() string {
	if b.Recibo != "" {
		return string(b.Recibo)
	}
	return fmt.Sprintf("%d-%d", b.SecNis, b.SecRec)
}

// InvoiceDate は請求日（f_fact、なければmes）を解釈して返す。
// 先頭10文字をYYYY-MM-DDとして解釈し、失敗した場合はゼロ値を返す。
func (b Bill) InvoiceDate() time.Time {
	raw := string(b.FFact)
	if raw == "" {
		raw = string(b.Mes)
	}
	if len(raw) > len(invoiceDateLayout) {
		raw = raw[:len(invoiceDateLayout)]
	}
	t, err := time.Parse(invoiceDateLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// InvoiceDateRaw はPDF取得時にポータルへ送る請求日文字列を返す。
func (b Bill) InvoiceDateRaw() string {
	if b.FFact != "" {
		return string(b.FFact)
	}
	return string(b.Mes)
}

// MarkPending は未払いとしてタグ付けする。
func (b *Bill) MarkPending() {
	b.Status = PaymentStatusPending
	b.EsDeuda = true
}

// MarkPaid は支払い済みとしてタグ付けする。
func (b *Bill) MarkPaid() {
	b.Status = PaymentStatusPaid
	b.EsDeuda = false
}
