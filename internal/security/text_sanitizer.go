package security

import (
	"strings"

	"github.com/hitoshi/billbridge/internal/model"
	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はポータルが返す自由記述項目からマークアップを除去する。
// フロントエンドは請求書の項目をそのまま表示するため、タグを一切通さない。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicyでTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize は文字列からタグを除去する。
// タグ記号を含まない値は変更せずに返す。
func (s *TextSanitizer) Sanitize(text string) string {
	if !strings.ContainsAny(text, "<>") {
		return text
	}
	return strings.TrimSpace(s.policy.Sanitize(text))
}

// SanitizeBill は請求書の表示用テキスト項目をサニタイズする。
// これらの項目はPDF取得のペイロードにも含まれるため、表示用の複製にだけ適用する。
func (s *TextSanitizer) SanitizeBill(b *model.Bill) {
	for _, f := range []*model.FlexString{
		&b.TipoRecibo,
		&b.TipRec,
		&b.EstAct,
		&b.Volumen,
		&b.ImpCta,
		&b.Vencimiento,
		&b.TotalFact,
		&b.NroFactura,
	} {
		*f = model.FlexString(s.Sanitize(string(*f)))
	}
}
