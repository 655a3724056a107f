package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// フロントエンドに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, portal, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidAccount   = "INVALID_ACCOUNT"
	ErrCodeBillNotFound     = "BILL_NOT_FOUND"
	ErrCodePortalAuthFailed = "PORTAL_AUTH_FAILED"
	ErrCodePortalFailed     = "PORTAL_FAILED"
	ErrCodePDFUnavailable   = "PDF_UNAVAILABLE"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ドメイン層のセンチネルエラー。ハンドラーでHTTPステータスに対応付ける。
var (
	// ErrBillNotFound は指定された請求書が一覧に存在しないことを示す。
	ErrBillNotFound = errors.New("bill not found")
	// ErrMissingCredentials はポータルの認証情報が設定されていないことを示す。
	ErrMissingCredentials = errors.New("portal credentials are not configured")
	// ErrLoginRejected はポータルがログインを拒否した、またはトークンを返さなかったことを示す。
	ErrLoginRejected = errors.New("portal rejected login")
	// ErrUnauthorized は再ログイン後もポータルが401/403を返したことを示す。
	ErrUnauthorized = errors.New("portal rejected token")
	// ErrPDFTooSmall はデコード後のPDFが妥当なサイズに満たないことを示す。
	ErrPDFTooSmall = errors.New("pdf content is implausibly small")
	// ErrUnexpectedPDF はPDFレスポンスが想定外の形式であることを示す。
	ErrUnexpectedPDF = errors.New("unexpected pdf response")
	// ErrResponseTooLarge はポータルのレスポンスが読み取り上限を超えたことを示す。
	ErrResponseTooLarge = errors.New("portal response too large")
)

// NewInvalidAccountError は不正な供給番号（NIS）エラーを生成する。
func NewInvalidAccountError(accountID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAccount,
		Message:  fmt.Sprintf("供給番号が不正です: %s", accountID),
		Category: "validation",
		Action:   "数字のみの供給番号（NIS）を指定してください。",
	}
}

// NewBillNotFoundError は請求書未検出エラーを生成する。
func NewBillNotFoundError(billID string) *APIError {
	return &APIError{
		Code:     ErrCodeBillNotFound,
		Message:  fmt.Sprintf("指定された請求書が見つかりません: %s", billID),
		Category: "portal",
		Action:   "請求書一覧を再取得して番号を確認してください。",
	}
}

// NewPortalAuthFailedError はポータル認証失敗エラーを生成する。
func NewPortalAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodePortalAuthFailed,
		Message:  "ポータルへのログインに失敗しました。",
		Category: "portal",
		Action:   "サーバーの認証情報の設定を確認してください。",
	}
}

// NewPortalFailedError はポータル呼び出し失敗エラーを生成する。
func NewPortalFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePortalFailed,
		Message:  fmt.Sprintf("ポータルからの取得に失敗しました: %s", reason),
		Category: "portal",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewPDFUnavailableError はPDF取得失敗エラーを生成する。
func NewPDFUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodePDFUnavailable,
		Message:  fmt.Sprintf("PDFを取得できませんでした: %s", reason),
		Category: "portal",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
