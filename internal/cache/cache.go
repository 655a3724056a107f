// Package cache は請求書一覧とPDFの時間制限付きキャッシュを提供する。
// 失効は壁時計のTTLのみで判定し、サイズ上限や追い出しポリシーは持たない。
package cache

import (
	"context"
	"time"
)

// Store はキーとバイト列のTTL付きキャッシュ。
// 値はバイト列のまま保存するため、ヒット時は保存時と同一の内容を返す。
type Store interface {
	// Get はキーに対応する値を返す。期限切れ・未登録の場合はfalseを返す。
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set は値をTTL付きで保存する。
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Close はバックグラウンド処理や接続を解放する。
	Close() error
}
