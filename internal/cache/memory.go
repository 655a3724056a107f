package cache

import (
	"context"
	"sync"
	"time"
)

// entry はメモリキャッシュの1エントリ。
type entry struct {
	value    []byte
	expireAt time.Time
}

// MemoryStore はプロセス内のTTL付きキャッシュ。
// 期限切れエントリは参照時に無視され、バックグラウンドで定期的に削除される。
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore は新しいMemoryStoreを生成する。
// sweepIntervalが正の場合、期限切れエントリの定期削除を開始する。
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]entry),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}

	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}

	return s
}

// Get はキーに対応する値を返す。
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok || !s.now().Before(e.expireAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set は値をTTL付きで保存する。TTLが0以下の場合は保存しない。
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	// 呼び出し元のスライス変更がキャッシュに波及しないようコピーする
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	s.entries[key] = entry{value: v, expireAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Len は現在保持しているエントリ数を返す（期限切れで未削除のものを含む）。
// テストおよびメトリクス用。
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close は定期削除のゴルーチンを停止する。
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// sweepLoop はバックグラウンドで期限切れエントリを定期的に削除する。
func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

// sweep は期限切れエントリを削除する。
func (s *MemoryStore) sweep() {
	now := s.now()

	s.mu.Lock()
	for key, e := range s.entries {
		if !now.Before(e.expireAt) {
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()
}
