package cache

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"
)

// fakeClock はテスト用の手動で進める時計。
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore() (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(0)
	s.now = clock.Now
	return s, clock
}

func TestMemoryStore_HitWithinTTL_ReturnsIdenticalBytes(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	original := []byte(`{"items":[1,2,3]}`)
	if err := s.Set(ctx, "bills:1", original, 10*time.Minute); err != nil {
		t.Fatalf("Set がエラーを返した: %v", err)
	}

	clock.Advance(9 * time.Minute)

	got, ok, err := s.Get(ctx, "bills:1")
	if err != nil {
		t.Fatalf("Get がエラーを返した: %v", err)
	}
	if !ok {
		t.Fatal("TTL内ではヒットするべき")
	}
	if !bytes.Equal(got, original) {
		t.Errorf("Get = %s, want %s", got, original)
	}
}

func TestMemoryStore_ExpiredEntry_IsMiss(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	_ = s.Set(ctx, "k", []byte("v"), time.Minute)
	clock.Advance(time.Minute)

	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("TTLちょうどで失効するべき")
	}
}

func TestMemoryStore_UnknownKey_IsMiss(t *testing.T) {
	s, _ := newTestStore()

	if _, ok, _ := s.Get(context.Background(), "missing"); ok {
		t.Error("未登録キーはミスになるべき")
	}
}

func TestMemoryStore_SetCopiesValue(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	v := []byte("abc")
	_ = s.Set(ctx, "k", v, time.Minute)
	v[0] = 'x'

	got, _, _ := s.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("Get = %q, want %q", got, "abc")
	}
}

func TestMemoryStore_NonPositiveTTL_NotStored(t *testing.T) {
	s, _ := newTestStore()
	_ = s.Set(context.Background(), "k", []byte("v"), 0)

	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestMemoryStore_Sweep_RemovesExpired(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()

	_ = s.Set(ctx, "short", []byte("1"), time.Minute)
	_ = s.Set(ctx, "long", []byte("2"), time.Hour)

	clock.Advance(2 * time.Minute)
	s.sweep()

	if s.Len() != 1 {
		t.Fatalf("Len = %d, want 1", s.Len())
	}
	if _, ok, _ := s.Get(ctx, "long"); !ok {
		t.Error("有効なエントリは残るべき")
	}
}

func TestMemoryStore_CloseIsIdempotent(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	if err := s.Close(); err != nil {
		t.Fatalf("Close がエラーを返した: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("2回目の Close がエラーを返した: %v", err)
	}
}
