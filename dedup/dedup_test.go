package dedup

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestMemory_RejectsDuplicate(t *testing.T) {
	m := NewMemory(time.Second)
	ctx := context.Background()

	release, err := m.Acquire(ctx, "fp")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Acquire(ctx, "fp"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("err = %v, want ErrInFlight", err)
	}
	if _, err := m.Acquire(ctx, "other"); err != nil {
		t.Fatalf("distinct key rejected: %v", err)
	}

	release()
	if _, err := m.Acquire(ctx, "fp"); err != nil {
		t.Fatalf("released key still held: %v", err)
	}
}

func TestMemory_ExpiresAfterWindow(t *testing.T) {
	// WHAT: A key that is never released frees itself after the window.
	// WHY: A hung request must not block its fingerprint forever.
	now := time.Now()
	m := NewMemory(5*time.Second, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := m.Acquire(ctx, "fp"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(4 * time.Second)
	if _, err := m.Acquire(ctx, "fp"); !errors.Is(err, ErrInFlight) {
		t.Fatal("still inside the window")
	}
	now = now.Add(time.Second)
	if _, err := m.Acquire(ctx, "fp"); err != nil {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestMemory_StaleReleaseKeepsNewHolder(t *testing.T) {
	now := time.Now()
	m := NewMemory(time.Second, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	stale, _ := m.Acquire(ctx, "fp")
	now = now.Add(2 * time.Second)
	if _, err := m.Acquire(ctx, "fp"); err != nil {
		t.Fatal(err)
	}
	stale()
	if m.InFlight() != 1 {
		t.Fatal("a release from an expired holder must not free the new holder")
	}
}

func TestMemory_ConcurrentAcquireSingleWinner(t *testing.T) {
	m := NewMemory(time.Second)
	var won atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Acquire(context.Background(), "fp"); err == nil {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Fatalf("winners = %d, want 1", won.Load())
	}
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return mr, NewRedis(rdb, "test", 5*time.Second)
}

func TestRedis_AcquireRelease(t *testing.T) {
	mr, d := setupRedis(t)
	ctx := context.Background()

	release, err := d.Acquire(ctx, "fp")
	if err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("test:fp") {
		t.Fatal("key not written")
	}
	if _, err := d.Acquire(ctx, "fp"); !errors.Is(err, ErrInFlight) {
		t.Fatalf("err = %v, want ErrInFlight", err)
	}

	release()
	if mr.Exists("test:fp") {
		t.Fatal("release did not delete the key")
	}
}

func TestRedis_ExpiresAfterWindow(t *testing.T) {
	mr, d := setupRedis(t)
	ctx := context.Background()

	if _, err := d.Acquire(ctx, "fp"); err != nil {
		t.Fatal(err)
	}
	mr.FastForward(5 * time.Second)
	if _, err := d.Acquire(ctx, "fp"); err != nil {
		t.Fatalf("expected expiry, got %v", err)
	}
}

func TestRedis_StaleReleaseKeepsNewHolder(t *testing.T) {
	// WHAT: Release compares the owner token before deleting.
	// WHY: Another replica may have re-acquired the key after expiry.
	mr, d := setupRedis(t)
	ctx := context.Background()

	stale, _ := d.Acquire(ctx, "fp")
	mr.FastForward(6 * time.Second)
	if _, err := d.Acquire(ctx, "fp"); err != nil {
		t.Fatal(err)
	}
	stale()
	if !mr.Exists("test:fp") {
		t.Fatal("stale release deleted the new holder's key")
	}
}
