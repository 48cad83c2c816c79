package keylock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockSerializesSameKey(t *testing.T) {
	var (
		m       Map[string]
		active  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(context.Background(), "/incoming/a.mkv")
			if err != nil {
				t.Errorf("Lock: %v", err)
				return
			}
			defer unlock()
			n := active.Add(1)
			if n > maxSeen.Load() {
				maxSeen.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()
	if maxSeen.Load() != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxSeen.Load())
	}
	if m.Len() != 0 {
		t.Fatalf("entries leaked: %d", m.Len())
	}
}

func TestDistinctKeysDoNotBlock(t *testing.T) {
	var m Map[int64]
	unlockA, err := m.Lock(context.Background(), 1)
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := m.Lock(ctx, 2)
	if err != nil {
		t.Fatalf("distinct key blocked: %v", err)
	}
	unlockB()
}

func TestLockHonoursContext(t *testing.T) {
	var m Map[string]
	unlock, _ := m.Lock(context.Background(), "k")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := m.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}
	unlock()
	unlock()
	if m.Len() != 0 {
		t.Fatalf("entries leaked: %d", m.Len())
	}
}
