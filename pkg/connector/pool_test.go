// Copyright 2024-2026 Aiku AI

package connector

import (
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestForEachLimited_VisitsEveryItemOnce(t *testing.T) {
	t.Parallel()
	items := make([]int, 50)
	for i := range items {
		items[i] = i
	}
	var mu sync.Mutex
	seen := make(map[int]int)
	err := forEachLimited(items, 3, func(index, item int) error {
		if index != item {
			t.Errorf("index %d carried item %d", index, item)
		}
		mu.Lock()
		seen[item]++
		mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("forEachLimited: %v", err)
	}
	if len(seen) != len(items) {
		t.Fatalf("visited %d items, want %d", len(seen), len(items))
	}
	for item, n := range seen {
		if n != 1 {
			t.Errorf("item %d visited %d times", item, n)
		}
	}
}

func TestForEachLimited_RespectsLimit(t *testing.T) {
	t.Parallel()
	var inFlight, peak atomic.Int32
	err := forEachLimited(make([]struct{}, 12), 2, func(int, struct{}) error {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatalf("forEachLimited: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency %d, want <= 2", got)
	}
}

func TestForEachLimited_ErrorsDoNotCancelSiblings(t *testing.T) {
	t.Parallel()
	var ran atomic.Int32
	boom := errors.New("boom")
	err := forEachLimited([]int{0, 1, 2, 3}, 2, func(_ int, item int) error {
		ran.Add(1)
		if item == 1 {
			return boom
		}
		if item == 2 {
			panic("kaboom")
		}
		return nil
	})
	if ran.Load() != 4 {
		t.Errorf("ran %d items, want 4", ran.Load())
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error to wrap boom, got %v", err)
	}
	if err == nil || !strings.Contains(err.Error(), "item 2 panicked: kaboom") {
		t.Errorf("expected panic to be reported, got %v", err)
	}
}

func TestForEachLimited_Empty(t *testing.T) {
	t.Parallel()
	called := false
	err := forEachLimited[int](nil, 2, func(int, int) error {
		called = true
		return nil
	})
	if err != nil || called {
		t.Errorf("empty input: err=%v called=%v", err, called)
	}
}

func TestForEachLimited_ZeroLimitStillRuns(t *testing.T) {
	t.Parallel()
	var ran atomic.Int32
	_ = forEachLimited([]int{1, 2, 3}, 0, func(int, int) error {
		ran.Add(1)
		return nil
	})
	if ran.Load() != 3 {
		t.Errorf("ran %d items, want 3", ran.Load())
	}
}
