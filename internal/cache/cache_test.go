package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/Dannydropz/phuketradar-sub003/internal/globaltime"
)

func TestGetHonorsTTL(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(base)
	defer globaltime.ResetTime()

	c := New(Options{DefaultTTL: time.Minute})
	c.Set("articles:list", "cached", 0)

	if value, ok := c.Get("articles:list"); !ok || value != "cached" {
		t.Fatalf("expected fresh hit, got %v ok=%v", value, ok)
	}

	globaltime.SetMockTime(base.Add(2 * time.Minute))
	if _, ok := c.Get("articles:list"); ok {
		t.Fatalf("expected expired entry to miss")
	}
}

func TestInvalidatePrefix(t *testing.T) {
	c := New(Options{DefaultTTL: time.Minute})
	c.Set("articles:list:1", 1, 0)
	c.Set("articles:slug:crash", 2, 0)
	c.Set("trending:10", 3, 0)

	c.InvalidatePrefix("articles:")

	if _, ok := c.Get("articles:list:1"); ok {
		t.Fatalf("articles entry survived invalidation")
	}
	if _, ok := c.Get("articles:slug:crash"); ok {
		t.Fatalf("slug entry survived invalidation")
	}
	if _, ok := c.Get("trending:10"); !ok {
		t.Fatalf("unrelated prefix was invalidated")
	}
}

func TestGetOrLoadCachesResult(t *testing.T) {
	c := New(Options{DefaultTTL: time.Minute})

	calls := 0
	loader := func() (any, error) {
		calls++
		return "loaded", nil
	}

	for i := 0; i < 3; i++ {
		value, err := c.GetOrLoad("key", loader)
		if err != nil {
			t.Fatalf("GetOrLoad failed: %v", err)
		}
		if value != "loaded" {
			t.Fatalf("unexpected value %v", value)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 loader call, got %d", calls)
	}
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	c := New(Options{DefaultTTL: time.Minute})

	boom := errors.New("db down")
	if _, err := c.GetOrLoad("key", func() (any, error) { return nil, boom }); !errors.Is(err, boom) {
		t.Fatalf("expected loader error, got %v", err)
	}
	if c.Len() != 0 {
		t.Fatalf("error result must not be cached")
	}

	value, err := c.GetOrLoad("key", func() (any, error) { return "ok", nil })
	if err != nil || value != "ok" {
		t.Fatalf("expected recovery on next load, got %v %v", value, err)
	}
}

func TestSweepDropsExpiredEntries(t *testing.T) {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	globaltime.SetMockTime(base)
	defer globaltime.ResetTime()

	c := New(Options{DefaultTTL: time.Minute})
	c.Set("a", 1, 0)
	c.Set("b", 2, time.Hour)

	globaltime.SetMockTime(base.Add(10 * time.Minute))
	c.sweep()

	if c.Len() != 1 {
		t.Fatalf("expected 1 surviving entry, got %d", c.Len())
	}
	if _, ok := c.Get("b"); !ok {
		t.Fatalf("long-ttl entry must survive the sweep")
	}
}
