package reliability

import (
	"encoding/json"
	"testing"
	"time"
)

func testCache(cfg CacheConfig) (*ResultCache, *time.Time) {
	c := newResultCache(cfg)
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }
	return c, &current
}

func TestCacheSetGet(t *testing.T) {
	c, _ := testCache(CacheConfig{MaxSize: 4, TTL: time.Minute})

	value := json.RawMessage(`{"entities":["a","b"]}`)
	c.Set("k1", value)

	got, ok := c.Get("k1")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(got) != string(value) {
		t.Errorf("cached value mismatch: %s", got)
	}

	stats := c.Stats()
	if stats.Hits != 1 || stats.TotalAccess != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestCacheExpiry(t *testing.T) {
	c, now := testCache(CacheConfig{MaxSize: 4, TTL: time.Minute})

	c.Set("k1", json.RawMessage(`1`))
	*now = now.Add(2 * time.Minute)

	if _, ok := c.Get("k1"); ok {
		t.Fatal("expired entry returned as hit")
	}

	stats := c.Stats()
	if stats.ExpiredCount != 1 {
		t.Errorf("expected 1 expiry, got %d", stats.ExpiredCount)
	}
	if stats.Hits != 0 {
		t.Errorf("expired get counted as hit")
	}
	if stats.Size != 0 {
		t.Errorf("expired entry not removed, size %d", stats.Size)
	}
}

func TestCacheEvictsLeastRecentlyAccessed(t *testing.T) {
	c, _ := testCache(CacheConfig{MaxSize: 2, TTL: time.Hour})

	c.Set("old", json.RawMessage(`1`))
	c.Set("warm", json.RawMessage(`2`))

	// Touch "old" so "warm" becomes the eviction candidate.
	if _, ok := c.Get("old"); !ok {
		t.Fatal("expected hit on old")
	}

	c.Set("new", json.RawMessage(`3`))

	if _, ok := c.Get("warm"); ok {
		t.Error("least recently accessed entry survived eviction")
	}
	if _, ok := c.Get("old"); !ok {
		t.Error("recently accessed entry was evicted")
	}
	if _, ok := c.Get("new"); !ok {
		t.Error("most recent entry was evicted")
	}

	if size := c.Stats().Size; size > 2 {
		t.Errorf("size %d exceeds max 2", size)
	}
}

func TestCacheClear(t *testing.T) {
	c, _ := testCache(CacheConfig{MaxSize: 4, TTL: time.Hour})

	c.Set("k1", json.RawMessage(`1`))
	c.Clear()

	if _, ok := c.Get("k1"); ok {
		t.Error("entry survived clear")
	}
}

func TestCacheRegistryClearAll(t *testing.T) {
	r := NewCacheRegistry(CacheConfig{MaxSize: 4, TTL: time.Hour})

	r.Get("fs").Set("k", json.RawMessage(`1`))
	r.Get("db").Set("k", json.RawMessage(`2`))

	r.Clear("")

	if r.Get("fs").Stats().Size != 0 || r.Get("db").Stats().Size != 0 {
		t.Error("clear-all left entries behind")
	}
}

func TestFingerprintDeterministic(t *testing.T) {
	a := Fingerprint("fs", "read_file", json.RawMessage(`{"path":"/workspace/a.txt","limit":10}`))
	b := Fingerprint("fs", "read_file", json.RawMessage(`{"limit":10,"path":"/workspace/a.txt"}`))

	if a != b {
		t.Error("key order changed the fingerprint")
	}

	if a == Fingerprint("fs", "read_file", json.RawMessage(`{"path":"/workspace/b.txt","limit":10}`)) {
		t.Error("different arguments produced the same fingerprint")
	}
	if a == Fingerprint("db", "read_file", json.RawMessage(`{"path":"/workspace/a.txt","limit":10}`)) {
		t.Error("different servers produced the same fingerprint")
	}
}
