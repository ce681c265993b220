package nuccache

import (
	"fmt"
	"testing"
	"time"
)

func Test_FingerprintStable(t *testing.T) {
	a := Fingerprint("cipher", "tag", "nonce", "1", "2")
	b := Fingerprint("cipher", "tag", "nonce", "1", "2")
	if a != b {
		t.Fatal("same fields must produce the same fingerprint")
	}

	if a == Fingerprint("cipher", "tag", "nonce", "1", "3") {
		t.Fatal("different fields must produce different fingerprints")
	}

	// Field boundaries matter: ("ab","c") is not ("a","bc").
	if Fingerprint("ab", "c") == Fingerprint("a", "bc") {
		t.Fatal("fingerprint must keep field boundaries")
	}

	if len(a) != 64 {
		t.Fatalf("fingerprint length: got %d, exp 64", len(a))
	}
}

func Test_HitReturnsSameVerdict(t *testing.T) {
	c, err := New(10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	key := Fingerprint("token-1")
	c.Put(key, false, "nuc expired", "serial-9")

	result, exists := c.Get(key)
	if !exists {
		t.Fatal("expected a hit")
	}
	if result.Valid || result.Message != "nuc expired" || result.DeviceSerial != "serial-9" {
		t.Fatalf("verdict changed in cache: %+v", result)
	}

	stats := c.Statistics()
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Fatalf("stats: got hits %d misses %d, exp 1/0", stats.Hits, stats.Misses)
	}
}

func Test_MissCounted(t *testing.T) {
	c, err := New(10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, exists := c.Get(Fingerprint("never-seen")); exists {
		t.Fatal("unexpected hit")
	}

	if stats := c.Statistics(); stats.Misses != 1 {
		t.Fatalf("misses: got %d, exp 1", stats.Misses)
	}
}

func Test_ExpiredEntryIsAMiss(t *testing.T) {
	c, err := New(10, time.Minute)
	if err != nil {
		t.Fatal(err)
	}

	current := time.Now()
	c.now = func() time.Time { return current }

	key := Fingerprint("token-1")
	c.Put(key, true, "ok", "")

	current = current.Add(2 * time.Minute)

	if _, exists := c.Get(key); exists {
		t.Fatal("expired entry returned")
	}

	stats := c.Statistics()
	if stats.Misses != 1 {
		t.Fatalf("misses: got %d, exp 1", stats.Misses)
	}
	if stats.Size != 0 {
		t.Fatal("expired entry not evicted")
	}
}

func Test_LRUEviction(t *testing.T) {
	c, err := New(2, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		c.Put(Fingerprint(fmt.Sprintf("token-%d", i)), true, "ok", "")
	}

	if _, exists := c.Get(Fingerprint("token-0")); exists {
		t.Fatal("oldest entry should have been evicted")
	}
	if _, exists := c.Get(Fingerprint("token-2")); !exists {
		t.Fatal("newest entry missing")
	}
}

func Test_RequestCountGrows(t *testing.T) {
	c, err := New(10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	key := Fingerprint("token-1")
	c.Put(key, true, "ok", "")

	c.Get(key)
	result, _ := c.Get(key)
	if result.RequestCount != 3 {
		t.Fatalf("request count: got %d, exp 3", result.RequestCount)
	}
}

func Test_Purge(t *testing.T) {
	c, err := New(10, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	c.Put(Fingerprint("token-1"), true, "ok", "")
	c.Get(Fingerprint("token-1"))
	c.Purge()

	stats := c.Statistics()
	if stats.Size != 0 || stats.Hits != 0 || stats.Misses != 0 {
		t.Fatalf("purge did not reset the cache: %+v", stats)
	}
}
