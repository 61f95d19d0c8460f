package echocache

import (
	"testing"
	"time"
)

func TestMarkAndIsRecent(t *testing.T) {
	c := New()
	if c.IsRecent("op-a") {
		t.Fatalf("unmarked op should not be recent")
	}
	c.Mark("op-a")
	if !c.IsRecent("op-a") {
		t.Fatalf("marked op should be recent")
	}
}

func TestTTLExpiry(t *testing.T) {
	cur := time.Unix(0, 0)
	clock := func() time.Time { return cur }
	c := New(WithTTL(time.Second), WithClock(clock))

	c.Mark("op-a")
	cur = cur.Add(2 * time.Second)
	if c.IsRecent("op-a") {
		t.Fatalf("expected entry to have expired")
	}
}

func TestEmptyOpIDIgnored(t *testing.T) {
	c := New()
	c.Mark("")
	if c.IsRecent("") {
		t.Fatalf("empty op id must never be recent")
	}
	if c.Len() != 0 {
		t.Fatalf("expected empty mark to be a no-op, len=%d", c.Len())
	}
}

func TestCapacityEviction(t *testing.T) {
	c := New(WithCapacity(2))
	c.Mark("a")
	c.Mark("b")
	c.Mark("c") // evicts "a" (oldest-first / LRU)

	if c.IsRecent("a") {
		t.Fatalf("expected oldest entry to be evicted at capacity")
	}
	if !c.IsRecent("c") {
		t.Fatalf("expected most recent entry to survive")
	}
}
