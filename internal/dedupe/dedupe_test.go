package dedupe

import (
	"testing"
	"time"
)

func TestSeenFirstTimeIsNotRepeat(t *testing.T) {
	c, err := Open(time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	repeat, err := c.Seen(0x1B20B4BD3C195E20, "node_01", 0x14, time.Now())
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if repeat {
		t.Fatal("first Seen() call reported a repeat")
	}
}

func TestSeenSecondCallWithinTTLIsRepeat(t *testing.T) {
	c, err := Open(time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	now := time.Now()
	if _, err := c.Seen(1, "m", 1, now); err != nil {
		t.Fatalf("Seen (first): %v", err)
	}
	repeat, err := c.Seen(1, "m", 1, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Seen (second): %v", err)
	}
	if !repeat {
		t.Fatal("second Seen() with identical tuple within TTL should report a repeat")
	}
}

func TestSeenDistinguishesSequence(t *testing.T) {
	c, err := Open(time.Minute)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	now := time.Now()
	if _, err := c.Seen(1, "m", 1, now); err != nil {
		t.Fatalf("Seen (seq 1): %v", err)
	}
	repeat, err := c.Seen(1, "m", 2, now)
	if err != nil {
		t.Fatalf("Seen (seq 2): %v", err)
	}
	if repeat {
		t.Fatal("a distinct sequence number must not be treated as a repeat")
	}
}

func TestSeenExpiresPastTTL(t *testing.T) {
	c, err := Open(time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	now := time.Now()
	if _, err := c.Seen(1, "m", 1, now); err != nil {
		t.Fatalf("Seen (first): %v", err)
	}
	repeat, err := c.Seen(1, "m", 1, now.Add(10*time.Second))
	if err != nil {
		t.Fatalf("Seen (after ttl): %v", err)
	}
	if repeat {
		t.Fatal("a tuple seen well outside the TTL window should not report a repeat")
	}
}

func TestEvictRemovesStaleRows(t *testing.T) {
	c, err := Open(time.Second)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	now := time.Now()
	if _, err := c.Seen(1, "m", 1, now); err != nil {
		t.Fatalf("Seen: %v", err)
	}

	n, err := c.Evict(now.Add(10 * time.Second))
	if err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if n != 1 {
		t.Fatalf("Evict() removed %d rows, want 1", n)
	}
}
