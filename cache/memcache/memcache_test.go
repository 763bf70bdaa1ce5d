package memcache

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/elmwood/oidcop/cache"
)

func TestAbsoluteExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New()
	c.Now = func() time.Time { return now }

	if err := c.Put(ctx, "k", []byte("v"), cache.Policy{Absolute: now.Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}

	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("entry should be present before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry should have expired")
	}
}

func TestSlidingRenewal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New()
	c.Now = func() time.Time { return now }

	if err := c.Put(ctx, "k", []byte("v"), cache.Policy{Sliding: time.Hour}); err != nil {
		t.Fatal(err)
	}

	// Touch the entry every 45 minutes; each Get renews the window.
	for i := 0; i < 4; i++ {
		now = now.Add(45 * time.Minute)
		if _, ok, _ := c.Get(ctx, "k"); !ok {
			t.Fatalf("entry expired after %d touches", i)
		}
	}

	// Left alone past the window it goes away.
	now = now.Add(61 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("entry should have slid out")
	}
}

func TestTakeIsSingleUse(t *testing.T) {
	ctx := context.Background()
	c := New()

	if err := c.Put(ctx, "code", []byte("ticket"), cache.Policy{Absolute: time.Now().Add(time.Minute)}); err != nil {
		t.Fatal(err)
	}

	v, ok, err := c.Take(ctx, "code")
	if err != nil || !ok {
		t.Fatalf("first take: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(v, []byte("ticket")) {
		t.Errorf("value = %q", v)
	}

	if _, ok, _ := c.Take(ctx, "code"); ok {
		t.Error("second take must report absence")
	}
	if _, ok, _ := c.Get(ctx, "code"); ok {
		t.Error("taken entry must be gone")
	}
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	c := New()
	c.Now = func() time.Time { return now }

	_ = c.Put(ctx, "a", []byte("1"), cache.Policy{Absolute: now.Add(time.Minute)})
	_ = c.Put(ctx, "b", []byte("2"), cache.Policy{Absolute: now.Add(time.Hour)})

	now = now.Add(30 * time.Minute)
	c.sweep()

	c.mu.Lock()
	_, aOK := c.m["a"]
	_, bOK := c.m["b"]
	c.mu.Unlock()

	if aOK {
		t.Error("expired entry survived sweep")
	}
	if !bOK {
		t.Error("live entry removed by sweep")
	}
}
