package album

import (
	"fmt"
	"testing"
	"time"
)

func TestAddAndGet(t *testing.T) {
	b := New(0, 0)
	b.Add("g1", "1:1")
	b.Add("g1", "1:2")
	if n := b.Add("g1", "1:1"); n != 2 {
		t.Fatalf("size after duplicate = %d, want 2", n)
	}
	a, ok := b.Get("g1")
	if !ok || len(a.Refs) != 2 || a.Refs[0] != "1:1" || a.Refs[1] != "1:2" {
		t.Fatalf("album = %+v ok=%v", a, ok)
	}
	a.Refs[0] = "mutated"
	if again, _ := b.Get("g1"); again.Refs[0] != "1:1" {
		t.Fatalf("Get leaked internal slice")
	}
}

func TestMaxItems(t *testing.T) {
	b := New(0, 0)
	for i := 0; i < MaxItems+5; i++ {
		b.Add("g", fmt.Sprintf("1:%d", i))
	}
	a, _ := b.Get("g")
	if len(a.Refs) != MaxItems {
		t.Fatalf("album size = %d, want %d", len(a.Refs), MaxItems)
	}
}

func TestExpiryFromCreation(t *testing.T) {
	b := New(0, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }
	b.Add("g", "1:1")

	now = now.Add(50 * time.Second)
	b.Add("g", "1:2")
	if _, ok := b.Get("g"); !ok {
		t.Fatalf("album expired early")
	}

	now = now.Add(20 * time.Second)
	if _, ok := b.Get("g"); ok {
		t.Fatalf("album outlived its TTL after being extended")
	}
	if n := b.Add("g", "1:3"); n != 1 {
		t.Fatalf("expired album was reused: size %d", n)
	}
}

func TestTake(t *testing.T) {
	b := New(0, 0)
	b.Add("g", "1:1")
	a, ok := b.Take("g")
	if !ok || len(a.Refs) != 1 {
		t.Fatalf("take = %+v ok=%v", a, ok)
	}
	if _, ok := b.Take("g"); ok {
		t.Fatalf("album still present after take")
	}
}
