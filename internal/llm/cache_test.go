package llm

import (
	"fmt"
	"testing"
)

func TestCache_HitAndMiss(t *testing.T) {
	c := NewCache(10, nil)

	if _, ok := c.Get("list files"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Put("list files", &Generation{Command: "ls -la"})
	got, ok := c.Get("list files")
	if !ok {
		t.Fatal("expected hit")
	}
	if got.Command != "ls -la" {
		t.Errorf("command = %q, want %q", got.Command, "ls -la")
	}
}

func TestCache_KeyNormalization(t *testing.T) {
	c := NewCache(10, nil)
	c.Put("List   Files", &Generation{Command: "ls"})

	for _, input := range []string{"list files", "LIST FILES", "  list\tfiles  "} {
		if _, ok := c.Get(input); !ok {
			t.Errorf("Get(%q) missed, want hit", input)
		}
	}
}

func TestCache_FIFOEviction(t *testing.T) {
	c := NewCache(3, nil)
	for i := 0; i < 3; i++ {
		c.Put(fmt.Sprintf("request %d", i), &Generation{Command: fmt.Sprintf("cmd%d", i)})
	}

	// Hitting the oldest entry must not save it from eviction.
	if _, ok := c.Get("request 0"); !ok {
		t.Fatal("expected hit on request 0")
	}

	c.Put("request 3", &Generation{Command: "cmd3"})

	if _, ok := c.Get("request 0"); ok {
		t.Error("oldest entry should have been evicted despite the recent hit")
	}
	if _, ok := c.Get("request 1"); !ok {
		t.Error("request 1 should still be cached")
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
}

func TestCache_UpdateKeepsPosition(t *testing.T) {
	c := NewCache(2, nil)
	c.Put("a", &Generation{Command: "a1"})
	c.Put("b", &Generation{Command: "b1"})
	c.Put("a", &Generation{Command: "a2"}) // Update, not reinsert.

	c.Put("c", &Generation{Command: "c1"}) // Evicts "a", still the oldest.

	if _, ok := c.Get("a"); ok {
		t.Error("updated entry should keep its original eviction position")
	}
	got, ok := c.Get("b")
	if !ok || got.Command != "b1" {
		t.Errorf("Get(b) = %+v, %v; want b1 hit", got, ok)
	}
}

func TestCache_RejectsEmptyAndInvalid(t *testing.T) {
	c := NewCache(10, nil)

	c.Put("", &Generation{Command: "ls"})
	c.Put("   ", &Generation{Command: "ls"})
	c.Put("valid input", &Generation{})
	c.Put("valid input", nil)

	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
	if _, ok := c.Get(""); ok {
		t.Error("empty key must never hit")
	}
}

func TestCache_CorruptEntryIsDroppedAsMiss(t *testing.T) {
	c := NewCache(10, nil)
	c.Put("list files", &Generation{Command: "ls"})

	// Corrupt the stored value in place.
	c.mu.Lock()
	c.entries[normalizeKey("list files")].gen = &Generation{}
	c.mu.Unlock()

	if _, ok := c.Get("list files"); ok {
		t.Fatal("corrupt entry must report a miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after corrupt drop, want 0", c.Len())
	}
}

func TestCache_DefaultCapacity(t *testing.T) {
	c := NewCache(0, nil)
	for i := 0; i < DefaultCacheCapacity+5; i++ {
		c.Put(fmt.Sprintf("request %d", i), &Generation{Command: "x"})
	}
	if c.Len() != DefaultCacheCapacity {
		t.Errorf("Len() = %d, want %d", c.Len(), DefaultCacheCapacity)
	}
}

func TestGeneration_IsQuestion(t *testing.T) {
	if !(&Generation{Answer: "A pipe connects two processes."}).IsQuestion() {
		t.Error("answer-only generation should be a question")
	}
	if (&Generation{Command: "ls"}).IsQuestion() {
		t.Error("command generation should not be a question")
	}
}

func TestTruncate(t *testing.T) {
	long := make([]byte, MaxInputLength+100)
	for i := range long {
		long[i] = 'a'
	}
	if got := Truncate(string(long)); len(got) != MaxInputLength {
		t.Errorf("len = %d, want %d", len(got), MaxInputLength)
	}
	if got := Truncate("short"); got != "short" {
		t.Errorf("short input changed: %q", got)
	}
}
