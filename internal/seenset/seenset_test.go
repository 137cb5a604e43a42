package seenset

import "testing"

func TestSeenOrAdd(t *testing.T) {
	s := New(10)
	if s.SeenOrAdd("a") {
		t.Errorf("first insert should report not-seen")
	}
	if !s.SeenOrAdd("a") {
		t.Errorf("second insert of same id should report seen")
	}
	if s.Len() != 1 {
		t.Errorf("got len %d, want 1", s.Len())
	}
}

func TestEvictionUnderCap(t *testing.T) {
	s := New(3)
	s.SeenOrAdd("a")
	s.SeenOrAdd("b")
	s.SeenOrAdd("c")
	if s.Len() != 3 {
		t.Fatalf("got len %d, want 3", s.Len())
	}
	s.SeenOrAdd("d")
	if s.Len() != 3 {
		t.Errorf("got len %d, want 3 after eviction", s.Len())
	}
	if !s.SeenOrAdd("a") {
		t.Log("a was evicted as expected (oldest)")
	}
}
