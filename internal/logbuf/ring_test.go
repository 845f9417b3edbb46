package logbuf

import (
	"fmt"
	"sync"
	"testing"
)

func TestRingBelowCapacity(t *testing.T) {
	r := New(4)
	r.Append("one")
	r.Append("two")

	got := r.Tail(10)
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Errorf("got %v", got)
	}
}

func TestRingEvictsOldest(t *testing.T) {
	r := New(3)
	for _, line := range []string{"a", "b", "c", "d", "e"} {
		r.Append(line)
	}

	got := r.Tail(10)
	want := []string{"c", "d", "e"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRingTailBound(t *testing.T) {
	r := New(5)
	for _, line := range []string{"a", "b", "c"} {
		r.Append(line)
	}

	got := r.Tail(2)
	if len(got) != 2 || got[0] != "b" || got[1] != "c" {
		t.Errorf("got %v", got)
	}
}

func TestRingString(t *testing.T) {
	r := New(3)
	r.Append("x")
	r.Append("y")

	if got := r.String(); got != "x\ny" {
		t.Errorf("got %q", got)
	}
}

func TestRingConcurrentAppend(t *testing.T) {
	r := New(16)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.Append(fmt.Sprintf("w%d-%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	if got := len(r.Tail(100)); got != 16 {
		t.Errorf("retained %d lines, want 16", got)
	}
}
