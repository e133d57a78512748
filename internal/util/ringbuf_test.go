package util

import "testing"

func TestRingBufferOverwritesOldest(t *testing.T) {
	rb := NewRingBuffer[int](3)
	rb.Push(1)
	rb.Push(2)
	rb.Push(3)
	rb.Push(4) // overwrites 1

	got := rb.Snapshot()
	want := []int{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRingBufferLen(t *testing.T) {
	rb := NewRingBuffer[string](5)
	if rb.Len() != 0 {
		t.Fatalf("expected empty buffer, got len %d", rb.Len())
	}
	rb.Push("a")
	rb.Push("b")
	if rb.Len() != 2 {
		t.Fatalf("expected len 2, got %d", rb.Len())
	}
}
