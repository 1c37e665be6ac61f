package ring

import "testing"

func TestPushAndValuesOrdering(t *testing.T) {
	r := New(3)
	r.Push(1)
	r.Push(2)
	got := r.Values()
	want := []float64{1, 2}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Values() = %v, want %v", got, want)
		}
	}
}

func TestPushOverwritesOldestOnWrap(t *testing.T) {
	r := New(3)
	r.Push(1)
	r.Push(2)
	r.Push(3)
	r.Push(4) // overwrites 1
	got := r.Values()
	want := []float64{2, 3, 4}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Values() = %v, want %v", got, want)
		}
	}
	if !r.Full() {
		t.Fatal("ring should be full after exceeding capacity")
	}
}

func TestLastOnEmptyRing(t *testing.T) {
	r := New(2)
	if _, ok := r.Last(); ok {
		t.Fatal("Last() should report false on empty ring")
	}
}

func TestLenNeverExceedsCap(t *testing.T) {
	r := New(2)
	for i := 0; i < 10; i++ {
		r.Push(float64(i))
	}
	if r.Len() != r.Cap() {
		t.Fatalf("Len() = %d, want %d", r.Len(), r.Cap())
	}
}
