package lifter

import "testing"

func TestAddrSet_PopAscending(t *testing.T) {
	s := newAddrSet()
	for _, a := range []uint64{0x3000, 0x1000, 0x2000, 0x1000, 0x4000} {
		s.Add(a)
	}
	if s.Len() != 4 {
		t.Fatalf("Len = %d, want 4 after dedup", s.Len())
	}

	want := []uint64{0x1000, 0x2000, 0x3000, 0x4000}
	for _, w := range want {
		got, ok := s.PopMin()
		if !ok {
			t.Fatalf("PopMin ran dry before %#x", w)
		}
		if got != w {
			t.Errorf("PopMin = %#x, want %#x", got, w)
		}
	}
	if _, ok := s.PopMin(); ok {
		t.Error("PopMin on an empty set reported ok")
	}
}

func TestAddrSet_Contains(t *testing.T) {
	s := newAddrSet()
	s.Add(0x1000)
	if !s.Contains(0x1000) {
		t.Error("queued address not contained")
	}
	if s.Contains(0x2000) {
		t.Error("unqueued address contained")
	}
	s.PopMin()
	if s.Contains(0x1000) {
		t.Error("popped address still contained")
	}
	s.Add(0x1000)
	if !s.Contains(0x1000) || s.Len() != 1 {
		t.Error("re-adding a popped address must queue it again")
	}
}
