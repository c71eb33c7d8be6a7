package loader

import "testing"

func TestNewFlatImage(t *testing.T) {
	data := []byte{0x1F, 0x20, 0x03, 0xD5}
	img := NewFlatImage(0x1000, data, map[uint64]string{0x1000: "start"})

	if img.Entry != 0x1000 {
		t.Errorf("Entry = %#x, want 0x1000", img.Entry)
	}
	if img.Symbols[0x1000] != "start" {
		t.Error("symbol table not carried over")
	}
	if img.Ends[0x1000] != 0x1004 {
		t.Errorf("Ends[start] = %#x, want the blob end 0x1004", img.Ends[0x1000])
	}
}

func TestImage_ReadByte(t *testing.T) {
	img := &Image{Segments: []Segment{
		{VMA: 0x1000, Bytes: []byte{1, 2, 3, 4}},
		{VMA: 0x2000, Bytes: []byte{9}},
	}}

	tests := []struct {
		addr uint64
		b    byte
		ok   bool
	}{
		{0x1000, 1, true},
		{0x1003, 4, true},
		{0x1004, 0, false},
		{0xFFF, 0, false},
		{0x2000, 9, true},
		{0x2001, 0, false},
	}
	for _, tt := range tests {
		b, ok := img.ReadByte(tt.addr)
		if b != tt.b || ok != tt.ok {
			t.Errorf("ReadByte(%#x) = %d %v, want %d %v", tt.addr, b, ok, tt.b, tt.ok)
		}
	}
}

func TestImage_ResolveEntry(t *testing.T) {
	img := NewFlatImage(0x1000, make([]byte, 8), map[uint64]string{
		0x1000: "main",
		0x1004: "helper",
	})
	vma, err := img.ResolveEntry("helper")
	if err != nil {
		t.Fatalf("ResolveEntry: %v", err)
	}
	if vma != 0x1004 {
		t.Errorf("helper = %#x, want 0x1004", vma)
	}
	if _, err := img.ResolveEntry("missing"); err == nil {
		t.Error("unknown symbol resolved")
	}
}

func TestImage_InferEnds(t *testing.T) {
	img := &Image{
		Segments: []Segment{{VMA: 0x1000, Bytes: make([]byte, 0x100)}},
		Symbols: map[uint64]string{
			0x1000: "a",
			0x1040: "b",
			0x10C0: "c",
		},
		Ends: map[uint64]uint64{0x1040: 0x1080},
	}
	img.inferEnds()

	if img.Ends[0x1000] != 0x1040 {
		t.Errorf("a ends at %#x, want the next symbol 0x1040", img.Ends[0x1000])
	}
	if img.Ends[0x1040] != 0x1080 {
		t.Errorf("b ends at %#x, recorded size must win", img.Ends[0x1040])
	}
	if img.Ends[0x10C0] != 0x1100 {
		t.Errorf("last symbol ends at %#x, want the segment end 0x1100", img.Ends[0x10C0])
	}
}
