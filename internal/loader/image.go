// Package loader maps executable images into the address-space view the
// lifter reads through: a flat byte oracle plus a function symbol table.
package loader

import (
	"fmt"
	"sort"
)

// Segment is one mapped byte range.
type Segment struct {
	VMA   uint64
	Bytes []byte
}

// Image is a loaded program: mapped segments, function entries and the
// process entry point.
type Image struct {
	Entry    uint64
	Segments []Segment

	// Symbols maps function entry VMAs to their names.
	Symbols map[uint64]string

	// Ends maps function entry VMAs to their exclusive end VMAs.
	Ends map[uint64]uint64
}

// NewFlatImage wraps a raw byte blob mapped at base with the given entry
// symbols. Every symbol's end defaults to the end of the blob.
func NewFlatImage(base uint64, data []byte, symbols map[uint64]string) *Image {
	img := &Image{
		Entry:    base,
		Segments: []Segment{{VMA: base, Bytes: data}},
		Symbols:  make(map[uint64]string, len(symbols)),
		Ends:     make(map[uint64]uint64, len(symbols)),
	}
	for vma, name := range symbols {
		img.Symbols[vma] = name
		img.Ends[vma] = base + uint64(len(data))
	}
	return img
}

// ReadByte returns the byte mapped at addr.
func (img *Image) ReadByte(addr uint64) (byte, bool) {
	for i := range img.Segments {
		s := &img.Segments[i]
		if addr >= s.VMA && addr-s.VMA < uint64(len(s.Bytes)) {
			return s.Bytes[addr-s.VMA], true
		}
	}
	return 0, false
}

// EntryVMAs returns the symbol addresses in ascending order.
func (img *Image) EntryVMAs() []uint64 {
	out := make([]uint64, 0, len(img.Symbols))
	for vma := range img.Symbols {
		out = append(out, vma)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResolveEntry maps a symbol name to its VMA.
func (img *Image) ResolveEntry(name string) (uint64, error) {
	for vma, sym := range img.Symbols {
		if sym == name {
			return vma, nil
		}
	}
	return 0, fmt.Errorf("no symbol %q in image", name)
}

// inferEnds fills the Ends table for symbols without explicit sizes: each
// function runs to the next symbol, or to the end of its segment.
func (img *Image) inferEnds() {
	vmas := img.EntryVMAs()
	for i, vma := range vmas {
		if img.Ends[vma] != 0 {
			continue
		}
		if i+1 < len(vmas) {
			img.Ends[vma] = vmas[i+1]
			continue
		}
		for j := range img.Segments {
			s := &img.Segments[j]
			if vma >= s.VMA && vma < s.VMA+uint64(len(s.Bytes)) {
				img.Ends[vma] = s.VMA + uint64(len(s.Bytes))
			}
		}
	}
}
