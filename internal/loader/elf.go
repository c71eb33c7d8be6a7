package loader

import (
	"debug/elf"
	"fmt"
	"io"

	"fortio.org/safecast"
)

// LoadELF maps a static ELF64 little-endian executable: PT_LOAD segments
// become byte ranges, STT_FUNC symbols become function entries with their
// recorded sizes. Dynamic objects are rejected.
func LoadELF(path string) (*Image, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer f.Close()

	if f.Class != elf.ELFCLASS64 {
		return nil, fmt.Errorf("%s: not a 64-bit ELF", path)
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%s: not little-endian", path)
	}
	if f.Type == elf.ET_DYN {
		return nil, fmt.Errorf("%s: dynamic objects are not supported", path)
	}

	img := &Image{
		Entry:   f.Entry,
		Symbols: make(map[uint64]string),
		Ends:    make(map[uint64]uint64),
	}

	for _, prog := range f.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		memsz, err := safecast.Conv[int](prog.Memsz)
		if err != nil {
			return nil, fmt.Errorf("%s: segment at %#x: %w", path, prog.Vaddr, err)
		}
		data := make([]byte, memsz)
		n, err := io.ReadFull(io.NewSectionReader(prog, 0, int64(prog.Filesz)), data[:prog.Filesz])
		if err != nil {
			return nil, fmt.Errorf("%s: segment at %#x: read %d bytes: %w", path, prog.Vaddr, n, err)
		}
		img.Segments = append(img.Segments, Segment{VMA: prog.Vaddr, Bytes: data})
	}
	if len(img.Segments) == 0 {
		return nil, fmt.Errorf("%s: no loadable segments", path)
	}

	syms, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, fmt.Errorf("%s: symbol table: %w", path, err)
	}
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC || sym.Value == 0 {
			continue
		}
		img.Symbols[sym.Value] = sym.Name
		if sym.Size > 0 {
			img.Ends[sym.Value] = sym.Value + sym.Size
		}
	}
	img.inferEnds()
	return img, nil
}
