package lifter

import (
	"fmt"
	"sort"

	"github.com/nanana37/elfconv/internal/ir"
)

// TraceManager mediates between the lifter and the program image. It answers
// byte reads, names traces and collects finished definitions.
type TraceManager interface {
	// TraceName returns the symbol used for the trace at addr.
	TraceName(addr uint64) string

	// GetLiftedTraceDeclaration returns an existing declaration for addr, or
	// nil when none has been published.
	GetLiftedTraceDeclaration(addr uint64) *ir.Func

	// GetLiftedTraceDefinition returns an existing definition for addr, or
	// nil. A definition stops the lifter from revisiting the trace.
	GetLiftedTraceDefinition(addr uint64) *ir.Func

	// SetLiftedTraceDefinition publishes the finished function for addr.
	SetLiftedTraceDefinition(addr uint64, f *ir.Func)

	// TryReadExecutableByte reads one mapped executable byte.
	TryReadExecutableByte(addr uint64) (byte, bool)

	// FuncEndVMA returns the exclusive end address of the function that
	// starts at addr, or 0 when unknown. The lifter uses it to sweep the
	// whole body when an indirect jump is found.
	FuncEndVMA(addr uint64) uint64

	// IsFunctionEntry reports whether addr is a known function entry point.
	IsFunctionEntry(addr uint64) bool

	// RegisterBlockAddrTable records the dispatch-table globals emitted for
	// one function so the runtime can resolve indirect branches.
	RegisterBlockAddrTable(t BlockAddrTable)
}

// BlockAddrTable names the parallel constant arrays of one function's
// indirect dispatch table.
type BlockAddrTable struct {
	TraceVMA    uint64
	AddrsGlobal string
	VMAsGlobal  string
	Size        int
}

// ImageManager is an in-memory TraceManager backed by a byte-read callback
// and a symbol table.
type ImageManager struct {
	Read    func(addr uint64) (byte, bool)
	Symbols map[uint64]string
	Ends    map[uint64]uint64
	Tables  []BlockAddrTable

	traces map[uint64]*ir.Func
}

// NewImageManager returns a manager over read with the given entry symbols.
func NewImageManager(read func(addr uint64) (byte, bool), symbols map[uint64]string) *ImageManager {
	if symbols == nil {
		symbols = make(map[uint64]string)
	}
	return &ImageManager{
		Read:    read,
		Symbols: symbols,
		Ends:    make(map[uint64]uint64),
		traces:  make(map[uint64]*ir.Func),
	}
}

// TraceName prefers the symbol table and falls back to a sub_ name.
func (m *ImageManager) TraceName(addr uint64) string {
	if name, ok := m.Symbols[addr]; ok && name != "" {
		return name
	}
	return fmt.Sprintf("sub_%x", addr)
}

func (m *ImageManager) GetLiftedTraceDeclaration(addr uint64) *ir.Func {
	return m.traces[addr]
}

func (m *ImageManager) GetLiftedTraceDefinition(addr uint64) *ir.Func {
	if f, ok := m.traces[addr]; ok && !f.IsDeclaration() {
		return f
	}
	return nil
}

func (m *ImageManager) SetLiftedTraceDefinition(addr uint64, f *ir.Func) {
	m.traces[addr] = f
}

func (m *ImageManager) TryReadExecutableByte(addr uint64) (byte, bool) {
	if m.Read == nil {
		return 0, false
	}
	return m.Read(addr)
}

func (m *ImageManager) FuncEndVMA(addr uint64) uint64 {
	return m.Ends[addr]
}

func (m *ImageManager) IsFunctionEntry(addr uint64) bool {
	_, ok := m.Symbols[addr]
	return ok
}

func (m *ImageManager) RegisterBlockAddrTable(t BlockAddrTable) {
	m.Tables = append(m.Tables, t)
}

// Entries returns the known entry addresses in ascending order.
func (m *ImageManager) Entries() []uint64 {
	out := make([]uint64, 0, len(m.Symbols))
	for addr := range m.Symbols {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
