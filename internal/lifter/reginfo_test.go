package lifter

import (
	"testing"

	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/regs"
)

func TestBBRegInfo_ReadBeforeWriteOnly(t *testing.T) {
	bi := NewBBRegInfo()
	bi.NoteRead(regs.X0, regs.ClassW)
	bi.NoteWrite(regs.X0, regs.ClassX, 1)
	bi.NoteRead(regs.X0, regs.ClassX)

	if c, ok := bi.Read[regs.X0]; !ok || c != regs.ClassW {
		t.Errorf("Read[x0] = %v %v, want the pre-write class w", c, ok)
	}

	bi.NoteWrite(regs.X1, regs.ClassX, 2)
	bi.NoteRead(regs.X1, regs.ClassX)
	if _, ok := bi.Read[regs.X1]; ok {
		t.Error("read after write leaked into Read")
	}
}

func TestBBRegInfo_WidenKeepsWidest(t *testing.T) {
	bi := NewBBRegInfo()
	bi.NoteRead(regs.X2, regs.ClassX)
	bi.NoteRead(regs.X2, regs.ClassW)
	if bi.Read[regs.X2] != regs.ClassX {
		t.Errorf("Read[x2] = %v, want x", bi.Read[regs.X2])
	}

	bi.NoteWrite(regs.X3, regs.ClassW, 1)
	bi.NoteWrite(regs.X3, regs.ClassX, 2)
	bi.NoteWrite(regs.X3, regs.ClassW, 3)
	if bi.Written[regs.X3] != regs.ClassX {
		t.Errorf("Written[x3] = %v, want x", bi.Written[regs.X3])
	}
	if bi.Latest[regs.X3] != (RegDef{Class: regs.ClassW, Value: 3}) {
		t.Errorf("Latest[x3] = %v, want the newest narrow store", bi.Latest[regs.X3])
	}
}

func TestBBRegInfo_Absorb(t *testing.T) {
	a := NewBBRegInfo()
	a.NoteWrite(regs.X0, regs.ClassX, 1)
	a.NoteRead(regs.X1, regs.ClassX)
	a.Phis[regs.X0] = 10

	b := NewBBRegInfo()
	b.NoteRead(regs.X0, regs.ClassX) // shadowed by a's write
	b.NoteRead(regs.X2, regs.ClassW)
	b.NoteWrite(regs.X0, regs.ClassW, 5)
	b.Phis[regs.X0] = 20
	b.Phis[regs.X1] = 21
	b.SemaWritten = []regs.Ref{regs.GP(0, regs.ClassW)}

	a.Absorb(b)

	if _, ok := a.Read[regs.X0]; ok {
		t.Error("successor read of a register this block writes was inherited")
	}
	if a.Read[regs.X2] != regs.ClassW {
		t.Error("successor read of an untouched register was dropped")
	}
	if a.Latest[regs.X0] != (RegDef{Class: regs.ClassW, Value: 5}) {
		t.Errorf("Latest[x0] = %v, want the successor's store", a.Latest[regs.X0])
	}
	if a.Written[regs.X0] != regs.ClassX {
		t.Error("Written[x0] narrowed during absorb")
	}
	if a.Phis[regs.X0] != 10 {
		t.Error("absorb replaced an existing phi binding")
	}
	if a.Phis[regs.X1] != 21 {
		t.Error("absorb dropped the successor's phi binding")
	}
	if len(a.SemaWritten) != 1 {
		t.Error("absorb lost sema write lists")
	}
}

func TestScanBlock(t *testing.T) {
	m := ir.NewModule()
	f := m.DeclareFunc("t", 0x1000)
	b := f.NewBlock("")

	v1 := f.EmitLoadReg(b, regs.GP(1, regs.ClassX))
	tup := f.EmitSema(b, "add_imm_64", 0x1000, []ir.ValueID{v1},
		[]regs.Ref{regs.GP(0, regs.ClassX)})
	v0 := f.EmitExtract(b, tup, 0, 64)
	f.EmitStoreReg(b, regs.GP(0, regs.ClassX), v0)
	f.EmitLoadReg(b, regs.GP(0, regs.ClassX)) // after the store

	bi := ScanBlock(f.Block(b))
	if bi.Read[regs.X1] != regs.ClassX {
		t.Error("load of x1 not recorded as a read")
	}
	if _, ok := bi.Read[regs.X0]; ok {
		t.Error("post-store load of x0 recorded as an inherited read")
	}
	if bi.Latest[regs.X0].Value != v0 {
		t.Errorf("Latest[x0] = %v, want %v", bi.Latest[regs.X0].Value, v0)
	}
	if len(bi.SemaWritten) != 1 || bi.SemaWritten[0] != regs.GP(0, regs.ClassX) {
		t.Errorf("SemaWritten = %v, want [x0]", bi.SemaWritten)
	}
}
