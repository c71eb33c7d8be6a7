package lifter

import (
	"testing"

	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/regs"
)

// cfg builds a function whose blocks branch per edges, plus the matching
// predecessor map. Every block gets a terminator so buildBags keeps it.
func cfg(t *testing.T, n int, edges map[int][]int) (*ir.Func, map[ir.BlockID]map[ir.BlockID]struct{}) {
	t.Helper()
	m := ir.NewModule()
	f := m.DeclareFunc("t", 0x1000)
	for i := 0; i < n; i++ {
		f.NewBlock("")
	}
	f.Entry = 0

	parents := make(map[ir.BlockID]map[ir.BlockID]struct{})
	for i := 0; i < n; i++ {
		b := ir.BlockID(i)
		succs := edges[i]
		switch len(succs) {
		case 0:
			f.Blocks[b].Term = ir.Terminator{
				Kind:     ir.TermTailCall,
				TailCall: ir.TailCallTerm{Callee: ir.Callee{Kind: ir.CalleeIntrinsic, Name: IntrinsicFunctionReturn}},
			}
		case 1:
			f.Blocks[b].Term = ir.Terminator{
				Kind: ir.TermBr,
				Br:   ir.BrTerm{Target: ir.BlockID(succs[0])},
			}
		case 2:
			cond := f.EmitConst64(b, 1)
			f.Blocks[b].Term = ir.Terminator{
				Kind:   ir.TermCondBr,
				CondBr: ir.CondBrTerm{Cond: cond, Then: ir.BlockID(succs[0]), Else: ir.BlockID(succs[1])},
			}
		default:
			t.Fatalf("block %d: %d successors", i, len(succs))
		}
		for _, s := range succs {
			sid := ir.BlockID(s)
			if parents[sid] == nil {
				parents[sid] = make(map[ir.BlockID]struct{})
			}
			parents[sid][b] = struct{}{}
		}
	}
	return f, parents
}

func infoWith(read, written map[regs.Reg]regs.WidthClass) *BBRegInfo {
	bi := NewBBRegInfo()
	for r, c := range read {
		bi.Read[r] = c
	}
	for r, c := range written {
		bi.Written[r] = c
	}
	return bi
}

func TestBagGraph_DiamondPhiSets(t *testing.T) {
	// 0 -> 1,2 -> 3. Block 0 writes x0 wide; block 3 reads it narrow.
	f, parents := cfg(t, 4, map[int][]int{0: {1, 2}, 1: {3}, 2: {3}})
	regInfo := map[ir.BlockID]*BBRegInfo{
		0: infoWith(nil, map[regs.Reg]regs.WidthClass{regs.X0: regs.ClassX}),
		1: NewBBRegInfo(),
		2: NewBBRegInfo(),
		3: infoWith(map[regs.Reg]regs.WidthClass{regs.X0: regs.ClassW}, nil),
	}

	g := buildBags(f, regInfo, parents)
	g.eliminateLoops()
	g.propagateWrites()
	g.propagateReads()
	g.computePhiSets()

	if len(g.bags()) != 4 {
		t.Fatalf("loop-free graph collapsed to %d bags, want 4", len(g.bags()))
	}
	for _, b := range []ir.BlockID{1, 2, 3} {
		if g.byBlock[b].RW[regs.X0] != regs.ClassX {
			t.Errorf("bb%d: write of x0 did not flood down", b)
		}
	}
	for _, b := range []ir.BlockID{0, 1, 2} {
		if g.byBlock[b].InheritedRead[regs.X0] != regs.ClassW {
			t.Errorf("bb%d: read of x0 did not flood up", b)
		}
	}
	// Join placement uses the consumer-side width.
	if c, ok := g.byBlock[3].PhiRegs[regs.X0]; !ok || c != regs.ClassW {
		t.Errorf("bb3 PhiRegs[x0] = %v %v, want w", c, ok)
	}
	if _, ok := g.byBlock[0].PhiRegs[regs.X0]; !ok {
		t.Error("writer block with a downstream reader lost its join entry")
	}
}

func TestBagGraph_LoopMergesIntoOneBag(t *testing.T) {
	// 0 -> 1 <-> 2, 1 -> 3.
	f, parents := cfg(t, 4, map[int][]int{0: {1}, 1: {2, 3}, 2: {1}})
	regInfo := map[ir.BlockID]*BBRegInfo{
		0: NewBBRegInfo(),
		1: infoWith(map[regs.Reg]regs.WidthClass{regs.X1: regs.ClassX}, nil),
		2: infoWith(nil, map[regs.Reg]regs.WidthClass{regs.X1: regs.ClassX}),
		3: NewBBRegInfo(),
	}

	g := buildBags(f, regInfo, parents)
	g.eliminateLoops()

	if g.byBlock[1] != g.byBlock[2] {
		t.Fatal("cycle members landed in different bags")
	}
	if g.byBlock[0] == g.byBlock[1] || g.byBlock[3] == g.byBlock[1] {
		t.Error("loop elimination swallowed blocks outside the cycle")
	}
	loop := g.byBlock[1]
	if len(loop.InBBs) != 2 {
		t.Errorf("loop bag holds %d blocks, want 2", len(loop.InBBs))
	}
	if _, ok := loop.Children[loop]; ok {
		t.Error("merged bag kept a self edge")
	}
	if loop.RW[regs.X1] != regs.ClassX || loop.InheritedRead[regs.X1] != regs.ClassX {
		t.Error("merge did not union the member register sets")
	}

	g.propagateWrites()
	g.propagateReads()
	g.computePhiSets()
	if _, ok := loop.PhiRegs[regs.X1]; !ok {
		t.Error("loop-carried register missing from the loop bag's join set")
	}
}

func TestBagGraph_SelfEdgeDropped(t *testing.T) {
	// A single-block loop must lose its self edge, not merge.
	f, parents := cfg(t, 2, map[int][]int{0: {0, 1}})
	regInfo := map[ir.BlockID]*BBRegInfo{0: NewBBRegInfo(), 1: NewBBRegInfo()}

	g := buildBags(f, regInfo, parents)
	b := g.byBlock[0]
	b.Children[b] = struct{}{}
	b.Parents[b] = struct{}{}
	g.eliminateLoops()

	if len(g.bags()) != 2 {
		t.Fatalf("graph has %d bags, want 2", len(g.bags()))
	}
	b0 := g.byBlock[0]
	if _, ok := b0.Children[b0]; ok {
		t.Error("self edge survived in Children")
	}
	if _, ok := b0.Parents[b0]; ok {
		t.Error("self edge survived in Parents")
	}
}

func TestBagGraph_PropagationIdempotent(t *testing.T) {
	f, parents := cfg(t, 4, map[int][]int{0: {1, 2}, 1: {3}, 2: {3}})
	regInfo := map[ir.BlockID]*BBRegInfo{
		0: infoWith(nil, map[regs.Reg]regs.WidthClass{regs.X0: regs.ClassX}),
		1: NewBBRegInfo(),
		2: NewBBRegInfo(),
		3: infoWith(map[regs.Reg]regs.WidthClass{regs.X0: regs.ClassX}, nil),
	}

	g := buildBags(f, regInfo, parents)
	g.eliminateLoops()
	g.propagateWrites()
	g.propagateReads()

	snap := func() map[ir.BlockID]int {
		out := make(map[ir.BlockID]int)
		for b, bag := range g.byBlock {
			out[b] = len(bag.RW)*100 + len(bag.InheritedRead)
		}
		return out
	}
	before := snap()
	g.propagateWrites()
	g.propagateReads()
	after := snap()
	for b, n := range before {
		if after[b] != n {
			t.Errorf("bb%d: second propagation changed the sets (%d -> %d)", b, n, after[b])
		}
	}
}
