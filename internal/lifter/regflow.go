package lifter

import (
	"fmt"
	"sort"

	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/regs"
)

// promoteRegisters replaces loads-through-state with SSA values threaded
// from predecessors via join nodes.
func (l *Lifter) promoteRegisters(regInfo map[ir.BlockID]*BBRegInfo) error {
	g := buildBags(l.f, regInfo, l.parents)
	if g.entry == nil {
		return nil
	}
	g.eliminateLoops()
	g.propagateWrites()
	g.propagateReads()
	g.computePhiSets()

	p := &promoter{
		l:          l,
		f:          l.f,
		g:          g,
		regInfo:    regInfo,
		replaced:   make(map[ir.ValueID]ir.ValueID),
		relayLoads: make(map[ir.BlockID]map[regs.Reg]RegDef),
		processed:  make(map[ir.BlockID]bool),
	}
	p.run()
	p.fixupOperands()
	return p.checkPhiArity()
}

type promoter struct {
	l       *Lifter
	f       *ir.Func
	g       *bagGraph
	regInfo map[ir.BlockID]*BBRegInfo

	// replaced maps eliminated load results to their carrying values.
	replaced map[ir.ValueID]ir.ValueID

	// relayLoads records state loads planted per block during predecessor
	// resolution.
	relayLoads map[ir.BlockID]map[regs.Reg]RegDef

	processed map[ir.BlockID]bool
}

func (p *promoter) run() {
	queue := []ir.BlockID{p.f.Entry}
	queued := map[ir.BlockID]bool{p.f.Entry: true}
	var succs []ir.BlockID
	for len(queue) > 0 {
		b := queue[0]
		queue = queue[1:]
		if p.processed[b] || p.f.Blocks[b].Empty() {
			continue
		}
		p.processBlock(b)
		succs = p.f.Blocks[b].Term.Successors(succs[:0])
		for _, s := range succs {
			if !queued[s] {
				queued[s] = true
				queue = append(queue, s)
			}
		}
	}
}

// processBlock plants the block's join nodes, then walks its instructions
// replacing every state load whose register already has a carried value.
func (p *promoter) processBlock(b ir.BlockID) {
	p.processed[b] = true

	bag := p.g.byBlock[b]
	if bag != nil {
		for _, r := range sortedRegs(bag.PhiRegs) {
			c := bag.PhiRegs[r]
			phi := p.ensurePhi(b, r, c)
			if i := p.f.Blocks[b].FindPhi(phi); i >= 0 && len(p.f.Blocks[b].Instrs[i].Phi.Edges) == 0 {
				p.fillPhiEdges(b, phi, r, c)
			}
		}
	}

	cur := make(map[regs.Reg]RegDef)
	bb := &p.f.Blocks[b]
	kept := bb.Instrs[:0]
	for i := range bb.Instrs {
		ins := bb.Instrs[i]
		switch ins.Kind {
		case ir.InstrPhi:
			cur[ins.Phi.Reg.Reg] = RegDef{Class: ins.Phi.Reg.Class, Value: ins.Result}
			kept = append(kept, ins)

		case ir.InstrLoadReg:
			r := ins.LoadReg.Reg.Reg
			c := ins.LoadReg.Reg.Class
			def, ok := cur[r]
			if !ok {
				cur[r] = RegDef{Class: c, Value: ins.Result}
				kept = append(kept, ins)
				break
			}
			carried := p.resolve(def.Value)
			if def.Class == c {
				p.replaced[ins.Result] = carried
				break
			}
			// narrower or wider view than the carried value: keep the
			// result ID but turn the load into a cast
			ins.Kind = ir.InstrCast
			ins.Cast = ir.CastInstr{Src: carried}
			ins.LoadReg = ir.LoadRegInstr{}
			kept = append(kept, ins)

		case ir.InstrStoreReg:
			ins.StoreReg.Src = p.resolve(ins.StoreReg.Src)
			cur[ins.StoreReg.Reg.Reg] = RegDef{Class: ins.StoreReg.Reg.Class, Value: ins.StoreReg.Src}
			kept = append(kept, ins)

		default:
			kept = append(kept, ins)
		}
	}
	bb.Instrs = kept
}

// ensurePhi returns the join value for r at the head of b, creating it if
// missing. If b was already walked, the new phi's incoming edges are filled
// immediately.
func (p *promoter) ensurePhi(b ir.BlockID, r regs.Reg, c regs.WidthClass) ir.ValueID {
	bi := p.regInfo[b]
	if bi == nil {
		bi = NewBBRegInfo()
		p.regInfo[b] = bi
	}
	if v, ok := bi.Phis[r]; ok {
		return v
	}
	v := p.f.InsertPhi(b, regs.Ref{Reg: r, Class: c})
	bi.Phis[r] = v
	if p.processed[b] {
		p.fillPhiEdges(b, v, r, c)
	}
	return v
}

// fillPhiEdges adds one incoming value per predecessor of b.
func (p *promoter) fillPhiEdges(b ir.BlockID, phi ir.ValueID, r regs.Reg, c regs.WidthClass) {
	for _, pred := range p.sortedParents(b) {
		src, val := p.resolvePred(pred, b, r, c)
		p.f.AddPhiIncoming(b, phi, src, val)
	}
}

// resolvePred produces the value register r has on the edge pred→b, at
// width class c. The returned block is pred, or the relay block planted on
// the edge when pred cannot carry r itself.
func (p *promoter) resolvePred(pred, b ir.BlockID, r regs.Reg, c regs.WidthClass) (ir.BlockID, ir.ValueID) {
	if bi := p.regInfo[pred]; bi != nil {
		if def, ok := bi.Latest[r]; ok {
			return pred, p.castIn(pred, p.resolve(def.Value), def.Class, c)
		}
	}
	if def, ok := p.relayLoads[pred][r]; ok {
		return pred, p.castIn(pred, def.Value, def.Class, c)
	}
	if bag := p.g.byBlock[pred]; bag != nil {
		if pc, ok := bag.PhiRegs[r]; ok {
			phi := p.ensurePhi(pred, r, pc)
			return pred, p.castIn(pred, phi, pc, c)
		}
	}
	if p.allSuccsWantPhi(pred, r) {
		v := p.plantLoad(pred, r, c)
		return pred, v
	}
	relay := p.makeRelay(pred, b)
	v := p.plantLoad(relay, r, c)
	return relay, v
}

// allSuccsWantPhi reports whether every successor of b joins register r.
func (p *promoter) allSuccsWantPhi(b ir.BlockID, r regs.Reg) bool {
	succs := p.f.Blocks[b].Term.Successors(nil)
	if len(succs) == 0 {
		return false
	}
	for _, s := range succs {
		bag := p.g.byBlock[s]
		if bag == nil {
			return false
		}
		if _, ok := bag.PhiRegs[r]; !ok {
			return false
		}
	}
	return true
}

// plantLoad appends a state load of r to b and records it.
func (p *promoter) plantLoad(b ir.BlockID, r regs.Reg, c regs.WidthClass) ir.ValueID {
	v := p.f.EmitLoadReg(b, regs.Ref{Reg: r, Class: c})
	m := p.relayLoads[b]
	if m == nil {
		m = make(map[regs.Reg]RegDef)
		p.relayLoads[b] = m
	}
	m[r] = RegDef{Class: c, Value: v}
	return v
}

// makeRelay interposes a fresh block on the edge pred→b, diverting pred's
// terminator and moving every phi edge of b that named pred.
func (p *promoter) makeRelay(pred, b ir.BlockID) ir.BlockID {
	relay := p.f.NewBlock("")
	p.f.Blocks[pred].Term.ReplaceTarget(b, relay)
	p.f.Blocks[relay].Term = ir.Terminator{Kind: ir.TermBr, Br: ir.BrTerm{Target: b}}

	if set := p.l.parents[b]; set != nil {
		delete(set, pred)
		set[relay] = struct{}{}
	}
	p.l.parents[relay] = map[ir.BlockID]struct{}{pred: {}}

	bb := &p.f.Blocks[b]
	for i := range bb.Instrs {
		if bb.Instrs[i].Kind != ir.InstrPhi {
			break
		}
		for j := range bb.Instrs[i].Phi.Edges {
			if bb.Instrs[i].Phi.Edges[j].Pred == pred {
				bb.Instrs[i].Phi.Edges[j].Pred = relay
			}
		}
	}

	// the relay answers later resolutions with its successor's bag
	if bag := p.g.byBlock[b]; bag != nil {
		bag.InBBs[relay] = struct{}{}
		p.g.byBlock[relay] = bag
	}
	p.processed[relay] = true
	return relay
}

// castIn returns v adjusted to class c, emitting a cast at the end of block
// b when the widths differ.
func (p *promoter) castIn(b ir.BlockID, v ir.ValueID, from, to regs.WidthClass) ir.ValueID {
	if from == to || from.Bits() == to.Bits() {
		return v
	}
	return p.f.EmitCast(b, v, ir.ClassWidth(to), false)
}

// resolve chases the replacement map to the surviving value.
func (p *promoter) resolve(v ir.ValueID) ir.ValueID {
	for {
		next, ok := p.replaced[v]
		if !ok {
			return v
		}
		v = next
	}
}

// fixupOperands rewrites every operand in the function through the
// replacement map, catching cross-block uses of eliminated loads.
func (p *promoter) fixupOperands() {
	f := p.f
	for i := range f.Blocks {
		bb := &f.Blocks[i]
		for j := range bb.Instrs {
			ins := &bb.Instrs[j]
			switch ins.Kind {
			case ir.InstrStoreReg:
				ins.StoreReg.Src = p.resolve(ins.StoreReg.Src)
			case ir.InstrSemaCall:
				for k := range ins.Sema.Args {
					ins.Sema.Args[k] = p.resolve(ins.Sema.Args[k])
				}
			case ir.InstrExtract:
				ins.Extract.Tuple = p.resolve(ins.Extract.Tuple)
			case ir.InstrPhi:
				for k := range ins.Phi.Edges {
					ins.Phi.Edges[k].Value = p.resolve(ins.Phi.Edges[k].Value)
				}
			case ir.InstrCast:
				ins.Cast.Src = p.resolve(ins.Cast.Src)
			case ir.InstrCall:
				for k := range ins.Call.Args {
					ins.Call.Args[k] = p.resolve(ins.Call.Args[k])
				}
			}
		}
		switch bb.Term.Kind {
		case ir.TermCondBr:
			bb.Term.CondBr.Cond = p.resolve(bb.Term.CondBr.Cond)
		case ir.TermIndirectBr:
			bb.Term.IndirectBr.Addr = p.resolve(bb.Term.IndirectBr.Addr)
		case ir.TermTailCall:
			for k := range bb.Term.TailCall.Args {
				bb.Term.TailCall.Args[k] = p.resolve(bb.Term.TailCall.Args[k])
			}
		}
	}
}

// checkPhiArity verifies that every join node has exactly one incoming value
// per predecessor.
func (p *promoter) checkPhiArity() error {
	for i := range p.f.Blocks {
		bb := &p.f.Blocks[i]
		if bb.Empty() {
			continue
		}
		want := len(p.l.parents[ir.BlockID(i)])
		for j := range bb.Instrs {
			if bb.Instrs[j].Kind != ir.InstrPhi {
				break
			}
			if got := len(bb.Instrs[j].Phi.Edges); got != want {
				return fmt.Errorf("bb%d: phi %s has %d incomings, %d predecessors",
					i, bb.Instrs[j].Phi.Reg, got, want)
			}
		}
	}
	return nil
}

func (p *promoter) sortedParents(b ir.BlockID) []ir.BlockID {
	set := p.l.parents[b]
	out := make([]ir.BlockID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedRegs(m map[regs.Reg]regs.WidthClass) []regs.Reg {
	out := make([]regs.Reg, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
