package lifter

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/regs"
)

// Lifter turns guest machine code into IR one trace at a time. The fields
// under the per-trace state comment are reset at the top of every trace,
// except traceWork, which lives for the whole Lifter; a Lifter must not be
// shared between goroutines.
type Lifter struct {
	arch    Arch
	manager TraceManager
	module  *ir.Module
	log     *zap.Logger

	// per-trace state
	traceWork  *addrSet
	instWork   *addrSet
	f          *ir.Func
	traceAddr  uint64
	blocks     map[uint64]ir.BlockID
	lifted     map[uint64]ir.BlockID
	blockVMA   map[ir.BlockID]uint64
	parents    map[ir.BlockID]map[ir.BlockID]struct{}
	indirectBr ir.BlockID
	brBlocks   []brRecord
	liftAll    bool
	sawIndir   bool
	delayed    Instruction
	hasDelayed bool
}

// brRecord pairs a block ending in an indirect jump with the run-time
// destination value computed in it.
type brRecord struct {
	Block ir.BlockID
	Dest  ir.ValueID
}

// New returns a lifter over arch and manager emitting into m.
func New(arch Arch, manager TraceManager, m *ir.Module, log *zap.Logger) *Lifter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lifter{
		arch:      arch,
		manager:   manager,
		module:    m,
		log:       log,
		traceWork: newAddrSet(),
	}
}

// Lift lifts the trace at entryAddr and, transitively, every trace it
// references. callback, if non-nil, runs once per finished trace after the
// definition is published to the manager.
func (l *Lifter) Lift(entryAddr uint64, callback func(*ir.Func)) error {
	mask := l.arch.AddressMask()
	l.traceWork.Add(entryAddr & mask)

	for {
		traceAddr, ok := l.traceWork.PopMin()
		if !ok {
			break
		}
		if l.manager.GetLiftedTraceDefinition(traceAddr) != nil {
			continue
		}
		if err := l.liftTrace(traceAddr); err != nil {
			return err
		}
		l.manager.SetLiftedTraceDefinition(traceAddr, l.f)
		if callback != nil {
			callback(l.f)
		}
	}
	return nil
}

func (l *Lifter) liftTrace(traceAddr uint64) error {
	l.resetTrace(traceAddr)

	f := l.manager.GetLiftedTraceDeclaration(traceAddr)
	if f == nil {
		f = l.module.FuncByVMA(traceAddr)
	}
	if f == nil {
		f = l.arch.DeclareLiftedFunction(l.module, l.manager.TraceName(traceAddr), traceAddr)
	}
	l.f = f
	l.arch.InitializeEmptyLiftedFunction(f)

	l.log.Debug("lifting trace",
		zap.String("name", f.Name),
		zap.Uint64("addr", traceAddr))

	body := l.getOrCreateBlock(traceAddr)
	l.setBr(f.Entry, body)
	l.instWork.Add(traceAddr)

	for {
		if err := l.runInstWorklist(); err != nil {
			return err
		}
		if !l.seedSecondPass() {
			break
		}
	}

	l.buildDispatcher()
	l.patchMissingTerminators()

	regInfo := BuildRegInfo(l.f)
	if l.indirectBr == ir.NoBlockID {
		if err := l.flatten(regInfo); err != nil {
			return fmt.Errorf("trace %#x: %w", traceAddr, err)
		}
	}
	if err := l.promoteRegisters(regInfo); err != nil {
		return fmt.Errorf("trace %#x: %w", traceAddr, err)
	}
	ir.Compact(l.f)

	if err := ir.ValidateFunc(l.f); err != nil {
		return fmt.Errorf("trace %#x: %w", traceAddr, err)
	}
	return nil
}

func (l *Lifter) resetTrace(traceAddr uint64) {
	l.instWork = newAddrSet()
	l.f = nil
	l.traceAddr = traceAddr
	l.blocks = make(map[uint64]ir.BlockID)
	l.lifted = make(map[uint64]ir.BlockID)
	l.blockVMA = make(map[ir.BlockID]uint64)
	l.parents = make(map[ir.BlockID]map[ir.BlockID]struct{})
	l.indirectBr = ir.NoBlockID
	l.brBlocks = l.brBlocks[:0]
	l.liftAll = false
	l.sawIndir = false
	l.hasDelayed = false
}

// runInstWorklist drains the instruction worklist, lifting one block per
// popped address.
func (l *Lifter) runInstWorklist() error {
	mask := l.arch.AddressMask()
	var inst Instruction

	for {
		instAddr, ok := l.instWork.PopMin()
		if !ok {
			return nil
		}
		instAddr &= mask

		b := l.getOrCreateBlock(instAddr)
		if !l.f.Block(b).Empty() {
			continue
		}

		if instAddr != l.traceAddr && l.manager.IsFunctionEntry(instAddr) {
			l.traceWork.Add(instAddr)
			l.setTailCallTrace(b, instAddr)
			continue
		}

		data := l.readInstBytes(instAddr)
		inst.Reset()
		if len(data) == 0 || !l.arch.Decode(instAddr, data, &inst) ||
			inst.Category == CategoryInvalid || inst.Category == CategoryError {
			l.log.Debug("undecodable instruction", zap.Uint64("addr", instAddr))
			l.setTailCallIntrinsic(b, IntrinsicError, l.f.EmitConst64(b, instAddr))
			continue
		}

		if !l.liftInst(&inst, b) {
			l.setTailCallIntrinsic(b, IntrinsicError, l.f.EmitConst64(b, instAddr))
			continue
		}

		l.dispatch(&inst, b)
	}
}

// liftInst emits the semantics of inst into b. Category terminators are the
// caller's job.
func (l *Lifter) liftInst(inst *Instruction, b ir.BlockID) bool {
	return l.arch.LiftIntoBlock(inst, l.f, b)
}

// dispatch emits the control-flow effect of inst at the end of b.
func (l *Lifter) dispatch(inst *Instruction, b ir.BlockID) {
	switch inst.Category {
	case CategoryNormal, CategoryNoOp:
		l.setBr(b, l.nextBlock(inst.NextPC))

	case CategoryDirectJump:
		l.tryDecodeDelayed(inst)
		l.liftDelayedInto(b, inst, true)
		l.setBr(b, l.nextBlock(inst.BranchTakenPC))

	case CategoryIndirectJump:
		l.tryDecodeDelayed(inst)
		l.liftDelayedInto(b, inst, true)
		dest := l.findIndirectBrAddress(b)
		l.setBr(b, l.getOrCreateIndirectBrBlock())
		l.brBlocks = append(l.brBlocks, brRecord{Block: b, Dest: dest})
		l.sawIndir = true

	case CategoryDirectFunctionCall:
		l.tryDecodeDelayed(inst)
		l.liftDelayedInto(b, inst, true)
		if inst.BranchTakenPC != inst.BranchNotTakenPC {
			l.traceWork.Add(inst.BranchTakenPC)
			l.emitTraceCall(b, inst.BranchTakenPC)
		}
		l.setBr(b, l.nextBlock(inst.BranchNotTakenPC))

	case CategoryConditionalDirectFunctionCall:
		notTaken := l.nextBlock(inst.BranchNotTakenPC)
		taken := l.f.NewBlock("")
		if inst.BranchTakenPC != inst.BranchNotTakenPC {
			l.traceWork.Add(inst.BranchTakenPC)
			l.emitTraceCall(taken, inst.BranchTakenPC)
		}
		cond := l.loadBranchTaken(b)
		l.setCondBr(b, cond, taken, notTaken)
		l.setBr(taken, notTaken)

	case CategoryIndirectFunctionCall:
		fallThrough := l.f.NewBlock("")
		l.setBr(fallThrough, l.nextBlock(inst.BranchNotTakenPC))
		dest := l.findIndirectBrAddress(b)
		l.emitIntrinsicCall(b, IntrinsicFunctionCall, dest)
		l.setBr(b, fallThrough)

	case CategoryConditionalIndirectFunctionCall:
		notTaken := l.nextBlock(inst.BranchNotTakenPC)
		taken := l.f.NewBlock("")
		dest := l.findIndirectBrAddress(b)
		l.emitIntrinsicCall(taken, IntrinsicFunctionCall, dest)
		cond := l.loadBranchTaken(b)
		l.setCondBr(b, cond, taken, notTaken)
		l.setBr(taken, notTaken)

	case CategoryAsyncHyperCall:
		l.emitIntrinsicCall(b, IntrinsicAsyncHyperCall, l.f.EmitConst64(b, inst.Addr))
		l.setBr(b, l.nextBlock(inst.NextPC))

	case CategoryConditionalAsyncHyperCall:
		next := l.nextBlock(inst.NextPC)
		hyper := l.f.NewBlock("")
		l.emitIntrinsicCall(hyper, IntrinsicAsyncHyperCall, l.f.EmitConst64(hyper, inst.Addr))
		cond := l.loadBranchTaken(b)
		l.setCondBr(b, cond, hyper, next)
		l.setBr(hyper, next)

	case CategoryFunctionReturn:
		l.tryDecodeDelayed(inst)
		l.liftDelayedInto(b, inst, true)
		l.setTailCallIntrinsic(b, IntrinsicFunctionReturn, l.findIndirectBrAddress(b))

	case CategoryConditionalFunctionReturn:
		notTaken := l.nextBlock(inst.BranchNotTakenPC)
		taken := l.f.NewBlock("")
		l.setTailCallIntrinsic(taken, IntrinsicFunctionReturn, l.findIndirectBrAddress(taken))
		cond := l.loadBranchTaken(b)
		l.setCondBr(b, cond, taken, notTaken)

	case CategoryConditionalBranch:
		l.tryDecodeDelayed(inst)
		taken := l.delayTarget(inst, inst.BranchTakenPC, true)
		notTaken := l.delayTarget(inst, inst.BranchNotTakenPC, false)
		cond := l.loadBranchTaken(b)
		l.setCondBr(b, cond, taken, notTaken)

	case CategoryConditionalIndirectJump:
		notTaken := l.nextBlock(inst.BranchNotTakenPC)
		taken := l.f.NewBlock("")
		l.setTailCallIntrinsic(taken, IntrinsicJump, l.findIndirectBrAddress(taken))
		cond := l.loadBranchTaken(b)
		l.setCondBr(b, cond, taken, notTaken)

	default:
		l.setTailCallIntrinsic(b, IntrinsicError, l.f.EmitConst64(b, inst.Addr))
	}
}

// readInstBytes reads up to MaxInstBytes from addr, stopping early at an
// unmapped byte or an address-space wrap.
func (l *Lifter) readInstBytes(addr uint64) []byte {
	max := l.arch.MaxInstBytes()
	data := make([]byte, 0, max)
	for i := 0; i < max; i++ {
		byteAddr := addr + uint64(i)
		if byteAddr < addr {
			break
		}
		v, ok := l.manager.TryReadExecutableByte(byteAddr)
		if !ok {
			break
		}
		data = append(data, v)
	}
	return data
}

// seedSecondPass queues every unlifted address of the function body after an
// indirect jump was found, so the dispatch table covers the whole range.
// Reports whether any work was added.
func (l *Lifter) seedSecondPass() bool {
	if !l.sawIndir || l.liftAll {
		return false
	}
	l.liftAll = true
	end := l.manager.FuncEndVMA(l.traceAddr)
	if end <= l.traceAddr {
		return false
	}
	stride := uint64(l.arch.MaxInstBytes())
	added := false
	for addr := l.traceAddr; addr < end; addr += stride {
		if _, ok := l.lifted[addr]; ok {
			continue
		}
		l.instWork.Add(addr)
		added = true
	}
	return added
}

// patchMissingTerminators finishes every unterminated block with the
// missing-block intrinsic.
func (l *Lifter) patchMissingTerminators() {
	for i := range l.f.Blocks {
		id := ir.BlockID(i)
		if l.f.Blocks[i].Terminated() {
			continue
		}
		l.setTailCallIntrinsic(id, IntrinsicMissingBlock, l.f.EmitConst64(id, l.blockVMA[id]))
	}
}

// getOrCreateBlock returns the block for addr, allocating it on first use.
func (l *Lifter) getOrCreateBlock(addr uint64) ir.BlockID {
	if b, ok := l.blocks[addr]; ok {
		return b
	}
	b := l.f.NewBlock(fmt.Sprintf("inst_%x", addr))
	l.blocks[addr] = b
	l.lifted[addr] = b
	l.blockVMA[b] = addr
	return b
}

// nextBlock is getOrCreateBlock plus queuing addr for lifting.
func (l *Lifter) nextBlock(addr uint64) ir.BlockID {
	b := l.getOrCreateBlock(addr)
	l.instWork.Add(addr)
	return b
}

func (l *Lifter) getOrCreateIndirectBrBlock() ir.BlockID {
	if l.indirectBr == ir.NoBlockID {
		l.indirectBr = l.f.NewBlock("indirect_br")
	}
	return l.indirectBr
}

// addParent records src as a predecessor of dst.
func (l *Lifter) addParent(dst, src ir.BlockID) {
	set, ok := l.parents[dst]
	if !ok {
		set = make(map[ir.BlockID]struct{})
		l.parents[dst] = set
	}
	set[src] = struct{}{}
}

// setBr terminates src with a branch to dst. Predecessor tracking happens
// only here and in the two helpers below.
func (l *Lifter) setBr(src, dst ir.BlockID) {
	l.f.Blocks[src].Term = ir.Terminator{Kind: ir.TermBr, Br: ir.BrTerm{Target: dst}}
	l.addParent(dst, src)
}

func (l *Lifter) setCondBr(src ir.BlockID, cond ir.ValueID, then, els ir.BlockID) {
	l.f.Blocks[src].Term = ir.Terminator{
		Kind:   ir.TermCondBr,
		CondBr: ir.CondBrTerm{Cond: cond, Then: then, Else: els},
	}
	l.addParent(then, src)
	l.addParent(els, src)
}

func (l *Lifter) setIndirectBr(src ir.BlockID, addr ir.ValueID, dests []ir.BlockID) {
	l.f.Blocks[src].Term = ir.Terminator{
		Kind:       ir.TermIndirectBr,
		IndirectBr: ir.IndirectBrTerm{Addr: addr, Dests: dests},
	}
	for _, d := range dests {
		l.addParent(d, src)
	}
}

func (l *Lifter) setTailCallIntrinsic(b ir.BlockID, name string, pc ir.ValueID) {
	l.module.DeclareIntrinsic(name)
	l.f.Blocks[b].Term = ir.Terminator{
		Kind: ir.TermTailCall,
		TailCall: ir.TailCallTerm{
			Callee: ir.Callee{Kind: ir.CalleeIntrinsic, Name: name},
			Args:   []ir.ValueID{l.f.StateParam, pc, l.f.RuntimeParam},
		},
	}
}

func (l *Lifter) setTailCallTrace(b ir.BlockID, addr uint64) {
	l.f.Blocks[b].Term = ir.Terminator{
		Kind: ir.TermTailCall,
		TailCall: ir.TailCallTerm{
			Callee: ir.Callee{Kind: ir.CalleeTrace, Name: l.manager.TraceName(addr), Addr: addr},
			Args:   []ir.ValueID{l.f.StateParam, l.f.EmitConst64(b, addr), l.f.RuntimeParam},
		},
	}
}

func (l *Lifter) emitTraceCall(b ir.BlockID, addr uint64) {
	pc := l.f.EmitConst64(b, addr)
	l.f.EmitCall(b,
		ir.Callee{Kind: ir.CalleeTrace, Name: l.manager.TraceName(addr), Addr: addr},
		[]ir.ValueID{l.f.StateParam, pc, l.f.RuntimeParam})
}

func (l *Lifter) emitIntrinsicCall(b ir.BlockID, name string, pc ir.ValueID) {
	l.module.DeclareIntrinsic(name)
	l.f.EmitCall(b,
		ir.Callee{Kind: ir.CalleeIntrinsic, Name: name},
		[]ir.ValueID{l.f.StateParam, pc, l.f.RuntimeParam})
}

// loadBranchTaken reads the condition outcome the semantics stored in b.
func (l *Lifter) loadBranchTaken(b ir.BlockID) ir.ValueID {
	return l.f.EmitLoadReg(b, regs.Ref{Reg: regs.BranchTaken, Class: regs.ClassB})
}

// findIndirectBrAddress reads the run-time destination the semantics stored
// in b.
func (l *Lifter) findIndirectBrAddress(b ir.BlockID) ir.ValueID {
	return l.f.EmitLoadReg(b, regs.Ref{Reg: regs.NextPC, Class: regs.ClassX})
}

// tryDecodeDelayed decodes the instruction in inst's delay slot, if any.
func (l *Lifter) tryDecodeDelayed(inst *Instruction) {
	l.hasDelayed = false
	if !inst.MayHaveDelay || !l.arch.MayHaveDelaySlot(inst) {
		return
	}
	data := l.readInstBytes(inst.DelayedPC)
	l.delayed.Reset()
	if len(data) > 0 && l.arch.DecodeDelayed(inst.DelayedPC, data, &l.delayed) {
		l.hasDelayed = true
	}
}

// liftDelayedInto lifts the pending delayed instruction straight into b when
// it executes on the given path of an unconditional transfer.
func (l *Lifter) liftDelayedInto(b ir.BlockID, inst *Instruction, onTaken bool) {
	if !l.hasDelayed {
		return
	}
	if !l.arch.NextInstructionIsDelayed(inst, &l.delayed, onTaken) {
		return
	}
	l.liftInst(&l.delayed, b)
}

// delayTarget returns the block a conditional edge should reach, interposing
// a block carrying the delayed instruction when it executes on that path.
func (l *Lifter) delayTarget(inst *Instruction, addr uint64, onTaken bool) ir.BlockID {
	target := l.nextBlock(addr)
	if !l.hasDelayed || !l.arch.NextInstructionIsDelayed(inst, &l.delayed, onTaken) {
		return target
	}
	delay := l.f.NewBlock("")
	l.liftInst(&l.delayed, delay)
	l.setBr(delay, target)
	return delay
}
