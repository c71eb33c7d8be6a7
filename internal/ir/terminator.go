package ir

// TermKind enumerates terminator kinds.
type TermKind uint8

const (
	TermNone TermKind = iota
	TermBr
	TermCondBr
	TermIndirectBr
	TermTailCall
)

// Terminator ends a block.
type Terminator struct {
	Kind TermKind

	Br         BrTerm
	CondBr     CondBrTerm
	IndirectBr IndirectBrTerm
	TailCall   TailCallTerm
}

type BrTerm struct {
	Target BlockID
}

type CondBrTerm struct {
	Cond ValueID
	Then BlockID
	Else BlockID
}

// IndirectBrTerm transfers control to a run-time block address. Dests lists
// every block the branch may reach.
type IndirectBrTerm struct {
	Addr  ValueID
	Dests []BlockID
}

// TailCallTerm terminates the function by tail-calling an intrinsic or
// another lifted trace.
type TailCallTerm struct {
	Callee Callee
	Args   []ValueID
}

// Successors appends the terminator's successor blocks to dst and returns it.
func (t *Terminator) Successors(dst []BlockID) []BlockID {
	switch t.Kind {
	case TermBr:
		dst = append(dst, t.Br.Target)
	case TermCondBr:
		dst = append(dst, t.CondBr.Then, t.CondBr.Else)
	case TermIndirectBr:
		dst = append(dst, t.IndirectBr.Dests...)
	}
	return dst
}

// ReplaceTarget rewrites every successor edge equal to old with new.
func (t *Terminator) ReplaceTarget(old, new BlockID) {
	switch t.Kind {
	case TermBr:
		if t.Br.Target == old {
			t.Br.Target = new
		}
	case TermCondBr:
		if t.CondBr.Then == old {
			t.CondBr.Then = new
		}
		if t.CondBr.Else == old {
			t.CondBr.Else = new
		}
	case TermIndirectBr:
		for i := range t.IndirectBr.Dests {
			if t.IndirectBr.Dests[i] == old {
				t.IndirectBr.Dests[i] = new
			}
		}
	}
}
