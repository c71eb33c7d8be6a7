package ir

// Block is one basic block. Blocks are owned by their Func.
type Block struct {
	ID     BlockID
	Name   string
	Instrs []Instr
	Term   Terminator
}

// Terminated reports whether the block carries a terminator.
func (b *Block) Terminated() bool {
	if b == nil {
		return true
	}
	return b.Term.Kind != TermNone
}

// Empty reports whether the block has neither instructions nor a terminator.
func (b *Block) Empty() bool {
	return len(b.Instrs) == 0 && b.Term.Kind == TermNone
}

// PhiCount returns the number of phi instructions at the block head.
func (b *Block) PhiCount() int {
	n := 0
	for i := range b.Instrs {
		if b.Instrs[i].Kind != InstrPhi {
			break
		}
		n++
	}
	return n
}

// FindPhi returns the index of the head phi whose result is v, or -1.
func (b *Block) FindPhi(v ValueID) int {
	for i := range b.Instrs {
		if b.Instrs[i].Kind != InstrPhi {
			break
		}
		if b.Instrs[i].Result == v {
			return i
		}
	}
	return -1
}
