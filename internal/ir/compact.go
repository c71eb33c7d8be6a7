package ir

// Compact removes blocks unreachable from the entry and renumbers the rest
// deterministically, fixing every terminator target and phi edge.
func Compact(f *Func) {
	if f == nil || len(f.Blocks) == 0 {
		return
	}

	reachable := computeReachability(f)

	count := 0
	for _, r := range reachable {
		if r {
			count++
		}
	}
	if count == len(f.Blocks) {
		for i := range f.Blocks {
			f.Blocks[i].ID = BlockID(i)
		}
		return
	}

	oldToNew := make(map[BlockID]BlockID, count)
	newBlocks := make([]Block, 0, count)
	for i, keep := range reachable {
		if keep {
			oldToNew[BlockID(i)] = BlockID(len(newBlocks))
			newBlocks = append(newBlocks, f.Blocks[i])
		}
	}

	remap := func(id BlockID) BlockID {
		if newID, ok := oldToNew[id]; ok {
			return newID
		}
		return id
	}

	for i := range newBlocks {
		newBlocks[i].ID = BlockID(i)
		term := &newBlocks[i].Term
		switch term.Kind {
		case TermBr:
			term.Br.Target = remap(term.Br.Target)
		case TermCondBr:
			term.CondBr.Then = remap(term.CondBr.Then)
			term.CondBr.Else = remap(term.CondBr.Else)
		case TermIndirectBr:
			kept := term.IndirectBr.Dests[:0]
			for _, d := range term.IndirectBr.Dests {
				if _, ok := oldToNew[d]; ok {
					kept = append(kept, oldToNew[d])
				}
			}
			term.IndirectBr.Dests = kept
		}
		for j := range newBlocks[i].Instrs {
			ins := &newBlocks[i].Instrs[j]
			if ins.Kind != InstrPhi {
				continue
			}
			keptEdges := ins.Phi.Edges[:0]
			for _, e := range ins.Phi.Edges {
				if _, ok := oldToNew[e.Pred]; ok {
					e.Pred = oldToNew[e.Pred]
					keptEdges = append(keptEdges, e)
				}
			}
			ins.Phi.Edges = keptEdges
		}
	}

	f.Blocks = newBlocks
	f.Entry = remap(f.Entry)
}

// computeReachability performs a DFS from the entry block to find all
// reachable blocks.
func computeReachability(f *Func) []bool {
	reachable := make([]bool, len(f.Blocks))

	var visit func(id BlockID)
	visit = func(id BlockID) {
		if id < 0 || int(id) >= len(f.Blocks) || reachable[id] {
			return
		}
		reachable[id] = true
		for _, s := range f.Blocks[id].Term.Successors(nil) {
			visit(s)
		}
	}

	visit(f.Entry)
	return reachable
}
