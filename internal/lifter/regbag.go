package lifter

import (
	"sort"

	"github.com/nanana37/elfconv/internal/ir"
	"github.com/nanana37/elfconv/internal/regs"
)

// RegionBag summarizes the register traffic of a loop-free region of the
// CFG. Bags start out one per block; loop elimination merges every cycle
// into a single bag, leaving a DAG the propagation passes walk.
type RegionBag struct {
	InBBs    map[ir.BlockID]struct{}
	Parents  map[*RegionBag]struct{}
	Children map[*RegionBag]struct{}

	// RW is every register the region (or, after propagation, any region
	// above it) writes.
	RW map[regs.Reg]regs.WidthClass

	// InheritedRead is every register the region (or, after propagation, any
	// region below it) reads before writing.
	InheritedRead map[regs.Reg]regs.WidthClass

	// PhiRegs is the set of registers that need a join node at the region's
	// blocks, at the consumer-side width.
	PhiRegs map[regs.Reg]regs.WidthClass
}

func newRegionBag(b ir.BlockID) *RegionBag {
	return &RegionBag{
		InBBs:         map[ir.BlockID]struct{}{b: {}},
		Parents:       make(map[*RegionBag]struct{}),
		Children:      make(map[*RegionBag]struct{}),
		RW:            make(map[regs.Reg]regs.WidthClass),
		InheritedRead: make(map[regs.Reg]regs.WidthClass),
		PhiRegs:       make(map[regs.Reg]regs.WidthClass),
	}
}

// minBlock is the smallest block ID in the bag, used for deterministic
// iteration order.
func (g *RegionBag) minBlock() ir.BlockID {
	min := ir.BlockID(-1)
	for b := range g.InBBs {
		if min < 0 || b < min {
			min = b
		}
	}
	return min
}

type bagGraph struct {
	byBlock map[ir.BlockID]*RegionBag
	entry   *RegionBag
}

// buildBags allocates one bag per block, seeded from the block's register
// record, with edges mirroring the predecessor map.
func buildBags(f *ir.Func, regInfo map[ir.BlockID]*BBRegInfo, parents map[ir.BlockID]map[ir.BlockID]struct{}) *bagGraph {
	g := &bagGraph{byBlock: make(map[ir.BlockID]*RegionBag, len(f.Blocks))}

	for i := range f.Blocks {
		id := ir.BlockID(i)
		if f.Blocks[i].Empty() {
			continue
		}
		bag := newRegionBag(id)
		if bi := regInfo[id]; bi != nil {
			for r, c := range bi.Read {
				widen(bag.InheritedRead, r, c)
			}
			for r, c := range bi.Written {
				widen(bag.RW, r, c)
			}
		}
		g.byBlock[id] = bag
	}

	for child, preds := range parents {
		cb := g.byBlock[child]
		if cb == nil {
			continue
		}
		for p := range preds {
			pb := g.byBlock[p]
			if pb == nil || pb == cb {
				continue
			}
			cb.Parents[pb] = struct{}{}
			pb.Children[cb] = struct{}{}
		}
	}

	g.entry = g.byBlock[f.Entry]
	return g
}

func sortedBags(set map[*RegionBag]struct{}) []*RegionBag {
	out := make([]*RegionBag, 0, len(set))
	for b := range set {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].minBlock() < out[j].minBlock() })
	return out
}

// eliminateLoops merges every cycle of the bag graph into one bag. Each
// merge strictly reduces the bag count, so the restart loop terminates.
func (g *bagGraph) eliminateLoops() {
	if g.entry == nil {
		return
	}
	for g.mergeOneCycle() {
	}
}

// mergeOneCycle runs a DFS from the entry; on the first back edge it merges
// the whole cycle into the re-reached bag and reports true.
func (g *bagGraph) mergeOneCycle() bool {
	visited := make(map[*RegionBag]bool)
	onPath := make(map[*RegionBag]int)
	var path []*RegionBag

	var walk func(bag *RegionBag) bool
	walk = func(bag *RegionBag) bool {
		if idx, ok := onPath[bag]; ok {
			if idx == len(path)-1 {
				// direct self edge
				delete(bag.Children, bag)
				delete(bag.Parents, bag)
				return false
			}
			for _, m := range path[idx+1:] {
				g.merge(bag, m)
			}
			return true
		}
		if visited[bag] {
			return false
		}
		visited[bag] = true
		onPath[bag] = len(path)
		path = append(path, bag)
		for _, c := range sortedBags(bag.Children) {
			if walk(c) {
				return true
			}
		}
		path = path[:len(path)-1]
		delete(onPath, bag)
		return false
	}
	return walk(g.entry)
}

// merge folds src into dst and rewires every neighbor.
func (g *bagGraph) merge(dst, src *RegionBag) {
	for b := range src.InBBs {
		dst.InBBs[b] = struct{}{}
		g.byBlock[b] = dst
	}
	for r, c := range src.RW {
		widen(dst.RW, r, c)
	}
	for r, c := range src.InheritedRead {
		widen(dst.InheritedRead, r, c)
	}
	for p := range src.Parents {
		delete(p.Children, src)
		if p != dst {
			p.Children[dst] = struct{}{}
			dst.Parents[p] = struct{}{}
		}
	}
	for c := range src.Children {
		delete(c.Parents, src)
		if c != dst {
			c.Parents[dst] = struct{}{}
			dst.Children[c] = struct{}{}
		}
	}
	delete(dst.Parents, dst)
	delete(dst.Children, dst)
	src.InBBs = map[ir.BlockID]struct{}{}
	src.Parents = map[*RegionBag]struct{}{}
	src.Children = map[*RegionBag]struct{}{}
}

// bags returns every live bag, ordered by smallest member block.
func (g *bagGraph) bags() []*RegionBag {
	seen := make(map[*RegionBag]bool)
	var out []*RegionBag
	for _, bag := range g.byBlock {
		if !seen[bag] {
			seen[bag] = true
			out = append(out, bag)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].minBlock() < out[j].minBlock() })
	return out
}

// propagateWrites floods each bag's read-write set down the DAG.
func (g *bagGraph) propagateWrites() {
	all := g.bags()
	finished := make(map[*RegionBag]int)
	var queue []*RegionBag
	for _, bag := range all {
		if len(bag.Parents) == 0 {
			queue = append(queue, bag)
		}
	}
	for len(queue) > 0 {
		bag := queue[0]
		queue = queue[1:]
		for _, c := range sortedBags(bag.Children) {
			for r, w := range bag.RW {
				widen(c.RW, r, w)
			}
			finished[c]++
			if finished[c] == len(c.Parents) {
				queue = append(queue, c)
			}
		}
	}
}

// propagateReads floods each bag's inherited-read set up the DAG.
func (g *bagGraph) propagateReads() {
	all := g.bags()
	finished := make(map[*RegionBag]int)
	var queue []*RegionBag
	for _, bag := range all {
		if len(bag.Children) == 0 {
			queue = append(queue, bag)
		}
	}
	for len(queue) > 0 {
		bag := queue[0]
		queue = queue[1:]
		for _, p := range sortedBags(bag.Parents) {
			for r, w := range bag.InheritedRead {
				widen(p.InheritedRead, r, w)
			}
			finished[p]++
			if finished[p] == len(p.Children) {
				queue = append(queue, p)
			}
		}
	}
}

// computePhiSets intersects each bag's traffic with the reads below it. The
// consumer-side width class wins.
func (g *bagGraph) computePhiSets() {
	for _, bag := range g.bags() {
		for r, c := range bag.InheritedRead {
			if _, ok := bag.RW[r]; ok {
				bag.PhiRegs[r] = c
			}
		}
	}
}
