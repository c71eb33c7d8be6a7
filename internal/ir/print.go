package ir

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// DumpModule writes a human-readable representation of a module.
func DumpModule(w io.Writer, m *Module) error {
	if w == nil || m == nil {
		return nil
	}

	if len(m.Intrinsics) > 0 {
		names := slices.Clone(m.Intrinsics)
		slices.Sort(names)
		fmt.Fprintf(w, "intrinsics: %s\n", strings.Join(names, " "))
	}

	for i := range m.Globals {
		g := &m.Globals[i]
		switch g.Kind {
		case GlobalBlockAddrs:
			parts := make([]string, len(g.Blocks))
			for j, b := range g.Blocks {
				parts[j] = fmt.Sprintf("bb%d", b)
			}
			fmt.Fprintf(w, "global %s = blockaddrs [%s]\n", g.Name, strings.Join(parts, " "))
		case GlobalU64Array:
			parts := make([]string, len(g.U64s))
			for j, v := range g.U64s {
				parts[j] = fmt.Sprintf("%#x", v)
			}
			fmt.Fprintf(w, "global %s = u64 [%s]\n", g.Name, strings.Join(parts, " "))
		}
	}

	funcs := make([]*Func, 0, len(m.Funcs))
	for _, f := range m.Funcs {
		if f != nil {
			funcs = append(funcs, f)
		}
	}
	slices.SortStableFunc(funcs, func(a, b *Func) int {
		switch {
		case a.EntryVMA < b.EntryVMA:
			return -1
		case a.EntryVMA > b.EntryVMA:
			return 1
		default:
			return 0
		}
	})

	for _, f := range funcs {
		if err := DumpFunc(w, f); err != nil {
			return err
		}
	}
	return nil
}

// DumpFunc writes a human-readable representation of one function.
func DumpFunc(w io.Writer, f *Func) error {
	if w == nil || f == nil {
		return nil
	}
	if f.IsDeclaration() {
		_, err := fmt.Fprintf(w, "declare %s @ %#x\n", f.Name, f.EntryVMA)
		return err
	}

	fmt.Fprintf(w, "func %s @ %#x entry=bb%d\n", f.Name, f.EntryVMA, f.Entry)
	for i := range f.Blocks {
		bb := &f.Blocks[i]
		label := fmt.Sprintf("bb%d", i)
		if bb.Name != "" {
			label += " (" + bb.Name + ")"
		}
		fmt.Fprintf(w, "%s:\n", label)
		for j := range bb.Instrs {
			fmt.Fprintf(w, "  %s\n", instrStr(&bb.Instrs[j]))
		}
		fmt.Fprintf(w, "  %s\n", termStr(&bb.Term))
	}
	return nil
}

func instrStr(ins *Instr) string {
	switch ins.Kind {
	case InstrLoadReg:
		return fmt.Sprintf("v%d = load %s", ins.Result, ins.LoadReg.Reg)
	case InstrStoreReg:
		return fmt.Sprintf("store %s, v%d", ins.StoreReg.Reg, ins.StoreReg.Src)
	case InstrSemaCall:
		args := valueList(ins.Sema.Args)
		written := make([]string, len(ins.Sema.Written))
		for i, r := range ins.Sema.Written {
			written[i] = r.String()
		}
		return fmt.Sprintf("v%d = sema %q @%#x (%s) writes [%s]",
			ins.Result, ins.Sema.Name, ins.Sema.Addr, args, strings.Join(written, " "))
	case InstrExtract:
		return fmt.Sprintf("v%d = extract v%d, %d", ins.Result, ins.Extract.Tuple, ins.Extract.Field)
	case InstrPhi:
		parts := make([]string, len(ins.Phi.Edges))
		for i, e := range ins.Phi.Edges {
			parts[i] = fmt.Sprintf("bb%d: v%d", e.Pred, e.Value)
		}
		return fmt.Sprintf("v%d = phi %s [%s]", ins.Result, ins.Phi.Reg, strings.Join(parts, ", "))
	case InstrCast:
		mode := "z"
		if ins.Cast.Signed {
			mode = "s"
		}
		return fmt.Sprintf("v%d = cast.%s v%d", ins.Result, mode, ins.Cast.Src)
	case InstrConst64:
		return fmt.Sprintf("v%d = const %#x", ins.Result, ins.Const.Imm)
	case InstrCall:
		if ins.Result != NoValueID {
			return fmt.Sprintf("v%d = call %s(%s)", ins.Result, calleeStr(ins.Call.Callee), valueList(ins.Call.Args))
		}
		return fmt.Sprintf("call %s(%s)", calleeStr(ins.Call.Callee), valueList(ins.Call.Args))
	default:
		return fmt.Sprintf("instr(kind=%d)", ins.Kind)
	}
}

func termStr(t *Terminator) string {
	switch t.Kind {
	case TermNone:
		return "<no terminator>"
	case TermBr:
		return fmt.Sprintf("br bb%d", t.Br.Target)
	case TermCondBr:
		return fmt.Sprintf("cond br v%d, bb%d, bb%d", t.CondBr.Cond, t.CondBr.Then, t.CondBr.Else)
	case TermIndirectBr:
		parts := make([]string, len(t.IndirectBr.Dests))
		for i, d := range t.IndirectBr.Dests {
			parts[i] = fmt.Sprintf("bb%d", d)
		}
		return fmt.Sprintf("indirect br v%d [%s]", t.IndirectBr.Addr, strings.Join(parts, " "))
	case TermTailCall:
		return fmt.Sprintf("tail call %s(%s)", calleeStr(t.TailCall.Callee), valueList(t.TailCall.Args))
	default:
		return fmt.Sprintf("term(kind=%d)", t.Kind)
	}
}

func calleeStr(c Callee) string {
	if c.Kind == CalleeTrace {
		return fmt.Sprintf("%s@%#x", c.Name, c.Addr)
	}
	return c.Name
}

func valueList(vs []ValueID) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("v%d", v)
	}
	return strings.Join(parts, ", ")
}
