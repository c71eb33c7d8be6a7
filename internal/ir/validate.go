package ir

import (
	"errors"
	"fmt"
)

// Validate checks module invariants.
// Returns error if any invariant is violated.
func Validate(m *Module) error {
	if m == nil {
		return nil
	}
	var errs []error
	for _, f := range m.Funcs {
		if f == nil || f.IsDeclaration() {
			continue
		}
		if err := ValidateFunc(f); err != nil {
			errs = append(errs, fmt.Errorf("function %s: %w", f.Name, err))
		}
	}
	return errors.Join(errs...)
}

// ValidateFunc checks the invariants of a single function body.
func ValidateFunc(f *Func) error {
	if f == nil || f.IsDeclaration() {
		return nil
	}

	var errs []error

	if err := validateBlocksTerminated(f); err != nil {
		errs = append(errs, err)
	}
	if err := validateBlockTargets(f); err != nil {
		errs = append(errs, err)
	}
	if err := validateValueIDs(f); err != nil {
		errs = append(errs, err)
	}
	if err := validatePhis(f); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// validateBlocksTerminated checks that every block ends with a terminator.
func validateBlocksTerminated(f *Func) error {
	var errs []error
	for i := range f.Blocks {
		if f.Blocks[i].Term.Kind == TermNone {
			errs = append(errs, fmt.Errorf("bb%d: unterminated block", i))
		}
	}
	return errors.Join(errs...)
}

// validateBlockTargets checks that all block target IDs exist.
func validateBlockTargets(f *Func) error {
	var errs []error

	blockExists := func(id BlockID) bool {
		return id >= 0 && int(id) < len(f.Blocks)
	}

	if !blockExists(f.Entry) {
		errs = append(errs, fmt.Errorf("entry bb%d does not exist", f.Entry))
	}

	for i := range f.Blocks {
		bb := &f.Blocks[i]
		switch bb.Term.Kind {
		case TermBr:
			if !blockExists(bb.Term.Br.Target) {
				errs = append(errs, fmt.Errorf("bb%d: br target bb%d does not exist", i, bb.Term.Br.Target))
			}
		case TermCondBr:
			if !blockExists(bb.Term.CondBr.Then) {
				errs = append(errs, fmt.Errorf("bb%d: cond br then target bb%d does not exist", i, bb.Term.CondBr.Then))
			}
			if !blockExists(bb.Term.CondBr.Else) {
				errs = append(errs, fmt.Errorf("bb%d: cond br else target bb%d does not exist", i, bb.Term.CondBr.Else))
			}
		case TermIndirectBr:
			if len(bb.Term.IndirectBr.Dests) == 0 {
				errs = append(errs, fmt.Errorf("bb%d: indirect br with no destinations", i))
			}
			for _, d := range bb.Term.IndirectBr.Dests {
				if !blockExists(d) {
					errs = append(errs, fmt.Errorf("bb%d: indirect br destination bb%d does not exist", i, d))
				}
			}
		}
	}
	return errors.Join(errs...)
}

// validateValueIDs checks that every referenced value exists.
func validateValueIDs(f *Func) error {
	var errs []error

	valueExists := func(v ValueID) bool {
		return v >= 0 && int(v) < f.NumValues()
	}

	checkOperand := func(v ValueID, context string) {
		if !valueExists(v) {
			errs = append(errs, fmt.Errorf("%s: value v%d does not exist", context, v))
		}
	}

	for i := range f.Blocks {
		bb := &f.Blocks[i]
		for j := range bb.Instrs {
			ins := &bb.Instrs[j]
			ctx := fmt.Sprintf("bb%d instr %d", i, j)

			switch ins.Kind {
			case InstrStoreReg:
				checkOperand(ins.StoreReg.Src, ctx)
			case InstrSemaCall:
				for _, a := range ins.Sema.Args {
					checkOperand(a, ctx)
				}
			case InstrExtract:
				checkOperand(ins.Extract.Tuple, ctx)
			case InstrPhi:
				for _, e := range ins.Phi.Edges {
					checkOperand(e.Value, ctx)
				}
			case InstrCast:
				checkOperand(ins.Cast.Src, ctx)
			case InstrCall:
				for _, a := range ins.Call.Args {
					checkOperand(a, ctx)
				}
			}
		}

		ctx := fmt.Sprintf("bb%d terminator", i)
		switch bb.Term.Kind {
		case TermCondBr:
			checkOperand(bb.Term.CondBr.Cond, ctx)
		case TermIndirectBr:
			checkOperand(bb.Term.IndirectBr.Addr, ctx)
		case TermTailCall:
			for _, a := range bb.Term.TailCall.Args {
				checkOperand(a, ctx)
			}
		}
	}

	return errors.Join(errs...)
}

// validatePhis checks that phis sit at block heads and have at least one
// incoming edge with an existing predecessor.
func validatePhis(f *Func) error {
	var errs []error

	blockExists := func(id BlockID) bool {
		return id >= 0 && int(id) < len(f.Blocks)
	}

	for i := range f.Blocks {
		bb := &f.Blocks[i]
		head := true
		for j := range bb.Instrs {
			ins := &bb.Instrs[j]
			if ins.Kind != InstrPhi {
				head = false
				continue
			}
			if !head {
				errs = append(errs, fmt.Errorf("bb%d instr %d: phi not at block head", i, j))
			}
			if len(ins.Phi.Edges) == 0 {
				errs = append(errs, fmt.Errorf("bb%d instr %d: phi with no incoming edges", i, j))
			}
			for _, e := range ins.Phi.Edges {
				if !blockExists(e.Pred) {
					errs = append(errs, fmt.Errorf("bb%d instr %d: phi edge from missing bb%d", i, j, e.Pred))
				}
			}
		}
	}

	return errors.Join(errs...)
}
