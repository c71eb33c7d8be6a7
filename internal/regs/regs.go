// Package regs models the guest register file of the lifted architecture.
//
// A register is identified by a Reg slot in the guest state structure plus a
// WidthClass describing the view the instruction used (w0 and x0 name the same
// slot at different widths). The lifter and the register-flow analyzer key
// their maps by Reg and carry the WidthClass alongside.
package regs

import "fmt"

// Reg identifies one slot of the guest state structure.
type Reg int16

// NoReg is the absent-register sentinel.
const NoReg Reg = -1

// General purpose registers X0..X30, then the special slots.
const (
	X0 Reg = iota
	X1
	X2
	X3
	X4
	X5
	X6
	X7
	X8
	X9
	X10
	X11
	X12
	X13
	X14
	X15
	X16
	X17
	X18
	X19
	X20
	X21
	X22
	X23
	X24
	X25
	X26
	X27
	X28
	X29
	X30
	SP
	PC
	NZCV

	// V0..V31 SIMD&FP registers.
	V0
	V1
	V2
	V3
	V4
	V5
	V6
	V7
	V8
	V9
	V10
	V11
	V12
	V13
	V14
	V15
	V16
	V17
	V18
	V19
	V20
	V21
	V22
	V23
	V24
	V25
	V26
	V27
	V28
	V29
	V30
	V31

	// BranchTaken holds the 1-bit outcome a conditional instruction's
	// semantics computed for its branch condition.
	BranchTaken

	// NextPC holds the run-time successor address an indirect control
	// transfer computed.
	NextPC

	NumRegs
)

// WidthClass is the view width an instruction used for a register.
type WidthClass uint8

const (
	// ClassX is the 64-bit integer view.
	ClassX WidthClass = iota
	// ClassW is the 32-bit integer view.
	ClassW
	// ClassB is the 8-bit scalar view of a vector register.
	ClassB
	// ClassH is the 16-bit scalar view.
	ClassH
	// ClassS is the 32-bit scalar view.
	ClassS
	// ClassD is the 64-bit scalar view.
	ClassD
	// ClassQ is the full 128-bit vector view.
	ClassQ
)

// Bits returns the width of the class in bits.
func (c WidthClass) Bits() uint {
	switch c {
	case ClassX:
		return 64
	case ClassW:
		return 32
	case ClassB:
		return 8
	case ClassH:
		return 16
	case ClassS:
		return 32
	case ClassD:
		return 64
	case ClassQ:
		return 128
	default:
		return 0
	}
}

func (c WidthClass) String() string {
	switch c {
	case ClassX:
		return "x"
	case ClassW:
		return "w"
	case ClassB:
		return "b"
	case ClassH:
		return "h"
	case ClassS:
		return "s"
	case ClassD:
		return "d"
	case ClassQ:
		return "q"
	default:
		return "?"
	}
}

// Ref is a register slot viewed at a particular width.
type Ref struct {
	Reg   Reg
	Class WidthClass
}

// GP returns the Ref for general purpose register n (0..30) at the given view.
func GP(n int, c WidthClass) Ref {
	return Ref{Reg: X0 + Reg(n), Class: c}
}

// Vec returns the Ref for vector register n (0..31) at the given view.
func Vec(n int, c WidthClass) Ref {
	return Ref{Reg: V0 + Reg(n), Class: c}
}

// IsVector reports whether r names one of the V registers.
func (r Reg) IsVector() bool {
	return r >= V0 && r <= V31
}

// IsGP reports whether r names one of X0..X30 or SP.
func (r Reg) IsGP() bool {
	return (r >= X0 && r <= X30) || r == SP
}

func (r Reg) String() string {
	switch {
	case r >= X0 && r <= X30:
		return fmt.Sprintf("x%d", int(r-X0))
	case r == SP:
		return "sp"
	case r == PC:
		return "pc"
	case r == NZCV:
		return "nzcv"
	case r >= V0 && r <= V31:
		return fmt.Sprintf("v%d", int(r-V0))
	case r == BranchTaken:
		return "branch_taken"
	case r == NextPC:
		return "next_pc"
	default:
		return fmt.Sprintf("reg(%d)", int(r))
	}
}

// String renders the register at its viewed width, w3 / x3 / v3.d style.
func (ref Ref) String() string {
	switch {
	case ref.Reg >= X0 && ref.Reg <= X30:
		if ref.Class == ClassW {
			return fmt.Sprintf("w%d", int(ref.Reg-X0))
		}
		return fmt.Sprintf("x%d", int(ref.Reg-X0))
	case ref.Reg.IsVector():
		return fmt.Sprintf("v%d.%s", int(ref.Reg-V0), ref.Class)
	default:
		return ref.Reg.String()
	}
}
