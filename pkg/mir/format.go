package mir

import (
	"fmt"
	"strings"
)

// OpcodeNamer renders an opcode; targets supply their own to cover the
// range above ArchStart.
type OpcodeNamer func(Opcode) string

// String renders the function with generic opcode names
func (f *Function) String() string {
	return f.Format(GenericName)
}

// Format renders the function using the given opcode namer
func (f *Function) Format(name OpcodeNamer) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "mfunc %s | %d locals\n", f.Name, len(f.Locals))
	for n, l := range f.Locals {
		fmt.Fprintf(&sb, "  local %d: %d bytes\n", n, l.Size)
	}
	for _, b := range f.Blocks {
		fmt.Fprintf(&sb, "%s(%d):\n", b.Name, b.ID)
		for _, i := range b.Insts {
			sb.WriteString("  ")
			sb.WriteString(i.Format(name))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Format renders one instruction
func (i Inst) Format(name OpcodeNamer) string {
	var sb strings.Builder
	if i.Def != 0 {
		fmt.Fprintf(&sb, "%s = ", regName(i.Def, i.DefSize))
	}
	sb.WriteString(name(i.Opcode))
	for n, op := range i.Operands {
		if n == 0 {
			sb.WriteString(" ")
		} else {
			sb.WriteString(", ")
		}
		sb.WriteString(op.String())
	}
	return sb.String()
}

func (o Operand) String() string {
	switch o.Kind {
	case KindRegister:
		return regName(o.Reg, o.Size)
	case KindImmediate:
		return fmt.Sprintf("$%d", int64(o.Imm))
	case KindLocal:
		return fmt.Sprintf("local(%d)", o.Local)
	case KindGlobal:
		return "@" + o.Global
	case KindBlock:
		return fmt.Sprintf("block(%d)", o.Block)
	case KindFunction:
		return "fn:" + o.Func
	}
	return "?"
}

func regName(id uint32, size int) string {
	if IsVirtualReg(id) {
		return fmt.Sprintf("v%d.%d", id-FirstVirtualReg, size)
	}
	return fmt.Sprintf("r%d.%d", id, size)
}
