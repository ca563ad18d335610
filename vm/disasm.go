package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns an assembler listing of m. Branch targets get
// generated labels, so the output assembles back to the same bytes.
// pool annotates constant operands and may be nil.
func Disassemble(m *Method, pool *ConstantPool) string {
	return DisassembleCode(m.Code, pool)
}

// DisassembleCode is Disassemble for raw code bytes.
func DisassembleCode(code []byte, pool *ConstantPool) string {
	var insns []Instruction
	labels := make(map[int]string)
	bad := -1
	for pc := 0; pc < len(code); {
		in, err := Decode(code, pc)
		if err != nil {
			bad = pc
			break
		}
		insns = append(insns, in)
		if in.Op.IsBranch() {
			labels[in.Target()] = fmt.Sprintf("L%04d", in.Target())
		}
		info, _ := in.Op.Info()
		pc += info.Len()
	}

	var sb strings.Builder
	for _, in := range insns {
		if l, ok := labels[in.Offset]; ok {
			sb.WriteString(l)
			sb.WriteString(":\n")
		}
		fmt.Fprintf(&sb, "    %-24s ; %04d", formatInstruction(in, nil, labels), in.Offset)
		if note := annotate(in, pool); note != "" {
			sb.WriteString("  ")
			sb.WriteString(note)
		}
		sb.WriteByte('\n')
	}
	if bad >= 0 {
		fmt.Fprintf(&sb, "    ; %04d  <undecodable 0x%02x>\n", bad, code[bad])
	}
	return sb.String()
}

// formatInstruction renders one instruction in assembler syntax. Branch
// targets use labels when present, else the absolute offset.
func formatInstruction(in Instruction, pool *ConstantPool, labels map[int]string) string {
	info, ok := in.Op.Info()
	if !ok {
		return in.Op.Name()
	}
	var s string
	switch info.Operand {
	case OperandNone:
		return info.Name
	case OperandInt8, OperandInt16, OperandLocal:
		s = fmt.Sprintf("%s %d", info.Name, in.Operand)
	case OperandConst8, OperandConst16:
		s = fmt.Sprintf("%s #%d", info.Name, in.Operand)
	case OperandBranch:
		if l, ok := labels[in.Target()]; ok {
			return info.Name + " " + l
		}
		return fmt.Sprintf("%s @%d", info.Name, in.Target())
	case OperandIinc:
		return fmt.Sprintf("%s %d %d", info.Name, in.Operand, in.Delta)
	}
	if note := annotate(in, pool); note != "" {
		s += " (" + note + ")"
	}
	return s
}

func annotate(in Instruction, pool *ConstantPool) string {
	if pool == nil {
		return ""
	}
	info, _ := in.Op.Info()
	if info.Operand != OperandConst8 && info.Operand != OperandConst16 {
		return ""
	}
	c, err := pool.Resolve(int(in.Operand))
	if err != nil {
		return "<invalid>"
	}
	return c.String()
}

// DisassembleClass returns a listing of a whole unit: constant pool,
// fields and every method.
func DisassembleClass(c *Class) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; unit %s\n", c.Name)
	if c.Pool.Len() > 0 {
		sb.WriteString("; constants:\n")
		for i, k := range c.Pool.Entries() {
			fmt.Fprintf(&sb, ";   #%-3d %s\n", i+1, k)
		}
	}
	if len(c.fields) > 0 {
		sb.WriteString("; fields:\n")
		for _, f := range c.fields {
			if f.Init != 0 {
				fmt.Fprintf(&sb, ";   static %s %s = #%d\n", f.Type, f.Name, f.Init)
			} else {
				fmt.Fprintf(&sb, ";   static %s %s\n", f.Type, f.Name)
			}
		}
	}
	for _, m := range c.order {
		fmt.Fprintf(&sb, "\n; method %s (locals %d, stack %d)\n", m.Signature(), m.MaxLocals, m.MaxStack)
		sb.WriteString(Disassemble(m, c.Pool))
	}
	return sb.String()
}
