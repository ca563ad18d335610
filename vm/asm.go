package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// AsmError reports a problem in assembler input.
type AsmError struct {
	Line int
	Msg  string
}

func (e *AsmError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

// Assemble translates mnemonic text into bytecode.
//
// One instruction per line. A ';' starts a comment. "name:" defines a
// label, optionally followed by an instruction on the same line. Branches
// take a label. Constant pool operands may be written "#n" or "n"; iinc
// takes "slot delta".
//
//	    iconst_0
//	    istore_1
//	loop:
//	    iload_0
//	    ifle done
//	    iload_1
//	    iload_0
//	    iadd
//	    istore_1
//	    iinc 0 -1
//	    goto loop
//	done:
//	    iload_1
//	    ireturn
func Assemble(src string) ([]byte, error) {
	b := NewBuilder()
	labels := make(map[string]*Label)
	label := func(name string) *Label {
		l, ok := labels[name]
		if !ok {
			l = b.NewNamedLabel(name)
			labels[name] = l
		}
		return l
	}

	for n, line := range strings.Split(src, "\n") {
		lineNo := n + 1
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)

		for {
			i := strings.IndexByte(line, ':')
			if i < 0 {
				break
			}
			name := strings.TrimSpace(line[:i])
			if !isIdent(name) {
				return nil, &AsmError{lineNo, fmt.Sprintf("bad label %q", name)}
			}
			if err := b.Mark(label(name)); err != nil {
				return nil, &AsmError{lineNo, err.Error()}
			}
			line = strings.TrimSpace(line[i+1:])
		}
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		op, ok := LookupOpcode(strings.ToLower(fields[0]))
		if !ok {
			return nil, &AsmError{lineNo, fmt.Sprintf("unknown mnemonic %q", fields[0])}
		}
		info, _ := op.Info()
		args := fields[1:]
		want := 0
		switch info.Operand {
		case OperandNone:
		case OperandIinc:
			want = 2
		default:
			want = 1
		}
		if len(args) != want {
			return nil, &AsmError{lineNo, fmt.Sprintf("%s takes %d operand(s), got %d", info.Name, want, len(args))}
		}

		var err error
		switch info.Operand {
		case OperandNone:
			b.Emit(op)
		case OperandInt8:
			var v int64
			if v, err = strconv.ParseInt(args[0], 0, 8); err == nil {
				b.EmitByte(op, byte(int8(v)))
			}
		case OperandInt16:
			var v int64
			if v, err = strconv.ParseInt(args[0], 0, 16); err == nil {
				b.EmitUint16(op, uint16(int16(v)))
			}
		case OperandLocal:
			var v uint64
			if v, err = strconv.ParseUint(args[0], 0, 8); err == nil {
				b.EmitByte(op, byte(v))
			}
		case OperandConst8:
			var v uint64
			if v, err = strconv.ParseUint(strings.TrimPrefix(args[0], "#"), 0, 8); err == nil {
				b.EmitByte(op, byte(v))
			}
		case OperandConst16:
			var v uint64
			if v, err = strconv.ParseUint(strings.TrimPrefix(args[0], "#"), 0, 16); err == nil {
				b.EmitUint16(op, uint16(v))
			}
		case OperandBranch:
			if !isIdent(args[0]) {
				return nil, &AsmError{lineNo, fmt.Sprintf("%s needs a label, got %q", info.Name, args[0])}
			}
			b.EmitBranch(op, label(args[0]))
		case OperandIinc:
			var slot uint64
			var delta int64
			if slot, err = strconv.ParseUint(args[0], 0, 8); err == nil {
				if delta, err = strconv.ParseInt(args[1], 0, 8); err == nil {
					b.EmitIinc(uint8(slot), int8(delta))
				}
			}
		}
		if err != nil {
			return nil, &AsmError{lineNo, fmt.Sprintf("%s: %v", info.Name, err)}
		}
	}

	code, err := b.Build()
	if err != nil {
		return nil, &AsmError{0, err.Error()}
	}
	return code, nil
}

// MustAssemble is like Assemble but panics on error.
func MustAssemble(src string) []byte {
	code, err := Assemble(src)
	if err != nil {
		panic(err)
	}
	return code
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '.' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
