package vm

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode represents a single bytecode instruction. Numbering and operand
// layout follow the class-file instruction set so compiled fixtures can be
// carried over byte for byte. Operands are big-endian.
type Opcode byte

// Constants
const (
	OpNop      Opcode = 0x00 // no operation
	OpIconstM1 Opcode = 0x02 // push -1
	OpIconst0  Opcode = 0x03 // push 0
	OpIconst1  Opcode = 0x04 // push 1
	OpIconst2  Opcode = 0x05 // push 2
	OpIconst3  Opcode = 0x06 // push 3
	OpIconst4  Opcode = 0x07 // push 4
	OpIconst5  Opcode = 0x08 // push 5
	OpBipush   Opcode = 0x10 // push sign-extended 8-bit immediate
	OpSipush   Opcode = 0x11 // push sign-extended 16-bit immediate
	OpLdc      Opcode = 0x12 // push integer constant (8-bit pool index)
	OpLdcW     Opcode = 0x13 // push integer constant (16-bit pool index)
)

// Locals
const (
	OpIload   Opcode = 0x15 // push local (8-bit slot)
	OpIload0  Opcode = 0x1A // push local 0
	OpIload1  Opcode = 0x1B // push local 1
	OpIload2  Opcode = 0x1C // push local 2
	OpIload3  Opcode = 0x1D // push local 3
	OpIstore  Opcode = 0x36 // pop into local (8-bit slot)
	OpIstore0 Opcode = 0x3B // pop into local 0
	OpIstore1 Opcode = 0x3C // pop into local 1
	OpIstore2 Opcode = 0x3D // pop into local 2
	OpIstore3 Opcode = 0x3E // pop into local 3
	OpIinc    Opcode = 0x84 // add signed 8-bit immediate to local (slot, delta)
)

// Stack
const (
	OpPop  Opcode = 0x57 // discard top of stack
	OpDup  Opcode = 0x59 // duplicate top of stack
	OpSwap Opcode = 0x5F // swap top two
)

// Arithmetic
const (
	OpIadd  Opcode = 0x60
	OpIsub  Opcode = 0x64
	OpImul  Opcode = 0x68
	OpIdiv  Opcode = 0x6C
	OpIrem  Opcode = 0x70
	OpIneg  Opcode = 0x74
	OpIshl  Opcode = 0x78
	OpIshr  Opcode = 0x7A
	OpIushr Opcode = 0x7C
	OpIand  Opcode = 0x7E
	OpIor   Opcode = 0x80
	OpIxor  Opcode = 0x82
)

// Control flow (16-bit offset relative to the branch opcode)
const (
	OpIfeq     Opcode = 0x99
	OpIfne     Opcode = 0x9A
	OpIflt     Opcode = 0x9B
	OpIfge     Opcode = 0x9C
	OpIfgt     Opcode = 0x9D
	OpIfle     Opcode = 0x9E
	OpIfIcmpeq Opcode = 0x9F
	OpIfIcmpne Opcode = 0xA0
	OpIfIcmplt Opcode = 0xA1
	OpIfIcmpge Opcode = 0xA2
	OpIfIcmpgt Opcode = 0xA3
	OpIfIcmple Opcode = 0xA4
	OpGoto     Opcode = 0xA7
)

// Returns, statics and calls
const (
	OpIreturn      Opcode = 0xAC // return int/boolean
	OpReturn       Opcode = 0xB1 // return void
	OpGetstatic    Opcode = 0xB2 // push static field (16-bit Fieldref index)
	OpPutstatic    Opcode = 0xB3 // pop into static field (16-bit Fieldref index)
	OpInvokestatic Opcode = 0xB8 // call static method (16-bit Methodref index)
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind describes the operand layout that follows an opcode.
type OperandKind uint8

const (
	OperandNone    OperandKind = iota
	OperandInt8                // signed immediate (bipush)
	OperandInt16               // signed immediate (sipush)
	OperandLocal               // unsigned 8-bit local slot
	OperandConst8              // unsigned 8-bit constant pool index
	OperandConst16             // unsigned 16-bit constant pool index
	OperandBranch              // signed 16-bit branch offset
	OperandIinc                // local slot + signed 8-bit delta
)

// Size returns the number of operand bytes for the kind.
func (k OperandKind) Size() int {
	switch k {
	case OperandInt8, OperandLocal, OperandConst8:
		return 1
	case OperandInt16, OperandConst16, OperandBranch, OperandIinc:
		return 2
	}
	return 0
}

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name    string      // assembler mnemonic
	Operand OperandKind // operand layout
	Pops    int         // operand stack values consumed (-1 = depends on the reference)
	Pushes  int         // operand stack values produced (-1 = depends on the reference)
}

// Len returns the encoded instruction length including the opcode byte.
func (i OpcodeInfo) Len() int {
	return 1 + i.Operand.Size()
}

// opcodeTable maps opcodes to their metadata.
var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:      {"nop", OperandNone, 0, 0},
	OpIconstM1: {"iconst_m1", OperandNone, 0, 1},
	OpIconst0:  {"iconst_0", OperandNone, 0, 1},
	OpIconst1:  {"iconst_1", OperandNone, 0, 1},
	OpIconst2:  {"iconst_2", OperandNone, 0, 1},
	OpIconst3:  {"iconst_3", OperandNone, 0, 1},
	OpIconst4:  {"iconst_4", OperandNone, 0, 1},
	OpIconst5:  {"iconst_5", OperandNone, 0, 1},
	OpBipush:   {"bipush", OperandInt8, 0, 1},
	OpSipush:   {"sipush", OperandInt16, 0, 1},
	OpLdc:      {"ldc", OperandConst8, 0, 1},
	OpLdcW:     {"ldc_w", OperandConst16, 0, 1},

	OpIload:   {"iload", OperandLocal, 0, 1},
	OpIload0:  {"iload_0", OperandNone, 0, 1},
	OpIload1:  {"iload_1", OperandNone, 0, 1},
	OpIload2:  {"iload_2", OperandNone, 0, 1},
	OpIload3:  {"iload_3", OperandNone, 0, 1},
	OpIstore:  {"istore", OperandLocal, 1, 0},
	OpIstore0: {"istore_0", OperandNone, 1, 0},
	OpIstore1: {"istore_1", OperandNone, 1, 0},
	OpIstore2: {"istore_2", OperandNone, 1, 0},
	OpIstore3: {"istore_3", OperandNone, 1, 0},
	OpIinc:    {"iinc", OperandIinc, 0, 0},

	OpPop:  {"pop", OperandNone, 1, 0},
	OpDup:  {"dup", OperandNone, 1, 2},
	OpSwap: {"swap", OperandNone, 2, 2},

	OpIadd:  {"iadd", OperandNone, 2, 1},
	OpIsub:  {"isub", OperandNone, 2, 1},
	OpImul:  {"imul", OperandNone, 2, 1},
	OpIdiv:  {"idiv", OperandNone, 2, 1},
	OpIrem:  {"irem", OperandNone, 2, 1},
	OpIneg:  {"ineg", OperandNone, 1, 1},
	OpIshl:  {"ishl", OperandNone, 2, 1},
	OpIshr:  {"ishr", OperandNone, 2, 1},
	OpIushr: {"iushr", OperandNone, 2, 1},
	OpIand:  {"iand", OperandNone, 2, 1},
	OpIor:   {"ior", OperandNone, 2, 1},
	OpIxor:  {"ixor", OperandNone, 2, 1},

	OpIfeq:     {"ifeq", OperandBranch, 1, 0},
	OpIfne:     {"ifne", OperandBranch, 1, 0},
	OpIflt:     {"iflt", OperandBranch, 1, 0},
	OpIfge:     {"ifge", OperandBranch, 1, 0},
	OpIfgt:     {"ifgt", OperandBranch, 1, 0},
	OpIfle:     {"ifle", OperandBranch, 1, 0},
	OpIfIcmpeq: {"if_icmpeq", OperandBranch, 2, 0},
	OpIfIcmpne: {"if_icmpne", OperandBranch, 2, 0},
	OpIfIcmplt: {"if_icmplt", OperandBranch, 2, 0},
	OpIfIcmpge: {"if_icmpge", OperandBranch, 2, 0},
	OpIfIcmpgt: {"if_icmpgt", OperandBranch, 2, 0},
	OpIfIcmple: {"if_icmple", OperandBranch, 2, 0},
	OpGoto:     {"goto", OperandBranch, 0, 0},

	OpIreturn:      {"ireturn", OperandNone, 1, 0},
	OpReturn:       {"return", OperandNone, 0, 0},
	OpGetstatic:    {"getstatic", OperandConst16, 0, 1},
	OpPutstatic:    {"putstatic", OperandConst16, 1, 0},
	OpInvokestatic: {"invokestatic", OperandConst16, -1, -1},
}

// mnemonics is the reverse of opcodeTable, used by the assembler.
var mnemonics = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode and whether it is supported.
func (op Opcode) Info() (OpcodeInfo, bool) {
	info, ok := opcodeTable[op]
	return info, ok
}

// Name returns the mnemonic for an opcode.
func (op Opcode) Name() string {
	if info, ok := opcodeTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("unknown_%02x", byte(op))
}

// String implements the Stringer interface.
func (op Opcode) String() string {
	return op.Name()
}

// IsBranch reports whether op carries a branch offset.
func (op Opcode) IsBranch() bool {
	info, ok := opcodeTable[op]
	return ok && info.Operand == OperandBranch
}

// IsReturn reports whether op ends the current frame.
func (op Opcode) IsReturn() bool {
	return op == OpIreturn || op == OpReturn
}

// implicitSlot returns the local slot encoded in the short load/store forms.
func (op Opcode) implicitSlot() (int, bool) {
	switch {
	case op >= OpIload0 && op <= OpIload3:
		return int(op - OpIload0), true
	case op >= OpIstore0 && op <= OpIstore3:
		return int(op - OpIstore0), true
	}
	return 0, false
}

// LookupOpcode returns the opcode for an assembler mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := mnemonics[name]
	return op, ok
}

// ---------------------------------------------------------------------------
// Builder: helper for constructing bytecode
// ---------------------------------------------------------------------------

// Builder helps construct bytecode sequences with forward and backward
// branches.
type Builder struct {
	bytes  []byte
	labels []*Label
	err    error // first branch that could not be encoded
}

// NewBuilder creates a new bytecode builder.
func NewBuilder() *Builder {
	return &Builder{
		bytes: make([]byte, 0, 64),
	}
}

// Len returns the current length.
func (b *Builder) Len() int {
	return len(b.bytes)
}

// Emit appends an opcode with no operands.
func (b *Builder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitByte appends an opcode with a single unsigned byte operand.
func (b *Builder) EmitByte(op Opcode, operand byte) {
	b.bytes = append(b.bytes, byte(op), operand)
}

// EmitUint16 appends an opcode with a 16-bit operand (big-endian).
func (b *Builder) EmitUint16(op Opcode, operand uint16) {
	b.bytes = append(b.bytes, byte(op), byte(operand>>8), byte(operand))
}

// EmitLoad pushes a local, using the short form for slots 0-3.
func (b *Builder) EmitLoad(slot uint8) {
	if slot <= 3 {
		b.Emit(OpIload0 + Opcode(slot))
		return
	}
	b.EmitByte(OpIload, slot)
}

// EmitStore pops into a local, using the short form for slots 0-3.
func (b *Builder) EmitStore(slot uint8) {
	if slot <= 3 {
		b.Emit(OpIstore0 + Opcode(slot))
		return
	}
	b.EmitByte(OpIstore, slot)
}

// EmitInt pushes a small integer using the shortest encoding. Values outside
// the 16-bit range need a pool constant and ldc.
func (b *Builder) EmitInt(n int32) {
	switch {
	case n >= -1 && n <= 5:
		b.Emit(OpIconst0 + Opcode(n))
	case n >= -128 && n <= 127:
		b.EmitByte(OpBipush, byte(int8(n)))
	case n >= -32768 && n <= 32767:
		b.EmitUint16(OpSipush, uint16(int16(n)))
	default:
		panic(fmt.Sprintf("EmitInt: %d does not fit an immediate; use a pool constant", n))
	}
}

// EmitConst pushes a pool constant, picking ldc or ldc_w by index width.
func (b *Builder) EmitConst(index uint16) {
	if index <= 0xFF {
		b.EmitByte(OpLdc, byte(index))
		return
	}
	b.EmitUint16(OpLdcW, index)
}

// EmitIinc appends an iinc instruction.
func (b *Builder) EmitIinc(slot uint8, delta int8) {
	b.bytes = append(b.bytes, byte(OpIinc), slot, byte(delta))
}

// ---------------------------------------------------------------------------
// Label management for branches
// ---------------------------------------------------------------------------

// Label is a branch target that may be referenced before it is placed.
type Label struct {
	Name     string
	resolved bool
	position int   // target offset once resolved
	refs     []int // opcode offsets of branches waiting for this label
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel() *Label {
	return b.NewNamedLabel("")
}

// NewNamedLabel creates an unresolved label with a name for error messages.
func (b *Builder) NewNamedLabel(name string) *Label {
	l := &Label{Name: name}
	b.labels = append(b.labels, l)
	return l
}

// Resolved reports whether the label has been placed.
func (l *Label) Resolved() bool {
	return l.resolved
}

// Mark resolves a label to the current position and patches earlier
// references to it.
func (b *Builder) Mark(label *Label) error {
	if label.resolved {
		return fmt.Errorf("label %q already placed at %d", label.Name, label.position)
	}
	label.resolved = true
	label.position = len(b.bytes)
	for _, ref := range label.refs {
		if err := b.patch(ref, label.position); err != nil {
			return err
		}
	}
	label.refs = nil
	return nil
}

// EmitBranch emits a branch instruction targeting label.
func (b *Builder) EmitBranch(op Opcode, label *Label) {
	at := len(b.bytes)
	b.bytes = append(b.bytes, byte(op), 0, 0)
	if label.resolved {
		if err := b.patch(at, label.position); err != nil && b.err == nil {
			b.err = err
		}
		return
	}
	label.refs = append(label.refs, at)
}

func (b *Builder) patch(at, target int) error {
	offset := target - at
	if offset < -32768 || offset > 32767 {
		return fmt.Errorf("branch at %d to %d out of 16-bit range", at, target)
	}
	binary.BigEndian.PutUint16(b.bytes[at+1:], uint16(int16(offset)))
	return nil
}

// Build returns the constructed bytecode, failing if a branch was out of
// range or any label that was branched to was never placed.
func (b *Builder) Build() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			name := l.Name
			if name == "" {
				name = "<anonymous>"
			}
			return nil, fmt.Errorf("undefined label %s", name)
		}
	}
	out := make([]byte, len(b.bytes))
	copy(out, b.bytes)
	return out, nil
}

// ---------------------------------------------------------------------------
// Instruction decoding
// ---------------------------------------------------------------------------

// Instruction is one decoded instruction.
type Instruction struct {
	Offset  int
	Op      Opcode
	Operand int32 // immediate, slot, pool index or branch offset
	Delta   int32 // iinc increment
}

// Target returns the absolute branch target of a branch instruction.
func (in Instruction) Target() int {
	return in.Offset + int(in.Operand)
}

// Decode decodes the instruction at offset pc. It reports an error for an
// unknown opcode or truncated operands.
func Decode(code []byte, pc int) (Instruction, error) {
	if pc < 0 || pc >= len(code) {
		return Instruction{}, fmt.Errorf("offset %d outside code of length %d", pc, len(code))
	}
	op := Opcode(code[pc])
	info, ok := opcodeTable[op]
	if !ok {
		return Instruction{}, fmt.Errorf("unknown opcode 0x%02x at %d", byte(op), pc)
	}
	if pc+info.Len() > len(code) {
		return Instruction{}, fmt.Errorf("truncated %s at %d", info.Name, pc)
	}
	in := Instruction{Offset: pc, Op: op}
	operands := code[pc+1 : pc+info.Len()]
	switch info.Operand {
	case OperandInt8:
		in.Operand = int32(int8(operands[0]))
	case OperandInt16:
		in.Operand = int32(int16(binary.BigEndian.Uint16(operands)))
	case OperandLocal, OperandConst8:
		in.Operand = int32(operands[0])
	case OperandConst16:
		in.Operand = int32(binary.BigEndian.Uint16(operands))
	case OperandBranch:
		in.Operand = int32(int16(binary.BigEndian.Uint16(operands)))
	case OperandIinc:
		in.Operand = int32(operands[0])
		in.Delta = int32(int8(operands[1]))
	default:
		if slot, ok := op.implicitSlot(); ok {
			in.Operand = int32(slot)
		}
	}
	return in, nil
}
