package vm

import "strconv"

// Kind identifies what a Value carries.
type Kind uint8

const (
	KindVoid Kind = iota // no value (void methods)
	KindInt              // 32-bit signed integer
	KindBool             // boolean
)

// String returns the source-level name of the kind.
func (k Kind) String() string {
	switch k {
	case KindVoid:
		return "void"
	case KindInt:
		return "int"
	case KindBool:
		return "boolean"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Descriptor returns the single-letter descriptor for the kind.
func (k Kind) Descriptor() byte {
	switch k {
	case KindInt:
		return 'I'
	case KindBool:
		return 'Z'
	default:
		return 'V'
	}
}

// ParseKind maps a source-level type name ("int", "boolean") or a
// descriptor letter to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch s {
	case "int", "I":
		return KindInt, true
	case "boolean", "bool", "Z":
		return KindBool, true
	case "void", "V":
		return KindVoid, true
	}
	return KindVoid, false
}

// ---------------------------------------------------------------------------
// Value
// ---------------------------------------------------------------------------

// Value is a tagged engine value. Inside a frame every value is a plain
// int32 (booleans are 0 or 1); Values only appear at the boundaries:
// invocation arguments, return values, and static storage.
type Value struct {
	kind Kind
	bits int32
}

// Well-known values.
var (
	Void  = Value{}
	True  = Value{kind: KindBool, bits: 1}
	False = Value{kind: KindBool, bits: 0}
)

// Int returns an integer value.
func Int(n int32) Value {
	return Value{kind: KindInt, bits: n}
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Zero returns the language default for a kind: 0 or false.
func Zero(k Kind) Value {
	switch k {
	case KindInt:
		return Int(0)
	case KindBool:
		return False
	}
	return Void
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind { return v.kind }

// IsVoid reports whether v carries no value.
func (v Value) IsVoid() bool { return v.kind == KindVoid }

// Int returns the value as an int32. Booleans map to 0 and 1.
func (v Value) Int() int32 { return v.bits }

// Bool returns the value as a boolean (non-zero is true).
func (v Value) Bool() bool { return v.bits != 0 }

// As narrows v to kind k. Conversion to boolean keeps only the low bit,
// the same narrowing the compiled format applies when an int is stored
// into a boolean slot.
func (v Value) As(k Kind) Value {
	switch k {
	case KindInt:
		return Int(v.bits)
	case KindBool:
		return Bool(v.bits&1 != 0)
	}
	return Void
}

// String formats the value for listings and logs.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(int64(v.bits), 10)
	case KindBool:
		return strconv.FormatBool(v.bits != 0)
	}
	return "void"
}
