package vm

import (
	"fmt"
	"strings"
)

// Descriptor is a parsed method descriptor such as "(IZ)I".
type Descriptor struct {
	Args   []Kind
	Return Kind
	raw    string
}

// ParseDescriptor parses a method descriptor. Argument letters I and Z are
// accepted, plus B, S and C which are carried as int. The return letter may
// additionally be V.
func ParseDescriptor(s string) (Descriptor, error) {
	if len(s) < 3 || s[0] != '(' {
		return Descriptor{}, fmt.Errorf("malformed descriptor %q", s)
	}
	end := strings.IndexByte(s, ')')
	if end < 0 || end != len(s)-2 {
		return Descriptor{}, fmt.Errorf("malformed descriptor %q", s)
	}
	d := Descriptor{raw: s}
	for i := 1; i < end; i++ {
		k, ok := fieldKind(s[i])
		if !ok {
			return Descriptor{}, fmt.Errorf("descriptor %q: unsupported argument type %q", s, s[i])
		}
		d.Args = append(d.Args, k)
	}
	switch r := s[end+1]; r {
	case 'V':
		d.Return = KindVoid
	default:
		k, ok := fieldKind(r)
		if !ok {
			return Descriptor{}, fmt.Errorf("descriptor %q: unsupported return type %q", s, r)
		}
		d.Return = k
	}
	return d, nil
}

// ParseFieldDescriptor parses a field type descriptor ("I" or "Z").
func ParseFieldDescriptor(s string) (Kind, error) {
	if len(s) == 1 {
		if k, ok := fieldKind(s[0]); ok {
			return k, nil
		}
	}
	return KindVoid, fmt.Errorf("unsupported field descriptor %q", s)
}

func fieldKind(c byte) (Kind, bool) {
	switch c {
	case 'I', 'B', 'S', 'C':
		return KindInt, true
	case 'Z':
		return KindBool, true
	}
	return KindVoid, false
}

// String returns the descriptor text.
func (d Descriptor) String() string {
	return d.raw
}

// ArgSlots returns the number of local slots the arguments occupy.
func (d Descriptor) ArgSlots() int {
	return len(d.Args)
}

// Signature identifies a method within a unit.
type Signature struct {
	Name       string
	Descriptor string
}

// Sig is shorthand for constructing a Signature.
func Sig(name, descriptor string) Signature {
	return Signature{Name: name, Descriptor: descriptor}
}

// ParseSignature parses "name:desc" or "name(desc)ret" forms.
func ParseSignature(s string) (Signature, error) {
	if i := strings.IndexByte(s, ':'); i > 0 {
		return Sig(s[:i], s[i+1:]), nil
	}
	if i := strings.IndexByte(s, '('); i > 0 {
		return Sig(s[:i], s[i:]), nil
	}
	return Signature{}, fmt.Errorf("malformed signature %q: want name:descriptor", s)
}

func (s Signature) String() string {
	return s.Name + ":" + s.Descriptor
}

// InitializerSignature is the signature of a unit's static initializer.
var InitializerSignature = Sig("<clinit>", "()V")
