package image

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/chazu/jolt/vm"
)

// ClassMagic opens every compiled class file.
const ClassMagic = 0xCAFEBABE

const accStatic = 0x0008

// Class-file constant pool tags beyond the four the engine executes.
const (
	cpUtf8               = 1
	cpFloat              = 4
	cpLong               = 5
	cpDouble             = 6
	cpString             = 8
	cpInterfaceMethodref = 11
	cpNameAndType        = 12
	cpMethodHandle       = 15
	cpMethodType         = 16
	cpDynamic            = 17
	cpInvokeDynamic      = 18
	cpModule             = 19
	cpPackage            = 20
)

// ErrNotClassFile is returned by ParseClass for input without the class
// file magic number.
var ErrNotClassFile = errors.New("not a class file")

// ParseClass decodes a compiled class file into a unit definition.
//
// Constant pool indexes are kept as they are in the file, so code bytes
// are carried over unchanged. Entries the engine has no use for become
// vm.TagUnused placeholders. Only static fields and static methods are
// kept; instance members and constructors are dropped. A field's
// ConstantValue attribute becomes its initializer and a method's Code
// attribute supplies its limits and bytecode.
func ParseClass(data []byte) (*vm.UnitDef, error) {
	r := &classReader{data: data}
	if r.u4() != ClassMagic {
		if r.err != nil {
			return nil, r.err
		}
		return nil, ErrNotClassFile
	}
	r.skip(4) // minor and major version

	cf := &classFile{}
	cf.readPool(r)
	r.skip(2) // access flags
	thisClass := r.u2()
	r.skip(2) // super class
	r.skip(2 * int(r.u2()))
	if r.err != nil {
		return nil, r.err
	}

	name, err := cf.className(thisClass)
	if err != nil {
		return nil, fmt.Errorf("this_class: %w", err)
	}
	def := &vm.UnitDef{Name: name}
	if def.Constants, err = cf.constants(); err != nil {
		return nil, fmt.Errorf("class %s: %w", name, err)
	}

	for n := int(r.u2()); n > 0 && r.err == nil; n-- {
		f, ok, err := cf.readField(r)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		if ok {
			def.Fields = append(def.Fields, f)
		}
	}
	for n := int(r.u2()); n > 0 && r.err == nil; n-- {
		m, ok, err := cf.readMethod(r)
		if err != nil {
			return nil, fmt.Errorf("class %s: %w", name, err)
		}
		if ok {
			def.Methods = append(def.Methods, m)
		}
	}
	cf.skipAttributes(r)
	if r.err != nil {
		return nil, fmt.Errorf("class %s: %w", name, r.err)
	}
	log.Debugf("parsed class %s: %d constants, %d static fields, %d static methods",
		name, len(def.Constants), len(def.Fields), len(def.Methods))
	return def, nil
}

// ---------------------------------------------------------------------------
// Byte reader
// ---------------------------------------------------------------------------

// classReader reads big-endian values and remembers the first overrun;
// later reads return zero.
type classReader struct {
	data []byte
	pos  int
	err  error
}

func (r *classReader) bytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.pos < n {
		r.err = fmt.Errorf("class file truncated at offset %d", r.pos)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *classReader) skip(n int) { r.bytes(n) }

func (r *classReader) u1() uint8 {
	if b := r.bytes(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *classReader) u2() uint16 {
	if b := r.bytes(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *classReader) u4() uint32 {
	if b := r.bytes(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

// ---------------------------------------------------------------------------
// Constant pool
// ---------------------------------------------------------------------------

// cpEntry is a raw pool entry. a and b hold the index operands of
// reference entries.
type cpEntry struct {
	tag  uint8
	utf8 string
	n    int32
	a, b uint16
}

type classFile struct {
	pool []cpEntry // pool[0] is index 1
}

func (cf *classFile) readPool(r *classReader) {
	count := int(r.u2())
	if count == 0 {
		r.err = errors.New("constant pool count is zero")
		return
	}
	cf.pool = make([]cpEntry, 0, count-1)
	for len(cf.pool) < count-1 && r.err == nil {
		e := cpEntry{tag: r.u1()}
		switch e.tag {
		case cpUtf8:
			// Modified UTF-8 matches UTF-8 for every name the engine
			// resolves.
			e.utf8 = string(r.bytes(int(r.u2())))
		case uint8(vm.TagInteger):
			e.n = int32(r.u4())
		case cpFloat:
			r.skip(4)
		case cpLong, cpDouble:
			r.skip(8)
			// Eight-byte constants take two slots.
			cf.pool = append(cf.pool, e, cpEntry{})
			continue
		case uint8(vm.TagClass), cpString, cpMethodType, cpModule, cpPackage:
			e.a = r.u2()
		case uint8(vm.TagFieldref), uint8(vm.TagMethodref), cpInterfaceMethodref,
			cpNameAndType, cpDynamic, cpInvokeDynamic:
			e.a, e.b = r.u2(), r.u2()
		case cpMethodHandle:
			r.skip(3)
		default:
			if r.err == nil {
				r.err = fmt.Errorf("constant #%d has unknown tag %d", len(cf.pool)+1, e.tag)
			}
			return
		}
		cf.pool = append(cf.pool, e)
	}
}

func (cf *classFile) entry(index uint16, tag uint8) (cpEntry, error) {
	if index == 0 || int(index) > len(cf.pool) {
		return cpEntry{}, fmt.Errorf("constant index %d outside pool of %d entries", index, len(cf.pool))
	}
	e := cf.pool[index-1]
	if e.tag != tag {
		return cpEntry{}, fmt.Errorf("constant #%d has tag %d, want %d", index, e.tag, tag)
	}
	return e, nil
}

func (cf *classFile) utf8(index uint16) (string, error) {
	e, err := cf.entry(index, cpUtf8)
	return e.utf8, err
}

func (cf *classFile) className(index uint16) (string, error) {
	e, err := cf.entry(index, uint8(vm.TagClass))
	if err != nil {
		return "", err
	}
	return cf.utf8(e.a)
}

func (cf *classFile) nameAndType(index uint16) (name, desc string, err error) {
	e, err := cf.entry(index, cpNameAndType)
	if err != nil {
		return "", "", err
	}
	if name, err = cf.utf8(e.a); err != nil {
		return "", "", err
	}
	desc, err = cf.utf8(e.b)
	return name, desc, err
}

// constants flattens the pool into engine constants at the same indexes.
func (cf *classFile) constants() ([]vm.Constant, error) {
	out := make([]vm.Constant, len(cf.pool))
	for i, e := range cf.pool {
		switch vm.Tag(e.tag) {
		case vm.TagInteger:
			out[i] = vm.IntegerConst(e.n)
		case vm.TagClass:
			name, err := cf.utf8(e.a)
			if err != nil {
				return nil, fmt.Errorf("constant #%d: %w", i+1, err)
			}
			out[i] = vm.ClassConst(name)
		case vm.TagFieldref, vm.TagMethodref:
			class, err := cf.className(e.a)
			if err != nil {
				return nil, fmt.Errorf("constant #%d: %w", i+1, err)
			}
			name, desc, err := cf.nameAndType(e.b)
			if err != nil {
				return nil, fmt.Errorf("constant #%d: %w", i+1, err)
			}
			out[i] = vm.Constant{Tag: vm.Tag(e.tag), Class: class, Name: name, Descriptor: desc}
		default:
			out[i] = vm.Constant{Tag: vm.TagUnused}
		}
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Members
// ---------------------------------------------------------------------------

// member reads the header shared by field_info and method_info.
func (cf *classFile) member(r *classReader) (flags uint16, name, desc string, err error) {
	flags = r.u2()
	nameIdx, descIdx := r.u2(), r.u2()
	if r.err != nil {
		return 0, "", "", r.err
	}
	if name, err = cf.utf8(nameIdx); err != nil {
		return 0, "", "", err
	}
	desc, err = cf.utf8(descIdx)
	return flags, name, desc, err
}

// attributes calls fn with the name and body of each attribute.
func (cf *classFile) attributes(r *classReader, fn func(name string, body []byte) error) error {
	for n := int(r.u2()); n > 0 && r.err == nil; n-- {
		nameIdx := r.u2()
		body := r.bytes(int(r.u4()))
		if r.err != nil {
			break
		}
		name, err := cf.utf8(nameIdx)
		if err != nil {
			return fmt.Errorf("attribute name: %w", err)
		}
		if err := fn(name, body); err != nil {
			return err
		}
	}
	return r.err
}

func (cf *classFile) skipAttributes(r *classReader) {
	_ = cf.attributes(r, func(string, []byte) error { return nil })
}

func (cf *classFile) readField(r *classReader) (vm.FieldDef, bool, error) {
	flags, name, desc, err := cf.member(r)
	if err != nil {
		return vm.FieldDef{}, false, err
	}
	static := flags&accStatic != 0
	f := vm.FieldDef{Name: name}
	err = cf.attributes(r, func(attr string, body []byte) error {
		if !static || attr != "ConstantValue" {
			return nil
		}
		if len(body) != 2 {
			return fmt.Errorf("field %s: ConstantValue of %d bytes", name, len(body))
		}
		f.Init = binary.BigEndian.Uint16(body)
		return nil
	})
	if err != nil || !static {
		return vm.FieldDef{}, false, err
	}
	if f.Type, err = vm.ParseFieldDescriptor(desc); err != nil {
		return vm.FieldDef{}, false, fmt.Errorf("field %s: %w", name, err)
	}
	return f, true, nil
}

func (cf *classFile) readMethod(r *classReader) (vm.MethodDef, bool, error) {
	flags, name, desc, err := cf.member(r)
	if err != nil {
		return vm.MethodDef{}, false, err
	}
	static := flags&accStatic != 0
	m := vm.MethodDef{Name: name, Descriptor: desc}
	hasCode := false
	err = cf.attributes(r, func(attr string, body []byte) error {
		if !static || attr != "Code" {
			return nil
		}
		hasCode = true
		return cf.readCode(&m, body)
	})
	if err != nil {
		return vm.MethodDef{}, false, err
	}
	if !static {
		log.Debugf("skipping instance method %s%s", name, desc)
		return vm.MethodDef{}, false, nil
	}
	if !hasCode {
		return vm.MethodDef{}, false, fmt.Errorf("static method %s%s has no Code attribute", name, desc)
	}
	return m, true, nil
}

// readCode fills m from a Code attribute body.
func (cf *classFile) readCode(m *vm.MethodDef, body []byte) error {
	r := &classReader{data: body}
	m.MaxStack = int(r.u2())
	m.MaxLocals = int(r.u2())
	m.Code = append([]byte(nil), r.bytes(int(r.u4()))...)
	if handlers := r.u2(); handlers != 0 && r.err == nil {
		return fmt.Errorf("method %s%s: exception handlers are not supported", m.Name, m.Descriptor)
	}
	cf.skipAttributes(r)
	if r.err != nil {
		return fmt.Errorf("method %s%s: Code: %w", m.Name, m.Descriptor, r.err)
	}
	return nil
}
