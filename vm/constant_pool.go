package vm

import "fmt"

// Tag identifies the kind of a constant pool entry. Values match the
// compiled class-file format.
type Tag uint8

const (
	// TagUnused holds the place of a compiled constant the engine never
	// resolves, such as a string or a name-and-type entry.
	TagUnused    Tag = 0
	TagInteger   Tag = 3
	TagClass     Tag = 7
	TagFieldref  Tag = 9
	TagMethodref Tag = 10
)

func (t Tag) String() string {
	switch t {
	case TagInteger:
		return "Integer"
	case TagClass:
		return "Class"
	case TagFieldref:
		return "Fieldref"
	case TagMethodref:
		return "Methodref"
	case TagUnused:
		return "Unused"
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// ParseTag maps a tag name to a Tag.
func ParseTag(s string) (Tag, bool) {
	switch s {
	case "Integer", "int":
		return TagInteger, true
	case "Class", "class":
		return TagClass, true
	case "Fieldref", "field":
		return TagFieldref, true
	case "Methodref", "method":
		return TagMethodref, true
	case "Unused", "unused":
		return TagUnused, true
	}
	return 0, false
}

// Constant is one constant pool entry. Which fields are meaningful depends
// on Tag: Integer uses Int, Class uses Class, Fieldref and Methodref use
// Class, Name and Descriptor.
type Constant struct {
	Tag        Tag
	Int        int32
	Class      string
	Name       string
	Descriptor string
}

// IntegerConst returns an Integer constant.
func IntegerConst(n int32) Constant {
	return Constant{Tag: TagInteger, Int: n}
}

// ClassConst returns a Class constant.
func ClassConst(name string) Constant {
	return Constant{Tag: TagClass, Class: name}
}

// FieldrefConst returns a Fieldref constant.
func FieldrefConst(class, name, descriptor string) Constant {
	return Constant{Tag: TagFieldref, Class: class, Name: name, Descriptor: descriptor}
}

// MethodrefConst returns a Methodref constant.
func MethodrefConst(class, name, descriptor string) Constant {
	return Constant{Tag: TagMethodref, Class: class, Name: name, Descriptor: descriptor}
}

// String formats the constant the way the disassembler prints it.
func (c Constant) String() string {
	switch c.Tag {
	case TagInteger:
		return fmt.Sprintf("Integer %d", c.Int)
	case TagClass:
		return "Class " + c.Class
	case TagFieldref, TagMethodref:
		return fmt.Sprintf("%s %s.%s:%s", c.Tag, c.Class, c.Name, c.Descriptor)
	}
	return c.Tag.String()
}

// ConstantPool is the immutable, 1-indexed constant table of a unit.
type ConstantPool struct {
	entries []Constant // entries[0] is index 1
}

// NewConstantPool copies entries into a pool. entries[0] becomes index 1.
func NewConstantPool(entries []Constant) *ConstantPool {
	cp := &ConstantPool{entries: make([]Constant, len(entries))}
	copy(cp.entries, entries)
	return cp
}

// Len returns the number of entries.
func (cp *ConstantPool) Len() int {
	return len(cp.entries)
}

// Entries returns a copy of the entries in index order.
func (cp *ConstantPool) Entries() []Constant {
	out := make([]Constant, len(cp.entries))
	copy(out, cp.entries)
	return out
}

// Resolve returns the entry at a 1-based index.
func (cp *ConstantPool) Resolve(index int) (Constant, error) {
	if index < 1 || index > len(cp.entries) {
		return Constant{}, &Fault{
			Kind:   InvalidConstantReference,
			PC:     -1,
			Detail: fmt.Sprintf("index %d outside pool of %d entries", index, len(cp.entries)),
		}
	}
	return cp.entries[index-1], nil
}

func (cp *ConstantPool) resolveTag(index int, tag Tag) (Constant, error) {
	c, err := cp.Resolve(index)
	if err != nil {
		return Constant{}, err
	}
	if c.Tag != tag {
		return Constant{}, &Fault{
			Kind:   InvalidConstantReference,
			PC:     -1,
			Detail: fmt.Sprintf("index %d is %s, want %s", index, c.Tag, tag),
		}
	}
	return c, nil
}

// Integer resolves an Integer constant.
func (cp *ConstantPool) Integer(index int) (int32, error) {
	c, err := cp.resolveTag(index, TagInteger)
	return c.Int, err
}

// ClassRef resolves a Class constant to its class name.
func (cp *ConstantPool) ClassRef(index int) (string, error) {
	c, err := cp.resolveTag(index, TagClass)
	return c.Class, err
}

// Fieldref resolves a Fieldref constant.
func (cp *ConstantPool) Fieldref(index int) (Constant, error) {
	return cp.resolveTag(index, TagFieldref)
}

// Methodref resolves a Methodref constant.
func (cp *ConstantPool) Methodref(index int) (Constant, error) {
	return cp.resolveTag(index, TagMethodref)
}
