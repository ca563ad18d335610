package vm

import "sort"

// ---------------------------------------------------------------------------
// Unit definitions: loader input
// ---------------------------------------------------------------------------

// UnitDef is the structured, not yet validated form of a class unit. It is
// what the loader consumes and what unit images carry.
type UnitDef struct {
	Name      string
	Constants []Constant // constant pool, Constants[0] is index 1
	Fields    []FieldDef
	Methods   []MethodDef
}

// FieldDef declares a static field.
type FieldDef struct {
	Name string
	Type Kind
	Init uint16 // constant pool index of the initializer, 0 for none
}

// MethodDef declares a static method.
type MethodDef struct {
	Name       string
	Descriptor string
	MaxLocals  int
	MaxStack   int // 0 selects the engine default
	Code       []byte
}

// Signature returns the method's signature.
func (m MethodDef) Signature() Signature {
	return Sig(m.Name, m.Descriptor)
}

// ---------------------------------------------------------------------------
// Class: a loaded, immutable unit
// ---------------------------------------------------------------------------

// Class is a loaded class unit. It is immutable after Load returns and is
// shared by every thread of the VM.
type Class struct {
	Name string
	Pool *ConstantPool

	fields     []Field
	fieldIndex map[string]int
	methods    map[Signature]*Method
	order      []*Method // declaration order
	def        *UnitDef  // copy of the definition the class was built from
}

// Field is a declared static field of a loaded class.
type Field struct {
	Name  string
	Type  Kind
	Init  uint16 // constant pool index, 0 for none
	Index int    // declaration position
}

// Method is a static method of a loaded class.
type Method struct {
	Class      *Class
	Name       string
	Descriptor Descriptor
	MaxLocals  int
	MaxStack   int
	Code       []byte
}

// Signature returns the method's signature.
func (m *Method) Signature() Signature {
	return Sig(m.Name, m.Descriptor.String())
}

// String returns "Class.name:desc".
func (m *Method) String() string {
	return m.Class.Name + "." + m.Signature().String()
}

// Fields returns the declared fields in declaration order.
func (c *Class) Fields() []Field {
	out := make([]Field, len(c.fields))
	copy(out, c.fields)
	return out
}

// Field looks up a static field by name.
func (c *Class) Field(name string) (Field, bool) {
	i, ok := c.fieldIndex[name]
	if !ok {
		return Field{}, false
	}
	return c.fields[i], true
}

// Method looks up a method by signature.
func (c *Class) Method(sig Signature) (*Method, bool) {
	m, ok := c.methods[sig]
	return m, ok
}

// LookupMethod looks up a method by name and descriptor.
func (c *Class) LookupMethod(name, descriptor string) (*Method, bool) {
	return c.Method(Sig(name, descriptor))
}

// Methods returns the methods in declaration order.
func (c *Class) Methods() []*Method {
	out := make([]*Method, len(c.order))
	copy(out, c.order)
	return out
}

// MethodsByName returns the methods sorted by signature.
func (c *Class) MethodsByName() []*Method {
	out := c.Methods()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Signature().String() < out[j].Signature().String()
	})
	return out
}

// Initializer returns the unit's <clinit>()V method, if it declares one.
func (c *Class) Initializer() (*Method, bool) {
	return c.Method(InitializerSignature)
}

// Def returns a copy of the definition the class was loaded from.
func (c *Class) Def() *UnitDef {
	return c.def.Clone()
}

// Clone returns a deep copy of the definition.
func (d *UnitDef) Clone() *UnitDef {
	if d == nil {
		return nil
	}
	out := &UnitDef{
		Name:      d.Name,
		Constants: append([]Constant(nil), d.Constants...),
		Fields:    append([]FieldDef(nil), d.Fields...),
		Methods:   make([]MethodDef, len(d.Methods)),
	}
	for i, m := range d.Methods {
		m.Code = append([]byte(nil), m.Code...)
		out.Methods[i] = m
	}
	return out
}
