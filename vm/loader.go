package vm

import (
	"errors"
	"fmt"
	"reflect"
)

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load validates def and installs it as a class unit. Loading is idempotent
// per unit name: if a unit with the same name is already loaded, that Class
// is returned and def is ignored (a warning is logged when def differs).
func (v *VM) Load(def *UnitDef) (*Class, error) {
	if def == nil {
		return nil, malformed("", "", -1, "nil unit definition")
	}

	v.mu.RLock()
	existing, ok := v.classes[def.Name]
	v.mu.RUnlock()
	if ok {
		v.checkReload(existing, def)
		return existing, nil
	}

	c, err := buildClass(def)
	if err != nil {
		v.loaderLog.Warningf("rejected unit %q: %v", def.Name, err)
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	// Another goroutine may have won the race to load the same name.
	if existing, ok := v.classes[def.Name]; ok {
		v.checkReload(existing, def)
		return existing, nil
	}
	v.classes[c.Name] = c
	v.loaderLog.Infof("loaded unit %s (%d constants, %d fields, %d methods)",
		c.Name, c.Pool.Len(), len(c.fields), len(c.order))
	return c, nil
}

// MustLoad is like Load but panics on error. Intended for fixtures and tests.
func (v *VM) MustLoad(def *UnitDef) *Class {
	c, err := v.Load(def)
	if err != nil {
		panic(err)
	}
	return c
}

func (v *VM) checkReload(existing *Class, def *UnitDef) {
	if !reflect.DeepEqual(existing.def, def.Clone()) {
		v.loaderLog.Warningf("unit %s already loaded; ignoring differing definition", def.Name)
	}
}

// resolveClass returns a loaded class, loading it from the configured
// UnitSource on first reference.
func (v *VM) resolveClass(name string) (*Class, error) {
	v.mu.RLock()
	c, ok := v.classes[name]
	v.mu.RUnlock()
	if ok {
		return c, nil
	}
	if v.cfg.Source == nil {
		return nil, fmt.Errorf("unit %q: %w", name, ErrUnitNotFound)
	}
	def, err := v.cfg.Source.Find(name)
	if err != nil {
		return nil, fmt.Errorf("unit %q: %w", name, err)
	}
	if def.Name != name {
		return nil, malformed(name, "", -1, "source returned unit named %q", def.Name)
	}
	v.loaderLog.Debugf("resolving unit %s from source", name)
	return v.Load(def)
}

// ---------------------------------------------------------------------------
// Validation
// ---------------------------------------------------------------------------

func buildClass(def *UnitDef) (*Class, error) {
	if def.Name == "" {
		return nil, malformed("", "", -1, "unit has no name")
	}
	c := &Class{
		Name:       def.Name,
		Pool:       NewConstantPool(def.Constants),
		fieldIndex: make(map[string]int, len(def.Fields)),
		methods:    make(map[Signature]*Method, len(def.Methods)),
		def:        def.Clone(),
	}

	for i, fd := range def.Fields {
		if fd.Name == "" {
			return nil, malformed(c.Name, "", -1, "field %d has no name", i)
		}
		if _, dup := c.fieldIndex[fd.Name]; dup {
			return nil, malformed(c.Name, "", -1, "duplicate field %q", fd.Name)
		}
		if fd.Type != KindInt && fd.Type != KindBool {
			return nil, malformed(c.Name, "", -1, "field %q has unsupported type %s", fd.Name, fd.Type)
		}
		if fd.Init != 0 {
			if err := checkInitializer(c, fd); err != nil {
				return nil, err
			}
		}
		c.fieldIndex[fd.Name] = len(c.fields)
		c.fields = append(c.fields, Field{Name: fd.Name, Type: fd.Type, Init: fd.Init, Index: i})
	}

	for _, md := range def.Methods {
		m, err := buildMethod(c, md)
		if err != nil {
			return nil, err
		}
		sig := m.Signature()
		if _, dup := c.methods[sig]; dup {
			return nil, malformed(c.Name, "", -1, "duplicate method %s", sig)
		}
		c.methods[sig] = m
		c.order = append(c.order, m)
	}

	// Code is checked once the whole method table exists so self-references
	// to methods declared later resolve.
	for _, m := range c.order {
		if err := verifyCode(c, m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func checkInitializer(c *Class, fd FieldDef) error {
	n, err := c.Pool.Integer(int(fd.Init))
	if err != nil {
		var f *Fault
		if errors.As(err, &f) {
			if idx := int(fd.Init); idx >= 1 && idx <= c.Pool.Len() {
				// In range but not an Integer.
				return malformed(c.Name, "", -1, "field %q: %s", fd.Name, f.Detail)
			}
			f.Class = c.Name
			f.Detail = fmt.Sprintf("field %q initializer: %s", fd.Name, f.Detail)
		}
		return err
	}
	if fd.Type == KindBool && n != 0 && n != 1 {
		return malformed(c.Name, "", -1, "boolean field %q has initializer %d", fd.Name, n)
	}
	return nil
}

func buildMethod(c *Class, md MethodDef) (*Method, error) {
	sig := md.Signature().String()
	if md.Name == "" {
		return nil, malformed(c.Name, sig, -1, "method has no name")
	}
	desc, err := ParseDescriptor(md.Descriptor)
	if err != nil {
		return nil, malformed(c.Name, sig, -1, "%v", err)
	}
	if md.MaxLocals < desc.ArgSlots() {
		return nil, malformed(c.Name, sig, -1, "max locals %d below %d argument slots", md.MaxLocals, desc.ArgSlots())
	}
	if md.MaxLocals > 256 {
		return nil, malformed(c.Name, sig, -1, "max locals %d exceeds 256", md.MaxLocals)
	}
	if md.MaxStack < 0 {
		return nil, malformed(c.Name, sig, -1, "negative max stack %d", md.MaxStack)
	}
	if len(md.Code) == 0 {
		return nil, malformed(c.Name, sig, -1, "method has no code")
	}
	return &Method{
		Class:      c,
		Name:       md.Name,
		Descriptor: desc,
		MaxLocals:  md.MaxLocals,
		MaxStack:   md.MaxStack,
		Code:       append([]byte(nil), md.Code...),
	}, nil
}

// verifyCode checks operand ranges and reference shapes. It is not a type
// verifier: operand stack depth is enforced at run time.
func verifyCode(c *Class, m *Method) error {
	sig := m.Signature().String()
	starts := make(map[int]bool)
	var branches []Instruction
	var last Instruction

	for pc := 0; pc < len(m.Code); {
		in, err := Decode(m.Code, pc)
		if err != nil {
			return malformed(c.Name, sig, pc, "%v", err)
		}
		starts[pc] = true
		if err := verifyInstruction(c, m, in); err != nil {
			return err
		}
		if in.Op.IsBranch() {
			branches = append(branches, in)
		}
		last = in
		info, _ := in.Op.Info()
		pc += info.Len()
	}

	for _, br := range branches {
		if t := br.Target(); !starts[t] {
			return malformed(c.Name, sig, br.Offset, "%s target %d is not an instruction boundary", br.Op, t)
		}
	}
	if last.Op != OpGoto && !last.Op.IsReturn() {
		return malformed(c.Name, sig, last.Offset, "code falls off the end after %s", last.Op)
	}
	return nil
}

func verifyInstruction(c *Class, m *Method, in Instruction) error {
	sig := m.Signature().String()
	info, _ := in.Op.Info()

	locate := func(err error) error {
		var f *Fault
		if errors.As(err, &f) && f.Kind == InvalidConstantReference {
			idx := int(in.Operand)
			if idx >= 1 && idx <= c.Pool.Len() {
				return malformed(c.Name, sig, in.Offset, "%s: %s", in.Op, f.Detail)
			}
			return &Fault{Kind: InvalidConstantReference, Class: c.Name, Method: sig, PC: in.Offset, Detail: f.Detail}
		}
		return err
	}

	if info.Operand == OperandLocal || info.Operand == OperandIinc {
		if int(in.Operand) >= m.MaxLocals {
			return malformed(c.Name, sig, in.Offset, "%s local %d outside %d slots", in.Op, in.Operand, m.MaxLocals)
		}
		return nil
	}
	if slot, ok := in.Op.implicitSlot(); ok && slot >= m.MaxLocals {
		return malformed(c.Name, sig, in.Offset, "%s outside %d slots", in.Op, m.MaxLocals)
	}

	switch in.Op {
	case OpLdc, OpLdcW:
		if _, err := c.Pool.Integer(int(in.Operand)); err != nil {
			return locate(err)
		}

	case OpGetstatic, OpPutstatic:
		ref, err := c.Pool.Fieldref(int(in.Operand))
		if err != nil {
			return locate(err)
		}
		kind, err := ParseFieldDescriptor(ref.Descriptor)
		if err != nil {
			return malformed(c.Name, sig, in.Offset, "%s %s.%s: %v", in.Op, ref.Class, ref.Name, err)
		}
		if ref.Class == c.Name {
			f, ok := c.Field(ref.Name)
			if !ok {
				return malformed(c.Name, sig, in.Offset, "%s names undeclared field %s", in.Op, ref.Name)
			}
			if f.Type != kind {
				return malformed(c.Name, sig, in.Offset, "%s %s: descriptor %s does not match declared %s", in.Op, ref.Name, ref.Descriptor, f.Type)
			}
		}

	case OpInvokestatic:
		ref, err := c.Pool.Methodref(int(in.Operand))
		if err != nil {
			return locate(err)
		}
		if _, err := ParseDescriptor(ref.Descriptor); err != nil {
			return malformed(c.Name, sig, in.Offset, "invokestatic %s.%s: %v", ref.Class, ref.Name, err)
		}
		if ref.Class == c.Name {
			if _, ok := c.LookupMethod(ref.Name, ref.Descriptor); !ok {
				return malformed(c.Name, sig, in.Offset, "invokestatic names undeclared method %s:%s", ref.Name, ref.Descriptor)
			}
		}

	case OpIreturn:
		if m.Descriptor.Return == KindVoid {
			return malformed(c.Name, sig, in.Offset, "ireturn in void method")
		}

	case OpReturn:
		if m.Descriptor.Return != KindVoid {
			return malformed(c.Name, sig, in.Offset, "return in method returning %s", m.Descriptor.Return)
		}
	}
	return nil
}
