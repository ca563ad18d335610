package vm

import (
	"errors"
	"testing"
)

func TestLoadRejectsMalformedUnits(t *testing.T) {
	ret := method("f", "()V", 0, "return")
	tests := []struct {
		name string
		def  *UnitDef
		want *Fault
	}{
		{"no name", &UnitDef{}, ErrMalformedUnit},
		{"duplicate field", &UnitDef{
			Name:   "U",
			Fields: []FieldDef{{Name: "a", Type: KindInt}, {Name: "a", Type: KindBool}},
		}, ErrMalformedUnit},
		{"void field", &UnitDef{
			Name:   "U",
			Fields: []FieldDef{{Name: "a", Type: KindVoid}},
		}, ErrMalformedUnit},
		{"duplicate method", &UnitDef{Name: "U", Methods: []MethodDef{ret, ret}}, ErrMalformedUnit},
		{"bad descriptor", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{method("f", "(J)V", 1, "return")},
		}, ErrMalformedUnit},
		{"too few locals", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{method("f", "(II)V", 1, "return")},
		}, ErrMalformedUnit},
		{"initializer out of range", &UnitDef{
			Name:   "U",
			Fields: []FieldDef{{Name: "a", Type: KindInt, Init: 1}},
		}, ErrInvalidConstantReference},
		{"initializer not an integer", &UnitDef{
			Name:      "U",
			Constants: []Constant{ClassConst("U")},
			Fields:    []FieldDef{{Name: "a", Type: KindInt, Init: 1}},
		}, ErrMalformedUnit},
		{"boolean initializer out of range", &UnitDef{
			Name:      "U",
			Constants: []Constant{IntegerConst(2)},
			Fields:    []FieldDef{{Name: "a", Type: KindBool, Init: 1}},
		}, ErrMalformedUnit},
		{"local out of range", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{method("f", "(I)I", 1, "iload_1\nireturn")},
		}, ErrMalformedUnit},
		{"iinc local out of range", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{method("f", "()V", 0, "iinc 0 1\nreturn")},
		}, ErrMalformedUnit},
		{"ldc out of range", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{method("f", "()I", 0, "ldc #1\nireturn")},
		}, ErrInvalidConstantReference},
		{"ldc of a reference", &UnitDef{
			Name:      "U",
			Constants: []Constant{ClassConst("U")},
			Methods:   []MethodDef{method("f", "()I", 0, "ldc #1\nireturn")},
		}, ErrMalformedUnit},
		{"getstatic through a Methodref", &UnitDef{
			Name:      "U",
			Constants: []Constant{MethodrefConst("U", "f", "()I")},
			Methods:   []MethodDef{method("f", "()I", 0, "getstatic #1\nireturn")},
		}, ErrMalformedUnit},
		{"undeclared own field", &UnitDef{
			Name:      "U",
			Constants: []Constant{FieldrefConst("U", "nope", "I")},
			Methods:   []MethodDef{method("f", "()I", 0, "getstatic #1\nireturn")},
		}, ErrMalformedUnit},
		{"own field type mismatch", &UnitDef{
			Name:      "U",
			Constants: []Constant{FieldrefConst("U", "a", "Z")},
			Fields:    []FieldDef{{Name: "a", Type: KindInt}},
			Methods:   []MethodDef{method("f", "()I", 0, "getstatic #1\nireturn")},
		}, ErrMalformedUnit},
		{"undeclared own method", &UnitDef{
			Name:      "U",
			Constants: []Constant{MethodrefConst("U", "g", "()V")},
			Methods:   []MethodDef{method("f", "()V", 0, "invokestatic #1\nreturn")},
		}, ErrMalformedUnit},
		{"unknown opcode", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{{Name: "f", Descriptor: "()V", Code: []byte{0xca, 0xb1}}},
		}, ErrMalformedUnit},
		{"truncated operand", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{{Name: "f", Descriptor: "()V", Code: []byte{0xb1, 0x10}}},
		}, ErrMalformedUnit},
		{"branch into operand", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{{Name: "f", Descriptor: "()V", Code: []byte{0xa7, 0x00, 0x01}}},
		}, ErrMalformedUnit},
		{"branch outside code", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{{Name: "f", Descriptor: "()V", Code: []byte{0xa7, 0x00, 0x10}}},
		}, ErrMalformedUnit},
		{"falls off the end", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{method("f", "()V", 0, "nop")},
		}, ErrMalformedUnit},
		{"ireturn from void", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{method("f", "()V", 0, "iconst_0\nireturn")},
		}, ErrMalformedUnit},
		{"return from int", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{method("f", "()I", 0, "return")},
		}, ErrMalformedUnit},
		{"empty code", &UnitDef{
			Name:    "U",
			Methods: []MethodDef{{Name: "f", Descriptor: "()V"}},
		}, ErrMalformedUnit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestVM(t, DefaultConfig())
			c, err := v.Load(tt.def)
			if c != nil {
				t.Error("Load returned a class for a rejected unit")
			}
			wantFault(t, err, tt.want)
			if tt.def.Name != "" {
				if _, ok := v.Class(tt.def.Name); ok {
					t.Error("rejected unit was installed")
				}
			}
		})
	}
}

func TestLoadNil(t *testing.T) {
	v := newTestVM(t, DefaultConfig())
	_, err := v.Load(nil)
	wantFault(t, err, ErrMalformedUnit)
}

func TestLoadIsIdempotent(t *testing.T) {
	v := newTestVM(t, DefaultConfig())
	def := &UnitDef{
		Name:    "U",
		Methods: []MethodDef{method("f", "()I", 0, "iconst_1\nireturn")},
	}
	first := mustLoad(t, v, def)
	second := mustLoad(t, v, def)
	if first != second {
		t.Fatal("reloading returned a different class")
	}

	// A differing definition under a loaded name is ignored.
	other := &UnitDef{
		Name:    "U",
		Methods: []MethodDef{method("f", "()I", 0, "iconst_2\nireturn")},
	}
	if third := mustLoad(t, v, other); third != first {
		t.Fatal("differing definition replaced the loaded class")
	}
	if got := mustInvoke(t, v, "U", "f", "()I"); got.Int() != 1 {
		t.Errorf("f() = %d, want 1", got.Int())
	}
}

func TestLoadedClassIsIsolatedFromDef(t *testing.T) {
	v := newTestVM(t, DefaultConfig())
	def := &UnitDef{
		Name:      "U",
		Constants: []Constant{IntegerConst(7)},
		Methods:   []MethodDef{method("f", "()I", 0, "ldc #1\nireturn")},
	}
	mustLoad(t, v, def)
	def.Constants[0] = IntegerConst(8)
	def.Methods[0].Code[1] = 0

	if got := mustInvoke(t, v, "U", "f", "()I"); got.Int() != 7 {
		t.Errorf("f() = %d, want 7", got.Int())
	}
}

func TestClassAccessors(t *testing.T) {
	v := newTestVM(t, DefaultConfig())
	c := mustLoad(t, v, countedUnit("Counted"))

	if _, ok := c.Initializer(); !ok {
		t.Error("Initializer not found")
	}
	f, ok := c.Field("flag")
	if !ok || f.Type != KindBool || f.Index != 2 {
		t.Errorf("Field(flag) = %+v, %v", f, ok)
	}
	if len(c.Fields()) != 4 || len(c.Methods()) != 5 {
		t.Errorf("got %d fields and %d methods", len(c.Fields()), len(c.Methods()))
	}
	m, ok := c.LookupMethod("setFlag", "(I)V")
	if !ok || m.String() != "Counted.setFlag:(I)V" {
		t.Errorf("LookupMethod = %v, %v", m, ok)
	}
	if byName := c.MethodsByName(); byName[0].Name != "<clinit>" {
		t.Errorf("MethodsByName()[0] = %s", byName[0].Name)
	}
}

func TestLazyLoadMissingUnit(t *testing.T) {
	v := newTestVM(t, DefaultConfig())
	err := v.Initialize("Ghost")
	if !errors.Is(err, ErrUnitNotFound) {
		t.Errorf("Initialize(Ghost) = %v, want ErrUnitNotFound", err)
	}
}

func TestLazyLoadNameMismatch(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Source = MapSource{"A": {Name: "B", Methods: []MethodDef{method("f", "()V", 0, "return")}}}
	v := newTestVM(t, cfg)
	err := v.Initialize("A")
	wantFault(t, err, ErrMalformedUnit)
}

func TestDescriptorParsing(t *testing.T) {
	tests := []struct {
		in   string
		args []Kind
		ret  Kind
		ok   bool
	}{
		{"()V", nil, KindVoid, true},
		{"(I)I", []Kind{KindInt}, KindInt, true},
		{"(IZ)Z", []Kind{KindInt, KindBool}, KindBool, true},
		{"(BSC)I", []Kind{KindInt, KindInt, KindInt}, KindInt, true},
		{"(V)V", nil, 0, false},
		{"()", nil, 0, false},
		{"I", nil, 0, false},
		{"(I)IZ", nil, 0, false},
		{"(Ljava/lang/String;)V", nil, 0, false},
	}
	for _, tt := range tests {
		d, err := ParseDescriptor(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseDescriptor(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.ok {
			continue
		}
		if d.Return != tt.ret || len(d.Args) != len(tt.args) {
			t.Errorf("ParseDescriptor(%q) = %v -> %v", tt.in, d.Args, d.Return)
			continue
		}
		for i := range tt.args {
			if d.Args[i] != tt.args[i] {
				t.Errorf("ParseDescriptor(%q) arg %d = %v", tt.in, i, d.Args[i])
			}
		}
	}
}

func TestParseSignature(t *testing.T) {
	for _, in := range []string{"start:()I", "start()I"} {
		sig, err := ParseSignature(in)
		if err != nil || sig != Sig("start", "()I") {
			t.Errorf("ParseSignature(%q) = %v, %v", in, sig, err)
		}
	}
	if _, err := ParseSignature("start"); err == nil {
		t.Error("ParseSignature without descriptor should fail")
	}
}
