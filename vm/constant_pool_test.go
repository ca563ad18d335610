package vm

import "testing"

func TestConstantPoolResolve(t *testing.T) {
	cp := NewConstantPool([]Constant{
		ClassConst("C"),
		IntegerConst(-5),
		FieldrefConst("C", "f", "I"),
		MethodrefConst("C", "m", "()V"),
	})

	for _, idx := range []int{0, -1, 5} {
		if _, err := cp.Resolve(idx); err == nil {
			t.Errorf("Resolve(%d) succeeded", idx)
		} else {
			wantFault(t, err, ErrInvalidConstantReference)
		}
	}

	n, err := cp.Integer(2)
	if err != nil || n != -5 {
		t.Errorf("Integer(2) = %d, %v", n, err)
	}
	if name, err := cp.ClassRef(1); err != nil || name != "C" {
		t.Errorf("ClassRef(1) = %q, %v", name, err)
	}
	if f, err := cp.Fieldref(3); err != nil || f.Name != "f" {
		t.Errorf("Fieldref(3) = %v, %v", f, err)
	}
	if m, err := cp.Methodref(4); err != nil || m.Descriptor != "()V" {
		t.Errorf("Methodref(4) = %v, %v", m, err)
	}
	if _, err := cp.Integer(1); err == nil {
		t.Error("Integer(1) on a Class entry succeeded")
	}
}

func TestConstantPoolIsStable(t *testing.T) {
	entries := []Constant{IntegerConst(424242)}
	cp := NewConstantPool(entries)
	entries[0] = IntegerConst(0)

	a, _ := cp.Resolve(1)
	b, _ := cp.Resolve(1)
	if a != b || a.Int != 424242 {
		t.Errorf("Resolve(1) = %v then %v", a, b)
	}

	out := cp.Entries()
	out[0] = IntegerConst(1)
	if c, _ := cp.Resolve(1); c.Int != 424242 {
		t.Error("Entries exposed the pool's backing array")
	}
}

func TestParseTag(t *testing.T) {
	for _, tag := range []Tag{TagInteger, TagClass, TagFieldref, TagMethodref, TagUnused} {
		got, ok := ParseTag(tag.String())
		if !ok || got != tag {
			t.Errorf("ParseTag(%q) = %v, %v", tag.String(), got, ok)
		}
	}
	if _, ok := ParseTag("Double"); ok {
		t.Error("ParseTag(Double) succeeded")
	}
}
