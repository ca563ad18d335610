package vm

import (
	"errors"
	"testing"
)

// method assembles src into a MethodDef.
func method(name, desc string, locals int, src string) MethodDef {
	return MethodDef{Name: name, Descriptor: desc, MaxLocals: locals, Code: MustAssemble(src)}
}

func newTestVM(t *testing.T, cfg Config) *VM {
	t.Helper()
	return New(cfg)
}

func mustLoad(t *testing.T, v *VM, def *UnitDef) *Class {
	t.Helper()
	c, err := v.Load(def)
	if err != nil {
		t.Fatalf("Load(%s): %v", def.Name, err)
	}
	return c
}

func mustInvoke(t *testing.T, v *VM, class, name, desc string, args ...Value) Value {
	t.Helper()
	got, err := v.Invoke(class, name, desc, args...)
	if err != nil {
		t.Fatalf("%s.%s%s: %v", class, name, desc, err)
	}
	return got
}

func wantFault(t *testing.T, err error, sentinel *Fault) *Fault {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", sentinel.Kind)
	}
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected %s, got %v", sentinel.Kind, err)
	}
	var f *Fault
	errors.As(err, &f)
	return f
}

// single loads a unit holding one method and returns a VM ready to run it.
func single(t *testing.T, cfg Config, m MethodDef, consts ...Constant) *VM {
	t.Helper()
	v := newTestVM(t, cfg)
	mustLoad(t, v, &UnitDef{Name: "T", Constants: consts, Methods: []MethodDef{m}})
	return v
}
