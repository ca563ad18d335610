package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Call depth protection
// ---------------------------------------------------------------------------
//
// The entry frame counts toward MaxCallDepth, so a method that recurses
// down to zero from n uses n+1 frames.
// ---------------------------------------------------------------------------

func countdownUnit() *UnitDef {
	// down(n) = n == 0 ? 0 : down(n - 1)
	return &UnitDef{
		Name:      "Countdown",
		Constants: []Constant{MethodrefConst("Countdown", "down", "(I)I")},
		Methods: []MethodDef{
			method("down", "(I)I", 1, `
				iload_0
				ifne recurse
				iconst_0
				ireturn
			recurse:
				iload_0
				iconst_1
				isub
				invokestatic #1
				ireturn
			`),
		},
	}
}

func TestRecursionWithinLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallDepth = 10
	v := newTestVM(t, cfg)
	mustLoad(t, v, countdownUnit())

	th := v.NewThread()
	if _, err := th.Invoke("Countdown", "down", "(I)I", Int(9)); err != nil {
		t.Fatalf("down(9) with limit 10: %v", err)
	}
	if th.PeakDepth() != 10 {
		t.Errorf("PeakDepth = %d, want 10", th.PeakDepth())
	}
}

func TestRecursionExceedsLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCallDepth = 10
	v := newTestVM(t, cfg)
	mustLoad(t, v, countdownUnit())

	th := v.NewThread()
	_, err := th.Invoke("Countdown", "down", "(I)I", Int(10))
	f := wantFault(t, err, ErrCallDepthExceeded)
	if f.Class != "Countdown" {
		t.Errorf("fault class = %q", f.Class)
	}
	if th.Depth() != 0 {
		t.Errorf("frames left after overflow: %d", th.Depth())
	}
	if th.PeakDepth() != 10 {
		t.Errorf("PeakDepth = %d, want 10", th.PeakDepth())
	}
}

func TestCallDepthFaultLeavesCallerIntact(t *testing.T) {
	def := &UnitDef{
		Name:      "Outer",
		Constants: []Constant{MethodrefConst("Outer", "inner", "(I)I")},
		Methods: []MethodDef{
			method("outer", "()I", 0, "bipush 7\ninvokestatic #1\nireturn"),
			method("inner", "(I)I", 1, "iload_0\nireturn"),
		},
	}
	cfg := DefaultConfig()
	cfg.MaxCallDepth = 1
	v := newTestVM(t, cfg)
	c := mustLoad(t, v, def)
	if err := v.Initialize("Outer"); err != nil {
		t.Fatal(err)
	}
	m, ok := c.LookupMethod("outer", "()I")
	if !ok {
		t.Fatal("outer not found")
	}

	th := v.NewThread()
	caller := NewFrame(m, cfg.MaxOperandStack)
	if err := th.stack.Push(caller); err != nil {
		t.Fatal(err)
	}
	_, err := th.run(0)
	f := wantFault(t, err, ErrCallDepthExceeded)
	if f.Method != "outer:()I" || f.PC != 2 {
		t.Errorf("fault at %s pc %d, want outer:()I pc 2", f.Method, f.PC)
	}
	if caller.PC != 2 {
		t.Errorf("caller pc = %d, want 2", caller.PC)
	}
	if caller.sp != 1 || caller.stack[0] != 7 {
		t.Errorf("caller operand stack = %v, want [7]", caller.stack[:caller.sp])
	}
	if th.Depth() != 1 {
		t.Errorf("depth = %d, want 1", th.Depth())
	}
}

func TestRunawayRecursionDefaultLimit(t *testing.T) {
	v := newTestVM(t, DefaultConfig())
	mustLoad(t, v, countdownUnit())
	_, err := v.Invoke("Countdown", "down", "(I)I", Int(1_000_000))
	wantFault(t, err, ErrCallDepthExceeded)
}

func TestMutualRecursionOverflows(t *testing.T) {
	// ping -> pong -> ping ... with no base case.
	def := &UnitDef{
		Name: "PingPong",
		Constants: []Constant{
			MethodrefConst("PingPong", "ping", "()V"),
			MethodrefConst("PingPong", "pong", "()V"),
		},
		Methods: []MethodDef{
			method("ping", "()V", 0, "invokestatic #2\nreturn"),
			method("pong", "()V", 0, "invokestatic #1\nreturn"),
		},
	}
	cfg := DefaultConfig()
	cfg.MaxCallDepth = 64
	v := newTestVM(t, cfg)
	mustLoad(t, v, def)

	th := v.NewThread()
	_, err := th.Invoke("PingPong", "ping", "()V")
	wantFault(t, err, ErrCallDepthExceeded)
	if th.PeakDepth() != 64 {
		t.Errorf("PeakDepth = %d, want 64", th.PeakDepth())
	}
}

// ---------------------------------------------------------------------------
// CallStack
// ---------------------------------------------------------------------------

func TestCallStack(t *testing.T) {
	s := NewCallStack(2)
	m := &Method{Class: &Class{Name: "C"}, Name: "m", MaxLocals: 0}
	f1, f2, f3 := NewFrame(m, 4), NewFrame(m, 4), NewFrame(m, 4)

	if s.Top() != nil || s.Pop() != nil {
		t.Fatal("empty stack should have no top")
	}
	if err := s.Push(f1); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(f2); err != nil {
		t.Fatal(err)
	}
	if err := s.Push(f3); err == nil {
		t.Fatal("push beyond MaxDepth should fail")
	} else {
		wantFault(t, err, ErrCallDepthExceeded)
	}
	if s.Depth() != 2 || s.Top() != f2 {
		t.Fatalf("Depth = %d", s.Depth())
	}
	if s.Pop() != f2 || s.Pop() != f1 {
		t.Fatal("frames popped out of order")
	}
	if s.Peak() != 2 {
		t.Errorf("Peak = %d, want 2", s.Peak())
	}

	s.Push(f1)
	s.Push(f2)
	s.Unwind()
	if s.Depth() != 0 {
		t.Errorf("Depth after Unwind = %d", s.Depth())
	}
	if f2.State != FrameFaulted {
		t.Errorf("unwound frame state = %s, want faulted", f2.State)
	}
}

func TestFrameBounds(t *testing.T) {
	m := &Method{Class: &Class{Name: "C"}, Name: "m", MaxLocals: 2}
	f := NewFrame(m, 1)

	if _, err := f.pop(); err == nil {
		t.Error("pop on empty stack should fail")
	} else {
		wantFault(t, err, ErrStackUnderflow)
	}
	if err := f.push(1); err != nil {
		t.Fatal(err)
	}
	if err := f.push(2); err == nil {
		t.Error("push beyond max stack should fail")
	}
	if _, err := f.local(2); err == nil {
		t.Error("local 2 of 2 should fail")
	} else {
		wantFault(t, err, ErrInvalidLocalIndex)
	}
	if err := f.setLocal(-1, 0); err == nil {
		t.Error("negative local should fail")
	}
}
