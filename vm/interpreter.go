package vm

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Thread: one logical thread of control
// ---------------------------------------------------------------------------

// Thread executes invocations against a VM. A Thread owns its call stack
// and must only be used from one goroutine at a time; run several Threads
// to execute concurrently against the same VM.
type Thread struct {
	ID uuid.UUID

	vm        *VM
	stack     *CallStack
	steps     int64
	stepLimit int64 // absolute step count at which to fault, 0 for none
	trace     bool
	log       commonlog.Logger
}

// NewThread creates a thread with its own call stack.
func (v *VM) NewThread() *Thread {
	id := uuid.New()
	return &Thread{
		ID:    id,
		vm:    v,
		stack: NewCallStack(v.cfg.MaxCallDepth),
		trace: v.cfg.Trace,
		log:   commonlog.NewKeyValueLogger(v.log, "thread", id.String()),
	}
}

// Depth returns the current call depth.
func (t *Thread) Depth() int {
	return t.stack.Depth()
}

// PeakDepth returns the deepest call depth this thread has reached.
func (t *Thread) PeakDepth() int {
	return t.stack.Peak()
}

// Steps returns the number of instructions this thread has executed.
func (t *Thread) Steps() int64 {
	return t.steps
}

// Invoke resolves class and method by name and runs it with args.
func (t *Thread) Invoke(class, name, descriptor string, args ...Value) (Value, error) {
	c, err := t.vm.resolveClass(class)
	if err != nil {
		return Void, &Fault{
			Kind:   InvalidMethodReference,
			Class:  class,
			Method: Sig(name, descriptor).String(),
			PC:     -1,
			Detail: "class not loaded",
			Err:    err,
		}
	}
	m, ok := c.LookupMethod(name, descriptor)
	if !ok {
		return Void, &Fault{
			Kind:   InvalidMethodReference,
			Class:  class,
			Method: Sig(name, descriptor).String(),
			PC:     -1,
			Detail: "no such method",
		}
	}
	return t.InvokeMethod(m, args...)
}

// InvokeMethod runs m with args, initializing its class first. On a fault
// the call stack is unwound back to where it was; static state is left as
// the fault found it.
func (t *Thread) InvokeMethod(m *Method, args ...Value) (Value, error) {
	bits, err := checkArgs(m, args)
	if err != nil {
		return Void, err
	}

	top := t.stack.Depth() == 0
	if top && t.vm.cfg.MaxSteps > 0 {
		t.stepLimit = t.steps + t.vm.cfg.MaxSteps
		defer func() { t.stepLimit = 0 }()
	}

	if err := t.ensureInitialized(m.Class); err != nil {
		t.logFault(err)
		return Void, err
	}
	ret, err := t.call(m, bits)
	if err != nil {
		t.logFault(err)
		return Void, err
	}
	if m.Descriptor.Return == KindVoid {
		return Void, nil
	}
	return Int(ret).As(m.Descriptor.Return), nil
}

func checkArgs(m *Method, args []Value) ([]int32, error) {
	want := m.Descriptor.Args
	if len(args) != len(want) {
		return nil, &Fault{
			Kind:   ArgumentMismatch,
			Class:  m.Class.Name,
			Method: m.Signature().String(),
			PC:     -1,
			Detail: fmt.Sprintf("got %d arguments, want %d", len(args), len(want)),
		}
	}
	bits := make([]int32, len(args))
	for i, a := range args {
		if a.Kind() != want[i] {
			return nil, &Fault{
				Kind:   ArgumentMismatch,
				Class:  m.Class.Name,
				Method: m.Signature().String(),
				PC:     -1,
				Detail: fmt.Sprintf("argument %d is %s, want %s", i, a.Kind(), want[i]),
			}
		}
		bits[i] = a.Int()
	}
	return bits, nil
}

func (t *Thread) logFault(err error) {
	var f *Fault
	if !errors.As(err, &f) {
		t.log.Warningf("invocation failed: %v", err)
		return
	}
	t.log.Warning("invocation faulted",
		"kind", f.Kind.String(),
		"class", f.Class,
		"method", f.Method,
		"pc", f.PC,
		"detail", f.Detail)
}

// call pushes a frame for m and runs until that frame returns.
func (t *Thread) call(m *Method, args []int32) (int32, error) {
	base := t.stack.Depth()
	f := NewFrame(m, t.vm.cfg.MaxOperandStack)
	copy(f.locals, args)
	if err := t.stack.Push(f); err != nil {
		return 0, err
	}
	ret, err := t.run(base)
	if err != nil {
		t.stack.unwindTo(base)
	}
	return ret, err
}

// ---------------------------------------------------------------------------
// Execution loop
// ---------------------------------------------------------------------------

// run executes frames until the stack is back at depth base and returns the
// value of the frame that was at depth base+1.
func (t *Thread) run(base int) (int32, error) {
	f := t.stack.Top()
	for {
		code := f.Method.Code
		if f.PC < 0 || f.PC >= len(code) {
			return 0, f.fault(InvalidOpcode, "pc outside code of length %d", len(code))
		}
		in, err := Decode(code, f.PC)
		if err != nil {
			return 0, f.fault(InvalidOpcode, "%v", err)
		}

		t.steps++
		if t.stepLimit > 0 && t.steps > t.stepLimit {
			return 0, f.fault(StepLimitExceeded, "instruction budget %d exhausted", t.vm.cfg.MaxSteps)
		}
		if t.trace {
			t.log.Debugf("%s %04d %s sp=%d", f.Method, f.PC, formatInstruction(in, f.Method.Class.Pool, nil), f.sp)
		}

		info, _ := in.Op.Info()
		next := f.PC + info.Len()

		switch op := in.Op; op {
		case OpNop:

		// Constants
		case OpIconstM1, OpIconst0, OpIconst1, OpIconst2, OpIconst3, OpIconst4, OpIconst5:
			err = f.push(int32(op) - int32(OpIconst0))
		case OpBipush, OpSipush:
			err = f.push(in.Operand)
		case OpLdc, OpLdcW:
			var n int32
			if n, err = f.Method.Class.Pool.Integer(int(in.Operand)); err != nil {
				err = relocate(err, f)
				break
			}
			err = f.push(n)

		// Locals
		case OpIload, OpIload0, OpIload1, OpIload2, OpIload3:
			var v int32
			if v, err = f.local(int(in.Operand)); err == nil {
				err = f.push(v)
			}
		case OpIstore, OpIstore0, OpIstore1, OpIstore2, OpIstore3:
			var v int32
			if v, err = f.pop(); err == nil {
				err = f.setLocal(int(in.Operand), v)
			}
		case OpIinc:
			var v int32
			if v, err = f.local(int(in.Operand)); err == nil {
				err = f.setLocal(int(in.Operand), v+in.Delta)
			}

		// Stack
		case OpPop:
			_, err = f.pop()
		case OpDup:
			var v int32
			if v, err = f.pop(); err == nil {
				if err = f.push(v); err == nil {
					err = f.push(v)
				}
			}
		case OpSwap:
			var a, b int32
			if a, b, err = f.pop2(); err == nil {
				f.push(b)
				f.push(a)
			}

		// Arithmetic
		case OpIneg:
			var v int32
			if v, err = f.pop(); err == nil {
				err = f.push(-v)
			}
		case OpIadd, OpIsub, OpImul, OpIdiv, OpIrem, OpIshl, OpIshr, OpIushr, OpIand, OpIor, OpIxor:
			var a, b int32
			if a, b, err = f.pop2(); err != nil {
				break
			}
			var r int32
			if r, err = arith(f, op, a, b); err == nil {
				err = f.push(r)
			}

		// Branches
		case OpIfeq, OpIfne, OpIflt, OpIfge, OpIfgt, OpIfle:
			var v int32
			if v, err = f.pop(); err == nil && compare(op, v, 0) {
				next = in.Target()
			}
		case OpIfIcmpeq, OpIfIcmpne, OpIfIcmplt, OpIfIcmpge, OpIfIcmpgt, OpIfIcmple:
			var a, b int32
			if a, b, err = f.pop2(); err == nil && compare(op, a, b) {
				next = in.Target()
			}
		case OpGoto:
			next = in.Target()

		// Statics
		case OpGetstatic:
			var c *Class
			var fld Field
			if c, fld, err = t.resolveField(f, int(in.Operand)); err != nil {
				break
			}
			var v Value
			if v, err = t.vm.statics.get(c, fld); err != nil {
				err = f.fault(InvalidFieldReference, "%v", err)
				break
			}
			err = f.push(v.Int())
		case OpPutstatic:
			var c *Class
			var fld Field
			if c, fld, err = t.resolveField(f, int(in.Operand)); err != nil {
				break
			}
			var v int32
			if v, err = f.pop(); err != nil {
				break
			}
			if err = t.vm.statics.put(c, fld, Int(v)); err != nil {
				err = f.fault(InvalidFieldReference, "%v", err)
			}

		// Calls and returns
		case OpInvokestatic:
			var callee *Method
			if callee, err = t.resolveMethod(f, int(in.Operand)); err != nil {
				break
			}
			if err = t.ensureInitialized(callee.Class); err != nil {
				break
			}
			n := len(callee.Descriptor.Args)
			if f.sp < n {
				err = f.fault(StackUnderflow, "invokestatic %s needs %d arguments, have %d", callee, n, f.sp)
				break
			}
			// The caller is left as it was when the call cannot be made.
			if t.stack.Depth() >= t.stack.MaxDepth() {
				err = f.fault(CallDepthExceeded, "call depth limit %d reached calling %s", t.stack.MaxDepth(), callee)
				break
			}
			g := NewFrame(callee, t.vm.cfg.MaxOperandStack)
			// Arguments are on the stack left to right; the last pushed
			// lands in the highest argument slot.
			for i := n - 1; i >= 0; i-- {
				f.sp--
				g.locals[i] = f.stack[f.sp]
			}
			f.PC = next
			if err = t.stack.Push(g); err != nil {
				break
			}
			f = g
			continue

		case OpIreturn, OpReturn:
			var v int32
			if op == OpIreturn {
				if v, err = f.pop(); err != nil {
					break
				}
				if f.Method.Descriptor.Return == KindBool {
					v &= 1
				}
			}
			f.State = FrameReturned
			t.stack.Pop()
			if t.stack.Depth() == base {
				return v, nil
			}
			f = t.stack.Top()
			if op == OpIreturn {
				if err = f.push(v); err != nil {
					return 0, err
				}
			}
			continue

		default:
			err = f.fault(InvalidOpcode, "opcode %s not executable", op)
		}

		if err != nil {
			f.State = FrameFaulted
			return 0, err
		}
		f.PC = next
	}
}

// relocate attaches the frame's position to a fault raised without one.
func relocate(err error, f *Frame) error {
	var fl *Fault
	if errors.As(err, &fl) && fl.Class == "" {
		loc := f.fault(fl.Kind, "%s", fl.Detail)
		loc.Err = fl.Err
		return loc
	}
	return err
}

func arith(f *Frame, op Opcode, a, b int32) (int32, error) {
	switch op {
	case OpIadd:
		return a + b, nil
	case OpIsub:
		return a - b, nil
	case OpImul:
		return a * b, nil
	case OpIdiv:
		if b == 0 {
			return 0, f.fault(DivisionByZero, "%d / 0", a)
		}
		return a / b, nil
	case OpIrem:
		if b == 0 {
			return 0, f.fault(DivisionByZero, "%d %% 0", a)
		}
		return a % b, nil
	case OpIshl:
		return a << uint32(b&31), nil
	case OpIshr:
		return a >> uint32(b&31), nil
	case OpIushr:
		return int32(uint32(a) >> uint32(b&31)), nil
	case OpIand:
		return a & b, nil
	case OpIor:
		return a | b, nil
	case OpIxor:
		return a ^ b, nil
	}
	return 0, f.fault(InvalidOpcode, "%s is not arithmetic", op)
}

func compare(op Opcode, a, b int32) bool {
	switch op {
	case OpIfeq, OpIfIcmpeq:
		return a == b
	case OpIfne, OpIfIcmpne:
		return a != b
	case OpIflt, OpIfIcmplt:
		return a < b
	case OpIfge, OpIfIcmpge:
		return a >= b
	case OpIfgt, OpIfIcmpgt:
		return a > b
	case OpIfle, OpIfIcmple:
		return a <= b
	}
	return false
}

// ---------------------------------------------------------------------------
// Symbolic resolution
// ---------------------------------------------------------------------------

// resolveField resolves a Fieldref and initializes its class.
func (t *Thread) resolveField(f *Frame, index int) (*Class, Field, error) {
	ref, err := f.Method.Class.Pool.Fieldref(index)
	if err != nil {
		return nil, Field{}, relocate(err, f)
	}
	c, err := t.vm.resolveClass(ref.Class)
	if err != nil {
		fl := f.fault(InvalidFieldReference, "%s.%s: class not loaded", ref.Class, ref.Name)
		fl.Err = err
		return nil, Field{}, fl
	}
	fld, ok := c.Field(ref.Name)
	if !ok {
		return nil, Field{}, f.fault(InvalidFieldReference, "%s has no field %s", ref.Class, ref.Name)
	}
	if kind, err := ParseFieldDescriptor(ref.Descriptor); err != nil || kind != fld.Type {
		return nil, Field{}, f.fault(InvalidFieldReference, "%s.%s is %s, referenced as %q", ref.Class, ref.Name, fld.Type, ref.Descriptor)
	}
	if err := t.ensureInitialized(c); err != nil {
		return nil, Field{}, err
	}
	return c, fld, nil
}

// resolveMethod resolves a Methodref to a loaded method.
func (t *Thread) resolveMethod(f *Frame, index int) (*Method, error) {
	ref, err := f.Method.Class.Pool.Methodref(index)
	if err != nil {
		return nil, relocate(err, f)
	}
	c, err := t.vm.resolveClass(ref.Class)
	if err != nil {
		fl := f.fault(InvalidMethodReference, "%s.%s:%s: class not loaded", ref.Class, ref.Name, ref.Descriptor)
		fl.Err = err
		return nil, fl
	}
	m, ok := c.LookupMethod(ref.Name, ref.Descriptor)
	if !ok {
		return nil, f.fault(InvalidMethodReference, "%s has no method %s:%s", ref.Class, ref.Name, ref.Descriptor)
	}
	return m, nil
}
