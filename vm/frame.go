package vm

import "fmt"

// ---------------------------------------------------------------------------
// Frame: execution state of one method invocation
// ---------------------------------------------------------------------------

// FrameState tracks where a frame is in its lifecycle.
type FrameState uint8

const (
	FrameRunning FrameState = iota
	FrameReturned
	FrameFaulted
)

func (s FrameState) String() string {
	switch s {
	case FrameRunning:
		return "running"
	case FrameReturned:
		return "returned"
	case FrameFaulted:
		return "faulted"
	}
	return fmt.Sprintf("FrameState(%d)", uint8(s))
}

// Frame is the activation record of one method invocation: a fixed local
// array and a bounded operand stack of 32-bit slots.
type Frame struct {
	Method *Method
	PC     int
	State  FrameState

	locals []int32
	stack  []int32
	sp     int // next free operand slot
}

// NewFrame allocates a frame for m. maxStack bounds the operand stack when
// the method does not declare its own bound.
func NewFrame(m *Method, maxStack int) *Frame {
	if m.MaxStack > 0 {
		maxStack = m.MaxStack
	}
	return &Frame{
		Method: m,
		locals: make([]int32, m.MaxLocals),
		stack:  make([]int32, maxStack),
	}
}

// Depth returns the number of values on the operand stack.
func (f *Frame) Depth() int {
	return f.sp
}

// Locals returns a copy of the local slots.
func (f *Frame) Locals() []int32 {
	out := make([]int32, len(f.locals))
	copy(out, f.locals)
	return out
}

func (f *Frame) push(v int32) error {
	if f.sp >= len(f.stack) {
		return f.fault(OperandStackOverflow, "operand stack limit %d", len(f.stack))
	}
	f.stack[f.sp] = v
	f.sp++
	return nil
}

func (f *Frame) pop() (int32, error) {
	if f.sp == 0 {
		return 0, f.fault(StackUnderflow, "pop from empty operand stack")
	}
	f.sp--
	return f.stack[f.sp], nil
}

// pop2 pops the right then the left operand of a binary instruction.
func (f *Frame) pop2() (left, right int32, err error) {
	if f.sp < 2 {
		return 0, 0, f.fault(StackUnderflow, "need 2 operands, have %d", f.sp)
	}
	f.sp -= 2
	return f.stack[f.sp], f.stack[f.sp+1], nil
}

func (f *Frame) local(i int) (int32, error) {
	if i < 0 || i >= len(f.locals) {
		return 0, f.fault(InvalidLocalIndex, "local %d outside %d slots", i, len(f.locals))
	}
	return f.locals[i], nil
}

func (f *Frame) setLocal(i int, v int32) error {
	if i < 0 || i >= len(f.locals) {
		return f.fault(InvalidLocalIndex, "local %d outside %d slots", i, len(f.locals))
	}
	f.locals[i] = v
	return nil
}

// fault builds a Fault located at the frame's current instruction.
func (f *Frame) fault(kind FaultKind, format string, args ...any) *Fault {
	fl := &Fault{Kind: kind, PC: f.PC, Detail: fmt.Sprintf(format, args...)}
	if f.Method != nil {
		fl.Class = f.Method.Class.Name
		fl.Method = f.Method.Signature().String()
	}
	return fl
}

// ---------------------------------------------------------------------------
// CallStack: bounded LIFO of frames
// ---------------------------------------------------------------------------

// CallStack holds the frames of one thread. The entry frame counts toward
// the depth, so a limit of n admits exactly n nested activations.
type CallStack struct {
	frames   []*Frame
	maxDepth int
	peak     int
}

// NewCallStack returns an empty stack bounded by maxDepth.
func NewCallStack(maxDepth int) *CallStack {
	return &CallStack{
		frames:   make([]*Frame, 0, min(maxDepth, 64)),
		maxDepth: maxDepth,
	}
}

// Push pushes a frame, failing with CallDepthExceeded at the limit.
func (s *CallStack) Push(f *Frame) error {
	if len(s.frames) >= s.maxDepth {
		fl := &Fault{
			Kind:   CallDepthExceeded,
			PC:     -1,
			Detail: fmt.Sprintf("call depth limit %d reached", s.maxDepth),
		}
		if f.Method != nil {
			fl.Class = f.Method.Class.Name
			fl.Method = f.Method.Signature().String()
		}
		return fl
	}
	s.frames = append(s.frames, f)
	if len(s.frames) > s.peak {
		s.peak = len(s.frames)
	}
	return nil
}

// Pop removes and returns the top frame, or nil when empty.
func (s *CallStack) Pop() *Frame {
	n := len(s.frames)
	if n == 0 {
		return nil
	}
	f := s.frames[n-1]
	s.frames[n-1] = nil
	s.frames = s.frames[:n-1]
	return f
}

// Top returns the current frame, or nil when empty.
func (s *CallStack) Top() *Frame {
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// Depth returns the number of live frames.
func (s *CallStack) Depth() int {
	return len(s.frames)
}

// MaxDepth returns the configured limit.
func (s *CallStack) MaxDepth() int {
	return s.maxDepth
}

// Peak returns the deepest the stack has been.
func (s *CallStack) Peak() int {
	return s.peak
}

// Unwind discards every frame.
func (s *CallStack) Unwind() {
	s.unwindTo(0)
}

// unwindTo discards frames above depth, marking them faulted.
func (s *CallStack) unwindTo(depth int) {
	for len(s.frames) > depth {
		if f := s.Pop(); f.State == FrameRunning {
			f.State = FrameFaulted
		}
	}
}
