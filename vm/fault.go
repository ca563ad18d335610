package vm

import (
	"errors"
	"fmt"
	"strings"
)

// FaultKind classifies a run-time or load-time failure.
type FaultKind uint8

const (
	StackUnderflow FaultKind = iota + 1
	OperandStackOverflow
	InvalidLocalIndex
	InvalidFieldReference
	InvalidMethodReference
	InvalidConstantReference
	CallDepthExceeded
	DivisionByZero
	InvalidOpcode
	InitializerFault
	ArgumentMismatch
	StepLimitExceeded
	MalformedUnit
)

var faultNames = [...]string{
	StackUnderflow:           "StackUnderflow",
	OperandStackOverflow:     "OperandStackOverflow",
	InvalidLocalIndex:        "InvalidLocalIndex",
	InvalidFieldReference:    "InvalidFieldReference",
	InvalidMethodReference:   "InvalidMethodReference",
	InvalidConstantReference: "InvalidConstantReference",
	CallDepthExceeded:        "CallDepthExceeded",
	DivisionByZero:           "DivisionByZero",
	InvalidOpcode:            "InvalidOpcode",
	InitializerFault:         "InitializerFault",
	ArgumentMismatch:         "ArgumentMismatch",
	StepLimitExceeded:        "StepLimitExceeded",
	MalformedUnit:            "MalformedUnit",
}

func (k FaultKind) String() string {
	if int(k) < len(faultNames) && faultNames[k] != "" {
		return faultNames[k]
	}
	return fmt.Sprintf("FaultKind(%d)", uint8(k))
}

// Fault is the error type returned by loading and invocation. Compare kinds
// with errors.Is against the Err* sentinels.
type Fault struct {
	Kind   FaultKind
	Class  string // unit the fault occurred in, if any
	Method string // "name:desc" of the executing method, if any
	PC     int    // instruction offset, -1 when not tied to an instruction
	Detail string
	Err    error // underlying cause (InitializerFault wraps the original fault)

	sentinel bool
}

func (f *Fault) Error() string {
	var sb strings.Builder
	sb.WriteString(f.Kind.String())
	if f.Class != "" {
		sb.WriteString(" in ")
		sb.WriteString(f.Class)
		if f.Method != "" {
			sb.WriteByte('.')
			sb.WriteString(f.Method)
		}
	}
	if f.PC >= 0 && !f.sentinel {
		fmt.Fprintf(&sb, " at pc %d", f.PC)
	}
	if f.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(f.Detail)
	}
	if f.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(f.Err.Error())
	}
	return sb.String()
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// Is matches any fault of the same kind when target is a sentinel.
func (f *Fault) Is(target error) bool {
	t, ok := target.(*Fault)
	if !ok || !t.sentinel {
		return false
	}
	return f.Kind == t.Kind
}

func sentinel(k FaultKind) *Fault {
	return &Fault{Kind: k, PC: -1, sentinel: true}
}

// Sentinel faults for errors.Is.
var (
	ErrStackUnderflow           = sentinel(StackUnderflow)
	ErrOperandStackOverflow     = sentinel(OperandStackOverflow)
	ErrInvalidLocalIndex        = sentinel(InvalidLocalIndex)
	ErrInvalidFieldReference    = sentinel(InvalidFieldReference)
	ErrInvalidMethodReference   = sentinel(InvalidMethodReference)
	ErrInvalidConstantReference = sentinel(InvalidConstantReference)
	ErrCallDepthExceeded        = sentinel(CallDepthExceeded)
	ErrDivisionByZero           = sentinel(DivisionByZero)
	ErrInvalidOpcode            = sentinel(InvalidOpcode)
	ErrInitializerFault         = sentinel(InitializerFault)
	ErrArgumentMismatch         = sentinel(ArgumentMismatch)
	ErrStepLimitExceeded        = sentinel(StepLimitExceeded)
	ErrMalformedUnit            = sentinel(MalformedUnit)
)

// KindOf returns the kind of the outermost Fault in err's chain, or 0.
func KindOf(err error) FaultKind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}

// malformed builds a load-time fault.
func malformed(class, method string, pc int, format string, args ...any) *Fault {
	return &Fault{
		Kind:   MalformedUnit,
		Class:  class,
		Method: method,
		PC:     pc,
		Detail: fmt.Sprintf(format, args...),
	}
}
