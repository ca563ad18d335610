// Package vm implements the jolt execution engine.
//
// This package contains:
//   - 32-bit integer / boolean value representation
//   - Opcode table, bytecode builder, assembler and disassembler
//   - Constant pools and immutable class units
//   - The unit loader and its load-time checks
//   - Static storage and the class initializer
//   - Call frames, the bounded call stack and the interpreter loop
//
// Units contain only static members. A unit is loaded once per VM, its
// static fields come into existence on first active use, and its methods
// run on a Thread that owns its own call stack.
package vm
