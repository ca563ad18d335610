package vm

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

const sumSource = `
	; sum of 1..n
		iconst_0
		istore_1
		iconst_1
		istore_2
	loop: iload_2
		iload_0
		if_icmpgt done
		iload_1
		iload_2
		iadd
		istore_1
		iinc 2 1
		goto loop
	done:
		iload_1
		ireturn
`

func TestAssemble(t *testing.T) {
	code, err := Assemble(sumSource)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{
		// sum = 0, i = 1
		0x03, 0x3c, 0x04, 0x3d,
		// loop: if i > n goto done
		0x1c, 0x1a, 0xa3, 0x00, 0x0d,
		// sum += i
		0x1b, 0x1c, 0x60, 0x3c,
		// i++
		0x84, 0x02, 0x01,
		// goto loop
		0xa7, 0xff, 0xf4,
		// done: return sum
		0x1b, 0xac,
	}
	if !bytes.Equal(code, want) {
		t.Errorf("Assemble =\n% x\nwant\n% x", code, want)
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unknown mnemonic", "iconst_0\nfrobnicate\n", 2},
		{"missing operand", "bipush", 1},
		{"extra operand", "iadd 1", 1},
		{"bipush range", "bipush 200", 1},
		{"bad local", "iload x", 1},
		{"branch to number", "goto 5", 1},
		{"bad label", "1abc:\nreturn", 1},
		{"duplicate label", "a:\na:\nreturn", 2},
		{"undefined label", "goto nowhere", 0},
		{"backward branch range", "top:\n" + strings.Repeat("nop\n", 40000) + "goto top", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.src)
			var ae *AsmError
			if !errors.As(err, &ae) {
				t.Fatalf("error = %v, want *AsmError", err)
			}
			if ae.Line != tt.line {
				t.Errorf("line = %d, want %d (%v)", ae.Line, tt.line, err)
			}
		})
	}
}

func TestDisassembleRoundTrip(t *testing.T) {
	code := MustAssemble(sumSource)
	listing := DisassembleCode(code, nil)
	again, err := Assemble(listing)
	if err != nil {
		t.Fatalf("re-assembling listing: %v\n%s", err, listing)
	}
	if !bytes.Equal(code, again) {
		t.Errorf("round trip changed code:\n% x\n% x", code, again)
	}
	if !strings.Contains(listing, "L0004:") || !strings.Contains(listing, "goto L0004") {
		t.Errorf("listing lacks generated labels:\n%s", listing)
	}
}

func TestDisassembleAnnotatesConstants(t *testing.T) {
	def := &UnitDef{
		Name: "U",
		Constants: []Constant{
			IntegerConst(424242),
			FieldrefConst("U", "x", "I"),
		},
		Fields:  []FieldDef{{Name: "x", Type: KindInt, Init: 1}},
		Methods: []MethodDef{method("f", "()I", 0, "ldc #1\ngetstatic #2\niadd\nireturn")},
	}
	v := newTestVM(t, DefaultConfig())
	c := mustLoad(t, v, def)

	listing := DisassembleClass(c)
	for _, want := range []string{
		"; unit U",
		"#1   Integer 424242",
		"static int x = #1",
		"; method f:()I",
		"ldc #1",
		"Fieldref U.x:I",
	} {
		if !strings.Contains(listing, want) {
			t.Errorf("listing missing %q:\n%s", want, listing)
		}
	}
}
