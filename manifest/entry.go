package manifest

import (
	"fmt"
	"strings"

	"github.com/chazu/jolt/vm"
)

// Entry is an entry point written "Class.method:descriptor", for example
// "MakeJVM.start:()I". The descriptor may also be attached directly, as in
// "MakeJVM.start()I".
type Entry struct {
	Class     string
	Signature vm.Signature
}

// ParseEntry parses an entry point.
func ParseEntry(s string) (Entry, error) {
	end := strings.IndexAny(s, ":(")
	if end < 0 {
		return Entry{}, fmt.Errorf("entry %q: missing descriptor", s)
	}
	dot := strings.LastIndexByte(s[:end], '.')
	if dot <= 0 {
		return Entry{}, fmt.Errorf("entry %q: want Class.method:descriptor", s)
	}
	sig, err := vm.ParseSignature(s[dot+1:])
	if err != nil {
		return Entry{}, fmt.Errorf("entry %q: %w", s, err)
	}
	if _, err := vm.ParseDescriptor(sig.Descriptor); err != nil {
		return Entry{}, fmt.Errorf("entry %q: %w", s, err)
	}
	return Entry{Class: s[:dot], Signature: sig}, nil
}

func (e Entry) String() string {
	return e.Class + "." + e.Signature.String()
}
