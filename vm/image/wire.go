// Package image encodes class units for storage and exchange.
//
// Two forms are supported: a canonical CBOR binary image (".jolt") that
// carries a content hash of the unit, and a YAML assembly form (".yaml")
// where method code is written as assembler text.
package image

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/chazu/jolt/vm"
	"github.com/fxamacker/cbor/v2"
)

// Version is the current binary image version.
const Version = 1

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// envelope is the outer record of a binary image. Hash is the SHA-256 of
// the canonical encoding of Unit.
type envelope struct {
	Version uint8           `cbor:"1,keyasint"`
	Hash    [32]byte        `cbor:"2,keyasint"`
	Unit    cbor.RawMessage `cbor:"3,keyasint"`
}

type wireUnit struct {
	Name      string       `cbor:"1,keyasint"`
	Constants []wireConst  `cbor:"2,keyasint,omitempty"`
	Fields    []wireField  `cbor:"3,keyasint,omitempty"`
	Methods   []wireMethod `cbor:"4,keyasint,omitempty"`
}

type wireConst struct {
	Tag        uint8  `cbor:"1,keyasint"`
	Int        int32  `cbor:"2,keyasint,omitempty"`
	Class      string `cbor:"3,keyasint,omitempty"`
	Name       string `cbor:"4,keyasint,omitempty"`
	Descriptor string `cbor:"5,keyasint,omitempty"`
}

type wireField struct {
	Name string `cbor:"1,keyasint"`
	Type string `cbor:"2,keyasint"` // field descriptor letter
	Init uint16 `cbor:"3,keyasint,omitempty"`
}

type wireMethod struct {
	Name       string `cbor:"1,keyasint"`
	Descriptor string `cbor:"2,keyasint"`
	MaxLocals  int    `cbor:"3,keyasint"`
	MaxStack   int    `cbor:"4,keyasint,omitempty"`
	Code       []byte `cbor:"5,keyasint"`
}

// MarshalUnit serializes a unit definition to a binary image. Equal
// definitions always produce identical bytes.
func MarshalUnit(def *vm.UnitDef) ([]byte, error) {
	if def == nil {
		return nil, fmt.Errorf("image: nil unit")
	}
	body, err := cborEncMode.Marshal(toWire(def))
	if err != nil {
		return nil, fmt.Errorf("image: marshal unit %s: %w", def.Name, err)
	}
	return cborEncMode.Marshal(&envelope{
		Version: Version,
		Hash:    sha256.Sum256(body),
		Unit:    body,
	})
}

// UnmarshalUnit decodes a binary image, checking its version and hash.
func UnmarshalUnit(data []byte) (*vm.UnitDef, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("image: unmarshal envelope: %w", err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("image: unsupported version %d", env.Version)
	}
	if sum := sha256.Sum256(env.Unit); !bytes.Equal(sum[:], env.Hash[:]) {
		return nil, fmt.Errorf("image: content hash mismatch")
	}
	var w wireUnit
	if err := cbor.Unmarshal(env.Unit, &w); err != nil {
		return nil, fmt.Errorf("image: unmarshal unit: %w", err)
	}
	return fromWire(&w)
}

// Hash returns the content hash recorded for a unit definition.
func Hash(def *vm.UnitDef) ([32]byte, error) {
	body, err := cborEncMode.Marshal(toWire(def))
	if err != nil {
		return [32]byte{}, fmt.Errorf("image: marshal unit %s: %w", def.Name, err)
	}
	return sha256.Sum256(body), nil
}

func toWire(def *vm.UnitDef) *wireUnit {
	w := &wireUnit{Name: def.Name}
	for _, c := range def.Constants {
		w.Constants = append(w.Constants, wireConst{
			Tag:        uint8(c.Tag),
			Int:        c.Int,
			Class:      c.Class,
			Name:       c.Name,
			Descriptor: c.Descriptor,
		})
	}
	for _, f := range def.Fields {
		w.Fields = append(w.Fields, wireField{
			Name: f.Name,
			Type: string(f.Type.Descriptor()),
			Init: f.Init,
		})
	}
	for _, m := range def.Methods {
		w.Methods = append(w.Methods, wireMethod{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			MaxLocals:  m.MaxLocals,
			MaxStack:   m.MaxStack,
			Code:       m.Code,
		})
	}
	return w
}

func fromWire(w *wireUnit) (*vm.UnitDef, error) {
	def := &vm.UnitDef{Name: w.Name}
	for _, c := range w.Constants {
		def.Constants = append(def.Constants, vm.Constant{
			Tag:        vm.Tag(c.Tag),
			Int:        c.Int,
			Class:      c.Class,
			Name:       c.Name,
			Descriptor: c.Descriptor,
		})
	}
	for _, f := range w.Fields {
		k, err := vm.ParseFieldDescriptor(f.Type)
		if err != nil {
			return nil, fmt.Errorf("image: unit %s field %s: %w", w.Name, f.Name, err)
		}
		def.Fields = append(def.Fields, vm.FieldDef{Name: f.Name, Type: k, Init: f.Init})
	}
	for _, m := range w.Methods {
		def.Methods = append(def.Methods, vm.MethodDef{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			MaxLocals:  m.MaxLocals,
			MaxStack:   m.MaxStack,
			Code:       m.Code,
		})
	}
	return def, nil
}
