package image

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/chazu/jolt/vm"
	"gopkg.in/yaml.v3"
)

// yamlUnit is the on-disk YAML form of a unit. A file may hold several
// units as separate documents.
type yamlUnit struct {
	Unit      string       `yaml:"unit"`
	Constants []yamlConst  `yaml:"constants,omitempty"`
	Fields    []yamlField  `yaml:"fields,omitempty"`
	Methods   []yamlMethod `yaml:"methods,omitempty"`
}

type yamlConst struct {
	Tag        string `yaml:"tag"`
	Value      *int32 `yaml:"value,omitempty"`
	Class      string `yaml:"class,omitempty"`
	Name       string `yaml:"name,omitempty"`
	Descriptor string `yaml:"descriptor,omitempty"`
}

type yamlField struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
	Init uint16 `yaml:"init,omitempty"`
}

type yamlMethod struct {
	Name       string `yaml:"name"`
	Descriptor string `yaml:"descriptor"`
	MaxLocals  int    `yaml:"max_locals"`
	MaxStack   int    `yaml:"max_stack,omitempty"`
	Code       string `yaml:"code"`
}

// ParseYAML decodes every unit document in data, assembling method code.
func ParseYAML(data []byte) ([]*vm.UnitDef, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var defs []*vm.UnitDef
	for {
		var raw yamlUnit
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("image: parse yaml: %w", err)
		}
		def, err := raw.toUnit()
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("image: yaml holds no units")
	}
	return defs, nil
}

func (y *yamlUnit) toUnit() (*vm.UnitDef, error) {
	if y.Unit == "" {
		return nil, fmt.Errorf("image: yaml document without unit name")
	}
	def := &vm.UnitDef{Name: y.Unit}
	for i, c := range y.Constants {
		tag, ok := vm.ParseTag(c.Tag)
		if !ok {
			return nil, fmt.Errorf("image: unit %s constant #%d: unknown tag %q", y.Unit, i+1, c.Tag)
		}
		k := vm.Constant{Tag: tag, Class: c.Class, Name: c.Name, Descriptor: c.Descriptor}
		if tag == vm.TagInteger {
			if c.Value == nil {
				return nil, fmt.Errorf("image: unit %s constant #%d: Integer without value", y.Unit, i+1)
			}
			k.Int = *c.Value
		}
		def.Constants = append(def.Constants, k)
	}
	for _, f := range y.Fields {
		kind, ok := vm.ParseKind(f.Type)
		if !ok || kind == vm.KindVoid {
			return nil, fmt.Errorf("image: unit %s field %s: bad type %q", y.Unit, f.Name, f.Type)
		}
		def.Fields = append(def.Fields, vm.FieldDef{Name: f.Name, Type: kind, Init: f.Init})
	}
	for _, m := range y.Methods {
		code, err := vm.Assemble(m.Code)
		if err != nil {
			return nil, fmt.Errorf("image: unit %s method %s:%s: %w", y.Unit, m.Name, m.Descriptor, err)
		}
		def.Methods = append(def.Methods, vm.MethodDef{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			MaxLocals:  m.MaxLocals,
			MaxStack:   m.MaxStack,
			Code:       code,
		})
	}
	return def, nil
}

// EncodeYAML renders units in the YAML assembly form, one document each.
func EncodeYAML(defs ...*vm.UnitDef) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	for _, def := range defs {
		if err := enc.Encode(fromUnit(def)); err != nil {
			return nil, fmt.Errorf("image: marshal yaml %s: %w", def.Name, err)
		}
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("image: encoder close: %w", err)
	}
	return buf.Bytes(), nil
}

func fromUnit(def *vm.UnitDef) *yamlUnit {
	pool := vm.NewConstantPool(def.Constants)
	y := &yamlUnit{Unit: def.Name}
	for _, c := range def.Constants {
		yc := yamlConst{Tag: c.Tag.String(), Class: c.Class, Name: c.Name, Descriptor: c.Descriptor}
		if c.Tag == vm.TagInteger {
			n := c.Int
			yc.Value = &n
		}
		y.Constants = append(y.Constants, yc)
	}
	for _, f := range def.Fields {
		y.Fields = append(y.Fields, yamlField{Name: f.Name, Type: f.Type.String(), Init: f.Init})
	}
	for _, m := range def.Methods {
		y.Methods = append(y.Methods, yamlMethod{
			Name:       m.Name,
			Descriptor: m.Descriptor,
			MaxLocals:  m.MaxLocals,
			MaxStack:   m.MaxStack,
			Code:       vm.DisassembleCode(m.Code, pool),
		})
	}
	return y
}
