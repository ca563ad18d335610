// Package fixtures provides the conformance units the engine is checked
// against, embedded in YAML assembly form.
package fixtures

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/chazu/jolt/vm"
	"github.com/chazu/jolt/vm/image"
)

//go:embed units/*.yaml
var unitFiles embed.FS

var (
	loadOnce sync.Once
	units    map[string]*vm.UnitDef
)

func load() {
	units = make(map[string]*vm.UnitDef)
	entries, err := unitFiles.ReadDir("units")
	if err != nil {
		panic(fmt.Sprintf("fixtures: %v", err))
	}
	for _, e := range entries {
		name := path.Join("units", e.Name())
		data, err := unitFiles.ReadFile(name)
		if err != nil {
			panic(fmt.Sprintf("fixtures: %v", err))
		}
		defs, err := image.Decode(name, data)
		if err != nil {
			panic(fmt.Sprintf("fixtures: %v", err))
		}
		for _, def := range defs {
			units[def.Name] = def
		}
	}
}

// Get returns a copy of the named fixture unit.
func Get(name string) (*vm.UnitDef, bool) {
	loadOnce.Do(load)
	def, ok := units[name]
	if !ok {
		return nil, false
	}
	return def.Clone(), true
}

func mustGet(name string) *vm.UnitDef {
	def, ok := Get(name)
	if !ok {
		panic("fixtures: missing unit " + name)
	}
	return def
}

// MakeJVM returns the MakeJVM unit: compute, doubled, compute2, isEven,
// isOdd and the start, start2 and start3 entry points.
func MakeJVM() *vm.UnitDef { return mustGet("MakeJVM") }

// StaticFieldsSample returns the StaticFieldsSample unit.
func StaticFieldsSample() *vm.UnitDef { return mustGet("StaticFieldsSample") }

// Names returns the fixture unit names, sorted.
func Names() []string {
	loadOnce.Do(load)
	names := make([]string, 0, len(units))
	for name := range units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns copies of every fixture unit in name order.
func All() []*vm.UnitDef {
	var defs []*vm.UnitDef
	for _, name := range Names() {
		defs = append(defs, mustGet(name))
	}
	return defs
}

// Source returns a UnitSource serving the fixtures.
func Source() vm.UnitSource {
	src := make(vm.MapSource)
	for _, def := range All() {
		src[def.Name] = def
	}
	return src
}
