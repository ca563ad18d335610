package image

import (
	"archive/zip"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/jolt/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("jolt.image")

// Extensions recognized by ReadFile and Dir, in lookup order.
var Extensions = []string{".jolt", ".yaml", ".yml", ".class"}

// ReadFile reads the units in a binary image, YAML file or compiled class
// file.
func ReadFile(path string) ([]*vm.UnitDef, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Decode(path, data)
}

// Decode decodes data according to the extension of name.
func Decode(name string, data []byte) ([]*vm.UnitDef, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".jolt":
		def, err := UnmarshalUnit(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return []*vm.UnitDef{def}, nil
	case ".yaml", ".yml":
		defs, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return defs, nil
	case ".class":
		def, err := ParseClass(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return []*vm.UnitDef{def}, nil
	default:
		return nil, fmt.Errorf("%s: unknown unit file extension %q", name, ext)
	}
}

// WriteFile writes def to path, as a binary image or YAML by extension.
func WriteFile(path string, def *vm.UnitDef) error {
	var data []byte
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".jolt":
		data, err = MarshalUnit(def)
	case ".yaml", ".yml":
		data, err = EncodeYAML(def)
	case ".class":
		return fmt.Errorf("%s: class files are read-only", path)
	default:
		return fmt.Errorf("%s: unknown unit file extension %q", path, ext)
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("image: write %s: %w", path, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dir: directory-backed unit source
// ---------------------------------------------------------------------------

// Dir finds units by name in a list of directories and archives. Unit Foo
// is looked up as Foo.jolt, Foo.yaml, Foo.yml then Foo.class in each
// directory in turn. A path ending in .jar or .zip is searched for
// Foo.class only; a unit name may contain slashes, as compiled class
// names do.
type Dir struct {
	Paths []string
}

// NewDir returns a Dir searching paths in order.
func NewDir(paths ...string) *Dir {
	return &Dir{Paths: paths}
}

// Find implements vm.UnitSource.
func (d *Dir) Find(name string) (*vm.UnitDef, error) {
	for _, dir := range d.Paths {
		if isArchive(dir) {
			def, err := findInArchive(dir, name)
			if errors.Is(err, vm.ErrUnitNotFound) || errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return def, err
		}
		for _, ext := range Extensions {
			path := filepath.Join(dir, filepath.FromSlash(name)+ext)
			defs, err := ReadFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, def := range defs {
				if def.Name == name {
					log.Debugf("found unit %s in %s", name, path)
					return def, nil
				}
			}
			log.Warningf("%s does not define unit %s", path, name)
		}
	}
	return nil, vm.ErrUnitNotFound
}

// List returns the names of unit files in the directories, without
// extension, in directory order. Archives contribute their class entries.
func (d *Dir) List() ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, dir := range d.Paths {
		if isArchive(dir) {
			found, err := listArchive(dir)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			for _, name := range found {
				add(name)
			}
			continue
		}
		entries, err := os.ReadDir(dir)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			ext := filepath.Ext(e.Name())
			if !isUnitExt(ext) {
				continue
			}
			add(strings.TrimSuffix(e.Name(), ext))
		}
	}
	return names, nil
}

func isArchive(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".jar" || ext == ".zip"
}

// findInArchive reads name.class from a jar or zip file.
func findInArchive(path, name string) (*vm.UnitDef, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	entry := name + ".class"
	data, err := fs.ReadFile(zr, entry)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, vm.ErrUnitNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s!%s: %w", path, entry, err)
	}
	def, err := ParseClass(data)
	if err != nil {
		return nil, fmt.Errorf("%s!%s: %w", path, entry, err)
	}
	if def.Name != name {
		return nil, fmt.Errorf("%s!%s: defines class %s", path, entry, def.Name)
	}
	log.Debugf("found unit %s in %s", name, path)
	return def, nil
}

func listArchive(path string) ([]string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, ".class") && !f.FileInfo().IsDir() {
			names = append(names, strings.TrimSuffix(f.Name, ".class"))
		}
	}
	return names, nil
}

func isUnitExt(ext string) bool {
	for _, e := range Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}
