package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chazu/jolt/manifest"
	"github.com/chazu/jolt/vm"
	"github.com/chazu/jolt/vm/image"
)

func disasmCommand(args []string) error {
	fs, verbosity := newFlagSet("disasm", "[options] file...")
	showHash := fs.Bool("hash", false, "Print the content hash of each unit")
	fs.Parse(args)
	initLogging(fs, *verbosity, nil)

	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no unit files given")
	}

	for _, path := range fs.Args() {
		defs, err := image.ReadFile(path)
		if err != nil {
			return err
		}
		// Each file gets its own engine; references to other units are
		// not followed.
		engine := vm.New(vm.DefaultConfig())
		for _, def := range defs {
			c, err := engine.Load(def)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			if *showHash {
				sum, err := image.Hash(def)
				if err != nil {
					return err
				}
				fmt.Printf("; sha256 %s\n", hex.EncodeToString(sum[:]))
			}
			fmt.Print(vm.DisassembleClass(c))
			fmt.Println()
		}
	}
	return nil
}

func packCommand(args []string) error {
	fs, verbosity := newFlagSet("pack", "[options] file...")
	output := fs.String("o", "", "Output file (only with a single unit)")
	outDir := fs.String("d", ".", "Output directory; units are written as <Name>.jolt")
	fs.Parse(args)
	initLogging(fs, *verbosity, nil)

	if fs.NArg() == 0 {
		fs.Usage()
		return fmt.Errorf("no input files given")
	}

	var defs []*vm.UnitDef
	from := make(map[string]string)
	for _, path := range fs.Args() {
		got, err := image.ReadFile(path)
		if err != nil {
			return err
		}
		for _, def := range got {
			if prev, dup := from[def.Name]; dup {
				return fmt.Errorf("unit %s defined in both %s and %s", def.Name, prev, path)
			}
			from[def.Name] = path
		}
		defs = append(defs, got...)
	}
	if *output != "" && len(defs) != 1 {
		return fmt.Errorf("-o needs exactly one unit, inputs hold %d", len(defs))
	}

	// Reject malformed units before writing anything.
	check := vm.New(vm.DefaultConfig())
	for _, def := range defs {
		if _, err := check.Load(def); err != nil {
			return err
		}
	}

	if *output == "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			return err
		}
	}
	for _, def := range defs {
		path := *output
		if path == "" {
			path = filepath.Join(*outDir, def.Name+".jolt")
		}
		if err := image.WriteFile(path, def); err != nil {
			return err
		}
		log.Infof("wrote %s", path)
		fmt.Printf("%s -> %s\n", def.Name, path)
	}
	return nil
}

func listCommand(args []string) error {
	fs, verbosity := newFlagSet("list", "[options] [dir...]")
	configPath := fs.String("config", "", "Path to jolt.toml or its directory")
	fs.Parse(args)

	m, err := loadManifest(*configPath)
	if err != nil {
		return err
	}
	initLogging(fs, *verbosity, m)

	dirs := fs.Args()
	if len(dirs) == 0 {
		if m == nil {
			return fmt.Errorf("no directories given and no %s found", manifest.FileName)
		}
		dirs = m.UnitDirPaths()
	}
	names, err := image.NewDir(dirs...).List()
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
