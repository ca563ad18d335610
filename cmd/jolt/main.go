// Jolt CLI - runs static entry points of class units
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/jolt/manifest"
)

var log = commonlog.GetLogger("jolt.cli")

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: jolt <command> [options] [args...]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "  run     Run entry points (Class.method:descriptor)\n")
	fmt.Fprintf(os.Stderr, "  disasm  Print listings of unit files\n")
	fmt.Fprintf(os.Stderr, "  pack    Assemble YAML units into binary images\n")
	fmt.Fprintf(os.Stderr, "  list    List units found in the configured unit directories\n")
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  jolt run -fixtures MakeJVM.start:()I MakeJVM.start3:()Z\n")
	fmt.Fprintf(os.Stderr, "  jolt run -config ./jolt.toml -parallel\n")
	fmt.Fprintf(os.Stderr, "  jolt disasm units/Sample.jolt\n")
	fmt.Fprintf(os.Stderr, "  jolt pack -o units/Sample.jolt src/Sample.yaml\n")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCommand(args)
	case "disasm":
		err = disasmCommand(args)
	case "pack":
		err = packCommand(args)
	case "list":
		err = listCommand(args)
	case "-h", "-help", "--help", "help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set for a subcommand with the shared -v flag.
func newFlagSet(name, synopsis string) (*flag.FlagSet, *int) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	verbosity := fs.Int("v", 0, "Log verbosity (-1 warnings, 0 notices, 1 info, 2 debug); overrides jolt.toml")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jolt %s %s\n\nOptions:\n", name, synopsis)
		fs.PrintDefaults()
	}
	return fs, verbosity
}

// initLogging configures the log backend. The manifest's [log] section
// applies unless -v was given.
func initLogging(fs *flag.FlagSet, flagVerbosity int, m *manifest.Manifest) {
	verbosity, path := flagVerbosity, ""
	if m != nil {
		path = m.LogFilePath()
		if !flagSet(fs, "v") {
			verbosity = m.Log.Verbosity
		}
	}
	commonlog.Initialize(verbosity, path)
}

func flagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
