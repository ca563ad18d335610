package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/chazu/jolt/manifest"
	"github.com/chazu/jolt/vm"
	"github.com/chazu/jolt/vm/fixtures"
	"github.com/chazu/jolt/vm/image"
)

// classpathEnv supplies the default for run -cp.
const classpathEnv = "JOLT_CLASSPATH"

// runResult is the outcome of one entry point.
type runResult struct {
	entry   manifest.Entry
	value   vm.Value
	err     error
	elapsed time.Duration
}

func runCommand(args []string) error {
	fs, verbosity := newFlagSet("run", "[options] [Class.method:descriptor...]")
	configPath := fs.String("config", "", "Path to jolt.toml or its directory (default: search upward from .)")
	parallel := fs.Bool("parallel", false, "Run entry points concurrently, one thread each")
	classpath := fs.String("cp", os.Getenv(classpathEnv), "Unit directories and jar files, separated by "+string(os.PathListSeparator))
	withFixtures := fs.Bool("fixtures", false, "Make the built-in MakeJVM and StaticFieldsSample units available")
	maxDepth := fs.Int("max-depth", 0, "Maximum call depth (overrides jolt.toml)")
	maxSteps := fs.Int64("max-steps", 0, "Instruction budget per entry point (overrides jolt.toml)")
	trace := fs.Bool("trace", false, "Log every executed instruction at debug level")
	statics := fs.Bool("statics", false, "Print static fields after running")
	fs.Parse(args)

	m, err := loadManifest(*configPath)
	if err != nil {
		return err
	}
	initLogging(fs, *verbosity, m)

	cfg := vm.DefaultConfig()
	var chain vm.SourceChain
	var entries []string
	if *classpath != "" {
		chain = append(chain, image.NewDir(filepath.SplitList(*classpath)...))
	}
	if m != nil {
		cfg = m.EngineConfig()
		chain = append(chain, image.NewDir(m.UnitDirPaths()...))
		entries = m.Run.Entries
		if !flagSet(fs, "parallel") {
			*parallel = m.Run.Parallel
		}
		log.Infof("using %s", filepath.Join(m.Dir, manifest.FileName))
	}
	if *withFixtures {
		chain = append(chain, fixtures.Source())
	}
	if *maxDepth > 0 {
		cfg.MaxCallDepth = *maxDepth
	}
	if *maxSteps > 0 {
		cfg.MaxSteps = *maxSteps
	}
	if *trace {
		cfg.Trace = true
	}
	cfg.Source = chain

	if fs.NArg() > 0 {
		entries = fs.Args()
	}
	if len(entries) == 0 {
		fs.Usage()
		return fmt.Errorf("no entry points given")
	}
	parsed := make([]manifest.Entry, len(entries))
	for i, s := range entries {
		if parsed[i], err = manifest.ParseEntry(s); err != nil {
			return err
		}
	}

	engine := vm.New(cfg)
	if m != nil {
		for _, name := range m.Units.Preload {
			if err := engine.Initialize(name); err != nil {
				return fmt.Errorf("preload %s: %w", name, err)
			}
		}
	}

	results := runEntries(engine, parsed, *parallel)

	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			fmt.Printf("%s: %v\n", r.entry, r.err)
			continue
		}
		if r.value.IsVoid() {
			fmt.Printf("%s\n", r.entry)
		} else {
			fmt.Printf("%s = %s\n", r.entry, r.value)
		}
		log.Debugf("%s took %s", r.entry, r.elapsed)
	}

	if *statics {
		printStatics(engine)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d entry points failed", failed, len(results))
	}
	return nil
}

// runEntries invokes each entry on its own thread. Results keep entry
// order regardless of completion order.
func runEntries(engine *vm.VM, entries []manifest.Entry, parallel bool) []runResult {
	results := make([]runResult, len(entries))
	run := func(i int) {
		e := entries[i]
		start := time.Now()
		th := engine.NewThread()
		val, err := th.Invoke(e.Class, e.Signature.Name, e.Signature.Descriptor)
		results[i] = runResult{entry: e, value: val, err: err, elapsed: time.Since(start)}
	}

	if !parallel {
		for i := range entries {
			run(i)
		}
		return results
	}

	var g errgroup.Group
	for i := range entries {
		i := i
		g.Go(func() error {
			run(i)
			return nil
		})
	}
	g.Wait()
	return results
}

func printStatics(engine *vm.VM) {
	snap := engine.Statics().Snapshot()
	for _, key := range vm.SnapshotKeys(snap) {
		fmt.Printf("  %s = %s\n", key, snap[key])
	}
}

// loadManifest loads jolt.toml from path, which may name the file or its
// directory. With an empty path it searches upward from the working
// directory and returns nil when there is none.
func loadManifest(path string) (*manifest.Manifest, error) {
	if path == "" {
		return manifest.FindAndLoad(".")
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return manifest.Load(path)
	}
	if filepath.Base(path) != manifest.FileName {
		return nil, fmt.Errorf("%s: config file must be named %s", path, manifest.FileName)
	}
	return manifest.Load(filepath.Dir(path))
}
