package vm

import (
	"errors"
	"sort"
	"sync"

	"github.com/tliron/commonlog"
)

// Engine defaults.
const (
	DefaultMaxCallDepth    = 1024
	DefaultMaxOperandStack = 256
)

// Config holds engine limits and collaborators.
type Config struct {
	MaxCallDepth    int        // frames per thread, including the entry frame
	MaxOperandStack int        // operand stack size for methods that declare none
	MaxSteps        int64      // instructions per top-level invocation, 0 for unlimited
	Trace           bool       // log every executed instruction at debug level
	Source          UnitSource // lazy loading of referenced units, may be nil
	Logger          commonlog.Logger
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		MaxCallDepth:    DefaultMaxCallDepth,
		MaxOperandStack: DefaultMaxOperandStack,
	}
}

// ---------------------------------------------------------------------------
// VM: loaded units plus their static state
// ---------------------------------------------------------------------------

// VM holds the loaded class units and the static storage they address.
// It is safe for concurrent use by multiple Threads.
type VM struct {
	cfg Config

	mu      sync.RWMutex
	classes map[string]*Class

	statics   *Statics
	log       commonlog.Logger
	loaderLog commonlog.Logger
}

// New creates a VM. Zero limits in cfg fall back to the defaults.
func New(cfg Config) *VM {
	if cfg.MaxCallDepth <= 0 {
		cfg.MaxCallDepth = DefaultMaxCallDepth
	}
	if cfg.MaxOperandStack <= 0 {
		cfg.MaxOperandStack = DefaultMaxOperandStack
	}
	log := cfg.Logger
	if log == nil {
		log = commonlog.GetLogger("jolt.vm")
	}
	return &VM{
		cfg:       cfg,
		classes:   make(map[string]*Class),
		statics:   newStatics(),
		log:       log,
		loaderLog: commonlog.GetLogger("jolt.loader"),
	}
}

// Config returns the effective configuration.
func (v *VM) Config() Config {
	return v.cfg
}

// Class returns a loaded unit by name.
func (v *VM) Class(name string) (*Class, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	c, ok := v.classes[name]
	return c, ok
}

// Classes returns the names of the loaded units, sorted.
func (v *VM) Classes() []string {
	v.mu.RLock()
	names := make([]string, 0, len(v.classes))
	for name := range v.classes {
		names = append(names, name)
	}
	v.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Statics returns the VM's static storage for inspection.
func (v *VM) Statics() *Statics {
	return v.statics
}

// Invoke runs class.name:descriptor on a fresh Thread.
func (v *VM) Invoke(class, name, descriptor string, args ...Value) (Value, error) {
	return v.NewThread().Invoke(class, name, descriptor, args...)
}

// InvokeMethod runs the method with signature sig of c on a fresh Thread.
func (v *VM) InvokeMethod(c *Class, sig Signature, args ...Value) (Value, error) {
	m, ok := c.Method(sig)
	if !ok {
		return Void, &Fault{
			Kind:   InvalidMethodReference,
			Class:  c.Name,
			Method: sig.String(),
			PC:     -1,
			Detail: "no such method",
		}
	}
	return v.NewThread().InvokeMethod(m, args...)
}

// Initialize forces initialization of the named unit.
func (v *VM) Initialize(name string) error {
	c, err := v.resolveClass(name)
	if err != nil {
		return err
	}
	return v.NewThread().ensureInitialized(c)
}

// Reset discards all static state. Loaded units stay loaded and will be
// initialized again on next use. It must not be called while invocations
// are running.
func (v *VM) Reset() {
	v.statics.reset()
	v.log.Info("static storage reset")
}

// ---------------------------------------------------------------------------
// Unit sources
// ---------------------------------------------------------------------------

// ErrUnitNotFound is returned by a UnitSource that has no unit of the
// requested name.
var ErrUnitNotFound = errors.New("unit not found")

// UnitSource supplies unit definitions by name for lazy loading.
type UnitSource interface {
	Find(name string) (*UnitDef, error)
}

// MapSource is an in-memory UnitSource.
type MapSource map[string]*UnitDef

// Find implements UnitSource.
func (s MapSource) Find(name string) (*UnitDef, error) {
	if def, ok := s[name]; ok {
		return def, nil
	}
	return nil, ErrUnitNotFound
}

// SourceChain tries each source in order, skipping ErrUnitNotFound.
type SourceChain []UnitSource

// Find implements UnitSource.
func (s SourceChain) Find(name string) (*UnitDef, error) {
	for _, src := range s {
		def, err := src.Find(name)
		if err == nil {
			return def, nil
		}
		if !errors.Is(err, ErrUnitNotFound) {
			return nil, err
		}
	}
	return nil, ErrUnitNotFound
}
