package vm

import (
	"fmt"
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Static storage
// ---------------------------------------------------------------------------

type initPhase uint8

const (
	phaseUninitialized initPhase = iota
	phaseInitializing
	phaseInitialized
	phaseErroneous
)

func (p initPhase) String() string {
	switch p {
	case phaseInitializing:
		return "initializing"
	case phaseInitialized:
		return "initialized"
	case phaseErroneous:
		return "erroneous"
	}
	return "uninitialized"
}

// classState is the static-storage record of one class. values is nil
// until the class is first touched.
type classState struct {
	phase  initPhase
	owner  *Thread
	values []Value
	cause  error
}

// Statics is the VM-wide table of static field values together with each
// class's initialization marker. A single mutex guards the whole table;
// cond wakes threads waiting for another thread's initialization.
//
// At most one thread runs initializers at a time. initOwner is that thread
// and initDepth counts its nested initializations; it may start further
// initializations while it holds ownership.
type Statics struct {
	mu        sync.Mutex
	cond      *sync.Cond
	classes   map[*Class]*classState
	initOwner *Thread
	initDepth int
}

func newStatics() *Statics {
	s := &Statics{classes: make(map[*Class]*classState)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// state returns the record for c, creating it. Caller holds s.mu.
func (s *Statics) state(c *Class) *classState {
	st, ok := s.classes[c]
	if !ok {
		st = &classState{}
		s.classes[c] = st
	}
	return st
}

// Lookup returns the current value of a static field. ok is false while the
// class has not been touched or the field does not exist.
func (s *Statics) Lookup(c *Class, field string) (Value, bool) {
	f, exists := c.Field(field)
	if !exists {
		return Value{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.classes[c]
	if !ok || st.values == nil {
		return Value{}, false
	}
	return st.values[f.Index], true
}

// Initialized reports whether c has completed initialization.
func (s *Statics) Initialized(c *Class) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.classes[c]
	return ok && st.phase == phaseInitialized
}

// Phase returns a human-readable initialization state for c.
func (s *Statics) Phase(c *Class) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.classes[c]; ok {
		return st.phase.String()
	}
	return phaseUninitialized.String()
}

// Snapshot returns every present static field keyed by "Class.field".
func (s *Statics) Snapshot() map[string]Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Value)
	for c, st := range s.classes {
		if st.values == nil {
			continue
		}
		for _, f := range c.fields {
			out[c.Name+"."+f.Name] = st.values[f.Index]
		}
	}
	return out
}

// SnapshotKeys returns the keys of Snapshot in sorted order.
func SnapshotKeys(snap map[string]Value) []string {
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// materialize writes defaults, then initializer constants, for every field
// of c. Caller holds s.mu, so both steps become visible together.
func (s *Statics) materialize(st *classState, c *Class) error {
	values := make([]Value, len(c.fields))
	for i, f := range c.fields {
		values[i] = Zero(f.Type)
	}
	for i, f := range c.fields {
		if f.Init == 0 {
			continue
		}
		n, err := c.Pool.Integer(int(f.Init))
		if err != nil {
			return err
		}
		values[i] = Int(n).As(f.Type)
	}
	st.values = values
	return nil
}

func (s *Statics) get(c *Class, f Field) (Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.classes[c]
	if !ok || st.values == nil {
		return Value{}, fmt.Errorf("%s.%s read before initialization", c.Name, f.Name)
	}
	return st.values[f.Index], nil
}

func (s *Statics) put(c *Class, f Field, v Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.classes[c]
	if !ok || st.values == nil {
		return fmt.Errorf("%s.%s written before initialization", c.Name, f.Name)
	}
	st.values[f.Index] = v.As(f.Type)
	return nil
}

// acquireInit makes t the initializing thread. Caller holds s.mu and has
// seen initOwner be nil or t.
func (s *Statics) acquireInit(t *Thread) {
	s.initOwner = t
	s.initDepth++
}

// releaseInit undoes one acquireInit and wakes waiters once t's outermost
// initialization has finished. Caller holds s.mu.
func (s *Statics) releaseInit() {
	s.initDepth--
	if s.initDepth == 0 {
		s.initOwner = nil
	}
	s.cond.Broadcast()
}

// reset forgets all static state.
func (s *Statics) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classes = make(map[*Class]*classState)
	s.cond.Broadcast()
}
