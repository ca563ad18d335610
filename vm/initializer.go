package vm

// ensureInitialized runs class initialization for c on first active use.
//
// Initializers run on one thread at a time across the VM. The thread that
// holds that role writes defaults and initializer constants for c in one
// critical section, then runs <clinit>()V outside the lock. It may touch
// further classes from inside an initializer and initialize them in turn.
// A nested touch of a class it is still initializing returns at once and
// sees whatever state initialization has produced so far. Other threads
// wait until the role is free and then find c initialized.
func (t *Thread) ensureInitialized(c *Class) error {
	s := t.vm.statics
	s.mu.Lock()
	var st *classState
	for {
		st = s.state(c)
		if st.phase == phaseInitialized {
			s.mu.Unlock()
			return nil
		}
		if st.phase == phaseErroneous {
			cause := st.cause
			s.mu.Unlock()
			return &Fault{
				Kind:   InitializerFault,
				Class:  c.Name,
				PC:     -1,
				Detail: "class initialization previously failed",
				Err:    cause,
			}
		}
		if s.initOwner == nil || s.initOwner == t {
			break
		}
		s.cond.Wait()
	}
	if st.phase == phaseInitializing {
		// Recursive touch from the initializing thread.
		s.mu.Unlock()
		return nil
	}

	s.acquireInit(t)
	st.phase = phaseInitializing
	st.owner = t
	if err := s.materialize(st, c); err != nil {
		st.phase = phaseErroneous
		st.owner = nil
		st.cause = err
		s.releaseInit()
		s.mu.Unlock()
		return &Fault{Kind: InitializerFault, Class: c.Name, PC: -1, Err: err}
	}
	s.mu.Unlock()
	t.log.Debugf("initializing %s", c.Name)

	var err error
	if clinit, ok := c.Initializer(); ok {
		_, err = t.call(clinit, nil)
	}

	s.mu.Lock()
	st.owner = nil
	if err != nil {
		st.phase = phaseErroneous
		st.cause = err
	} else {
		st.phase = phaseInitialized
	}
	s.releaseInit()
	s.mu.Unlock()

	if err != nil {
		t.log.Warningf("initializer of %s failed: %v", c.Name, err)
		return &Fault{Kind: InitializerFault, Class: c.Name, PC: -1, Detail: "<clinit> failed", Err: err}
	}
	t.log.Debugf("initialized %s", c.Name)
	return nil
}
