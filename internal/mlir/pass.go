package mlir

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("sierra2mlir.mlir")

// Pass is a named module transformation. Passes hold no state between runs.
type Pass interface {
	Name() string
	Description() string
	Run(m *Module) error
}

var (
	passMu   sync.RWMutex
	registry = map[string]Pass{}
)

// RegisterPass makes a pass available by name. Registering the same name
// twice keeps the first registration.
func RegisterPass(p Pass) {
	passMu.Lock()
	defer passMu.Unlock()
	if _, exists := registry[p.Name()]; !exists {
		registry[p.Name()] = p
	}
}

// LookupPass returns the registered pass with the given name.
func LookupPass(name string) (Pass, bool) {
	passMu.RLock()
	defer passMu.RUnlock()
	p, ok := registry[name]
	return p, ok
}

// RegisteredPasses returns the sorted names of all registered passes.
func RegisteredPasses() []string {
	passMu.RLock()
	defer passMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PassError wraps a failure of a single pass.
type PassError struct {
	Pass string
	// Verification is set when the pass ran but left an invalid module.
	Verification bool
	Err          error
}

func (e *PassError) Error() string {
	if e.Verification {
		return fmt.Sprintf("verification failed after pass '%s': %s", e.Pass, e.Err)
	}
	return fmt.Sprintf("pass '%s' failed: %s", e.Pass, e.Err)
}

func (e *PassError) Unwrap() error { return e.Err }

// PassManager runs an ordered list of passes on a module.
type PassManager struct {
	ctx    *Context
	passes []Pass
	verify bool
}

// NewPassManager creates an empty pass manager.
func NewPassManager(ctx *Context) *PassManager {
	return &PassManager{ctx: ctx}
}

// AddPass appends a pass.
func (pm *PassManager) AddPass(p Pass) {
	pm.passes = append(pm.passes, p)
}

// EnableVerifier toggles structural verification after every pass.
func (pm *PassManager) EnableVerifier(enabled bool) {
	pm.verify = enabled
}

// Passes returns the names of the scheduled passes.
func (pm *PassManager) Passes() []string {
	names := make([]string, len(pm.passes))
	for i, p := range pm.passes {
		names[i] = p.Name()
	}
	return names
}

// Run applies every pass in order, stopping at the first failure.
func (pm *PassManager) Run(m *Module) error {
	if m.ctx != pm.ctx {
		return fmt.Errorf("module and pass manager use different contexts")
	}
	if pm.verify {
		if err := Verify(m.op); err != nil {
			return &PassError{Pass: "(input)", Verification: true, Err: err}
		}
	}
	for _, p := range pm.passes {
		start := time.Now()
		if err := p.Run(m); err != nil {
			return &PassError{Pass: p.Name(), Err: err}
		}
		if pm.verify {
			if err := Verify(m.op); err != nil {
				return &PassError{Pass: p.Name(), Verification: true, Err: err}
			}
		}
		log.Debugf("pass %s finished in %s", p.Name(), time.Since(start))
	}
	return nil
}
