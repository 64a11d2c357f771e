package mlir

import (
	"sort"
	"strings"
	"sync"
)

// OpDefinition describes a registered operation.
type OpDefinition struct {
	Name string

	// Pure operations have no side effects and may be erased when unused,
	// folded, or deduplicated.
	Pure bool

	// Terminator operations end a block.
	Terminator bool

	// IsolatedFromAbove operations cannot reference values defined outside
	// their regions.
	IsolatedFromAbove bool

	// NoTerminator marks region-bearing operations whose blocks do not end in
	// a terminator.
	NoTerminator bool

	// Verify runs operation specific checks after the structural ones.
	Verify func(op *Operation) error
}

// Dialect is a named family of operations.
type Dialect struct {
	Name string
	ops  map[string]*OpDefinition
}

// NewDialect creates an empty dialect.
func NewDialect(name string) *Dialect {
	return &Dialect{Name: name, ops: make(map[string]*OpDefinition)}
}

// AddOp registers an operation definition. The definition name is the
// operation name without the dialect prefix.
func (d *Dialect) AddOp(def *OpDefinition) {
	if !strings.HasPrefix(def.Name, d.Name+".") {
		def.Name = d.Name + "." + def.Name
	}
	d.ops[def.Name] = def
}

// Op returns the definition of a fully qualified operation name.
func (d *Dialect) Op(name string) (*OpDefinition, bool) {
	def, ok := d.ops[name]
	return def, ok
}

// OpNames returns the sorted operation names of the dialect.
func (d *Dialect) OpNames() []string {
	names := make([]string, 0, len(d.ops))
	for name := range d.ops {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var (
	dialectMu sync.RWMutex
	dialects  = map[string]*Dialect{}
)

// RegisterDialect adds a dialect to the process-wide registry. Contexts
// created afterwards load it.
func RegisterDialect(d *Dialect) {
	dialectMu.Lock()
	defer dialectMu.Unlock()
	dialects[d.Name] = d
}

// RegisteredDialects returns the sorted names of all registered dialects.
func RegisteredDialects() []string {
	dialectMu.RLock()
	defer dialectMu.RUnlock()
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Context owns the dialects and interned types used by modules. A Context
// must outlive every module and artifact derived from it.
type Context struct {
	mu       sync.Mutex
	dialects map[string]*Dialect
	types    map[string]Type
	index    *IndexType
	ptr      *PointerType
	void     *VoidType
}

// NewContext creates a context with every registered dialect loaded.
func NewContext() *Context {
	ctx := &Context{
		dialects: make(map[string]*Dialect),
		types:    make(map[string]Type),
		index:    &IndexType{},
		ptr:      &PointerType{},
		void:     &VoidType{},
	}
	dialectMu.RLock()
	for name, d := range dialects {
		ctx.dialects[name] = d
	}
	dialectMu.RUnlock()
	return ctx
}

// LoadedDialects returns the sorted names of the dialects loaded in ctx.
func (c *Context) LoadedDialects() []string {
	names := make([]string, 0, len(c.dialects))
	for name := range c.dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookupOp resolves an operation name against the loaded dialects.
func (c *Context) lookupOp(name string) *OpDefinition {
	dot := strings.IndexByte(name, '.')
	if dot < 0 {
		return nil
	}
	d, ok := c.dialects[name[:dot]]
	if !ok {
		return nil
	}
	def, _ := d.Op(name)
	return def
}

func (c *Context) intern(t Type) Type {
	key := t.String()
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.types[key]; ok {
		return existing
	}
	c.types[key] = t
	return t
}

// IntegerType returns the interned integer type of the given width.
func (c *Context) IntegerType(width int) *IntegerType {
	return c.intern(&IntegerType{Width: width}).(*IntegerType)
}

// IndexType returns the index type.
func (c *Context) IndexType() *IndexType { return c.index }

// PointerType returns the opaque LLVM pointer type.
func (c *Context) PointerType() *PointerType { return c.ptr }

// VoidType returns the LLVM void type.
func (c *Context) VoidType() *VoidType { return c.void }

// MemRefType returns the interned memref type.
func (c *Context) MemRefType(size int, elem Type) *MemRefType {
	return c.intern(&MemRefType{Size: size, Elem: elem}).(*MemRefType)
}

// FunctionType returns the interned function type.
func (c *Context) FunctionType(inputs, results []Type) *FunctionType {
	return c.intern(&FunctionType{
		Inputs:  append([]Type(nil), inputs...),
		Results: append([]Type(nil), results...),
	}).(*FunctionType)
}

// StructType returns the interned LLVM struct type.
func (c *Context) StructType(fields []Type) *StructType {
	return c.intern(&StructType{Fields: append([]Type(nil), fields...)}).(*StructType)
}

// LLVMFunctionType returns the interned LLVM function type.
func (c *Context) LLVMFunctionType(result Type, params []Type) *LLVMFunctionType {
	return c.intern(&LLVMFunctionType{Result: result, Params: append([]Type(nil), params...)}).(*LLVMFunctionType)
}
