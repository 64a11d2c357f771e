package mlir

import "math/big"

// Module is a top-level builtin.module operation together with the Context
// that owns its types.
type Module struct {
	ctx *Context
	op  *Operation
}

// NewModule creates an empty module.
func NewModule(ctx *Context, loc Location) *Module {
	op := ctx.Create(OperationState{Name: "builtin.module", Regions: 1, Location: loc})
	op.Region(0).AppendBlock(NewBlock())
	return &Module{ctx: ctx, op: op}
}

// ModuleFromOperation wraps an existing builtin.module operation.
func ModuleFromOperation(ctx *Context, op *Operation) *Module {
	return &Module{ctx: ctx, op: op}
}

// Context returns the context owning the module.
func (m *Module) Context() *Context { return m.ctx }

// Operation returns the builtin.module operation.
func (m *Module) Operation() *Operation { return m.op }

// Body returns the single block of the module.
func (m *Module) Body() *Block { return m.op.Region(0).Entry() }

// Lookup finds a top-level symbol by name.
func (m *Module) Lookup(name string) *Operation {
	return LookupSymbol(m.op, name)
}

// Symbols returns the top-level operations carrying a sym_name.
func (m *Module) Symbols() []*Operation {
	var syms []*Operation
	for _, op := range m.Body().Operations() {
		if op.SymbolName() != "" {
			syms = append(syms, op)
		}
	}
	return syms
}

// String prints the module in plain form.
func (m *Module) String() string { return Print(m.op) }

// LookupSymbol finds a symbol in the body of a symbol table operation.
func LookupSymbol(table *Operation, name string) *Operation {
	if table == nil || table.NumRegions() == 0 || table.Region(0).Empty() {
		return nil
	}
	for _, op := range table.Region(0).Entry().ops {
		if op.SymbolName() == name {
			return op
		}
	}
	return nil
}

// Builder creates operations at an insertion point.
type Builder struct {
	ctx    *Context
	block  *Block
	before *Operation
	loc    Location
}

// NewBuilder creates a builder without an insertion point.
func NewBuilder(ctx *Context) *Builder {
	return &Builder{ctx: ctx}
}

// Context returns the builder's context.
func (b *Builder) Context() *Context { return b.ctx }

// SetLocation sets the location attached to new operations.
func (b *Builder) SetLocation(loc Location) { b.loc = loc }

// Location returns the current default location.
func (b *Builder) Location() Location { return b.loc }

// SetInsertionPointToEnd appends new operations to blk.
func (b *Builder) SetInsertionPointToEnd(blk *Block) {
	b.block, b.before = blk, nil
}

// SetInsertionPointToStart inserts new operations at the start of blk.
func (b *Builder) SetInsertionPointToStart(blk *Block) {
	b.block, b.before = blk, blk.Front()
}

// SetInsertionPointBefore inserts new operations in front of op.
func (b *Builder) SetInsertionPointBefore(op *Operation) {
	b.block, b.before = op.block, op
}

// SetInsertionPointAfter inserts new operations right after op.
func (b *Builder) SetInsertionPointAfter(op *Operation) {
	b.block, b.before = op.block, nil
	for i, o := range op.block.ops {
		if o == op && i+1 < len(op.block.ops) {
			b.before = op.block.ops[i+1]
			break
		}
	}
}

// InsertionBlock returns the block new operations go to.
func (b *Builder) InsertionBlock() *Block { return b.block }

// Insert places a detached operation at the insertion point.
func (b *Builder) Insert(op *Operation) *Operation {
	if b.block == nil {
		return op
	}
	if b.before != nil {
		b.block.insertBefore(op, b.before)
	} else {
		b.block.Append(op)
	}
	return op
}

// Create builds an operation and inserts it. Operations without a location
// get the builder's current location.
func (b *Builder) Create(state OperationState) *Operation {
	if state.Location.IsUnknown() {
		state.Location = b.loc
	}
	return b.Insert(b.ctx.Create(state))
}

// Op is shorthand for operations without successors or regions.
func (b *Builder) Op(name string, operands []*Value, results []Type, attrs map[string]Attribute) *Operation {
	return b.Create(OperationState{Name: name, Operands: operands, Results: results, Attributes: attrs})
}

// Value creates a single-result operation and returns its result.
func (b *Builder) Value(name string, result Type, operands ...*Value) *Value {
	return b.Op(name, operands, []Type{result}, nil).Result(0)
}

// Constant creates an integer constant of the given dialect flavour:
// "arith.constant", "index.constant" or "llvm.mlir.constant".
func (b *Builder) Constant(name string, t Type, v *big.Int) *Value {
	return b.Op(name, nil, []Type{t}, map[string]Attribute{"value": IntAttr(t, v)}).Result(0)
}

// ConstantInt is Constant for small values using arith.constant.
func (b *Builder) ConstantInt(t Type, v int64) *Value {
	return b.Constant("arith.constant", t, big.NewInt(v))
}

// Cmp creates an integer comparison producing i1.
func (b *Builder) Cmp(name string, pred Predicate, lhs, rhs *Value) *Value {
	return b.Op(name, []*Value{lhs, rhs}, []Type{b.ctx.IntegerType(1)},
		map[string]Attribute{"predicate": Int64Attr(b.ctx.IntegerType(64), int64(pred))}).Result(0)
}

// Branch creates an unconditional branch.
func (b *Builder) Branch(name string, dest *Block, args ...*Value) *Operation {
	return b.Create(OperationState{Name: name, Successors: []BlockRef{{Block: dest, Args: args}}})
}

// CondBranch creates a two-way conditional branch.
func (b *Builder) CondBranch(name string, cond *Value, trueDest *Block, trueArgs []*Value, falseDest *Block, falseArgs []*Value) *Operation {
	return b.Create(OperationState{
		Name:     name,
		Operands: []*Value{cond},
		Successors: []BlockRef{
			{Block: trueDest, Args: trueArgs},
			{Block: falseDest, Args: falseArgs},
		},
	})
}
