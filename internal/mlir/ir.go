package mlir

import (
	"fmt"
	"sort"
	"strings"
)

// Location records where an operation came from.
type Location struct {
	File string
	Line int
	Col  int
}

// UnknownLoc is the zero location.
var UnknownLoc = Location{}

// FileLineCol builds a file location.
func FileLineCol(file string, line, col int) Location {
	return Location{File: file, Line: line, Col: col}
}

// IsUnknown reports whether the location carries no position.
func (l Location) IsUnknown() bool { return l.File == "" && l.Line == 0 && l.Col == 0 }

func (l Location) String() string {
	if l.IsUnknown() {
		return "loc(unknown)"
	}
	return fmt.Sprintf("loc(%q:%d:%d)", l.File, l.Line, l.Col)
}

// Value is an SSA value: either an operation result or a block argument.
type Value struct {
	typ   Type
	owner *Operation
	block *Block
	index int
	uses  []*Operand
}

// Type returns the value's type.
func (v *Value) Type() Type { return v.typ }

// SetType changes the value's type in place.
func (v *Value) SetType(t Type) { v.typ = t }

// DefiningOp returns the operation producing v, or nil for block arguments.
func (v *Value) DefiningOp() *Operation { return v.owner }

// ParentBlock returns the block that defines v.
func (v *Value) ParentBlock() *Block {
	if v.owner != nil {
		return v.owner.block
	}
	return v.block
}

// IsBlockArgument reports whether v is a block argument.
func (v *Value) IsBlockArgument() bool { return v.owner == nil && v.block != nil }

// Index is the result or argument number of v.
func (v *Value) Index() int { return v.index }

// Uses returns a snapshot of the operands referring to v.
func (v *Value) Uses() []*Operand { return append([]*Operand(nil), v.uses...) }

// HasUses reports whether anything refers to v.
func (v *Value) HasUses() bool { return len(v.uses) > 0 }

// Users returns the distinct operations using v, in use order.
func (v *Value) Users() []*Operation {
	seen := make(map[*Operation]bool)
	var users []*Operation
	for _, u := range v.uses {
		if !seen[u.owner] {
			seen[u.owner] = true
			users = append(users, u.owner)
		}
	}
	return users
}

// ReplaceAllUsesWith redirects every use of v to other.
func (v *Value) ReplaceAllUsesWith(other *Value) {
	if v == other {
		return
	}
	for _, u := range v.Uses() {
		u.Set(other)
	}
}

// ReplaceUsesExcept redirects every use of v to other except those owned by
// the given operation.
func (v *Value) ReplaceUsesExcept(other *Value, except *Operation) {
	for _, u := range v.Uses() {
		if u.owner != except {
			u.Set(other)
		}
	}
}

func (v *Value) removeUse(o *Operand) {
	for i, u := range v.uses {
		if u == o {
			v.uses = append(v.uses[:i], v.uses[i+1:]...)
			return
		}
	}
}

// Operand is a use of a value by an operation.
type Operand struct {
	value *Value
	owner *Operation
}

// Get returns the used value.
func (o *Operand) Get() *Value { return o.value }

// Owner returns the using operation.
func (o *Operand) Owner() *Operation { return o.owner }

// Set points the operand at a new value, keeping use lists consistent.
func (o *Operand) Set(v *Value) {
	if o.value != nil {
		o.value.removeUse(o)
	}
	o.value = v
	if v != nil {
		v.uses = append(v.uses, o)
	}
}

func (o *Operand) drop() { o.Set(nil) }

// Successor is a branch target with its forwarded operands.
type Successor struct {
	block    *Block
	operands []*Operand
}

// Block returns the target block.
func (s *Successor) Block() *Block { return s.block }

// Operands returns the values forwarded to the target's arguments.
func (s *Successor) Operands() []*Value { return operandValues(s.operands) }

// BlockRef names a successor when creating an operation.
type BlockRef struct {
	Block *Block
	Args  []*Value
}

// OperationState collects everything needed to create an operation.
type OperationState struct {
	Name       string
	Operands   []*Value
	Results    []Type
	Attributes map[string]Attribute
	Successors []BlockRef
	Regions    int
	Location   Location
}

// Operation is a generic IR operation.
type Operation struct {
	name     string
	def      *OpDefinition
	operands []*Operand
	results  []*Value
	attrs    map[string]Attribute
	succs    []*Successor
	regions  []*Region
	loc      Location
	block    *Block
}

// Create builds a detached operation from state.
func (c *Context) Create(state OperationState) *Operation {
	op := &Operation{
		name:  state.Name,
		def:   c.lookupOp(state.Name),
		attrs: make(map[string]Attribute, len(state.Attributes)),
		loc:   state.Location,
	}
	for _, v := range state.Operands {
		op.addOperand(v)
	}
	for i, t := range state.Results {
		op.results = append(op.results, &Value{typ: t, owner: op, index: i})
	}
	for k, a := range state.Attributes {
		op.attrs[k] = a
	}
	for _, ref := range state.Successors {
		op.AddSuccessor(ref.Block, ref.Args...)
	}
	for i := 0; i < state.Regions; i++ {
		op.regions = append(op.regions, &Region{parent: op})
	}
	return op
}

func (op *Operation) addOperand(v *Value) {
	o := &Operand{owner: op}
	o.Set(v)
	op.operands = append(op.operands, o)
}

// Name returns the fully qualified operation name.
func (op *Operation) Name() string { return op.name }

// Dialect returns the dialect prefix of the operation name.
func (op *Operation) Dialect() string {
	if dot := strings.IndexByte(op.name, '.'); dot >= 0 {
		return op.name[:dot]
	}
	return op.name
}

// Definition returns the registered definition, or nil.
func (op *Operation) Definition() *OpDefinition { return op.def }

// IsRegistered reports whether the operation belongs to a loaded dialect.
func (op *Operation) IsRegistered() bool { return op.def != nil }

// IsPure reports whether the operation is free of side effects.
func (op *Operation) IsPure() bool { return op.def != nil && op.def.Pure }

// IsTerminator reports whether the operation ends a block.
func (op *Operation) IsTerminator() bool { return op.def != nil && op.def.Terminator }

// Location returns the operation's source location.
func (op *Operation) Location() Location { return op.loc }

// SetLocation replaces the operation's source location.
func (op *Operation) SetLocation(l Location) { op.loc = l }

// NumOperands returns the number of regular operands.
func (op *Operation) NumOperands() int { return len(op.operands) }

// Operand returns operand i.
func (op *Operation) Operand(i int) *Value { return op.operands[i].value }

// Operands returns the regular operand values.
func (op *Operation) Operands() []*Value { return operandValues(op.operands) }

// SetOperand replaces operand i.
func (op *Operation) SetOperand(i int, v *Value) { op.operands[i].Set(v) }

// OperandTypes returns the types of the regular operands.
func (op *Operation) OperandTypes() []Type {
	types := make([]Type, len(op.operands))
	for i, o := range op.operands {
		if o.value != nil {
			types[i] = o.value.typ
		}
	}
	return types
}

// NumResults returns the number of results.
func (op *Operation) NumResults() int { return len(op.results) }

// Result returns result i.
func (op *Operation) Result(i int) *Value { return op.results[i] }

// Results returns all results.
func (op *Operation) Results() []*Value { return append([]*Value(nil), op.results...) }

// ResultTypes returns the result types.
func (op *Operation) ResultTypes() []Type {
	types := make([]Type, len(op.results))
	for i, r := range op.results {
		types[i] = r.typ
	}
	return types
}

// HasResultUses reports whether any result is used.
func (op *Operation) HasResultUses() bool {
	for _, r := range op.results {
		if r.HasUses() {
			return true
		}
	}
	return false
}

// Attr returns the named attribute, or nil.
func (op *Operation) Attr(name string) Attribute { return op.attrs[name] }

// SetAttr sets the named attribute.
func (op *Operation) SetAttr(name string, a Attribute) { op.attrs[name] = a }

// RemoveAttr deletes the named attribute.
func (op *Operation) RemoveAttr(name string) { delete(op.attrs, name) }

// AttrNames returns the attribute names in sorted order.
func (op *Operation) AttrNames() []string {
	names := make([]string, 0, len(op.attrs))
	for name := range op.attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Attributes returns a copy of the attribute dictionary.
func (op *Operation) Attributes() map[string]Attribute {
	attrs := make(map[string]Attribute, len(op.attrs))
	for k, v := range op.attrs {
		attrs[k] = v
	}
	return attrs
}

// StringAttr returns the value of a string attribute or "".
func (op *Operation) StringAttr(name string) string {
	if s, ok := op.attrs[name].(*StringAttr); ok {
		return s.Value
	}
	return ""
}

// SymbolName returns the sym_name attribute of symbol operations.
func (op *Operation) SymbolName() string { return op.StringAttr("sym_name") }

// IsPrivate reports whether a symbol has private visibility.
func (op *Operation) IsPrivate() bool { return op.StringAttr("sym_visibility") == "private" }

// Callee returns the callee symbol of call operations.
func (op *Operation) Callee() string {
	if s, ok := op.attrs["callee"].(*SymbolRefAttr); ok {
		return s.Name
	}
	return ""
}

// NumSuccessors returns the number of branch targets.
func (op *Operation) NumSuccessors() int { return len(op.succs) }

// Successor returns branch target i.
func (op *Operation) Successor(i int) *Successor { return op.succs[i] }

// Successors returns all branch targets.
func (op *Operation) Successors() []*Successor { return append([]*Successor(nil), op.succs...) }

// AddSuccessor appends a branch target.
func (op *Operation) AddSuccessor(b *Block, args ...*Value) {
	s := &Successor{block: b}
	for _, v := range args {
		o := &Operand{owner: op}
		o.Set(v)
		s.operands = append(s.operands, o)
	}
	op.succs = append(op.succs, s)
}

// SetSuccessorOperand replaces forwarded operand j of successor i.
func (op *Operation) SetSuccessorOperand(i, j int, v *Value) {
	op.succs[i].operands[j].Set(v)
}

// EraseSuccessorOperand removes forwarded operand j of successor i.
func (op *Operation) EraseSuccessorOperand(i, j int) {
	s := op.succs[i]
	s.operands[j].drop()
	s.operands = append(s.operands[:j], s.operands[j+1:]...)
}

// AllOperands returns regular and successor operands.
func (op *Operation) AllOperands() []*Operand {
	all := append([]*Operand(nil), op.operands...)
	for _, s := range op.succs {
		all = append(all, s.operands...)
	}
	return all
}

// NumRegions returns the number of attached regions.
func (op *Operation) NumRegions() int { return len(op.regions) }

// Region returns region i.
func (op *Operation) Region(i int) *Region { return op.regions[i] }

// Regions returns all regions.
func (op *Operation) Regions() []*Region { return append([]*Region(nil), op.regions...) }

// Block returns the block containing the operation.
func (op *Operation) Block() *Block { return op.block }

// ParentOp returns the operation owning the region the operation lives in.
func (op *Operation) ParentOp() *Operation {
	if op.block == nil || op.block.parent == nil {
		return nil
	}
	return op.block.parent.parent
}

// ParentOfName returns the closest ancestor with the given name.
func (op *Operation) ParentOfName(names ...string) *Operation {
	for p := op.ParentOp(); p != nil; p = p.ParentOp() {
		for _, n := range names {
			if p.name == n {
				return p
			}
		}
	}
	return nil
}

// IsBeforeInBlock reports whether op precedes other in the same block.
func (op *Operation) IsBeforeInBlock(other *Operation) bool {
	for _, o := range op.block.ops {
		if o == op {
			return true
		}
		if o == other {
			return false
		}
	}
	return false
}

// Walk visits op and all nested operations in pre-order.
func (op *Operation) Walk(fn func(*Operation)) {
	fn(op)
	for _, r := range op.regions {
		for _, b := range r.blocks {
			for _, nested := range b.Operations() {
				nested.Walk(fn)
			}
		}
	}
}

// Collect returns op and its nested operations matching pred, in pre-order.
func (op *Operation) Collect(pred func(*Operation) bool) []*Operation {
	var ops []*Operation
	op.Walk(func(o *Operation) {
		if pred(o) {
			ops = append(ops, o)
		}
	})
	return ops
}

// Remove detaches the operation from its block without destroying it.
func (op *Operation) Remove() {
	if op.block != nil {
		op.block.removeOp(op)
	}
}

// Erase detaches the operation and drops every reference it holds,
// including those of nested operations. Results must be unused.
func (op *Operation) Erase() {
	op.Remove()
	op.dropReferences()
}

func (op *Operation) dropReferences() {
	for _, o := range op.AllOperands() {
		o.drop()
	}
	for _, r := range op.regions {
		for _, b := range r.blocks {
			for _, nested := range b.ops {
				nested.dropReferences()
			}
		}
	}
}

// MoveBefore moves the operation in front of other.
func (op *Operation) MoveBefore(other *Operation) {
	op.Remove()
	other.block.insertBefore(op, other)
}

// MoveToEnd moves the operation to the end of block b.
func (op *Operation) MoveToEnd(b *Block) {
	op.Remove()
	b.Append(op)
}

// ReplaceAllUsesWith replaces each result of op with the matching value.
func (op *Operation) ReplaceAllUsesWith(values []*Value) {
	for i, r := range op.results {
		r.ReplaceAllUsesWith(values[i])
	}
}

// Mapping tracks values and blocks while cloning.
type Mapping struct {
	values map[*Value]*Value
	blocks map[*Block]*Block
}

// NewMapping creates an empty clone mapping.
func NewMapping() *Mapping {
	return &Mapping{values: make(map[*Value]*Value), blocks: make(map[*Block]*Block)}
}

// Map records that from is replaced by to.
func (m *Mapping) Map(from, to *Value) { m.values[from] = to }

// Lookup returns the mapped value or v itself.
func (m *Mapping) Lookup(v *Value) *Value {
	if mapped, ok := m.values[v]; ok {
		return mapped
	}
	return v
}

// LookupBlock returns the mapped block or b itself.
func (m *Mapping) LookupBlock(b *Block) *Block {
	if mapped, ok := m.blocks[b]; ok {
		return mapped
	}
	return b
}

// Clone deep-copies the operation, remapping operands through m.
func (op *Operation) Clone(c *Context, m *Mapping) *Operation {
	clone := c.Create(OperationState{
		Name:       op.name,
		Operands:   mapValues(m, op.Operands()),
		Results:    op.ResultTypes(),
		Attributes: op.attrs,
		Regions:    len(op.regions),
		Location:   op.loc,
	})
	for i, r := range op.results {
		m.Map(r, clone.results[i])
	}
	for i, r := range op.regions {
		r.CloneInto(c, clone.regions[i], nil, m)
	}
	for _, s := range op.succs {
		clone.AddSuccessor(m.LookupBlock(s.block), mapValues(m, s.Operands())...)
	}
	return clone
}

func mapValues(m *Mapping, values []*Value) []*Value {
	mapped := make([]*Value, len(values))
	for i, v := range values {
		mapped[i] = m.Lookup(v)
	}
	return mapped
}

func operandValues(operands []*Operand) []*Value {
	values := make([]*Value, len(operands))
	for i, o := range operands {
		values[i] = o.value
	}
	return values
}

// Block is a list of operations with typed arguments.
type Block struct {
	args   []*Value
	ops    []*Operation
	parent *Region
}

// NewBlock creates a detached block with the given argument types.
func NewBlock(argTypes ...Type) *Block {
	b := &Block{}
	for _, t := range argTypes {
		b.AddArgument(t)
	}
	return b
}

// Arguments returns the block arguments.
func (b *Block) Arguments() []*Value { return append([]*Value(nil), b.args...) }

// NumArguments returns the number of block arguments.
func (b *Block) NumArguments() int { return len(b.args) }

// Argument returns argument i.
func (b *Block) Argument(i int) *Value { return b.args[i] }

// ArgumentTypes returns the argument types.
func (b *Block) ArgumentTypes() []Type {
	types := make([]Type, len(b.args))
	for i, a := range b.args {
		types[i] = a.typ
	}
	return types
}

// AddArgument appends a new argument.
func (b *Block) AddArgument(t Type) *Value {
	v := &Value{typ: t, block: b, index: len(b.args)}
	b.args = append(b.args, v)
	return v
}

// EraseArgument removes argument i, which must be unused.
func (b *Block) EraseArgument(i int) {
	b.args = append(b.args[:i], b.args[i+1:]...)
	for j := i; j < len(b.args); j++ {
		b.args[j].index = j
	}
}

// Operations returns a snapshot of the block's operations.
func (b *Block) Operations() []*Operation { return append([]*Operation(nil), b.ops...) }

// Empty reports whether the block has no operations.
func (b *Block) Empty() bool { return len(b.ops) == 0 }

// Front returns the first operation or nil.
func (b *Block) Front() *Operation {
	if len(b.ops) == 0 {
		return nil
	}
	return b.ops[0]
}

// Terminator returns the last operation if it is a terminator.
func (b *Block) Terminator() *Operation {
	if len(b.ops) == 0 {
		return nil
	}
	last := b.ops[len(b.ops)-1]
	if !last.IsTerminator() {
		return nil
	}
	return last
}

// Parent returns the region containing the block.
func (b *Block) Parent() *Region { return b.parent }

// ParentOp returns the operation owning the block's region.
func (b *Block) ParentOp() *Operation {
	if b.parent == nil {
		return nil
	}
	return b.parent.parent
}

// Append adds op at the end of the block.
func (b *Block) Append(op *Operation) {
	op.block = b
	b.ops = append(b.ops, op)
}

// Prepend adds op at the start of the block.
func (b *Block) Prepend(op *Operation) {
	op.block = b
	b.ops = append([]*Operation{op}, b.ops...)
}

func (b *Block) insertBefore(op, before *Operation) {
	for i, o := range b.ops {
		if o == before {
			op.block = b
			b.ops = append(b.ops[:i], append([]*Operation{op}, b.ops[i:]...)...)
			return
		}
	}
	b.Append(op)
}

func (b *Block) insertAfter(op, after *Operation) {
	for i, o := range b.ops {
		if o == after {
			op.block = b
			b.ops = append(b.ops[:i+1], append([]*Operation{op}, b.ops[i+1:]...)...)
			return
		}
	}
	b.Append(op)
}

func (b *Block) removeOp(op *Operation) {
	for i, o := range b.ops {
		if o == op {
			b.ops = append(b.ops[:i], b.ops[i+1:]...)
			op.block = nil
			return
		}
	}
}

// SplitBefore moves op and every following operation into a new block
// inserted right after b.
func (b *Block) SplitBefore(op *Operation) *Block {
	next := &Block{}
	idx := -1
	for i, o := range b.ops {
		if o == op {
			idx = i
			break
		}
	}
	if idx >= 0 {
		moved := append([]*Operation(nil), b.ops[idx:]...)
		b.ops = b.ops[:idx]
		for _, o := range moved {
			next.Append(o)
		}
	}
	b.parent.InsertAfter(b, next)
	return next
}

// Predecessors returns the blocks branching to b, once per branch edge.
func (b *Block) Predecessors() []*Block {
	var preds []*Block
	if b.parent == nil {
		return nil
	}
	for _, blk := range b.parent.blocks {
		term := blk.Terminator()
		if term == nil {
			continue
		}
		for _, s := range term.succs {
			if s.block == b {
				preds = append(preds, blk)
			}
		}
	}
	return preds
}

// Successors returns the targets of the block's terminator.
func (b *Block) Successors() []*Block {
	term := b.Terminator()
	if term == nil {
		return nil
	}
	succs := make([]*Block, len(term.succs))
	for i, s := range term.succs {
		succs[i] = s.block
	}
	return succs
}

// Erase removes the block from its region and drops every reference held by
// its operations.
func (b *Block) Erase() {
	for _, op := range b.ops {
		op.dropReferences()
	}
	if b.parent != nil {
		b.parent.removeBlock(b)
	}
}

// Region is an ordered list of blocks owned by an operation.
type Region struct {
	blocks []*Block
	parent *Operation
}

// Blocks returns a snapshot of the region's blocks.
func (r *Region) Blocks() []*Block { return append([]*Block(nil), r.blocks...) }

// Empty reports whether the region has no blocks.
func (r *Region) Empty() bool { return len(r.blocks) == 0 }

// Entry returns the first block or nil.
func (r *Region) Entry() *Block {
	if len(r.blocks) == 0 {
		return nil
	}
	return r.blocks[0]
}

// ParentOp returns the operation owning the region.
func (r *Region) ParentOp() *Operation { return r.parent }

// AppendBlock adds b at the end of the region.
func (r *Region) AppendBlock(b *Block) {
	b.parent = r
	r.blocks = append(r.blocks, b)
}

// InsertAfter places b after the existing block after.
func (r *Region) InsertAfter(after, b *Block) {
	b.parent = r
	for i, blk := range r.blocks {
		if blk == after {
			r.blocks = append(r.blocks[:i+1], append([]*Block{b}, r.blocks[i+1:]...)...)
			return
		}
	}
	r.blocks = append(r.blocks, b)
}

func (r *Region) removeBlock(b *Block) {
	for i, blk := range r.blocks {
		if blk == b {
			r.blocks = append(r.blocks[:i], r.blocks[i+1:]...)
			b.parent = nil
			return
		}
	}
}

// MoveBlocksAfter moves every block of r into dest after the given block.
// It returns the moved blocks.
func (r *Region) MoveBlocksAfter(dest *Region, after *Block) []*Block {
	moved := r.blocks
	r.blocks = nil
	for i := len(moved) - 1; i >= 0; i-- {
		dest.InsertAfter(after, moved[i])
	}
	return moved
}

// TakeBody moves all blocks of src into r, which must be empty.
func (r *Region) TakeBody(src *Region) {
	for _, b := range src.blocks {
		r.AppendBlock(b)
	}
	src.blocks = nil
}

// CloneInto copies the region's blocks into dest after the given block (or
// at the end when after is nil), remapping through m.
func (r *Region) CloneInto(c *Context, dest *Region, after *Block, m *Mapping) []*Block {
	clones := make([]*Block, len(r.blocks))
	for i, b := range r.blocks {
		nb := NewBlock()
		for _, a := range b.args {
			m.Map(a, nb.AddArgument(a.typ))
		}
		m.blocks[b] = nb
		clones[i] = nb
	}
	prev := after
	for _, nb := range clones {
		if prev == nil {
			dest.AppendBlock(nb)
		} else {
			dest.InsertAfter(prev, nb)
			prev = nb
		}
	}
	for i, b := range r.blocks {
		for _, op := range b.ops {
			clones[i].Append(op.Clone(c, m))
		}
	}
	// uses that precede their definition in block order
	for _, nb := range clones {
		for _, op := range nb.ops {
			op.Walk(func(o *Operation) {
				for _, operand := range o.AllOperands() {
					if mapped, ok := m.values[operand.value]; ok {
						operand.Set(mapped)
					}
				}
			})
		}
	}
	return clones
}

// Index returns the position of b in its region.
func (r *Region) Index(b *Block) int {
	for i, blk := range r.blocks {
		if blk == b {
			return i
		}
	}
	return -1
}
