package builder

import (
	"fmt"
	"sort"

	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/sierra"
)

// env maps the live variables at a statement to their types.
type env map[sierra.VarID]*sierra.TypeDeclaration

func (e env) clone() env {
	out := make(env, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

func (e env) equal(o env) bool {
	if len(e) != len(o) {
		return false
	}
	for k, v := range e {
		if o[k] != v {
			return false
		}
	}
	return true
}

func (e env) sorted() []sierra.VarID {
	ids := make([]sierra.VarID, 0, len(e))
	for id := range e {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type functionBuilder struct {
	m  *moduleBuilder
	fn *sierra.Function
	op *mlir.Operation
	b  *mlir.Builder

	envs    map[int]env
	preds   map[int]int
	leaders map[int]bool
	blocks  map[int]*mlir.Block
	// argOrder lists the variables bound to a leader block's arguments.
	argOrder map[int][]sierra.VarID
}

func newFunctionBuilder(m *moduleBuilder, fn *sierra.Function, op *mlir.Operation) *functionBuilder {
	return &functionBuilder{
		m:        m,
		fn:       fn,
		op:       op,
		b:        mlir.NewBuilder(m.ctx),
		envs:     make(map[int]env),
		preds:    make(map[int]int),
		leaders:  make(map[int]bool),
		blocks:   make(map[int]*mlir.Block),
		argOrder: make(map[int][]sierra.VarID),
	}
}

func (fb *functionBuilder) errorf(stmt *sierra.Statement, format string, args ...interface{}) error {
	return &sierra.Error{
		Pos:     stmt.Pos,
		Message: fmt.Sprintf("function '%s', statement #%d: %s", fb.fn.ID, stmt.Index, fmt.Sprintf(format, args...)),
	}
}

func (fb *functionBuilder) build() error {
	if err := fb.analyze(); err != nil {
		return err
	}
	fb.findLeaders()
	if err := fb.createBlocks(); err != nil {
		return err
	}
	for _, idx := range fb.order() {
		if err := fb.emitBlock(idx); err != nil {
			return err
		}
	}
	return nil
}

// analyze walks the statements reachable from the entry, computing the
// variable environment at each of them. Environments meeting at a
// statement must agree.
func (fb *functionBuilder) analyze() error {
	statements := fb.m.program.Statements
	entry := make(env)
	for _, p := range fb.fn.Params {
		entry[p.Var] = p.Type
	}
	fb.envs[fb.fn.Entry] = entry
	work := []int{fb.fn.Entry}
	for len(work) > 0 {
		idx := work[len(work)-1]
		work = work[:len(work)-1]
		stmt := statements[idx]
		cur := fb.envs[idx]

		if stmt.Invocation == nil {
			if err := fb.checkReturn(stmt, cur); err != nil {
				return err
			}
			continue
		}
		inv := stmt.Invocation
		sig, err := fb.m.resolveLibfunc(inv.Libfunc)
		if err != nil {
			return err
		}
		if len(inv.Branches) != len(sig.branches) {
			return fb.errorf(stmt, "libfunc '%s' has %d branches, found %d", inv.Libfunc.ID, len(sig.branches), len(inv.Branches))
		}
		rest, err := fb.consume(stmt, cur, inv.Args, sig.params)
		if err != nil {
			return err
		}
		for i, target := range stmt.Successors() {
			br := inv.Branches[i]
			if len(br.Results) != len(sig.branches[i]) {
				return fb.errorf(stmt, "branch #%d of '%s' produces %d values, found %d", i, inv.Libfunc.ID, len(sig.branches[i]), len(br.Results))
			}
			next := rest.clone()
			for j, v := range br.Results {
				if _, live := next[v]; live {
					return fb.errorf(stmt, "variable %s is redefined while still live", v)
				}
				next[v] = sig.branches[i][j]
			}
			if target >= len(statements) {
				return fb.errorf(stmt, "control flow falls off the end of the program")
			}
			fb.preds[target]++
			if prev, seen := fb.envs[target]; seen {
				if !prev.equal(next) {
					return fb.errorf(statements[target], "variables differ between incoming paths")
				}
				continue
			}
			fb.envs[target] = next
			work = append(work, target)
		}
	}
	return nil
}

// consume removes the invocation arguments from cur after checking them
// against the libfunc parameters.
func (fb *functionBuilder) consume(stmt *sierra.Statement, cur env, args []sierra.VarID, params []*sierra.TypeDeclaration) (env, error) {
	if len(args) != len(params) {
		return nil, fb.errorf(stmt, "libfunc '%s' expects %d arguments, found %d", stmt.Invocation.Libfunc.ID, len(params), len(args))
	}
	rest := cur.clone()
	for i, v := range args {
		t, live := rest[v]
		if !live {
			return nil, fb.errorf(stmt, "variable %s is not defined", v)
		}
		if t != params[i] {
			return nil, fb.errorf(stmt, "variable %s has type '%s', expected '%s'", v, t.ID, params[i].ID)
		}
		delete(rest, v)
	}
	return rest, nil
}

func (fb *functionBuilder) checkReturn(stmt *sierra.Statement, cur env) error {
	if len(stmt.Return) != len(fb.fn.Returns) {
		return fb.errorf(stmt, "returns %d values, function declares %d", len(stmt.Return), len(fb.fn.Returns))
	}
	for i, v := range stmt.Return {
		t, live := cur[v]
		if !live {
			return fb.errorf(stmt, "variable %s is not defined", v)
		}
		if t != fb.fn.Returns[i] {
			return fb.errorf(stmt, "variable %s has type '%s', expected '%s'", v, t.ID, fb.fn.Returns[i].ID)
		}
	}
	return nil
}

// findLeaders marks the statements starting a block: the entry, every
// target of an explicit branch and every merge point.
func (fb *functionBuilder) findLeaders() {
	fb.leaders[fb.fn.Entry] = true
	for idx := range fb.envs {
		stmt := fb.m.program.Statements[idx]
		if stmt.Invocation == nil {
			continue
		}
		branches := stmt.Invocation.Branches
		if len(branches) == 1 && branches[0].Target == sierra.Fallthrough {
			continue
		}
		for _, target := range stmt.Successors() {
			fb.leaders[target] = true
		}
	}
	for idx, n := range fb.preds {
		if n > 1 {
			fb.leaders[idx] = true
		}
	}
}

// order returns the leaders with the entry first, the rest by index.
func (fb *functionBuilder) order() []int {
	var out []int
	for idx := range fb.leaders {
		if idx != fb.fn.Entry {
			out = append(out, idx)
		}
	}
	sort.Ints(out)
	return append([]int{fb.fn.Entry}, out...)
}

func (fb *functionBuilder) createBlocks() error {
	region := fb.op.Region(0)
	entry := fb.fn.Entry
	var params []sierra.VarID
	for _, p := range fb.fn.Params {
		params = append(params, p.Var)
	}
	inputs, _, _ := mlir.FunctionSignature(fb.op)

	// The entry block cannot have predecessors; a loop back to the first
	// statement gets a separate header.
	if fb.preds[entry] > 0 {
		prologue := mlir.NewBlock(inputs...)
		region.AppendBlock(prologue)
		for _, idx := range fb.order() {
			if err := fb.createLeader(idx); err != nil {
				return err
			}
		}
		vals := make(map[sierra.VarID]*mlir.Value)
		for i, v := range params {
			vals[v] = prologue.Argument(i)
		}
		fb.b.SetInsertionPointToEnd(prologue)
		fb.b.SetLocation(location(fb.fn.Pos))
		fb.b.Branch("cf.br", fb.blocks[entry], fb.blockArgs(entry, vals)...)
		return nil
	}

	blk := mlir.NewBlock(inputs...)
	region.AppendBlock(blk)
	fb.blocks[entry] = blk
	fb.argOrder[entry] = params
	for _, idx := range fb.order()[1:] {
		if err := fb.createLeader(idx); err != nil {
			return err
		}
	}
	return nil
}

func (fb *functionBuilder) createLeader(idx int) error {
	e := fb.envs[idx]
	ids := e.sorted()
	argTypes := make([]mlir.Type, len(ids))
	for i, id := range ids {
		t, err := fb.m.lowerType(e[id])
		if err != nil {
			return fb.errorf(fb.m.program.Statements[idx], "%s", err)
		}
		argTypes[i] = t
	}
	blk := mlir.NewBlock(argTypes...)
	fb.op.Region(0).AppendBlock(blk)
	fb.blocks[idx] = blk
	fb.argOrder[idx] = ids
	return nil
}

// blockArgs returns the values forwarded to the block of statement idx.
func (fb *functionBuilder) blockArgs(idx int, vals map[sierra.VarID]*mlir.Value) []*mlir.Value {
	order := fb.argOrder[idx]
	args := make([]*mlir.Value, len(order))
	for i, id := range order {
		args[i] = vals[id]
	}
	return args
}

// emitBlock lowers the statements from leader idx up to the next
// terminator or leader.
func (fb *functionBuilder) emitBlock(idx int) error {
	blk := fb.blocks[idx]
	vals := make(map[sierra.VarID]*mlir.Value)
	for i, id := range fb.argOrder[idx] {
		vals[id] = blk.Argument(i)
	}
	fb.b.SetInsertionPointToEnd(blk)
	for {
		stmt := fb.m.program.Statements[idx]
		fb.b.SetLocation(location(stmt.Pos))
		if stmt.Invocation == nil {
			ret := make([]*mlir.Value, len(stmt.Return))
			for i, v := range stmt.Return {
				ret[i] = vals[v]
			}
			fb.b.Op("func.return", ret, nil, nil)
			return nil
		}

		inv := stmt.Invocation
		sig, err := fb.m.resolveLibfunc(inv.Libfunc)
		if err != nil {
			return err
		}
		args := make([]*mlir.Value, len(inv.Args))
		for i, v := range inv.Args {
			args[i] = vals[v]
			delete(vals, v)
		}
		c := &call{fb: fb, b: fb.b, stmt: stmt, args: args, vals: vals}
		results, err := sig.lower(c)
		if err != nil {
			return fb.errorf(stmt, "%s", err)
		}
		if sig.branching() {
			return nil
		}
		br := inv.Branches[0]
		if len(results) != len(br.Results) {
			return fb.errorf(stmt, "lowering of '%s' produced %d values, expected %d", inv.Libfunc.ID, len(results), len(br.Results))
		}
		for i, v := range br.Results {
			vals[v] = results[i]
		}
		next := stmt.Successors()[0]
		if fb.leaders[next] {
			fb.b.Branch("cf.br", fb.blocks[next], fb.blockArgs(next, vals)...)
			return nil
		}
		idx = next
	}
}

// call is the lowering context of one invocation.
type call struct {
	fb   *functionBuilder
	b    *mlir.Builder
	stmt *sierra.Statement
	args []*mlir.Value
	// vals holds the variables still live once the arguments are consumed.
	vals map[sierra.VarID]*mlir.Value
}

// successor returns the block of branch i and the values it receives once
// the branch results are bound.
func (c *call) successor(i int, results ...*mlir.Value) (*mlir.Block, []*mlir.Value) {
	target := c.stmt.Successors()[i]
	vals := make(map[sierra.VarID]*mlir.Value, len(c.vals)+len(results))
	for k, v := range c.vals {
		vals[k] = v
	}
	for j, v := range c.stmt.Invocation.Branches[i].Results {
		vals[v] = results[j]
	}
	return c.fb.blocks[target], c.fb.blockArgs(target, vals)
}

// ifElse builds an scf.if yielding a single value of type t.
func (c *call) ifElse(cond *mlir.Value, t mlir.Type, then, otherwise func(*mlir.Builder) *mlir.Value) *mlir.Value {
	op := c.b.Create(mlir.OperationState{
		Name:     "scf.if",
		Operands: []*mlir.Value{cond},
		Results:  []mlir.Type{t},
		Regions:  2,
	})
	for i, body := range []func(*mlir.Builder) *mlir.Value{then, otherwise} {
		blk := mlir.NewBlock()
		op.Region(i).AppendBlock(blk)
		inner := mlir.NewBuilder(c.b.Context())
		inner.SetLocation(c.b.Location())
		inner.SetInsertionPointToEnd(blk)
		inner.Op("scf.yield", []*mlir.Value{body(inner)}, nil, nil)
	}
	return op.Result(0)
}
