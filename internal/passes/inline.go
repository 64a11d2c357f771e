package passes

import (
	"fmt"

	"sierra2mlir/internal/mlir"
)

// Inliner replaces direct calls to defined functions by the callee body.
// Functions taking part in a call cycle are never inlined.
type Inliner struct{}

func (p *Inliner) Name() string { return Inline }

func (p *Inliner) Description() string {
	return "Inline calls to non-recursive functions"
}

func (p *Inliner) Run(m *mlir.Module) error {
	recursive := recursiveFunctions(m)
	for _, fn := range functions(m) {
		for {
			call := p.nextCandidate(m, fn, recursive)
			if call == nil {
				break
			}
			if err := p.inlineCall(m, call); err != nil {
				return fmt.Errorf("%s: cannot inline call to '%s': %w", call.Location(), call.Callee(), err)
			}
		}
	}
	return nil
}

func (p *Inliner) nextCandidate(m *mlir.Module, fn *mlir.Operation, recursive map[string]bool) *mlir.Operation {
	for _, op := range flatOps(fn) {
		if !isCall(op) || recursive[op.Callee()] || op.Callee() == fn.SymbolName() {
			continue
		}
		callee := m.Lookup(op.Callee())
		if callee == nil || callee.NumRegions() != 1 || callee.Region(0).Empty() {
			continue
		}
		return op
	}
	return nil
}

// inlineCall splits the caller block at the call, clones the callee body in
// between and wires returns to the continuation block.
func (p *Inliner) inlineCall(m *mlir.Module, call *mlir.Operation) error {
	ctx := m.Context()
	callee := m.Lookup(call.Callee())
	blk := call.Block()
	region := blk.Parent()
	branch := branchOp(call)

	var next *mlir.Operation
	ops := blk.Operations()
	for i, o := range ops {
		if o == call && i+1 < len(ops) {
			next = ops[i+1]
		}
	}
	if next == nil {
		return fmt.Errorf("call ends its block")
	}
	cont := blk.SplitBefore(next)
	for _, res := range call.Results() {
		res.ReplaceAllUsesWith(cont.AddArgument(res.Type()))
	}

	clones := callee.Region(0).CloneInto(ctx, region, blk, mlir.NewMapping())
	b := mlir.NewBuilder(ctx)
	for _, c := range clones {
		ret := c.Terminator()
		if ret == nil || !isReturn(ret) {
			continue
		}
		b.SetInsertionPointBefore(ret)
		b.SetLocation(ret.Location())
		b.Branch(branch, cont, ret.Operands()...)
		ret.Erase()
	}

	b.SetInsertionPointToEnd(blk)
	b.SetLocation(call.Location())
	b.Branch(branch, clones[0], call.Operands()...)
	call.Erase()
	return nil
}

// branchOp is the unconditional branch matching the dialect of call:
// llvm.call bodies stay in llvm, func.call bodies use cf.
func branchOp(call *mlir.Operation) string {
	if call.Dialect() == "llvm" {
		return "llvm.br"
	}
	return "cf.br"
}

// recursiveFunctions returns the functions that belong to a call cycle,
// found as the non-trivial strongly connected components of the call graph
// (Tarjan's algorithm), plus directly self-recursive functions.
func recursiveFunctions(m *mlir.Module) map[string]bool {
	calls := make(map[string][]string)
	var names []string
	for _, fn := range functions(m) {
		name := fn.SymbolName()
		names = append(names, name)
		for _, op := range fn.Collect(isCall) {
			calls[name] = append(calls[name], op.Callee())
		}
	}

	recursive := make(map[string]bool)
	index := make(map[string]int)
	low := make(map[string]int)
	onStack := make(map[string]bool)
	var stack []string
	counter := 0

	var strongConnect func(v string)
	strongConnect = func(v string) {
		index[v] = counter
		low[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true
		for _, w := range calls[v] {
			if w == v {
				recursive[v] = true
			}
			if _, seen := index[w]; !seen {
				strongConnect(w)
				low[v] = min(low[v], low[w])
			} else if onStack[w] {
				low[v] = min(low[v], index[w])
			}
		}
		if low[v] != index[v] {
			return
		}
		var scc []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[w] = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		if len(scc) > 1 {
			for _, w := range scc {
				recursive[w] = true
			}
		}
	}
	for _, name := range names {
		if _, seen := index[name]; !seen {
			strongConnect(name)
		}
	}
	return recursive
}
