package mlir

import (
	"fmt"
	"strings"
)

// VerifyError reports the first invalid operation found.
type VerifyError struct {
	Op      string
	Loc     Location
	Message string
}

func (e *VerifyError) Error() string {
	return fmt.Sprintf("%s: '%s' op %s", e.Loc, e.Op, e.Message)
}

// Verify checks the structural invariants of op and everything nested in it.
func Verify(op *Operation) error {
	v := &verifier{dom: NewDominanceInfo()}
	return v.verifyOp(op)
}

// VerifyLegal verifies op and additionally requires every nested operation
// to belong to one of the given dialects.
func VerifyLegal(op *Operation, dialects ...string) error {
	if err := Verify(op); err != nil {
		return err
	}
	legal := make(map[string]bool, len(dialects))
	for _, d := range dialects {
		legal[d] = true
	}
	var illegal error
	op.Walk(func(o *Operation) {
		if illegal == nil && !legal[o.Dialect()] {
			illegal = &VerifyError{
				Op:      o.name,
				Loc:     o.loc,
				Message: fmt.Sprintf("is not legal in the target dialects [%s]", strings.Join(dialects, ", ")),
			}
		}
	})
	return illegal
}

type verifier struct {
	dom *DominanceInfo
}

func fail(op *Operation, format string, args ...interface{}) error {
	return &VerifyError{Op: op.name, Loc: op.loc, Message: fmt.Sprintf(format, args...)}
}

func (v *verifier) verifyOp(op *Operation) error {
	if op.def == nil {
		return fail(op, "is not registered in any loaded dialect")
	}
	for i, o := range op.AllOperands() {
		if o.value == nil {
			return fail(op, "operand #%d is null", i)
		}
		if err := v.verifyDominance(op, o.value); err != nil {
			return fail(op, "operand #%d %s", i, err)
		}
	}
	if len(op.succs) > 0 && !op.IsTerminator() {
		return fail(op, "has successors but is not a terminator")
	}
	for i, s := range op.succs {
		if op.block == nil || s.block.parent != op.block.parent {
			return fail(op, "successor #%d is not in the same region", i)
		}
		if len(s.operands) != len(s.block.args) {
			return fail(op, "successor #%d forwards %d operands to a block with %d arguments", i, len(s.operands), len(s.block.args))
		}
		for j, o := range s.operands {
			if o.value.Type() != s.block.args[j].Type() {
				return fail(op, "successor #%d operand #%d has type %s, expected %s", i, j, o.value.Type(), s.block.args[j].Type())
			}
		}
	}
	for ri, r := range op.regions {
		for bi, b := range r.blocks {
			if b.parent != r {
				return fail(op, "region #%d block #%d has a stale parent", ri, bi)
			}
			if !op.def.NoTerminator {
				if len(b.ops) == 0 {
					return fail(op, "region #%d block #%d is empty", ri, bi)
				}
				if !b.ops[len(b.ops)-1].IsTerminator() {
					return fail(b.ops[len(b.ops)-1], "is not a terminator but ends a block")
				}
			}
			for oi, nested := range b.ops {
				if nested.block != b {
					return fail(nested, "has a stale parent block")
				}
				if nested.IsTerminator() && oi != len(b.ops)-1 {
					return fail(nested, "must be the last operation in its block")
				}
				if err := v.verifyOp(nested); err != nil {
					return err
				}
			}
		}
		if !r.Empty() && len(r.Entry().Predecessors()) > 0 {
			return fail(op, "region #%d entry block has predecessors", ri)
		}
	}
	if op.def.Verify != nil {
		if err := op.def.Verify(op); err != nil {
			return fail(op, "%s", err)
		}
	}
	return nil
}

// verifyDominance checks that val is visible from user and dominates it.
func (v *verifier) verifyDominance(user *Operation, val *Value) error {
	defBlock := val.ParentBlock()
	if defBlock == nil || defBlock.parent == nil {
		return fmt.Errorf("refers to a value that is not attached to a block")
	}
	anchor := user
	for anchor != nil && (anchor.block == nil || anchor.block.parent != defBlock.parent) {
		parent := anchor.ParentOp()
		if parent != nil && parent.def != nil && parent.def.IsolatedFromAbove {
			return fmt.Errorf("uses a value defined outside an isolated region")
		}
		anchor = parent
	}
	if anchor == nil {
		return fmt.Errorf("refers to a value that is not in scope")
	}
	if anchor.block == defBlock {
		if val.owner == nil {
			return nil
		}
		if val.owner == anchor || !val.owner.IsBeforeInBlock(anchor) {
			return fmt.Errorf("does not dominate its use")
		}
		return nil
	}
	if !v.dom.Reachable(anchor.block) {
		return nil
	}
	if !v.dom.Dominates(defBlock, anchor.block) {
		return fmt.Errorf("does not dominate its use")
	}
	return nil
}
