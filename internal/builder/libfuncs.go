package builder

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"sierra2mlir/internal/mlir"
	"sierra2mlir/internal/sierra"
)

// WithdrawGasCost is charged by every withdraw_gas when gas is metered.
const WithdrawGasCost = 1

// lowering emits the operations of one invocation. Libfuncs with a single
// branch return the branch results; the others emit the terminator
// themselves through call.successor and return nil.
type lowering func(c *call) ([]*mlir.Value, error)

// signature is the resolved shape of a concrete libfunc.
type signature struct {
	params   []*sierra.TypeDeclaration
	branches [][]*sierra.TypeDeclaration
	lower    lowering
}

func (s *signature) branching() bool { return len(s.branches) != 1 }

type types = []*sierra.TypeDeclaration

func single(params types, results types, lower lowering) *signature {
	return &signature{params: params, branches: [][]*sierra.TypeDeclaration{results}, lower: lower}
}

type resolver func(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error)

var libfuncs = map[string]resolver{
	"felt252_const":       feltConst,
	"felt252_add":         feltBinary(feltAdd),
	"felt252_sub":         feltBinary(feltSub),
	"felt252_mul":         feltBinary(feltMul),
	"felt252_is_zero":     feltIsZero,
	"store_temp":          identity,
	"rename":              identity,
	"store_local":         storeLocal,
	"alloc_local":         allocLocal,
	"dup":                 dup,
	"drop":                drop,
	"branch_align":        nop,
	"disable_ap_tracking": nop,
	"enable_ap_tracking":  nop,
	"finalize_locals":     nop,
	"jump":                jump,
	"function_call":       functionCall,
	"withdraw_gas":        withdrawGas,
}

var unsignedLibfuncs = map[string]func(width int) resolver{
	"const":           uintConst,
	"overflowing_add": uintOverflowing("arith.addi"),
	"overflowing_sub": uintOverflowing("arith.subi"),
	"eq":              uintEq,
	"is_zero":         uintIsZero,
	"to_felt252":      uintToFelt,
}

// SupportedLibfuncs returns the sorted generic libfunc names the builder
// lowers, with the unsigned families expanded for u8 through u128.
func SupportedLibfuncs() []string {
	names := make([]string, 0, len(libfuncs)+5*len(unsignedLibfuncs))
	for name := range libfuncs {
		names = append(names, name)
	}
	for _, w := range []int{8, 16, 32, 64, 128} {
		for op := range unsignedLibfuncs {
			names = append(names, fmt.Sprintf("u%d_%s", w, op))
		}
	}
	sort.Strings(names)
	return names
}

// resolveLibfunc returns the cached signature of l.
func (m *moduleBuilder) resolveLibfunc(l *sierra.LibfuncDeclaration) (*signature, error) {
	if sig, ok := m.libfuncCache[l]; ok {
		return sig, nil
	}
	r, ok := libfuncs[l.Generic]
	if !ok {
		if prefix, op, found := strings.Cut(l.Generic, "_"); found {
			if w, isUint := unsignedWidth(prefix); isUint {
				if mk, ok := unsignedLibfuncs[op]; ok {
					r = mk(w)
				}
			}
		}
	}
	if r == nil {
		return nil, &sierra.Error{Pos: l.Pos, Message: fmt.Sprintf("libfunc '%s' is not supported", l.Generic)}
	}
	sig, err := r(m, l)
	if err != nil {
		return nil, &sierra.Error{Pos: l.Pos, Message: fmt.Sprintf("libfunc '%s': %s", l.ID, err)}
	}
	m.libfuncCache[l] = sig
	return sig, nil
}

// need returns the declared type matching generic<args>.
func (m *moduleBuilder) need(generic string, args ...sierra.GenericArg) (*sierra.TypeDeclaration, error) {
	t, ok := m.program.FindType(generic, args...)
	if !ok {
		name := generic
		if len(args) > 0 {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = a.String()
			}
			name += "<" + strings.Join(parts, ", ") + ">"
		}
		return nil, fmt.Errorf("type '%s' is not declared", name)
	}
	return t, nil
}

func typeArg(l *sierra.LibfuncDeclaration) (*sierra.TypeDeclaration, error) {
	if len(l.Args) != 1 || l.Args[0].Kind != sierra.ArgType {
		return nil, fmt.Errorf("expected a single type argument")
	}
	return l.Args[0].Type, nil
}

func valueArg(l *sierra.LibfuncDeclaration) (*big.Int, error) {
	if len(l.Args) != 1 || l.Args[0].Kind != sierra.ArgValue {
		return nil, fmt.Errorf("expected a single integer argument")
	}
	return l.Args[0].Value, nil
}

func noArgs(l *sierra.LibfuncDeclaration) error {
	if len(l.Args) != 0 {
		return fmt.Errorf("expected no generic arguments")
	}
	return nil
}

// Generic libfuncs.

func identity(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	t, err := typeArg(l)
	if err != nil {
		return nil, err
	}
	return single(types{t}, types{t}, func(c *call) ([]*mlir.Value, error) {
		return c.args, nil
	}), nil
}

func dup(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	t, err := typeArg(l)
	if err != nil {
		return nil, err
	}
	if t.Attributes["dup"] == "false" {
		return nil, fmt.Errorf("type '%s' cannot be duplicated", t.ID)
	}
	return single(types{t}, types{t, t}, func(c *call) ([]*mlir.Value, error) {
		return []*mlir.Value{c.args[0], c.args[0]}, nil
	}), nil
}

func drop(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	t, err := typeArg(l)
	if err != nil {
		return nil, err
	}
	if t.Attributes["drop"] == "false" {
		return nil, fmt.Errorf("type '%s' cannot be dropped", t.ID)
	}
	return single(types{t}, nil, func(c *call) ([]*mlir.Value, error) {
		return nil, nil
	}), nil
}

func nop(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	if err := noArgs(l); err != nil {
		return nil, err
	}
	return single(nil, nil, func(c *call) ([]*mlir.Value, error) {
		return nil, nil
	}), nil
}

func jump(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	return nop(m, l)
}

func allocLocal(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	t, err := typeArg(l)
	if err != nil {
		return nil, err
	}
	u, err := m.need("Uninitialized", sierra.GenericArg{Kind: sierra.ArgType, Type: t})
	if err != nil {
		return nil, err
	}
	return single(nil, types{u}, func(c *call) ([]*mlir.Value, error) {
		return []*mlir.Value{c.b.ConstantInt(m.ctx.IntegerType(1), 0)}, nil
	}), nil
}

func storeLocal(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	t, err := typeArg(l)
	if err != nil {
		return nil, err
	}
	u, err := m.need("Uninitialized", sierra.GenericArg{Kind: sierra.ArgType, Type: t})
	if err != nil {
		return nil, err
	}
	return single(types{u, t}, types{t}, func(c *call) ([]*mlir.Value, error) {
		return c.args[1:], nil
	}), nil
}

func functionCall(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	if len(l.Args) != 1 || l.Args[0].Kind != sierra.ArgUserFunc {
		return nil, fmt.Errorf("expected a single user function argument")
	}
	fn, ok := m.program.Function(l.Args[0].Name)
	if !ok {
		return nil, fmt.Errorf("function '%s' is not declared", l.Args[0].Name)
	}
	var params types
	for _, p := range fn.Params {
		params = append(params, p.Type)
	}
	return single(params, fn.Returns, func(c *call) ([]*mlir.Value, error) {
		results, err := m.lowerTypes(fn.Returns)
		if err != nil {
			return nil, err
		}
		op := c.b.Op("func.call", c.args, results, map[string]mlir.Attribute{
			"callee": &mlir.SymbolRefAttr{Name: m.symbol(fn)},
		})
		return op.Results(), nil
	}), nil
}

func withdrawGas(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	if err := noArgs(l); err != nil {
		return nil, err
	}
	rc, err := m.need("RangeCheck")
	if err != nil {
		return nil, err
	}
	gas, err := m.need("GasBuiltin")
	if err != nil {
		return nil, err
	}
	return &signature{
		params:   types{rc, gas},
		branches: [][]*sierra.TypeDeclaration{{rc, gas}, {rc, gas}},
		lower: func(c *call) ([]*mlir.Value, error) {
			rc, gas := c.args[0], c.args[1]
			if m.opts.AvailableGas == nil {
				dest, args := c.successor(0, rc, gas)
				c.b.Branch("cf.br", dest, args...)
				return nil, nil
			}
			i128 := gas.Type()
			cost := c.b.ConstantInt(i128, WithdrawGasCost)
			enough := c.b.Cmp("arith.cmpi", mlir.PredUGE, gas, cost)
			remaining := c.ifElse(enough, i128,
				func(b *mlir.Builder) *mlir.Value { return b.Value("arith.subi", i128, gas, cost) },
				func(b *mlir.Builder) *mlir.Value { return gas })
			okDest, okArgs := c.successor(0, rc, remaining)
			failDest, failArgs := c.successor(1, rc, remaining)
			c.b.CondBranch("cf.cond_br", enough, okDest, okArgs, failDest, failArgs)
			return nil, nil
		},
	}, nil
}

// felt252 libfuncs. Values are kept reduced in [0, P).

func feltConst(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	v, err := valueArg(l)
	if err != nil {
		return nil, err
	}
	felt, err := m.need("felt252")
	if err != nil {
		return nil, err
	}
	value := feltConstant(v)
	return single(nil, types{felt}, func(c *call) ([]*mlir.Value, error) {
		return []*mlir.Value{c.b.Constant("arith.constant", m.ctx.IntegerType(feltWidth), value)}, nil
	}), nil
}

func feltBinary(op func(c *call, a, b *mlir.Value) *mlir.Value) resolver {
	return func(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
		if err := noArgs(l); err != nil {
			return nil, err
		}
		felt, err := m.need("felt252")
		if err != nil {
			return nil, err
		}
		return single(types{felt, felt}, types{felt}, func(c *call) ([]*mlir.Value, error) {
			return []*mlir.Value{op(c, c.args[0], c.args[1])}, nil
		}), nil
	}
}

func feltAdd(c *call, a, b *mlir.Value) *mlir.Value {
	t := a.Type()
	sum := c.b.Value("arith.addi", t, a, b)
	p := c.b.Constant("arith.constant", t, Prime)
	wraps := c.b.Cmp("arith.cmpi", mlir.PredUGE, sum, p)
	return c.ifElse(wraps, t,
		func(b *mlir.Builder) *mlir.Value { return b.Value("arith.subi", t, sum, p) },
		func(b *mlir.Builder) *mlir.Value { return sum })
}

func feltSub(c *call, a, b *mlir.Value) *mlir.Value {
	t := a.Type()
	diff := c.b.Value("arith.subi", t, a, b)
	p := c.b.Constant("arith.constant", t, Prime)
	borrows := c.b.Cmp("arith.cmpi", mlir.PredULT, a, b)
	return c.ifElse(borrows, t,
		func(b *mlir.Builder) *mlir.Value { return b.Value("arith.addi", t, diff, p) },
		func(b *mlir.Builder) *mlir.Value { return diff })
}

func feltMul(c *call, a, b *mlir.Value) *mlir.Value {
	t := a.Type()
	wide := c.b.Context().IntegerType(2 * feltWidth)
	product := c.b.Value("arith.muli", wide,
		c.b.Value("arith.extui", wide, a),
		c.b.Value("arith.extui", wide, b))
	reduced := c.b.Value("arith.remui", wide, product, c.b.Constant("arith.constant", wide, Prime))
	return c.b.Value("arith.trunci", t, reduced)
}

func feltIsZero(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
	if err := noArgs(l); err != nil {
		return nil, err
	}
	felt, err := m.need("felt252")
	if err != nil {
		return nil, err
	}
	nz, err := m.need("NonZero", sierra.GenericArg{Kind: sierra.ArgType, Type: felt})
	if err != nil {
		return nil, err
	}
	return &signature{
		params:   types{felt},
		branches: [][]*sierra.TypeDeclaration{nil, {nz}},
		lower:    isZero,
	}, nil
}

// isZero branches to the first successor when the argument is zero and
// forwards it as a NonZero value to the second otherwise.
func isZero(c *call) ([]*mlir.Value, error) {
	a := c.args[0]
	zero := c.b.ConstantInt(a.Type(), 0)
	cond := c.b.Cmp("arith.cmpi", mlir.PredEQ, a, zero)
	zDest, zArgs := c.successor(0)
	nzDest, nzArgs := c.successor(1, a)
	c.b.CondBranch("cf.cond_br", cond, zDest, zArgs, nzDest, nzArgs)
	return nil, nil
}

// Unsigned integer libfuncs, named u<N>_<op>.

func uintType(m *moduleBuilder, width int) (*sierra.TypeDeclaration, error) {
	return m.need(fmt.Sprintf("u%d", width))
}

func uintConst(width int) resolver {
	return func(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
		v, err := valueArg(l)
		if err != nil {
			return nil, err
		}
		limit := new(big.Int).Lsh(big.NewInt(1), uint(width))
		if v.Sign() < 0 || v.Cmp(limit) >= 0 {
			return nil, fmt.Errorf("constant %s does not fit in u%d", v, width)
		}
		t, err := uintType(m, width)
		if err != nil {
			return nil, err
		}
		return single(nil, types{t}, func(c *call) ([]*mlir.Value, error) {
			return []*mlir.Value{c.b.Constant("arith.constant", m.ctx.IntegerType(width), v)}, nil
		}), nil
	}
}

// uintOverflowing takes (RangeCheck, a, b) and continues on the first
// branch when the wrapped result is exact, on the second when it wrapped.
func uintOverflowing(opName string) func(int) resolver {
	return func(width int) resolver {
		return func(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
			if err := noArgs(l); err != nil {
				return nil, err
			}
			rc, err := m.need("RangeCheck")
			if err != nil {
				return nil, err
			}
			t, err := uintType(m, width)
			if err != nil {
				return nil, err
			}
			return &signature{
				params:   types{rc, t, t},
				branches: [][]*sierra.TypeDeclaration{{rc, t}, {rc, t}},
				lower: func(c *call) ([]*mlir.Value, error) {
					rc, a, b := c.args[0], c.args[1], c.args[2]
					res := c.b.Value(opName, a.Type(), a, b)
					var wrapped *mlir.Value
					if opName == "arith.addi" {
						wrapped = c.b.Cmp("arith.cmpi", mlir.PredULT, res, a)
					} else {
						wrapped = c.b.Cmp("arith.cmpi", mlir.PredULT, a, b)
					}
					wDest, wArgs := c.successor(1, rc, res)
					okDest, okArgs := c.successor(0, rc, res)
					c.b.CondBranch("cf.cond_br", wrapped, wDest, wArgs, okDest, okArgs)
					return nil, nil
				},
			}, nil
		}
	}
}

// uintEq continues on the first branch when the operands differ.
func uintEq(width int) resolver {
	return func(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
		if err := noArgs(l); err != nil {
			return nil, err
		}
		t, err := uintType(m, width)
		if err != nil {
			return nil, err
		}
		return &signature{
			params:   types{t, t},
			branches: [][]*sierra.TypeDeclaration{nil, nil},
			lower: func(c *call) ([]*mlir.Value, error) {
				eq := c.b.Cmp("arith.cmpi", mlir.PredEQ, c.args[0], c.args[1])
				eqDest, eqArgs := c.successor(1)
				neDest, neArgs := c.successor(0)
				c.b.CondBranch("cf.cond_br", eq, eqDest, eqArgs, neDest, neArgs)
				return nil, nil
			},
		}, nil
	}
}

func uintIsZero(width int) resolver {
	return func(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
		if err := noArgs(l); err != nil {
			return nil, err
		}
		t, err := uintType(m, width)
		if err != nil {
			return nil, err
		}
		nz, err := m.need("NonZero", sierra.GenericArg{Kind: sierra.ArgType, Type: t})
		if err != nil {
			return nil, err
		}
		return &signature{
			params:   types{t},
			branches: [][]*sierra.TypeDeclaration{nil, {nz}},
			lower:    isZero,
		}, nil
	}
}

func uintToFelt(width int) resolver {
	return func(m *moduleBuilder, l *sierra.LibfuncDeclaration) (*signature, error) {
		if err := noArgs(l); err != nil {
			return nil, err
		}
		t, err := uintType(m, width)
		if err != nil {
			return nil, err
		}
		felt, err := m.need("felt252")
		if err != nil {
			return nil, err
		}
		return single(types{t}, types{felt}, func(c *call) ([]*mlir.Value, error) {
			return []*mlir.Value{c.b.Value("arith.extui", m.ctx.IntegerType(feltWidth), c.args[0])}, nil
		}), nil
	}
}
