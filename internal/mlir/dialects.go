package mlir

import (
	"fmt"
	"sync"
)

// Predicate is an integer comparison predicate shared by arith.cmpi,
// index.cmp and llvm.icmp.
type Predicate int

const (
	PredEQ Predicate = iota
	PredNE
	PredSLT
	PredSLE
	PredSGT
	PredSGE
	PredULT
	PredULE
	PredUGT
	PredUGE
)

var predicateNames = [...]string{"eq", "ne", "slt", "sle", "sgt", "sge", "ult", "ule", "ugt", "uge"}

func (p Predicate) String() string {
	if p < 0 || int(p) >= len(predicateNames) {
		return fmt.Sprintf("predicate(%d)", int(p))
	}
	return predicateNames[p]
}

// PredicateOf returns the predicate attribute of a comparison.
func PredicateOf(op *Operation) (Predicate, bool) {
	a, ok := op.Attr("predicate").(*IntegerAttr)
	if !ok || !a.Value.IsInt64() {
		return 0, false
	}
	p := Predicate(a.Value.Int64())
	if p < PredEQ || p > PredUGE {
		return 0, false
	}
	return p, true
}

// IntegerValue returns the value attribute of a constant operation.
func IntegerValue(op *Operation) (*IntegerAttr, bool) {
	switch op.Name() {
	case "arith.constant", "index.constant", "llvm.mlir.constant":
	default:
		return nil, false
	}
	a, ok := op.Attr("value").(*IntegerAttr)
	return a, ok
}

var registerOnce sync.Once

// RegisterAllDialects registers every dialect known to the toolchain. It is
// safe to call repeatedly.
func RegisterAllDialects() {
	registerOnce.Do(func() {
		for _, d := range []*Dialect{
			builtinDialect(), funcDialect(), scfDialect(), cfDialect(),
			arithDialect(), indexDialect(), mathDialect(), memrefDialect(),
			llvmDialect(),
		} {
			RegisterDialect(d)
		}
	})
}

func builtinDialect() *Dialect {
	d := NewDialect("builtin")
	d.AddOp(&OpDefinition{Name: "module", IsolatedFromAbove: true, NoTerminator: true, Verify: verifySymbolTable})
	d.AddOp(&OpDefinition{Name: "unrealized_conversion_cast", Pure: true})
	return d
}

func funcDialect() *Dialect {
	d := NewDialect("func")
	d.AddOp(&OpDefinition{Name: "func", IsolatedFromAbove: true, Verify: verifyFuncFunc})
	d.AddOp(&OpDefinition{Name: "return", Terminator: true, Verify: verifyFuncReturn})
	d.AddOp(&OpDefinition{Name: "call", Verify: verifyFuncCall})
	return d
}

func scfDialect() *Dialect {
	d := NewDialect("scf")
	d.AddOp(&OpDefinition{Name: "if", Verify: verifySCFIf})
	d.AddOp(&OpDefinition{Name: "yield", Terminator: true})
	return d
}

func cfDialect() *Dialect {
	d := NewDialect("cf")
	d.AddOp(&OpDefinition{Name: "br", Terminator: true, Verify: verifyBranch(1)})
	d.AddOp(&OpDefinition{Name: "cond_br", Terminator: true, Verify: verifyCondBranch})
	return d
}

var binaryIntOps = []string{"addi", "subi", "muli", "divui", "divsi", "remui", "remsi", "andi", "ori", "xori", "shli", "shrui", "shrsi"}

func arithDialect() *Dialect {
	d := NewDialect("arith")
	d.AddOp(&OpDefinition{Name: "constant", Pure: true, Verify: verifyConstant})
	for _, name := range binaryIntOps {
		d.AddOp(&OpDefinition{Name: name, Pure: true, Verify: verifySameTypes(2)})
	}
	d.AddOp(&OpDefinition{Name: "cmpi", Pure: true, Verify: verifyCompare})
	d.AddOp(&OpDefinition{Name: "select", Pure: true, Verify: verifySelect})
	d.AddOp(&OpDefinition{Name: "extui", Pure: true, Verify: verifyWidthChange(true)})
	d.AddOp(&OpDefinition{Name: "extsi", Pure: true, Verify: verifyWidthChange(true)})
	d.AddOp(&OpDefinition{Name: "trunci", Pure: true, Verify: verifyWidthChange(false)})
	d.AddOp(&OpDefinition{Name: "index_cast", Pure: true, Verify: verifyArity(1, 1)})
	d.AddOp(&OpDefinition{Name: "index_castui", Pure: true, Verify: verifyArity(1, 1)})
	return d
}

func indexDialect() *Dialect {
	d := NewDialect("index")
	d.AddOp(&OpDefinition{Name: "constant", Pure: true, Verify: verifyConstant})
	for _, name := range []string{"add", "sub", "mul", "divu", "remu"} {
		d.AddOp(&OpDefinition{Name: name, Pure: true, Verify: verifySameTypes(2)})
	}
	d.AddOp(&OpDefinition{Name: "cmp", Pure: true, Verify: verifyCompare})
	d.AddOp(&OpDefinition{Name: "castu", Pure: true, Verify: verifyArity(1, 1)})
	d.AddOp(&OpDefinition{Name: "casts", Pure: true, Verify: verifyArity(1, 1)})
	return d
}

func mathDialect() *Dialect {
	d := NewDialect("math")
	d.AddOp(&OpDefinition{Name: "ctlz", Pure: true, Verify: verifySameTypes(1)})
	d.AddOp(&OpDefinition{Name: "cttz", Pure: true, Verify: verifySameTypes(1)})
	d.AddOp(&OpDefinition{Name: "ctpop", Pure: true, Verify: verifySameTypes(1)})
	d.AddOp(&OpDefinition{Name: "absi", Pure: true, Verify: verifySameTypes(1)})
	return d
}

func memrefDialect() *Dialect {
	d := NewDialect("memref")
	d.AddOp(&OpDefinition{Name: "alloca", Verify: verifyAlloca})
	d.AddOp(&OpDefinition{Name: "load", Verify: verifyMemRefAccess(false)})
	d.AddOp(&OpDefinition{Name: "store", Verify: verifyMemRefAccess(true)})
	d.AddOp(&OpDefinition{Name: "extract_aligned_pointer_as_index", Pure: true, Verify: verifyArity(1, 1)})
	return d
}

var llvmBinaryOps = []string{"add", "sub", "mul", "udiv", "sdiv", "urem", "srem", "and", "or", "xor", "shl", "lshr", "ashr"}

func llvmDialect() *Dialect {
	d := NewDialect("llvm")
	d.AddOp(&OpDefinition{Name: "func", IsolatedFromAbove: true, Verify: verifyLLVMFunc})
	d.AddOp(&OpDefinition{Name: "return", Terminator: true, Verify: verifyLLVMReturn})
	d.AddOp(&OpDefinition{Name: "call", Verify: verifyLLVMCall})
	d.AddOp(&OpDefinition{Name: "br", Terminator: true, Verify: verifyBranch(1)})
	d.AddOp(&OpDefinition{Name: "cond_br", Terminator: true, Verify: verifyCondBranch})
	d.AddOp(&OpDefinition{Name: "mlir.constant", Pure: true, Verify: verifyConstant})
	d.AddOp(&OpDefinition{Name: "mlir.undef", Pure: true, Verify: verifyArity(0, 1)})
	for _, name := range llvmBinaryOps {
		d.AddOp(&OpDefinition{Name: name, Pure: true, Verify: verifySameTypes(2)})
	}
	d.AddOp(&OpDefinition{Name: "icmp", Pure: true, Verify: verifyCompare})
	d.AddOp(&OpDefinition{Name: "select", Pure: true, Verify: verifySelect})
	d.AddOp(&OpDefinition{Name: "zext", Pure: true, Verify: verifyWidthChange(true)})
	d.AddOp(&OpDefinition{Name: "sext", Pure: true, Verify: verifyWidthChange(true)})
	d.AddOp(&OpDefinition{Name: "trunc", Pure: true, Verify: verifyWidthChange(false)})
	d.AddOp(&OpDefinition{Name: "ptrtoint", Pure: true, Verify: verifyArity(1, 1)})
	d.AddOp(&OpDefinition{Name: "inttoptr", Pure: true, Verify: verifyArity(1, 1)})
	d.AddOp(&OpDefinition{Name: "getelementptr", Pure: true, Verify: verifyGEP})
	d.AddOp(&OpDefinition{Name: "alloca", Verify: verifyLLVMAlloca})
	d.AddOp(&OpDefinition{Name: "load", Verify: verifyArity(1, 1)})
	d.AddOp(&OpDefinition{Name: "store", Verify: verifyArity(2, 0)})
	d.AddOp(&OpDefinition{Name: "insertvalue", Pure: true, Verify: verifyInsertValue})
	d.AddOp(&OpDefinition{Name: "extractvalue", Pure: true, Verify: verifyExtractValue})
	d.AddOp(&OpDefinition{Name: "intr.ctlz", Pure: true, Verify: verifySameTypes(1)})
	d.AddOp(&OpDefinition{Name: "intr.cttz", Pure: true, Verify: verifySameTypes(1)})
	d.AddOp(&OpDefinition{Name: "intr.ctpop", Pure: true, Verify: verifySameTypes(1)})
	d.AddOp(&OpDefinition{Name: "intr.abs", Pure: true, Verify: verifySameTypes(1)})
	return d
}

// Per-operation verification hooks.

func verifyArity(operands, results int) func(*Operation) error {
	return func(op *Operation) error {
		if op.NumOperands() != operands {
			return fmt.Errorf("expected %d operands, found %d", operands, op.NumOperands())
		}
		if op.NumResults() != results {
			return fmt.Errorf("expected %d results, found %d", results, op.NumResults())
		}
		return nil
	}
}

// verifySameTypes checks n integer operands and one result of identical type.
func verifySameTypes(n int) func(*Operation) error {
	return func(op *Operation) error {
		if err := verifyArity(n, 1)(op); err != nil {
			return err
		}
		t := op.Result(0).Type()
		if _, ok := IntegerWidth(t); !ok {
			return fmt.Errorf("expected integer-like result, found %s", t)
		}
		for i, v := range op.Operands() {
			if v.Type() != t {
				return fmt.Errorf("operand #%d has type %s, expected %s", i, v.Type(), t)
			}
		}
		return nil
	}
}

func verifyConstant(op *Operation) error {
	if err := verifyArity(0, 1)(op); err != nil {
		return err
	}
	a, ok := op.Attr("value").(*IntegerAttr)
	if !ok {
		return fmt.Errorf("requires an integer 'value' attribute")
	}
	if a.Type != op.Result(0).Type() {
		return fmt.Errorf("value type %s does not match result type %s", a.Type, op.Result(0).Type())
	}
	return nil
}

func verifyCompare(op *Operation) error {
	if err := verifyArity(2, 1)(op); err != nil {
		return err
	}
	if _, ok := PredicateOf(op); !ok {
		return fmt.Errorf("requires a valid 'predicate' attribute")
	}
	if op.Operand(0).Type() != op.Operand(1).Type() {
		return fmt.Errorf("operand types %s and %s differ", op.Operand(0).Type(), op.Operand(1).Type())
	}
	if !IsInteger(op.Result(0).Type(), 1) {
		return fmt.Errorf("result must be i1")
	}
	return nil
}

func verifySelect(op *Operation) error {
	if err := verifyArity(3, 1)(op); err != nil {
		return err
	}
	if !IsInteger(op.Operand(0).Type(), 1) {
		return fmt.Errorf("condition must be i1")
	}
	t := op.Result(0).Type()
	if op.Operand(1).Type() != t || op.Operand(2).Type() != t {
		return fmt.Errorf("branch values must have the result type %s", t)
	}
	return nil
}

func verifyWidthChange(extend bool) func(*Operation) error {
	return func(op *Operation) error {
		if err := verifyArity(1, 1)(op); err != nil {
			return err
		}
		in, ok1 := op.Operand(0).Type().(*IntegerType)
		out, ok2 := op.Result(0).Type().(*IntegerType)
		if !ok1 || !ok2 {
			return fmt.Errorf("operand and result must be integers")
		}
		if extend && out.Width <= in.Width {
			return fmt.Errorf("result %s must be wider than operand %s", out, in)
		}
		if !extend && out.Width >= in.Width {
			return fmt.Errorf("result %s must be narrower than operand %s", out, in)
		}
		return nil
	}
}

func verifyBranch(succs int) func(*Operation) error {
	return func(op *Operation) error {
		if op.NumSuccessors() != succs {
			return fmt.Errorf("expected %d successors, found %d", succs, op.NumSuccessors())
		}
		if op.NumOperands() != 0 {
			return fmt.Errorf("unexpected operands")
		}
		return nil
	}
}

func verifyCondBranch(op *Operation) error {
	if op.NumSuccessors() != 2 {
		return fmt.Errorf("expected 2 successors, found %d", op.NumSuccessors())
	}
	if op.NumOperands() != 1 || !IsInteger(op.Operand(0).Type(), 1) {
		return fmt.Errorf("expected a single i1 condition")
	}
	return nil
}

func verifySCFIf(op *Operation) error {
	if op.NumOperands() != 1 || !IsInteger(op.Operand(0).Type(), 1) {
		return fmt.Errorf("expected a single i1 condition")
	}
	if op.NumRegions() != 2 {
		return fmt.Errorf("expected then and else regions")
	}
	for i, r := range op.Regions() {
		if len(r.blocks) != 1 {
			return fmt.Errorf("region #%d must have exactly one block", i)
		}
		y := r.Entry().Terminator()
		if y == nil || y.Name() != "scf.yield" {
			return fmt.Errorf("region #%d must end in scf.yield", i)
		}
		if !sameTypes(y.OperandTypes(), op.ResultTypes()) {
			return fmt.Errorf("region #%d yields %s, expected %s", i, joinTypes(y.OperandTypes()), joinTypes(op.ResultTypes()))
		}
	}
	return nil
}

func verifyFuncFunc(op *Operation) error {
	ft, ok := functionTypeAttr(op).(*FunctionType)
	if !ok {
		return fmt.Errorf("requires a builtin function_type attribute")
	}
	if op.SymbolName() == "" {
		return fmt.Errorf("requires a sym_name attribute")
	}
	return verifyEntryArgs(op, ft.Inputs)
}

func verifyLLVMFunc(op *Operation) error {
	ft, ok := functionTypeAttr(op).(*LLVMFunctionType)
	if !ok {
		return fmt.Errorf("requires an !llvm.func function_type attribute")
	}
	if op.SymbolName() == "" {
		return fmt.Errorf("requires a sym_name attribute")
	}
	return verifyEntryArgs(op, ft.Params)
}

func functionTypeAttr(op *Operation) Type {
	if a, ok := op.Attr("function_type").(*TypeAttr); ok {
		return a.Type
	}
	return nil
}

// FunctionSignature returns the inputs and results of a func.func or
// llvm.func operation. A void LLVM result yields no results.
func FunctionSignature(op *Operation) (inputs, results []Type, ok bool) {
	switch ft := functionTypeAttr(op).(type) {
	case *FunctionType:
		return ft.Inputs, ft.Results, true
	case *LLVMFunctionType:
		if _, void := ft.Result.(*VoidType); void {
			return ft.Params, nil, true
		}
		return ft.Params, []Type{ft.Result}, true
	}
	return nil, nil, false
}

func verifyEntryArgs(op *Operation, params []Type) error {
	if op.NumRegions() != 1 {
		return fmt.Errorf("expected one body region")
	}
	entry := op.Region(0).Entry()
	if entry == nil {
		if !op.IsPrivate() {
			return fmt.Errorf("external declaration must be private")
		}
		return nil
	}
	if !sameTypes(entry.ArgumentTypes(), params) {
		return fmt.Errorf("entry block arguments (%s) do not match signature (%s)", joinTypes(entry.ArgumentTypes()), joinTypes(params))
	}
	return nil
}

func verifyFuncReturn(op *Operation) error {
	fn := op.ParentOp()
	if fn == nil || fn.Name() != "func.func" {
		return fmt.Errorf("must be nested directly in func.func")
	}
	_, results, _ := FunctionSignature(fn)
	if !sameTypes(op.OperandTypes(), results) {
		return fmt.Errorf("returns (%s), function expects (%s)", joinTypes(op.OperandTypes()), joinTypes(results))
	}
	return nil
}

func verifyLLVMReturn(op *Operation) error {
	fn := op.ParentOp()
	if fn == nil || fn.Name() != "llvm.func" {
		return fmt.Errorf("must be nested directly in llvm.func")
	}
	_, results, _ := FunctionSignature(fn)
	if !sameTypes(op.OperandTypes(), results) {
		return fmt.Errorf("returns (%s), function expects (%s)", joinTypes(op.OperandTypes()), joinTypes(results))
	}
	return nil
}

func verifyCall(op *Operation, calleeOp string) error {
	name := op.Callee()
	if name == "" {
		return fmt.Errorf("requires a 'callee' symbol reference")
	}
	table := op.ParentOfName("builtin.module")
	callee := LookupSymbol(table, name)
	if callee == nil {
		return fmt.Errorf("'%s' does not reference a valid function", name)
	}
	if callee.Name() != calleeOp {
		return fmt.Errorf("'%s' is a %s, expected %s", name, callee.Name(), calleeOp)
	}
	inputs, results, _ := FunctionSignature(callee)
	if !sameTypes(op.OperandTypes(), inputs) {
		return fmt.Errorf("operand types (%s) do not match callee '%s' (%s)", joinTypes(op.OperandTypes()), name, joinTypes(inputs))
	}
	if !sameTypes(op.ResultTypes(), results) {
		return fmt.Errorf("result types (%s) do not match callee '%s' (%s)", joinTypes(op.ResultTypes()), name, joinTypes(results))
	}
	return nil
}

func verifyFuncCall(op *Operation) error { return verifyCall(op, "func.func") }
func verifyLLVMCall(op *Operation) error { return verifyCall(op, "llvm.func") }

func verifySymbolTable(op *Operation) error {
	seen := make(map[string]bool)
	for _, nested := range op.Region(0).Entry().ops {
		name := nested.SymbolName()
		if name == "" {
			continue
		}
		if seen[name] {
			return fmt.Errorf("redefinition of symbol '%s'", name)
		}
		seen[name] = true
	}
	return nil
}

func verifyAlloca(op *Operation) error {
	if err := verifyArity(0, 1)(op); err != nil {
		return err
	}
	if _, ok := op.Result(0).Type().(*MemRefType); !ok {
		return fmt.Errorf("result must be a memref")
	}
	return nil
}

func verifyMemRefAccess(store bool) func(*Operation) error {
	return func(op *Operation) error {
		base := 0
		if store {
			if err := verifyArity(3, 0)(op); err != nil {
				return err
			}
			base = 1
		} else if err := verifyArity(2, 1)(op); err != nil {
			return err
		}
		mt, ok := op.Operand(base).Type().(*MemRefType)
		if !ok {
			return fmt.Errorf("operand #%d must be a memref", base)
		}
		if _, ok := op.Operand(base + 1).Type().(*IndexType); !ok {
			return fmt.Errorf("index operand must be of index type")
		}
		elem := op.Operand(0).Type()
		if !store {
			elem = op.Result(0).Type()
		}
		if elem != mt.Elem {
			return fmt.Errorf("element type %s does not match %s", elem, mt)
		}
		return nil
	}
}

func verifyLLVMAlloca(op *Operation) error {
	if err := verifyArity(1, 1)(op); err != nil {
		return err
	}
	if _, ok := op.Attr("elem_type").(*TypeAttr); !ok {
		return fmt.Errorf("requires an 'elem_type' attribute")
	}
	return nil
}

func verifyGEP(op *Operation) error {
	if err := verifyArity(2, 1)(op); err != nil {
		return err
	}
	if _, ok := op.Attr("elem_type").(*TypeAttr); !ok {
		return fmt.Errorf("requires an 'elem_type' attribute")
	}
	return nil
}

// Position returns the position attribute of insertvalue/extractvalue.
func Position(op *Operation) (int, bool) {
	a, ok := op.Attr("position").(*IntegerAttr)
	if !ok || !a.Value.IsInt64() {
		return 0, false
	}
	return int(a.Value.Int64()), true
}

func verifyInsertValue(op *Operation) error {
	if err := verifyArity(2, 1)(op); err != nil {
		return err
	}
	st, ok := op.Operand(0).Type().(*StructType)
	if !ok || op.Result(0).Type() != st {
		return fmt.Errorf("container and result must be the same struct type")
	}
	pos, ok := Position(op)
	if !ok || pos < 0 || pos >= len(st.Fields) {
		return fmt.Errorf("invalid position")
	}
	if st.Fields[pos] != op.Operand(1).Type() {
		return fmt.Errorf("inserted value type %s does not match field %s", op.Operand(1).Type(), st.Fields[pos])
	}
	return nil
}

func verifyExtractValue(op *Operation) error {
	if err := verifyArity(1, 1)(op); err != nil {
		return err
	}
	st, ok := op.Operand(0).Type().(*StructType)
	if !ok {
		return fmt.Errorf("container must be a struct")
	}
	pos, ok := Position(op)
	if !ok || pos < 0 || pos >= len(st.Fields) {
		return fmt.Errorf("invalid position")
	}
	if st.Fields[pos] != op.Result(0).Type() {
		return fmt.Errorf("result type %s does not match field %s", op.Result(0).Type(), st.Fields[pos])
	}
	return nil
}

func sameTypes(a, b []Type) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
