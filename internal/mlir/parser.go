package mlir

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var irLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		{"Comment", `//[^\n]*`, nil},
		{"Whitespace", `[ \t\r\n]+`, nil},
		{"String", `"(\\.|[^"\\])*"`, nil},
		{"ValueID", `%[A-Za-z0-9_]+(#[0-9]+)?`, nil},
		{"BlockID", `\^[A-Za-z0-9_]+`, nil},
		{"Symbol", `@([A-Za-z_][A-Za-z0-9_.$]*|"(\\.|[^"\\])*")`, nil},
		{"DialectType", `!llvm\.[a-z]+`, nil},
		// shape prefix of memref types, e.g. the "4x" in memref<4xi64>
		{"Shape", `[0-9]+x`, nil},
		{"IntType", `i[0-9]+\b`, nil},
		{"Arrow", `->`, nil},
		{"Int", `-?[0-9]+`, nil},
		{"Ident", `[A-Za-z_][A-Za-z0-9_.$]*`, nil},
		{"Punct", `[(){}\[\]<>=,:]`, nil},
	},
})

type irFile struct {
	Op *irOp `@@`
}

type irOp struct {
	Pos        lexer.Position
	Results    *irResults     `( @@ "=" )?`
	Name       string         `@String`
	Operands   []string       `"(" ( @ValueID ( "," @ValueID )* )? ")"`
	Successors []*irSuccessor `( "[" @@ ( "," @@ )* "]" )?`
	Regions    []*irRegion    `( "(" @@ ( "," @@ )* ")" )?`
	Attrs      []*irAttr      `( "{" ( @@ ( "," @@ )* )? "}" )?`
	Signature  *irFuncType    `":" @@`
	Loc        *irLoc         `@@?`
}

type irResults struct {
	Name  string `@ValueID`
	Count int    `( ":" @Int )?`
}

type irSuccessor struct {
	Pos   lexer.Position
	Label string          `@BlockID`
	Args  []*irTypedValue `( "(" @@ ( "," @@ )* ")" )?`
}

type irTypedValue struct {
	Name string  `@ValueID ":"`
	Type *irType `@@`
}

type irRegion struct {
	Blocks []*irBlock `"{" @@* "}"`
}

type irBlock struct {
	Pos   lexer.Position
	Label string          `@BlockID`
	Args  []*irTypedValue `( "(" ( @@ ( "," @@ )* )? ")" )? ":"`
	Ops   []*irOp         `@@*`
}

type irAttr struct {
	Name  string       `@Ident`
	Value *irAttrValue `( "=" @@ )?`
}

type irAttrValue struct {
	Str  *string     `  @String`
	Sym  *string     `| @Symbol`
	Int  *irIntAttr  `| @@`
	Func *irFuncType `| @@`
	Type *irType     `| @@`
}

type irIntAttr struct {
	Value string  `@Int ":"`
	Type  *irType `@@`
}

type irType struct {
	Int     string         `  @IntType`
	Index   bool           `| @"index"`
	MemRef  *irMemRef      `| "memref" "<" @@ ">"`
	Dialect *irDialectType `| @@`
}

type irMemRef struct {
	Shape string  `@Shape`
	Elem  *irType `@@`
}

type irDialectType struct {
	Name string         `@DialectType`
	Body *irDialectBody `( "<" @@ ">" )?`
}

type irDialectBody struct {
	Result *irType   `@@?`
	Params []*irType `"(" ( @@ ( "," @@ )* )? ")"`
}

type irFuncType struct {
	Inputs  []*irType      `"(" ( @@ ( "," @@ )* )? ")" "->"`
	Results *irResultTypes `@@`
}

type irResultTypes struct {
	List   []*irType `  "(" ( @@ ( "," @@ )* )? ")"`
	Single *irType   `| @@`
}

type irLoc struct {
	Body *irLocBody `"loc" "(" @@ ")"`
}

type irLocBody struct {
	Unknown bool       `  @"unknown"`
	File    *irFileLoc `| @@`
}

type irFileLoc struct {
	File string `@String ":"`
	Line int    `@Int ":"`
	Col  int    `@Int`
}

var irParser = participle.MustBuild[irFile](
	participle.Lexer(irLexer),
	participle.Elide("Whitespace", "Comment"),
	participle.UseLookahead(4),
)

// Parse reads a module printed by Print or PrintDebug.
func Parse(ctx *Context, filename, src string) (*Module, error) {
	file, err := irParser.ParseString(filename, src)
	if err != nil {
		return nil, err
	}
	b := &irBuilder{ctx: ctx}
	sc := newValueScope()
	op, err := b.buildOp(file.Op, sc, nil)
	if err != nil {
		return nil, err
	}
	if err := sc.close(); err != nil {
		return nil, err
	}
	if op.Name() != "builtin.module" {
		return nil, fmt.Errorf("%s: expected a builtin.module at top level, found %s", file.Op.Pos, op.Name())
	}
	if op.NumRegions() != 1 || len(op.Region(0).blocks) != 1 {
		return nil, fmt.Errorf("%s: builtin.module must have a single block", file.Op.Pos)
	}
	return ModuleFromOperation(ctx, op), nil
}

type valueScope struct {
	values  map[string]*Value
	forward map[string]*Value
}

func newValueScope() *valueScope {
	return &valueScope{values: make(map[string]*Value), forward: make(map[string]*Value)}
}

func (s *valueScope) use(name string, t Type) (*Value, error) {
	if v, ok := s.values[name]; ok {
		if v.Type() != t {
			return nil, fmt.Errorf("use of %s expects type %s, but it has type %s", name, t, v.Type())
		}
		return v, nil
	}
	if v, ok := s.forward[name]; ok {
		return v, nil
	}
	v := &Value{typ: t}
	s.forward[name] = v
	return v, nil
}

func (s *valueScope) define(name string, v *Value) error {
	if _, ok := s.values[name]; ok {
		return fmt.Errorf("redefinition of value %s", name)
	}
	if placeholder, ok := s.forward[name]; ok {
		if placeholder.Type() != v.Type() {
			return fmt.Errorf("%s defined with type %s but used as %s", name, v.Type(), placeholder.Type())
		}
		placeholder.ReplaceAllUsesWith(v)
		delete(s.forward, name)
	}
	s.values[name] = v
	return nil
}

func (s *valueScope) close() error {
	for name := range s.forward {
		return fmt.Errorf("use of undefined value %s", name)
	}
	return nil
}

type blockScope struct {
	blocks  map[string]*Block
	defined map[string]bool
}

func (s *blockScope) get(label string) *Block {
	if b, ok := s.blocks[label]; ok {
		return b
	}
	b := NewBlock()
	s.blocks[label] = b
	return b
}

type irBuilder struct {
	ctx *Context
}

func (p *irBuilder) buildOp(o *irOp, sc *valueScope, blocks *blockScope) (*Operation, error) {
	name, err := strconv.Unquote(o.Name)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid operation name %s", o.Pos, o.Name)
	}
	inputs, results, err := p.funcType(o.Signature)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", o.Pos, err)
	}
	if len(inputs) != len(o.Operands) {
		return nil, fmt.Errorf("%s: %s has %d operands but its signature lists %d", o.Pos, name, len(o.Operands), len(inputs))
	}
	operands := make([]*Value, len(o.Operands))
	for i, id := range o.Operands {
		if operands[i], err = sc.use(id, inputs[i]); err != nil {
			return nil, fmt.Errorf("%s: %w", o.Pos, err)
		}
	}
	attrs := make(map[string]Attribute, len(o.Attrs))
	for _, a := range o.Attrs {
		if attrs[a.Name], err = p.attribute(a.Value); err != nil {
			return nil, fmt.Errorf("%s: attribute %s: %w", o.Pos, a.Name, err)
		}
	}
	op := p.ctx.Create(OperationState{
		Name:       name,
		Operands:   operands,
		Results:    results,
		Attributes: attrs,
		Regions:    len(o.Regions),
		Location:   o.Loc.location(),
	})

	if len(o.Successors) > 0 && blocks == nil {
		return nil, fmt.Errorf("%s: successors outside of a region", o.Pos)
	}
	for _, s := range o.Successors {
		args := make([]*Value, len(s.Args))
		for i, a := range s.Args {
			t, err := p.typ(a.Type)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", s.Pos, err)
			}
			if args[i], err = sc.use(a.Name, t); err != nil {
				return nil, fmt.Errorf("%s: %w", s.Pos, err)
			}
		}
		op.AddSuccessor(blocks.get(s.Label), args...)
	}

	count := 0
	if o.Results != nil {
		count = 1
		if o.Results.Count > 0 {
			count = o.Results.Count
		}
	}
	if count != len(results) {
		return nil, fmt.Errorf("%s: %s names %d results but its signature lists %d", o.Pos, name, count, len(results))
	}
	for i, r := range op.results {
		id := o.Results.Name
		if count > 1 {
			id = fmt.Sprintf("%s#%d", id, i)
		}
		if err := sc.define(id, r); err != nil {
			return nil, fmt.Errorf("%s: %w", o.Pos, err)
		}
	}

	inner := sc
	if op.def != nil && op.def.IsolatedFromAbove {
		inner = newValueScope()
	}
	for i, r := range o.Regions {
		if err := p.buildRegion(r, op.regions[i], inner); err != nil {
			return nil, err
		}
	}
	if inner != sc {
		if err := inner.close(); err != nil {
			return nil, fmt.Errorf("%s: in %s: %w", o.Pos, name, err)
		}
	}
	return op, nil
}

func (p *irBuilder) buildRegion(r *irRegion, region *Region, sc *valueScope) error {
	blocks := &blockScope{blocks: make(map[string]*Block), defined: make(map[string]bool)}
	for _, b := range r.Blocks {
		if blocks.defined[b.Label] {
			return fmt.Errorf("%s: redefinition of block %s", b.Pos, b.Label)
		}
		blocks.defined[b.Label] = true
		blk := blocks.get(b.Label)
		region.AppendBlock(blk)
		for _, a := range b.Args {
			t, err := p.typ(a.Type)
			if err != nil {
				return fmt.Errorf("%s: %w", b.Pos, err)
			}
			if err := sc.define(a.Name, blk.AddArgument(t)); err != nil {
				return fmt.Errorf("%s: %w", b.Pos, err)
			}
		}
		for _, o := range b.Ops {
			op, err := p.buildOp(o, sc, blocks)
			if err != nil {
				return err
			}
			blk.Append(op)
		}
	}
	for label := range blocks.blocks {
		if !blocks.defined[label] {
			return fmt.Errorf("reference to undefined block %s", label)
		}
	}
	return nil
}

func (p *irBuilder) attribute(v *irAttrValue) (Attribute, error) {
	switch {
	case v == nil:
		return &UnitAttr{}, nil
	case v.Str != nil:
		s, err := strconv.Unquote(*v.Str)
		if err != nil {
			return nil, err
		}
		return &StringAttr{Value: s}, nil
	case v.Sym != nil:
		name := strings.TrimPrefix(*v.Sym, "@")
		if strings.HasPrefix(name, `"`) {
			unquoted, err := strconv.Unquote(name)
			if err != nil {
				return nil, err
			}
			name = unquoted
		}
		return &SymbolRefAttr{Name: name}, nil
	case v.Int != nil:
		t, err := p.typ(v.Int.Type)
		if err != nil {
			return nil, err
		}
		n, ok := new(big.Int).SetString(v.Int.Value, 10)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", v.Int.Value)
		}
		return IntAttr(t, n), nil
	case v.Func != nil:
		inputs, results, err := p.funcType(v.Func)
		if err != nil {
			return nil, err
		}
		return &TypeAttr{Type: p.ctx.FunctionType(inputs, results)}, nil
	case v.Type != nil:
		t, err := p.typ(v.Type)
		if err != nil {
			return nil, err
		}
		return &TypeAttr{Type: t}, nil
	}
	return nil, fmt.Errorf("empty attribute")
}

func (p *irBuilder) funcType(f *irFuncType) (inputs, results []Type, err error) {
	if inputs, err = p.types(f.Inputs); err != nil {
		return nil, nil, err
	}
	if f.Results.Single != nil {
		t, err := p.typ(f.Results.Single)
		if err != nil {
			return nil, nil, err
		}
		return inputs, []Type{t}, nil
	}
	results, err = p.types(f.Results.List)
	return inputs, results, err
}

func (p *irBuilder) types(list []*irType) ([]Type, error) {
	types := make([]Type, len(list))
	for i, t := range list {
		var err error
		if types[i], err = p.typ(t); err != nil {
			return nil, err
		}
	}
	return types, nil
}

func (p *irBuilder) typ(t *irType) (Type, error) {
	switch {
	case t.Int != "":
		width, err := strconv.Atoi(strings.TrimPrefix(t.Int, "i"))
		if err != nil || width <= 0 {
			return nil, fmt.Errorf("invalid integer type %s", t.Int)
		}
		return p.ctx.IntegerType(width), nil
	case t.Index:
		return p.ctx.IndexType(), nil
	case t.MemRef != nil:
		size, err := strconv.Atoi(strings.TrimSuffix(t.MemRef.Shape, "x"))
		if err != nil {
			return nil, err
		}
		elem, err := p.typ(t.MemRef.Elem)
		if err != nil {
			return nil, err
		}
		return p.ctx.MemRefType(size, elem), nil
	case t.Dialect != nil:
		return p.dialectType(t.Dialect)
	}
	return nil, fmt.Errorf("empty type")
}

func (p *irBuilder) dialectType(t *irDialectType) (Type, error) {
	switch t.Name {
	case "!llvm.ptr":
		return p.ctx.PointerType(), nil
	case "!llvm.void":
		return p.ctx.VoidType(), nil
	case "!llvm.struct":
		if t.Body == nil || t.Body.Result != nil {
			return nil, fmt.Errorf("malformed struct type")
		}
		fields, err := p.types(t.Body.Params)
		if err != nil {
			return nil, err
		}
		return p.ctx.StructType(fields), nil
	case "!llvm.func":
		if t.Body == nil || t.Body.Result == nil {
			return nil, fmt.Errorf("malformed function type")
		}
		result, err := p.typ(t.Body.Result)
		if err != nil {
			return nil, err
		}
		params, err := p.types(t.Body.Params)
		if err != nil {
			return nil, err
		}
		return p.ctx.LLVMFunctionType(result, params), nil
	}
	return nil, fmt.Errorf("unknown dialect type %s", t.Name)
}

func (l *irLoc) location() Location {
	if l == nil || l.Body == nil || l.Body.File == nil {
		return UnknownLoc
	}
	file, err := strconv.Unquote(l.Body.File.File)
	if err != nil {
		file = l.Body.File.File
	}
	return FileLineCol(file, l.Body.File.Line, l.Body.File.Col)
}
