package grammar

import "github.com/alecthomas/participle/v2/lexer"

// Program is a textual Sierra program. Sections appear in a fixed order:
// type declarations, libfunc declarations, statements, then functions.
type Program struct {
	Pos        lexer.Position
	Types      []*TypeDeclaration    `@@*`
	Libfuncs   []*LibfuncDeclaration `@@*`
	Statements []*Statement          `@@*`
	Functions  []*Function           `@@*`
}

// Identifier is either a numeric id such as `[3]` or a debug name with
// optional generic arguments such as `store_temp<felt252>`.
type Identifier struct {
	Pos     lexer.Position
	Numeric *uint64       `  "[" @Integer "]"`
	Name    string        `| @Ident`
	Args    []*GenericArg `  ( "<" @@ ( "," @@ )* ">" )?`
}

type GenericArg struct {
	Pos      lexer.Position
	UserFunc string      `  "user" "@" @Ident`
	UserType string      `| "ut" "@" @Ident`
	Value    string      `| @Integer`
	Ref      *Identifier `| @@`
}

type TypeDeclaration struct {
	Pos        lexer.Position
	ID         *Identifier      `"type" @@ "="`
	Long       *Identifier      `@@`
	Attributes []*TypeAttribute `( "[" @@ ( "," @@ )* "]" )? ";"`
}

type TypeAttribute struct {
	Key   string `@Ident ":"`
	Value string `@( Ident | Integer )`
}

type LibfuncDeclaration struct {
	Pos  lexer.Position
	ID   *Identifier `"libfunc" @@ "="`
	Long *Identifier `@@ ";"`
}

type Statement struct {
	Pos        lexer.Position
	Return     *Return     `  @@`
	Invocation *Invocation `| @@`
}

type Return struct {
	Vars []*Var `"return" "(" ( @@ ( "," @@ )* )? ")" ";"`
}

// Invocation calls a libfunc. The `-> (...)` form has a single fallthrough
// branch; the `{ ... }` form lists every branch explicitly.
type Invocation struct {
	Pos      lexer.Position
	Libfunc  *Identifier `@@`
	Args     []*Var      `"(" ( @@ ( "," @@ )* )? ")"`
	Arrow    bool        `( @"->"`
	Results  []*Var      `  "(" ( @@ ( "," @@ )* )? ")"`
	Branches []*Branch   `| "{" @@* "}" ) ";"`
}

type Branch struct {
	Pos         lexer.Position
	Fallthrough bool    `( @"fallthrough"`
	Target      *uint64 `| @Integer )`
	Results     []*Var  `"(" ( @@ ( "," @@ )* )? ")"`
}

type Var struct {
	Pos lexer.Position
	ID  uint64 `"[" @Integer "]"`
}

type Function struct {
	Pos     lexer.Position
	Name    string        `@Ident "@"`
	Entry   uint64        `@Integer`
	Params  []*Param      `"(" ( @@ ( "," @@ )* )? ")"`
	Returns []*Identifier `"->" "(" ( @@ ( "," @@ )* )? ")" ";"`
}

type Param struct {
	Var  *Var        `@@ ":"`
	Type *Identifier `@@`
}
