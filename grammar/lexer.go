package grammar

import (
	"github.com/alecthomas/participle/v2/lexer"
)

var SierraLexer = lexer.MustStateful(lexer.Rules{
	"Root": {
		// Comments
		{"Comment", `//[^\n]*`, nil},

		// Paths are a single token so that `a::b@0(` and `a::b(` are told
		// apart on the token that follows.
		{"Ident", `[\pL_][\pL\pM\pN_]*(::[\pL_][\pL\pM\pN_]*)*`, nil},

		{"Arrow", `->`, nil},

		// Integer literals, negative values appear in const generic args
		{"Integer", `-?[0-9]+`, nil},

		// Punctuation
		{"Punctuation", `[{}[\]:,;<>()=@]`, nil},

		// Whitespace
		{"Whitespace", `[ \t\r\n]+`, nil},
	},
})
