package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func types(toks []Token) []TokenType {
	out := make([]TokenType, len(toks))
	for i, t := range toks {
		out[i] = t.Type
	}
	return out
}

func TestLex(t *testing.T) {
	toks := Lex("t.sierra", "// c\nlibfunc f = function_call<user@a::b>;\nf([0]) -> ([1]);\n")
	assert.Equal(t, []TokenType{
		COMMENT,
		LIBFUNC, IDENT, ASSIGN, IDENT, LT, USER, AT, IDENT, GT, SEMICOLON,
		IDENT, LPAREN, LBRACKET, INT, RBRACKET, RPAREN, ARROW, LPAREN, LBRACKET, INT, RBRACKET, RPAREN, SEMICOLON,
		EOF,
	}, types(toks))

	assert.Equal(t, "a::b", toks[8].Literal)
	assert.Equal(t, 2, toks[1].Pos.Line)
	assert.Equal(t, 1, toks[1].Pos.Column)
	assert.Equal(t, 3, toks[14].Pos.Line)
}

func TestLexIllegal(t *testing.T) {
	toks := Lex("t.sierra", "return([0]) $")
	require.NotEmpty(t, toks)
	assert.Equal(t, TokenType(ILLEGAL), toks[len(toks)-1].Type)
	assert.Equal(t, TokenType(RETURN), toks[0].Type)
}

func TestLookupIdent(t *testing.T) {
	assert.Equal(t, TokenType(TYPE), LookupIdent("type"))
	assert.Equal(t, TokenType(IDENT), LookupIdent("felt252"))
	assert.True(t, IsKeyword(FALLTHROUGH))
	assert.False(t, IsKeyword(IDENT))
}
