// Package token splits Sierra source into classified tokens for editor
// tooling. Parsing proper goes through the grammar package.
package token

import (
	"github.com/alecthomas/participle/v2/lexer"

	"sierra2mlir/grammar"
)

type TokenType string

type Token struct {
	Type    TokenType
	Literal string
	Pos     lexer.Position
}

const (
	ILLEGAL = "ILLEGAL"
	EOF     = "EOF"

	IDENT   = "IDENT"
	INT     = "INT"
	COMMENT = "COMMENT"

	ARROW     = "->"
	ASSIGN    = "="
	COMMA     = ","
	SEMICOLON = ";"
	COLON     = ":"
	AT        = "@"
	LT        = "<"
	GT        = ">"
	LPAREN    = "("
	RPAREN    = ")"
	LBRACE    = "{"
	RBRACE    = "}"
	LBRACKET  = "["
	RBRACKET  = "]"

	// Keywords
	TYPE        = "TYPE"
	LIBFUNC     = "LIBFUNC"
	RETURN      = "RETURN"
	FALLTHROUGH = "FALLTHROUGH"
	USER        = "USER"
	USER_TYPE   = "USER_TYPE"
)

var keywords = map[string]TokenType{
	"type":        TYPE,
	"libfunc":     LIBFUNC,
	"return":      RETURN,
	"fallthrough": FALLTHROUGH,
	"user":        USER,
	"ut":          USER_TYPE,
}

// LookupIdent returns the keyword type of ident, or IDENT.
func LookupIdent(ident string) TokenType {
	if tok, ok := keywords[ident]; ok {
		return tok
	}
	return IDENT
}

// IsKeyword reports whether t is a keyword type.
func IsKeyword(t TokenType) bool {
	for _, k := range keywords {
		if k == t {
			return true
		}
	}
	return false
}

var symbolNames = func() map[lexer.TokenType]string {
	names := make(map[lexer.TokenType]string)
	for name, t := range grammar.SierraLexer.Symbols() {
		names[t] = name
	}
	return names
}()

// Lex returns the tokens of src without whitespace. Lexing stops at the
// first character no rule matches; the tokens read so far are returned
// followed by an ILLEGAL token at that position.
func Lex(filename, src string) []Token {
	var out []Token
	lex, err := grammar.SierraLexer.LexString(filename, src)
	if err != nil {
		return []Token{{Type: ILLEGAL, Pos: lexer.Position{Filename: filename, Line: 1, Column: 1}}}
	}
	for {
		t, err := lex.Next()
		if err != nil {
			pos := lexer.Position{Filename: filename, Line: 1, Column: 1}
			if len(out) > 0 {
				pos = out[len(out)-1].Pos
			}
			if e, ok := err.(interface{ Position() lexer.Position }); ok {
				pos = e.Position()
			}
			return append(out, Token{Type: ILLEGAL, Pos: pos})
		}
		if t.EOF() {
			return append(out, Token{Type: EOF, Pos: t.Pos})
		}
		var typ TokenType
		switch symbolNames[t.Type] {
		case "Whitespace":
			continue
		case "Comment":
			typ = COMMENT
		case "Ident":
			typ = LookupIdent(t.Value)
		case "Integer":
			typ = INT
		case "Arrow":
			typ = ARROW
		case "Punctuation":
			typ = TokenType(t.Value)
		default:
			typ = ILLEGAL
		}
		out = append(out, Token{Type: typ, Literal: t.Value, Pos: t.Pos})
	}
}
