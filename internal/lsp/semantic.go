package lsp

import "sierra2mlir/token"

// SemanticToken is one entry before delta encoding. Line and StartChar are
// 0-based; TokenType indexes SemanticTokenTypes and TokenModifiers is a
// bitmask over SemanticTokenModifiers.
type SemanticToken struct {
	Line           uint32
	StartChar      uint32
	Length         uint32
	TokenType      int
	TokenModifiers int
}

// collectSemanticTokens classifies tokens statement by statement. The
// first token of a statement decides how its identifiers are read.
func collectSemanticTokens(toks []token.Token) []SemanticToken {
	var out []SemanticToken
	var (
		lead  token.TokenType // first token of the current statement
		first = true          // next identifier is the statement's first
		depth int             // nesting of < >
	)
	at := func(i int) token.TokenType {
		if i < 0 || i >= len(toks) {
			return token.EOF
		}
		return toks[i].Type
	}

	for i, t := range toks {
		switch t.Type {
		case token.EOF, token.ILLEGAL:
			return out
		case token.COMMENT:
			out = append(out, makeToken(t, len(t.Literal), "comment", false))
			continue
		case token.SEMICOLON:
			lead, first, depth = "", true, 0
			continue
		case token.LT:
			depth++
			continue
		case token.GT:
			depth = max(depth-1, 0)
			continue
		case token.ARROW, token.ASSIGN:
			out = append(out, makeToken(t, len(t.Literal), "operator", false))
			continue
		}
		if lead == "" {
			lead = t.Type
		}

		switch {
		case token.IsKeyword(t.Type):
			out = append(out, makeToken(t, len(t.Literal), "keyword", false))
		case t.Type == token.INT:
			if at(i-1) == token.LBRACKET && at(i+1) == token.RBRACKET {
				// [n] is one variable
				tok := t
				tok.Pos.Column--
				out = append(out, makeToken(tok, len(t.Literal)+2, "variable", false))
			} else {
				out = append(out, makeToken(t, len(t.Literal), "number", false))
			}
		case t.Type == token.IDENT:
			out = append(out, classifyIdent(toks, i, lead, first, depth))
			if depth == 0 {
				first = false
			}
		}
	}
	return out
}

func classifyIdent(toks []token.Token, i int, lead token.TokenType, first bool, depth int) SemanticToken {
	t := toks[i]
	prev := func(n int) token.TokenType {
		if i-n < 0 {
			return token.EOF
		}
		return toks[i-n].Type
	}
	next := token.TokenType(token.EOF)
	if i+1 < len(toks) {
		next = toks[i+1].Type
	}
	n := len(t.Literal)

	if depth > 0 {
		if prev(1) == token.AT && prev(2) == token.USER {
			return makeToken(t, n, "function", false)
		}
		return makeToken(t, n, "type", false)
	}
	switch lead {
	case token.TYPE:
		if next == token.COLON {
			return makeToken(t, n, "property", false)
		}
		if prev(1) == token.COLON {
			// attribute value
			return makeToken(t, n, "keyword", false)
		}
		return makeToken(t, n, "type", prev(1) == token.TYPE)
	case token.LIBFUNC:
		return makeToken(t, n, "function", prev(1) == token.LIBFUNC)
	}
	if first {
		if next == token.AT {
			return makeToken(t, n, "function", true)
		}
		return makeToken(t, n, "function", false)
	}
	return makeToken(t, n, "type", false)
}

func makeToken(t token.Token, length int, tokenType string, declaration bool) SemanticToken {
	mods := 0
	if declaration {
		mods = 1 << indexOf("declaration", SemanticTokenModifiers)
	}
	return SemanticToken{
		Line:           uint32(t.Pos.Line - 1),
		StartChar:      uint32(t.Pos.Column - 1),
		Length:         uint32(length),
		TokenType:      indexOf(tokenType, SemanticTokenTypes),
		TokenModifiers: mods,
	}
}

// indexOf returns the index of a string in a slice, or 0 if not found
func indexOf(target string, list []string) int {
	for i, v := range list {
		if v == target {
			return i
		}
	}
	return 0
}
