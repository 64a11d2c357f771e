package lsp_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"sierra2mlir/internal/lsp"
)

func fixtureURI(t *testing.T, name string) string {
	absPath, err := filepath.Abs(filepath.Join("../../testdata/programs", name))
	require.NoError(t, err, "Failed to get absolute path")
	return "file://" + filepath.ToSlash(absPath)
}

// recorder captures published diagnostics.
type recorder struct {
	published []*protocol.PublishDiagnosticsParams
}

func (r *recorder) context() *glsp.Context {
	return &glsp.Context{Notify: func(method string, params any) {
		if method == protocol.ServerTextDocumentPublishDiagnostics {
			r.published = append(r.published, params.(*protocol.PublishDiagnosticsParams))
		}
	}}
}

func (r *recorder) last() []protocol.Diagnostic {
	if len(r.published) == 0 {
		return nil
	}
	return r.published[len(r.published)-1].Diagnostics
}

func open(t *testing.T, h *lsp.SierraHandler, r *recorder, uri, text string) {
	t.Helper()
	require.NoError(t, h.TextDocumentDidOpen(r.context(), &protocol.DidOpenTextDocumentParams{
		TextDocument: protocol.TextDocumentItem{URI: uri, LanguageID: "sierra", Text: text},
	}))
}

func TestTextDocumentSemanticTokensFull(t *testing.T) {
	handler := lsp.NewSierraHandler()

	ctx := &glsp.Context{}
	params := &protocol.SemanticTokensParams{
		TextDocument: protocol.TextDocumentIdentifier{
			URI: fixtureURI(t, "add.sierra"),
		},
	}

	tokens, err := handler.TextDocumentSemanticTokensFull(ctx, params)
	require.NoError(t, err, "TextDocumentSemanticTokensFull returned error")
	require.NotNil(t, tokens, "Returned tokens should not be nil")

	decoded, err := decodeSemanticTokens(tokens.Data)
	require.NoError(t, err, "Failed to decode semantic tokens")
	require.Len(t, decoded, 58)

	assertToken(t, &decoded[0], 1, 1, 4, "keyword", nil)
	assertToken(t, &decoded[1], 1, 6, 7, "type", []string{"declaration"})
	assertToken(t, &decoded[2], 1, 14, 1, "operator", nil)
	assertToken(t, &decoded[3], 1, 16, 7, "type", nil)
	assertToken(t, &decoded[4], 1, 25, 8, "property", nil)
	assertToken(t, &decoded[5], 1, 35, 4, "keyword", nil)
	assertToken(t, &decoded[12], 3, 1, 7, "keyword", nil)
	assertToken(t, &decoded[13], 3, 9, 13, "function", []string{"declaration"})
	assertToken(t, &decoded[14], 3, 23, 1, "number", nil)
	assertToken(t, &decoded[16], 3, 28, 13, "function", nil)
	assertToken(t, &decoded[29], 6, 9, 10, "function", []string{"declaration"})
	assertToken(t, &decoded[30], 6, 20, 7, "type", nil)
	assertToken(t, &decoded[34], 8, 1, 13, "function", nil)
	assertToken(t, &decoded[36], 8, 20, 2, "operator", nil)
	assertToken(t, &decoded[37], 8, 24, 3, "variable", nil)
	assertToken(t, &decoded[len(decoded)-4], 14, 1, 14, "function", []string{"declaration"})
	assertToken(t, &decoded[len(decoded)-1], 14, 24, 7, "type", nil)
}

func TestDiagnosticsOnOpen(t *testing.T) {
	h := lsp.NewSierraHandler()
	r := &recorder{}

	source, err := os.ReadFile("../../testdata/programs/add.sierra")
	require.NoError(t, err)
	open(t, h, r, fixtureURI(t, "add.sierra"), string(source))
	require.Len(t, r.published, 1)
	assert.Empty(t, r.last())

	branch, err := os.ReadFile("../../testdata/programs/branch.sierra")
	require.NoError(t, err)
	open(t, h, r, fixtureURI(t, "branch.sierra"), string(branch))
	require.Len(t, r.last(), 1)
	d := r.last()[0]
	assert.Equal(t, protocol.DiagnosticSeverityWarning, *d.Severity)
	assert.Equal(t, "S0801", d.Code.Value)
	assert.Equal(t, uint32(41), d.Range.Start.Line)
	assert.Equal(t, uint32(len("branch::branch::unused@17")), d.Range.End.Character)
}

func TestDiagnosticsOnChange(t *testing.T) {
	h := lsp.NewSierraHandler()
	r := &recorder{}
	uri := "file:///tmp/edit.sierra"

	open(t, h, r, uri, "type felt252 = ;\n")
	require.Len(t, r.last(), 1)
	assert.Equal(t, "S0001", r.last()[0].Code.Value)
	assert.Equal(t, uint32(0), r.last()[0].Range.Start.Line)

	text := "type felt252 = felt252;\nlibfunc d = felt252_ad;\nd([0]) -> ([1]);\nreturn([1]);\nf@0([0]: felt252) -> (felt252);\n"
	require.NoError(t, h.TextDocumentDidChange(r.context(), &protocol.DidChangeTextDocumentParams{
		ContentChanges: []any{protocol.TextDocumentContentChangeEventWhole{Text: text}},
		TextDocument:   protocol.VersionedTextDocumentIdentifier{TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri}},
	}))
	require.Len(t, r.last(), 1)
	d := r.last()[0]
	assert.Equal(t, "S0201", d.Code.Value)
	assert.Equal(t, protocol.Position{Line: 1, Character: 0}, d.Range.Start)
	assert.Contains(t, d.Message, "did you mean 'felt252_add'?")

	partial := protocol.TextDocumentContentChangeEvent{Range: &protocol.Range{}, Text: "x"}
	err := h.TextDocumentDidChange(r.context(), &protocol.DidChangeTextDocumentParams{
		ContentChanges: []any{partial},
		TextDocument:   protocol.VersionedTextDocumentIdentifier{TextDocumentIdentifier: protocol.TextDocumentIdentifier{URI: uri}},
	})
	assert.Error(t, err)

	require.NoError(t, h.TextDocumentDidClose(r.context(), &protocol.DidCloseTextDocumentParams{
		TextDocument: protocol.TextDocumentIdentifier{URI: uri},
	}))
	assert.Empty(t, r.last())
}

func TestCompletion(t *testing.T) {
	h := lsp.NewSierraHandler()
	r := &recorder{}
	uri := "file:///tmp/complete.sierra"
	open(t, h, r, uri, "libfunc a = felt252_a\nlib")

	complete := func(line, char uint32) []string {
		res, err := h.TextDocumentCompletion(&glsp.Context{}, &protocol.CompletionParams{
			TextDocumentPositionParams: protocol.TextDocumentPositionParams{
				TextDocument: protocol.TextDocumentIdentifier{URI: uri},
				Position:     protocol.Position{Line: line, Character: char},
			},
		})
		require.NoError(t, err)
		var labels []string
		for _, item := range res.(*protocol.CompletionList).Items {
			labels = append(labels, item.Label)
		}
		return labels
	}

	assert.Equal(t, []string{"felt252_add"}, complete(0, 21))
	assert.Equal(t, []string{"libfunc"}, complete(1, 3))
	assert.Contains(t, complete(0, 12), "u128_overflowing_add")
}

func TestInitializeAdvertisesLegend(t *testing.T) {
	res, err := lsp.NewSierraHandler().Initialize(&glsp.Context{}, &protocol.InitializeParams{})
	require.NoError(t, err)
	caps := res.(*protocol.InitializeResult).Capabilities
	legend := caps.SemanticTokensProvider.(*protocol.SemanticTokensOptions).Legend
	assert.Equal(t, lsp.SemanticTokenTypes, legend.TokenTypes)
	assert.NotNil(t, caps.CompletionProvider)
}

type DecodedToken struct {
	Index     int
	Line      uint32
	Char      uint32
	Length    uint32
	Type      string
	Modifiers []string
}

func decodeSemanticTokens(raw []uint32) ([]DecodedToken, error) {
	if len(raw)%5 != 0 {
		return nil, fmt.Errorf("raw token data length %d is not a multiple of 5", len(raw))
	}

	var (
		decoded []DecodedToken
		line    uint32
		char    uint32
	)

	for i := 0; i < len(raw); i += 5 {
		deltaLine := raw[i]
		deltaStart := raw[i+1]
		length := raw[i+2]
		tokenTypeIdx := raw[i+3]
		tokenModMask := raw[i+4]

		if deltaLine == 0 {
			char += deltaStart
		} else {
			line += deltaLine
			char = deltaStart
		}

		var modifiers []string
		for j, name := range lsp.SemanticTokenModifiers {
			if tokenModMask&(1<<j) != 0 {
				modifiers = append(modifiers, name)
			}
		}

		decoded = append(decoded, DecodedToken{
			Index:     i / 5,
			Line:      line + 1, // LSP uses 0-based indexing
			Char:      char + 1,
			Length:    length,
			Type:      lsp.SemanticTokenTypes[tokenTypeIdx],
			Modifiers: modifiers,
		})
	}

	return decoded, nil
}

func assertToken(t *testing.T, token *DecodedToken, expectedLine, expectedChar, expectedLength uint32, expectedType string, expectedModifiers []string) {
	require.Equal(t, expectedLine, token.Line, "line mismatch (expected line %d)", expectedLine)
	require.Equal(t, expectedChar, token.Char, "char mismatch (expected char %d)", expectedChar)
	require.Equal(t, expectedLength, token.Length, "length mismatch")
	require.Equal(t, expectedType, token.Type, "type mismatch")
	require.ElementsMatch(t, expectedModifiers, token.Modifiers, "modifiers mismatch")
}
