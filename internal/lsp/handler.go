package lsp

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"sierra2mlir/internal/builder"
	"sierra2mlir/token"
)

var log = commonlog.GetLogger("sierra2mlir.lsp")

// SemanticTokenTypes is the token type legend advertised to clients.
var SemanticTokenTypes = []string{
	"type",
	"function",
	"variable",
	"property",
	"keyword",
	"number",
	"operator",
	"comment",
}

// SemanticTokenModifiers is the modifier legend advertised to clients.
var SemanticTokenModifiers = []string{
	"declaration",
	"definition",
}

// SierraHandler implements the language server for .sierra files.
type SierraHandler struct {
	mu      sync.RWMutex
	content map[string]string
}

func NewSierraHandler() *SierraHandler {
	return &SierraHandler{
		content: make(map[string]string),
	}
}

// Initialize advertises full document sync, completion and semantic tokens.
func (h *SierraHandler) Initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("initialize")

	return &protocol.InitializeResult{
		Capabilities: protocol.ServerCapabilities{
			TextDocumentSync: &protocol.TextDocumentSyncOptions{
				OpenClose: ptrBool(true),
				Change:    ptrSyncKind(protocol.TextDocumentSyncKindFull),
			},
			CompletionProvider: &protocol.CompletionOptions{
				TriggerCharacters: []string{"<", "="},
				ResolveProvider:   ptrBool(false),
			},
			SemanticTokensProvider: &protocol.SemanticTokensOptions{
				Legend: protocol.SemanticTokensLegend{
					TokenTypes:     SemanticTokenTypes,
					TokenModifiers: SemanticTokenModifiers,
				},
				Full: ptrBool(true),
			},
		},
	}, nil
}

func (h *SierraHandler) Initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	log.Info("initialized")
	return nil
}

func (h *SierraHandler) Shutdown(ctx *glsp.Context) error {
	log.Info("shutdown")
	return nil
}

func (h *SierraHandler) SetTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	protocol.SetTraceValue(params.Value)
	return nil
}

// TextDocumentDidOpen publishes diagnostics for the opened document.
func (h *SierraHandler) TextDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	log.Debugf("opened %s", params.TextDocument.URI)
	return h.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
}

func (h *SierraHandler) TextDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	log.Debugf("closed %s", params.TextDocument.URI)

	h.mu.Lock()
	delete(h.content, params.TextDocument.URI)
	h.mu.Unlock()

	notify(ctx, params.TextDocument.URI, []protocol.Diagnostic{})
	return nil
}

// TextDocumentDidChange takes the last full-text change and republishes
// diagnostics.
func (h *SierraHandler) TextDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	log.Debugf("changed %s", params.TextDocument.URI)

	text, ok := "", false
	for _, change := range params.ContentChanges {
		switch c := change.(type) {
		case protocol.TextDocumentContentChangeEventWhole:
			text, ok = c.Text, true
		case protocol.TextDocumentContentChangeEvent:
			if c.Range == nil {
				text, ok = c.Text, true
			}
		}
	}
	if !ok {
		return fmt.Errorf("%s: only full document changes are supported", params.TextDocument.URI)
	}
	return h.update(ctx, params.TextDocument.URI, text)
}

func (h *SierraHandler) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) error {
	path, err := uriToPath(uri)
	if err != nil {
		return err
	}
	h.mu.Lock()
	h.content[uri] = text
	h.mu.Unlock()

	notify(ctx, uri, Diagnose(path, text))
	return nil
}

// TextDocumentCompletion offers keywords and supported libfunc names
// matching the word under the cursor.
func (h *SierraHandler) TextDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, err := h.document(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	prefix := wordBefore(text, params.Position)

	var items []protocol.CompletionItem
	for _, kw := range []string{"type", "libfunc", "return", "fallthrough"} {
		if strings.HasPrefix(kw, prefix) {
			items = append(items, protocol.CompletionItem{
				Label: kw,
				Kind:  ptrCompletionKind(protocol.CompletionItemKindKeyword),
			})
		}
	}
	for _, name := range builder.SupportedLibfuncs() {
		if strings.HasPrefix(name, prefix) {
			items = append(items, protocol.CompletionItem{
				Label:  name,
				Kind:   ptrCompletionKind(protocol.CompletionItemKindFunction),
				Detail: ptrString("libfunc"),
			})
		}
	}
	return &protocol.CompletionList{
		IsIncomplete: false,
		Items:        items,
	}, nil
}

// TextDocumentSemanticTokensFull classifies every token of the document.
func (h *SierraHandler) TextDocumentSemanticTokensFull(ctx *glsp.Context, params *protocol.SemanticTokensParams) (*protocol.SemanticTokens, error) {
	text, err := h.document(params.TextDocument.URI)
	if err != nil {
		return nil, err
	}
	path, _ := uriToPath(params.TextDocument.URI)

	var data []uint32
	var prevLine, prevStart uint32

	// delta-line, delta-start encoding
	for _, t := range collectSemanticTokens(token.Lex(path, text)) {
		deltaLine := t.Line - prevLine
		deltaStart := t.StartChar
		if deltaLine == 0 {
			deltaStart = t.StartChar - prevStart
		}
		data = append(data, deltaLine, deltaStart, t.Length, uint32(t.TokenType), uint32(t.TokenModifiers))
		prevLine = t.Line
		prevStart = t.StartChar
	}

	return &protocol.SemanticTokens{
		Data: data,
	}, nil
}

// document returns the open text of uri, falling back to the file on disk.
func (h *SierraHandler) document(uri protocol.DocumentUri) (string, error) {
	h.mu.RLock()
	text, ok := h.content[uri]
	h.mu.RUnlock()
	if ok {
		return text, nil
	}
	path, err := uriToPath(uri)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return string(content), nil
}

// wordBefore returns the identifier characters left of pos.
func wordBefore(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	end := min(int(pos.Character), len(line))
	start := end
	for start > 0 && isWordByte(line[start-1]) {
		start--
	}
	return line[start:end]
}

func isWordByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// Convert URI to platform-local file path
func uriToPath(rawURI string) (string, error) {
	u, err := url.Parse(rawURI)
	if err != nil {
		return "", fmt.Errorf("invalid URI %s: %w", rawURI, err)
	}

	path := u.Path

	// /C:/... on Windows
	if runtime.GOOS == "windows" && strings.HasPrefix(path, "/") && len(path) > 3 && path[2] == ':' {
		path = path[1:]
	}

	return filepath.FromSlash(path), nil
}

func notify(ctx *glsp.Context, uri protocol.DocumentUri, diagnostics []protocol.Diagnostic) {
	log.Debugf("publishing %d diagnostics for %s", len(diagnostics), uri)
	if ctx == nil || ctx.Notify == nil {
		return
	}
	ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, &protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func ptrBool(b bool) *bool {
	return &b
}

func ptrString(s string) *string {
	return &s
}

func ptrSyncKind(k protocol.TextDocumentSyncKind) *protocol.TextDocumentSyncKind {
	return &k
}

func ptrCompletionKind(k protocol.CompletionItemKind) *protocol.CompletionItemKind {
	return &k
}
