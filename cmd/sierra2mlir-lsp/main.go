// SPDX-License-Identifier: Apache-2.0
package main

import (
	"log"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"sierra2mlir/internal/compiler"
	"sierra2mlir/internal/lsp"
)

const lsName = "sierra2mlir"

var (
	version = "0.1.0"
	handler protocol.Handler
)

func main() {
	// 1 = warnings; stdout carries the protocol so logs go to stderr
	commonlog.Configure(1, nil)
	compiler.InitializeToolchain()

	sierraHandler := lsp.NewSierraHandler()
	handler = protocol.Handler{
		Initialize:                     sierraHandler.Initialize,
		Initialized:                    sierraHandler.Initialized,
		Shutdown:                       sierraHandler.Shutdown,
		SetTrace:                       sierraHandler.SetTrace,
		TextDocumentDidOpen:            sierraHandler.TextDocumentDidOpen,
		TextDocumentDidClose:           sierraHandler.TextDocumentDidClose,
		TextDocumentDidChange:          sierraHandler.TextDocumentDidChange,
		TextDocumentCompletion:         sierraHandler.TextDocumentCompletion,
		TextDocumentSemanticTokensFull: sierraHandler.TextDocumentSemanticTokensFull,
	}

	s := server.NewServer(&handler, lsName, false)

	log.Printf("Starting %s language server %s", lsName, version)
	if err := s.RunStdio(); err != nil {
		log.Println("Error starting language server:", err)
		os.Exit(1)
	}
}
