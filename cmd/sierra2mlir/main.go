// SPDX-License-Identifier: Apache-2.0
package main

import (
	"os"

	_ "github.com/tliron/commonlog/simple"

	"sierra2mlir/internal/cli"
	"sierra2mlir/internal/compiler"
)

func main() {
	compiler.InitializeToolchain()
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
