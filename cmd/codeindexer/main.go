// Package main is the entry point for the codeindexer CLI.
package main

import (
	"os"

	"github.com/localci/codeindexer/cmd/codeindexer/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
