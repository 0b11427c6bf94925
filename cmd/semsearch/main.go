// Package main provides the entry point for the semsearch CLI.
package main

import (
	"os"

	"github.com/marketlink/semsearch/cmd/semsearch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
