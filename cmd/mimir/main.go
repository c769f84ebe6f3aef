// Package main provides the entry point for the mimir CLI.
package main

import (
	"os"

	"github.com/lming/mimir/cmd/mimir/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
