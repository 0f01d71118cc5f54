// Package main is the entry point for the docplane CLI.
// The CLI is the terminal tool for starting and watching processes on the docplane API.
package main

import (
	"os"

	"docplane/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
