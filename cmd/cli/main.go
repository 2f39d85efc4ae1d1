// Package main is the entry point for labctl.
// labctl is the terminal client for the vlem controller API.
package main

import (
	"os"

	"vlem/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
