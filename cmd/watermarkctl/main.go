// Command watermarkctl is the operator CLI for the watermark engine: embed
// and verify content against a running instance, inspect the registry,
// mint API keys, and run a security audit. One cobra.Command per file,
// wired into a shared root command, styled with fatih/color and
// charmbracelet/lipgloss.
package main

import (
	"os"

	"github.com/aegiswm/watermark/cmd/watermarkctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
