// Package main provides the entry point for the claudebridge CLI.
package main

import (
	"fmt"
	"os"

	"github.com/maxfraieho/claude-notifer-and-bot-sub001/cmd/claudebridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
