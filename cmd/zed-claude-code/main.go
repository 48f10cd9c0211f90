// Package main provides the entry point for the zed-claude-code bridge.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/suxxes/zed-claude-code-sub000/cmd/zed-claude-code/commands"
)

func main() {
	// Optional .env for local development; missing files are fine.
	_ = godotenv.Load()

	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
