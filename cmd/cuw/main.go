// Package main is the entry point for the claude-usage-watch CLI.
package main

import "github.com/j-veylop/claude-usage-watch/internal/cli"

func main() {
	cli.Execute()
}
