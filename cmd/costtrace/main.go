// Package main is the entry point for the costtrace CLI.
package main

import (
	"context"
	"fmt"
	"os"

	"costtrace/internal/cli"
)

func main() {
	if err := cli.RootCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
