// Package main is the entry point for the gauntlet CLI.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Iron-Ham/gauntlet/internal/cmd"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and maps its error to an exit code. Failed tests
// exit 1 without an extra message because the report already says so.
func run(args []string, stdout, stderr io.Writer) int {
	root := cmd.NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.Execute()
	switch {
	case err == nil:
		return 0
	case errors.Is(err, cmd.ErrTestsFailed):
		return 1
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
}
