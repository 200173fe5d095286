// Package main is the entry point for the omega CLI.
// Omega runs a hierarchy of cognitive loops at cadences from milliseconds
// to years, with health monitoring and circuit breaking around them.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tOgg1/omega/internal/cli"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := cli.Execute(version, commit, date); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			if !exitErr.Printed {
				fmt.Fprintf(os.Stderr, "Error: %v\n", exitErr.Err)
			}
			os.Exit(exitErr.Code)
		}

		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
