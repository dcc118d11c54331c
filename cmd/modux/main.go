// Command modux validates, inspects and exercises modux model manifests.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/modux/internal/cli"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cli.Version = fmt.Sprintf("%s (%s)", version, commit)

	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands print their own structured output; only report errors
		// that carry no exit code of their own.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) || exitErr.Code == cli.ExitCommandError {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
