// Command searchdb runs fingerprint neighbor searches against a molecule
// database.
package main

import (
	"os"

	"github.com/GUI0609/rdkit/internal/interfaces/cli"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func init() {
	cli.Version = version
	cli.GitCommit = commit
	cli.BuildDate = buildDate
}

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(errors.ExitCode(err))
	}
}
