package main

import (
	"os"

	"github.com/forgewright/steward/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	cli.SetVersion(Version)
	os.Exit(cli.Execute())
}
