package main

import (
	"github.com/voltmoto/site/backend/internal/cli"
)

var (
	// Version information - set by build flags
	version = "dev"
	commit  = "unknown"
)

func main() {
	cli.SetVersion(version, commit)
	cli.Execute()
}
