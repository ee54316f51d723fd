// sshdeck - SFTP file browser and transfer tool
package main

import (
	"github.com/sshdeck/sshdeck/internal/cli"
)

// Version information, injected via LDFLAGS for release builds.
var Version = "v0.1.0-dev"

func main() {
	cli.Version = Version
	cli.Execute()
}
