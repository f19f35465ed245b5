// Command portalctl signs in to a VejaPRO portal and sends authenticated
// requests from the terminal.
package main

import (
	"os"

	"github.com/vejapro/portalauth/cmd/portalctl/cmd"
)

// version is set at build time via ldflags
var version = "dev"

func main() {
	cmd.SetVersion(version)
	os.Exit(cmd.Execute())
}
