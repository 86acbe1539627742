// Command dialogbot runs the multi-account dialog automation service.
package main

import (
	"fmt"
	"os"

	"github.com/m3rciful/dialogbot/cmd/dialogbot/commands"
	"github.com/m3rciful/dialogbot/core/buildinfo"
)

func main() {
	if err := commands.NewRootCmd(buildinfo.String()).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
