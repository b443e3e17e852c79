// ti-options – typing indicator and reply options service.
//
// Entry point: initializes the Cobra root command; with no subcommand the
// server starts.
package main

import (
	"os"

	"github.com/YJPM/ti-options/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
