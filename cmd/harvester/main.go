// The main package for the harvester executable.
package main

import (
	"os"

	"github.com/scholarwatch/harvester/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
