package main

import (
	"os"

	"github.com/driftwatch/driftwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
