package main

import (
	"os"

	"github.com/drblury/cloudmesh/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
