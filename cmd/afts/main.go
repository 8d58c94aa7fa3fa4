package main

import (
	"os"

	"github.com/rustyeddy/afts/cmd/afts/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
