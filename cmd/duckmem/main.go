// Package main is the entry point for the duckmem CLI.
package main

import (
	"os"

	"github.com/duckmemory/duckmem/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
