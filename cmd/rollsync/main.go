// Package main is the entry point for rollsync.
package main

import (
	"os"

	"github.com/campusworks/rollsync/cmd/rollsync/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
