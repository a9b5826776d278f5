// Package main is the entry point for the hlssplit recorder.
package main

import (
	"os"

	"github.com/jmylchreest/hlssplit/cmd/hlssplit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
