// Package main is the entry point for the batchsub CLI.
// The CLI submits one-shot jobs to a remote batch compute pool.
package main

import (
	"os"

	"batchsub/cmd/batchsub/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
