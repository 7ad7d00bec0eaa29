package main

import (
	"os"

	"github.com/rescale-labs/streamrelay/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
