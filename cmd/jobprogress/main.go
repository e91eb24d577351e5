package main

import (
	"fmt"
	"os"

	"github.com/mengeric/jobprogress/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
