package main

import (
	"fmt"
	"os"

	"github.com/noah-isme/teaching-load-planner/internal/cli"
)

var version = "dev"

func main() {
	cli.SetVersion(version)

	if err := cli.Execute(); err != nil {
		cli.PrintError(err.Error())
		fmt.Fprintln(os.Stderr, "run 'plannerctl --help' for usage")
		os.Exit(1)
	}
}
