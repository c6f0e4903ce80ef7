package main

import (
	"fmt"
	"os"

	"github.com/dshills/nodequeue/internal/cli"
	"github.com/dshills/nodequeue/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	root := cli.NewRootCommand(fmt.Sprintf("%s (built %s, %s driver %s)", version, buildTime, storage.BuildMode, storage.DriverName))
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
