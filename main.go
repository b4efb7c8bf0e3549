// Package main provides the entry point for the selene uploader.
package main

import (
	"os"

	"github.com/KubeRocketCI/selene/cli"
	"github.com/KubeRocketCI/selene/logging"
)

func main() {
	logging.Init("info", "text")

	if err := cli.NewRootCmd(cli.Options{}).Execute(); err != nil {
		os.Exit(1)
	}
}
