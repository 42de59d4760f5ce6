package main

import (
	"os"

	"github.com/labring/testreport/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
