package main

import (
	"os"

	"github.com/tako-update/tako/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
