package main

import (
	"os"

	"github.com/adalundhe/notepatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(cmd.ExitCode(err))
	}
}
