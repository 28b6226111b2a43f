package main

import (
	"os"

	"github.com/conneroisu/flowtree/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
