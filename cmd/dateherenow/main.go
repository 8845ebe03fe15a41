package main

import (
	"os"

	"github.com/shek-hrd/dateherenow/cmd/dateherenow/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
