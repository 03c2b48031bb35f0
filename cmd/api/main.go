package main

import (
	"os"

	"github.com/vedant-gala/Credora/internal/commands"
)

func main() {
	if err := commands.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
