package main

import (
	"os"

	"github.com/user/modforge/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
