package main

import (
	"fmt"
	"os"

	"impact-escrow/escrow-engine/cmd/impactd/commands"
)

func main() {
	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
