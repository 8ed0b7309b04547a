// Command casr converts AI coding-assistant session transcripts between
// providers so a conversation can be resumed in a different agent.
package main

import (
	"fmt"
	"os"

	"github.com/casr-dev/casr/cmd/casr/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
