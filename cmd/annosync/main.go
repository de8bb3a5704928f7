// Command annosync keeps heading numbers and figure indexes of block
// documents in sync with editor transactions.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/annosync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	cmd.SilenceErrors = true
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
