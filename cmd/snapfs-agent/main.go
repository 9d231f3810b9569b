// Command snapfs-agent consumes file events from a SnapFS gateway and
// applies them to a relational store.
package main

import (
	"fmt"
	"os"

	"github.com/snapfsio/snapfs-agent-mysql/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
