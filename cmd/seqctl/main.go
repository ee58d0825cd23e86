// Command seqctl allocates and administers year-scoped identifiers from the
// command line.
package main

import (
	"fmt"
	"os"

	"portalid/internal/cli/commands"
	"portalid/internal/cli/ui"
)

func main() {
	if err := commands.NewRootCommand(commands.Options{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render("error: "+err.Error()))
		os.Exit(commands.ExitCode(err))
	}
}
