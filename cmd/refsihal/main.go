// refsihal is a command-line front end for the RefSi accelerator simulator
// and its host abstraction layer.
package main

import (
	"context"
	"os"

	"github.com/smoynes/refsi/internal/cli"
	"github.com/smoynes/refsi/internal/cli/cmd"
)

func main() {
	commands := []cli.Command{
		cmd.Demo(),
	}

	commander := cli.New(context.Background()).
		WithCommands(commands).
		WithHelp(cmd.Help(commands)).
		WithLogger(os.Stderr)

	os.Exit(commander.Execute(os.Args[1:]))
}
